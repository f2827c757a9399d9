// Package server hosts the Fiber HTTP service and request middleware chain
// that front the disk cache. It bootstraps Fiber, attaches logging and
// recovery middlewares, injects the asset handler, and exposes router
// constructors that other packages (main, routes) can reuse. Future phases
// may extend this package with TLS, metrics endpoints, or admin surfaces, so
// keep exports narrow and accept explicit dependencies.
package server
