// Package cache defines the capacity-bounded disk store responsible for
// translating (remote URL, identifier) pairs into StoragePath/<identifier>
// files. The store exposes fetch/size/clear primitives with safe semantics
// (download to hidden temp file + rename) and runs an oldest-first eviction
// sweep whenever total size exceeds the configured maximum. The filesystem
// listing is the only index: size and entry counts are recomputed from the
// directory on demand, which keeps the store crash-safe at O(n) scan cost.
// All operations on one store serialize on a single directory-wide mutex so
// eviction scans never interleave with concurrent mutation.
package cache
