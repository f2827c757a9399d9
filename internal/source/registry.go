// Package source maintains the allow-list of remote origins the cache may
// download from. Fetch URLs are resolved against configured [[Source]]
// entries before any network I/O happens; unknown origins are rejected.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/clipcache/clipcache/internal/config"
	"github.com/clipcache/clipcache/internal/fetch"
)

// Route 将 Source 配置与解析后的 Origin URL 聚合在一起，供回源层直接复用。
type Route struct {
	// Config 是用户在 config.toml 中声明的 Source 字段副本，避免外部修改。
	Config config.SourceConfig
	// Origin 在构造 Registry 时提前解析完成，便于后续请求快速比对。
	Origin *url.URL
}

// Registry 提供 fetch URL 到已配置 Source 的查询能力。
type Registry struct {
	routes  map[string]*Route
	ordered []*Route
}

// NewRegistry 根据配置构建 Origin 映射。调用方应在启动阶段创建一次并复用。
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &Registry{
		routes: make(map[string]*Route, len(cfg.Sources)),
	}

	for _, src := range cfg.Sources {
		parsed, err := url.Parse(src.Origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin for source %s: %w", src.Name, err)
		}

		key := originKey(parsed)
		if key == "" {
			return nil, fmt.Errorf("invalid origin for source %s", src.Name)
		}
		if _, exists := registry.routes[key]; exists {
			return nil, fmt.Errorf("duplicate origin mapping detected for %s", key)
		}

		route := &Route{Config: src, Origin: parsed}
		registry.routes[key] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据完整的 fetch URL 查找对应 Source；来源未注册时返回 false。
func (r *Registry) Lookup(rawURL string) (*Route, bool) {
	if r == nil {
		return nil, false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}

	key := originKey(parsed)
	if key == "" {
		return nil, false
	}

	route, ok := r.routes[key]
	return route, ok
}

// List 返回当前注册的 Route 列表（按配置定义的顺序），用于调试或 /-/stats 输出。
func (r *Registry) List() []Route {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}

	result := make([]Route, len(r.ordered))
	for i, route := range r.ordered {
		result[i] = *route
	}
	return result
}

// CredentialsFor 实现 fetch.CredentialSource：命中已配置来源且带凭证时返回。
func (r *Registry) CredentialsFor(u *url.URL) (fetch.Credentials, bool) {
	if r == nil || u == nil {
		return fetch.Credentials{}, false
	}

	route, ok := r.routes[originKey(u)]
	if !ok || !route.Config.HasCredentials() {
		return fetch.Credentials{}, false
	}
	return fetch.Credentials{
		Username: route.Config.Username,
		Password: route.Config.Password,
	}, true
}

// originKey 归一化 scheme://host[:port]，host 统一小写并去掉结尾的点。
func originKey(u *url.URL) string {
	if u == nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	host := strings.ToLower(strings.TrimSuffix(u.Host, "."))
	return u.Scheme + "://" + host
}
