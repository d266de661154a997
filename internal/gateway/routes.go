package gateway

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Route maps a public path prefix to the service that owns it. Upstream is
// the path prefix the service itself serves.
type Route struct {
	Prefix   string `json:"prefix"`
	Service  string `json:"service"`
	Upstream string `json:"upstream"`
}

// Table is the gateway's routing table, matched longest prefix first.
type Table struct {
	routes []Route
}

func DefaultRoutes() []Route {
	return []Route{
		{Prefix: "/api/users", Service: "users", Upstream: "/users"},
		{Prefix: "/api/appointments", Service: "appointments", Upstream: "/appointments"},
		{Prefix: "/api/files", Service: "files", Upstream: "/files"},
		{Prefix: "/api/notifications", Service: "notifications", Upstream: "/notifications"},
	}
}

// NewTable checks every route against endpoints and fails if a route names
// a service with no usable base URL or two routes share a prefix.
func NewTable(routes []Route, endpoints map[string]string) (*Table, error) {
	seen := map[string]bool{}
	sorted := make([]Route, 0, len(routes))
	for _, route := range routes {
		if !strings.HasPrefix(route.Prefix, "/") || strings.HasSuffix(route.Prefix, "/") {
			return nil, fmt.Errorf("route %q: prefix must start with / and not end with /", route.Prefix)
		}
		if seen[route.Prefix] {
			return nil, fmt.Errorf("route %q: duplicate prefix", route.Prefix)
		}
		seen[route.Prefix] = true
		base, ok := endpoints[route.Service]
		if !ok || base == "" {
			return nil, fmt.Errorf("route %q: no endpoint for service %q", route.Prefix, route.Service)
		}
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("route %q: invalid endpoint %q for service %q", route.Prefix, base, route.Service)
		}
		sorted = append(sorted, route)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Table{routes: sorted}, nil
}

// Resolve returns the route owning path and the path to request upstream.
func (t *Table) Resolve(path string) (Route, string, bool) {
	for _, route := range t.routes {
		if path != route.Prefix && !strings.HasPrefix(path, route.Prefix+"/") {
			continue
		}
		return route, route.Upstream + strings.TrimPrefix(path, route.Prefix), true
	}
	return Route{}, "", false
}

func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}
