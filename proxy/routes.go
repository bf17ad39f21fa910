package proxy

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const apiPrefix = "/api/v1/"

// RouteTable maps a logical service name to its base URL. It is built once
// at startup and never mutated.
type RouteTable map[string]*url.URL

// ParseRoutes validates raw base URLs. Each must be absolute http(s).
func ParseRoutes(raw map[string]string) (RouteTable, error) {
	rt := make(RouteTable, len(raw))
	for name, s := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("proxy: empty service name")
		}
		u, err := url.Parse(strings.TrimRight(strings.TrimSpace(s), "/"))
		if err != nil {
			return nil, fmt.Errorf("proxy: service %q: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("proxy: service %q: unsupported scheme %q", name, u.Scheme)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("proxy: service %q: missing host", name)
		}
		rt[name] = u
	}
	return rt, nil
}

func (rt RouteTable) Lookup(name string) (*url.URL, bool) {
	u, ok := rt[name]
	return u, ok
}

// Names returns the service names in sorted order.
func (rt RouteTable) Names() []string {
	names := make([]string, 0, len(rt))
	for n := range rt {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServiceName extracts the segment after /api/v1/.
func ServiceName(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, apiPrefix)
	if !ok {
		return "", false
	}
	name, _, _ := strings.Cut(rest, "/")
	return name, name != ""
}
