// Package route classifies inbound paths into the gateway's route classes
// and maps proxied paths into the upstream's path space.
package route

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind is the route class an inbound path belongs to.
type Kind int

const (
	// KindNone means no gateway route owns the path.
	KindNone Kind = iota
	// KindLiveness is the fixed health endpoint.
	KindLiveness
	// KindProxy is the prefix-matched upstream route.
	KindProxy
)

func (k Kind) String() string {
	switch k {
	case KindLiveness:
		return "liveness"
	case KindProxy:
		return "proxy"
	default:
		return "none"
	}
}

// Rule describes one prefix-mounted upstream route.
type Rule struct {
	Prefix string
	Strip  bool
	Target *url.URL
}

// UpstreamPath maps an escaped inbound path to the escaped upstream path.
// With Strip set the prefix is removed (exact, case-sensitive); an empty
// remainder becomes "/". The target's own base path, if any, is prepended.
func (r Rule) UpstreamPath(escapedPath string) string {
	p := escapedPath
	if r.Strip {
		p = strings.TrimPrefix(p, r.Prefix)
	}
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	if r.Target != nil {
		if base := strings.TrimSuffix(r.Target.EscapedPath(), "/"); base != "" {
			p = base + p
		}
	}
	return p
}

// Table is the immutable route table: one liveness path and one proxy rule.
type Table struct {
	health string
	proxy  Rule
}

// NewTable builds a Table. Both paths must be absolute and the prefix must
// not end with a slash.
func NewTable(healthPath string, proxy Rule) (*Table, error) {
	if !strings.HasPrefix(healthPath, "/") {
		return nil, fmt.Errorf("health path must start with '/': %q", healthPath)
	}
	if !strings.HasPrefix(proxy.Prefix, "/") || strings.HasSuffix(proxy.Prefix, "/") {
		return nil, fmt.Errorf("proxy prefix must start and not end with '/': %q", proxy.Prefix)
	}
	if proxy.Target == nil || proxy.Target.Host == "" {
		return nil, fmt.Errorf("proxy target must be an absolute URL")
	}
	return &Table{health: healthPath, proxy: proxy}, nil
}

// HealthPath returns the liveness path.
func (t *Table) HealthPath() string { return t.health }

// Proxy returns the proxy rule.
func (t *Table) Proxy() Rule { return t.proxy }

// Classify reports which route owns path. The liveness path is matched
// exactly and takes precedence; the proxy prefix matches itself and anything
// below it on a segment boundary, so "/api" and "/api/x" match but "/apix"
// does not.
func (t *Table) Classify(path string) Kind {
	if path == t.health {
		return KindLiveness
	}
	if path == t.proxy.Prefix || strings.HasPrefix(path, t.proxy.Prefix+"/") {
		return KindProxy
	}
	return KindNone
}
