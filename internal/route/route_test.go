package route

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTable(t *testing.T, target string) *Table {
	t.Helper()
	u, err := url.Parse(target)
	require.NoError(t, err)
	tbl, err := NewTable("/health", Rule{Prefix: "/api", Strip: true, Target: u})
	require.NoError(t, err)
	return tbl
}

func TestTable_Classify(t *testing.T) {
	tbl := mustTable(t, "http://localhost:3000")

	tests := []struct {
		path string
		want Kind
	}{
		{"/health", KindLiveness},
		{"/api", KindProxy},
		{"/api/", KindProxy},
		{"/api/products", KindProxy},
		{"/api/orders/42/items", KindProxy},
		{"/apix", KindNone},
		{"/API/products", KindNone},
		{"/health/deep", KindNone},
		{"/", KindNone},
		{"", KindNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, tbl.Classify(tt.path))
		})
	}
}

func TestTable_ClassifyLivenessFirst(t *testing.T) {
	u, _ := url.Parse("http://localhost:3000")
	// A liveness path inside the proxy prefix still resolves to liveness.
	tbl, err := NewTable("/api/health", Rule{Prefix: "/api", Strip: true, Target: u})
	require.NoError(t, err)

	assert.Equal(t, KindLiveness, tbl.Classify("/api/health"))
	assert.Equal(t, KindProxy, tbl.Classify("/api/healthz"))
}

func TestRule_UpstreamPath(t *testing.T) {
	tests := []struct {
		name   string
		target string
		in     string
		want   string
	}{
		{"strips prefix", "http://b:3000", "/api/products", "/products"},
		{"bare prefix maps to root", "http://b:3000", "/api", "/"},
		{"trailing slash kept", "http://b:3000", "/api/", "/"},
		{"nested path", "http://b:3000", "/api/orders/7/items", "/orders/7/items"},
		{"escaped segment preserved", "http://b:3000", "/api/files/a%2Fb", "/files/a%2Fb"},
		{"only first prefix removed", "http://b:3000", "/api/api/x", "/api/x"},
		{"target base path prepended", "http://b:3000/v2", "/api/products", "/v2/products"},
		{"target base path with slash", "http://b:3000/v2/", "/api", "/v2/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.target)
			require.NoError(t, err)
			r := Rule{Prefix: "/api", Strip: true, Target: u}
			assert.Equal(t, tt.want, r.UpstreamPath(tt.in))
		})
	}
}

func TestRule_UpstreamPathNoStrip(t *testing.T) {
	u, _ := url.Parse("http://b:3000")
	r := Rule{Prefix: "/api", Strip: false, Target: u}
	assert.Equal(t, "/api/products", r.UpstreamPath("/api/products"))
}

func TestNewTable_Invalid(t *testing.T) {
	u, _ := url.Parse("http://b:3000")

	_, err := NewTable("health", Rule{Prefix: "/api", Target: u})
	assert.Error(t, err)

	_, err = NewTable("/health", Rule{Prefix: "/api/", Target: u})
	assert.Error(t, err)

	_, err = NewTable("/health", Rule{Prefix: "/api", Target: &url.URL{Path: "/relative"}})
	assert.Error(t, err)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "liveness", KindLiveness.String())
	assert.Equal(t, "proxy", KindProxy.String())
	assert.Equal(t, "none", KindNone.String())
}
