package middleware

import (
	"net/url"
	"testing"

	"api-gateway/internal/route"
)

func newTestTable(t *testing.T) *route.Table {
	t.Helper()
	target, err := url.Parse("http://localhost:3000")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	table, err := route.NewTable("/health", route.Rule{Prefix: "/api", Strip: true, Target: target})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}
