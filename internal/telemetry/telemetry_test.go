package telemetry

import (
	"context"
	"testing"

	"github.com/gitscout/gitscout/internal/config"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitTelemetryIdempotent(t *testing.T) {
	cfg := &config.Config{}
	cfg.Application.ServiceName = "gitscout-test"
	cfg.Application.Version = "0.0.0"

	tp1, mp1, err := InitTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitTelemetry returned error: %v", err)
	}
	if tp1 == nil || mp1 == nil {
		t.Fatal("InitTelemetry did not initialize providers")
	}

	tp2, mp2, err := InitTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second InitTelemetry returned error: %v", err)
	}
	if tp1 != tp2 || mp1 != mp2 {
		t.Error("InitTelemetry created new providers on repeat call")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
