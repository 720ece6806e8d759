package hostfunc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/geoffsee/polyfaas/netguard"
)

// A filter with no blocklist file fails closed for everything except
// loopback, which is exactly what the httptest servers bind to.
func testFilter(t *testing.T) *netguard.Filter {
	t.Helper()
	f := netguard.NewFilter(filepath.Join(t.TempDir(), "absent.bin"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(f.Stop)
	return f
}

func TestNetProxyRoundTrip(t *testing.T) {
	var gotMethod, gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Custom")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("X-Reply", "first")
		w.Header().Add("X-Reply", "second")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	proxy := NewNetProxy(testFilter(t))
	resp, err := proxy.HTTP(context.Background(), "post", srv.URL, `{"in":1}`, map[string]string{"X-Custom": "yes"})
	if err != nil {
		t.Fatalf("HTTP failed: %v", err)
	}

	if gotMethod != "POST" {
		t.Errorf("expected method uppercased to POST, got %s", gotMethod)
	}
	if gotBody != `{"in":1}` {
		t.Errorf("body not forwarded: %q", gotBody)
	}
	if gotHeader != "yes" {
		t.Errorf("custom header not forwarded: %q", gotHeader)
	}
	if resp["status"] != http.StatusCreated {
		t.Errorf("expected status 201, got %v", resp["status"])
	}
	if resp["body"] != `{"ok":true}` {
		t.Errorf("unexpected body: %v", resp["body"])
	}

	headers := resp["headers"].(map[string]any)
	if headers["X-Reply"] != "first" {
		t.Errorf("expected multi-value header collapsed to first, got %v", headers["X-Reply"])
	}
}

func TestNetProxyDropsRestrictedHeaders(t *testing.T) {
	var gotHost, gotConn string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotConn = r.Header.Get("Connection")
	}))
	defer srv.Close()

	proxy := NewNetProxy(testFilter(t))
	_, err := proxy.HTTP(context.Background(), "GET", srv.URL, "", map[string]string{
		"HOST":              "evil.example",
		"Connection":        "keep-alive-forever",
		"Transfer-Encoding": "chunked",
		"content-length":    "9999",
	})
	if err != nil {
		t.Fatalf("HTTP failed: %v", err)
	}
	if gotHost == "evil.example" {
		t.Error("Host header override must be dropped")
	}
	if gotConn == "keep-alive-forever" {
		t.Error("Connection header must be dropped")
	}
}

func TestNetProxyGetSendsNoBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	proxy := NewNetProxy(testFilter(t))
	if _, err := proxy.HTTP(context.Background(), "GET", srv.URL, "ignored", nil); err != nil {
		t.Fatalf("HTTP failed: %v", err)
	}
	if gotBody != "" {
		t.Errorf("GET must not carry a body, got %q", gotBody)
	}
}

func TestNetProxyEgressDeniedBeforeConnect(t *testing.T) {
	proxy := NewNetProxy(testFilter(t))

	// Fail-closed filter: any non-loopback literal is blocked before a
	// connection is attempted.
	_, err := proxy.HTTP(context.Background(), "GET", "http://203.0.113.7/", "", nil)
	if !errors.Is(err, netguard.ErrEgressDenied) {
		t.Fatalf("expected EgressDenied, got %v", err)
	}
}

func TestNetProxyTrieBlocklistDenies(t *testing.T) {
	b := netguard.NewBuilder()
	b.Add("203.0.113.7/32")
	path := filepath.Join(t.TempDir(), "blocklist.bin")
	if err := b.WriteTrie(path); err != nil {
		t.Fatalf("WriteTrie failed: %v", err)
	}
	filter := netguard.NewFilter(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer filter.Stop()

	proxy := NewNetProxy(filter)
	_, err := proxy.HTTP(context.Background(), "GET", "http://203.0.113.7/", "", map[string]string{})
	if !errors.Is(err, netguard.ErrEgressDenied) {
		t.Fatalf("expected EgressDenied before any connect, got %v", err)
	}
}

func TestNetProxyRequestAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	}))
	defer srv.Close()

	proxy := NewNetProxy(testFilter(t))
	result, err := proxy.Request(context.Background(), map[string]any{
		"method":  "get",
		"url":     srv.URL,
		"headers": map[string]any{"X-N": 7},
	})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp := result.(map[string]any)
	if resp["body"] != "pong" {
		t.Errorf("unexpected body: %v", resp["body"])
	}

	if _, err := proxy.Request(context.Background(), map[string]any{"method": "GET"}); err == nil {
		t.Error("expected error when url missing")
	}
}
