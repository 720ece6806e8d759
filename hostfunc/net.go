package hostfunc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/geoffsee/polyfaas/netguard"
)

const (
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultRequestTimeout bounds the whole request including the body.
	DefaultRequestTimeout = 20 * time.Second

	maxResponseBody = 8 << 20
)

// Headers guests may not set; matched case-insensitively.
var restrictedHeaders = map[string]struct{}{
	"host":              {},
	"content-length":    {},
	"connection":        {},
	"transfer-encoding": {},
}

// NetProxy is the host-mediated HTTP client exposed to guests. Every request
// passes the egress filter before any connection is attempted, and the dialer
// re-checks the resolved address so DNS answers cannot change between the
// pre-check and the connect.
type NetProxy struct {
	filter *netguard.Filter
	client *http.Client
}

func NewNetProxy(filter *netguard.Filter) *NetProxy {
	transport := &http.Transport{
		DialContext:           filter.Dialer(DefaultConnectTimeout).DialContext,
		TLSHandshakeTimeout:   DefaultConnectTimeout,
		ResponseHeaderTimeout: DefaultRequestTimeout,
	}
	return &NetProxy{
		filter: filter,
		client: &http.Client{
			Transport: transport,
			Timeout:   DefaultRequestTimeout,
		},
	}
}

// HTTP performs a guest-requested exchange and returns a flat
// {status, headers, body} map. Restricted headers are dropped, methods are
// uppercased, and GET/HEAD never carry a body. Multi-valued response headers
// collapse to their first value.
func (p *NetProxy) HTTP(ctx context.Context, method, rawURL, body string, headers map[string]string) (map[string]any, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	if err := p.filter.EnforceURI(ctx, rawURL); err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != "" && method != http.MethodGet && method != http.MethodHead {
		reqBody = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, value := range headers {
		if _, banned := restrictedHeaders[strings.ToLower(name)]; banned {
			continue
		}
		req.Header.Set(name, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			respHeaders[name] = values[0]
		}
	}

	return map[string]any{
		"status":  resp.StatusCode,
		"headers": respHeaders,
		"body":    string(respBody),
	}, nil
}

// Request adapts HTTP to the Func binding shape used by guest shims.
func (p *NetProxy) Request(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return nil, fmt.Errorf("url required")
	}
	body, _ := args["body"].(string)

	headers := make(map[string]string)
	switch h := args["headers"].(type) {
	case map[string]any:
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			} else if v != nil {
				headers[k] = fmt.Sprint(v)
			}
		}
	case map[string]string:
		headers = h
	}

	return p.HTTP(ctx, method, rawURL, body, headers)
}

// Bind registers the proxy under the name guest shims expect.
func (p *NetProxy) Bind(reg *Registry) {
	reg.Register("net_http", p.Request)
}
