package x402

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestIsBrowser(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    bool
	}{
		{
			name:    "accept html",
			headers: map[string]string{"Accept": "text/html,application/xhtml+xml"},
			want:    true,
		},
		{
			name:    "accept json",
			headers: map[string]string{"Accept": "application/json"},
		},
		{
			name: "json body wins over html accept",
			headers: map[string]string{
				"Accept":       "text/html",
				"Content-Type": "application/json",
			},
		},
		{
			name:    "browser user agent",
			headers: map[string]string{"User-Agent": "Mozilla/5.0 (Macintosh) AppleWebKit/537.36 Chrome/120.0 Safari/537.36"},
			want:    true,
		},
		{
			name:    "curl",
			headers: map[string]string{"User-Agent": "curl/8.4.0"},
		},
		{
			name:    "go client",
			headers: map[string]string{"User-Agent": "Go-http-client/1.1"},
		},
		{
			name: "no headers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/resource", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := NewRequest(r).IsBrowser(); got != tt.want {
				t.Errorf("IsBrowser() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestSkipped(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		headers map[string]string
		want    bool
	}{
		{name: "get", method: http.MethodGet},
		{name: "post", method: http.MethodPost},
		{name: "options", method: http.MethodOptions, want: true},
		{name: "head", method: http.MethodHead, want: true},
		{name: "trace", method: http.MethodTrace, want: true},
		{
			name:    "websocket upgrade",
			method:  http.MethodGet,
			headers: map[string]string{"Upgrade": "websocket", "Connection": "keep-alive, Upgrade"},
			want:    true,
		},
		{
			name:    "upgrade without connection header",
			method:  http.MethodGet,
			headers: map[string]string{"Upgrade": "websocket"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/resource", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := NewRequest(r).skipped(); got != tt.want {
				t.Errorf("skipped() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRequestPaymentHeader(t *testing.T) {
	r := &Request{Header: http.Header{}}
	if v, _ := r.paymentHeader(); v != "" {
		t.Errorf("expected no payment header, got %q", v)
	}

	r.Header.Set(HeaderPayment, "legacy")
	if v, legacy := r.paymentHeader(); v != "legacy" || !legacy {
		t.Errorf("expected legacy header, got %q legacy=%v", v, legacy)
	}

	r.Header.Set(HeaderPaymentSignature, "v2")
	if v, legacy := r.paymentHeader(); v != "v2" || legacy {
		t.Errorf("expected v2 header to take precedence, got %q legacy=%v", v, legacy)
	}
}

func TestRequestFullURL(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		want string
	}{
		{
			name: "plain http",
			req:  &Request{Path: "/v1/report", Host: "api.example.com", Header: http.Header{}},
			want: "http://api.example.com/v1/report",
		},
		{
			name: "forwarded https",
			req: &Request{Path: "/v1/report", Host: "api.example.com", Header: http.Header{
				"X-Forwarded-Proto": []string{"https"},
			}},
			want: "https://api.example.com/v1/report",
		},
		{
			name: "bogus forwarded proto",
			req: &Request{Path: "/v1/report", Host: "api.example.com", Header: http.Header{
				"X-Forwarded-Proto": []string{"gopher"},
			}},
			want: "http://api.example.com/v1/report",
		},
		{
			name: "no host",
			req:  &Request{Path: "/pkg.Service/Method"},
			want: "/pkg.Service/Method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.fullURL(); got != tt.want {
				t.Errorf("fullURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestMimeType(t *testing.T) {
	r := &Request{Header: http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}}}
	if got := r.mimeType(); got != "text/plain" {
		t.Errorf("expected text/plain, got %q", got)
	}
	r = &Request{Header: http.Header{"Accept": []string{"text/html"}}}
	if got := r.mimeType(); got != "text/html" {
		t.Errorf("expected text/html, got %q", got)
	}
	if got := (&Request{}).mimeType(); got != "application/json" {
		t.Errorf("expected application/json default, got %q", got)
	}
}
