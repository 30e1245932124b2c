package x402

import (
	"net/http"
	"strings"
)

// Request is the part of an inbound request the gate looks at. Adapters
// build one from their native request type.
type Request struct {
	Method string
	// Path is the request path without the query string, or the full gRPC method.
	Path   string
	Host   string
	Header http.Header
}

// NewRequest adapts an *http.Request.
func NewRequest(r *http.Request) *Request {
	host := r.Host
	if host == "" {
		host = r.Header.Get("Host")
	}
	return &Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Host:   host,
		Header: r.Header,
	}
}

func (r *Request) header(name string) string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get(name)
}

// paymentHeader returns the payment header, preferring the v2 header.
func (r *Request) paymentHeader() (value string, legacy bool) {
	if v := r.header(HeaderPaymentSignature); v != "" {
		return v, false
	}
	if v := r.header(HeaderPayment); v != "" {
		return v, true
	}
	return "", false
}

// skipped reports requests that are never charged: preflight and
// metadata methods and websocket upgrades.
func (r *Request) skipped() bool {
	switch strings.ToUpper(r.Method) {
	case http.MethodOptions, http.MethodHead, http.MethodTrace:
		return true
	}
	return r.isWebSocket()
}

func (r *Request) isWebSocket() bool {
	return strings.EqualFold(r.header("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.header("Connection")), "upgrade")
}

// IsBrowser reports whether the client should get an HTML paywall instead
// of a JSON challenge.
func (r *Request) IsBrowser() bool {
	if strings.Contains(strings.ToLower(r.header("Content-Type")), "application/json") {
		return false
	}
	accept := strings.ToLower(r.header("Accept"))
	if strings.Contains(accept, "text/html") {
		return true
	}
	if strings.Contains(accept, "application/json") {
		return false
	}

	ua := strings.ToLower(r.header("User-Agent"))
	if ua == "" {
		return false
	}
	for _, client := range []string{"curl", "wget", "python-requests", "go-http-client", "postman"} {
		if strings.Contains(ua, client) {
			return false
		}
	}
	if !strings.Contains(ua, "mozilla") {
		return false
	}
	for _, engine := range []string{"chrome", "safari", "firefox", "edge"} {
		if strings.Contains(ua, engine) {
			return true
		}
	}
	return false
}

// fullURL reconstructs the URL the client requested, honouring
// X-Forwarded-Proto from a fronting proxy.
func (r *Request) fullURL() string {
	if r.Host == "" {
		return r.Path
	}
	scheme := "http"
	if proto := strings.ToLower(r.header("X-Forwarded-Proto")); proto == "https" || proto == "http" {
		scheme = proto
	}
	p := r.Path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return scheme + "://" + r.Host + p
}

func (r *Request) mimeType() string {
	if ct := r.header("Content-Type"); ct != "" {
		if mime := strings.TrimSpace(strings.Split(ct, ";")[0]); mime != "" {
			return mime
		}
	}
	accept := strings.ToLower(r.header("Accept"))
	switch {
	case strings.Contains(accept, "application/json"):
		return "application/json"
	case strings.Contains(accept, "text/html"):
		return "text/html"
	}
	return "application/json"
}
