package client

import (
	"net/http"
)

// JSONTransport asks the server for JSON responses instead of redirects
// and HTML.
type JSONTransport struct {
	Base http.RoundTripper
}

// RoundTrip implements http.RoundTripper
func (t *JSONTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") == "" {
		// Clone the request to avoid mutating the original
		req2 := req.Clone(req.Context())
		req2.Header.Set("Accept", "application/json")
		req = req2
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

func NewJSONTransport(base http.RoundTripper) *JSONTransport {
	return &JSONTransport{Base: base}
}
