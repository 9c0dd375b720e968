/*
Package cachectl is the caching edge in front of the static app origin.

A Controller is one installed generation of the cache policy, identified by its version
tag. It moves through parsed, installing, installed (waiting), activating, activated and
redundant. The Registry holds the active and the waiting controller and exposes the
control channel; Edge adapts HTTP traffic onto whichever controller is active.

Only GET requests are ever read from or written to the durable cache. Cache writes are
best effort: a failed write never changes the response handed back to the caller.
*/
package cachectl

import (
	"net/http"
	"net/url"
	"strings"
)

// Request modes, as a browser would report them in Sec-Fetch-Mode.
const (
	ModeNavigate   = "navigate"
	ModeSameOrigin = "same-origin"
	ModeCORS       = "cors"
	ModeNoCORS     = "no-cors"
)

// ResponseType classifies where a response came from and whether it may be inspected.
type ResponseType string

const (
	TypeBasic  ResponseType = "basic"  // same-origin
	TypeCORS   ResponseType = "cors"   // cross-origin, readable
	TypeOpaque ResponseType = "opaque" // cross-origin, not introspectable
	TypeError  ResponseType = "error"  // synthesized by the controller
)

// Request is an intercepted fetch. URL is always absolute.
type Request struct {
	Method string
	URL    *url.URL
	Mode   string
	Accept string
}

// NewRequest builds a GET request for rawURL resolved against base.
func NewRequest(base *url.URL, rawURL, mode string) (*Request, error) {
	u, err := base.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Request{Method: http.MethodGet, URL: u, Mode: mode}, nil
}

// AcceptsHTML reports whether the caller would render an HTML fallback.
func (r *Request) AcceptsHTML() bool {
	return r.Mode == ModeNavigate || strings.Contains(r.Accept, "text/html")
}

// cacheKey is the identity a request is stored under: the URL without its fragment.
func (r *Request) cacheKey() string {
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// Response is a fully buffered response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Type   ResponseType
}

// Clone returns a deep copy so cached entries are never shared with callers.
func (r *Response) Clone() *Response {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.Body = append([]byte(nil), r.Body...)
	return &out
}

// OK reports whether the status is exactly 200.
func (r *Response) OK() bool {
	return r.Status == http.StatusOK
}

// unavailable is the synthetic response served when nothing else is left.
func unavailable() *Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return &Response{
		Status: http.StatusServiceUnavailable,
		Header: h,
		Body:   []byte("Service Unavailable"),
		Type:   TypeError,
	}
}
