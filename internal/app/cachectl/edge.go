package cachectl

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"dospill/internal/pkg/logx"
)

// Edge serves HTTP traffic through the active controller and reverse-proxies
// everything the controller does not intercept to the app origin.
type Edge struct {
	registry *Registry
	origin   *url.URL
	proxy    *httputil.ReverseProxy
	logger   zerolog.Logger
}

// NewEdge returns an Edge for origin.
func NewEdge(registry *Registry, origin *url.URL) *Edge {
	proxy := httputil.NewSingleHostReverseProxy(origin)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = origin.Host
	}

	e := &Edge{
		registry: registry,
		origin:   origin,
		proxy:    proxy,
		logger:   logx.Component("edge"),
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		e.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Origin unreachable")
		writeResponse(w, unavailable())
	}
	return e
}

// ServeHTTP maps the incoming request onto the app origin.
func (e *Edge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u := *e.origin
	u.Path = r.URL.Path
	u.RawPath = r.URL.RawPath
	u.RawQuery = r.URL.RawQuery

	e.Serve(w, r, &Request{
		Method: r.Method,
		URL:    &u,
		Mode:   requestMode(r),
		Accept: r.Header.Get("Accept"),
	})
}

// ServeCDN serves an asset from a cross-origin host through the cache-first route.
// Unknown hosts get 404 so the edge cannot be used as an open proxy.
func (e *Edge) ServeCDN(w http.ResponseWriter, r *http.Request, host, path string) {
	active := e.registry.Active()
	if active == nil || !active.IsCDNHost(host) || r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	u := &url.URL{Scheme: "https", Host: host, Path: "/" + strings.TrimPrefix(path, "/"), RawQuery: r.URL.RawQuery}
	resp, ok := active.Handle(r.Context(), &Request{
		Method: http.MethodGet,
		URL:    u,
		Mode:   ModeCORS,
		Accept: r.Header.Get("Accept"),
	})
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeResponse(w, resp)
}

// Serve runs req through the active controller, falling back to the origin proxy.
func (e *Edge) Serve(w http.ResponseWriter, r *http.Request, req *Request) {
	if active := e.registry.Active(); active != nil {
		if resp, ok := active.Handle(r.Context(), req); ok {
			writeResponse(w, resp)
			return
		}
	}
	e.proxy.ServeHTTP(w, r)
}

// requestMode derives the fetch mode from Sec-Fetch-Mode, falling back to treating
// HTML-accepting GETs as navigations for clients that do not send it.
func requestMode(r *http.Request) string {
	if m := r.Header.Get("Sec-Fetch-Mode"); m != "" {
		return m
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeSameOrigin
}

// hopHeaders are never copied from a buffered response.
var hopHeaders = []string{
	"Connection", "Keep-Alive", "Transfer-Encoding", "Content-Length", "Upgrade",
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			h.Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}
