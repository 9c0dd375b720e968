package cachectl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// maxBodyBytes caps what the edge buffers for a single response.
const maxBodyBytes = 32 << 20

// Network performs real fetches. An error means no response was received at all.
type Network interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// HTTPNetwork fetches over HTTP and classifies responses relative to origin.
type HTTPNetwork struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPNetwork returns a Network for the given app origin.
func NewHTTPNetwork(origin *url.URL, timeout time.Duration) *HTTPNetwork {
	return &HTTPNetwork{
		client: &http.Client{Timeout: timeout},
		origin: origin,
	}
}

func (n *HTTPNetwork) Fetch(ctx context.Context, req *Request) (*Response, error) {
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	if req.Accept != "" {
		hreq.Header.Set("Accept", req.Accept)
	}

	hresp, err := n.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer hresp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("response body for %s exceeds %d bytes", req.URL, maxBodyBytes)
	}

	return &Response{
		Status: hresp.StatusCode,
		Header: hresp.Header.Clone(),
		Body:   body,
		Type:   classify(n.origin, req),
	}, nil
}

// classify mirrors how a browser labels a response by origin and request mode.
func classify(origin *url.URL, req *Request) ResponseType {
	if sameOrigin(origin, req.URL) {
		return TypeBasic
	}
	if req.Mode == ModeNoCORS {
		return TypeOpaque
	}
	return TypeCORS
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}
