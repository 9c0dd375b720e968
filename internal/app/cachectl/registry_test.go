package cachectl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/v2/vfs"
	"github.com/rs/zerolog"
)

func versionOf(t *testing.T, r *Registry) string {
	t.Helper()
	reply := make(chan Reply, 1)
	if err := r.Post(context.Background(), Message{Type: MsgGetVersion, Reply: reply}); err != nil {
		t.Fatalf("GET_VERSION: %v", err)
	}
	select {
	case rep := <-reply:
		return rep.Version
	case <-time.After(time.Second):
		t.Fatal("no reply to GET_VERSION")
		return ""
	}
}

func TestRegistrySkipWaiting(t *testing.T) {
	net := newFakeNetwork(t)
	net.set(testOrigin+"/index.html", "shell")
	storage := newTestStorage(t)
	reg := NewRegistry()
	defer reg.Close()
	ctx := context.Background()

	v1 := newTestController(t, "v1", net, storage, "/index.html")
	if err := reg.Register(ctx, v1); err != nil {
		t.Fatalf("Register v1: %v", err)
	}
	if v1.State() != StateActivated || versionOf(t, reg) != "v1" {
		t.Fatalf("first controller should activate at once, state=%s", v1.State())
	}

	v2 := newTestController(t, "v2", net, storage, "/index.html")
	if err := reg.Register(ctx, v2); err != nil {
		t.Fatalf("Register v2: %v", err)
	}
	if v2.State() != StateInstalled || reg.Waiting() != v2 {
		t.Fatalf("second controller should wait, state=%s", v2.State())
	}
	if got := versionOf(t, reg); got != "v1" {
		t.Errorf("version while v2 waits = %q", got)
	}

	if err := reg.Post(ctx, Message{Type: MsgSkipWaiting}); err != nil {
		t.Fatalf("SKIP_WAITING: %v", err)
	}
	if got := versionOf(t, reg); got != "v2" {
		t.Errorf("version after SKIP_WAITING = %q", got)
	}
	if v1.State() != StateRedundant {
		t.Errorf("old controller state = %s, want redundant", v1.State())
	}

	names, _ := storage.Keys()
	if len(names) != 1 || names[0] != "v2" {
		t.Errorf("caches = %v, want [v2]", names)
	}

	// Nothing waiting: a second SKIP_WAITING is a no-op.
	if err := reg.Post(ctx, Message{Type: MsgSkipWaiting}); err != nil {
		t.Errorf("idle SKIP_WAITING: %v", err)
	}
}

func TestRegistryUnknownMessage(t *testing.T) {
	reg := NewRegistry()
	err := reg.Post(context.Background(), Message{Type: "CLAIM"})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("err = %v, want ErrUnknownMessage", err)
	}
	if got := versionOf(t, reg); got != "" {
		t.Errorf("version with nothing active = %q", got)
	}
}

func TestPutAfterDeleteFails(t *testing.T) {
	storage := newTestStorage(t)
	cache, err := storage.Open("old")
	if err != nil {
		t.Fatal(err)
	}
	resp := &Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("x"), Type: TypeBasic}
	if err := cache.Put("https://app.example.com/x", resp); err != nil {
		t.Fatalf("Put: %v", err)
	}

	deleted, err := storage.Delete("old")
	if err != nil || !deleted {
		t.Fatalf("Delete: deleted=%v err=%v", deleted, err)
	}
	if err := cache.Put("https://app.example.com/y", resp); !errors.Is(err, ErrCacheDeleted) {
		t.Errorf("Put after delete: err = %v, want ErrCacheDeleted", err)
	}
	if _, ok, _ := cache.Match("https://app.example.com/x"); ok {
		t.Error("entry survived cache deletion")
	}
	if deleted, _ := storage.Delete("old"); deleted {
		t.Error("second Delete reported success")
	}
}

func TestEdgeServesFromCacheAndProxiesTheRest(t *testing.T) {
	var posts atomic.Int32
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			posts.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, "created")
		case r.URL.Path == "/" || r.URL.Path == "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>shell</html>")
		default:
			http.NotFound(w, r)
		}
	}))
	originURL, _ := url.Parse(origin.URL)

	storage := newTestStorage(t)
	c, err := NewController(Config{
		Version:  "v1",
		Origin:   originURL,
		Manifest: []string{"/", "/index.html"},
	}, NewHTTPNetwork(originURL, 5*time.Second), storage)
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	defer reg.Close()
	if err := reg.Register(context.Background(), c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	edge := NewEdge(reg, originURL)

	post := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	edge.ServeHTTP(rec, post)
	if rec.Code != http.StatusCreated || posts.Load() != 1 {
		t.Fatalf("POST proxied: code=%d posts=%d", rec.Code, posts.Load())
	}

	// Take the origin down; the precached shell is still served.
	origin.Close()

	nav := httptest.NewRequest(http.MethodGet, "/", nil)
	nav.Header.Set("Sec-Fetch-Mode", "navigate")
	rec = httptest.NewRecorder()
	edge.ServeHTTP(rec, nav)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "shell") {
		t.Errorf("offline navigation: code=%d body=%q", rec.Code, rec.Body.String())
	}
	c.Wait()
}

// gatedNetwork holds fetches until gate closes once blocked is set.
type gatedNetwork struct {
	Network
	gate    chan struct{}
	entered chan struct{}
	blocked atomic.Bool
}

func (g *gatedNetwork) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if g.blocked.Load() {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Network.Fetch(ctx, req)
}

func TestSkipWaitingDoesNotWaitForRevalidation(t *testing.T) {
	fake := newFakeNetwork(t)
	fake.set(testOrigin+"/slow.js", "v1 script")
	fake.set(testOrigin+"/index.html", "shell")
	net := &gatedNetwork{Network: fake, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	storage := newTestStorage(t)
	reg := NewRegistry()
	ctx := context.Background()

	v1 := newTestController(t, "v1", net, storage, "/slow.js")
	v2 := newTestController(t, "v2", net, storage, "/index.html")
	if err := reg.Register(ctx, v1); err != nil {
		t.Fatalf("Register v1: %v", err)
	}
	if err := reg.Register(ctx, v2); err != nil {
		t.Fatalf("Register v2: %v", err)
	}

	// A cached hit on v1 starts a revalidation that stays stuck on the network.
	net.blocked.Store(true)
	req, _ := NewRequest(v1.cfg.Origin, testOrigin+"/slow.js", ModeSameOrigin)
	if resp, ok := v1.Handle(ctx, req); !ok || string(resp.Body) != "v1 script" {
		t.Fatalf("cached hit: ok=%v", ok)
	}
	select {
	case <-net.entered:
	case <-time.After(time.Second):
		t.Fatal("revalidation never reached the network")
	}

	done := make(chan error, 1)
	go func() { done <- reg.SkipWaiting(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("SkipWaiting: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SkipWaiting blocked on the old controller's revalidation")
	}

	start := time.Now()
	if got := reg.Active(); got != v2 {
		t.Fatalf("active = %v, want v2", got)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		t.Errorf("Active took %v while the old controller drained", waited)
	}
	if v1.State() != StateRedundant {
		t.Errorf("old controller state = %s, want redundant", v1.State())
	}

	close(net.gate)
	reg.Close()
}

func TestPebbleLogsThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel).With().Str("component", "pebble").Logger()

	s, err := openPebble("cache", vfs.NewMem(), logger)
	if err != nil {
		t.Fatalf("openPebble: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("pebble wrote nothing through the logger")
	}

	buf.Reset()
	pebbleLogger{logger}.Errorf("compaction failed: %s", "disk full")
	line := buf.String()
	if !strings.Contains(line, `"level":"error"`) || !strings.Contains(line, "compaction failed: disk full") ||
		!strings.Contains(line, `"component":"pebble"`) {
		t.Errorf("log line = %s", line)
	}
}
