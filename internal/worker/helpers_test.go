package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/manifest"
	"github.com/any-hub/asset-hub/internal/upstream"
)

var errOffline = errors.New("network unreachable")

// originStub serves a mutable set of assets and counts GETs per logical path.
type originStub struct {
	*httptest.Server

	mu     sync.Mutex
	bodies map[string]string
	hits   map[string]int
}

func newOriginStub(t *testing.T, bodies map[string]string) *originStub {
	t.Helper()
	stub := &originStub{bodies: map[string]string{}, hits: map[string]int{}}
	for path, body := range bodies {
		stub.bodies[path] = body
	}
	stub.Server = httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(stub.Close)
	return stub
}

func (s *originStub) serve(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = manifest.EntryPath
	}
	s.mu.Lock()
	s.hits[path]++
	body, ok := s.bodies[path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, body)
}

func (s *originStub) setBody(path, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies[path] = body
}

func (s *originStub) hitCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// switchableFetcher wraps the real fetcher and can simulate losing the network.
// When hold is set, fetches of holdPath signal entered and block until hold is closed.
type switchableFetcher struct {
	inner   *upstream.Fetcher
	offline atomic.Bool

	holdPath string
	hold     chan struct{}
	entered  chan struct{}
}

func (f *switchableFetcher) Fetch(ctx context.Context, target string, opts upstream.FetchOptions) (*upstream.Response, error) {
	if f.offline.Load() {
		return nil, errOffline
	}
	if f.hold != nil && strings.HasSuffix(target, "/"+f.holdPath) {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.hold
	}
	return f.inner.Fetch(ctx, target, opts)
}

// hookStorage calls onOpen before delegating Open, letting tests act mid-lifecycle.
type hookStorage struct {
	cache.Storage
	onOpen func(name string)
}

func (s *hookStorage) Open(ctx context.Context, name string) (cache.Store, error) {
	if s.onOpen != nil {
		s.onOpen(name)
	}
	return s.Storage.Open(ctx, name)
}

type testEnv struct {
	t        *testing.T
	origin   *originStub
	storage  cache.Storage
	fetcher  *switchableFetcher
	logger   *logrus.Logger
	register *Registration
}

func newTestEnv(t *testing.T, bodies map[string]string) *testEnv {
	return newTestEnvWithDriver(t, cache.DriverFS, bodies)
}

func newTestEnvWithDriver(t *testing.T, driver string, bodies map[string]string) *testEnv {
	t.Helper()
	origin := newOriginStub(t, bodies)
	storage, err := cache.Open(driver, t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	inner, err := upstream.NewFetcher(origin.Client(), origin.URL)
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &testEnv{
		t:        t,
		origin:   origin,
		storage:  storage,
		fetcher:  &switchableFetcher{inner: inner},
		logger:   logger,
		register: NewRegistration(logger),
	}
}

func (e *testEnv) newWorker(entries map[string]string, core ...string) *Synchronizer {
	e.t.Helper()
	deployment, err := manifest.NewDeployment("", manifest.New(entries), core)
	if err != nil {
		e.t.Fatalf("deployment error: %v", err)
	}
	w, err := New(Options{
		Deployment:  deployment,
		Origin:      e.origin.URL,
		Storage:     e.storage,
		Fetcher:     e.fetcher,
		Logger:      e.logger,
		Concurrency: 2,
	})
	if err != nil {
		e.t.Fatalf("worker error: %v", err)
	}
	return w
}

func (e *testEnv) deploy(entries map[string]string, core ...string) *Synchronizer {
	e.t.Helper()
	w := e.newWorker(entries, core...)
	if err := e.register.Register(context.Background(), w); err != nil {
		e.t.Fatalf("register error: %v", err)
	}
	return w
}

func (e *testEnv) url(path string) string {
	if path == manifest.EntryPath {
		return e.origin.URL + "/"
	}
	return e.origin.URL + "/" + path
}

func (e *testEnv) get(w *Synchronizer, rawURL string) (*FetchResult, error) {
	return w.HandleFetch(context.Background(), FetchRequest{Method: http.MethodGet, URL: rawURL})
}

func (e *testEnv) keys(name string) []string {
	e.t.Helper()
	store, err := e.storage.Open(context.Background(), name)
	if err != nil {
		e.t.Fatalf("open %s: %v", name, err)
	}
	keys, err := store.Keys(context.Background())
	if err != nil {
		e.t.Fatalf("keys %s: %v", name, err)
	}
	return keys
}

func (e *testEnv) cachedBody(path string) (string, bool) {
	e.t.Helper()
	store, err := e.storage.Open(context.Background(), ContentStore)
	if err != nil {
		e.t.Fatalf("open content: %v", err)
	}
	resp, err := matchResponse(context.Background(), store, cacheKey(e.origin.URL, path))
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		e.t.Fatalf("match %s: %v", path, err)
	}
	return string(resp.Body), true
}

func (e *testEnv) storeNames() map[string]bool {
	e.t.Helper()
	names, err := e.storage.Names(context.Background())
	if err != nil {
		e.t.Fatalf("names: %v", err)
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out
}

func (e *testEnv) paths(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = storedPath(e.origin.URL, key)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
