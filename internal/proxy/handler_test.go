package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/manifest"
	"github.com/any-hub/asset-hub/internal/server"
	"github.com/any-hub/asset-hub/internal/upstream"
	"github.com/any-hub/asset-hub/internal/worker"
)

func TestHandlerServesManagedAssetsFromCache(t *testing.T) {
	env := newHandlerEnv(t, true)

	resp := env.do(t, http.MethodGet, "/main.dart.js", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Asset-Hub-Cache-Hit") != "true" {
		t.Fatalf("core asset should be served from cache")
	}
	if resp.Header.Get("X-Asset-Hub-Strategy") != string(worker.StrategyCacheFirst) {
		t.Fatalf("unexpected strategy %q", resp.Header.Get("X-Asset-Hub-Strategy"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id")
	}
	if body := readBody(t, resp); body != "console.log('main')" {
		t.Fatalf("unexpected body %q", body)
	}
	if got := env.hits.Load(); got != env.installHits {
		t.Fatalf("cache hit must not reach origin, hits=%d want %d", got, env.installHits)
	}
}

func TestHandlerEntryPageIsNetworkFirst(t *testing.T) {
	env := newHandlerEnv(t, true)

	resp := env.do(t, http.MethodGet, "/", "")
	if resp.Header.Get("X-Asset-Hub-Strategy") != string(worker.StrategyNetworkFirst) {
		t.Fatalf("entry page should use network-first, got %q", resp.Header.Get("X-Asset-Hub-Strategy"))
	}
	if resp.Header.Get("X-Asset-Hub-Cache-Hit") != "false" {
		t.Fatalf("online entry page should come from the network")
	}
	if body := readBody(t, resp); body != "<html>app</html>" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestHandlerPassesThroughUnmanagedRequests(t *testing.T) {
	env := newHandlerEnv(t, true)

	resp := env.do(t, http.MethodGet, "/api/data", "")
	if resp.StatusCode != fiber.StatusOK || readBody(t, resp) != "api" {
		t.Fatalf("unmanaged GET should be forwarded")
	}
	if resp.Header.Get("X-Asset-Hub-Strategy") != "" {
		t.Fatalf("passthrough must not report a cache strategy")
	}

	resp = env.do(t, http.MethodPost, "/api/echo", "payload")
	if readBody(t, resp) != "echo:payload" {
		t.Fatalf("POST body should be forwarded")
	}

	resp = env.do(t, http.MethodPost, "/main.dart.js", "x")
	if resp.Header.Get("X-Asset-Hub-Strategy") != "" {
		t.Fatalf("non-GET on a managed path is not intercepted")
	}
}

func TestHandlerPassesThroughWithoutActiveWorker(t *testing.T) {
	env := newHandlerEnv(t, false)

	resp := env.do(t, http.MethodGet, "/main.dart.js", "")
	if resp.StatusCode != fiber.StatusOK || readBody(t, resp) != "console.log('main')" {
		t.Fatalf("request should be forwarded before the first activation")
	}
	if resp.Header.Get("X-Asset-Hub-Strategy") != "" {
		t.Fatalf("no worker means no interception")
	}
}

func TestHandlerReturnsBadGatewayWhenOriginDown(t *testing.T) {
	env := newHandlerEnv(t, true)
	env.origin.Close()

	resp := env.do(t, http.MethodGet, "/assets/logo.png", "")
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !strings.Contains(body, "upstream_failed") {
		t.Fatalf("unexpected error body %s", body)
	}

	resp = env.do(t, http.MethodGet, "/main.dart.js", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cached core asset should still be served offline, got %d", resp.StatusCode)
	}
}

type handlerEnv struct {
	app         *fiber.App
	origin      *httptest.Server
	hits        atomic.Int64
	installHits int64
}

func newHandlerEnv(t *testing.T, register bool) *handlerEnv {
	t.Helper()
	env := &handlerEnv{}
	env.origin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.hits.Add(1)
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, "<html>app</html>")
		case "/main.dart.js":
			_, _ = io.WriteString(w, "console.log('main')")
		case "/assets/logo.png":
			_, _ = io.WriteString(w, "png")
		case "/api/data":
			_, _ = io.WriteString(w, "api")
		case "/api/echo":
			body, _ := io.ReadAll(r.Body)
			_, _ = io.WriteString(w, "echo:"+string(body))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(env.origin.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	storage, err := cache.Open(cache.DriverFS, t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	fetcher, err := upstream.NewFetcher(env.origin.Client(), env.origin.URL)
	if err != nil {
		t.Fatalf("fetcher error: %v", err)
	}

	registration := worker.NewRegistration(logger)
	if register {
		deployment, err := manifest.NewDeployment("v1", manifest.New(map[string]string{
			"/":               "h0",
			"main.dart.js":    "h1",
			"assets/logo.png": "h2",
		}), []string{"main.dart.js"})
		if err != nil {
			t.Fatalf("deployment error: %v", err)
		}
		w, err := worker.New(worker.Options{
			Deployment: deployment,
			Origin:     env.origin.URL,
			Storage:    storage,
			Fetcher:    fetcher,
			Logger:     logger,
		})
		if err != nil {
			t.Fatalf("worker error: %v", err)
		}
		if err := registration.Register(context.Background(), w); err != nil {
			t.Fatalf("register error: %v", err)
		}
		env.installHits = env.hits.Load()
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      NewHandler(registration, fetcher, logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	env.app = app
	return env
}

func (e *handlerEnv) do(t *testing.T, method, target, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	resp, err := e.app.Test(httptest.NewRequest(method, "http://app.local"+target, reader))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
