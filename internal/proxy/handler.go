package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/server"
	"github.com/any-hub/asset-hub/internal/upstream"
	"github.com/any-hub/asset-hub/internal/worker"
)

// ActiveWorker 返回当前处理请求的 worker，由 worker.Registration 实现。
type ActiveWorker interface {
	Active() *worker.Synchronizer
}

// Forwarder 透传不受缓存管理的请求，由 upstream.Fetcher 实现。
type Forwarder interface {
	Origin() string
	Forward(ctx context.Context, method, target string, header http.Header, body io.Reader) (*http.Response, error)
}

// forwardedRequestHeaders 是传给 worker 回源请求的请求头白名单，
// 其余头（Cookie、Authorization 等）不会进入共享缓存的回源请求。
var forwardedRequestHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

// Handler 把页面请求交给当前 worker 拦截；worker 拒绝处理时按默认网络行为透传到源站。
type Handler struct {
	workers   ActiveWorker
	forwarder Forwarder
	logger    *logrus.Logger
}

// NewHandler constructs the interceptor with the registration, origin forwarder and logger.
func NewHandler(workers ActiveWorker, forwarder Forwarder, logger *logrus.Logger) *Handler {
	return &Handler{
		workers:   workers,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	active := h.workers.Active()
	if active == nil {
		return h.passthrough(c, ctx, requestID, started)
	}

	req := worker.FetchRequest{
		Method: c.Method(),
		URL:    h.forwarder.Origin() + requestURI(c),
		Header: selectHeaders(fiberHeadersAsHTTP(c), forwardedRequestHeaders),
	}
	result, err := active.HandleFetch(ctx, req)
	switch {
	case errors.Is(err, worker.ErrNotManaged):
		return h.passthrough(c, ctx, requestID, started)
	case err != nil:
		path, _ := worker.LogicalPath(h.forwarder.Origin(), req.URL)
		fields := logging.RequestFields(path, "", active.Version(), false)
		h.logResult(fields, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	fields := logging.RequestFields(result.Path, string(result.Strategy), active.Version(), result.CacheHit)
	return h.serveResult(c, result, fields, requestID, started)
}

func (h *Handler) serveResult(c fiber.Ctx, result *worker.FetchResult, fields logrus.Fields, requestID string, started time.Time) error {
	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set("X-Asset-Hub-Cache-Hit", strconv.FormatBool(result.CacheHit))
	c.Set("X-Asset-Hub-Strategy", string(result.Strategy))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	h.logResult(fields, requestID, resp.StatusCode, started, nil)
	return c.Send(resp.Body)
}

// passthrough 对应页面的默认网络行为：原样转发，不读写缓存。
func (h *Handler) passthrough(c fiber.Ctx, ctx context.Context, requestID string, started time.Time) error {
	fields := logrus.Fields{"path": requestPath(c), "strategy": "passthrough", "cache_hit": false}
	header := fiberHeadersAsHTTP(c)
	header.Del("Accept-Encoding")
	resp, err := h.forwarder.Forward(ctx, c.Method(), requestURI(c), header, bytesReader(c.Body()))
	if err != nil {
		h.logResult(fields, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Asset-Hub-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(fields, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(fields, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(fields logrus.Fields, requestID string, status int, started time.Time, err error) {
	fields["action"] = "intercept"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("intercept_failed")
		return
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

// requestURI 返回带查询串的原始请求路径，例如 /main.dart.js?v=1。
func requestURI(c fiber.Ctx) string {
	uri := string(c.Request().RequestURI())
	if uri == "" {
		return "/"
	}
	return uri
}

func requestPath(c fiber.Ctx) string {
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func selectHeaders(src http.Header, keys []string) http.Header {
	out := http.Header{}
	for _, key := range keys {
		for _, value := range src.Values(key) {
			out.Add(key, value)
		}
	}
	return out
}

// copyResponseHeaders 跳过 hop-by-hop 与 Content-Length，长度由 fiber 按实际正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if upstream.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
