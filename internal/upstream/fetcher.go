package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrBadStatus 表示源站返回了非 2xx 状态。
var ErrBadStatus = errors.New("upstream returned non-ok status")

// FetchOptions 控制单次请求的缓存语义。
type FetchOptions struct {
	// BypassCache 对应 fetch 的 cache: 'reload'，要求中间缓存不得复用旧响应。
	BypassCache bool
	Header      http.Header
}

// Response 是完整读入内存的源站响应，可以安全地 Clone 后分别写缓存与回给调用方。
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK 对应浏览器 Response.ok：状态码位于 200-299。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Clone 深拷贝响应。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	return &Response{
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       append([]byte(nil), r.Body...),
	}
}

// Fetcher 针对单一源站发起 GET 请求。
type Fetcher struct {
	client *http.Client
	origin string
}

// NewFetcher 以源站前缀（如 https://app.example.com）构造 Fetcher。
func NewFetcher(client *http.Client, origin string) (*Fetcher, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	parsed, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid origin: %s", origin)
	}
	return &Fetcher{client: client, origin: origin}, nil
}

// Origin 返回不带结尾斜杠的源站前缀。
func (f *Fetcher) Origin() string {
	return f.origin
}

// Resolve 将相对目标（如 main.dart.js?v=1 或 /）拼接为绝对 URL；绝对 URL 原样返回。
func (f *Fetcher) Resolve(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	return f.origin + "/" + strings.TrimPrefix(target, "/")
}

// Fetch 发起 GET 请求并读入完整正文。传输层错误以 error 返回，非 2xx 状态仍作为响应返回。
func (f *Fetcher) Fetch(ctx context.Context, target string, opts FetchOptions) (*Response, error) {
	resolved := f.Resolve(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, err
	}
	for key, values := range opts.Header {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if opts.BypassCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
		req.Header.Del("If-None-Match")
		req.Header.Del("If-Modified-Since")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", resolved, err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := io.Copy(&body, resp.Body); err != nil {
		return nil, fmt.Errorf("read %s: %w", resolved, err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	return &Response{
		URL:        resolved,
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body.Bytes(),
	}, nil
}

// Forward 透传任意方法的请求到源站，调用方负责关闭返回的 Body。
// 用于不受缓存管理的请求（API、非 GET 请求等）。
func (f *Fetcher) Forward(ctx context.Context, method, target string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, f.Resolve(target), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(req.Header, header)
	req.Header.Del("Host")
	return f.client.Do(req)
}
