package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/manifest"
	"github.com/any-hub/asset-hub/internal/upstream"
)

// ErrNotManaged 表示请求不归缓存管理，宿主应按默认网络行为处理。
var ErrNotManaged = errors.New("request not managed by asset cache")

// Strategy 标识响应来自哪种缓存策略。
type Strategy string

const (
	StrategyCacheFirst   Strategy = "cache-first"
	StrategyNetworkFirst Strategy = "network-first"
)

// FetchRequest 描述一次被拦截的请求，URL 为绝对地址。
type FetchRequest struct {
	Method string
	URL    string
	Header http.Header
}

// FetchResult 是拦截结果。
type FetchResult struct {
	Response *upstream.Response
	Path     string
	Strategy Strategy
	CacheHit bool
}

// HandleFetch 只拦截 GET 且路径在清单中的请求：入口页走网络优先，其余资源走缓存优先。
// 其余请求返回 ErrNotManaged。
func (s *Synchronizer) HandleFetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if req.Method != http.MethodGet {
		return nil, ErrNotManaged
	}
	path, ok := LogicalPath(s.origin, req.URL)
	if !ok || !s.deployment.Manifest.Has(path) {
		return nil, ErrNotManaged
	}

	var (
		result *FetchResult
		err    error
	)
	if path == manifest.EntryPath {
		result, err = s.NetworkFirst(ctx, req)
	} else {
		result, err = s.cacheFirst(ctx, path, req)
	}
	if result != nil {
		result.Path = path
	}
	return result, err
}

// cacheFirst 命中即返回缓存；未命中则回源，仅在 2xx 时写入持久存储。网络失败直接返回。
func (s *Synchronizer) cacheFirst(ctx context.Context, path string, req FetchRequest) (*FetchResult, error) {
	key := cacheKey(s.origin, path)
	content, err := s.storage.Open(ctx, ContentStore)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}

	cached, err := matchResponse(ctx, content, key)
	switch {
	case err == nil:
		return &FetchResult{Response: cached, Strategy: StrategyCacheFirst, CacheHit: true}, nil
	case errors.Is(err, cache.ErrNotFound):
	default:
		s.logger.WithError(err).WithFields(s.requestFields(path, StrategyCacheFirst, false)).Warn("cache_get_failed")
	}

	resp, err := s.fetcher.Fetch(ctx, req.URL, upstream.FetchOptions{Header: req.Header})
	if err != nil {
		return nil, err
	}
	if resp.OK() {
		s.store(ctx, content, key, path, StrategyCacheFirst, resp.Clone())
	}
	return &FetchResult{Response: resp, Strategy: StrategyCacheFirst}, nil
}

// NetworkFirst 优先回源并把副本写入持久存储；网络失败时回退到缓存，缓存也没有则返回原始网络错误。
func (s *Synchronizer) NetworkFirst(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	path, ok := LogicalPath(s.origin, req.URL)
	if !ok {
		return nil, ErrNotManaged
	}
	key := cacheKey(s.origin, path)
	content, openErr := s.storage.Open(ctx, ContentStore)

	resp, fetchErr := s.fetcher.Fetch(ctx, req.URL, upstream.FetchOptions{Header: req.Header})
	if fetchErr == nil {
		if openErr == nil {
			s.store(ctx, content, key, path, StrategyNetworkFirst, resp.Clone())
		} else {
			s.logger.WithError(openErr).WithFields(s.requestFields(path, StrategyNetworkFirst, false)).Warn("cache_open_failed")
		}
		return &FetchResult{Response: resp, Strategy: StrategyNetworkFirst}, nil
	}

	if openErr != nil {
		return nil, fetchErr
	}
	cached, err := matchResponse(ctx, content, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.logger.WithError(err).WithFields(s.requestFields(path, StrategyNetworkFirst, false)).Warn("cache_get_failed")
		}
		return nil, fetchErr
	}
	s.logger.WithError(fetchErr).WithFields(s.requestFields(path, StrategyNetworkFirst, true)).Info("network_fallback")
	return &FetchResult{Response: cached, Strategy: StrategyNetworkFirst, CacheHit: true}, nil
}

// store 写入失败只记录日志，不影响本次响应。
func (s *Synchronizer) store(ctx context.Context, content cache.Store, key, path string, strategy Strategy, resp *upstream.Response) {
	if err := putResponse(ctx, content, key, resp); err != nil {
		s.logger.WithError(err).WithFields(s.requestFields(path, strategy, false)).Warn("cache_put_failed")
	}
}

func (s *Synchronizer) requestFields(path string, strategy Strategy, cacheHit bool) logrus.Fields {
	return logging.RequestFields(path, string(strategy), s.Version(), cacheHit)
}
