package worker

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/upstream"
)

// addAll 与 Cache.addAll 语义一致：先并发抓取全部路径，任一失败（传输错误或非 2xx）
// 则整体失败且不写入任何条目；全部成功后再依次写入 store。
func (s *Synchronizer) addAll(ctx context.Context, store cache.Store, paths []string, opts upstream.FetchOptions) error {
	if len(paths) == 0 {
		return nil
	}

	responses := make([]*upstream.Response, len(paths))
	p := pool.New().
		WithMaxGoroutines(s.concurrency).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, path := range paths {
		p.Go(func(ctx context.Context) error {
			resp, err := s.fetcher.Fetch(ctx, cacheKey(s.origin, path), opts)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", path, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: %w (%d)", path, upstream.ErrBadStatus, resp.StatusCode)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return err
	}

	for i, path := range paths {
		if err := putResponse(ctx, store, cacheKey(s.origin, path), responses[i]); err != nil {
			return fmt.Errorf("store %s: %w", path, err)
		}
	}
	return nil
}

// copyStore 将 src 的全部条目覆盖写入 dst，返回复制条数。
func copyStore(ctx context.Context, src, dst cache.Store) (int, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", src.Name(), err)
	}
	for i, key := range keys {
		result, err := src.Get(ctx, key)
		if err != nil {
			return i, fmt.Errorf("read %s from %s: %w", key, src.Name(), err)
		}
		opts := cache.PutOptions{
			ModTime:    result.Entry.ModTime,
			StatusCode: result.Entry.StatusCode,
			Header:     result.Entry.Header,
		}
		_, err = dst.Put(ctx, key, result.Reader, opts)
		result.Reader.Close()
		if err != nil {
			return i, fmt.Errorf("copy %s into %s: %w", key, dst.Name(), err)
		}
	}
	return len(keys), nil
}

func putResponse(ctx context.Context, store cache.Store, key string, resp *upstream.Response) error {
	opts := cache.PutOptions{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}
	_, err := store.Put(ctx, key, bytes.NewReader(resp.Body), opts)
	return err
}

// matchResponse 读取缓存条目并还原为 Response，未命中返回 cache.ErrNotFound。
func matchResponse(ctx context.Context, store cache.Store, key string) (*upstream.Response, error) {
	result, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	entry := result.Entry
	body, err := cache.ReadAll(result)
	if err != nil {
		return nil, err
	}
	return &upstream.Response{
		URL:        key,
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       body,
	}, nil
}
