package worker

import (
	"context"
	"fmt"

	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/upstream"
)

// 页面可以发送的控制消息。
const (
	MessageSkipWaiting     = "skipWaiting"
	MessageDownloadOffline = "downloadOffline"
)

// HandleMessage 处理控制消息，返回消息是否被识别。skipWaiting 只标记跳过等待，
// 页面刷新由调用方负责；downloadOffline 在后台预取，不回报完成情况。其他消息忽略。
func (s *Synchronizer) HandleMessage(ctx context.Context, message string) bool {
	fields := logging.LifecycleFields("message", s.Version())
	fields["message"] = message

	switch message {
	case MessageSkipWaiting:
		s.skipWaiting.Store(true)
		s.logger.WithFields(fields).Info("skip_waiting")
		return true
	case MessageDownloadOffline:
		group := s.backgroundGroup()
		group.Add(1)
		go func() {
			defer group.Done()
			if err := s.DownloadOffline(context.WithoutCancel(ctx)); err != nil {
				s.logger.WithFields(fields).WithError(err).Warn("download_offline_failed")
			}
		}()
		return true
	default:
		s.logger.WithFields(fields).Debug("message_ignored")
		return false
	}
}

// DownloadOffline 找出持久存储中尚缺的清单路径，一次性批量抓取写入；批次整体成功或整体失败。
func (s *Synchronizer) DownloadOffline(ctx context.Context) error {
	content, err := s.storage.Open(ctx, ContentStore)
	if err != nil {
		return fmt.Errorf("open content: %w", err)
	}
	missing, err := s.MissingPaths(ctx)
	if err != nil {
		return err
	}
	if err := s.addAll(ctx, content, missing, upstream.FetchOptions{}); err != nil {
		return fmt.Errorf("download offline: %w", err)
	}

	fields := logging.LifecycleFields("download_offline", s.Version())
	fields["fetched"] = len(missing)
	s.logger.WithFields(fields).Info("download_offline_complete")
	return nil
}

// MissingPaths 返回清单中尚未出现在持久存储里的路径（按清单键排序）。
func (s *Synchronizer) MissingPaths(ctx context.Context) ([]string, error) {
	content, err := s.storage.Open(ctx, ContentStore)
	if err != nil {
		return nil, fmt.Errorf("open content: %w", err)
	}
	keys, err := content.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	present := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		present[storedPath(s.origin, key)] = struct{}{}
	}

	var missing []string
	for _, path := range s.deployment.Manifest.Paths() {
		if _, ok := present[path]; !ok {
			missing = append(missing, path)
		}
	}
	return missing, nil
}
