package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/manifest"
	"github.com/any-hub/asset-hub/internal/upstream"
)

// 三个命名存储与快照记录键均为部署常量，不开放配置。
const (
	ManifestStore = "asset-hub-manifest"
	StagingStore  = "asset-hub-temp"
	ContentStore  = "asset-hub-cache"

	snapshotKey = "manifest"
)

const defaultConcurrency = 8

// Fetcher 抽象网络请求，生产环境由 upstream.Fetcher 实现。
type Fetcher interface {
	Fetch(ctx context.Context, target string, opts upstream.FetchOptions) (*upstream.Response, error)
}

// Scope 由宿主（Registration）实现，接收 clients.claim() 通知。
type Scope interface {
	Claim(*Synchronizer)
}

// Options 汇总构造 Synchronizer 所需的依赖，Deployment 在部署期固定。
type Options struct {
	Deployment  manifest.Deployment
	Origin      string
	Storage     cache.Storage
	Fetcher     Fetcher
	Logger      *logrus.Logger
	Concurrency int
}

// Synchronizer 对应某个部署版本的 worker 实例。
type Synchronizer struct {
	deployment  manifest.Deployment
	origin      string
	storage     cache.Storage
	fetcher     Fetcher
	logger      *logrus.Logger
	concurrency int

	scope       Scope
	state       atomic.Value // State
	skipWaiting atomic.Bool
	background  sync.WaitGroup
	tracker     *sync.WaitGroup
}

// New 校验依赖并构建 Synchronizer。
func New(opts Options) (*Synchronizer, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Deployment.Manifest.Len() == 0 {
		return nil, errors.New("deployment manifest is empty")
	}
	origin := strings.TrimRight(strings.TrimSpace(opts.Origin), "/")
	if origin == "" {
		return nil, errors.New("origin is required")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	s := &Synchronizer{
		deployment:  opts.Deployment,
		origin:      origin,
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		logger:      opts.Logger,
		concurrency: concurrency,
	}
	s.state.Store(StateParsed)
	return s, nil
}

// Version 返回部署版本号。
func (s *Synchronizer) Version() string {
	return s.deployment.Version
}

// Deployment 返回构造时注入的部署配置。
func (s *Synchronizer) Deployment() manifest.Deployment {
	return s.deployment
}

// State 返回当前生命周期状态。
func (s *Synchronizer) State() State {
	return s.state.Load().(State)
}

func (s *Synchronizer) setState(state State) {
	s.state.Store(state)
}

// SkipWaitingRequested 表示 worker 是否要求跳过等待阶段。
func (s *Synchronizer) SkipWaitingRequested() bool {
	return s.skipWaiting.Load()
}

// Wait 等待后台任务（离线预取）结束，用于优雅退出与测试。
// 已注册的 worker 与 Registration 共用计数，此时会等待全部 worker 的后台任务。
func (s *Synchronizer) Wait() {
	s.backgroundGroup().Wait()
}

func (s *Synchronizer) backgroundGroup() *sync.WaitGroup {
	if s.tracker != nil {
		return s.tracker
	}
	return &s.background
}

// Install 请求跳过等待，并以绕过 HTTP 缓存的方式把全部核心路径抓取进暂存存储。
// 任一请求失败即安装失败，不会留下部分激活的状态。
func (s *Synchronizer) Install(ctx context.Context) error {
	s.skipWaiting.Store(true)

	staging, err := s.storage.Open(ctx, StagingStore)
	if err != nil {
		return fmt.Errorf("install: open staging: %w", err)
	}
	core := s.deployment.CorePaths()
	if err := s.addAll(ctx, staging, core, upstream.FetchOptions{BypassCache: true}); err != nil {
		return fmt.Errorf("install: %w", err)
	}

	fields := logging.LifecycleFields("install", s.Version())
	fields["core_paths"] = len(core)
	s.logger.WithFields(fields).Info("install_complete")
	return nil
}

// Activate 将暂存存储合并进持久存储。首次激活整体重建持久存储；升级激活先按快照差异
// 删除失效条目，再覆盖写入暂存条目，保证核心路径始终最新。任何错误都会清空三个存储。
func (s *Synchronizer) Activate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.resetAll(ctx, err)
		}
	}()

	content, err := s.storage.Open(ctx, ContentStore)
	if err != nil {
		return fmt.Errorf("open content: %w", err)
	}
	staging, err := s.storage.Open(ctx, StagingStore)
	if err != nil {
		return fmt.Errorf("open staging: %w", err)
	}
	snapshots, err := s.storage.Open(ctx, ManifestStore)
	if err != nil {
		return fmt.Errorf("open manifest snapshot: %w", err)
	}

	previous, found, err := s.readSnapshot(ctx, snapshots)
	if err != nil {
		return err
	}

	fields := logging.LifecycleFields("activate", s.Version())
	if !found {
		if _, err := s.storage.Delete(ctx, ContentStore); err != nil {
			return fmt.Errorf("reset content: %w", err)
		}
		if content, err = s.storage.Open(ctx, ContentStore); err != nil {
			return fmt.Errorf("reopen content: %w", err)
		}
		fields["mode"] = "first_install"
	} else {
		removed, err := s.prune(ctx, content, previous)
		if err != nil {
			return err
		}
		fields["mode"] = "upgrade"
		fields["evicted"] = removed
	}

	copied, err := copyStore(ctx, staging, content)
	if err != nil {
		return err
	}
	if _, err := s.storage.Delete(ctx, StagingStore); err != nil {
		return fmt.Errorf("delete staging: %w", err)
	}
	if err := s.writeSnapshot(ctx, snapshots); err != nil {
		return err
	}

	if s.scope != nil {
		s.scope.Claim(s)
	}

	fields["staged"] = copied
	s.logger.WithFields(fields).Info("activate_complete")
	return nil
}

// prune 删除不在新清单中或哈希发生变化的条目，未变化的条目原样保留。
func (s *Synchronizer) prune(ctx context.Context, content cache.Store, previous manifest.Manifest) (int, error) {
	keys, err := content.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list content: %w", err)
	}
	removed := 0
	for _, key := range keys {
		path := storedPath(s.origin, key)
		current, ok := s.deployment.Manifest.Hash(path)
		old, hadOld := previous.Hash(path)
		if ok && hadOld && current == old {
			continue
		}
		if _, err := content.Remove(ctx, key); err != nil {
			return removed, fmt.Errorf("evict %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}

func (s *Synchronizer) readSnapshot(ctx context.Context, snapshots cache.Store) (manifest.Manifest, bool, error) {
	result, err := snapshots.Get(ctx, snapshotKey)
	if errors.Is(err, cache.ErrNotFound) {
		return manifest.Manifest{}, false, nil
	}
	if err != nil {
		return manifest.Manifest{}, false, fmt.Errorf("read manifest snapshot: %w", err)
	}
	raw, err := cache.ReadAll(result)
	if err != nil {
		return manifest.Manifest{}, false, fmt.Errorf("read manifest snapshot: %w", err)
	}
	var previous manifest.Manifest
	if err := json.Unmarshal(raw, &previous); err != nil {
		return manifest.Manifest{}, false, fmt.Errorf("parse manifest snapshot: %w", err)
	}
	return previous, true, nil
}

func (s *Synchronizer) writeSnapshot(ctx context.Context, snapshots cache.Store) error {
	raw, err := json.Marshal(s.deployment.Manifest)
	if err != nil {
		return fmt.Errorf("encode manifest snapshot: %w", err)
	}
	opts := cache.PutOptions{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"application/json"}},
	}
	if _, err := snapshots.Put(ctx, snapshotKey, bytes.NewReader(raw), opts); err != nil {
		return fmt.Errorf("write manifest snapshot: %w", err)
	}
	return nil
}

// resetAll 是激活失败后唯一的恢复手段：缓存状态不可信，全部删除。
func (s *Synchronizer) resetAll(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	fields := logging.LifecycleFields("activate_reset", s.Version())
	s.logger.WithFields(fields).WithError(cause).
		Errorf("Failed to upgrade service worker: %v", cause)

	for _, name := range []string{ContentStore, StagingStore, ManifestStore} {
		if _, err := s.storage.Delete(ctx, name); err != nil {
			s.logger.WithFields(fields).WithError(err).WithField("cache", name).Warn("cache_delete_failed")
		}
	}
}
