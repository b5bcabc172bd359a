package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/asset-hub/internal/logging"
)

// State 是 worker 的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Registration 串行化 install/activate，并记录当前生效与控制页面的 worker。
type Registration struct {
	logger *logrus.Logger

	mu         sync.Mutex
	background sync.WaitGroup
	active     atomic.Pointer[Synchronizer]
	installing atomic.Pointer[Synchronizer]
	controller atomic.Pointer[Synchronizer]
}

// Status 汇总注册状态，供诊断接口输出。
type Status struct {
	ActiveVersion     string `json:"active_version,omitempty"`
	ActiveState       State  `json:"active_state,omitempty"`
	InstallingVersion string `json:"installing_version,omitempty"`
	Controlled        bool   `json:"controlled"`
	ManifestEntries   int    `json:"manifest_entries"`
	CorePaths         int    `json:"core_paths"`
}

// NewRegistration 创建空的注册表。
func NewRegistration(logger *logrus.Logger) *Registration {
	return &Registration{logger: logger}
}

// Register 安装并激活新的 worker。安装失败时新 worker 变为 redundant，
// 之前的 worker 继续服务；激活失败时存储已被重置，新 worker 仍然接管，
// 之后的请求会直接回源并重新填充缓存。
func (r *Registration) Register(ctx context.Context, w *Synchronizer) error {
	if w == nil {
		return errors.New("worker is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w.scope = r
	w.tracker = &r.background
	w.setState(StateInstalling)
	r.installing.Store(w)
	defer r.installing.Store(nil)

	if err := w.Install(ctx); err != nil {
		w.setState(StateRedundant)
		r.logger.WithFields(logging.LifecycleFields("install", w.Version())).WithError(err).Error("install_failed")
		return err
	}
	w.setState(StateInstalled)
	return r.activate(ctx, w)
}

// activate 在旧 worker 继续服务的同时完成合并，结束后（无论成功或已重置）才发布新 worker。
func (r *Registration) activate(ctx context.Context, w *Synchronizer) error {
	w.setState(StateActivating)
	err := w.Activate(ctx)
	w.setState(StateActivated)

	previous := r.active.Swap(w)
	if previous != nil && previous != w {
		previous.setState(StateRedundant)
	}
	return err
}

// Claim 实现 Scope：激活完成后由 worker 调用，立即接管所有页面。
func (r *Registration) Claim(w *Synchronizer) {
	r.controller.Store(w)
}

// Active 返回当前处理请求的 worker，首次激活前为 nil。
func (r *Registration) Active() *Synchronizer {
	return r.active.Load()
}

// Controlled 表示当前生效的 worker 是否已接管页面。
func (r *Registration) Controlled() bool {
	active := r.active.Load()
	return active != nil && r.controller.Load() == active
}

// PostMessage 把控制消息投递给正在安装的 worker，否则投递给生效的 worker。
func (r *Registration) PostMessage(ctx context.Context, message string) bool {
	target := r.installing.Load()
	if target == nil {
		target = r.active.Load()
	}
	if target == nil {
		r.logger.WithField("message", message).Warn("message_dropped")
		return false
	}
	return target.HandleMessage(ctx, message)
}

// Status 返回注册快照。
func (r *Registration) Status() Status {
	var status Status
	if active := r.active.Load(); active != nil {
		d := active.Deployment()
		status.ActiveVersion = active.Version()
		status.ActiveState = active.State()
		status.ManifestEntries = d.Manifest.Len()
		status.CorePaths = len(d.Core)
	}
	if installing := r.installing.Load(); installing != nil {
		status.InstallingVersion = installing.Version()
	}
	status.Controlled = r.Controlled()
	return status
}

// Wait 等待所有经此注册的 worker 的后台任务结束，包括已被替换的 worker。
func (r *Registration) Wait() {
	r.background.Wait()
}
