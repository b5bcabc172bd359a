package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchDebounce 合并构建工具连续写入产生的多次事件。
const watchDebounce = 200 * time.Millisecond

// Watch 监听清单文件（以及可选的核心路径文件）变化，每次（去抖后）变化调用一次 onChange，
// 直到 ctx 结束。监听的是所在目录，这样原子替换（写临时文件再 rename）也能被捕获。空路径会被忽略。
func Watch(ctx context.Context, paths []string, logger *logrus.Logger, onChange func(context.Context)) error {
	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve manifest path: %w", err)
		}
		files[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(files) == 0 {
		return fmt.Errorf("no manifest path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	go func() {
		defer watcher.Close()

		var (
			mu    sync.Mutex
			timer *time.Timer
		)
		trigger := func() {
			mu.Lock()
			defer mu.Unlock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				if ctx.Err() == nil {
					onChange(ctx)
				}
			})
		}

		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Clean(event.Name)
				if _, ok := files[name]; !ok {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				logger.WithFields(logrus.Fields{"action": "watch", "path": name, "op": event.Op.String()}).Debug("manifest_changed")
				trigger()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).WithField("action", "watch").Warn("manifest_watch_error")
			}
		}
	}()
	return nil
}
