package manifest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestWatchReportsManifestChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bundle.json")
	if err := os.WriteFile(path, []byte(`{"resources":{"a.js":"h1"}}`), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	if err := Watch(ctx, []string{path}, logger, func(context.Context) { changed <- struct{}{} }); err != nil {
		t.Fatalf("watch error: %v", err)
	}

	// 同目录其他文件的变化不应触发回调。
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write other: %v", err)
	}
	select {
	case <-changed:
		t.Fatalf("unrelated file should not trigger")
	case <-time.After(2 * watchDebounce):
	}

	if err := os.WriteFile(path, []byte(`{"resources":{"a.js":"h2"}}`), 0o600); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected change notification")
	}
}

func TestWatchRejectsMissingDirectory(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	missing := filepath.Join(t.TempDir(), "nope", "bundle.json")
	if err := Watch(context.Background(), []string{missing}, logger, func(context.Context) {}); err == nil {
		t.Fatalf("watching a missing directory should fail")
	}
}

func TestWatchReportsCoreFileChanges(t *testing.T) {
	manifestDir, coreDir := t.TempDir(), t.TempDir()
	manifestPath := filepath.Join(manifestDir, "resources.json")
	corePath := filepath.Join(coreDir, "core.json")
	for path, body := range map[string]string{manifestPath: `{"a.js":"h1"}`, corePath: `["a.js"]`} {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 4)
	if err := Watch(ctx, []string{manifestPath, corePath, ""}, logger, func(context.Context) { changed <- struct{}{} }); err != nil {
		t.Fatalf("watch error: %v", err)
	}

	if err := os.WriteFile(corePath, []byte(`[]`), 0o600); err != nil {
		t.Fatalf("rewrite core: %v", err)
	}
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("core file change should trigger a reload")
	}
}

func TestWatchRequiresAPath(t *testing.T) {
	if err := Watch(context.Background(), []string{""}, logrus.New(), func(context.Context) {}); err == nil {
		t.Fatalf("watching no paths should fail")
	}
}
