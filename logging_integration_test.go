package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "asset-hub.log")
	configPath := appConfig(t, fmt.Sprintf(`LogFilePath = "%s"`, logPath))

	useBufferWriters(t)
	code := run(context.Background(), cliOptions{configPath: configPath, checkOnly: true})
	if code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
}

// appConfig 写出一份可用的配置与 bundle 清单，extra 追加到全局配置段。
func appConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "bundle.json")
	bundle := `{"version":"v1","resources":{"/":"h0","index.html":"h0","main.dart.js":"h1"},"core":["main.dart.js","index.html"]}`
	if err := os.WriteFile(manifestPath, []byte(bundle), 0o600); err != nil {
		t.Fatalf("写入清单失败: %v", err)
	}
	return writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
StoragePath = "%s"
ListenPort = 5000
%s

[App]
Name = "shop"
Origin = "https://shop.example.com"
Manifest = "%s"
`, filepath.Join(dir, "storage"), extra, manifestPath))
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
