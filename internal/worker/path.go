package worker

import (
	"strings"

	"github.com/any-hub/asset-hub/internal/manifest"
)

// versionQuery 是构建工具追加的缓存破坏参数前缀。
const versionQuery = "?v="

// LogicalPath 将请求 URL 去掉源站前缀得到清单键：截掉 ?v= 版本后缀，
// 源站根、同源片段 URL 与空路径都归一化为入口别名 "/"。跨源 URL 返回 false。
func LogicalPath(origin, rawURL string) (string, bool) {
	if rawURL != origin && !strings.HasPrefix(rawURL, origin+"/") {
		return "", false
	}

	key := ""
	if len(rawURL) > len(origin)+1 {
		key = rawURL[len(origin)+1:]
	}
	if idx := strings.Index(key, versionQuery); idx != -1 {
		key = key[:idx]
	}
	if rawURL == origin || strings.HasPrefix(rawURL, origin+"/#") || key == "" {
		key = manifest.EntryPath
	}
	return key, true
}

// storedPath 将存储中的条目键还原为清单键，空路径映射为 "/"。
func storedPath(origin, key string) string {
	path, ok := LogicalPath(origin, key)
	if !ok {
		return key
	}
	return path
}

// cacheKey 返回清单键对应的存储键（绝对 URL）。
func cacheKey(origin, path string) string {
	if path == manifest.EntryPath {
		return origin + "/"
	}
	return origin + "/" + strings.TrimPrefix(path, "/")
}
