package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Storage 管理一组按名称区分的缓存存储，对应 service worker 的 CacheStorage。
type Storage interface {
	// Open 打开（必要时创建）名为 name 的存储。
	Open(ctx context.Context, name string) (Store, error)

	// Delete 删除整个存储及其全部条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 返回当前存在的存储名称。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Store 负责单个命名存储内的条目读写，单个键的 Put/Remove 均为原子操作。
type Store interface {
	// Name 返回存储名称。
	Name() string

	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, key string) (*ReadResult, error)

	// Put 写入条目正文与响应元数据，覆盖同键的旧条目。
	Put(ctx context.Context, key string, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除条目，条目不存在时返回 (false, nil)。
	Remove(ctx context.Context, key string) (bool, error)

	// Keys 返回全部条目键，按字典序排列。
	Keys(ctx context.Context) ([]string, error)
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime    time.Time
	StatusCode int
	Header     http.Header
}

// Entry 描述一个缓存条目的元数据。
type Entry struct {
	Key        string      `json:"key"`
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	SizeBytes  int64       `json:"size_bytes"`
	ModTime    time.Time   `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于调用方直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidName 表示存储名称不合法。
var ErrInvalidName = errors.New("invalid cache name")

// 可选的存储驱动。
const (
	DriverFS     = "fs"
	DriverSQLite = "sqlite"
)

// Open 根据驱动名称构建 Storage，basePath 为缓存根目录。
func Open(driver, basePath string) (Storage, error) {
	switch driver {
	case DriverFS, "":
		return NewFileStorage(basePath)
	case DriverSQLite:
		return NewSQLiteStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

// ReadAll 读取条目正文并关闭 Reader。
func ReadAll(result *ReadResult) ([]byte, error) {
	if result == nil || result.Reader == nil {
		return nil, ErrNotFound
	}
	defer result.Reader.Close()
	return io.ReadAll(result.Reader)
}

func statusOrDefault(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}
