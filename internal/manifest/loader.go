package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Format 标识清单文件的编码方式。
type Format string

const (
	// FormatJSON 为 JSON 清单：独立 core 文件时是扁平对象，否则是 bundle 文档。
	FormatJSON Format = "json"
	// FormatServiceWorker 为构建工具生成的 service worker 脚本。
	FormatServiceWorker Format = "service-worker"
)

// bundle 是单文件 JSON 清单的结构。
type bundle struct {
	Version   string            `json:"version"`
	Resources map[string]string `json:"resources"`
	Core      []string          `json:"core"`
}

// Load 按格式读取清单文件；corePath 仅在 json 格式下生效。
func Load(ctx context.Context, path string, format Format, corePath string) (Deployment, error) {
	switch format {
	case FormatJSON, "":
		if corePath != "" {
			return LoadJSON(path, corePath)
		}
		return LoadBundle(path)
	case FormatServiceWorker:
		src, err := os.ReadFile(path)
		if err != nil {
			return Deployment{}, fmt.Errorf("read service worker: %w", err)
		}
		return ParseServiceWorker(ctx, src)
	default:
		return Deployment{}, fmt.Errorf("unsupported manifest format: %s", format)
	}
}

// LoadJSON 读取扁平的 path→hash 清单文件和 JSON 数组形式的核心路径文件。
func LoadJSON(manifestPath, corePath string) (Deployment, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return Deployment{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Deployment{}, err
	}

	var core []string
	if corePath != "" {
		rawCore, err := os.ReadFile(corePath)
		if err != nil {
			return Deployment{}, fmt.Errorf("read core paths: %w", err)
		}
		if err := json.Unmarshal(rawCore, &core); err != nil {
			return Deployment{}, fmt.Errorf("decode core paths: %w", err)
		}
	}
	return NewDeployment("", m, core)
}

// LoadBundle 读取 {"version","resources","core"} 单文件清单。
func LoadBundle(path string) (Deployment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Deployment{}, fmt.Errorf("read manifest: %w", err)
	}
	return ParseBundle(raw)
}

// ParseBundle 解析单文件清单内容。
func ParseBundle(raw []byte) (Deployment, error) {
	var doc bundle
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Deployment{}, fmt.Errorf("decode manifest bundle: %w", err)
	}
	return NewDeployment(doc.Version, New(doc.Resources), doc.Core)
}
