package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDeployment 表示清单或核心路径不满足约束。
var ErrInvalidDeployment = errors.New("invalid deployment")

// Deployment 是一次部署编译进 worker 的不可变配置：版本号、清单与核心路径。
type Deployment struct {
	Version  string
	Manifest Manifest
	Core     []string
}

// NewDeployment 校验核心路径均存在于清单中，version 为空时使用清单摘要的前 12 位。
func NewDeployment(version string, m Manifest, core []string) (Deployment, error) {
	if m.Len() == 0 {
		return Deployment{}, fmt.Errorf("%w: manifest is empty", ErrInvalidDeployment)
	}
	for _, path := range m.Paths() {
		if path == "" {
			return Deployment{}, fmt.Errorf("%w: empty resource path", ErrInvalidDeployment)
		}
		if hash, _ := m.Hash(path); strings.TrimSpace(hash) == "" {
			return Deployment{}, fmt.Errorf("%w: empty hash for %s", ErrInvalidDeployment, path)
		}
	}

	seen := make(map[string]struct{}, len(core))
	ordered := make([]string, 0, len(core))
	for _, path := range core {
		if !m.Has(path) {
			return Deployment{}, fmt.Errorf("%w: core path %s missing from manifest", ErrInvalidDeployment, path)
		}
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}
		ordered = append(ordered, path)
	}

	version = strings.TrimSpace(version)
	if version == "" {
		version = m.Digest()[:12]
	}

	return Deployment{
		Version:  version,
		Manifest: m,
		Core:     ordered,
	}, nil
}

// CorePaths 返回核心路径副本。
func (d Deployment) CorePaths() []string {
	return append([]string(nil), d.Core...)
}
