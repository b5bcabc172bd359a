package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// EntryPath 是入口页面的别名键，对应源站根路径。
const EntryPath = "/"

// Manifest 记录资源逻辑路径到内容哈希的映射，构造后不可修改。
type Manifest struct {
	entries map[string]string
}

// New 复制 entries 构建 Manifest，调用方后续修改 map 不会影响结果。
func New(entries map[string]string) Manifest {
	copied := make(map[string]string, len(entries))
	for path, hash := range entries {
		copied[path] = hash
	}
	return Manifest{entries: copied}
}

// Hash 返回 path 对应的内容哈希。
func (m Manifest) Hash(path string) (string, bool) {
	hash, ok := m.entries[path]
	return hash, ok
}

// Has 判断 path 是否由缓存管理。
func (m Manifest) Has(path string) bool {
	_, ok := m.entries[path]
	return ok
}

// Len 返回条目数量。
func (m Manifest) Len() int {
	return len(m.entries)
}

// Paths 返回按字典序排列的全部路径。
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for path := range m.entries {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Entries 返回映射的副本。
func (m Manifest) Entries() map[string]string {
	copied := make(map[string]string, len(m.entries))
	for path, hash := range m.entries {
		copied[path] = hash
	}
	return copied
}

// Equal 按键和值精确比较两个 Manifest。
func (m Manifest) Equal(other Manifest) bool {
	if len(m.entries) != len(other.entries) {
		return false
	}
	for path, hash := range m.entries {
		if otherHash, ok := other.entries[path]; !ok || otherHash != hash {
			return false
		}
	}
	return true
}

// Digest 计算稳定摘要，作为未显式声明版本时的部署版本号。
func (m Manifest) Digest() string {
	sum := sha256.New()
	for _, path := range m.Paths() {
		sum.Write([]byte(path))
		sum.Write([]byte{0})
		sum.Write([]byte(m.entries[path]))
		sum.Write([]byte{'\n'})
	}
	return hex.EncodeToString(sum.Sum(nil))
}

// MarshalJSON 输出扁平的 JSON 对象，与构建产物保持一致。
func (m Manifest) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.entries)
}

// UnmarshalJSON 解析扁平的 JSON 对象。
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var entries map[string]string
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if entries == nil {
		return errors.New("decode manifest: expected JSON object")
	}
	*m = New(entries)
	return nil
}
