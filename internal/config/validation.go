package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	StorageDriverFS:     {},
	StorageDriverSQLite: {},
}

var supportedManifestFormats = map[string]struct{}{
	ManifestFormatJSON:          {},
	ManifestFormatServiceWorker: {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := &c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	driver := strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if _, ok := supportedStorageDrivers[driver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 fs|sqlite")
	}
	g.StorageDriver = driver
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	app := &c.App
	if err := validateOrigin(app.Origin); err != nil {
		return fmt.Errorf("%s: %w", appField("Origin"), err)
	}
	if strings.TrimSpace(app.Manifest) == "" {
		return newFieldError(appField("Manifest"), "不能为空")
	}
	format := strings.ToLower(strings.TrimSpace(app.ManifestFormat))
	if _, ok := supportedManifestFormats[format]; !ok {
		return newFieldError(appField("ManifestFormat"), "仅支持 json|service-worker")
	}
	app.ManifestFormat = format
	if app.Core != "" && format != ManifestFormatJSON {
		return newFieldError(appField("Core"), "仅 json 格式支持独立的核心路径文件")
	}
	if app.PrefetchConcurrency <= 0 {
		return newFieldError(appField("PrefetchConcurrency"), "必须大于 0")
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	if strings.Trim(parsed.Path, "/") != "" {
		return fmt.Errorf("源站不应包含路径: %s", raw)
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("源站不应包含查询或片段: %s", raw)
	}
	return nil
}
