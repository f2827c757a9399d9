package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.MaxCacheSize.Bytes() <= 0 {
		return newFieldError("Global.MaxCacheSize", "必须大于 0")
	}
	if g.CleanupRatio <= 0 || g.CleanupRatio >= 1 {
		return newFieldError("Global.CleanupRatio", "必须位于 (0, 1) 区间")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DownloadTimeout", "必须大于 0")
	}

	if len(c.Sources) == 0 {
		return errors.New("至少需要配置一个 Source")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Sources {
		src := &c.Sources[i]
		if src.Name == "" {
			return newFieldError("Source[].Name", "不能为空")
		}
		if _, exists := seenNames[src.Name]; exists {
			return newFieldError(sourceField(src.Name, "Name"), "重复")
		}
		seenNames[src.Name] = struct{}{}

		if err := validateOrigin(src.Origin); err != nil {
			return fmt.Errorf("%s: %w", sourceField(src.Name, "Origin"), err)
		}

		if (src.Username == "") != (src.Password == "") {
			return newFieldError(sourceField(src.Name, "Username/Password"), "必须同时提供或同时留空")
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少来源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，来源: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("来源缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("来源不允许携带路径: %s", raw)
	}
	if strings.Contains(parsed.Host, " ") {
		return errors.New("来源不允许包含空格")
	}
	return nil
}
