package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// ByteSize 支持 "500MiB"、"1GB" 或纯字节整数三种配置写法。
type ByteSize int64

var byteSizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GiB", 1 << 30},
	{"MiB", 1 << 20},
	{"KiB", 1 << 10},
	{"GB", 1000 * 1000 * 1000},
	{"MB", 1000 * 1000},
	{"KB", 1000},
	{"B", 1},
}

// UnmarshalText 解析带单位的容量字符串；未带单位时按字节处理。
func (b *ByteSize) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*b = ByteSize(0)
		return nil
	}

	for _, unit := range byteSizeUnits {
		if !strings.HasSuffix(raw, unit.suffix) {
			continue
		}
		number := strings.TrimSpace(strings.TrimSuffix(raw, unit.suffix))
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return fmt.Errorf("invalid byte size value: %s", raw)
		}
		*b = ByteSize(value * float64(unit.factor))
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*b = ByteSize(intVal)
		return nil
	}

	return fmt.Errorf("invalid byte size value: %s", raw)
}

// Bytes 返回原始字节数。
func (b ByteSize) Bytes() int64 {
	return int64(b)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有 Source 共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	MaxCacheSize    ByteSize `mapstructure:"MaxCacheSize"`
	CleanupRatio    float64  `mapstructure:"CleanupRatio"`
	MaxRetries      int      `mapstructure:"MaxRetries"`
	InitialBackoff  Duration `mapstructure:"InitialBackoff"`
	DownloadTimeout Duration `mapstructure:"DownloadTimeout"`
}

// SourceConfig 声明一个允许回源的远端来源（scheme://host[:port]）。
type SourceConfig struct {
	Name     string `mapstructure:"Name"`
	Origin   string `mapstructure:"Origin"`
	Username string `mapstructure:"Username"`
	Password string `mapstructure:"Password"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Sources []SourceConfig `mapstructure:"Source"`
}

// HasCredentials 表示当前 Source 是否配置了完整的回源凭证。
func (s SourceConfig) HasCredentials() bool {
	return s.Username != "" && s.Password != ""
}

// AuthMode 输出 `credentialed` 或 `anonymous`，供日志字段使用。
func (s SourceConfig) AuthMode() string {
	if s.HasCredentials() {
		return "credentialed"
	}
	return "anonymous"
}

// CredentialModes 返回所有 Source 的鉴权模式摘要，例如 cdn:credentialed。
func CredentialModes(sources []SourceConfig) []string {
	if len(sources) == 0 {
		return nil
	}
	result := make([]string, len(sources))
	for i, src := range sources {
		result[i] = fmt.Sprintf("%s:%s", src.Name, src.AuthMode())
	}
	return result
}

// CleanupTargetBytes 计算清理阶段的目标容量（MaxCacheSize × CleanupRatio）。
func (g GlobalConfig) CleanupTargetBytes() int64 {
	return int64(float64(g.MaxCacheSize.Bytes()) * g.CleanupRatio)
}
