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

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述网关的全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	Version         string   `mapstructure:"Version"`
	Origin          string   `mapstructure:"Origin"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// CacheConfig 汇总缓存分类的 TTL 表与分类器输入。TTL 只对 Document/CDN
// 两类生效，其余分类按设计不做过期判断。
type CacheConfig struct {
	DocumentTTL Duration `mapstructure:"DocumentTTL"`
	CDNTTL      Duration `mapstructure:"CDNTTL"`
	CDNHosts    []string `mapstructure:"CDNHosts"`
	BypassPaths []string `mapstructure:"BypassPaths"`
}

// Config 是 TOML 文件映射的整体结构。Manifest 为安装期预取的关键资源清单，
// 由部署流程给定，网关只读不写。
type Config struct {
	Global   GlobalConfig `mapstructure:",squash"`
	Cache    CacheConfig  `mapstructure:"Cache"`
	Manifest []string     `mapstructure:"Manifest"`
}

// CDNHostSet 返回小写化的 CDN 域名集合，供分类器做 O(1) 匹配。
func (c CacheConfig) CDNHostSet() map[string]struct{} {
	if len(c.CDNHosts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(c.CDNHosts))
	for _, host := range c.CDNHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			set[host] = struct{}{}
		}
	}
	return set
}
