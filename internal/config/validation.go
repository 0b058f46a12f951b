package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var versionPattern = regexp.MustCompile(`^v[0-9A-Za-z][0-9A-Za-z.\-]*$`)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.Version == "" {
		return newFieldError("Version", "不能为空")
	}
	if !versionPattern.MatchString(g.Version) {
		return newFieldError("Version", "必须形如 v2.6（v 前缀 + 字母数字/点/横线）")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("UpstreamTimeout", "必须大于 0")
	}
	if err := validateUpstream(g.Origin); err != nil {
		return fmt.Errorf("Origin: %w", err)
	}

	cache := c.Cache
	if cache.DocumentTTL.DurationValue() <= 0 {
		return newFieldError("Cache.DocumentTTL", "必须大于 0")
	}
	if cache.CDNTTL.DurationValue() <= 0 {
		return newFieldError("Cache.CDNTTL", "必须大于 0")
	}
	for _, host := range cache.CDNHosts {
		if err := validateHost(host); err != nil {
			return fmt.Errorf("Cache.CDNHosts[%s]: %w", host, err)
		}
	}
	for _, path := range cache.BypassPaths {
		if !strings.HasPrefix(path, "/") {
			return newFieldError("Cache.BypassPaths", fmt.Sprintf("必须为绝对路径: %s", path))
		}
	}

	for _, path := range c.Manifest {
		if !strings.HasPrefix(path, "/") {
			return newFieldError("Manifest", fmt.Sprintf("必须为绝对路径: %s", path))
		}
	}

	return nil
}

func validateHost(host string) error {
	if host == "" {
		return errors.New("域名不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("域名不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("域名不允许包含空格")
	}
	if strings.HasPrefix(host, "http") {
		return errors.New("域名不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
