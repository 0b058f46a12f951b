package classify

import (
	"net/http"
	"path"
	"strings"

	"github.com/asset-hub/asset-hub/internal/store"
)

// Category 表示请求分类结果，每个分类对应唯一的缓存策略与命名仓。
type Category string

const (
	CategoryBypass    Category = "bypass"
	CategoryDocument  Category = "document"
	CategoryCDN       Category = "cdn"
	CategoryImage     Category = "image"
	CategoryImmutable Category = "immutable"
	CategoryScript    Category = "script"
	CategoryGeneric   Category = "generic"
)

// Logical 返回分类对应的逻辑仓；Bypass 无仓。
func (c Category) Logical() string {
	switch c {
	case CategoryDocument, CategoryGeneric:
		return store.LogicalRuntime
	case CategoryCDN:
		return store.LogicalCDN
	case CategoryImage, CategoryImmutable, CategoryScript:
		return store.LogicalStatic
	default:
		return ""
	}
}

// Request 汇总分类器需要的请求特征，与具体 HTTP 框架解耦。
type Request struct {
	Method    string
	Host      string
	Path      string
	Accept    string
	FetchDest string // Sec-Fetch-Dest 头，浏览器声明的请求用途
}

// Classifier 按固定顺序对请求分类，首条命中即返回。规则顺序即优先级，
// 不可调整：非 GET 与控制脚本必须先于一切缓存分类被旁路。
type Classifier struct {
	cdnHosts    map[string]struct{}
	bypassPaths map[string]struct{}
}

// New 构建分类器。cdnHosts 与 bypassPaths 在启动时固化，运行期只读。
func New(cdnHosts map[string]struct{}, bypassPaths []string) *Classifier {
	bypass := make(map[string]struct{}, len(bypassPaths))
	for _, p := range bypassPaths {
		p = strings.TrimSpace(p)
		if p != "" {
			bypass[p] = struct{}{}
		}
	}
	return &Classifier{
		cdnHosts:    cdnHosts,
		bypassPaths: bypass,
	}
}

var (
	imageSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".avif", ".svg", ".ico"}
	fontSuffixes  = []string{".woff", ".woff2", ".ttf", ".otf", ".eot", ".css"}
	jsSuffixes    = []string{".js", ".mjs"}
)

// Classify 对单个请求执行首条命中的规则表。
func (c *Classifier) Classify(req Request) Category {
	if req.Method != http.MethodGet {
		return CategoryBypass
	}

	cleanPath := req.Path
	if cleanPath == "" {
		cleanPath = "/"
	}
	cleanPath = path.Clean("/" + cleanPath)
	if _, ok := c.bypassPaths[cleanPath]; ok {
		return CategoryBypass
	}

	dest := strings.ToLower(strings.TrimSpace(req.FetchDest))
	if dest == "document" || strings.Contains(req.Accept, "text/html") {
		return CategoryDocument
	}

	if _, ok := c.cdnHosts[normalizeHost(req.Host)]; ok {
		return CategoryCDN
	}

	if dest == "image" || hasSuffix(cleanPath, imageSuffixes) {
		return CategoryImage
	}
	if dest == "font" || dest == "style" || hasSuffix(cleanPath, fontSuffixes) {
		return CategoryImmutable
	}
	if dest == "script" || hasSuffix(cleanPath, jsSuffixes) {
		return CategoryScript
	}

	return CategoryGeneric
}

func hasSuffix(p string, suffixes []string) bool {
	lower := strings.ToLower(p)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// normalizeHost 去掉端口并小写化，保证与配置中的域名匹配。
func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if idx := strings.LastIndex(host, ":"); idx > 0 && !strings.Contains(host[idx:], "]") {
		host = host[:idx]
	}
	return strings.TrimSuffix(host, ".")
}
