package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/classify"
	"github.com/asset-hub/asset-hub/internal/config"
	"github.com/asset-hub/asset-hub/internal/logging"
	"github.com/asset-hub/asset-hub/internal/server"
	"github.com/asset-hub/asset-hub/internal/store"
	"github.com/asset-hub/asset-hub/internal/strategy"
	"github.com/asset-hub/asset-hub/internal/task"
)

// Handler orchestrate "分类 → 策略 → 存储/回源" 的全流程，对外暴露
// Fiber handler。Bypass 分类的请求纯透传，绝不读写任何命名仓。
type Handler struct {
	classifier *classify.Classifier
	strategies map[classify.Category]strategy.Handler
	fetcher    strategy.Fetcher
	logger     *logrus.Logger
	origin     *url.URL
	cdnHosts   map[string]struct{}
	version    string
}

// NewHandler 按配置装配分类器与全部策略处理器。
func NewHandler(
	cfg *config.Config,
	s store.Store,
	fetcher strategy.Fetcher,
	runner *task.Runner,
	logger *logrus.Logger,
) (*Handler, error) {
	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}

	cdnHosts := cfg.Cache.CDNHostSet()
	deps := strategy.Deps{
		Store:   s,
		Fetcher: fetcher,
		Tasks:   runner,
		Logger:  logger,
	}

	strategies := map[classify.Category]strategy.Handler{
		classify.CategoryDocument:  strategy.NetworkFirst{Deps: deps, TTL: cfg.Cache.DocumentTTL.DurationValue()},
		classify.CategoryCDN:       strategy.CacheFirstRefresh{Deps: deps, TTL: cfg.Cache.CDNTTL.DurationValue()},
		classify.CategoryImage:     strategy.StaleWhileRevalidate{Deps: deps},
		classify.CategoryScript:    strategy.StaleWhileRevalidate{Deps: deps},
		classify.CategoryImmutable: strategy.CacheFirst{Deps: deps, Label: "cache-first-immutable"},
		classify.CategoryGeneric:   strategy.CacheFirst{Deps: deps},
	}

	return &Handler{
		classifier: classify.New(cdnHosts, cfg.Cache.BypassPaths),
		strategies: strategies,
		fetcher:    fetcher,
		logger:     logger,
		origin:     origin,
		cdnHosts:   cdnHosts,
		version:    cfg.Global.Version,
	}, nil
}

// Handle 执行分类与策略分发，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	rawQuery := append([]byte(nil), c.Request().URI().QueryString()...)
	cleanPath := normalizeRequestPath(string(c.Request().URI().Path()))
	host := string(c.Request().Header.Peek(fiber.HeaderHost))
	if host == "" {
		host = c.Hostname()
	}

	category := h.classifier.Classify(classify.Request{
		Method:    c.Method(),
		Host:      host,
		Path:      cleanPath,
		Accept:    string(c.Request().Header.Peek(fiber.HeaderAccept)),
		FetchDest: string(c.Request().Header.Peek("Sec-Fetch-Dest")),
	})

	upstream := h.resolveUpstream(host, cleanPath, rawQuery)

	if category == classify.CategoryBypass {
		return h.forwardBypass(c, upstream, requestID, started)
	}

	handler := h.strategies[category]
	bucket := store.BucketName(category.Logical(), h.version)
	req := strategy.Request{
		Locator:  store.Locator{Bucket: bucket, Path: store.KeyPath(cleanPath, rawQuery)},
		Upstream: upstream,
		Header:   requestHeaders(c),
	}
	if category == classify.CategoryDocument {
		// 离线降级最后返回安装期预取的应用壳文档。
		req.Root = &store.Locator{Bucket: store.BucketName(store.LogicalCore, h.version), Path: "/"}
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := handler.Serve(ctx, req)
	if err != nil {
		h.logResult(category, handler.Name(), bucket, upstream.String(), requestID, 0, "", started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer result.Body.Close()

	server.WriteHeaders(c, result.Header)
	c.Set("X-Asset-Hub-Cache", string(result.Source))
	c.Set("X-Asset-Hub-Upstream", upstream.String())
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(result.Status)

	_, copyErr := io.Copy(c.Response().BodyWriter(), result.Body)
	h.logResult(category, handler.Name(), bucket, upstream.String(), requestID, result.Status, string(result.Source), started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("stream response failed: %v", copyErr))
	}
	return nil
}

// forwardBypass 纯透传：非 GET、控制脚本与应用清单走这里，永不落盘。
func (h *Handler) forwardBypass(c fiber.Ctx, upstream *url.URL, requestID string, started time.Time) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(c.Body()))
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	server.CopyHeaders(req.Header, requestHeaders(c))
	req.Header.Del("Accept-Encoding")
	req.Host = upstream.Host

	resp, err := h.doBypass(req)
	if err != nil {
		h.logResult(classify.CategoryBypass, "pass-through", "", upstream.String(), requestID, 0, "", started, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	server.WriteHeaders(c, resp.Header)
	c.Set("X-Asset-Hub-Cache", "bypass")
	c.Set("X-Asset-Hub-Upstream", upstream.String())
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	_, copyErr := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(classify.CategoryBypass, "pass-through", "", upstream.String(), requestID, resp.StatusCode, "bypass", started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("stream response failed: %v", copyErr))
	}
	return nil
}

// doBypass 复用 Fetcher 背后的 http.Client 执行任意方法的透传请求。
func (h *Handler) doBypass(req *http.Request) (*http.Response, error) {
	if client, ok := h.fetcher.(*Client); ok {
		return client.httpClient.Do(req)
	}
	return http.DefaultClient.Do(req)
}

// resolveUpstream 将请求映射到上游：CDN 域名直连 https://<host>，
// 其余一律回源站。
func (h *Handler) resolveUpstream(host, cleanPath string, rawQuery []byte) *url.URL {
	relative := &url.URL{Path: cleanPath, RawPath: cleanPath}
	if len(rawQuery) > 0 {
		relative.RawQuery = string(rawQuery)
	}

	normalized := server.NormalizeHost(host)
	if _, ok := h.cdnHosts[normalized]; ok {
		base := &url.URL{Scheme: "https", Host: normalized}
		return base.ResolveReference(relative)
	}
	return h.origin.ResolveReference(relative)
}

func (h *Handler) logResult(
	category classify.Category,
	strategyName string,
	bucket string,
	upstream string,
	requestID string,
	status int,
	cacheState string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(string(category), bucket, strategyName, cacheState)
	fields["action"] = "gateway"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("gateway_failed")
		return
	}
	h.logger.WithFields(fields).Info("gateway_complete")
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func requestHeaders(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}
