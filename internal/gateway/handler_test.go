package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/config"
	"github.com/asset-hub/asset-hub/internal/server"
	"github.com/asset-hub/asset-hub/internal/store"
	"github.com/asset-hub/asset-hub/internal/strategy"
	"github.com/asset-hub/asset-hub/internal/task"
)

func testConfig() *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:  5000,
			StoragePath: "./storage",
			Version:     "v1",
			Origin:      "http://origin.local",
		},
		Cache: config.CacheConfig{
			DocumentTTL: config.Duration(24 * time.Hour),
			CDNTTL:      config.Duration(7 * 24 * time.Hour),
			CDNHosts:    []string{"cdn.jsdelivr.net"},
			BypassPaths: []string{"/sw.js", "/site.webmanifest"},
		},
	}
}

func newTestHandler(t *testing.T, fetcher strategy.Fetcher) (*Handler, store.Store) {
	t.Helper()
	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	handler, err := NewHandler(testConfig(), s, fetcher, task.NewRunner(logger), logger)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return handler, s
}

func newTestApp(t *testing.T, handler *Handler) *fiber.App {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Gateway:    handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return app
}

func staticFetcher(status int, body string) strategy.FetcherFunc {
	return func(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(bytes.NewReader([]byte(body))),
		}, nil
	}
}

func TestResolveUpstreamCDNGoesDirect(t *testing.T) {
	handler, _ := newTestHandler(t, staticFetcher(200, "x"))

	cdn := handler.resolveUpstream("cdn.jsdelivr.net:443", "/npm/swiper.js", nil)
	if cdn.Scheme != "https" || cdn.Host != "cdn.jsdelivr.net" || cdn.Path != "/npm/swiper.js" {
		t.Fatalf("CDN 请求应直连原域名, got %s", cdn.String())
	}

	origin := handler.resolveUpstream("site.local", "/img/hero.webp", []byte("w=1200"))
	if origin.Host != "origin.local" {
		t.Fatalf("非 CDN 请求应回源站, got %s", origin.String())
	}
	if origin.RawQuery != "w=1200" {
		t.Fatalf("查询串应透传上游, got %s", origin.RawQuery)
	}
}

func TestHandleServesAndCachesGeneric(t *testing.T) {
	handler, s := newTestHandler(t, staticFetcher(200, "generic-body"))
	app := newTestApp(t, handler)

	doGet := func() *http.Response {
		req := httptest.NewRequest("GET", "http://site.local/api/currency", nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		return resp
	}

	resp := doGet()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Asset-Hub-Cache"); got != "miss" {
		t.Fatalf("首次请求应为 miss, got %s", got)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "generic-body" {
		t.Fatalf("body mismatch: %s", string(body))
	}

	locator := store.Locator{Bucket: "runtime-v1", Path: "/api/currency"}
	cached, err := s.Get(context.Background(), locator)
	if err != nil {
		t.Fatalf("首次请求后应已落盘: %v", err)
	}
	cached.Reader.Close()

	resp2 := doGet()
	if got := resp2.Header.Get("X-Asset-Hub-Cache"); got != "hit" {
		t.Fatalf("二次请求应命中缓存, got %s", got)
	}
	resp2.Body.Close()
}

func TestHandleNonGETNeverTouchesStore(t *testing.T) {
	// 透传路径经由真实上游，验证 POST 不产生任何缓存条目。
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("posted"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Global.Origin = upstream.URL

	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	client := NewClient(upstream.Client())
	handler, err := NewHandler(cfg, s, client, task.NewRunner(logger), logger)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	app := newTestApp(t, handler)

	req := httptest.NewRequest("POST", "http://site.local/api/subscribe", bytes.NewReader([]byte("email=x")))
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Asset-Hub-Cache"); got != "bypass" {
		t.Fatalf("非 GET 应旁路, got %s", got)
	}

	buckets, err := s.Buckets(context.Background())
	if err != nil {
		t.Fatalf("buckets error: %v", err)
	}
	if len(buckets) != 0 {
		t.Fatalf("旁路请求不应创建任何命名仓: %v", buckets)
	}
}

func TestHandleUpstreamFailureReturnsBadGateway(t *testing.T) {
	fetcher := strategy.FetcherFunc(func(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error) {
		return nil, context.DeadlineExceeded
	})
	handler, _ := newTestHandler(t, fetcher)
	app := newTestApp(t, handler)

	req := httptest.NewRequest("GET", "http://site.local/api/currency", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("双未命中应返回 502, got %d", resp.StatusCode)
	}
}
