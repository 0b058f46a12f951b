package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/gateway"
	"github.com/asset-hub/asset-hub/internal/lifecycle"
	"github.com/asset-hub/asset-hub/internal/server"
	"github.com/asset-hub/asset-hub/internal/store"
)

func seedEntry(t *testing.T, s store.Store, bucket, path, body string) {
	t.Helper()
	_, err := s.Put(context.Background(),
		store.Locator{Bucket: bucket, Path: path},
		store.Captured{Status: http.StatusOK, CapturedAt: time.Now().UTC()},
		strings.NewReader(body),
	)
	if err != nil {
		t.Fatalf("seed %s%s error: %v", bucket, path, err)
	}
}

func TestBootstrapInstallsManifestOnce(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")

	if err := env.manager.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap error: %v", err)
	}

	for _, path := range env.cfg.Manifest {
		cached, err := env.store.Get(context.Background(), store.Locator{Bucket: "core-v1", Path: path})
		if err != nil {
			t.Fatalf("清单条目 %s 应预取进 core 仓: %v", path, err)
		}
		cached.Reader.Close()
	}

	active, err := env.manager.ActiveVersion()
	if err != nil {
		t.Fatalf("active version error: %v", err)
	}
	if active != "v1" {
		t.Fatalf("激活版本应为 v1, got %s", active)
	}

	hits := stub.TotalHits()
	if hits != len(env.cfg.Manifest) {
		t.Fatalf("预取回源次数应等于清单条目数, got %d", hits)
	}

	// 版本未变时再次启动不应重复安装。
	if err := env.manager.Bootstrap(context.Background()); err != nil {
		t.Fatalf("repeat bootstrap error: %v", err)
	}
	if got := stub.TotalHits(); got != hits {
		t.Fatalf("重复 bootstrap 不应再次回源, got %d", got)
	}
}

func TestBootstrapToleratesMissingManifestEntry(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")
	env.cfg.Manifest = append(env.cfg.Manifest, "/does-not-exist")

	manager := newVersionManager(t, env, stub.URL, "v1")
	if err := manager.Bootstrap(context.Background()); err != nil {
		t.Fatalf("单条预取失败不应让 bootstrap 整体失败: %v", err)
	}

	if _, err := env.store.Get(context.Background(), store.Locator{Bucket: "core-v1", Path: "/does-not-exist"}); err == nil {
		t.Fatalf("404 资源不应落盘")
	}
	cached, err := env.store.Get(context.Background(), store.Locator{Bucket: "core-v1", Path: "/"})
	if err != nil {
		t.Fatalf("其余清单条目仍应预取成功: %v", err)
	}
	cached.Reader.Close()
}

func newVersionManager(t *testing.T, env *gatewayEnv, upstreamURL, version string) *lifecycle.Manager {
	t.Helper()
	origin, err := url.Parse(upstreamURL)
	if err != nil {
		t.Fatalf("origin parse error: %v", err)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	manager, err := lifecycle.NewManager(lifecycle.Options{
		Store:       env.store,
		Fetcher:     gateway.NewClient(server.NewUpstreamClient(env.cfg)),
		Logger:      logger,
		Origin:      origin,
		Version:     version,
		Manifest:    env.cfg.Manifest,
		StoragePath: env.cfg.Global.StoragePath,
	})
	if err != nil {
		t.Fatalf("manager error: %v", err)
	}
	return manager
}

func TestVersionUpgradeRemovesForeignBuckets(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")

	seedEntry(t, env.store, "runtime-v1", "/", "old doc")
	seedEntry(t, env.store, "static-v1", "/css/site.css", "old css")
	seedEntry(t, env.store, "tmp-leftover", "/junk", "junk")

	upgraded := newVersionManager(t, env, stub.URL, "v2")
	if err := upgraded.Bootstrap(context.Background()); err != nil {
		t.Fatalf("upgrade bootstrap error: %v", err)
	}

	buckets, err := env.store.Buckets(context.Background())
	if err != nil {
		t.Fatalf("buckets error: %v", err)
	}
	for _, bucket := range buckets {
		if !strings.HasSuffix(bucket, "-v2") {
			t.Fatalf("激活后不应残留非 v2 命名仓: %v", buckets)
		}
	}

	active, err := upgraded.ActiveVersion()
	if err != nil {
		t.Fatalf("active version error: %v", err)
	}
	if active != "v2" {
		t.Fatalf("升级后激活版本应为 v2, got %s", active)
	}
}

func postControl(t *testing.T, env *gatewayEnv, body string) *http.Response {
	t.Helper()
	req := httptest.NewRequest("POST", "http://site.local/-/control", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func TestControlSkipWaitingActivatesImmediately(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")

	seedEntry(t, env.store, "runtime-v0.9", "/", "stale doc")

	resp := postControl(t, env, `{"type":"SKIP_WAITING"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("SKIP_WAITING 应返回 202, got %d", resp.StatusCode)
	}

	buckets, err := env.store.Buckets(context.Background())
	if err != nil {
		t.Fatalf("buckets error: %v", err)
	}
	for _, bucket := range buckets {
		if bucket == "runtime-v0.9" {
			t.Fatalf("SKIP_WAITING 后旧版本仓应被清理: %v", buckets)
		}
	}

	active, err := env.manager.ActiveVersion()
	if err != nil {
		t.Fatalf("active version error: %v", err)
	}
	if active != "v1" {
		t.Fatalf("激活版本应为 v1, got %s", active)
	}
}

func TestControlClearCacheEmptiesAllBuckets(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")

	seedEntry(t, env.store, "runtime-v1", "/", "doc")
	seedEntry(t, env.store, "static-v1", "/css/site.css", "css")

	resp := postControl(t, env, `{"type":"CLEAR_CACHE"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("CLEAR_CACHE 应返回 202, got %d", resp.StatusCode)
	}

	buckets, err := env.store.Buckets(context.Background())
	if err != nil {
		t.Fatalf("buckets error: %v", err)
	}
	if len(buckets) != 0 {
		t.Fatalf("清空后不应残留命名仓: %v", buckets)
	}

	active, err := env.manager.ActiveVersion()
	if err != nil {
		t.Fatalf("active version error: %v", err)
	}
	if active != "" {
		t.Fatalf("清空后版本标记应被移除, got %s", active)
	}
}

func TestControlRejectsUnknownAndEmptyMessages(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")

	resp := postControl(t, env, `{"type":"SELF_DESTRUCT"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("未知消息应返回 400, got %d", resp.StatusCode)
	}

	resp = postControl(t, env, `{}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("缺失类型应返回 400, got %d", resp.StatusCode)
	}
}

func TestStoresDiagnosticsListsBuckets(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()
	env := newGatewayEnv(t, stub.URL, "v1")

	seedEntry(t, env.store, "runtime-v1", "/", "doc")

	req := httptest.NewRequest("GET", "http://site.local/-/stores", nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"runtime-v1"`) {
		t.Fatalf("诊断输出应包含命名仓: %s", body)
	}
	if !strings.Contains(body, `"version":"v1"`) {
		t.Fatalf("诊断输出应包含版本: %s", body)
	}

	health, err := env.app.Test(httptest.NewRequest("GET", "http://site.local/-/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("healthz 应返回 200, got %d", health.StatusCode)
	}
}
