package strategy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/store"
	"github.com/asset-hub/asset-hub/internal/task"
)

// Fetcher 抽象上游回源，便于测试注入假实现。
type Fetcher interface {
	Fetch(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error) {
	return f(ctx, target, header)
}

// Source 标记响应来源，供日志与 X-Asset-Hub-Cache 头使用。
type Source string

const (
	SourceNetwork  Source = "miss"
	SourceCache    Source = "hit"
	SourceStale    Source = "stale"
	SourceFallback Source = "fallback"
)

// Request 汇总策略执行所需的输入。Root 仅 Document 策略使用，指向
// 根页面文档的缓存键，作为离线降级的最后手段。
type Request struct {
	Locator  store.Locator
	Upstream *url.URL
	Header   http.Header
	Root     *store.Locator
}

// Result 是策略的最终产出：要么携带完整响应，要么整个调用返回 error。
// 不存在第三种状态，调用方永远不会被挂起。
type Result struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Source Source
}

// Handler 描述单个缓存策略的决策过程。
type Handler interface {
	Name() string
	Serve(ctx context.Context, req Request) (*Result, error)
}

// Deps 注入策略共享的存储、回源与后台任务执行器。Now 可在测试中替换时钟。
type Deps struct {
	Store   store.Store
	Fetcher Fetcher
	Tasks   *task.Runner
	Logger  *logrus.Logger
	Now     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// fetched 是读入内存后的上游响应。正文在尝试写缓存前已捕获完毕，
// 因此写入失败不影响把响应交还给请求方。
type fetched struct {
	status int
	header http.Header
	body   []byte
}

// fetch 执行一次上游请求并整体读入正文。fetch 错误即"网络失败"，
// 非 2xx 状态是正常响应，由各策略自行决定是否落盘。
func (d Deps) fetch(ctx context.Context, req Request) (*fetched, error) {
	resp, err := d.Fetcher.Fetch(ctx, req.Upstream, req.Header)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(resp.Header))
	for key, values := range resp.Header {
		header[key] = append([]string(nil), values...)
	}

	return &fetched{
		status: resp.StatusCode,
		header: header,
		body:   body,
	}, nil
}

// storeFetched 将 2xx 响应写入缓存。写入失败仅记录日志，响应照常返回。
func (d Deps) storeFetched(ctx context.Context, locator store.Locator, f *fetched) {
	if !store.Cacheable(f.status) {
		return
	}
	captured := store.Captured{
		Status:     f.status,
		Header:     f.header,
		CapturedAt: d.now().UTC(),
	}
	if _, err := d.Store.Put(ctx, locator, captured, bytes.NewReader(f.body)); err != nil {
		d.Logger.WithFields(logrus.Fields{
			"action": "cache_put",
			"bucket": locator.Bucket,
			"path":   locator.Path,
		}).WithError(err).Warn("cache_put_failed")
	}
}

// refreshDetached 在后台重新回源并刷新缓存。任务与请求生命周期解耦：
// 即便请求方取消，刷新也会跑完；错误被 Runner 吸收。
func (d Deps) refreshDetached(ctx context.Context, name string, req Request) {
	detached := context.WithoutCancel(ctx)
	d.Tasks.Go(name, func() error {
		f, err := d.fetch(detached, req)
		if err != nil {
			return err
		}
		d.storeFetched(detached, req.Locator, f)
		return nil
	})
}

func (f *fetched) result() *Result {
	return &Result{
		Status: f.status,
		Header: f.header,
		Body:   io.NopCloser(bytes.NewReader(f.body)),
		Source: SourceNetwork,
	}
}

func cacheResult(rr *store.ReadResult, source Source) *Result {
	status := rr.Entry.Captured.Status
	if status == 0 {
		status = http.StatusOK
	}
	return &Result{
		Status: status,
		Header: rr.Entry.Captured.Header,
		Body:   rr.Reader,
		Source: source,
	}
}

// fresh 判断条目是否仍在 TTL 之内。ttl<=0 表示该分类不做过期判断。
func (d Deps) fresh(entry store.Entry, ttl time.Duration) bool {
	if ttl <= 0 {
		return true
	}
	return entry.Captured.Age(d.now()) <= ttl
}
