package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/asset-hub/asset-hub/internal/store"
)

// CacheFirstRefresh 服务 CDN 分类：TTL 内的命中立即返回，同时派发一次
// 后台刷新；未命中或过期则同步回源，网络失败时退回任意年龄的缓存副本。
// 命中路径的响应延迟与后台刷新完全无关。
type CacheFirstRefresh struct {
	Deps Deps
	TTL  time.Duration
}

func (s CacheFirstRefresh) Name() string { return "cache-first-refresh" }

func (s CacheFirstRefresh) Serve(ctx context.Context, req Request) (*Result, error) {
	cached, err := s.Deps.Store.Get(ctx, req.Locator)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.Deps.Logger.WithError(err).Warn("cache_get_failed")
	}

	if cached != nil && s.Deps.fresh(cached.Entry, s.TTL) {
		s.Deps.refreshDetached(ctx, "cdn_refresh", req)
		return cacheResult(cached, SourceCache), nil
	}

	f, fetchErr := s.Deps.fetch(ctx, req)
	if fetchErr == nil {
		if cached != nil {
			cached.Reader.Close()
		}
		s.Deps.storeFetched(ctx, req.Locator, f)
		return f.result(), nil
	}

	if cached != nil {
		return cacheResult(cached, SourceStale), nil
	}
	return nil, fetchErr
}
