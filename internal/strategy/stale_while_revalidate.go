package strategy

import (
	"context"
	"errors"

	"github.com/asset-hub/asset-hub/internal/store"
)

// StaleWhileRevalidate 服务 Image/Script 分类：有缓存就立即返回，
// 不看年龄，同时派发后台刷新供下次使用；没有缓存才等待网络结果。
type StaleWhileRevalidate struct {
	Deps Deps
}

func (s StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

func (s StaleWhileRevalidate) Serve(ctx context.Context, req Request) (*Result, error) {
	cached, err := s.Deps.Store.Get(ctx, req.Locator)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.Deps.Logger.WithError(err).Warn("cache_get_failed")
	}

	if cached != nil {
		s.Deps.refreshDetached(ctx, "swr_refresh", req)
		return cacheResult(cached, SourceCache), nil
	}

	f, fetchErr := s.Deps.fetch(ctx, req)
	if fetchErr != nil {
		return nil, fetchErr
	}
	s.Deps.storeFetched(ctx, req.Locator, f)
	return f.result(), nil
}
