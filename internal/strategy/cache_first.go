package strategy

import (
	"context"
	"errors"

	"github.com/asset-hub/asset-hub/internal/store"
)

// CacheFirst 服务 ImmutableStatic 与 Generic 分类：命中即返回，永不做
// 新鲜度判断，也不做后台刷新（构建期指纹化的资源视为永久有效，Generic
// 按设计同样无过期）。未命中则回源、2xx 落盘并返回；双失则透传网络错误。
type CacheFirst struct {
	Deps  Deps
	Label string
}

func (s CacheFirst) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "cache-first"
}

func (s CacheFirst) Serve(ctx context.Context, req Request) (*Result, error) {
	cached, err := s.Deps.Store.Get(ctx, req.Locator)
	if err == nil {
		return cacheResult(cached, SourceCache), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		s.Deps.Logger.WithError(err).Warn("cache_get_failed")
	}

	f, fetchErr := s.Deps.fetch(ctx, req)
	if fetchErr != nil {
		return nil, fetchErr
	}
	s.Deps.storeFetched(ctx, req.Locator, f)
	return f.result(), nil
}
