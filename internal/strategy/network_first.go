package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/asset-hub/asset-hub/internal/store"
)

// NetworkFirst 服务 Document 分类：优先回源，成功则落盘并返回；
// 网络失败时按 新鲜缓存 → 根文档降级 → 过期缓存 → 透传失败 的顺序兜底。
// 过期的精确命中排在根降级之后，避免把明显陈旧的页面当作首选。
type NetworkFirst struct {
	Deps Deps
	TTL  time.Duration
}

func (s NetworkFirst) Name() string { return "network-first" }

func (s NetworkFirst) Serve(ctx context.Context, req Request) (*Result, error) {
	f, fetchErr := s.Deps.fetch(ctx, req)
	if fetchErr == nil {
		s.Deps.storeFetched(ctx, req.Locator, f)
		return f.result(), nil
	}

	cached, err := s.Deps.Store.Get(ctx, req.Locator)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.Deps.Logger.WithError(err).Warn("cache_get_failed")
	}

	if cached != nil && s.Deps.fresh(cached.Entry, s.TTL) {
		return cacheResult(cached, SourceCache), nil
	}

	if req.Root != nil {
		root, rootErr := s.Deps.Store.Get(ctx, *req.Root)
		if rootErr == nil {
			if cached != nil {
				cached.Reader.Close()
			}
			return cacheResult(root, SourceFallback), nil
		}
	}

	if cached != nil {
		return cacheResult(cached, SourceStale), nil
	}

	return nil, fetchErr
}
