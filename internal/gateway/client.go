package gateway

import (
	"context"
	"net/http"
	"net/url"

	"github.com/asset-hub/asset-hub/internal/server"
)

// Client 基于共享 http.Client 实现 strategy.Fetcher / lifecycle.Fetcher，
// 负责构造上游请求：透传可转发头、剥离 hop-by-hop 与 Accept-Encoding。
type Client struct {
	httpClient *http.Client
}

// NewClient 包装共享 http.Client。
func NewClient(httpClient *http.Client) *Client {
	return &Client{httpClient: httpClient}
}

// Fetch 执行一次 GET 回源。header 可为 nil（安装期预取没有原始请求头）。
func (c *Client) Fetch(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}

	if header != nil {
		server.CopyHeaders(req.Header, header)
	}
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)

	return c.httpClient.Do(req)
}
