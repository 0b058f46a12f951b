package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

// siteStub 模拟落地页站点的源站：应用壳文档、静态资源、接口与控制脚本。
// 每条请求按路径计数，供断言回源次数；Close 后即视为"离线"。
type siteStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu      sync.Mutex
	hits    map[string]int
	docBody []byte
}

func newSiteStub(t *testing.T) *siteStub {
	t.Helper()

	stub := &siteStub{
		hits:    make(map[string]int),
		docBody: []byte("<html>landing v1</html>"),
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.URL.Path]++
		doc := append([]byte(nil), stub.docBody...)
		stub.mu.Unlock()

		switch r.URL.Path {
		case "/", "/about":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write(doc)
		case "/css/site.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = w.Write([]byte("body{margin:0}"))
		case "/fonts/inter.woff2":
			w.Header().Set("Content-Type", "font/woff2")
			_, _ = w.Write([]byte("woff2-bytes"))
		case "/img/hero.webp":
			w.Header().Set("Content-Type", "image/webp")
			_, _ = w.Write([]byte("webp-bytes"))
		case "/js/app.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("console.log('app')"))
		case "/api/currency":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"usd":7.12}`))
		case "/sw.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("// service worker"))
		default:
			http.NotFound(w, r)
		}
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start upstream stub listener: %v", err)
	}
	server := &http.Server{Handler: handler}

	stub.server = server
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = server.Serve(listener)
	}()

	return stub
}

func (s *siteStub) Close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// PathHits 返回指定路径累计的回源次数。
func (s *siteStub) PathHits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// TotalHits 返回所有路径的回源次数之和。
func (s *siteStub) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// UpdateDocument 模拟源站发布新版落地页。
func (s *siteStub) UpdateDocument(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docBody = body
}

func TestSiteStubServesLandingAssets(t *testing.T) {
	stub := newSiteStub(t)
	defer stub.Close()

	resp, err := http.Get(stub.URL + "/")
	if err != nil {
		t.Fatalf("document request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "<html>landing v1</html>" {
		t.Fatalf("document body unexpected: %s", string(body))
	}

	imgResp, err := http.Get(stub.URL + "/img/hero.webp")
	if err != nil {
		t.Fatalf("image request failed: %v", err)
	}
	imgResp.Body.Close()
	if imgResp.Header.Get("Content-Type") != "image/webp" {
		t.Fatalf("image content type unexpected: %s", imgResp.Header.Get("Content-Type"))
	}

	missResp, err := http.Get(stub.URL + "/nope")
	if err != nil {
		t.Fatalf("miss request failed: %v", err)
	}
	missResp.Body.Close()
	if missResp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path should 404, got %d", missResp.StatusCode)
	}

	if got := stub.PathHits("/"); got != 1 {
		t.Fatalf("expected 1 document hit, got %d", got)
	}
	if got := stub.TotalHits(); got != 3 {
		t.Fatalf("expected 3 recorded requests, got %d", got)
	}
}
