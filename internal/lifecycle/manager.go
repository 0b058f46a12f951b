package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asset-hub/asset-hub/internal/store"
)

// 控制消息类型。两者均为幂等的 fire-and-forget 命令，处理过程中的
// 内部错误只记录日志，绝不跨控制边界抛出。
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageClearCache  = "CLEAR_CACHE"
)

// ErrUnknownMessage 表示控制消息类型不被识别，由路由层转换为 400。
var ErrUnknownMessage = errors.New("unknown control message")

const markerFile = ".active-version"

// Fetcher 抽象安装期预取用的上游访问。
type Fetcher interface {
	Fetch(ctx context.Context, target *url.URL, header http.Header) (*http.Response, error)
}

// Options 注入生命周期管理器的全部依赖，构造后只读。
type Options struct {
	Store       store.Store
	Fetcher     Fetcher
	Logger      *logrus.Logger
	Origin      *url.URL
	Version     string
	Manifest    []string
	StoragePath string
}

// Manager 管理网关自身的版本化存在：安装期预取清单、激活期清理旧版本
// 命名仓、响应控制消息。平台语义里 install 每个新版本只触发一次，这里
// 用存储根目录下的版本标记文件复现同样的"仅一次"行为。
type Manager struct {
	opts Options

	mu sync.Mutex
}

// NewManager 校验依赖并构造 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}
	if opts.Version == "" {
		return nil, errors.New("version is required")
	}
	if opts.StoragePath == "" {
		return nil, errors.New("storage path is required")
	}
	return &Manager{opts: opts}, nil
}

// Bootstrap 在启动时执行：版本标记与配置一致则直接视为已激活；
// 否则走 Install → Activate 的完整链路。
func (m *Manager) Bootstrap(ctx context.Context) error {
	active, err := m.ActiveVersion()
	if err != nil {
		return err
	}
	if active == m.opts.Version {
		m.opts.Logger.WithFields(logrus.Fields{
			"action":  "lifecycle_bootstrap",
			"version": active,
		}).Info("版本已激活，跳过安装")
		return nil
	}

	m.Install(ctx)
	return m.Activate(ctx)
}

// Install 并发预取清单中的每个关键资源并写入 core 仓。单条失败只记录
// 并跳过，不影响其余条目，Install 永不整体失败（尽力而为的预填充）。
func (m *Manager) Install(ctx context.Context) {
	bucket := store.BucketName(store.LogicalCore, m.opts.Version)

	var wg sync.WaitGroup
	for _, path := range m.opts.Manifest {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if err := m.prefetch(ctx, bucket, path); err != nil {
				m.opts.Logger.WithFields(logrus.Fields{
					"action": "lifecycle_install",
					"bucket": bucket,
					"path":   path,
				}).WithError(err).Warn("manifest_prefetch_failed")
			}
		}(path)
	}
	wg.Wait()

	m.opts.Logger.WithFields(logrus.Fields{
		"action":   "lifecycle_install",
		"bucket":   bucket,
		"manifest": len(m.opts.Manifest),
	}).Info("安装预取完成")
}

func (m *Manager) prefetch(ctx context.Context, bucket, path string) error {
	target := m.opts.Origin.ResolveReference(&url.URL{Path: path})
	resp, err := m.opts.Fetcher.Fetch(ctx, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !store.Cacheable(resp.StatusCode) {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	captured := store.Captured{
		Status:     resp.StatusCode,
		Header:     resp.Header,
		CapturedAt: time.Now().UTC(),
	}
	locator := store.Locator{Bucket: bucket, Path: path}
	_, err = m.opts.Store.Put(ctx, locator, captured, resp.Body)
	return err
}

// Activate 枚举现存命名仓，删除不在当前版本期望集合内的一切目录，
// 然后写入版本标记。幂等：重复调用只是重复确认集合与标记。
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets, err := m.opts.Store.Buckets(ctx)
	if err != nil {
		return fmt.Errorf("enumerate buckets: %w", err)
	}

	expected := make(map[string]struct{})
	for _, name := range store.ExpectedBuckets(m.opts.Version) {
		expected[name] = struct{}{}
	}

	for _, bucket := range buckets {
		if _, ok := expected[bucket]; ok {
			continue
		}
		if err := m.opts.Store.DeleteBucket(ctx, bucket); err != nil {
			m.opts.Logger.WithFields(logrus.Fields{
				"action": "lifecycle_activate",
				"bucket": bucket,
			}).WithError(err).Warn("bucket_delete_failed")
			continue
		}
		m.opts.Logger.WithFields(logrus.Fields{
			"action": "lifecycle_activate",
			"bucket": bucket,
		}).Info("清理过期命名仓")
	}

	if err := m.writeMarker(m.opts.Version); err != nil {
		return err
	}

	m.opts.Logger.WithFields(logrus.Fields{
		"action":  "lifecycle_activate",
		"version": m.opts.Version,
	}).Info("激活完成")
	return nil
}

// HandleMessage 处理控制消息。已知消息永远返回 nil（内部错误只记录），
// 未知消息返回 ErrUnknownMessage 供路由层响应 400。
func (m *Manager) HandleMessage(ctx context.Context, messageType string) error {
	switch strings.ToUpper(strings.TrimSpace(messageType)) {
	case MessageSkipWaiting:
		if err := m.Activate(ctx); err != nil {
			m.opts.Logger.WithField("action", "control_message").
				WithError(err).Warn("skip_waiting_failed")
		}
		return nil
	case MessageClearCache:
		m.clearAll(ctx)
		return nil
	default:
		return ErrUnknownMessage
	}
}

// clearAll 无条件删除全部命名仓与版本标记，不区分版本或分类。
func (m *Manager) clearAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets, err := m.opts.Store.Buckets(ctx)
	if err != nil {
		m.opts.Logger.WithField("action", "control_message").
			WithError(err).Warn("clear_cache_enumerate_failed")
		return
	}

	for _, bucket := range buckets {
		if err := m.opts.Store.DeleteBucket(ctx, bucket); err != nil {
			m.opts.Logger.WithFields(logrus.Fields{
				"action": "control_message",
				"bucket": bucket,
			}).WithError(err).Warn("clear_cache_delete_failed")
		}
	}

	if err := os.Remove(m.markerPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.opts.Logger.WithField("action", "control_message").
			WithError(err).Warn("clear_cache_marker_failed")
	}

	m.opts.Logger.WithFields(logrus.Fields{
		"action":  "control_message",
		"buckets": len(buckets),
	}).Info("缓存已全部清空")
}

// ActiveVersion 返回标记文件中的已激活版本；标记缺失时返回空串。
func (m *Manager) ActiveVersion() (string, error) {
	data, err := os.ReadFile(m.markerPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (m *Manager) markerPath() string {
	return filepath.Join(m.opts.StoragePath, markerFile)
}

func (m *Manager) writeMarker(version string) error {
	if err := os.MkdirAll(m.opts.StoragePath, 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.markerPath(), []byte(version+"\n"), 0o644)
}
