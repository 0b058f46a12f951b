package store

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理版本化命名仓的磁盘读写。磁盘布局遵循：
//
//	<StoragePath>/<bucket>/<path>            # 响应正文
//	<StoragePath>/<bucket>/<path>.meta.json  # 状态码/头部/捕获时间
//
// bucket 名称内嵌版本号（如 runtime-v2.6），激活清理时按目录整体删除。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将捕获的响应写入缓存。实现需通过临时文件 + rename 保证写入原子性，
	// 并在失败时清理临时文件。非 2xx 响应返回 ErrNotCacheable，永不落盘。
	Put(ctx context.Context, locator Locator, captured Captured, body io.Reader) (*Entry, error)

	// Remove 删除正文与元数据文件，条目不存在时视为成功。
	Remove(ctx context.Context, locator Locator) error

	// Buckets 枚举当前存在的全部命名仓。
	Buckets(ctx context.Context) ([]string, error)

	// BucketInfo 统计单个命名仓的条目数与字节数，供诊断端使用。
	BucketInfo(ctx context.Context, name string) (BucketStats, error)

	// DeleteBucket 整体删除一个命名仓，不存在时视为成功。
	DeleteBucket(ctx context.Context, name string) error
}

// Locator 唯一定位一个缓存条目（命名仓 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Bucket string
	Path   string
}

// Captured 描述被捕获响应的不可变元数据。CapturedAt 是新鲜度计算的唯一依据。
type Captured struct {
	Status     int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Age 返回条目距捕获时刻的存活时长。
func (c Captured) Age(now time.Time) time.Duration {
	return now.Sub(c.CapturedAt)
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及捕获元数据。
type Entry struct {
	Locator   Locator  `json:"locator"`
	FilePath  string   `json:"file_path"`
	SizeBytes int64    `json:"size_bytes"`
	Captured  Captured `json:"captured"`
}

// ReadResult 组合 Entry 与正文 Reader，便于网关直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// BucketStats 汇总单个命名仓的体量信息。
type BucketStats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"size_bytes"`
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrNotCacheable 表示响应状态码不允许写入（仅 2xx 可落盘）。
	ErrNotCacheable = errors.New("response not cacheable")
)

// 逻辑仓名称，实际目录名由 BucketName 加版本后缀得到。
const (
	LogicalCore    = "core"
	LogicalStatic  = "static"
	LogicalRuntime = "runtime"
	LogicalCDN     = "cdn"
)

// BucketName 拼接逻辑仓与版本号，例如 ("runtime", "v2.6") -> "runtime-v2.6"。
func BucketName(logical, version string) string {
	return logical + "-" + version
}

// ExpectedBuckets 返回指定版本应存在的全部命名仓，激活清理据此判断去留。
func ExpectedBuckets(version string) []string {
	logicals := []string{LogicalCore, LogicalStatic, LogicalRuntime, LogicalCDN}
	result := make([]string, len(logicals))
	for i, logical := range logicals {
		result[i] = BucketName(logical, version)
	}
	return result
}

// KeyPath 将请求路径与查询串折叠为缓存键路径。带查询的请求追加
// /__qs/<sha1> 后缀，保证键是文件系统安全的且同 URL 同键。
func KeyPath(path string, rawQuery []byte) string {
	if len(rawQuery) == 0 {
		return path
	}
	sum := sha1.Sum(rawQuery)
	return path + "/__qs/" + hex.EncodeToString(sum[:])
}

// Cacheable 判断状态码是否允许写入缓存。
func Cacheable(status int) bool {
	return status >= 200 && status < 300
}
