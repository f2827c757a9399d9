package cache

import (
	"context"
	"errors"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<identifier>    # 原样存储的远端字节
//
// 每个 identifier 至多对应一个文件，文件的 ModTime 即写入时间，
// 作为清理阶段唯一的新旧信号。
type Store interface {
	// Fetch 返回 identifier 对应的本地文件路径。命中时直接返回且不访问网络
	// （identifier 视为不可变内容引用，不做 TTL/新鲜度校验）；未命中时经
	// Downloader 下载到临时文件后原子替换（先删旧、再 rename），随后触发一次
	// 清理。清理可能删除其它无关条目，调用方不得假设此前的 identifier 仍可解析。
	Fetch(ctx context.Context, remoteURL, identifier string) (string, error)

	// Contains 报告 identifier 是否已有缓存文件，不触发任何下载。
	Contains(ctx context.Context, identifier string) (bool, error)

	// SizeOnDisk 遍历缓存目录并累加文件大小，复杂度 O(n)，无聚合缓存。
	SizeOnDisk(ctx context.Context) (int64, error)

	// Clear 尽力删除缓存目录下的全部条目；单个删除失败会被收集后一并返回，
	// 但不会中断其余条目的删除。
	Clear(ctx context.Context) error

	// Snapshot 返回只读诊断信息，无副作用。
	Snapshot(ctx context.Context) (Stats, error)
}

// Downloader 抽象远端下载能力：将 rawURL 的内容写入 dir 下的临时文件并返回其路径。
type Downloader interface {
	Download(ctx context.Context, rawURL, dir string) (string, error)
}

// Entry 描述一个磁盘缓存条目，CreatedAt 取文件 ModTime（写入时间戳）。
type Entry struct {
	Identifier string
	FilePath   string
	SizeBytes  int64
	CreatedAt  time.Time
}

// Stats 是 Snapshot 的返回结构，来自一次目录扫描。
type Stats struct {
	FileCount      int   `json:"file_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// ErrRemoteFetch 表示回源下载失败（网络/超时/非 2xx）。
var ErrRemoteFetch = errors.New("remote fetch failed")

// ErrStorage 表示本地文件系统操作失败（建目录、rename、删除）。
var ErrStorage = errors.New("cache storage failure")

// ErrInvalidIdentifier 表示 identifier 为空或无法映射为合法文件名。
var ErrInvalidIdentifier = errors.New("invalid identifier")
