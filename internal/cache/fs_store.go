package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultMaxSizeBytes = 500 << 20
	defaultCleanupRatio = 0.75
)

// Options 控制缓存容量上限与清理目标；零值回退到 500MiB / 0.75。
type Options struct {
	MaxSizeBytes int64
	CleanupRatio float64
	Logger       *logrus.Logger
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string, downloader Downloader, opts Options) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	if downloader == nil {
		return nil, errors.New("downloader required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	maxSize := opts.MaxSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxSizeBytes
	}
	ratio := opts.CleanupRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = defaultCleanupRatio
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &fileStore{
		basePath:   abs,
		downloader: downloader,
		maxSize:    maxSize,
		ratio:      ratio,
		logger:     logger,
	}, nil
}

// fileStore 用单把目录级互斥锁串行化所有操作：清理阶段要扫描并改写整个目录，
// 粒度再细就会出现扫描与并发写交错。牺牲跨 identifier 的并行换取清理正确性。
type fileStore struct {
	basePath   string
	downloader Downloader
	maxSize    int64
	ratio      float64
	logger     *logrus.Logger

	mu sync.Mutex
}

func (s *fileStore) Fetch(ctx context.Context, remoteURL, identifier string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	filePath, err := s.entryPath(identifier)
	if err != nil {
		return "", err
	}

	if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
		return filePath, nil
	}

	tempPath, err := s.downloader.Download(ctx, remoteURL, s.basePath)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrRemoteFetch, identifier, err)
	}

	// 先删旧、再 rename：替换过程中最终路径要么是完整旧文件、要么是完整新文件。
	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Remove(tempPath)
		return "", fmt.Errorf("%w: replace %s: %w", ErrStorage, identifier, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("%w: move %s: %w", ErrStorage, identifier, err)
	}

	now := time.Now()
	if err := os.Chtimes(filePath, now, now); err != nil {
		return "", fmt.Errorf("%w: stamp %s: %w", ErrStorage, identifier, err)
	}

	s.evictLocked()
	return filePath, nil
}

func (s *fileStore) Contains(ctx context.Context, identifier string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(identifier)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w: stat %s: %w", ErrStorage, identifier, err)
	}
	return !info.IsDir(), nil
}

func (s *fileStore) SizeOnDisk(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	_, total, err := s.listLocked()
	return total, err
}

func (s *fileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return fmt.Errorf("%w: list cache dir: %w", ErrStorage, err)
	}

	var failures []error
	for _, entry := range dirEntries {
		path := filepath.Join(s.basePath, entry.Name())
		if err := os.Remove(path); err != nil {
			s.logger.WithFields(logrus.Fields{
				"action": "cache_clear",
				"entry":  entry.Name(),
			}).Warn(err.Error())
			failures = append(failures, err)
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%w: clear left %d entries: %w", ErrStorage, len(failures), errors.Join(failures...))
	}
	return nil
}

func (s *fileStore) Snapshot(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	default:
	}

	entries, total, err := s.listLocked()
	if err != nil {
		return Stats{}, err
	}
	return Stats{FileCount: len(entries), TotalSizeBytes: total}, nil
}

// evictLocked 在总量超过 maxSize 时按创建时间从旧到新删除条目，
// 直至总量回落到 maxSize × ratio。单个删除失败记录日志后跳过。
func (s *fileStore) evictLocked() {
	entries, total, err := s.listLocked()
	if err != nil {
		s.logger.WithField("action", "cache_evict").Warn(err.Error())
		return
	}
	if total <= s.maxSize {
		return
	}

	target := int64(float64(s.maxSize) * s.ratio)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})

	for _, entry := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(entry.FilePath); err != nil {
			s.logger.WithFields(logrus.Fields{
				"action":     "cache_evict",
				"identifier": entry.Identifier,
			}).Warn(err.Error())
			continue
		}
		total -= entry.SizeBytes
		s.logger.WithFields(logrus.Fields{
			"action":     "cache_evict",
			"identifier": entry.Identifier,
			"size_bytes": entry.SizeBytes,
		}).Info("cache entry evicted")
	}
}

// listLocked 扫描缓存目录，跳过子目录与 "." 前缀的下载中间文件。
func (s *fileStore) listLocked() ([]Entry, int64, error) {
	dirEntries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list cache dir: %w", ErrStorage, err)
	}

	var (
		entries []Entry
		total   int64
	)
	for _, entry := range dirEntries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Identifier: entry.Name(),
			FilePath:   filepath.Join(s.basePath, entry.Name()),
			SizeBytes:  info.Size(),
			CreatedAt:  info.ModTime(),
		})
		total += info.Size()
	}
	return entries, total, nil
}

func (s *fileStore) entryPath(identifier string) (string, error) {
	name, err := sanitizeIdentifier(identifier)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, name), nil
}

// sanitizeIdentifier 将调用方提供的 identifier 压缩为单一路径段；
// 去除前导 "."，避免与下载中间文件的隐藏命名空间冲突。
func sanitizeIdentifier(identifier string) (string, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}

	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		return "", fmt.Errorf("%w: %s", ErrInvalidIdentifier, identifier)
	}
	return name, nil
}
