package preload

import (
	"context"

	"github.com/clipcache/clipcache/internal/cache"
)

// CachePreparer 把 ContentCache 封装为 Preparer：Fetch 成功后将本地路径
// 包装成可播放句柄。
func CachePreparer(store cache.Store) Preparer {
	return PreparerFunc(func(ctx context.Context, item Item) (Handle, error) {
		path, err := store.Fetch(ctx, item.URL, item.Identifier)
		if err != nil {
			return Handle{}, err
		}
		return Handle{Identifier: item.Identifier, LocalPath: path}, nil
	})
}
