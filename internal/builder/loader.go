package builder

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/shouni/go-storybook-kit/pkg/imaging"

	"github.com/patrickmn/go-cache"
	"github.com/shouni/go-remote-io/remoteio"
	"golang.org/x/sync/singleflight"
)

// pageLoader はページ画像を読み込み、デコード済みの状態でキャッシュします。
// 同一ページを複数エンティティの検査が同時に参照するため、
// singleflight で同じパスへの読み込みは1回に束ねるのだ。
type pageLoader struct {
	reader remoteio.InputReader
	images *cache.Cache
	group  singleflight.Group
}

func newPageLoader(reader remoteio.InputReader) *pageLoader {
	return &pageLoader{
		reader: reader,
		images: cache.New(defaultCacheExpiration, cacheCleanupInterval),
	}
}

// Load は imaging.Loader を実装します。
func (l *pageLoader) Load(ctx context.Context, path string) (image.Image, error) {
	if v, ok := l.images.Get(path); ok {
		return v.(image.Image), nil
	}

	v, err, _ := l.group.Do(path, func() (interface{}, error) {
		// singleflight 待機中に他のゴルーチンが完了している可能性があるので再確認
		if v, ok := l.images.Get(path); ok {
			return v, nil
		}

		rc, err := l.reader.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("ページ画像のオープンに失敗しました (%s): %w", path, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("ページ画像の読み込みに失敗しました (%s): %w", path, err)
		}
		img, _, err := imaging.DecodeBytes(data)
		if err != nil {
			return nil, fmt.Errorf("ページ画像のデコードに失敗しました (%s): %w", path, err)
		}

		l.images.Set(path, img, cache.DefaultExpiration)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}
