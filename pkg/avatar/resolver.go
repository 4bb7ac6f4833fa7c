// Package avatar は服装カテゴリに応じた参照アバターの解決と、
// File API への重複のないアップロードを担います。
package avatar

import (
	"context"
	"fmt"
	"time"

	"github.com/shouni/go-storybook-kit/pkg/domain"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	uploadCacheTTL     = 30 * time.Minute
	uploadCacheCleanup = 1 * time.Hour
)

// Uploader は参照画像を File API へアップロードするコラボレーターです。
// gemini-image-kit の GeminiImageCore がこれを満たします。
type Uploader interface {
	UploadFile(ctx context.Context, fileURL string) (string, error)
}

// Resolver はエンティティと服装カテゴリから参照アバターを引き当てます。
// 解決順序: 要求カテゴリのスタイル済みアバター -> "standard" のスタイル済み
// アバター -> エンティティの素の参照画像。コスチュームカテゴリも同じ連鎖で
// standard へフォールバックするのだ。
type Resolver struct {
	artStyle    string
	assets      Uploader
	uploaded    *cache.Cache // 参照URL -> File API URI
	uploadGroup singleflight.Group
}

// NewResolver は Resolver を生成します。assets は nil でもよく、
// その場合は URL 解決のみが利用できます。
func NewResolver(artStyle string, assets Uploader) *Resolver {
	return &Resolver{
		artStyle: artStyle,
		assets:   assets,
		uploaded: cache.New(uploadCacheTTL, uploadCacheCleanup),
	}
}

// ResolveURL はフォールバック方針に従って参照アバターの URL を返します。
// どの段でも見つからなければ false を返し、呼び出し側は参照なしでグリッドを組みます。
func (r *Resolver) ResolveURL(entity domain.Entity, clothing string) (string, bool) {
	clothing = domain.NormalizeClothing(clothing)

	if url, ok := entity.FindAvatar(r.artStyle, clothing); ok {
		return url, true
	}
	// コスチューム固有アバターが無い場合も含め、standard のスタイル済みへ落とす
	if clothing != domain.ClothingStandard {
		if url, ok := entity.FindAvatar(r.artStyle, domain.ClothingStandard); ok {
			return url, true
		}
	}
	if entity.ReferenceURL != "" {
		return entity.ReferenceURL, true
	}
	return "", false
}

// UploadAsset は参照画像を File API にアップロードし、URI を返します。
// singleflight と TTL キャッシュで同一 URL の多重アップロードを防ぐのだ。
func (r *Resolver) UploadAsset(ctx context.Context, referenceURL string) (string, error) {
	if r.assets == nil {
		return "", fmt.Errorf("アップロード用のコラボレーターが設定されていません")
	}
	if uri, ok := r.uploaded.Get(referenceURL); ok {
		return uri.(string), nil
	}

	val, err, _ := r.uploadGroup.Do(referenceURL, func() (interface{}, error) {
		// 待機中に他のゴルーチンが完了している可能性があるため再確認する
		if uri, ok := r.uploaded.Get(referenceURL); ok {
			return uri.(string), nil
		}

		uploadedURI, uploadErr := r.assets.UploadFile(ctx, referenceURL)
		if uploadErr != nil {
			return nil, uploadErr
		}

		r.uploaded.Set(referenceURL, uploadedURI, cache.DefaultExpiration)
		return uploadedURI, nil
	})
	if err != nil {
		return "", fmt.Errorf("参照画像のアップロードに失敗しました (%s): %w", referenceURL, err)
	}

	uri, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("singleflight から予期しない型が返されました: %T", val)
	}
	return uri, nil
}
