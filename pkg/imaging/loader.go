package imaging

import (
	"context"
	"image"
)

// Loader はパス（ローカル or gs://）からデコード済み画像を取得する入力源です。
// 実装側でのキャッシュを想定しており、同じページ画像を複数エンティティが
// 読む場合の再デコードを避けられます。
type Loader interface {
	Load(ctx context.Context, path string) (image.Image, error)
}
