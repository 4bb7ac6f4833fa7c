package imaging

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/shouni/go-storybook-kit/pkg/domain"

	xdraw "golang.org/x/image/draw"
)

// PageRepair は受理済みの修復領域1件です。
// PaddedBox は元ページの座標空間の正規化矩形で、矩形側が常に権威を持ちます。
type PageRepair struct {
	PaddedBox domain.Box
	Image     image.Image
}

// CompositeRepairs は元ページのコピーに修復領域群を貼り戻します。
// 修復領域は矩形いっぱいに変形され（アスペクト比は矩形優先）、
// 矩形は画像境界に切り詰められます。修復以外のピクセルには触れないのだ。
// 同一ページへの複数修復は1パスでまとめて合成されます。
func CompositeRepairs(original image.Image, repairs []PageRepair) (*image.RGBA, error) {
	if original == nil {
		return nil, fmt.Errorf("元画像が nil です")
	}

	bounds := original.Bounds()
	result := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(result, result.Bounds(), original, bounds.Min, draw.Src)

	for _, r := range repairs {
		if r.Image == nil {
			continue
		}
		rect := PixelRect(r.PaddedBox.Clamp(), bounds.Dx(), bounds.Dy())
		rect = rect.Intersect(result.Bounds())
		if rect.Empty() {
			// 切り詰め後に面積が残らない矩形はジオメトリ異常として破棄する
			continue
		}
		xdraw.CatmullRom.Scale(result, rect, r.Image, r.Image.Bounds(), xdraw.Src, nil)
	}

	// 合成後の寸法が元画像と一致しないのは欠陥なので、握りつぶさずに表面化させる
	if result.Bounds().Dx() != bounds.Dx() || result.Bounds().Dy() != bounds.Dy() {
		return nil, fmt.Errorf("合成後の寸法が一致しません: %dx%d (期待 %dx%d)",
			result.Bounds().Dx(), result.Bounds().Dy(), bounds.Dx(), bounds.Dy())
	}

	return result, nil
}
