package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func TestCompositeRepairs(t *testing.T) {
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}

	t.Run("修復領域が矩形に貼り戻され周囲は変化しないこと", func(t *testing.T) {
		original := solidImage(100, 80, white)
		repair := PageRepair{
			PaddedBox: domain.Box{YMin: 0.25, XMin: 0.25, YMax: 0.75, XMax: 0.75},
			Image:     solidImage(10, 10, red),
		}

		result, err := CompositeRepairs(original, []PageRepair{repair})
		if err != nil {
			t.Fatalf("合成に失敗しました: %v", err)
		}
		if result.Bounds().Dx() != 100 || result.Bounds().Dy() != 80 {
			t.Fatalf("寸法が保存されていません: %dx%d", result.Bounds().Dx(), result.Bounds().Dy())
		}

		// 矩形は Rect(25,20,75,60) になる。中心は修復色、(0,0) は元のまま。
		r, _, _, _ := result.At(50, 40).RGBA()
		if r>>8 != 255 {
			t.Errorf("矩形内部が修復色になっていません: R=%d", r>>8)
		}
		cr, cg, cb, _ := result.At(0, 0).RGBA()
		if cr>>8 != 255 || cg>>8 != 255 || cb>>8 != 255 {
			t.Errorf("矩形外のピクセルが変化しています: (%d,%d,%d)", cr>>8, cg>>8, cb>>8)
		}
	})

	t.Run("修復が空でも元画像と同寸のコピーが返ること", func(t *testing.T) {
		original := solidImage(64, 48, white)
		result, err := CompositeRepairs(original, nil)
		if err != nil {
			t.Fatalf("合成に失敗しました: %v", err)
		}
		if result.Bounds().Dx() != 64 || result.Bounds().Dy() != 48 {
			t.Errorf("期待値 64x48, 実際の値 %dx%d", result.Bounds().Dx(), result.Bounds().Dy())
		}
	})

	t.Run("同じ修復を2回合成するとバイト単位で一致すること", func(t *testing.T) {
		repair := PageRepair{
			PaddedBox: domain.Box{YMin: 0.25, XMin: 0.25, YMax: 0.75, XMax: 0.75},
			Image:     solidImage(10, 10, red),
		}

		first, err := CompositeRepairs(solidImage(100, 80, white), []PageRepair{repair})
		if err != nil {
			t.Fatalf("1回目の合成に失敗しました: %v", err)
		}
		second, err := CompositeRepairs(solidImage(100, 80, white), []PageRepair{repair})
		if err != nil {
			t.Fatalf("2回目の合成に失敗しました: %v", err)
		}

		firstPNG, err := EncodePNG(first)
		if err != nil {
			t.Fatalf("エンコードに失敗しました: %v", err)
		}
		secondPNG, err := EncodePNG(second)
		if err != nil {
			t.Fatalf("エンコードに失敗しました: %v", err)
		}
		if !bytes.Equal(firstPNG, secondPNG) {
			t.Error("同一入力の合成結果がバイト単位で一致しません")
		}
	})

	t.Run("修復が空なら元画像とピクセルが完全一致すること", func(t *testing.T) {
		original := solidImage(64, 48, color.RGBA{R: 30, G: 60, B: 90, A: 255})
		result, err := CompositeRepairs(original, nil)
		if err != nil {
			t.Fatalf("合成に失敗しました: %v", err)
		}

		originalPNG, err := EncodePNG(original)
		if err != nil {
			t.Fatalf("エンコードに失敗しました: %v", err)
		}
		resultPNG, err := EncodePNG(result)
		if err != nil {
			t.Fatalf("エンコードに失敗しました: %v", err)
		}
		if !bytes.Equal(originalPNG, resultPNG) {
			t.Error("修復なしの合成が元画像と一致しません")
		}
	})

	t.Run("画像のない修復は読み飛ばされること", func(t *testing.T) {
		original := solidImage(64, 48, white)
		repairs := []PageRepair{{PaddedBox: domain.Box{YMin: 0, XMin: 0, YMax: 1, XMax: 1}}}
		result, err := CompositeRepairs(original, repairs)
		if err != nil {
			t.Fatalf("合成に失敗しました: %v", err)
		}
		r, g, b, _ := result.At(10, 10).RGBA()
		if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
			t.Errorf("nil 画像の修復でピクセルが変化しています: (%d,%d,%d)", r>>8, g>>8, b>>8)
		}
	})

	t.Run("nil の元画像はエラーになること", func(t *testing.T) {
		if _, err := CompositeRepairs(nil, nil); err == nil {
			t.Error("nil 元画像でエラーが返りませんでした")
		}
	})
}

func TestMeanAbsDiff(t *testing.T) {
	t.Run("同一画像の差分はゼロであること", func(t *testing.T) {
		img := solidImage(32, 32, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		diff, err := MeanAbsDiff(img, img)
		if err != nil {
			t.Fatalf("差分計算に失敗しました: %v", err)
		}
		if diff != 0 {
			t.Errorf("期待値 0, 実際の値 %f", diff)
		}
	})

	t.Run("白と黒の差分が最大に近いこと", func(t *testing.T) {
		white := solidImage(16, 16, color.RGBA{R: 255, G: 255, B: 255, A: 255})
		black := solidImage(16, 16, color.RGBA{A: 255})
		diff, err := MeanAbsDiff(white, black)
		if err != nil {
			t.Fatalf("差分計算に失敗しました: %v", err)
		}
		if diff < 0.99 {
			t.Errorf("期待値 ほぼ1.0, 実際の値 %f", diff)
		}
	})

	t.Run("寸法が異なる場合はリサイズして比較されること", func(t *testing.T) {
		c := color.RGBA{R: 200, G: 100, B: 50, A: 255}
		a := solidImage(40, 40, c)
		b := solidImage(20, 20, c)
		diff, err := MeanAbsDiff(a, b)
		if err != nil {
			t.Fatalf("差分計算に失敗しました: %v", err)
		}
		if diff > 0.01 {
			t.Errorf("同色画像の差分が大きすぎます: %f", diff)
		}
	})
}
