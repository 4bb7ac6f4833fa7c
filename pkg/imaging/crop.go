package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/shouni/go-storybook-kit/pkg/domain"

	xdraw "golang.org/x/image/draw"
)

// ErrDegenerateBox は面積のないボックスからの切り出し要求を示すセンチネルです。
// 呼び出し側はこのエラーを「その出現をスキップする」として扱い、致命傷にはしません。
var ErrDegenerateBox = errors.New("ボックスが欠落しているか面積がありません")

// PaddingPolicy はボックス自身の幅・高さに対する比率で余白を指定します。
type PaddingPolicy struct {
	Top    float64
	Bottom float64
	Left   float64
	Right  float64
}

// FigurePadding は人物用の非対称パディングです。
// 頭部の切り落としを防ぐため上方向に厚く、下方向はゼロなのだ。
func FigurePadding() PaddingPolicy {
	return PaddingPolicy{Top: 0.10, Left: 0.05, Right: 0.05}
}

// ObjectPadding はオブジェクト用の全方向一律パディングです。
func ObjectPadding() PaddingPolicy {
	return UniformPadding(0.15)
}

// UniformPadding は全方向同率のパディングを生成します。
func UniformPadding(ratio float64) PaddingPolicy {
	return PaddingPolicy{Top: ratio, Bottom: ratio, Left: ratio, Right: ratio}
}

// PolicyFor は出現の種別に応じたパディング方針を返すのだ。
func PolicyFor(app domain.Appearance) PaddingPolicy {
	if app.IsObject {
		return ObjectPadding()
	}
	return FigurePadding()
}

// Crop は1つの出現から切り出された領域です。
// PaddedBox は実際に抽出された正規化領域で、後段の再合成の唯一の真実なのだ。
// ピクセル座標をソース寸法で割った値そのものなので、切り出し画像が後で
// リサイズされても元ページ上の位置は正確に復元できるのだよ。
type Crop struct {
	Image          image.Image
	Data           []byte
	MimeType       string
	PaddedBox      domain.Box
	OriginalWidth  int
	OriginalHeight int
	Appearance     domain.Appearance
}

// ExtractCrop はソース画像から正規化ボックス＋パディング方針に従って領域を切り出します。
// forRegeneration が true の場合は再生成に備えて可逆エンコードを選択します。
func ExtractCrop(src image.Image, app domain.Appearance, pol PaddingPolicy, forRegeneration bool) (*Crop, error) {
	if src == nil {
		return nil, fmt.Errorf("ソース画像が nil です")
	}
	box := app.Box
	if box.IsDegenerate() {
		return nil, ErrDegenerateBox
	}

	bounds := src.Bounds()
	srcW := float64(bounds.Dx())
	srcH := float64(bounds.Dy())

	// パディングはボックス自身の寸法を基準にピクセル空間で計算するのだ
	padTop := box.Height() * srcH * pol.Top
	padBottom := box.Height() * srcH * pol.Bottom
	padLeft := box.Width() * srcW * pol.Left
	padRight := box.Width() * srcW * pol.Right

	x0 := int(math.Round(box.XMin*srcW - padLeft))
	y0 := int(math.Round(box.YMin*srcH - padTop))
	x1 := int(math.Round(box.XMax*srcW + padRight))
	y1 := int(math.Round(box.YMax*srcH + padBottom))

	// ソース画像の端を越えないように切り詰める
	x0 = clampInt(x0, 0, bounds.Dx())
	y0 = clampInt(y0, 0, bounds.Dy())
	x1 = clampInt(x1, 0, bounds.Dx())
	y1 = clampInt(y1, 0, bounds.Dy())

	if x1 <= x0 || y1 <= y0 {
		return nil, ErrDegenerateBox
	}

	cw := x1 - x0
	ch := y1 - y0
	cropped := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(cropped, cropped.Bounds(), src, bounds.Min.Add(image.Pt(x0, y0)), draw.Src)

	data, mime, err := Encode(cropped, forRegeneration)
	if err != nil {
		return nil, err
	}

	paddedBox := domain.Box{
		YMin: float64(y0) / srcH,
		XMin: float64(x0) / srcW,
		YMax: float64(y1) / srcH,
		XMax: float64(x1) / srcW,
	}

	return &Crop{
		Image:          cropped,
		Data:           data,
		MimeType:       mime,
		PaddedBox:      paddedBox,
		OriginalWidth:  cw,
		OriginalHeight: ch,
		Appearance:     app,
	}, nil
}

// Resize は補間付きスケーリングで画像を指定寸法に変形します。
func Resize(src image.Image, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("リサイズ先の寸法が不正です: %dx%d", width, height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst, nil
}

// PixelRect は正規化ボックスを指定寸法のピクセル矩形に変換します。
func PixelRect(b domain.Box, width, height int) image.Rectangle {
	return image.Rect(
		int(math.Round(b.XMin*float64(width))),
		int(math.Round(b.YMin*float64(height))),
		int(math.Round(b.XMax*float64(width))),
		int(math.Round(b.YMax*float64(height))),
	)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
