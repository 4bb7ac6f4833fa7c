package domain

import "fmt"

// Box は画像内の領域を示す正規化バウンディングボックスです。
// 各成分は [0,1] の範囲で、検出サービスの [yMin, xMin, yMax, xMax] 順序に対応します。
type Box struct {
	YMin float64 `json:"y_min"`
	XMin float64 `json:"x_min"`
	YMax float64 `json:"y_max"`
	XMax float64 `json:"x_max"`
}

// NewBox は各成分を検証してから Box を生成するのだ。
// 範囲外の値や上下が逆転した座標は生成時点で弾くのだよ。
func NewBox(yMin, xMin, yMax, xMax float64) (Box, error) {
	b := Box{YMin: yMin, XMin: xMin, YMax: yMax, XMax: xMax}
	for _, v := range []float64{yMin, xMin, yMax, xMax} {
		if v < 0 || v > 1 {
			return Box{}, fmt.Errorf("ボックス成分が正規化範囲 [0,1] を外れています: %+v", b)
		}
	}
	if yMax < yMin || xMax < xMin {
		return Box{}, fmt.Errorf("ボックスの座標が逆転しています: %+v", b)
	}
	return b, nil
}

// BoxFromSlice は検出サービスのワイヤ形式（4要素配列）から Box を構築します。
func BoxFromSlice(s []float64) (Box, error) {
	if len(s) != 4 {
		return Box{}, fmt.Errorf("ボックスは4要素 [yMin,xMin,yMax,xMax] が必要です: 実際は %d 要素", len(s))
	}
	return NewBox(s[0], s[1], s[2], s[3])
}

// Width はボックスの正規化幅を返します。
func (b Box) Width() float64 { return b.XMax - b.XMin }

// Height はボックスの正規化高さを返します。
func (b Box) Height() float64 { return b.YMax - b.YMin }

// IsDegenerate は面積を持たないボックスかどうかを判定するのだ。
// 欠落ボックス（ゼロ値）もここで拾われるのだよ。
func (b Box) IsDegenerate() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Encloses は other がこのボックスに成分ごとに収まっているかを判定します。
func (b Box) Encloses(other Box) bool {
	return b.YMin <= other.YMin && b.XMin <= other.XMin &&
		b.YMax >= other.YMax && b.XMax >= other.XMax
}

// Clamp は全成分を [0,1] に切り詰めた新しい Box を返します。
func (b Box) Clamp() Box {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return Box{
		YMin: clamp01(b.YMin),
		XMin: clamp01(b.XMin),
		YMax: clamp01(b.YMax),
		XMax: clamp01(b.XMax),
	}
}

// Slice はワイヤ形式と同じ [yMin,xMin,yMax,xMax] 順のスライスを返します。
func (b Box) Slice() []float64 {
	return []float64{b.YMin, b.XMin, b.YMax, b.XMax}
}
