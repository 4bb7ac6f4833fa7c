package imaging

import "image"

// MeanAbsDiff は2枚の画像の平均チャンネル差分を [0,1] で返します。
// 寸法が異なる場合は比較のために b を a の寸法へ変形してから計算するのだ。
// 「修復が実際に何かを変えたか」の判定（近同一チェック）に使います。
func MeanAbsDiff(a, b image.Image) (float64, error) {
	if a == nil || b == nil {
		return 0, ErrDegenerateBox
	}
	ab := a.Bounds()
	if b.Bounds().Dx() != ab.Dx() || b.Bounds().Dy() != ab.Dy() {
		resized, err := Resize(b, ab.Dx(), ab.Dy())
		if err != nil {
			return 0, err
		}
		b = resized
	}

	bb := b.Bounds()
	var total uint64
	var samples uint64
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ar, ag, abl, _ := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			br, bg, bbl, _ := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			total += absDiff(ar, br) + absDiff(ag, bg) + absDiff(abl, bbl)
			samples += 3
		}
	}
	if samples == 0 {
		return 0, nil
	}
	// RGBA() は 16bit 値を返すので 0xffff で正規化する
	return float64(total) / float64(samples) / 0xffff, nil
}

func absDiff(a, b uint32) uint64 {
	if a > b {
		return uint64(a - b)
	}
	return uint64(b - a)
}
