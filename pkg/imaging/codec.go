package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif" // デコード対応のための登録のみ
)

const (
	// MimePNG は再生成用の可逆エンコードに使う MIME タイプです。
	MimePNG = "image/png"
	// MimeJPEG は表示用の非可逆エンコードに使う MIME タイプです。
	MimeJPEG = "image/jpeg"

	displayJPEGQuality = 90
)

// DecodeBytes はバイト列から画像をデコードします。
func DecodeBytes(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("画像のデコードに失敗しました: %w", err)
	}
	return img, format, nil
}

// Encode は画像をエンコードし、バイト列と MIME タイプを返します。
// lossless が true の場合は後段の再生成に備えて PNG、そうでなければ表示用 JPEG なのだ。
func Encode(img image.Image, lossless bool) ([]byte, string, error) {
	var buf bytes.Buffer
	if lossless {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("PNGエンコードに失敗しました: %w", err)
		}
		return buf.Bytes(), MimePNG, nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: displayJPEGQuality}); err != nil {
		return nil, "", fmt.Errorf("JPEGエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), MimeJPEG, nil
}

// EncodePNG は常に可逆 PNG でエンコードします。グリッド合成画像の出力に使います。
func EncodePNG(img image.Image) ([]byte, error) {
	data, _, err := Encode(img, true)
	return data, err
}
