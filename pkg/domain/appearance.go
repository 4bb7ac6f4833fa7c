package domain

import "fmt"

// Appearance はあるページ上でのエンティティの1回の出現です。
// 1つの (Entity, PageNumber) の組につき高々1件で、後続の検出候補は無視されます。
type Appearance struct {
	PageNumber  int     // 検出レコード上のページ番号
	SourceImage string  // ページ全体画像のパス（ローカル or gs://）
	Box         Box     // 正規化バウンディングボックス
	Clothing    string  // 服装カテゴリ（デフォルト "standard"）
	Confidence  float64 // 同定マッチングの信頼度 (0-1)
	IsObject    bool    // オブジェクト出現はパディング方針が変わるのだ
}

// NewAppearance は不変条件を生成時に検証して Appearance を返します。
func NewAppearance(page int, sourceImage string, box Box, clothing string, confidence float64, isObject bool) (Appearance, error) {
	if page < 0 {
		return Appearance{}, fmt.Errorf("ページ番号が負です: %d", page)
	}
	if sourceImage == "" {
		return Appearance{}, fmt.Errorf("ページ %d の出現にソース画像がありません", page)
	}
	if confidence < 0 || confidence > 1 {
		return Appearance{}, fmt.Errorf("信頼度が [0,1] を外れています: %g", confidence)
	}
	return Appearance{
		PageNumber:  page,
		SourceImage: sourceImage,
		Box:         box,
		Clothing:    NormalizeClothing(clothing),
		Confidence:  confidence,
		IsObject:    isObject,
	}, nil
}
