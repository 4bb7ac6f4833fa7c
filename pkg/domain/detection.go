package domain

// このファイルはバウンディングボックス検出サービス（外部コラボレーター）の
// ワイヤ形式を定義します。ボックスは4要素の正規化配列 [yMin,xMin,yMax,xMax] です。

// Figure はページ上で検出された人物・キャラクターの1件です。
// Name は同定済みの場合のアイデンティティラベル、Label は自由記述の検出ラベルです。
type Figure struct {
	Name       string    `json:"name,omitempty"`
	Label      string    `json:"label"`
	FaceBox    []float64 `json:"face_box,omitempty"`
	BodyBox    []float64 `json:"body_box,omitempty"`
	Confidence float64   `json:"confidence"`
}

// PreferredBox は全身ボックスを優先し、なければ顔ボックスを返すのだ。
// どちらも不正なら false を返して、その検出は呼び出し側でスキップされるのだよ。
func (f Figure) PreferredBox() (Box, bool) {
	if b, err := BoxFromSlice(f.BodyBox); err == nil && !b.IsDegenerate() {
		return b, true
	}
	if b, err := BoxFromSlice(f.FaceBox); err == nil && !b.IsDegenerate() {
		return b, true
	}
	return Box{}, false
}

// ObjectDetection はページ上で検出されたオブジェクトの1件です。
type ObjectDetection struct {
	Label   string    `json:"label"`
	BodyBox []float64 `json:"body_box"`
}

// ObjectMatch は検出ラベルと正準参照名の対応付けです。
type ObjectMatch struct {
	Label      string  `json:"label"`
	Reference  string  `json:"reference"`
	Confidence float64 `json:"confidence"`
}

// PageDetections は1ページ分の検出レコードです。
type PageDetections struct {
	Page            int               `json:"page"`
	Image           string            `json:"image"` // ページ全体画像のパス
	Figures         []Figure          `json:"figures,omitempty"`
	Objects         []ObjectDetection `json:"objects,omitempty"`
	ObjectMatches   []ObjectMatch     `json:"object_matches,omitempty"`
	ClothingByName  map[string]string `json:"clothing_by_name,omitempty"` // キャラクター名 -> 服装カテゴリ
	DefaultClothing string            `json:"default_clothing,omitempty"` // ページ全体のデフォルト服装
}

// ClothingFor は指定キャラクターのページ上での服装カテゴリを解決します。
// 明示マップ -> ページデフォルト -> "standard" の優先順です。
func (p PageDetections) ClothingFor(name string) string {
	if c, ok := p.ClothingByName[name]; ok && c != "" {
		return c
	}
	if p.DefaultClothing != "" {
		return p.DefaultClothing
	}
	return ClothingStandard
}
