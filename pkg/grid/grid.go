// Package grid は比較用のグリッド合成画像と、その幾何を後から逆変換する
// ためのマニフェストを構築します。
package grid

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// DefaultCellSize は1セルの一辺のピクセル数です。4×3 で 1024×768 になります。
	DefaultCellSize = 256
	// DefaultMaxCells はグリッドに収めるセル数の上限です。
	DefaultMaxCells = 12
	// Columns はグリッドの列数です。
	Columns = 4
	// ReferenceLetter は参照画像セルに予約されたラベルなのだ。
	ReferenceLetter = "R"

	labelPlateWidth  = 22
	labelPlateHeight = 16
)

// PixelRect はグリッド画像内のセル矩形です。
type PixelRect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Cell はグリッド内の1セルの幾何とメタデータです。
// 出現のメタデータ（ページ・服装・信頼度）と再合成に必要な幾何を持ち回ります。
type Cell struct {
	Letter         string     `json:"letter"`
	Rect           PixelRect  `json:"pixel_rect"`
	IsReference    bool       `json:"is_reference,omitempty"`
	PageNumber     int        `json:"page"`
	Clothing       string     `json:"clothing,omitempty"`
	Confidence     float64    `json:"confidence,omitempty"`
	OriginalWidth  int        `json:"original_width,omitempty"`
	OriginalHeight int        `json:"original_height,omitempty"`
	PaddedBox      domain.Box `json:"padded_box"`
	SourceImage    string     `json:"source_image,omitempty"`
}

// Manifest はグリッド合成画像の全セル幾何です。
// 再生成サービスは画像をリサイズして返すことがあるため、実際の出力寸法と
// マニフェスト寸法の比率から各セルの真の矩形を復元できることが不変条件です。
type Manifest struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Cells  []Cell `json:"cells"`
}

// ScaledRect はセル矩形を実際の出力寸法に合わせてスケールして返します。
// 出力寸法がマニフェスト寸法と等しい場合は恒等変換になるのだ。
func (m Manifest) ScaledRect(c Cell, outW, outH int) image.Rectangle {
	scaleX := float64(outW) / float64(m.Width)
	scaleY := float64(outH) / float64(m.Height)
	return image.Rect(
		int(math.Round(float64(c.Rect.Left)*scaleX)),
		int(math.Round(float64(c.Rect.Top)*scaleY)),
		int(math.Round(float64(c.Rect.Left+c.Rect.Width)*scaleX)),
		int(math.Round(float64(c.Rect.Top+c.Rect.Height)*scaleY)),
	)
}

// ExtractCell は（リサイズされている可能性のある）再生成グリッドから
// セルの領域を切り出して独立した画像として返します。
func (m Manifest) ExtractCell(regenerated image.Image, c Cell) (*image.RGBA, error) {
	if regenerated == nil {
		return nil, fmt.Errorf("再生成画像が nil です")
	}
	bounds := regenerated.Bounds()
	rect := m.ScaledRect(c, bounds.Dx(), bounds.Dy())
	rect = rect.Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if rect.Empty() {
		return nil, fmt.Errorf("セル %s の矩形が再生成画像の範囲外です", c.Letter)
	}
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(out, out.Bounds(), regenerated, bounds.Min.Add(rect.Min), draw.Src)
	return out, nil
}

// AppearanceCells は参照セルを除いたセル群を返します。
func (m Manifest) AppearanceCells() []Cell {
	cells := make([]Cell, 0, len(m.Cells))
	for _, c := range m.Cells {
		if !c.IsReference {
			cells = append(cells, c)
		}
	}
	return cells
}

// DescribeCells は判定プロンプトに埋め込むセル一覧の要約を構築するのだ。
func (m Manifest) DescribeCells() string {
	var sb strings.Builder
	for _, c := range m.Cells {
		if c.IsReference {
			sb.WriteString(fmt.Sprintf("- Cell %s: REFERENCE image (canonical appearance)\n", c.Letter))
			continue
		}
		sb.WriteString(fmt.Sprintf("- Cell %s: page %d, clothing %q, match confidence %.2f\n",
			c.Letter, c.PageNumber, c.Clothing, c.Confidence))
	}
	return sb.String()
}

// Config は Builder の動作パラメータです。
type Config struct {
	CellSize int
	MaxCells int
}

// Builder は切り出し画像群を1枚のラベル付き比較グリッドに並べます。
type Builder struct {
	cellSize int
	maxCells int
}

// NewBuilder は Builder を生成します。未指定のパラメータはデフォルトを使います。
func NewBuilder(cfg Config) *Builder {
	cellSize := cfg.CellSize
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	maxCells := cfg.MaxCells
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}
	return &Builder{cellSize: cellSize, maxCells: maxCells}
}

// Build は切り出し群（ページ昇順）とオプションの参照画像から、
// 合成画像とマニフェストを生成します。
// 参照画像があれば常にセル R として先頭に置かれ、出現セルの枠は1つ減るのだ。
// セル矩形はレイアウト計算そのものから生成され、後で再生成グリッドの逆変換に使われます。
func (b *Builder) Build(crops []*imaging.Crop, reference image.Image) (*image.RGBA, Manifest, error) {
	budget := b.maxCells
	if reference != nil {
		budget--
	}
	if len(crops) == 0 {
		return nil, Manifest{}, fmt.Errorf("グリッドに並べる切り出しがありません")
	}
	if len(crops) > budget {
		crops = crops[:budget]
	}

	total := len(crops)
	if reference != nil {
		total++
	}
	cols := Columns
	if total < cols {
		cols = total
	}
	rows := (total + Columns - 1) / Columns

	gridW := cols * b.cellSize
	gridH := rows * b.cellSize
	canvas := image.NewRGBA(image.Rect(0, 0, gridW, gridH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	manifest := Manifest{Width: gridW, Height: gridH}

	idx := 0
	place := func(img image.Image, cell Cell) error {
		col := idx % Columns
		row := idx / Columns
		rect := image.Rect(col*b.cellSize, row*b.cellSize, (col+1)*b.cellSize, (row+1)*b.cellSize)

		resized, err := imaging.Resize(img, b.cellSize, b.cellSize)
		if err != nil {
			return err
		}
		draw.Draw(canvas, rect, resized, image.Point{}, draw.Src)
		drawLabel(canvas, rect.Min, cell.Letter)

		cell.Rect = PixelRect{Left: rect.Min.X, Top: rect.Min.Y, Width: b.cellSize, Height: b.cellSize}
		manifest.Cells = append(manifest.Cells, cell)
		idx++
		return nil
	}

	if reference != nil {
		if err := place(reference, Cell{Letter: ReferenceLetter, IsReference: true}); err != nil {
			return nil, Manifest{}, err
		}
	}

	for i, crop := range crops {
		cell := Cell{
			Letter:         letterForIndex(i),
			PageNumber:     crop.Appearance.PageNumber,
			Clothing:       crop.Appearance.Clothing,
			Confidence:     crop.Appearance.Confidence,
			OriginalWidth:  crop.OriginalWidth,
			OriginalHeight: crop.OriginalHeight,
			PaddedBox:      crop.PaddedBox,
			SourceImage:    crop.Appearance.SourceImage,
		}
		if err := place(crop.Image, cell); err != nil {
			return nil, Manifest{}, err
		}
	}

	return canvas, manifest, nil
}

// letterForIndex は出現セルのラベル（A, B, C, …）を返すのだ。
// R は参照セルに予約されているため読み飛ばすのだよ。
func letterForIndex(i int) string {
	letter := rune('A' + i)
	if letter >= 'R' {
		letter++
	}
	return string(letter)
}

// drawLabel はセル左上にラベル文字を小さなプレート付きで描画します。
// プレートはセル内部に重ねるため、マニフェストのセル矩形はセル全面のままです。
func drawLabel(dst *image.RGBA, origin image.Point, letter string) {
	plate := image.Rect(origin.X, origin.Y, origin.X+labelPlateWidth, origin.Y+labelPlateHeight)
	draw.Draw(dst, plate, image.NewUniform(color.White), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(origin.X+6, origin.Y+12),
	}
	d.DrawString(letter)
}
