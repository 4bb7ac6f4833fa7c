package config

import (
	"time"

	"github.com/shouni/go-utils/envutil"
)

// デフォルト値の定義なのだ
const (
	DefaultModel            = "gemini-3-flash-preview"
	DefaultImageModel       = "gemini-3-pro-image-preview"
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultRateLimit        = 10 * time.Second
	DefaultConcurrency      = 3
	DefaultMinAppearances   = 2
	DefaultMaxGridCells     = 12
	DefaultGridCellSize     = 256
	DefaultVerifyConfidence = 0.7
	DefaultMaxRetries       = 3
	DefaultCacheTTL         = 15 * time.Minute
	DefaultArtStyle         = "watercolor storybook illustration"
	DefaultOutputDir        = "output"
	DefaultEntitiesFile     = "examples/entities.json" // エンティティ台帳（正準参照と衣装別アバター）のJSONパス
	DefaultDetectionsFile   = "examples/detections.json"
)

// Config はアプリケーション全体の環境設定（APIキーやクラウド設定）を保持する構造体なのだ。
type Config struct {
	ProjectID        string
	LocationID       string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiImageModel string
	ArtStyle         string

	Options CheckOptions
}

// LoadConfig は環境変数から設定を読み込み、構造体を返すのだ！
func LoadConfig() *Config {
	cfg := &Config{
		ProjectID:        envutil.GetEnv("PROJECT_ID", ""),
		LocationID:       envutil.GetEnv("REGION", ""),
		GeminiAPIKey:     envutil.GetEnv("GEMINI_API_KEY", ""),
		GeminiModel:      envutil.GetEnv("GEMINI_MODEL", DefaultModel),
		GeminiImageModel: envutil.GetEnv("IMAGE_GEMINI_MODEL", DefaultImageModel),
		ArtStyle:         envutil.GetEnv("ART_STYLE", DefaultArtStyle),
	}
	return cfg
}

// CheckOptions は CLI フラグから渡される実行時のパラメータなのだ。
type CheckOptions struct {
	// ソース入力関連
	DetectionsFile string // --detections
	EntitiesFile   string // --entities
	OutputDir      string // --output-dir
	Title          string // --title

	// 検査・修復の閾値関連
	MinAppearances   int     // --min-appearances
	MaxGridCells     int     // --max-grid-cells
	GridCellSize     int     // --grid-cell-size
	VerifyConfidence float64 // --verify-confidence

	// 単一ページ修復用
	EntityName string // --entity
	PageNumber int    // --page

	// AI挙動設定
	AIModel    string // --model: 評定・検証用のGeminiモデル
	ImageModel string // --image-model: グリッド再生成用のGeminiモデル
	ArtStyle   string // --art-style

	// 実行制御
	HTTPTimeout time.Duration // --http-timeout
	Concurrency int           // --concurrency
	MaxRetries  int           // --max-retries
	RateLimit   time.Duration // --rate-limit
	PublishHTML bool          // --html
}

// Normalize はゼロ値のオプションをデフォルトに補正します。
func (o *CheckOptions) Normalize() {
	if o.MinAppearances <= 0 {
		o.MinAppearances = DefaultMinAppearances
	}
	if o.MaxGridCells <= 0 {
		o.MaxGridCells = DefaultMaxGridCells
	}
	if o.GridCellSize <= 0 {
		o.GridCellSize = DefaultGridCellSize
	}
	if o.VerifyConfidence <= 0 {
		o.VerifyConfidence = DefaultVerifyConfidence
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RateLimit <= 0 {
		o.RateLimit = DefaultRateLimit
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = DefaultHTTPTimeout
	}
	if o.OutputDir == "" {
		o.OutputDir = DefaultOutputDir
	}
}
