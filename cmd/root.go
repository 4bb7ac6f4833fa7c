package cmd

import (
	"fmt"
	"os"

	"github.com/shouni/go-storybook-kit/internal/config"

	clibase "github.com/shouni/go-cli-base"
	"github.com/spf13/cobra"
)

// opts は全サブコマンドで共有される実行時オプションなのだ。
// addAppFlags でコマンドラインフラグと紐付けられるのだよ。
var opts config.CheckOptions

// addAppFlags は、アプリケーション全般に適用されるグローバルフラグを定義するのだ。
func addAppFlags(rootCmd *cobra.Command) {
	// --- ソース入力関連 ---
	rootCmd.PersistentFlags().StringVarP(&opts.DetectionsFile, "detections", "d", config.DefaultDetectionsFile, "ページごとの検出結果JSONのパス（ローカル or gs://...）なのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.EntitiesFile, "entities", "e", config.DefaultEntitiesFile, "エンティティ台帳JSONのパス（正準参照と衣装別アバター）なのだ。")
	rootCmd.PersistentFlags().StringVarP(&opts.Title, "title", "t", "", "レポートに表示する物語のタイトルなのだ。")

	// --- 生成結果の出力設定 ---
	rootCmd.PersistentFlags().StringVarP(&opts.OutputDir, "output-dir", "o", config.DefaultOutputDir, "グリッド・修復ページ・レポートの保存先（ローカル or gs://...）なのだ。")
	rootCmd.PersistentFlags().BoolVar(&opts.PublishHTML, "html", false, "レポートをHTMLにも変換して保存するのだ。")

	// --- 検査・修復の閾値設定 ---
	rootCmd.PersistentFlags().IntVar(&opts.MinAppearances, "min-appearances", config.DefaultMinAppearances, "検査対象とする最小出現回数なのだ。")
	rootCmd.PersistentFlags().IntVar(&opts.MaxGridCells, "max-grid-cells", config.DefaultMaxGridCells, "比較グリッドの最大セル数なのだ。")
	rootCmd.PersistentFlags().IntVar(&opts.GridCellSize, "grid-cell-size", config.DefaultGridCellSize, "グリッドの1セルの一辺のピクセル数なのだ。")
	rootCmd.PersistentFlags().Float64Var(&opts.VerifyConfidence, "verify-confidence", config.DefaultVerifyConfidence, "修復を採用する検証の最低確信度なのだ。")

	// --- AIモデル・挙動設定 ---
	rootCmd.PersistentFlags().StringVar(&opts.AIModel, "model", config.DefaultModel, "評定・検証に使用する Gemini モデル名なのだ。")
	rootCmd.PersistentFlags().StringVar(&opts.ImageModel, "image-model", config.DefaultImageModel, "グリッド再生成に使用する Gemini モデル名なのだ。")
	rootCmd.PersistentFlags().StringVar(&opts.ArtStyle, "art-style", "", "アバター解決に使う画風ラベルなのだ（未指定なら ART_STYLE 環境変数）。")
	rootCmd.PersistentFlags().DurationVar(&opts.HTTPTimeout, "http-timeout", config.DefaultHTTPTimeout, "Webリクエストのタイムアウトなのだ。")

	// --- 実行制御 ---
	rootCmd.PersistentFlags().IntVar(&opts.Concurrency, "concurrency", config.DefaultConcurrency, "並列に処理するエンティティ数の上限なのだ。")
	rootCmd.PersistentFlags().IntVar(&opts.MaxRetries, "max-retries", config.DefaultMaxRetries, "外部サービス呼び出しのリトライ回数なのだ。")
	rootCmd.PersistentFlags().DurationVar(&opts.RateLimit, "rate-limit", config.DefaultRateLimit, "評定リクエストの発行間隔なのだ。")
}

// preRunAppE は、コマンド実行前に環境変数などの必須チェックを行うのだ。
func preRunAppE(cmd *cobra.Command, args []string) error {
	// Gemini APIを利用するため、APIキーの存在チェックは欠かせないのだ！
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("エラー: 環境変数 GEMINI_API_KEY が設定されていません。Gemini APIの利用には必須なのだ")
	}

	return nil
}

// Execute は、アプリケーションのメインエントリポイントなのだ。
// main.go から呼び出されて、cobra のコマンドライン解析を開始するのだよ。
func Execute() {
	clibase.Execute(
		"storybook-kit",
		addAppFlags,
		preRunAppE,
		checkCmd,
		repairCmd,
		pageCmd,
	)
}
