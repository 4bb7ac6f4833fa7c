package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// checkCmd は、全エンティティの見た目の一貫性検査だけを実行するサブコマンドなのだ。
// 修復（Phase 2）はスキップして、検査（Phase 1）とレポート生成（Phase 3）のみを行うのだ。
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "登場キャラクター・オブジェクトの一貫性を検査してレポートするのだ。",
	Long: `ページごとの検出結果とエンティティ台帳を読み込み、各エンティティの出現を
比較グリッドに束ねてAIに評定させ、整合性レポートを生成するのだ。
ページ画像には一切手を加えないので、修復前の確認に安心して使えるのだよ。`,
	RunE: checkCommand,
}

// checkCommand は、check サブコマンドの実行ロジック本体なのだ。
func checkCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.DetectionsFile == "" || opts.EntitiesFile == "" {
		return fmt.Errorf("検出結果（--detections）とエンティティ台帳（--entities）の両方を指定してほしいのだ")
	}

	// 1. 環境変数から基本設定をロード
	cfg := config.LoadConfig()

	// 2. コマンドライン引数の値を反映
	cfg.Options = opts

	slog.Info("一貫性検査モードを起動するのだ！",
		"detections", cfg.Options.DetectionsFile,
		"entities", cfg.Options.EntitiesFile,
		"output_dir", cfg.Options.OutputDir,
		"model", cfg.Options.AIModel)

	// 3. パイプライン実行
	return pipeline.ExecuteCheck(ctx, cfg)
}
