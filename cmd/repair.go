package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// repairCmd は、検査で不整合とされたエンティティの修復まで実行するサブコマンドなのだ。
// 検査（Phase 1）、修復と合成（Phase 2）、レポート生成（Phase 3）を通しで行うのだ。
var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "不整合なエンティティをグリッド再生成で修復し、ページに合成するのだ。",
	Long: `一貫性検査で不整合と評定されたエンティティについて、服装グループごとに
修復グリッドを再生成し、検証を通過した領域だけを元ページに合成するのだ。
元のページ画像は上書きせず、修復済みページは別ファイルとして保存されるのだよ。`,
	RunE: repairCommand,
}

// repairCommand は、repair サブコマンドの実行ロジック本体なのだ。
func repairCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.DetectionsFile == "" || opts.EntitiesFile == "" {
		return fmt.Errorf("検出結果（--detections）とエンティティ台帳（--entities）の両方を指定してほしいのだ")
	}

	cfg := config.LoadConfig()
	cfg.Options = opts

	slog.Info("修復モードを起動するのだ！",
		"detections", cfg.Options.DetectionsFile,
		"entities", cfg.Options.EntitiesFile,
		"output_dir", cfg.Options.OutputDir,
		"image_model", cfg.Options.ImageModel,
		"verify_confidence", cfg.Options.VerifyConfidence)

	return pipeline.ExecuteRepair(ctx, cfg)
}
