package cmd

import (
	"fmt"
	"log/slog"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/internal/pipeline"

	"github.com/spf13/cobra"
)

// pageCmd は、1エンティティ・1ページに絞った修復を実行するサブコマンドなのだ。
// レビューで「このページのこの子だけ直したい」というときの最終手段なのだ。
var pageCmd = &cobra.Command{
	Use:   "page",
	Short: "指定エンティティの指定ページだけをピンポイントで修復するのだ。",
	Long: `同じ服装グループの他の出現とアバターを参照文脈として添えつつ、
指定したページの出現だけを修復対象にするのだ。他のページのセルは
プロンプト上「触れてはならない文脈」として扱われるのだよ。`,
	RunE: pageCommand,
}

// init は、page コマンド固有のフラグを定義するのだ。
func init() {
	pageCmd.Flags().StringVar(&opts.EntityName, "entity", "", "修復対象のエンティティ名なのだ。")
	pageCmd.Flags().IntVar(&opts.PageNumber, "page", -1, "修復対象のページ番号（検出結果ファイルの page と同じ値）なのだ。")
}

// pageCommand は、page サブコマンドの実行ロジック本体なのだ。
func pageCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if opts.EntityName == "" || opts.PageNumber < 0 {
		return fmt.Errorf("修復対象（--entity と --page）を指定してほしいのだ")
	}
	if opts.DetectionsFile == "" || opts.EntitiesFile == "" {
		return fmt.Errorf("検出結果（--detections）とエンティティ台帳（--entities）の両方を指定してほしいのだ")
	}

	cfg := config.LoadConfig()
	cfg.Options = opts

	slog.Info("単一ページ修復モードを起動するのだ！",
		"entity", cfg.Options.EntityName,
		"page", cfg.Options.PageNumber,
		"output_dir", cfg.Options.OutputDir)

	return pipeline.ExecuteSinglePage(ctx, cfg)
}
