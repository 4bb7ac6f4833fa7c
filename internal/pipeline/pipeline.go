package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shouni/go-storybook-kit/internal/builder"
	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/internal/runner"

	"github.com/shouni/go-http-kit/httpkit"
	"github.com/shouni/go-remote-io/remoteio/gcs"
)

// ExecuteCheck は検出結果とエンティティ台帳を読み込み、
// 全エンティティの一貫性検査とレポート生成（Phase 1 & 3）を実行するのだ。
func ExecuteCheck(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}

	tk, err := builder.BuildToolkit(appCtx)
	if err != nil {
		return fmt.Errorf("Toolkitの構築に失敗したのだ: %w", err)
	}

	result, err := runCheckStep(ctx, appCtx, tk)
	if err != nil {
		return err
	}

	if err := runPublishStep(ctx, appCtx, result); err != nil {
		return err
	}

	slog.Info("一貫性検査とレポート生成が完了したのだ！")
	return nil
}

// ExecuteRepair は検査で不整合とされたエンティティをグリッド再生成で修復し、
// 検証済みの修復をページに合成する全フェーズ（Phase 1 & 2 & 3）を実行するのだ。
func ExecuteRepair(ctx context.Context, cfg *config.Config) error {
	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}

	tk, err := builder.BuildToolkit(appCtx)
	if err != nil {
		return fmt.Errorf("Toolkitの構築に失敗したのだ: %w", err)
	}

	result, err := runCheckStep(ctx, appCtx, tk)
	if err != nil {
		return err
	}

	if err := runRepairStep(ctx, appCtx, tk, result); err != nil {
		return err
	}

	if err := runPublishStep(ctx, appCtx, result); err != nil {
		return err
	}

	slog.Info("検査・修復・レポート生成の全フェーズが完了したのだ！")
	return nil
}

// ExecuteSinglePage は1エンティティ・1ページに絞った修復を実行するのだ。
// レビューで特定ページの問題だけを直したいときの最終手段なのだ。
func ExecuteSinglePage(ctx context.Context, cfg *config.Config) error {
	opts := cfg.Options
	if opts.EntityName == "" || opts.PageNumber < 0 {
		return fmt.Errorf("単一ページ修復には --entity と --page の両方が必要です")
	}

	appCtx, err := setupAppContext(ctx, cfg)
	if err != nil {
		return err
	}

	tk, err := builder.BuildToolkit(appCtx)
	if err != nil {
		return fmt.Errorf("Toolkitの構築に失敗したのだ: %w", err)
	}

	result, err := runCheckStep(ctx, appCtx, tk)
	if err != nil {
		return err
	}

	repairRunner, err := builder.BuildRepairRunner(appCtx, tk)
	if err != nil {
		return fmt.Errorf("RepairRunnerの構築に失敗したのだ: %w", err)
	}

	if err := repairRunner.RunPage(ctx, result, opts.EntityName, opts.PageNumber); err != nil {
		return fmt.Errorf("単一ページ修復に失敗したのだ: %w", err)
	}

	if err := runPublishStep(ctx, appCtx, result); err != nil {
		return err
	}

	slog.Info("単一ページ修復が完了したのだ！", "entity", opts.EntityName, "page", opts.PageNumber)
	return nil
}

// setupAppContext は、提供された設定と共有コンポーネントを使用して、アプリケーションコンテキストを初期化して返すのだ。
// ライフサイクル管理用の context と設定オブジェクトを受け取るのだ。
// 初期化中にエラーが発生した場合は、AppContext のポインタとエラーを返すのだ。
func setupAppContext(ctx context.Context, cfg *config.Config) (*builder.AppContext, error) {
	cfg.Options.Normalize()

	httpClient := httpkit.New(cfg.Options.HTTPTimeout)
	aiClient, err := builder.InitializeAIClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ai client: %w", err)
	}

	gcsFactory, err := gcs.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client factory: %w", err)
	}

	reader, err := gcsFactory.InputReader()
	if err != nil {
		return nil, err
	}
	writer, err := gcsFactory.OutputWriter()
	if err != nil {
		return nil, err
	}

	appCtx := builder.NewAppContext(cfg, httpClient, aiClient, reader, writer)
	return &appCtx, nil
}

// runCheckStep は CheckRunner を使って全エンティティを並列検査するのだ
func runCheckStep(ctx context.Context, appCtx *builder.AppContext, tk *builder.Toolkit) (*runner.CheckResult, error) {
	slog.Info("Phase 1: 一貫性検査を開始するのだ...")
	checkRunner := builder.BuildCheckRunner(appCtx, tk)
	result, err := checkRunner.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("一貫性検査に失敗したのだ: %w", err)
	}
	return result, nil
}

// runRepairStep は RepairRunner を使って不整合エンティティを修復するのだ
func runRepairStep(ctx context.Context, appCtx *builder.AppContext, tk *builder.Toolkit, result *runner.CheckResult) error {
	slog.Info("Phase 2: 修復を開始するのだ...")
	repairRunner, err := builder.BuildRepairRunner(appCtx, tk)
	if err != nil {
		return fmt.Errorf("RepairRunnerの構築に失敗したのだ: %w", err)
	}

	if err := repairRunner.Run(ctx, result); err != nil {
		return fmt.Errorf("修復に失敗したのだ: %w", err)
	}
	return nil
}

// runPublishStep は PublishRunner を使ってレポートを保存するのだ
func runPublishStep(ctx context.Context, appCtx *builder.AppContext, result *runner.CheckResult) error {
	slog.Info("Phase 3: レポート生成を開始するのだ...")
	publishRunner, err := builder.BuildPublishRunner(appCtx)
	if err != nil {
		return fmt.Errorf("PublishRunnerの構築に失敗したのだ: %w", err)
	}

	if _, err := publishRunner.Run(ctx, result.Report); err != nil {
		return fmt.Errorf("レポート生成に失敗したのだ: %w", err)
	}
	return nil
}
