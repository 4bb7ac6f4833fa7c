package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/internal/runner"
	"github.com/shouni/go-storybook-kit/pkg/avatar"
	"github.com/shouni/go-storybook-kit/pkg/collect"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/parser"
	"github.com/shouni/go-storybook-kit/pkg/prompts"
	"github.com/shouni/go-storybook-kit/pkg/repair"
	"github.com/shouni/go-storybook-kit/pkg/report"
	"github.com/shouni/go-storybook-kit/pkg/retry"

	"github.com/patrickmn/go-cache"
	imagekit "github.com/shouni/gemini-image-kit/generator"
	"github.com/shouni/go-gemini-client/gemini"
	"github.com/shouni/go-text-format/pkg/builder"
	"google.golang.org/genai"
)

const (
	defaultGeminiTemperature = float32(0.1)
	defaultCacheExpiration   = 5 * time.Minute
	cacheCleanupInterval     = 15 * time.Minute
	defaultTTL               = 5 * time.Minute
)

// Toolkit は検査と修復の両フェーズで共有される重量級の部品一式です。
// File API アップロードの重複排除とページ画像のデコードキャッシュは
// ここで共有されることで初めて効くのだ。
type Toolkit struct {
	Core     *imagekit.GeminiImageCore
	Resolver *avatar.Resolver
	Prompts  *prompts.Builder
	Loader   imaging.Loader
}

// BuildToolkit は AI コア・アバター解決・プロンプト・画像ローダーを初期化します。
func BuildToolkit(appCtx *AppContext) (*Toolkit, error) {
	core, err := initializeCore(appCtx)
	if err != nil {
		return nil, err
	}

	pb, err := prompts.NewBuilder()
	if err != nil {
		return nil, fmt.Errorf("プロンプトビルダーの初期化に失敗しました: %w", err)
	}

	return &Toolkit{
		Core:     core,
		Resolver: avatar.NewResolver(artStyle(appCtx), core),
		Prompts:  pb,
		Loader:   newPageLoader(appCtx.Reader),
	}, nil
}

// BuildCheckRunner は整合性検査を担当する Runner を構築します。
func BuildCheckRunner(appCtx *AppContext, tk *Toolkit) *runner.CheckRunner {
	evaluator := &gridEvaluator{
		aiClient: appCtx.aiClient,
		model:    textModel(appCtx),
		prompts:  tk.Prompts,
		retryCfg: retryConfig(appCtx.Options),
	}

	return runner.NewCheckRunner(
		parser.NewStoryParser(appCtx.Reader),
		collect.NewCollector(collect.Config{MinAppearances: appCtx.Options.MinAppearances}),
		evaluator,
		tk.Resolver,
		tk.Loader,
		appCtx.Writer,
		appCtx.Options,
	)
}

// BuildRepairRunner はグリッド再生成による修復を担当する Runner を構築します。
func BuildRepairRunner(appCtx *AppContext, tk *Toolkit) (*runner.RepairRunner, error) {
	imgGen, err := initializeImageGenerator(imageModel(appCtx), tk.Core)
	if err != nil {
		return nil, fmt.Errorf("GeminiGeneratorの初期化に失敗したのだ: %w", err)
	}

	regen := &gridRegenerator{
		imgGen:    imgGen,
		writer:    appCtx.Writer,
		resolver:  tk.Resolver,
		outputDir: appCtx.Options.OutputDir,
		retryCfg:  retryConfig(appCtx.Options),
	}
	vjudge := &repairJudge{
		aiClient:  appCtx.aiClient,
		model:     textModel(appCtx),
		prompts:   tk.Prompts,
		writer:    appCtx.Writer,
		resolver:  tk.Resolver,
		outputDir: appCtx.Options.OutputDir,
		retryCfg:  retryConfig(appCtx.Options),
	}

	verifier := repair.NewVerifier(vjudge, repair.VerifierConfig{
		MinConfidence: appCtx.Options.VerifyConfidence,
	})
	orchestrator := repair.NewOrchestrator(regen, verifier, tk.Resolver, tk.Prompts, repair.Config{
		CellSize: appCtx.Options.GridCellSize,
		MaxCells: appCtx.Options.MaxGridCells,
	})

	return runner.NewRepairRunner(orchestrator, tk.Loader, appCtx.Writer, appCtx.Options), nil
}

// BuildPublishRunner はレポートの保存と HTML 変換を行う Runner を構築します。
// HTML 変換は --html が指定されたときだけ有効になります。
func BuildPublishRunner(appCtx *AppContext) (*runner.PublishRunner, error) {
	if !appCtx.Options.PublishHTML {
		return runner.NewPublishRunner(report.NewPublisher(appCtx.Writer, nil), appCtx.Options), nil
	}

	htmlCfg := builder.BuilderConfig{
		EnableHardWraps: true,
		Mode:            "webtoon",
	}
	appBuilder, err := builder.NewBuilder(htmlCfg)
	if err != nil {
		return nil, fmt.Errorf("アプリケーションビルダーの初期化に失敗しました: %w", err)
	}

	md2htmlRunner, err := appBuilder.BuildRunner()
	if err != nil {
		return nil, fmt.Errorf("MarkdownToHtmlRunnerの初期化に失敗しました: %w", err)
	}

	pub := report.NewPublisher(appCtx.Writer, md2htmlRunner)
	return runner.NewPublishRunner(pub, appCtx.Options), nil
}

// InitializeAIClient は gemini クライアントを初期化します。
func InitializeAIClient(ctx context.Context, apiKey string) (gemini.GenerativeModel, error) {
	clientConfig := gemini.Config{
		APIKey:      apiKey,
		Temperature: genai.Ptr(defaultGeminiTemperature),
	}
	aiClient, err := gemini.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("AIクライアントの初期化に失敗しました: %w", err)
	}
	return aiClient, nil
}

// initializeCore 提供された依存関係で構成された GeminiImageCore インスタンスを初期化して返します。
func initializeCore(appCtx *AppContext) (*imagekit.GeminiImageCore, error) {
	imgCache := cache.New(defaultCacheExpiration, cacheCleanupInterval)
	core, err := imagekit.NewGeminiImageCore(
		appCtx.aiClient,
		appCtx.Reader,
		appCtx.httpClient,
		imgCache,
		defaultTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("GeminiImageCore の初期化に失敗しました: %w", err)
	}
	return core, nil
}

// initializeImageGenerator は、画像キャッシュを含む ImageGenerator を初期化します。
func initializeImageGenerator(model string, core *imagekit.GeminiImageCore) (imagekit.ImageGenerator, error) {
	return imagekit.NewGeminiGenerator(
		model,
		core,
	)
}

func retryConfig(opts config.CheckOptions) retry.Config {
	cfg := retry.DefaultConfig()
	if opts.MaxRetries > 0 {
		cfg.MaxRetries = uint64(opts.MaxRetries)
	}
	return cfg
}

func textModel(appCtx *AppContext) string {
	if appCtx.Options.AIModel != "" {
		return appCtx.Options.AIModel
	}
	return appCtx.Config.GeminiModel
}

func imageModel(appCtx *AppContext) string {
	if appCtx.Options.ImageModel != "" {
		return appCtx.Options.ImageModel
	}
	return appCtx.Config.GeminiImageModel
}

func artStyle(appCtx *AppContext) string {
	if appCtx.Options.ArtStyle != "" {
		return appCtx.Options.ArtStyle
	}
	return appCtx.Config.ArtStyle
}
