package runner

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/pkg/asset"
	"github.com/shouni/go-storybook-kit/pkg/avatar"
	"github.com/shouni/go-storybook-kit/pkg/collect"
	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/grid"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/judge"
	"github.com/shouni/go-storybook-kit/pkg/parser"
	"github.com/shouni/go-storybook-kit/pkg/report"
	"github.com/shouni/go-storybook-kit/pkg/retry"

	"github.com/shouni/go-remote-io/remoteio"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// rateBurst は開始直後に同時発行できる評定リクエスト数です。
const rateBurst = 2

// EntityFinding は1エンティティ分の検査結果と、修復フェーズが
// そのまま使える中間成果物（クロップ群）を保持します。
type EntityFinding struct {
	Entity   domain.Entity
	Crops    []*imaging.Crop
	Outcome  judge.Outcome
	GridPath string
}

// CheckResult は検査フェーズ全体の成果です。
type CheckResult struct {
	Story    *parser.StoryInput
	Findings map[string]EntityFinding // エンティティ名 -> 検査結果
	Report   report.StoryReport
}

// CheckRunner は登場エンティティの見た目の一貫性を検査する Runner です。
type CheckRunner struct {
	parser    *parser.StoryParser
	collector *collect.Collector
	grids     *grid.Builder
	evaluator judge.Evaluator
	resolver  *avatar.Resolver
	loader    imaging.Loader
	writer    remoteio.OutputWriter
	options   config.CheckOptions
	retryCfg  retry.Config
}

// NewCheckRunner は CheckRunner の新しいインスタンスを生成して返す。
func NewCheckRunner(
	p *parser.StoryParser,
	collector *collect.Collector,
	evaluator judge.Evaluator,
	resolver *avatar.Resolver,
	loader imaging.Loader,
	writer remoteio.OutputWriter,
	options config.CheckOptions,
) *CheckRunner {
	return &CheckRunner{
		parser:    p,
		collector: collector,
		grids:     grid.NewBuilder(grid.Config{CellSize: options.GridCellSize, MaxCells: options.MaxGridCells}),
		evaluator: evaluator,
		resolver:  resolver,
		loader:    loader,
		writer:    writer,
		options:   options,
		retryCfg:  retryConfigFrom(options),
	}
}

// retryConfigFrom は CLI オプションからリトライ設定を組み立てます。
func retryConfigFrom(opts config.CheckOptions) retry.Config {
	cfg := retry.DefaultConfig()
	if opts.MaxRetries > 0 {
		cfg.MaxRetries = uint64(opts.MaxRetries)
	}
	return cfg
}

// Run は検出結果と台帳を読み込み、全エンティティを並列に検査するのだ。
// 1エンティティの評定失敗は中立評定に縮退させ、他エンティティの検査と
// レポートの生成を止めないことが不変条件なのだ。
func (cr *CheckRunner) Run(ctx context.Context) (*CheckResult, error) {
	story, err := cr.parser.ParseStory(ctx, cr.options.DetectionsFile, cr.options.EntitiesFile)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		Story:    story,
		Findings: make(map[string]EntityFinding),
		Report: report.StoryReport{
			Title:       cr.storyTitle(story),
			GeneratedAt: time.Now(),
		},
	}

	appearances := cr.collector.Collect(story.Pages, story.Entities)

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(cr.options.Concurrency)
	limiter := rate.NewLimiter(rate.Every(cr.options.RateLimit), rateBurst)

	slog.Info("並列一貫性検査を開始するのだ",
		"entities", len(appearances), "concurrency", cr.options.Concurrency, "interval", cr.options.RateLimit)

	for _, entity := range story.Entities {
		apps, ok := appearances[entity.Name]
		if !ok {
			// 出現数が閾値未満のエンティティは検査対象外としてレポートに残すのだ
			mu.Lock()
			result.Report.Add(report.EntityReport{
				Name:   entity.Name,
				Kind:   entity.Kind,
				Status: report.StatusSkippedTooFew,
				Note:   fmt.Sprintf("fewer than %d appearances", cr.options.MinAppearances),
			})
			mu.Unlock()
			continue
		}

		eg.Go(func() error {
			if err := limiter.Wait(egCtx); err != nil {
				return err
			}

			finding := cr.inspectEntity(egCtx, story, entity, apps)

			mu.Lock()
			result.Findings[entity.Name] = finding
			result.Report.Add(entryFor(finding, len(apps)))
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	result.Report.Finalize()

	slog.Info("一貫性検査が完了したのだ",
		"inspected", len(result.Findings), "inconsistent", result.Report.HasInconsistencies())
	return result, nil
}

// inspectEntity は1エンティティの検査を最後まで実行します。
// グリッド構築や評定の失敗はこのエンティティの Outcome に閉じ込め、
// エラーとしては伝播させません。
func (cr *CheckRunner) inspectEntity(ctx context.Context, story *parser.StoryInput, entity domain.Entity, apps []domain.Appearance) EntityFinding {
	finding := EntityFinding{Entity: entity}

	crops := cr.extractCrops(ctx, apps)
	finding.Crops = crops
	if len(crops) < cr.options.MinAppearances {
		finding.Outcome = judge.Failed(
			fmt.Sprintf("有効なクロップが %d 件しか得られませんでした", len(crops)))
		return finding
	}

	reference := cr.loadReference(ctx, entity)
	gridImg, manifest, err := cr.grids.Build(crops, reference)
	if err != nil {
		finding.Outcome = judge.Failed(fmt.Sprintf("グリッド構築に失敗しました: %v", err))
		return finding
	}

	gridPath, gridURI, err := cr.persistGrid(ctx, entity, gridImg)
	if err != nil {
		finding.Outcome = judge.Failed(fmt.Sprintf("グリッドの保存に失敗しました: %v", err))
		return finding
	}
	finding.GridPath = gridPath

	verdict, err := cr.evaluator.Evaluate(ctx, judge.EvaluationRequest{
		EntityName:  entity.Name,
		EntityKind:  entity.Kind,
		GridURI:     gridURI,
		CellSummary: manifest.DescribeCells(),
	})
	if err != nil {
		slog.Warn("一貫性評定に失敗したため中立評定に縮退します", "entity", entity.Name, "error", err)
		finding.Outcome = judge.Failed(err.Error())
		return finding
	}

	finding.Outcome = judge.Evaluated(verdict)
	slog.Info("エンティティの評定が完了したのだ",
		"entity", entity.Name, "consistent", verdict.Consistent, "score", verdict.Score)
	return finding
}

// extractCrops は出現ごとにページ画像を読み込み、パディング方針に従って
// 切り出します。個々の失敗は警告ログの上でスキップします。
func (cr *CheckRunner) extractCrops(ctx context.Context, apps []domain.Appearance) []*imaging.Crop {
	crops := make([]*imaging.Crop, 0, len(apps))
	for _, app := range apps {
		src, err := cr.loader.Load(ctx, app.SourceImage)
		if err != nil {
			slog.Warn("ページ画像の読み込みに失敗したためこの出現をスキップします",
				"page", app.PageNumber, "image", app.SourceImage, "error", err)
			continue
		}
		crop, err := imaging.ExtractCrop(src, app, imaging.PolicyFor(app), true)
		if err != nil {
			slog.Warn("クロップの切り出しに失敗したためこの出現をスキップします",
				"page", app.PageNumber, "error", err)
			continue
		}
		crops = append(crops, crop)
	}
	return crops
}

// loadReference は正準参照（standard 衣装優先）の画像を読み込みます。
// 参照が無い・読めない場合は nil を返し、グリッドは参照セルなしで組まれます。
func (cr *CheckRunner) loadReference(ctx context.Context, entity domain.Entity) image.Image {
	url, ok := cr.resolver.ResolveURL(entity, domain.ClothingStandard)
	if !ok {
		return nil
	}
	img, err := cr.loader.Load(ctx, url)
	if err != nil {
		slog.Warn("正準参照画像の読み込みに失敗しました", "entity", entity.Name, "url", url, "error", err)
		return nil
	}
	return img
}

// persistGrid はグリッド画像を保存し、判定用の File API URI を返します。
func (cr *CheckRunner) persistGrid(ctx context.Context, entity domain.Entity, gridImg image.Image) (string, string, error) {
	data, err := imaging.EncodePNG(gridImg)
	if err != nil {
		return "", "", err
	}

	gridDir, err := asset.ResolveOutputPath(cr.options.OutputDir, asset.DefaultGridDir)
	if err != nil {
		return "", "", err
	}
	gridPath, err := asset.ResolveOutputPath(gridDir, asset.GridFileName(entity.Name, ""))
	if err != nil {
		return "", "", err
	}
	if err := cr.writer.Write(ctx, gridPath, bytes.NewReader(data), imaging.MimePNG); err != nil {
		return "", "", fmt.Errorf("グリッドの書き込みに失敗しました (%s): %w", gridPath, err)
	}

	gridURI, err := retry.Do(ctx, cr.retryCfg, func(ctx context.Context) (string, error) {
		return cr.resolver.UploadAsset(ctx, gridPath)
	})
	if err != nil {
		return gridPath, "", fmt.Errorf("グリッドのアップロードに失敗しました: %w", err)
	}
	return gridPath, gridURI, nil
}

func (cr *CheckRunner) storyTitle(story *parser.StoryInput) string {
	if cr.options.Title != "" {
		return cr.options.Title
	}
	if story.Title != "" {
		return story.Title
	}
	return "storybook"
}

// entryFor は検査結果をレポート行に変換します。
func entryFor(finding EntityFinding, appearances int) report.EntityReport {
	entry := report.EntityReport{
		Name:        finding.Entity.Name,
		Kind:        finding.Entity.Kind,
		Appearances: appearances,
		Score:       int(math.Round(finding.Outcome.Verdict.Score)),
		Summary:     finding.Outcome.Verdict.Summary,
		Issues:      finding.Outcome.Verdict.Issues,
		GridPath:    finding.GridPath,
	}
	switch {
	case finding.Outcome.Status == judge.StatusFailed:
		entry.Status = report.StatusEvaluationFailed
		entry.Note = finding.Outcome.Reason
	case finding.Outcome.Verdict.Consistent:
		entry.Status = report.StatusConsistent
	default:
		entry.Status = report.StatusInconsistent
	}
	return entry
}
