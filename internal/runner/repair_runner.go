package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/pkg/asset"
	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/judge"
	"github.com/shouni/go-storybook-kit/pkg/repair"
	"github.com/shouni/go-storybook-kit/pkg/report"

	"github.com/shouni/go-remote-io/remoteio"
	"golang.org/x/sync/errgroup"
)

// RepairRunner は不整合と評定されたエンティティをグリッド再生成で修復し、
// 採用された修復をページ画像へ合成して保存する Runner です。
type RepairRunner struct {
	orchestrator *repair.Orchestrator
	loader       imaging.Loader
	writer       remoteio.OutputWriter
	options      config.CheckOptions
}

// NewRepairRunner は RepairRunner の新しいインスタンスを生成して返す。
func NewRepairRunner(orchestrator *repair.Orchestrator, loader imaging.Loader, writer remoteio.OutputWriter, options config.CheckOptions) *RepairRunner {
	return &RepairRunner{
		orchestrator: orchestrator,
		loader:       loader,
		writer:       writer,
		options:      options,
	}
}

// Run は検査結果を受け取り、不整合エンティティを並列に修復するのだ。
// 検証を通過した修復だけがページに合成され、棄却された修復は
// 理由つきでレポートに残る。元のページ画像は決して上書きしないのだ。
func (rr *RepairRunner) Run(ctx context.Context, result *CheckResult) error {
	targets := inconsistentFindings(result)
	if len(targets) == 0 {
		slog.Info("修復対象の不整合エンティティはありません")
		return nil
	}

	var (
		mu            sync.Mutex
		repairsByPage = make(map[int][]imaging.PageRepair)
		outcomes      = make(map[string][]report.PageOutcome)
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(rr.options.Concurrency)

	slog.Info("並列修復を開始するのだ", "entities", len(targets), "concurrency", rr.options.Concurrency)

	for _, finding := range targets {
		eg.Go(func() error {
			repairs, err := rr.orchestrator.RepairEntity(egCtx, finding.Entity, rr.loader, finding.Crops, finding.Outcome.Verdict)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// 修復失敗はエンティティ局所の事象として記録し、他の修復を継続します。
				slog.Warn("エンティティの修復に失敗しました", "entity", finding.Entity.Name, "error", err)
				mu.Lock()
				outcomes[finding.Entity.Name] = []report.PageOutcome{}
				mu.Unlock()
				return nil
			}

			mu.Lock()
			for _, r := range repairs {
				outcomes[finding.Entity.Name] = append(outcomes[finding.Entity.Name], report.PageOutcome{
					PageNumber: r.PageNumber,
					Accepted:   r.Verification.Accepted,
					Reason:     r.Verification.Reason,
					Confidence: r.Verification.Confidence,
				})
				if r.Verification.Accepted {
					repairsByPage[r.PageNumber] = append(repairsByPage[r.PageNumber], r.Repair)
				}
			}
			mu.Unlock()
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return err
	}

	outputPaths, failures := rr.compositePages(ctx, result, repairsByPage)
	rr.updateReport(result, outcomes, outputPaths, failures)
	return nil
}

// RunPage は1エンティティ・1ページだけを対象にした修復です。
// 同じ服装グループの他の出現は参照文脈としてだけ使われます。
func (rr *RepairRunner) RunPage(ctx context.Context, result *CheckResult, entityName string, page int) error {
	finding, ok := findingFor(result, entityName)
	if !ok {
		return fmt.Errorf("エンティティ '%s' は検査対象になっていません（出現数不足の可能性があります）", entityName)
	}
	entityName = finding.Entity.Name

	pr, err := rr.orchestrator.RepairPage(ctx, finding.Entity, rr.loader, finding.Crops, page, finding.Outcome.Verdict)
	if err != nil {
		return err
	}

	outcomes := map[string][]report.PageOutcome{
		entityName: {{
			PageNumber: pr.PageNumber,
			Accepted:   pr.Verification.Accepted,
			Reason:     pr.Verification.Reason,
			Confidence: pr.Verification.Confidence,
		}},
	}

	repairsByPage := map[int][]imaging.PageRepair{}
	if pr.Verification.Accepted {
		repairsByPage[pr.PageNumber] = []imaging.PageRepair{pr.Repair}
	} else {
		slog.Info("修復候補が検証で棄却されました", "entity", entityName, "page", page, "reason", pr.Verification.Reason)
	}

	outputPaths, failures := rr.compositePages(ctx, result, repairsByPage)
	rr.updateReport(result, outcomes, outputPaths, failures)
	return nil
}

// findingFor は検査結果からエンティティを引き当てます。キー不一致の場合は
// 台帳の名前解決（大文字小文字無視）を経て正準名で再判定します。
func findingFor(result *CheckResult, entityName string) (EntityFinding, bool) {
	if f, ok := result.Findings[entityName]; ok {
		return f, true
	}
	entity := domain.BuildEntitiesMap(result.Story.Entities).FindEntity(entityName)
	if entity == nil {
		return EntityFinding{}, false
	}
	f, ok := result.Findings[entity.Name]
	return f, ok
}

// compositePages は採用済みの修復をページ単位で合成し、修復済みページ画像を
// 保存します。1ページの失敗は警告ログと理由の記録に留め、残りのページの
// 合成とレポート生成を止めません。戻り値はページ番号 -> 保存先パスと、
// ページ番号 -> 失敗理由です。
func (rr *RepairRunner) compositePages(ctx context.Context, result *CheckResult, repairsByPage map[int][]imaging.PageRepair) (map[int]string, map[int]string) {
	if len(repairsByPage) == 0 {
		return nil, nil
	}

	pageImages := make(map[int]string, len(result.Story.Pages))
	for _, p := range result.Story.Pages {
		pageImages[p.Page] = p.Image
	}

	pages := make([]int, 0, len(repairsByPage))
	for page := range repairsByPage {
		pages = append(pages, page)
	}
	sort.Ints(pages)

	outputPaths := make(map[int]string, len(pages))
	failures := make(map[int]string)

	repairedDir, err := asset.ResolveOutputPath(rr.options.OutputDir, asset.DefaultRepairedDir)
	if err != nil {
		for _, page := range pages {
			failures[page] = err.Error()
		}
		return outputPaths, failures
	}

	for _, page := range pages {
		outPath, err := rr.compositePage(ctx, page, pageImages[page], repairsByPage[page], repairedDir)
		if err != nil {
			slog.Warn("ページの合成に失敗したため読み飛ばします", "page", page, "error", err)
			failures[page] = err.Error()
			continue
		}
		outputPaths[page] = outPath
		slog.Info("修復済みページを保存したのだ", "page", page, "repairs", len(repairsByPage[page]), "path", outPath)
	}
	return outputPaths, failures
}

// compositePage は1ページ分の合成・エンコード・保存を行います。
func (rr *RepairRunner) compositePage(ctx context.Context, page int, sourceImage string, repairs []imaging.PageRepair, repairedDir string) (string, error) {
	src, err := rr.loader.Load(ctx, sourceImage)
	if err != nil {
		return "", fmt.Errorf("元画像の読み込みに失敗しました: %w", err)
	}

	composited, err := imaging.CompositeRepairs(src, repairs)
	if err != nil {
		return "", fmt.Errorf("合成に失敗しました: %w", err)
	}

	data, err := imaging.EncodePNG(composited)
	if err != nil {
		return "", err
	}
	outPath, err := asset.ResolveOutputPath(repairedDir, asset.RepairedPageName(page))
	if err != nil {
		return "", err
	}
	if err := rr.writer.Write(ctx, outPath, bytes.NewReader(data), imaging.MimePNG); err != nil {
		return "", fmt.Errorf("修復済みページの書き込みに失敗しました (%s): %w", outPath, err)
	}
	return outPath, nil
}

// updateReport は修復結果をレポートへ反映します。
// 1件でも採用され、かつ合成まで到達したエンティティは repaired へ昇格します。
// 合成に失敗したページは理由つきで残り、昇格の根拠にはなりません。
func (rr *RepairRunner) updateReport(result *CheckResult, outcomes map[string][]report.PageOutcome, outputPaths map[int]string, failures map[int]string) {
	for i := range result.Report.Entities {
		entry := &result.Report.Entities[i]
		pages, ok := outcomes[entry.Name]
		if !ok {
			continue
		}

		repaired := false
		for j := range pages {
			if !pages[j].Accepted {
				continue
			}
			if note, failed := failures[pages[j].PageNumber]; failed {
				pages[j].Reason = fmt.Sprintf("合成に失敗しました: %s", note)
				continue
			}
			repaired = true
			pages[j].OutputPath = outputPaths[pages[j].PageNumber]
		}
		entry.Pages = append(entry.Pages, pages...)
		if repaired && entry.Status == report.StatusInconsistent {
			entry.Status = report.StatusRepaired
		}
	}
	result.Report.Finalize()
}

// inconsistentFindings は有効な評定で不整合とされたエンティティだけを返します。
// 評定失敗（中立縮退）のエンティティを誤って修復しないためのガードなのだ。
func inconsistentFindings(result *CheckResult) []EntityFinding {
	var targets []EntityFinding
	for _, finding := range result.Findings {
		if finding.Outcome.Status == judge.StatusEvaluated && !finding.Outcome.Verdict.Consistent {
			targets = append(targets, finding)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Entity.Name < targets[j].Entity.Name })
	return targets
}
