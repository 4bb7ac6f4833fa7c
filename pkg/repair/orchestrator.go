package repair

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shouni/go-storybook-kit/pkg/avatar"
	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/grid"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/prompts"
)

// ErrNoImageProduced は再生成サービスが画像データなしで応答した
// （テキストのみの拒否応答など）ことを示すセンチネルエラーです。
var ErrNoImageProduced = errors.New("再生成サービスが画像を返しませんでした")

// RegenerationRequest はグリッド再生成の入力です。参照 URL は任意で、
// 空の場合はグリッド内の参照セルのみが拠り所になります。
type RegenerationRequest struct {
	Prompt       string
	Grid         []byte
	GridMime     string
	ReferenceURL string
	EntityName   string
	Clothing     string
}

// RegenerationResult は再生成されたグリッド画像です。
type RegenerationResult struct {
	Image    image.Image
	Data     []byte
	MimeType string
}

// Regenerator はグリッド画像の再生成を外部の画像生成サービスに委ねます。
// 画像が得られなかった場合は ErrNoImageProduced を返すことが契約です。
type Regenerator interface {
	RegenerateGrid(ctx context.Context, req RegenerationRequest) (*RegenerationResult, error)
}

// PageRepairResult は1ページ分の修復候補と、その検証結果です。
// 棄却された候補も Verification 付きで保持し、レポートに反映させます。
type PageRepairResult struct {
	PageNumber   int
	Letter       string
	Repair       imaging.PageRepair
	Verification domain.VerificationResult
}

// Config は Orchestrator の動作パラメータです。
type Config struct {
	CellSize int
	MaxCells int
}

// Orchestrator は不整合と評定されたエンティティの修復フローを駆動します。
// 服装グループごとに修復グリッドを組み、再生成→セル復元→検証を経て
// 合成可能なページ修復を生み出します。
type Orchestrator struct {
	grids    *grid.Builder
	regen    Regenerator
	verifier *Verifier
	avatars  *avatar.Resolver
	prompts  *prompts.Builder
	logger   *slog.Logger
}

func NewOrchestrator(regen Regenerator, verifier *Verifier, avatars *avatar.Resolver, pb *prompts.Builder, cfg Config) *Orchestrator {
	return &Orchestrator{
		grids:    grid.NewBuilder(grid.Config{CellSize: cfg.CellSize, MaxCells: cfg.MaxCells}),
		regen:    regen,
		verifier: verifier,
		avatars:  avatars,
		prompts:  pb,
		logger:   slog.Default().With("component", "repair_orchestrator"),
	}
}

// RepairEntity はエンティティの全出現クロップを服装グループ単位で修復します。
// グループ間は並行に処理され、あるグループの再生成失敗は他グループを
// 巻き込みません（失敗グループは警告ログの上スキップ）。
func (o *Orchestrator) RepairEntity(ctx context.Context, entity domain.Entity, loader imaging.Loader, crops []*imaging.Crop, verdict domain.ConsistencyVerdict) ([]PageRepairResult, error) {
	if len(crops) == 0 {
		return nil, fmt.Errorf("エンティティ '%s' に修復対象のクロップがありません", entity.Name)
	}

	groups := groupByClothing(crops)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		mu      sync.Mutex
		results []PageRepairResult
	)
	eg, gctx := errgroup.WithContext(ctx)
	for _, clothing := range keys {
		group := groups[clothing]
		eg.Go(func() error {
			repairs, err := o.repairGroup(gctx, entity, loader, clothing, group, verdict)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				// 再生成の失敗はグループ局所の事象として扱い、他の服装の修復を継続します。
				o.logger.Warn("服装グループの修復に失敗しました",
					"entity", entity.Name, "clothing", clothing, "error", err)
				return nil
			}
			mu.Lock()
			results = append(results, repairs...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].PageNumber < results[j].PageNumber })
	return results, nil
}

// RepairPage は単一ページだけを修復対象とし、同じ服装グループの他の出現と
// アバターはあくまで参照文脈として添えます。修復されるセルは1つだけです。
func (o *Orchestrator) RepairPage(ctx context.Context, entity domain.Entity, loader imaging.Loader, crops []*imaging.Crop, page int, verdict domain.ConsistencyVerdict) (*PageRepairResult, error) {
	var target *imaging.Crop
	for _, c := range crops {
		if c.Appearance.PageNumber == page {
			target = c
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("エンティティ '%s' はページ %d に出現していません", entity.Name, page)
	}

	// 同じ服装の出現をページ順のまま文脈として束ね、対象はセル文字で指定します。
	clothing := target.Appearance.Clothing
	var group []*imaging.Crop
	for _, c := range crops {
		if c.Appearance.Clothing == clothing {
			group = append(group, c)
		}
	}

	repairs, err := o.repairGroupTargeted(ctx, entity, loader, clothing, group, verdict, page)
	if err != nil {
		return nil, err
	}
	for i := range repairs {
		if repairs[i].PageNumber == page {
			return &repairs[i], nil
		}
	}
	return nil, fmt.Errorf("ページ %d の修復セルを復元できませんでした", page)
}

func (o *Orchestrator) repairGroup(ctx context.Context, entity domain.Entity, loader imaging.Loader, clothing string, group []*imaging.Crop, verdict domain.ConsistencyVerdict) ([]PageRepairResult, error) {
	return o.repairGroupTargeted(ctx, entity, loader, clothing, group, verdict, noTargetPage)
}

// noTargetPage はページ番号が0始まりのため、対象指定なしの番兵として負値を使います。
const noTargetPage = -1

// repairGroupTargeted は服装グループ1つ分の修復を実行します。
// targetPage が非負のときはそのページのセルだけを修復対象とし、
// 他のセルはプロンプト上「触れてはならない文脈」として扱います。
func (o *Orchestrator) repairGroupTargeted(ctx context.Context, entity domain.Entity, loader imaging.Loader, clothing string, group []*imaging.Crop, verdict domain.ConsistencyVerdict, targetPage int) ([]PageRepairResult, error) {
	// セル文字はページ昇順に振られる約束なので、呼び出し元の順序には頼らない。
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].Appearance.PageNumber < group[j].Appearance.PageNumber
	})

	reference, referenceURL := o.loadReference(ctx, entity, loader, clothing)

	gridImg, manifest, err := o.grids.Build(group, reference)
	if err != nil {
		return nil, fmt.Errorf("修復グリッドの構築に失敗しました: %w", err)
	}
	gridPNG, err := imaging.EncodePNG(gridImg)
	if err != nil {
		return nil, fmt.Errorf("修復グリッドのエンコードに失敗しました: %w", err)
	}

	cells := manifest.AppearanceCells()
	pages := make([]int, 0, len(cells))
	for _, c := range cells {
		pages = append(pages, c.PageNumber)
	}
	fix := prompts.FormatFixInstructions(verdict.Issues, pages)
	if domain.IsCostume(clothing) {
		costume := strings.TrimPrefix(clothing, domain.ClothingCostumePrefix)
		fix += fmt.Sprintf("- The subject wears the %q costume in every cell. Keep the costume; fix only the identity features.\n", costume)
	}
	if targetPage != noTargetPage {
		if letter, ok := letterForPage(cells, targetPage); ok {
			fix += fmt.Sprintf("- Modify ONLY cell %s. Every other cell is reference context and must be reproduced untouched.\n", letter)
		}
	}

	prompt, err := o.prompts.BuildRepairPrompt(prompts.RepairData{
		EntityName:      entity.Name,
		Clothing:        clothing,
		CellSummary:     manifest.DescribeCells(),
		FixInstructions: fix,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := o.regen.RegenerateGrid(ctx, RegenerationRequest{
		Prompt:       prompt,
		Grid:         gridPNG,
		GridMime:     imaging.MimePNG,
		ReferenceURL: referenceURL,
		EntityName:   entity.Name,
		Clothing:     clothing,
	})
	if err != nil {
		return nil, fmt.Errorf("グリッド再生成に失敗しました (entity=%s, clothing=%s): %w", entity.Name, clothing, err)
	}
	o.logger.Info("グリッドを再生成しました",
		"entity", entity.Name, "clothing", clothing,
		"cells", len(cells), "bytes", len(result.Data),
		"duration", time.Since(start))

	cropsByPage := make(map[int]*imaging.Crop, len(group))
	for _, c := range group {
		cropsByPage[c.Appearance.PageNumber] = c
	}

	results := make([]PageRepairResult, 0, len(cells))
	for _, cell := range cells {
		if targetPage != noTargetPage && cell.PageNumber != targetPage {
			continue
		}
		original, ok := cropsByPage[cell.PageNumber]
		if !ok {
			continue
		}
		cellImg, err := manifest.ExtractCell(result.Image, cell)
		if err != nil {
			o.logger.Warn("再生成グリッドからのセル復元に失敗しました",
				"entity", entity.Name, "cell", cell.Letter, "error", err)
			continue
		}
		restored, err := imaging.Resize(cellImg, cell.OriginalWidth, cell.OriginalHeight)
		if err != nil {
			o.logger.Warn("復元セルのリサイズに失敗しました",
				"entity", entity.Name, "cell", cell.Letter, "error", err)
			continue
		}

		verification := o.verifier.Verify(ctx, original, restored, issueForPage(verdict, cell.PageNumber))
		if !verification.Accepted {
			o.logger.Info("修復候補を棄却しました",
				"entity", entity.Name, "page", cell.PageNumber, "reason", verification.Reason)
		}
		results = append(results, PageRepairResult{
			PageNumber:   cell.PageNumber,
			Letter:       cell.Letter,
			Repair:       imaging.PageRepair{PaddedBox: cell.PaddedBox, Image: restored},
			Verification: verification,
		})
	}
	return results, nil
}

// loadReference はエンティティのアバター参照画像を解決して読み込みます。
// アバターが存在しない、または読み込めない場合は参照なしで続行します
// （データ欠如は致命ではない方針）。
func (o *Orchestrator) loadReference(ctx context.Context, entity domain.Entity, loader imaging.Loader, clothing string) (image.Image, string) {
	url, ok := o.avatars.ResolveURL(entity, clothing)
	if !ok {
		o.logger.Debug("参照アバターが見つからないため参照セルなしで修復します",
			"entity", entity.Name, "clothing", clothing)
		return nil, ""
	}
	img, err := loader.Load(ctx, url)
	if err != nil {
		o.logger.Warn("参照アバターの読み込みに失敗しました", "entity", entity.Name, "url", url, "error", err)
		return nil, url
	}
	return img, url
}

func groupByClothing(crops []*imaging.Crop) map[string][]*imaging.Crop {
	groups := make(map[string][]*imaging.Crop)
	for _, c := range crops {
		key := domain.NormalizeClothing(c.Appearance.Clothing)
		groups[key] = append(groups[key], c)
	}
	return groups
}

func letterForPage(cells []grid.Cell, page int) (string, bool) {
	for _, c := range cells {
		if c.PageNumber == page {
			return c.Letter, true
		}
	}
	return "", false
}

// issueForPage は検証に添える代表的な問題を選びます。該当ページを指す
// 問題が無い場合は最初の問題、それも無ければ汎用の説明にフォールバックします。
func issueForPage(verdict domain.ConsistencyVerdict, page int) domain.Issue {
	for _, issue := range verdict.Issues {
		for _, p := range issue.AffectedPages {
			if p == page {
				return issue
			}
		}
	}
	if len(verdict.Issues) > 0 {
		return verdict.Issues[0]
	}
	return domain.Issue{
		Severity:       "minor",
		Description:    "visual consistency drift from the reference appearance",
		FixInstruction: "match the reference appearance exactly",
	}
}
