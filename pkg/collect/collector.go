// Package collect は検出レコードをエンティティごとの出現リストへ束ねます。
// ここはネットワーク呼び出しを一切行わない、純粋な同期スキャンです。
package collect

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

const (
	// DefaultMinAppearances を下回るエンティティは比較対象から外すのだ。
	// サンプルが2未満では一貫性の比較そのものが定義できないのだよ。
	DefaultMinAppearances = 2

	// wholeWordPenalty は単語一致フォールバックの信頼度係数です。
	wholeWordPenalty = 0.8
)

// Config は Collector の動作パラメータです。
type Config struct {
	MinAppearances int
}

// Collector は追跡エンティティの出現をページ横断で収集します。
type Collector struct {
	minAppearances int
}

// NewCollector は Collector を生成します。閾値が未指定ならデフォルトを使います。
func NewCollector(cfg Config) *Collector {
	min := cfg.MinAppearances
	if min <= 0 {
		min = DefaultMinAppearances
	}
	return &Collector{minAppearances: min}
}

// Collect は全ページの検出データを走査し、エンティティ名 -> ページ昇順の出現リストを返します。
// 出現数が閾値未満のエンティティは結果から丸ごと除外されます。
func (c *Collector) Collect(pages []domain.PageDetections, entities []domain.Entity) map[string][]domain.Appearance {
	sorted := make([]domain.PageDetections, len(pages))
	copy(sorted, pages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Page < sorted[j].Page })

	result := make(map[string][]domain.Appearance, len(entities))
	for _, entity := range entities {
		var apps []domain.Appearance
		if entity.Kind == domain.KindObject {
			apps = c.collectObject(sorted, entity)
		} else {
			apps = c.collectCharacter(sorted, entity)
		}

		if len(apps) < c.minAppearances {
			slog.Debug("出現数が閾値未満のため除外します",
				"entity", entity.Name, "appearances", len(apps), "min", c.minAppearances)
			continue
		}
		result[entity.Name] = apps
	}
	return result
}

// collectCharacter はキャラクターの同定ポリシーで出現を集めるのだ。
// 完全一致（大文字小文字無視）を最優先し、なければラベル内の単語一致に
// フォールバックする。生の部分文字列一致は絶対にやらないのだ
// （"Anna" が "Annabelle" を拾ってはいけない）。
func (c *Collector) collectCharacter(pages []domain.PageDetections, entity domain.Entity) []domain.Appearance {
	wordRe := wholeWordRegexp(entity.Name)
	var apps []domain.Appearance

	for _, page := range pages {
		if page.Image == "" {
			continue
		}
		// 1ページにつき高々1出現。完全一致が1つでもあれば単語一致候補より常に優先する。
		fig, confidence, ok := matchPage(entity.Name, page.Figures, wordRe)
		if !ok {
			continue
		}
		box, _ := fig.PreferredBox()
		app, err := domain.NewAppearance(page.Page, page.Image, box, page.ClothingFor(entity.Name), confidence, false)
		if err != nil {
			slog.Debug("不正な出現を読み飛ばします", "entity", entity.Name, "page", page.Page, "error", err)
			continue
		}
		apps = append(apps, app)
	}
	return apps
}

// matchPage は同定の優先順位をページ内の全候補に対して適用します。
// まず全フィギュアを完全一致で走査し、1件も無かったときに限り
// 単語一致のフォールバック走査に移ります。
func matchPage(name string, figures []domain.Figure, wordRe *regexp.Regexp) (domain.Figure, float64, bool) {
	for _, fig := range figures {
		if !strings.EqualFold(name, fig.Name) && !strings.EqualFold(name, fig.Label) {
			continue
		}
		if _, ok := fig.PreferredBox(); !ok {
			continue
		}
		return fig, clamp01(fig.Confidence), true
	}
	for _, fig := range figures {
		if fig.Label == "" || !wordRe.MatchString(fig.Label) {
			continue
		}
		if _, ok := fig.PreferredBox(); !ok {
			continue
		}
		return fig, clamp01(fig.Confidence * wholeWordPenalty), true
	}
	return domain.Figure{}, 0, false
}

// collectObject はオブジェクトの出現を集めます。
// 呼び出し側提供の正準参照名（ObjectMatches）があればそれでグループ化し、
// なければ生の検出ラベルでグループ化します。
func (c *Collector) collectObject(pages []domain.PageDetections, entity domain.Entity) []domain.Appearance {
	var apps []domain.Appearance
	for _, page := range pages {
		if page.Image == "" {
			continue
		}
		refByLabel := make(map[string]domain.ObjectMatch, len(page.ObjectMatches))
		for _, m := range page.ObjectMatches {
			refByLabel[strings.ToLower(m.Label)] = m
		}

		found := false
		for _, obj := range page.Objects {
			if found {
				break
			}
			confidence := 1.0
			canonical := obj.Label
			if m, ok := refByLabel[strings.ToLower(obj.Label)]; ok && m.Reference != "" {
				canonical = m.Reference
				confidence = clamp01(m.Confidence)
			}
			if !strings.EqualFold(canonical, entity.Name) {
				continue
			}
			box, err := domain.BoxFromSlice(obj.BodyBox)
			if err != nil || box.IsDegenerate() {
				continue
			}
			app, err := domain.NewAppearance(page.Page, page.Image, box, domain.ClothingStandard, confidence, true)
			if err != nil {
				continue
			}
			apps = append(apps, app)
			found = true
		}
	}
	return apps
}

// wholeWordRegexp はエンティティ名の単語境界付きパターンを構築するのだ。
func wholeWordRegexp(name string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\b`)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
