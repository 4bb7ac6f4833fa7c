package report

import (
	"sort"
	"time"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

// EntityStatus はエンティティごとの検査・修復の最終状態です。
type EntityStatus string

const (
	// StatusConsistent は評定で整合と判断された状態です。
	StatusConsistent EntityStatus = "consistent"
	// StatusInconsistent は不整合と評定されたが修復されていない状態です。
	StatusInconsistent EntityStatus = "inconsistent"
	// StatusRepaired は不整合の評定後、1ページ以上の修復が採用された状態です。
	StatusRepaired EntityStatus = "repaired"
	// StatusEvaluationFailed は外部評定が取得できず中立扱いになった状態です。
	StatusEvaluationFailed EntityStatus = "evaluation_failed"
	// StatusSkippedTooFew は出現数が閾値未満で検査対象外になった状態です。
	StatusSkippedTooFew EntityStatus = "skipped_too_few"
)

// PageOutcome は1ページ分の修復試行の結果です。棄却された試行も残します。
type PageOutcome struct {
	PageNumber int     `json:"page"`
	Accepted   bool    `json:"accepted"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	OutputPath string  `json:"output_path,omitempty"`
}

// EntityReport はエンティティ1体分の検査・修復サマリです。
type EntityReport struct {
	Name        string            `json:"name"`
	Kind        domain.EntityKind `json:"kind"`
	Status      EntityStatus      `json:"status"`
	Appearances int               `json:"appearances"`
	Score       int               `json:"score"`
	Summary     string            `json:"summary,omitempty"`
	Issues      []domain.Issue    `json:"issues,omitempty"`
	GridPath    string            `json:"grid_path,omitempty"`
	Pages       []PageOutcome     `json:"pages,omitempty"`
	Note        string            `json:"note,omitempty"`
}

// StoryReport は物語1冊分の整合性レポートです。
type StoryReport struct {
	Title       string         `json:"title"`
	GeneratedAt time.Time      `json:"generated_at"`
	Entities    []EntityReport `json:"entities"`
}

// Add はエンティティレポートを追加します。並行処理からの追加順に依存しない
// よう、Finalize で名前順に整列されます。
func (r *StoryReport) Add(e EntityReport) {
	r.Entities = append(r.Entities, e)
}

// Finalize はレポートを決定的な順序に整えます。
func (r *StoryReport) Finalize() {
	sort.Slice(r.Entities, func(i, j int) bool { return r.Entities[i].Name < r.Entities[j].Name })
	for i := range r.Entities {
		pages := r.Entities[i].Pages
		sort.Slice(pages, func(a, b int) bool { return pages[a].PageNumber < pages[b].PageNumber })
	}
}

// CountByStatus は状態ごとのエンティティ数を数えます。
func (r *StoryReport) CountByStatus() map[EntityStatus]int {
	counts := make(map[EntityStatus]int)
	for _, e := range r.Entities {
		counts[e.Status]++
	}
	return counts
}

// HasInconsistencies は未修復の不整合が残っているかを返します。
func (r *StoryReport) HasInconsistencies() bool {
	for _, e := range r.Entities {
		if e.Status == StatusInconsistent {
			return true
		}
	}
	return false
}
