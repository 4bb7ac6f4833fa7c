// Package judge は視覚判定サービス（外部コラボレーター）との契約を定義します。
// 判定そのものはこのコアでは実装せず、型付きの結果として消費します。
package judge

import (
	"context"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

// EvaluationRequest は一貫性判定の1回分の要求です。
type EvaluationRequest struct {
	EntityName  string
	EntityKind  domain.EntityKind
	GridURI     string // アップロード済みグリッド画像の参照 URI
	CellSummary string // マニフェスト由来のセル一覧の要約
}

// Evaluator はグリッドとセル情報から一貫性評定を返す判定サービスです。
type Evaluator interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (domain.ConsistencyVerdict, error)
}

// Status は評価の成否を示すタグです。
// 「AIが一貫していると言った」と「判定が取得できなかった」を下流で区別するためのものなのだ。
type Status string

const (
	// StatusEvaluated は判定サービスから有効な評定が得られたことを示します。
	StatusEvaluated Status = "evaluated"
	// StatusFailed は判定の失敗を安全側デフォルトに縮退したことを示します。
	StatusFailed Status = "evaluation_failed"
)

// Outcome は評価のタグ付き結果です。失敗時も Verdict には安全側デフォルトが入り、
// 1エンティティの失敗が他エンティティの評価を阻害しないことを保証します。
type Outcome struct {
	Status  Status
	Verdict domain.ConsistencyVerdict
	Reason  string
}

// Evaluated は有効な評定を包んだ Outcome を返します。
func Evaluated(v domain.ConsistencyVerdict) Outcome {
	return Outcome{Status: StatusEvaluated, Verdict: v}
}

// Failed は失敗理由を記録しつつ中立評定に縮退した Outcome を返すのだ。
func Failed(reason string) Outcome {
	return Outcome{
		Status:  StatusFailed,
		Verdict: domain.NeutralVerdict(reason),
		Reason:  reason,
	}
}
