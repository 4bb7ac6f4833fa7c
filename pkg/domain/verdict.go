package domain

// Issue は一貫性判定で報告された個別の問題です。
type Issue struct {
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	FixInstruction string `json:"fix_instruction"`
	AffectedPages  []int  `json:"affected_pages"`
}

// ConsistencyVerdict は視覚判定サービスから返される構造化された評定です。
type ConsistencyVerdict struct {
	Consistent bool    `json:"consistent"`
	Score      float64 `json:"score"` // 0-10
	Issues     []Issue `json:"issues,omitempty"`
	Summary    string  `json:"summary,omitempty"`
}

// NeutralVerdict は判定が取得できなかった場合の安全側デフォルトを返すのだ。
// 外部判定の失敗でバッチ全体を止めないための「一貫している扱い・低スコア」なのだよ。
func NeutralVerdict(reason string) ConsistencyVerdict {
	return ConsistencyVerdict{
		Consistent: true,
		Score:      5,
		Summary:    reason,
	}
}

// VerificationResult は修復候補の検証結果です。
// 1つでも検証項目が落ちれば Accepted=false となり、Reason に人間可読の理由が入ります。
type VerificationResult struct {
	Accepted   bool    `json:"accepted"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}
