package judge

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

// ErrParseFailed は判定レスポンスの構造化解析に失敗したことを示すセンチネルです。
// 呼び出し側はこれを検知して安全側デフォルトに縮退し、絶対にバッチを止めません。
var ErrParseFailed = errors.New("判定レスポンスの解析に失敗しました")

var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*\\S)\\s*```")

// ParseError は解析失敗の詳細と生テキストを保持します。
type ParseError struct {
	RawText string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (応答抜粋: %q)", e.Err, truncateString(e.RawText, 200))
}

func (e *ParseError) Unwrap() error { return ErrParseFailed }

// extractJSON はフォーマットのノイズに包まれた応答から JSON 本体を取り出すのだ。
// コードフェンス -> 最外の中括弧 -> 全文、の順でフォールバックするのだよ。
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if matches := jsonBlockRegex.FindStringSubmatch(raw); len(matches) > 1 {
		return matches[1]
	}

	firstBracket := strings.Index(raw, "{")
	lastBracket := strings.LastIndex(raw, "}")
	if firstBracket != -1 && lastBracket > firstBracket {
		return raw[firstBracket : lastBracket+1]
	}

	return raw
}

// ParseVerdict は判定サービスの自由形式応答を ConsistencyVerdict に解析します。
// 解析の内部事情で呼び出し側が分岐しないよう、失敗は常に ErrParseFailed に包んで返します。
func ParseVerdict(raw string) (domain.ConsistencyVerdict, error) {
	var verdict domain.ConsistencyVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return domain.ConsistencyVerdict{}, &ParseError{RawText: raw, Err: err}
	}

	// スコアは 0-10 の評定なので範囲外は切り詰める
	if verdict.Score < 0 {
		verdict.Score = 0
	}
	if verdict.Score > 10 {
		verdict.Score = 10
	}
	return verdict, nil
}

// VerificationVerdict は修復検証判定の構造化応答です。
type VerificationVerdict struct {
	Changed           bool     `json:"changed"`
	Fixed             bool     `json:"fixed"`
	PositionPreserved bool     `json:"position_preserved"`
	StylePreserved    bool     `json:"style_preserved"`
	Confidence        float64  `json:"confidence"`
	NewArtifacts      []string `json:"new_artifacts,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// ParseVerification は修復検証の応答を解析します。失敗の扱いは ParseVerdict と同様です。
func ParseVerification(raw string) (VerificationVerdict, error) {
	var verdict VerificationVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return VerificationVerdict{}, &ParseError{RawText: raw, Err: err}
	}
	return verdict, nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
