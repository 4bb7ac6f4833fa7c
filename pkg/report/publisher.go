package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/shouni/go-remote-io/remoteio"
	"github.com/shouni/go-text-format/pkg/md2htmlrunner"

	"github.com/shouni/go-storybook-kit/pkg/asset"
)

// Options はパブリッシュ動作を制御する設定項目です。
type Options struct {
	OutputDir string
}

// PublishResult はパブリッシュ処理の結果として生成されたファイルの情報を保持します。
type PublishResult struct {
	MarkdownPath string // 生成された consistency_report.md のパス
	HTMLPath     string // 生成された HTML のパス
}

var statusLabels = map[EntityStatus]string{
	StatusConsistent:       "✅ consistent",
	StatusInconsistent:     "❌ inconsistent",
	StatusRepaired:         "🔧 repaired",
	StatusEvaluationFailed: "⚠️ evaluation failed",
	StatusSkippedTooFew:    "➖ skipped (too few appearances)",
}

// Publisher は整合性レポートの永続化とフォーマット変換を担います。
type Publisher struct {
	writer     remoteio.OutputWriter
	htmlRunner md2htmlrunner.Runner
}

// NewPublisher は指定の writer と HTML ランナーで Publisher を生成します。
func NewPublisher(writer remoteio.OutputWriter, htmlRunner md2htmlrunner.Runner) *Publisher {
	return &Publisher{
		writer:     writer,
		htmlRunner: htmlRunner,
	}
}

// Publish はレポートの Markdown 構築、書き出し、HTML 変換を一括して実行するのだ！
func (p *Publisher) Publish(ctx context.Context, story StoryReport, opts Options) (PublishResult, error) {
	result := PublishResult{}
	story.Finalize()

	markdown, err := asset.ResolveOutputPath(opts.OutputDir, asset.DefaultReportName)
	if err != nil {
		return result, err
	}
	result.MarkdownPath = markdown

	// 成果物へのリンクはレポートの置き場所からの相対パスで記すのだ。
	content := p.buildMarkdown(story, asset.ResolveBaseURL(markdown))

	if err := p.writer.Write(ctx, markdown, strings.NewReader(content), "text/markdown; charset=utf-8"); err != nil {
		return result, fmt.Errorf("レポートの書き込みに失敗しました: %w", err)
	}

	if p.htmlRunner != nil {
		slog.Info("Converting report to HTML", "title", story.Title)
		htmlBuffer, err := p.htmlRunner.Run(ctx, story.Title, []byte(content))
		if err != nil {
			return result, fmt.Errorf("HTMLの変換に失敗しました: %w", err)
		}

		htmlPath := strings.TrimSuffix(markdown, filepath.Ext(markdown)) + ".html"
		if err := p.writer.Write(ctx, htmlPath, htmlBuffer, "text/html; charset=utf-8"); err != nil {
			return result, fmt.Errorf("HTMLの書き込みに失敗しました: %w", err)
		}
		result.HTMLPath = htmlPath
	}

	return result, nil
}

// buildMarkdown はレポートの Markdown テキストを構築します。
// baseURL 配下の成果物パスはレポートからの相対パスに書き換えます。
func (p *Publisher) buildMarkdown(story StoryReport, baseURL string) string {
	rel := func(path string) string {
		if baseURL != "" {
			return strings.TrimPrefix(path, baseURL)
		}
		return path
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Consistency Report: %s\n\n", story.Title))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", story.GeneratedAt.Format("2006-01-02 15:04:05 MST")))

	counts := story.CountByStatus()
	sb.WriteString("| Status | Count |\n|---|---|\n")
	for _, status := range []EntityStatus{StatusConsistent, StatusRepaired, StatusInconsistent, StatusEvaluationFailed, StatusSkippedTooFew} {
		if n := counts[status]; n > 0 {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", statusLabels[status], n))
		}
	}
	sb.WriteString("\n")

	for _, e := range story.Entities {
		sb.WriteString(fmt.Sprintf("## %s (%s)\n\n", e.Name, e.Kind))
		sb.WriteString(fmt.Sprintf("- status: %s\n", statusLabels[e.Status]))
		sb.WriteString(fmt.Sprintf("- appearances: %d\n", e.Appearances))
		if e.Status != StatusSkippedTooFew {
			sb.WriteString(fmt.Sprintf("- score: %d/10\n", e.Score))
		}
		if e.GridPath != "" {
			sb.WriteString(fmt.Sprintf("- grid: %s\n", rel(e.GridPath)))
		}
		if e.Note != "" {
			sb.WriteString(fmt.Sprintf("- note: %s\n", e.Note))
		}
		if e.Summary != "" {
			sb.WriteString(fmt.Sprintf("\n%s\n", e.Summary))
		}

		if len(e.Issues) > 0 {
			sb.WriteString("\n### Issues\n\n")
			for _, issue := range e.Issues {
				sb.WriteString(fmt.Sprintf("- **%s** %s", issue.Severity, issue.Description))
				if len(issue.AffectedPages) > 0 {
					sb.WriteString(fmt.Sprintf(" (pages: %v)", issue.AffectedPages))
				}
				sb.WriteString("\n")
				if issue.FixInstruction != "" {
					sb.WriteString(fmt.Sprintf("  - fix: %s\n", issue.FixInstruction))
				}
			}
		}

		if len(e.Pages) > 0 {
			sb.WriteString("\n### Repairs\n\n")
			for _, page := range e.Pages {
				mark := "rejected"
				if page.Accepted {
					mark = "accepted"
				}
				sb.WriteString(fmt.Sprintf("- page %d: %s (confidence %.2f)", page.PageNumber, mark, page.Confidence))
				if page.Reason != "" {
					sb.WriteString(fmt.Sprintf(": %s", page.Reason))
				}
				if page.OutputPath != "" {
					sb.WriteString(fmt.Sprintf(" → %s", rel(page.OutputPath)))
				}
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
