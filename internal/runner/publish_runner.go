package runner

import (
	"context"
	"log/slog"

	"github.com/shouni/go-storybook-kit/internal/config"
	"github.com/shouni/go-storybook-kit/pkg/report"
)

// PublishRunner はレポートの保存とフォーマット変換を行う Runner です。
type PublishRunner struct {
	options   config.CheckOptions
	publisher *report.Publisher
}

// NewPublishRunner は PublishRunner の新しいインスタンスを生成して返す。
func NewPublishRunner(pub *report.Publisher, options config.CheckOptions) *PublishRunner {
	return &PublishRunner{
		options:   options,
		publisher: pub,
	}
}

// Run は整合性レポートを Markdown として保存し、HTML 変換も行うのだ。
func (pr *PublishRunner) Run(ctx context.Context, story report.StoryReport) (report.PublishResult, error) {
	result, err := pr.publisher.Publish(ctx, story, report.Options{
		OutputDir: pr.options.OutputDir,
	})
	if err != nil {
		return result, err
	}

	slog.Info("レポートを保存したのだ", "markdown", result.MarkdownPath, "html", result.HTMLPath)
	return result, nil
}
