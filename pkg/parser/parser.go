package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shouni/go-remote-io/remoteio"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

// StoryInput は検査パイプラインへの入力一式です。
// 検出結果とエンティティ台帳は別ファイルで供給されます。
type StoryInput struct {
	Title    string
	Pages    []domain.PageDetections
	Entities []domain.Entity
}

// Parser は検出結果・エンティティ台帳の読み込みインターフェースです。
type Parser interface {
	ParseDetections(ctx context.Context, fullPath string) ([]domain.PageDetections, error)
	ParseEntities(ctx context.Context, fullPath string) ([]domain.Entity, error)
}

// detectionsFile は検出結果 JSON のトップレベル構造です。
// ページ配列を直接持つ形式（配列のみのファイル）にも対応します。
type detectionsFile struct {
	Title string                  `json:"title,omitempty"`
	Pages []domain.PageDetections `json:"pages"`
}

// entitiesFile はエンティティ台帳 JSON のトップレベル構造です。
type entitiesFile struct {
	Entities []domain.Entity `json:"entities"`
}

// StoryParser は JSON 形式の検出結果とエンティティ台帳を解析する構造体です。
type StoryParser struct {
	reader remoteio.InputReader
}

// NewStoryParser は新しい StoryParser インスタンスを生成します。
func NewStoryParser(r remoteio.InputReader) *StoryParser {
	return &StoryParser{reader: r}
}

// ParseStory は検出結果とエンティティ台帳をまとめて読み込みます。
func (p *StoryParser) ParseStory(ctx context.Context, detectionsPath, entitiesPath string) (*StoryInput, error) {
	title, pages, err := p.parseDetections(ctx, detectionsPath)
	if err != nil {
		return nil, err
	}
	entities, err := p.ParseEntities(ctx, entitiesPath)
	if err != nil {
		return nil, err
	}
	return &StoryInput{Title: title, Pages: pages, Entities: entities}, nil
}

// ParseDetections は指定された GCS URI やローカルファイルパスなどから
// ページごとの検出結果を読み込みます。
func (p *StoryParser) ParseDetections(ctx context.Context, fullPath string) ([]domain.PageDetections, error) {
	_, pages, err := p.parseDetections(ctx, fullPath)
	return pages, err
}

func (p *StoryParser) parseDetections(ctx context.Context, fullPath string) (string, []domain.PageDetections, error) {
	slog.InfoContext(ctx, "検出結果ファイルを読み込んでいます", "path", fullPath)
	rc, err := p.reader.Open(ctx, fullPath)
	if err != nil {
		return "", nil, fmt.Errorf("検出結果ファイルのオープンに失敗しました (%s): %w", fullPath, err)
	}
	defer rc.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(rc).Decode(&raw); err != nil {
		return "", nil, fmt.Errorf("検出結果JSONのパースに失敗しました: %w", err)
	}

	// オブジェクト形式（title + pages）と配列のみ形式の両方を受け付けます。
	file := detectionsFile{}
	if err := json.Unmarshal(raw, &file); err != nil {
		var pages []domain.PageDetections
		if arrErr := json.Unmarshal(raw, &pages); arrErr != nil {
			return "", nil, fmt.Errorf("検出結果JSONのパースに失敗しました: %w", err)
		}
		file.Pages = pages
	}

	if len(file.Pages) == 0 {
		return "", nil, fmt.Errorf("検出結果にページが1件もありません (%s)", fullPath)
	}
	return file.Title, sanitizePages(file.Pages), nil
}

// ParseEntities はエンティティ台帳を読み込みます。
func (p *StoryParser) ParseEntities(ctx context.Context, fullPath string) ([]domain.Entity, error) {
	slog.InfoContext(ctx, "エンティティ台帳を読み込んでいます", "path", fullPath)
	rc, err := p.reader.Open(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("エンティティ台帳のオープンに失敗しました (%s): %w", fullPath, err)
	}
	defer rc.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(rc).Decode(&raw); err != nil {
		return nil, fmt.Errorf("エンティティ台帳JSONのパースに失敗しました: %w", err)
	}

	file := entitiesFile{}
	if err := json.Unmarshal(raw, &file); err != nil || len(file.Entities) == 0 {
		var entities []domain.Entity
		if arrErr := json.Unmarshal(raw, &entities); arrErr == nil && len(entities) > 0 {
			return entities, nil
		}
	}

	if len(file.Entities) == 0 {
		return nil, fmt.Errorf("エンティティ台帳が空です (%s)", fullPath)
	}
	return file.Entities, nil
}

// sanitizePages は検出レコードの防御的な検証を行います。
// 不正なボックスを持つレコードは警告ログの上で捨て、ページ全体は生かします。
func sanitizePages(pages []domain.PageDetections) []domain.PageDetections {
	for i := range pages {
		page := &pages[i]

		figures := page.Figures[:0]
		for _, f := range page.Figures {
			if _, ok := f.PreferredBox(); !ok {
				slog.Warn("有効なボックスを持たない人物検出を無視します",
					"page", page.Page, "name", f.Name, "label", f.Label)
				continue
			}
			figures = append(figures, f)
		}
		page.Figures = figures

		objects := page.Objects[:0]
		for _, o := range page.Objects {
			if _, err := domain.BoxFromSlice(o.BodyBox); err != nil {
				slog.Warn("不正なボックスを持つ物体検出を無視します",
					"page", page.Page, "label", o.Label, "error", err)
				continue
			}
			objects = append(objects, o)
		}
		page.Objects = objects
	}
	return pages
}
