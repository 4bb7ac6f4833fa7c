// Package prompts は判定・修復・検証の各プロンプトを構築します。
package prompts

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

// JudgeData は一貫性判定プロンプトのテンプレートに渡すデータ構造です。
type JudgeData struct {
	EntityName  string
	EntityKind  string
	CellSummary string
	GridURI     string
}

// RepairData はグリッド再生成プロンプトのテンプレートに渡すデータ構造です。
type RepairData struct {
	EntityName      string
	Clothing        string
	CellSummary     string
	FixInstructions string
}

// VerifyData は修復検証プロンプトのテンプレートに渡すデータ構造です。
type VerifyData struct {
	OriginalURI      string
	RepairedURI      string
	IssueDescription string
	FixInstruction   string
}

// Builder はプロンプトテンプレートの構成を管理し、モード選択のロジックを内包します。
type Builder struct {
	templates map[string]*template.Template
}

// NewBuilder は埋め込みテンプレートを解析して Builder を初期化します。
func NewBuilder() (*Builder, error) {
	parsed := make(map[string]*template.Template, len(allTemplates))
	for mode, content := range allTemplates {
		if content == "" {
			return nil, fmt.Errorf("プロンプトテンプレート '%s' (go:embed) の読み込みに失敗しました: 内容が空です", mode)
		}
		tmpl, err := template.New(mode).Parse(content)
		if err != nil {
			return nil, fmt.Errorf("プロンプト '%s' の解析に失敗: %w", mode, err)
		}
		parsed[mode] = tmpl
	}
	return &Builder{templates: parsed}, nil
}

// build は指定モードのテンプレートを実行します。
func (b *Builder) build(mode string, data any) (string, error) {
	tmpl, ok := b.templates[mode]
	if !ok {
		return "", fmt.Errorf("不明なモードです: '%s'", mode)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("プロンプトテンプレートの実行に失敗しました: %w", err)
	}
	return sb.String(), nil
}

// BuildJudgePrompt は一貫性判定のプロンプトを構築します。
func (b *Builder) BuildJudgePrompt(data JudgeData) (string, error) {
	return b.build(ModeJudge, data)
}

// BuildRepairPrompt はグリッド再生成のプロンプトを構築します。
func (b *Builder) BuildRepairPrompt(data RepairData) (string, error) {
	return b.build(ModeRepair, data)
}

// BuildVerifyPrompt は修復検証のプロンプトを構築します。
func (b *Builder) BuildVerifyPrompt(data VerifyData) (string, error) {
	return b.build(ModeVerify, data)
}

// FormatFixInstructions は評定の問題リストを修復指示の箇条書きに整形するのだ。
// 対象の服装グループに関係するページの指示だけを残すのだよ。
func FormatFixInstructions(issues []domain.Issue, pages []int) string {
	pageSet := make(map[int]struct{}, len(pages))
	for _, p := range pages {
		pageSet[p] = struct{}{}
	}

	var sb strings.Builder
	for _, issue := range issues {
		if issue.FixInstruction == "" {
			continue
		}
		if len(issue.AffectedPages) > 0 && !touchesPages(issue.AffectedPages, pageSet) {
			continue
		}
		sb.WriteString(fmt.Sprintf("- [%s] %s", issue.Severity, issue.FixInstruction))
		if issue.Description != "" {
			sb.WriteString(fmt.Sprintf(" (issue: %s)", issue.Description))
		}
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		sb.WriteString("- Make every cell match the reference appearance exactly.\n")
	}
	return sb.String()
}

func touchesPages(affected []int, pageSet map[int]struct{}) bool {
	for _, p := range affected {
		if _, ok := pageSet[p]; ok {
			return true
		}
	}
	return false
}
