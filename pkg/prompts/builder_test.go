package prompts

import (
	"strings"
	"testing"

	"github.com/shouni/go-storybook-kit/pkg/domain"
)

func TestNewBuilder(t *testing.T) {
	t.Run("埋め込みテンプレートがすべて解析できること", func(t *testing.T) {
		if _, err := NewBuilder(); err != nil {
			t.Fatalf("Builder の初期化に失敗しました: %v", err)
		}
	})
}

func TestBuilder_BuildPrompts(t *testing.T) {
	b, err := NewBuilder()
	if err != nil {
		t.Fatalf("Builder の初期化に失敗しました: %v", err)
	}

	t.Run("判定プロンプトにエンティティ情報とセル要約が埋まること", func(t *testing.T) {
		prompt, err := b.BuildJudgePrompt(JudgeData{
			EntityName:  "Mila",
			EntityKind:  "character",
			CellSummary: "- Cell A: page 0\n- Cell B: page 2\n",
		})
		if err != nil {
			t.Fatalf("プロンプト構築に失敗しました: %v", err)
		}
		for _, want := range []string{"Mila", "Cell A", "Cell B"} {
			if !strings.Contains(prompt, want) {
				t.Errorf("プロンプトに %q が含まれていません", want)
			}
		}
	})

	t.Run("修復プロンプトに修復指示が埋まること", func(t *testing.T) {
		prompt, err := b.BuildRepairPrompt(RepairData{
			EntityName:      "Mila",
			Clothing:        "costumed:raincoat",
			CellSummary:     "- Cell A: page 1\n",
			FixInstructions: "- [major] Match the hair color to the reference.\n",
		})
		if err != nil {
			t.Fatalf("プロンプト構築に失敗しました: %v", err)
		}
		if !strings.Contains(prompt, "Match the hair color to the reference.") {
			t.Error("修復指示がプロンプトに埋め込まれていません")
		}
	})

	t.Run("検証プロンプトに問題説明が埋まること", func(t *testing.T) {
		prompt, err := b.BuildVerifyPrompt(VerifyData{
			OriginalURI:      "files/original",
			RepairedURI:      "files/repaired",
			IssueDescription: "hair color drift on page 2",
		})
		if err != nil {
			t.Fatalf("プロンプト構築に失敗しました: %v", err)
		}
		if !strings.Contains(prompt, "hair color drift on page 2") {
			t.Error("問題説明がプロンプトに埋め込まれていません")
		}
	})
}

func TestFormatFixInstructions(t *testing.T) {
	issues := []domain.Issue{
		{Severity: "major", Description: "hair drift", FixInstruction: "Fix the hair color.", AffectedPages: []int{2}},
		{Severity: "minor", Description: "bag missing", FixInstruction: "Add the shoulder bag.", AffectedPages: []int{5}},
		{Severity: "minor", Description: "no instruction", AffectedPages: []int{2}},
	}

	t.Run("対象ページに関係する指示だけが残ること", func(t *testing.T) {
		out := FormatFixInstructions(issues, []int{2, 3})
		if !strings.Contains(out, "Fix the hair color.") {
			t.Error("対象ページの指示が欠落しています")
		}
		if strings.Contains(out, "Add the shoulder bag.") {
			t.Error("対象外ページの指示が混入しています")
		}
	})

	t.Run("対象ページ未指定の問題は常に含まれること", func(t *testing.T) {
		global := []domain.Issue{{Severity: "major", FixInstruction: "Unify the art style."}}
		out := FormatFixInstructions(global, []int{7})
		if !strings.Contains(out, "Unify the art style.") {
			t.Error("ページ指定なしの指示が欠落しています")
		}
	})

	t.Run("指示が1つも残らなければ既定の指示になること", func(t *testing.T) {
		out := FormatFixInstructions(issues, []int{9})
		if !strings.Contains(out, "Make every cell match the reference appearance exactly.") {
			t.Errorf("既定の指示が返るべきところ %q が返りました", out)
		}
	})
}
