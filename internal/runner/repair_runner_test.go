package runner

import (
	"context"
	"fmt"
	"image"
	"strings"
	"testing"

	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/parser"
	"github.com/shouni/go-storybook-kit/pkg/report"
)

// failingLoader は指定したパスの読み込みだけを失敗させます。
type failingLoader struct {
	failFor string
}

func (l failingLoader) Load(_ context.Context, path string) (image.Image, error) {
	if path == l.failFor {
		return nil, fmt.Errorf("画像の読み込みに失敗しました: %s", path)
	}
	return image.NewRGBA(image.Rect(0, 0, 100, 100)), nil
}

func repairTestResult() *CheckResult {
	return &CheckResult{
		Story: &parser.StoryInput{
			Title: "Mila and the Moon Fox",
			Pages: []domain.PageDetections{
				{Page: 1, Image: "pages/page_1.png"},
				{Page: 2, Image: "pages/page_2.png"},
			},
			Entities: []domain.Entity{
				{Name: "Mila", Kind: domain.KindCharacter, ReferenceURL: "gs://refs/mila.png"},
			},
		},
		Findings: map[string]EntityFinding{
			"Mila": {Entity: domain.Entity{Name: "Mila", Kind: domain.KindCharacter}},
		},
		Report: report.StoryReport{
			Title: "Mila and the Moon Fox",
			Entities: []report.EntityReport{
				{Name: "Mila", Kind: domain.KindCharacter, Status: report.StatusInconsistent},
			},
		},
	}
}

func testPageRepair() imaging.PageRepair {
	return imaging.PageRepair{
		PaddedBox: domain.Box{YMin: 0.1, XMin: 0.1, YMax: 0.6, XMax: 0.6},
		Image:     image.NewRGBA(image.Rect(0, 0, 50, 50)),
	}
}

func TestRepairRunner_CompositePages(t *testing.T) {
	ctx := context.Background()

	t.Run("1ページの合成失敗が他ページの合成を止めないこと", func(t *testing.T) {
		writer := &fakeWriter{}
		rr := NewRepairRunner(nil, failingLoader{failFor: "pages/page_1.png"}, writer, testCheckOptions())
		result := repairTestResult()

		repairsByPage := map[int][]imaging.PageRepair{
			1: {testPageRepair()},
			2: {testPageRepair()},
		}

		outputPaths, failures := rr.compositePages(ctx, result, repairsByPage)

		if _, ok := outputPaths[2]; !ok {
			t.Error("合成可能なページが保存されていません")
		}
		if _, ok := outputPaths[1]; ok {
			t.Error("読み込みに失敗したページが保存扱いになっています")
		}
		if reason, ok := failures[1]; !ok || reason == "" {
			t.Errorf("失敗ページの理由が記録されていません: %v", failures)
		}
		if len(writer.paths) != 1 || !strings.Contains(writer.paths[0], "repaired/page_2.png") {
			t.Errorf("期待値 repaired/page_2.png への1回の書き込み, 実際の値 %v", writer.paths)
		}
	})

	t.Run("合成に成功したページがあれば repaired へ昇格すること", func(t *testing.T) {
		writer := &fakeWriter{}
		rr := NewRepairRunner(nil, failingLoader{failFor: "pages/page_1.png"}, writer, testCheckOptions())
		result := repairTestResult()

		repairsByPage := map[int][]imaging.PageRepair{
			1: {testPageRepair()},
			2: {testPageRepair()},
		}
		outcomes := map[string][]report.PageOutcome{
			"Mila": {
				{PageNumber: 1, Accepted: true, Confidence: 0.9},
				{PageNumber: 2, Accepted: true, Confidence: 0.9},
			},
		}

		outputPaths, failures := rr.compositePages(ctx, result, repairsByPage)
		rr.updateReport(result, outcomes, outputPaths, failures)

		entry := result.Report.Entities[0]
		if entry.Status != report.StatusRepaired {
			t.Errorf("期待値 %q, 実際の値 %q", report.StatusRepaired, entry.Status)
		}
		for _, p := range entry.Pages {
			switch p.PageNumber {
			case 1:
				if !strings.Contains(p.Reason, "合成に失敗しました") {
					t.Errorf("失敗ページの理由が想定と異なります: %q", p.Reason)
				}
				if p.OutputPath != "" {
					t.Errorf("失敗ページに出力パスが設定されています: %q", p.OutputPath)
				}
			case 2:
				if !strings.Contains(p.OutputPath, "repaired/page_2.png") {
					t.Errorf("成功ページの出力パスが想定と異なります: %q", p.OutputPath)
				}
			}
		}
	})

	t.Run("全ページの合成に失敗したエンティティが昇格しないこと", func(t *testing.T) {
		writer := &fakeWriter{}
		rr := NewRepairRunner(nil, failingLoader{failFor: "pages/page_1.png"}, writer, testCheckOptions())
		result := repairTestResult()

		repairsByPage := map[int][]imaging.PageRepair{
			1: {testPageRepair()},
		}
		outcomes := map[string][]report.PageOutcome{
			"Mila": {{PageNumber: 1, Accepted: true, Confidence: 0.9}},
		}

		outputPaths, failures := rr.compositePages(ctx, result, repairsByPage)
		rr.updateReport(result, outcomes, outputPaths, failures)

		entry := result.Report.Entities[0]
		if entry.Status != report.StatusInconsistent {
			t.Errorf("期待値 %q, 実際の値 %q", report.StatusInconsistent, entry.Status)
		}
		if len(writer.paths) != 0 {
			t.Errorf("失敗ページが書き込まれています: %v", writer.paths)
		}
	})
}

func TestFindingFor(t *testing.T) {
	result := repairTestResult()

	t.Run("大文字小文字が違っても台帳経由で正準名に解決されること", func(t *testing.T) {
		finding, ok := findingFor(result, "mila")
		if !ok {
			t.Fatal("台帳に載っているエンティティが解決されていません")
		}
		if finding.Entity.Name != "Mila" {
			t.Errorf("期待値 %q, 実際の値 %q", "Mila", finding.Entity.Name)
		}
	})

	t.Run("台帳にない名前は解決されないこと", func(t *testing.T) {
		if _, ok := findingFor(result, "Moon Fox"); ok {
			t.Error("未登録のエンティティが解決されています")
		}
	})
}
