package repair

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"
	"testing"

	"github.com/shouni/go-storybook-kit/pkg/avatar"
	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/prompts"
)

// fakeRegenerator は再生成を単色グリッドで差し替え、受け取った要求を記録します。
type fakeRegenerator struct {
	mu       sync.Mutex
	requests []RegenerationRequest
	failFor  string // この服装グループの再生成だけを失敗させる
}

func (f *fakeRegenerator) RegenerateGrid(_ context.Context, req RegenerationRequest) (*RegenerationResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.failFor != "" && req.Clothing == f.failFor {
		return nil, errors.New("status 503: image service unavailable")
	}

	img := image.NewRGBA(image.Rect(0, 0, 512, 512))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{B: 200, A: 255}), image.Point{}, draw.Src)
	return &RegenerationResult{Image: img, Data: []byte{1}, MimeType: imaging.MimePNG}, nil
}

// nopLoader は参照画像の読み込みを常に失敗させ、参照なしの経路を固定します。
type nopLoader struct{}

func (nopLoader) Load(context.Context, string) (image.Image, error) {
	return nil, errors.New("no reference available")
}

func whiteCrop(t *testing.T, page int, clothing string) *imaging.Crop {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("エンコードに失敗しました: %v", err)
	}
	box := domain.Box{YMin: 0.2, XMin: 0.2, YMax: 0.8, XMax: 0.8}
	app, err := domain.NewAppearance(page, "page.png", box, clothing, 0.9, false)
	if err != nil {
		t.Fatalf("出現の生成に失敗しました: %v", err)
	}
	return &imaging.Crop{
		Image:          img,
		Data:           data,
		MimeType:       imaging.MimePNG,
		PaddedBox:      box,
		OriginalWidth:  100,
		OriginalHeight: 100,
		Appearance:     app,
	}
}

func newTestOrchestrator(t *testing.T, regen Regenerator) *Orchestrator {
	t.Helper()
	pb, err := prompts.NewBuilder()
	if err != nil {
		t.Fatalf("プロンプトビルダの初期化に失敗しました: %v", err)
	}
	verifier := NewVerifier(&fakeVerificationJudge{verdict: acceptingVerdict()}, VerifierConfig{})
	return NewOrchestrator(regen, verifier, avatar.NewResolver("watercolor", nil), pb, Config{})
}

func driftVerdict() domain.ConsistencyVerdict {
	return domain.ConsistencyVerdict{
		Consistent: false,
		Score:      3,
		Issues: []domain.Issue{
			{Severity: "major", Description: "hair color drift", FixInstruction: "Match the hair color.", AffectedPages: []int{1, 2}},
		},
	}
}

func TestOrchestrator_RepairEntity(t *testing.T) {
	ctx := context.Background()
	entity := domain.Entity{Name: "Mila", Kind: domain.KindCharacter}

	t.Run("全出現がページ昇順で修復されること", func(t *testing.T) {
		regen := &fakeRegenerator{}
		o := newTestOrchestrator(t, regen)
		crops := []*imaging.Crop{whiteCrop(t, 2, "standard"), whiteCrop(t, 1, "standard")}

		results, err := o.RepairEntity(ctx, entity, nopLoader{}, crops, driftVerdict())
		if err != nil {
			t.Fatalf("修復に失敗しました: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("期待値 2, 実際の値 %d", len(results))
		}
		if results[0].PageNumber != 1 || results[1].PageNumber != 2 {
			t.Errorf("ページ昇順になっていません: %d, %d", results[0].PageNumber, results[1].PageNumber)
		}
		for _, r := range results {
			if !r.Verification.Accepted {
				t.Errorf("ページ %d の修復が棄却されました: %s", r.PageNumber, r.Verification.Reason)
			}
			if r.Repair.Image == nil {
				t.Errorf("ページ %d の修復画像がありません", r.PageNumber)
			}
		}
	})

	t.Run("服装グループごとに再生成が分かれること", func(t *testing.T) {
		regen := &fakeRegenerator{}
		o := newTestOrchestrator(t, regen)
		crops := []*imaging.Crop{
			whiteCrop(t, 1, "standard"),
			whiteCrop(t, 2, "costumed:raincoat"),
			whiteCrop(t, 3, "standard"),
		}

		if _, err := o.RepairEntity(ctx, entity, nopLoader{}, crops, driftVerdict()); err != nil {
			t.Fatalf("修復に失敗しました: %v", err)
		}
		if len(regen.requests) != 2 {
			t.Fatalf("期待値 2, 実際の値 %d", len(regen.requests))
		}
		clothings := map[string]bool{}
		for _, req := range regen.requests {
			clothings[req.Clothing] = true
			if req.Clothing == "costumed:raincoat" && !strings.Contains(req.Prompt, `"raincoat" costume`) {
				t.Error("コスチューム維持の指示がプロンプトに含まれていません")
			}
		}
		if !clothings["standard"] || !clothings["costumed:raincoat"] {
			t.Errorf("服装グループの分割が想定と異なります: %v", clothings)
		}
	})

	t.Run("1グループの再生成失敗が他グループを巻き込まないこと", func(t *testing.T) {
		regen := &fakeRegenerator{failFor: "costumed:raincoat"}
		o := newTestOrchestrator(t, regen)
		crops := []*imaging.Crop{
			whiteCrop(t, 1, "standard"),
			whiteCrop(t, 2, "costumed:raincoat"),
		}

		results, err := o.RepairEntity(ctx, entity, nopLoader{}, crops, driftVerdict())
		if err != nil {
			t.Fatalf("グループ局所の失敗が伝播しました: %v", err)
		}
		if len(results) != 1 || results[0].PageNumber != 1 {
			t.Errorf("standard グループだけが修復されるべきです: %+v", results)
		}
	})

	t.Run("クロップが空ならエラーになること", func(t *testing.T) {
		o := newTestOrchestrator(t, &fakeRegenerator{})
		if _, err := o.RepairEntity(ctx, entity, nopLoader{}, nil, driftVerdict()); err == nil {
			t.Error("空のクロップでエラーが返りませんでした")
		}
	})
}

func TestOrchestrator_RepairPage(t *testing.T) {
	ctx := context.Background()
	entity := domain.Entity{Name: "Mila", Kind: domain.KindCharacter}

	t.Run("対象ページのセルだけが修復されること", func(t *testing.T) {
		regen := &fakeRegenerator{}
		o := newTestOrchestrator(t, regen)
		crops := []*imaging.Crop{
			whiteCrop(t, 1, "standard"),
			whiteCrop(t, 2, "standard"),
			whiteCrop(t, 3, "costumed:raincoat"),
		}

		result, err := o.RepairPage(ctx, entity, nopLoader{}, crops, 2, driftVerdict())
		if err != nil {
			t.Fatalf("単一ページ修復に失敗しました: %v", err)
		}
		if result.PageNumber != 2 {
			t.Errorf("期待値 2, 実際の値 %d", result.PageNumber)
		}
		// セル文字はページ昇順のまま振られ、対象はプロンプトの固定指示で指される
		if result.Letter != "B" {
			t.Errorf("ページ2のセルは B であるべきです: %q", result.Letter)
		}
		if len(regen.requests) != 1 || !strings.Contains(regen.requests[0].Prompt, "Modify ONLY cell B") {
			t.Error("対象セル固定の指示がプロンプトに含まれていません")
		}
	})

	t.Run("対象を先に渡してもセル文字がページ昇順で振られること", func(t *testing.T) {
		regen := &fakeRegenerator{}
		o := newTestOrchestrator(t, regen)
		crops := []*imaging.Crop{
			whiteCrop(t, 3, "standard"),
			whiteCrop(t, 1, "standard"),
		}

		result, err := o.RepairPage(ctx, entity, nopLoader{}, crops, 3, driftVerdict())
		if err != nil {
			t.Fatalf("単一ページ修復に失敗しました: %v", err)
		}
		if result.Letter != "B" {
			t.Errorf("ページ3は昇順で2番目のセル B であるべきです: %q", result.Letter)
		}
	})

	t.Run("出現のないページはエラーになること", func(t *testing.T) {
		o := newTestOrchestrator(t, &fakeRegenerator{})
		crops := []*imaging.Crop{whiteCrop(t, 1, "standard")}
		if _, err := o.RepairPage(ctx, entity, nopLoader{}, crops, 9, driftVerdict()); err == nil {
			t.Error("出現のないページでエラーが返りませんでした")
		}
	})
}
