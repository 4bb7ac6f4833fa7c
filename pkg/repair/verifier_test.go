package repair

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"testing"

	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/judge"
)

// fakeVerificationJudge は外部判定を固定の評定で差し替えるテスト用実装です。
type fakeVerificationJudge struct {
	verdict judge.VerificationVerdict
	err     error
	called  bool
}

func (f *fakeVerificationJudge) VerifyRepair(_ context.Context, _ VerificationRequest) (judge.VerificationVerdict, error) {
	f.called = true
	return f.verdict, f.err
}

func testCrop(t *testing.T, c color.Color) *imaging.Crop {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	data, err := imaging.EncodePNG(img)
	if err != nil {
		t.Fatalf("エンコードに失敗しました: %v", err)
	}
	return &imaging.Crop{
		Image:          img,
		Data:           data,
		MimeType:       imaging.MimePNG,
		OriginalWidth:  64,
		OriginalHeight: 64,
	}
}

func acceptingVerdict() judge.VerificationVerdict {
	return judge.VerificationVerdict{
		Changed:           true,
		Fixed:             true,
		PositionPreserved: true,
		StylePreserved:    true,
		Confidence:        0.9,
	}
}

func TestVerifier_Verify(t *testing.T) {
	ctx := context.Background()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	blue := color.RGBA{B: 200, A: 255}
	issue := domain.Issue{Severity: "major", Description: "hair color drift"}

	t.Run("全検証項目を満たす修復が採用されること", func(t *testing.T) {
		fake := &fakeVerificationJudge{verdict: acceptingVerdict()}
		v := NewVerifier(fake, VerifierConfig{})

		result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue)
		if !result.Accepted {
			t.Fatalf("採用されるべき修復が棄却されました: %s", result.Reason)
		}
		if result.Confidence != 0.9 {
			t.Errorf("期待値 0.9, 実際の値 %f", result.Confidence)
		}
	})

	t.Run("実質無変更の再生成は外部判定なしで棄却されること", func(t *testing.T) {
		fake := &fakeVerificationJudge{verdict: acceptingVerdict()}
		v := NewVerifier(fake, VerifierConfig{})

		crop := testCrop(t, white)
		result := v.Verify(ctx, crop, crop.Image, issue)
		if result.Accepted {
			t.Fatal("無変更の修復は棄却されるべきです")
		}
		if fake.called {
			t.Error("ローカル差分で弾いた場合に外部判定を呼ぶべきではありません")
		}
	})

	t.Run("changed=false は確信度が高くても棄却されること", func(t *testing.T) {
		verdict := acceptingVerdict()
		verdict.Changed = false
		verdict.Confidence = 1.0
		v := NewVerifier(&fakeVerificationJudge{verdict: verdict}, VerifierConfig{})

		result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue)
		if result.Accepted {
			t.Error("変更なしの評定で採用されてはいけません")
		}
	})

	t.Run("fixed=false が棄却されること", func(t *testing.T) {
		verdict := acceptingVerdict()
		verdict.Fixed = false
		verdict.Notes = "still inconsistent"
		v := NewVerifier(&fakeVerificationJudge{verdict: verdict}, VerifierConfig{})

		result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue)
		if result.Accepted {
			t.Error("未解消の評定で採用されてはいけません")
		}
		if !strings.Contains(result.Reason, "still inconsistent") {
			t.Errorf("判定ノートが理由に含まれていません: %q", result.Reason)
		}
	})

	t.Run("新規アーティファクトの検出で棄却されること", func(t *testing.T) {
		verdict := acceptingVerdict()
		verdict.NewArtifacts = []string{"extra hand"}
		v := NewVerifier(&fakeVerificationJudge{verdict: verdict}, VerifierConfig{})

		if result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue); result.Accepted {
			t.Error("アーティファクト付きの修復が採用されてはいけません")
		}
	})

	t.Run("位置・画風の非保持が棄却されること", func(t *testing.T) {
		for name, mutate := range map[string]func(*judge.VerificationVerdict){
			"位置": func(v *judge.VerificationVerdict) { v.PositionPreserved = false },
			"画風": func(v *judge.VerificationVerdict) { v.StylePreserved = false },
		} {
			verdict := acceptingVerdict()
			mutate(&verdict)
			v := NewVerifier(&fakeVerificationJudge{verdict: verdict}, VerifierConfig{})
			if result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue); result.Accepted {
				t.Errorf("%s の非保持で採用されてはいけません", name)
			}
		}
	})

	t.Run("確信度が閾値未満なら棄却されること", func(t *testing.T) {
		verdict := acceptingVerdict()
		verdict.Confidence = 0.5
		v := NewVerifier(&fakeVerificationJudge{verdict: verdict}, VerifierConfig{MinConfidence: 0.7})

		result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue)
		if result.Accepted {
			t.Error("閾値未満の確信度で採用されてはいけません")
		}
		if result.Confidence != 0.5 {
			t.Errorf("期待値 0.5, 実際の値 %f", result.Confidence)
		}
	})

	t.Run("外部判定の失敗は安全側の棄却になること", func(t *testing.T) {
		fake := &fakeVerificationJudge{err: errors.New("rpc unavailable")}
		v := NewVerifier(fake, VerifierConfig{})

		if result := v.Verify(ctx, testCrop(t, white), testCrop(t, blue).Image, issue); result.Accepted {
			t.Error("判定不能な修復が採用されてはいけません")
		}
	})
}
