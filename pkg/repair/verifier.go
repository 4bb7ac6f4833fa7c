package repair

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/judge"
)

// DefaultVerifyConfidence は修復を採用する最低確信度です。
const DefaultVerifyConfidence = 0.7

// nearIdenticalThreshold は「実質無変更」と見なす平均画素差の上限です。
// JPEG 再圧縮程度の揺らぎはこの値を下回ります。
const nearIdenticalThreshold = 0.004

// VerificationRequest は修復前後のクロップ対を外部判定に渡すための入力です。
type VerificationRequest struct {
	Original     []byte
	OriginalMime string
	Repaired     []byte
	RepairedMime string
	Issue        domain.Issue
}

// VerificationJudge は修復前後の比較判定を外部 AI に委ねるインターフェースです。
type VerificationJudge interface {
	VerifyRepair(ctx context.Context, req VerificationRequest) (judge.VerificationVerdict, error)
}

// VerifierConfig は検証の閾値設定です。ゼロ値はデフォルトに補正されます。
type VerifierConfig struct {
	MinConfidence float64
}

// Verifier は再生成されたクロップを元クロップと突き合わせ、
// 採用可否を判定します。判定に失敗した修復は安全側（棄却）に倒します。
type Verifier struct {
	judge         VerificationJudge
	minConfidence float64
	logger        *slog.Logger
}

func NewVerifier(j VerificationJudge, cfg VerifierConfig) *Verifier {
	min := cfg.MinConfidence
	if min <= 0 {
		min = DefaultVerifyConfidence
	}
	return &Verifier{
		judge:         j,
		minConfidence: min,
		logger:        slog.Default().With("component", "repair_verifier"),
	}
}

// Verify は元クロップと修復クロップを比較し、採用可否を返します。
//
// まずローカルの画素差分で「無変更の再生成」を弾きます。外部判定が
// changed=false を返した場合も、確信度に関わらず棄却します（変わって
// いないものを合成する意味はないため）。
func (v *Verifier) Verify(ctx context.Context, original *imaging.Crop, repaired image.Image, issue domain.Issue) domain.VerificationResult {
	diff, err := imaging.MeanAbsDiff(original.Image, repaired)
	if err != nil {
		return reject(fmt.Sprintf("差分計算に失敗しました: %v", err), 0)
	}
	if diff < nearIdenticalThreshold {
		return reject(fmt.Sprintf("再生成結果が元画像とほぼ同一です (diff=%.5f)", diff), 0)
	}

	repairedData, err := imaging.EncodePNG(repaired)
	if err != nil {
		return reject(fmt.Sprintf("修復クロップのエンコードに失敗しました: %v", err), 0)
	}

	verdict, err := v.judge.VerifyRepair(ctx, VerificationRequest{
		Original:     original.Data,
		OriginalMime: original.MimeType,
		Repaired:     repairedData,
		RepairedMime: imaging.MimePNG,
		Issue:        issue,
	})
	if err != nil {
		// 判定不能な修復を合成するわけにはいかないので棄却します。
		v.logger.Warn("修復検証の外部判定に失敗しました", "error", err)
		return reject(fmt.Sprintf("検証判定を取得できませんでした: %v", err), 0)
	}

	switch {
	case !verdict.Changed:
		return reject("判定上も変更が認められませんでした", verdict.Confidence)
	case !verdict.Fixed:
		return reject(fmt.Sprintf("指摘された問題が解消されていません: %s", verdict.Notes), verdict.Confidence)
	case !verdict.PositionPreserved:
		return reject("被写体の位置・ポーズが保持されていません", verdict.Confidence)
	case !verdict.StylePreserved:
		return reject("画風が元ページと一致していません", verdict.Confidence)
	case len(verdict.NewArtifacts) > 0:
		return reject(fmt.Sprintf("新たなアーティファクトが検出されました: %v", verdict.NewArtifacts), verdict.Confidence)
	case verdict.Confidence < v.minConfidence:
		return reject(fmt.Sprintf("確信度 %.2f が閾値 %.2f を下回りました", verdict.Confidence, v.minConfidence), verdict.Confidence)
	}

	return domain.VerificationResult{
		Accepted:   true,
		Reason:     verdict.Notes,
		Confidence: verdict.Confidence,
	}
}

func reject(reason string, confidence float64) domain.VerificationResult {
	return domain.VerificationResult{Accepted: false, Reason: reason, Confidence: confidence}
}
