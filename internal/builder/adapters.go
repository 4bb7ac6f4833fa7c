package builder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shouni/go-storybook-kit/pkg/asset"
	"github.com/shouni/go-storybook-kit/pkg/avatar"
	"github.com/shouni/go-storybook-kit/pkg/domain"
	"github.com/shouni/go-storybook-kit/pkg/imaging"
	"github.com/shouni/go-storybook-kit/pkg/judge"
	"github.com/shouni/go-storybook-kit/pkg/prompts"
	"github.com/shouni/go-storybook-kit/pkg/repair"
	"github.com/shouni/go-storybook-kit/pkg/retry"

	imagedom "github.com/shouni/gemini-image-kit/ports"
	imagekit "github.com/shouni/gemini-image-kit/generator"
	"github.com/shouni/go-gemini-client/gemini"
	"github.com/shouni/go-remote-io/remoteio"
)

// gridAspectRatio は 4×3 セル構成の比較グリッドのアスペクト比です。
const gridAspectRatio = "4:3"

// gridEvaluator は比較グリッドの一貫性評定を Gemini に委ねる judge.Evaluator 実装です。
type gridEvaluator struct {
	aiClient gemini.GenerativeModel
	model    string
	prompts  *prompts.Builder
	retryCfg retry.Config
}

func (e *gridEvaluator) Evaluate(ctx context.Context, req judge.EvaluationRequest) (domain.ConsistencyVerdict, error) {
	prompt, err := e.prompts.BuildJudgePrompt(prompts.JudgeData{
		EntityName:  req.EntityName,
		EntityKind:  string(req.EntityKind),
		CellSummary: req.CellSummary,
		GridURI:     req.GridURI,
	})
	if err != nil {
		return domain.ConsistencyVerdict{}, err
	}

	text, err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) (string, error) {
		resp, err := e.aiClient.GenerateContent(ctx, prompt, e.model)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
	if err != nil {
		return domain.ConsistencyVerdict{}, fmt.Errorf("一貫性評定の取得に失敗しました: %w", err)
	}

	return judge.ParseVerdict(text)
}

// gridRegenerator は修復グリッドの再生成を画像生成サービスに委ねる
// repair.Regenerator 実装です。グリッドは出力ディレクトリに永続化した上で
// File API 経由で編集元としてモデルに渡します。
type gridRegenerator struct {
	imgGen    imagekit.ImageGenerator
	writer    remoteio.OutputWriter
	resolver  *avatar.Resolver
	outputDir string
	retryCfg  retry.Config
}

func (g *gridRegenerator) RegenerateGrid(ctx context.Context, req repair.RegenerationRequest) (*repair.RegenerationResult, error) {
	gridDir, err := asset.ResolveOutputPath(g.outputDir, asset.DefaultGridDir)
	if err != nil {
		return nil, err
	}
	gridPath, err := asset.ResolveOutputPath(gridDir, asset.GridFileName(req.EntityName, req.Clothing))
	if err != nil {
		return nil, err
	}
	if err := g.writer.Write(ctx, gridPath, bytes.NewReader(req.Grid), req.GridMime); err != nil {
		return nil, fmt.Errorf("修復グリッドの書き込みに失敗しました: %w", err)
	}

	gridURI, err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) (string, error) {
		return g.resolver.UploadAsset(ctx, gridPath)
	})
	if err != nil {
		return nil, fmt.Errorf("修復グリッドのアップロードに失敗しました: %w", err)
	}

	resp, err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) (*imagedom.ImageResponse, error) {
		return g.imgGen.GenerateMangaPanel(ctx, imagedom.ImageGenerationRequest{
			Prompt:       req.Prompt,
			FileAPIURI:   gridURI,
			ReferenceURL: req.ReferenceURL,
			AspectRatio:  gridAspectRatio,
		})
	})
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Data) == 0 {
		return nil, repair.ErrNoImageProduced
	}

	img, _, err := imaging.DecodeBytes(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("再生成グリッドのデコードに失敗しました: %w", err)
	}
	return &repair.RegenerationResult{
		Image:    img,
		Data:     resp.Data,
		MimeType: resp.MimeType,
	}, nil
}

// repairJudge は修復前後のクロップ対を比較検証する repair.VerificationJudge 実装です。
// 比較対象の画像もレポートから参照できるよう出力ディレクトリ配下に残します。
type repairJudge struct {
	aiClient  gemini.GenerativeModel
	model     string
	prompts   *prompts.Builder
	writer    remoteio.OutputWriter
	resolver  *avatar.Resolver
	outputDir string
	retryCfg  retry.Config
}

func (j *repairJudge) VerifyRepair(ctx context.Context, req repair.VerificationRequest) (judge.VerificationVerdict, error) {
	verifyDir, err := asset.ResolveOutputPath(j.outputDir, "verify")
	if err != nil {
		return judge.VerificationVerdict{}, err
	}

	digest := pairDigest(req.Original, req.Repaired)
	originalURI, err := j.persistAndUpload(ctx, verifyDir,
		fmt.Sprintf("%s_before.png", digest), req.Original, req.OriginalMime)
	if err != nil {
		return judge.VerificationVerdict{}, err
	}
	repairedURI, err := j.persistAndUpload(ctx, verifyDir,
		fmt.Sprintf("%s_after.png", digest), req.Repaired, req.RepairedMime)
	if err != nil {
		return judge.VerificationVerdict{}, err
	}

	prompt, err := j.prompts.BuildVerifyPrompt(prompts.VerifyData{
		OriginalURI:      originalURI,
		RepairedURI:      repairedURI,
		IssueDescription: req.Issue.Description,
		FixInstruction:   req.Issue.FixInstruction,
	})
	if err != nil {
		return judge.VerificationVerdict{}, err
	}

	text, err := retry.Do(ctx, j.retryCfg, func(ctx context.Context) (string, error) {
		resp, err := j.aiClient.GenerateContent(ctx, prompt, j.model)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
	if err != nil {
		return judge.VerificationVerdict{}, fmt.Errorf("修復検証の取得に失敗しました: %w", err)
	}

	return judge.ParseVerification(text)
}

func (j *repairJudge) persistAndUpload(ctx context.Context, dir, name string, data []byte, mimeType string) (string, error) {
	fullPath, err := asset.ResolveOutputPath(dir, name)
	if err != nil {
		return "", err
	}
	if err := j.writer.Write(ctx, fullPath, bytes.NewReader(data), mimeType); err != nil {
		return "", fmt.Errorf("検証用画像の書き込みに失敗しました (%s): %w", fullPath, err)
	}
	return retry.Do(ctx, j.retryCfg, func(ctx context.Context) (string, error) {
		return j.resolver.UploadAsset(ctx, fullPath)
	})
}

// pairDigest は画像対の内容から短い識別子を作ります。
func pairDigest(a, b []byte) string {
	h := sha256.New()
	h.Write(a)
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))[:10]
}
