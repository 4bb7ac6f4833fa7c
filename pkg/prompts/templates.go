package prompts

import (
	_ "embed"
)

// 判定・修復・検証の各プロンプトは go:embed したテンプレートで管理するのだ。

//go:embed judge.md
var judgeTemplate string

//go:embed repair.md
var repairTemplate string

//go:embed verify.md
var verifyTemplate string

const (
	// ModeJudge は一貫性判定プロンプトのモード名です。
	ModeJudge = "judge"
	// ModeRepair はグリッド再生成プロンプトのモード名です。
	ModeRepair = "repair"
	// ModeVerify は修復検証プロンプトのモード名です。
	ModeVerify = "verify"
)

// allTemplates はモードとテンプレート文字列を紐づけるマップなのだ。
var allTemplates = map[string]string{
	ModeJudge:  judgeTemplate,
	ModeRepair: repairTemplate,
	ModeVerify: verifyTemplate,
}
