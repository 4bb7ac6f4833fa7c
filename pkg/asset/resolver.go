package asset

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shouni/go-utils/urlpath"
)

const (
	// DefaultGridDir は比較グリッド画像を格納するデフォルトのディレクトリ名です。
	DefaultGridDir = "grids"
	// DefaultRepairedDir は修復済みページ画像を格納するデフォルトのディレクトリ名です。
	DefaultRepairedDir = "repaired"
	// DefaultReportName は整合性レポートのデフォルト Markdown ファイル名です。
	DefaultReportName = "consistency_report.md"
	// DefaultGridFileName はグリッド画像の共通のベースファイル名です。
	DefaultGridFileName = "grid.png"
	// DefaultPageFileName は修復済みページ画像の共通のベースファイル名です。
	DefaultPageFileName = "page.png"
)

var unsafeNameRegex = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ResolveOutputPath は、ベースとなるディレクトリパスとファイル名から、
// GCS/ローカルを考慮した最終的な出力パスを生成します。
func ResolveOutputPath(baseDir, fileName string) (string, error) {
	return urlpath.ResolvePath(baseDir, fileName)
}

// ResolveBaseURL は、入力パス（URLまたはローカルパス）から
// 親ディレクトリのパスを解決し、末尾がセパレータで終わるように正規化します。
func ResolveBaseURL(rawPath string) string {
	return urlpath.ResolveBaseDir(rawPath)
}

// GridFileName はエンティティ名と服装からグリッド画像のファイル名を組み立てます。
// 名前に含まれるパス非安全文字はアンダースコアに置換します。
func GridFileName(entityName, clothing string) string {
	base := sanitizeName(entityName)
	if clothing != "" {
		base += "_" + sanitizeName(clothing)
	}
	return base + "_" + DefaultGridFileName
}

// RepairedPageName はページ番号から修復済みページ画像のファイル名を組み立てます。
func RepairedPageName(pageNumber int) string {
	ext := filepath.Ext(DefaultPageFileName)
	base := strings.TrimSuffix(DefaultPageFileName, ext)
	return fmt.Sprintf("%s_%d%s", base, pageNumber, ext)
}

func sanitizeName(name string) string {
	cleaned := unsafeNameRegex.ReplaceAllString(strings.TrimSpace(name), "_")
	return strings.Trim(cleaned, "_")
}
