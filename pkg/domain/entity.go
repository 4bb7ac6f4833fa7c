package domain

import (
	"fmt"
	"strings"
)

// EntityKind は追跡対象の種別です。
type EntityKind string

const (
	// KindCharacter は人物・ペットなどの登場キャラクターです。
	KindCharacter EntityKind = "character"
	// KindObject は小道具・持ち物などのオブジェクトです。
	KindObject EntityKind = "object"
)

const (
	// ClothingStandard は服装カテゴリのデフォルト値です。
	ClothingStandard = "standard"
	// ClothingCostumePrefix はコスチューム系カテゴリの接頭辞なのだ（例: "costumed:pirate"）。
	ClothingCostumePrefix = "costumed:"
)

// IsCostume は服装カテゴリがコスチューム系かどうかを判定します。
func IsCostume(clothing string) bool {
	return strings.HasPrefix(clothing, ClothingCostumePrefix)
}

// NormalizeClothing は空の服装カテゴリをデフォルトに正規化するのだ。
func NormalizeClothing(clothing string) string {
	if strings.TrimSpace(clothing) == "" {
		return ClothingStandard
	}
	return clothing
}

// Avatar は (画風, 服装カテゴリ) ごとのスタイル済み参照画像です。
type Avatar struct {
	ArtStyle string `json:"art_style"`
	Clothing string `json:"clothing"`
	URL      string `json:"url"`
}

// Entity は絵本全編を通して見た目の一貫性を保つべき追跡対象です。
// Name は物語内で一意。ReferenceURL は素の正準参照画像（写真など）で、
// キャラクターは服装別のスタイル済みアバターを追加で持てます。
type Entity struct {
	Name         string     `json:"name"`
	Kind         EntityKind `json:"kind"`
	ReferenceURL string     `json:"reference_url,omitempty"`
	Avatars      []Avatar   `json:"avatars,omitempty"`
}

// String はエンティティの情報を文字列で返すのだ。
func (e Entity) String() string {
	return fmt.Sprintf("%s (%s)", e.Name, e.Kind)
}

// FindAvatar は (画風, 服装) に完全一致するアバターURLを返します。
// フォールバック順序の解決は pkg/avatar の責務であり、ここでは完全一致のみを扱います。
func (e Entity) FindAvatar(artStyle, clothing string) (string, bool) {
	for _, a := range e.Avatars {
		if strings.EqualFold(a.ArtStyle, artStyle) && strings.EqualFold(a.Clothing, clothing) {
			return a.URL, true
		}
	}
	return "", false
}

// EntitiesMap は小文字化した名前をキーとしたエンティティの検索用マップなのだ。
type EntitiesMap map[string]Entity

// BuildEntitiesMap はスライス形式のデータを検索効率の良いマップ形式に変換するのだ。
func BuildEntitiesMap(entities []Entity) EntitiesMap {
	m := make(EntitiesMap, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		m[strings.ToLower(e.Name)] = e
	}
	return m
}

// FindEntity は名前からエンティティを特定します。大文字小文字は区別しません。
func (m EntitiesMap) FindEntity(name string) *Entity {
	if m == nil {
		return nil
	}
	if e, ok := m[strings.ToLower(name)]; ok {
		res := e
		return &res
	}
	return nil
}
