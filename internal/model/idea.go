// Package model はドメインモデルを定義する。
package model

import "time"

// Idea は管理者が作成するコンテンツの原案を表す。
// Previewの作成元となり、公開パイプライン自体はIdeaを変更しない。
type Idea struct {
	ID          string
	Title       string
	Description string
	Status      IdeaStatus
	CreatedBy   string
	Metadata    IdeaMetadata
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IdeaStatus はアイデアの状態を表す。
type IdeaStatus string

const (
	// IdeaStatusDraft は下書き状態。
	IdeaStatusDraft IdeaStatus = "draft"
	// IdeaStatusApproved は承認済み状態。Previewの作成が可能になる。
	IdeaStatusApproved IdeaStatus = "approved"
	// IdeaStatusRejected は却下された状態。
	IdeaStatusRejected IdeaStatus = "rejected"
)

// IdeaMetadata はアイデアに付随する構造化メタデータ。
// JSONBカラムにマーシャルして保存する。
type IdeaMetadata struct {
	Source *SourceMetadata `json:"source,omitempty"`
}

// SourceMetadata はフィードインポート由来のアイデアの出典情報。
type SourceMetadata struct {
	SourceURL   string `json:"source_url"`
	SourceTitle string `json:"source_title,omitempty"`
	ImportedAt  string `json:"imported_at,omitempty"`
}
