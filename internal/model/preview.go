package model

import "time"

// Preview は1つのIdeaを1クライアント向けにチャネル別へ展開した下書きを表す。
// 必ず1つのIdeaと1つのClientを参照する。
type Preview struct {
	ID           string
	IdeaID       string
	ClientID     string
	Channels     []string // 公開対象プラットフォーム（宣言順が試行順になる）
	TemplateID   string
	DraftContent DraftContent
	ScheduledAt  *time.Time // nilは「スケジュール未設定」を意味し、自動公開の対象外
	Status       PreviewStatus
	Metadata     PreviewMetadata
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PreviewStatus はプレビューの状態を表す。
// pending → {approved | rejected} はクライアント操作、
// approved → {published | failed} はオーケストレーターのみが遷移させる。
type PreviewStatus string

const (
	// PreviewStatusPending はクライアントのレビュー待ち状態。
	PreviewStatusPending PreviewStatus = "pending"
	// PreviewStatusApproved はクライアントが承認した状態。
	PreviewStatusApproved PreviewStatus = "approved"
	// PreviewStatusRejected はクライアントが却下した状態。
	PreviewStatusRejected PreviewStatus = "rejected"
	// PreviewStatusPublished は全対象プラットフォームへの公開が成功した状態。
	PreviewStatusPublished PreviewStatus = "published"
	// PreviewStatusFailed はいずれかのプラットフォームへの公開が失敗した状態。
	PreviewStatusFailed PreviewStatus = "failed"
)

// DraftContent はチャネル名をキーとする下書き本文のマップ。
type DraftContent map[string]ChannelDraft

// ChannelDraft は1チャネル分の下書き本文。
type ChannelDraft struct {
	Body string `json:"body"`
	Link string `json:"link,omitempty"`
}

// PreviewMetadata はプレビューの状態遷移に伴う構造化メタデータ。
// 非型付きJSONの代わりに遷移ごとの型付きレコードを保持する。
type PreviewMetadata struct {
	Approval *ApprovalMetadata `json:"approval,omitempty"`
	Publish  *PublishMetadata  `json:"publish,omitempty"`
}

// ApprovalMetadata はクライアントのレビュー結果を記録する。
type ApprovalMetadata struct {
	Decision   string    `json:"decision"` // "approved" または "rejected"
	Feedback   string    `json:"feedback,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// PublishMetadata は直近の公開実行の集約結果を記録する。
type PublishMetadata struct {
	LastPublishedAt time.Time        `json:"last_published_at"`
	Results         []PlatformResult `json:"results"`
}

// PlatformResult は1プラットフォームへの公開試行の結果サマリ。
type PlatformResult struct {
	Platform string `json:"platform"`
	Success  bool   `json:"success"`
	PostID   string `json:"post_id,omitempty"`
	Error    string `json:"error,omitempty"`
}
