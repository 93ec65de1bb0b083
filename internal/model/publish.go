package model

import "time"

// Publish は1つのPreviewに対する1プラットフォームへの公開試行の監査レコード。
// オーケストレーターが試行ごとに1件作成し、以後変更・削除されない（追記専用台帳）。
type Publish struct {
	ID          string
	PreviewID   string
	Platform    string
	PublishedAt time.Time
	Status      PublishStatus
	Result      PublishResult
	CreatedAt   time.Time
}

// PublishStatus は公開試行の結果状態を表す。
type PublishStatus string

const (
	// PublishStatusPosted はプラットフォームへの投稿が成功した状態。
	PublishStatusPosted PublishStatus = "posted"
	// PublishStatusFailed は投稿が失敗した状態。
	PublishStatusFailed PublishStatus = "failed"
)

// PublishResult は公開試行の生の結果ペイロード。JSONBカラムに保存する。
type PublishResult struct {
	PostID    string    `json:"post_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Engagement は公開済み投稿のエンゲージメント統計。
// Publishレコードは不変のため、統計は別テーブルにUPSERTする。
type Engagement struct {
	PublishID string
	Likes     int
	Comments  int
	Shares    int
	FetchedAt time.Time
}
