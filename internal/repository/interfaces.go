// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/timelinealchemy/publisher/internal/model"
)

// IdeaRepository はアイデアデータの永続化インターフェース。
type IdeaRepository interface {
	// FindByID は指定IDのアイデアを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Idea, error)

	// Create はアイデアを作成する。
	Create(ctx context.Context, idea *model.Idea) error

	// UpdateStatus はアイデアの状態を更新する。
	UpdateStatus(ctx context.Context, id string, status model.IdeaStatus) error

	// ExistsBySourceURL はメタデータの出典URLが一致するアイデアの有無を返す。
	// フィードインポートの重複取り込み防止に使用する。
	ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error)

	// ListByStatus は指定状態のアイデア一覧を作成日時降順で返す。
	ListByStatus(ctx context.Context, status model.IdeaStatus, limit int) ([]*model.Idea, error)
}

// PreviewRepository はプレビューデータの永続化インターフェース。
type PreviewRepository interface {
	// FindByID は指定IDのプレビューを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Preview, error)

	// Create はプレビューを作成する。
	Create(ctx context.Context, preview *model.Preview) error

	// UpdateReview はクライアントレビューの結果（状態とメタデータ）を更新する。
	UpdateReview(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error

	// UpdateSchedule はプレビューの公開予定日時を更新する。
	UpdateSchedule(ctx context.Context, id string, scheduledAt time.Time) error

	// ClaimDueForPublish は公開対象のプレビューを確保して返す。
	// status = 'approved' かつ scheduled_at IS NOT NULL かつ scheduled_at <= now() かつ
	// 未確保の行にpublish_claimed_atを単一文で打刻し、scheduled_at昇順で最大limit件返す。
	// 確保は原子的で、同じプレビューは並行する実行のうち1つにのみ返される。
	// scheduled_atがNULLの承認済みプレビューは自動公開の対象外。
	// 確保後に結果を書き込めないままプロセスが落ちた行は自動では再確保されない
	// （手動リコンシリエーションの対象）。
	ClaimDueForPublish(ctx context.Context, limit int) ([]*model.Preview, error)

	// UpdatePublishOutcome は公開実行の結果を条件付きで書き込む。
	// status = 'approved' の行のみ更新し、更新が行われたかを返す。
	// 並行実行や再実行で既にpublished/failedへ遷移済みの場合はfalseを返す。
	UpdatePublishOutcome(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error)
}

// PublishRepository は公開試行レコードの永続化インターフェース。
// レコードは追記専用で、更新・削除操作は提供しない。
type PublishRepository interface {
	// Create は公開試行レコードを作成する。
	Create(ctx context.Context, publish *model.Publish) error

	// ListByPreview は指定プレビューの公開試行レコードを作成日時昇順で返す。
	ListByPreview(ctx context.Context, previewID string) ([]*model.Publish, error)

	// ListRecentlyPosted はsince以降に成功した公開レコードを最大limit件返す。
	// エンゲージメント統計のバッチ取得対象の抽出に使用する。
	ListRecentlyPosted(ctx context.Context, since time.Time, limit int) ([]*model.Publish, error)
}

// ConnectionRepository はソーシャル接続（OAuth認証情報）の永続化インターフェース。
type ConnectionRepository interface {
	// FindActive は指定ユーザー・プラットフォームのアクティブな接続を取得する。
	// 見つからない場合はnilを返す。
	FindActive(ctx context.Context, userID, platform string) (*model.SocialConnection, error)

	// ListByUser はユーザーの接続一覧を返す（非アクティブ含む）。
	ListByUser(ctx context.Context, userID string) ([]*model.SocialConnection, error)

	// Upsert は接続を(user_id, platform)キーでUPSERTする。
	// 再接続時は既存行を上書きし、is_activeをtrueに戻す。
	Upsert(ctx context.Context, conn *model.SocialConnection) error

	// UpdateTokens はトークンのローテーションを楽観的条件付きで永続化する。
	// 保存済みのtoken_expires_atがprevExpiresAtと一致する場合のみ更新し、
	// 更新が行われたかを返す。並行リフレッシュで他方の新しいトークンを
	// 上書きしないための比較交換。
	UpdateTokens(ctx context.Context, id string, prevExpiresAt *time.Time, accessToken, refreshToken string, expiresAt *time.Time) (bool, error)

	// TouchLastUsed は接続のlast_used_atを現在時刻に更新する。
	TouchLastUsed(ctx context.Context, id string) error

	// Deactivate は接続を非アクティブ化する（切断操作）。物理削除はしない。
	Deactivate(ctx context.Context, userID, platform string) error

	// DeactivateExpiredBefore はトークン有効期限がcutoffより古いアクティブな接続を
	// 一括で非アクティブ化し、対象件数を返す。メンテナンスジョブから使用する。
	DeactivateExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// EngagementRepository は公開済み投稿のエンゲージメント統計の永続化インターフェース。
type EngagementRepository interface {
	// Upsert はpublish_idをキーに統計を冪等にUPSERTする。
	Upsert(ctx context.Context, engagement *model.Engagement) error

	// FindByPublish は指定公開レコードの統計を取得する。見つからない場合はnilを返す。
	FindByPublish(ctx context.Context, publishID string) (*model.Engagement, error)
}
