package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/timelinealchemy/publisher/internal/model"
)

// PostgresEngagementRepo はPostgreSQLを使用したエンゲージメント統計リポジトリ。
type PostgresEngagementRepo struct {
	db *sql.DB
}

// NewPostgresEngagementRepo はPostgresEngagementRepoを生成する。
func NewPostgresEngagementRepo(db *sql.DB) *PostgresEngagementRepo {
	return &PostgresEngagementRepo{db: db}
}

// Upsert はpublish_idをキーに統計を冪等にUPSERTする。
func (r *PostgresEngagementRepo) Upsert(ctx context.Context, engagement *model.Engagement) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO engagements (publish_id, likes, comments, shares, fetched_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (publish_id) DO UPDATE SET
		    likes = EXCLUDED.likes,
		    comments = EXCLUDED.comments,
		    shares = EXCLUDED.shares,
		    fetched_at = EXCLUDED.fetched_at`,
		engagement.PublishID, engagement.Likes, engagement.Comments,
		engagement.Shares, engagement.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("エンゲージメント統計のUPSERTに失敗しました: %w", err)
	}
	return nil
}

// FindByPublish は指定公開レコードの統計を取得する。見つからない場合はnilを返す。
func (r *PostgresEngagementRepo) FindByPublish(ctx context.Context, publishID string) (*model.Engagement, error) {
	engagement := &model.Engagement{}

	err := r.db.QueryRowContext(ctx,
		`SELECT publish_id, likes, comments, shares, fetched_at
		 FROM engagements WHERE publish_id = $1`,
		publishID,
	).Scan(
		&engagement.PublishID, &engagement.Likes, &engagement.Comments,
		&engagement.Shares, &engagement.FetchedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("エンゲージメント統計の取得に失敗しました: %w", err)
	}

	return engagement, nil
}

// compile-time interface check
var _ EngagementRepository = (*PostgresEngagementRepo)(nil)
