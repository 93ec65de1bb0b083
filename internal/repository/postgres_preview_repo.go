package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/timelinealchemy/publisher/internal/model"
)

// PostgresPreviewRepo はPostgreSQLを使用したプレビューリポジトリ。
type PostgresPreviewRepo struct {
	db *sql.DB
}

// NewPostgresPreviewRepo はPostgresPreviewRepoを生成する。
func NewPostgresPreviewRepo(db *sql.DB) *PostgresPreviewRepo {
	return &PostgresPreviewRepo{db: db}
}

const previewColumns = `id, idea_id, client_id, channels, template_id, draft_content,
	        scheduled_at, status, metadata, created_by, created_at, updated_at`

// scanPreview は1行分のプレビューを読み取る。
func scanPreview(scan func(dest ...interface{}) error) (*model.Preview, error) {
	preview := &model.Preview{}
	var templateID sql.NullString
	var scheduledAt sql.NullTime
	var draftContent, metadata []byte

	if err := scan(
		&preview.ID, &preview.IdeaID, &preview.ClientID,
		pq.Array(&preview.Channels), &templateID, &draftContent,
		&scheduledAt, &preview.Status, &metadata,
		&preview.CreatedBy, &preview.CreatedAt, &preview.UpdatedAt,
	); err != nil {
		return nil, err
	}

	preview.TemplateID = nullStringValue(templateID)
	if scheduledAt.Valid {
		t := scheduledAt.Time
		preview.ScheduledAt = &t
	}
	if err := unmarshalJSON(draftContent, &preview.DraftContent); err != nil {
		return nil, fmt.Errorf("下書き本文のパースに失敗しました: %w", err)
	}
	if err := unmarshalJSON(metadata, &preview.Metadata); err != nil {
		return nil, fmt.Errorf("プレビューメタデータのパースに失敗しました: %w", err)
	}

	return preview, nil
}

// FindByID は指定IDのプレビューを取得する。見つからない場合はnilを返す。
func (r *PostgresPreviewRepo) FindByID(ctx context.Context, id string) (*model.Preview, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+previewColumns+` FROM previews WHERE id = $1`,
		id,
	)

	preview, err := scanPreview(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プレビューの取得に失敗しました: %w", err)
	}

	return preview, nil
}

// Create はプレビューを作成する。
func (r *PostgresPreviewRepo) Create(ctx context.Context, preview *model.Preview) error {
	draftContent, err := json.Marshal(preview.DraftContent)
	if err != nil {
		return fmt.Errorf("下書き本文のシリアライズに失敗しました: %w", err)
	}
	metadata, err := json.Marshal(preview.Metadata)
	if err != nil {
		return fmt.Errorf("プレビューメタデータのシリアライズに失敗しました: %w", err)
	}

	var scheduledAt interface{}
	if preview.ScheduledAt != nil {
		scheduledAt = *preview.ScheduledAt
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO previews (id, idea_id, client_id, channels, template_id, draft_content,
		                       scheduled_at, status, metadata, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		preview.ID, preview.IdeaID, preview.ClientID,
		pq.Array(preview.Channels), nullString(preview.TemplateID), draftContent,
		scheduledAt, preview.Status, metadata,
		preview.CreatedBy, preview.CreatedAt, preview.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("プレビューの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateReview はクライアントレビューの結果を更新する。
func (r *PostgresPreviewRepo) UpdateReview(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("プレビューメタデータのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE previews SET status = $2, metadata = $3, updated_at = now() WHERE id = $1`,
		id, status, data,
	)
	if err != nil {
		return fmt.Errorf("レビュー結果の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateSchedule はプレビューの公開予定日時を更新する。
func (r *PostgresPreviewRepo) UpdateSchedule(ctx context.Context, id string, scheduledAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE previews SET scheduled_at = $2, updated_at = now() WHERE id = $1`,
		id, scheduledAt,
	)
	if err != nil {
		return fmt.Errorf("公開予定日時の更新に失敗しました: %w", err)
	}
	return nil
}

// claimDueForPublishSQL は対象行の選択とpublish_claimed_atの打刻を
// 単一のUPDATE文で行う。自動コミットでも確保は原子的に完了し、
// 並行する実行が同じ行を取得することはない（選択サブクエリの
// FOR UPDATE SKIP LOCKEDは文の実行中の取り合いを防ぐ）。
const claimDueForPublishSQL = `WITH claimed AS (
    UPDATE previews
    SET publish_claimed_at = now(), updated_at = now()
    WHERE id IN (
        SELECT id
        FROM previews
        WHERE status = 'approved'
          AND scheduled_at IS NOT NULL
          AND scheduled_at <= now()
          AND publish_claimed_at IS NULL
        ORDER BY scheduled_at ASC
        LIMIT $1
        FOR UPDATE SKIP LOCKED
    )
    RETURNING ` + previewColumns + `
)
SELECT ` + previewColumns + ` FROM claimed ORDER BY scheduled_at ASC`

// ClaimDueForPublish は公開対象のプレビューを確保して返す。
func (r *PostgresPreviewRepo) ClaimDueForPublish(ctx context.Context, limit int) ([]*model.Preview, error) {
	rows, err := r.db.QueryContext(ctx, claimDueForPublishSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("公開対象プレビューの確保に失敗しました: %w", err)
	}
	defer rows.Close()

	var previews []*model.Preview
	for rows.Next() {
		preview, err := scanPreview(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("公開対象プレビューの読み取りに失敗しました: %w", err)
		}
		previews = append(previews, preview)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開対象プレビューの走査に失敗しました: %w", err)
	}

	return previews, nil
}

// UpdatePublishOutcome は公開実行の結果を条件付きで書き込む。
// status = 'approved' の行のみ更新し、更新が行われたかを返す。
func (r *PostgresPreviewRepo) UpdatePublishOutcome(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
	data, err := json.Marshal(metadata)
	if err != nil {
		return false, fmt.Errorf("プレビューメタデータのシリアライズに失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE previews SET status = $2, metadata = $3, updated_at = now()
		 WHERE id = $1 AND status = 'approved'`,
		id, status, data,
	)
	if err != nil {
		return false, fmt.Errorf("公開結果の更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("公開結果の更新件数の取得に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// compile-time interface check
var _ PreviewRepository = (*PostgresPreviewRepo)(nil)
