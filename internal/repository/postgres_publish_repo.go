package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/timelinealchemy/publisher/internal/model"
)

// PostgresPublishRepo はPostgreSQLを使用した公開試行レコードのリポジトリ。
// レコードは追記専用のためUPDATE/DELETEは実装しない。
type PostgresPublishRepo struct {
	db *sql.DB
}

// NewPostgresPublishRepo はPostgresPublishRepoを生成する。
func NewPostgresPublishRepo(db *sql.DB) *PostgresPublishRepo {
	return &PostgresPublishRepo{db: db}
}

// Create は公開試行レコードを作成する。
func (r *PostgresPublishRepo) Create(ctx context.Context, publish *model.Publish) error {
	result, err := json.Marshal(publish.Result)
	if err != nil {
		return fmt.Errorf("公開結果ペイロードのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO publishes (id, preview_id, platform, published_at, status, result, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		publish.ID, publish.PreviewID, publish.Platform,
		publish.PublishedAt, publish.Status, result, publish.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("公開試行レコードの作成に失敗しました: %w", err)
	}
	return nil
}

// ListByPreview は指定プレビューの公開試行レコードを作成日時昇順で返す。
func (r *PostgresPublishRepo) ListByPreview(ctx context.Context, previewID string) ([]*model.Publish, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, preview_id, platform, published_at, status, result, created_at
		 FROM publishes
		 WHERE preview_id = $1
		 ORDER BY created_at ASC`,
		previewID,
	)
	if err != nil {
		return nil, fmt.Errorf("公開試行レコードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanPublishes(rows)
}

// ListRecentlyPosted はsince以降に成功した公開レコードを最大limit件返す。
func (r *PostgresPublishRepo) ListRecentlyPosted(ctx context.Context, since time.Time, limit int) ([]*model.Publish, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, preview_id, platform, published_at, status, result, created_at
		 FROM publishes
		 WHERE status = 'posted' AND published_at >= $1
		 ORDER BY published_at DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("成功済み公開レコードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanPublishes(rows)
}

// scanPublishes は結果セット全体を読み取る。
func scanPublishes(rows *sql.Rows) ([]*model.Publish, error) {
	var publishes []*model.Publish
	for rows.Next() {
		publish := &model.Publish{}
		var result []byte

		if err := rows.Scan(
			&publish.ID, &publish.PreviewID, &publish.Platform,
			&publish.PublishedAt, &publish.Status, &result, &publish.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("公開試行レコードの読み取りに失敗しました: %w", err)
		}

		if err := unmarshalJSON(result, &publish.Result); err != nil {
			return nil, fmt.Errorf("公開結果ペイロードのパースに失敗しました: %w", err)
		}

		publishes = append(publishes, publish)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("公開試行レコードの走査に失敗しました: %w", err)
	}

	return publishes, nil
}

// compile-time interface check
var _ PublishRepository = (*PostgresPublishRepo)(nil)
