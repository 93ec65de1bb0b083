package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/timelinealchemy/publisher/internal/model"
)

// PostgresIdeaRepo はPostgreSQLを使用したアイデアリポジトリ。
type PostgresIdeaRepo struct {
	db *sql.DB
}

// NewPostgresIdeaRepo はPostgresIdeaRepoを生成する。
func NewPostgresIdeaRepo(db *sql.DB) *PostgresIdeaRepo {
	return &PostgresIdeaRepo{db: db}
}

// FindByID は指定IDのアイデアを取得する。見つからない場合はnilを返す。
func (r *PostgresIdeaRepo) FindByID(ctx context.Context, id string) (*model.Idea, error) {
	idea := &model.Idea{}
	var description sql.NullString
	var metadata []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, created_by, metadata, created_at, updated_at
		 FROM ideas WHERE id = $1`,
		id,
	).Scan(
		&idea.ID, &idea.Title, &description, &idea.Status,
		&idea.CreatedBy, &metadata, &idea.CreatedAt, &idea.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アイデアの取得に失敗しました: %w", err)
	}

	idea.Description = nullStringValue(description)
	if err := unmarshalJSON(metadata, &idea.Metadata); err != nil {
		return nil, fmt.Errorf("アイデアメタデータのパースに失敗しました: %w", err)
	}

	return idea, nil
}

// Create はアイデアを作成する。
func (r *PostgresIdeaRepo) Create(ctx context.Context, idea *model.Idea) error {
	metadata, err := json.Marshal(idea.Metadata)
	if err != nil {
		return fmt.Errorf("アイデアメタデータのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO ideas (id, title, description, status, created_by, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		idea.ID, idea.Title, nullString(idea.Description), idea.Status,
		idea.CreatedBy, metadata, idea.CreatedAt, idea.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("アイデアの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus はアイデアの状態を更新する。
func (r *PostgresIdeaRepo) UpdateStatus(ctx context.Context, id string, status model.IdeaStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE ideas SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("アイデア状態の更新に失敗しました: %w", err)
	}
	return nil
}

// ExistsBySourceURL はメタデータの出典URLが一致するアイデアの有無を返す。
func (r *PostgresIdeaRepo) ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM ideas WHERE metadata -> 'source' ->> 'source_url' = $1
		 )`,
		sourceURL,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("出典URLによるアイデアの検索に失敗しました: %w", err)
	}
	return exists, nil
}

// ListByStatus は指定状態のアイデア一覧を作成日時降順で返す。
func (r *PostgresIdeaRepo) ListByStatus(ctx context.Context, status model.IdeaStatus, limit int) ([]*model.Idea, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, status, created_by, metadata, created_at, updated_at
		 FROM ideas
		 WHERE status = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("アイデア一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var ideas []*model.Idea
	for rows.Next() {
		idea := &model.Idea{}
		var description sql.NullString
		var metadata []byte

		if err := rows.Scan(
			&idea.ID, &idea.Title, &description, &idea.Status,
			&idea.CreatedBy, &metadata, &idea.CreatedAt, &idea.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("アイデア一覧の読み取りに失敗しました: %w", err)
		}

		idea.Description = nullStringValue(description)
		if err := unmarshalJSON(metadata, &idea.Metadata); err != nil {
			return nil, fmt.Errorf("アイデアメタデータのパースに失敗しました: %w", err)
		}

		ideas = append(ideas, idea)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アイデア一覧の走査に失敗しました: %w", err)
	}

	return ideas, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// unmarshalJSON はJSONBカラムの値をデコードする。NULL/空は何もしない。
func unmarshalJSON(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// compile-time interface check
var _ IdeaRepository = (*PostgresIdeaRepo)(nil)
