package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/timelinealchemy/publisher/internal/model"
)

// PostgresConnectionRepo はPostgreSQLを使用したソーシャル接続リポジトリ。
type PostgresConnectionRepo struct {
	db *sql.DB
}

// NewPostgresConnectionRepo はPostgresConnectionRepoを生成する。
func NewPostgresConnectionRepo(db *sql.DB) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db}
}

const connectionColumns = `id, user_id, platform, platform_user_id, platform_username,
	        access_token, refresh_token, token_expires_at, is_active, connected_at, last_used_at`

// scanConnection は1行分の接続を読み取る。
func scanConnection(scan func(dest ...interface{}) error) (*model.SocialConnection, error) {
	conn := &model.SocialConnection{}
	var refreshToken sql.NullString
	var tokenExpiresAt sql.NullTime

	if err := scan(
		&conn.ID, &conn.UserID, &conn.Platform,
		&conn.PlatformUserID, &conn.PlatformUsername,
		&conn.AccessToken, &refreshToken, &tokenExpiresAt,
		&conn.IsActive, &conn.ConnectedAt, &conn.LastUsedAt,
	); err != nil {
		return nil, err
	}

	conn.RefreshToken = nullStringValue(refreshToken)
	if tokenExpiresAt.Valid {
		t := tokenExpiresAt.Time
		conn.TokenExpiresAt = &t
	}

	return conn, nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// FindActive は指定ユーザー・プラットフォームのアクティブな接続を取得する。
// 見つからない場合はnilを返す。
func (r *PostgresConnectionRepo) FindActive(ctx context.Context, userID, platform string) (*model.SocialConnection, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM social_connections
		 WHERE user_id = $1 AND platform = $2 AND is_active = true`,
		userID, platform,
	)

	conn, err := scanConnection(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("アクティブな接続の取得に失敗しました: %w", err)
	}

	return conn, nil
}

// ListByUser はユーザーの接続一覧を返す（非アクティブ含む）。
func (r *PostgresConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*model.SocialConnection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+`
		 FROM social_connections
		 WHERE user_id = $1
		 ORDER BY platform ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("接続一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var conns []*model.SocialConnection
	for rows.Next() {
		conn, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("接続一覧の読み取りに失敗しました: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("接続一覧の走査に失敗しました: %w", err)
	}

	return conns, nil
}

// Upsert は接続を(user_id, platform)キーでUPSERTする。
// 再接続時は既存行の認証情報を上書きし、is_activeをtrueに戻す。
// 部分的な認証情報が残らないよう、全カラムを一括で書き換える。
func (r *PostgresConnectionRepo) Upsert(ctx context.Context, conn *model.SocialConnection) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO social_connections
		    (id, user_id, platform, platform_user_id, platform_username,
		     access_token, refresh_token, token_expires_at, is_active, connected_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (user_id, platform) DO UPDATE SET
		    platform_user_id = EXCLUDED.platform_user_id,
		    platform_username = EXCLUDED.platform_username,
		    access_token = EXCLUDED.access_token,
		    refresh_token = EXCLUDED.refresh_token,
		    token_expires_at = EXCLUDED.token_expires_at,
		    is_active = true,
		    connected_at = EXCLUDED.connected_at,
		    last_used_at = EXCLUDED.last_used_at`,
		conn.ID, conn.UserID, conn.Platform,
		conn.PlatformUserID, conn.PlatformUsername,
		conn.AccessToken, nullString(conn.RefreshToken), nullTime(conn.TokenExpiresAt),
		conn.IsActive, conn.ConnectedAt, conn.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("接続のUPSERTに失敗しました: %w", err)
	}
	return nil
}

// UpdateTokens はトークンのローテーションを楽観的条件付きで永続化する。
// 保存済みのtoken_expires_atがprevExpiresAtと一致する場合のみ更新する。
func (r *PostgresConnectionRepo) UpdateTokens(ctx context.Context, id string, prevExpiresAt *time.Time, accessToken, refreshToken string, expiresAt *time.Time) (bool, error) {
	var result sql.Result
	var err error

	if prevExpiresAt == nil {
		result, err = r.db.ExecContext(ctx,
			`UPDATE social_connections SET
			    access_token = $2, refresh_token = $3, token_expires_at = $4, last_used_at = now()
			 WHERE id = $1 AND token_expires_at IS NULL`,
			id, accessToken, nullString(refreshToken), nullTime(expiresAt),
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE social_connections SET
			    access_token = $2, refresh_token = $3, token_expires_at = $4, last_used_at = now()
			 WHERE id = $1 AND token_expires_at = $5`,
			id, accessToken, nullString(refreshToken), nullTime(expiresAt), *prevExpiresAt,
		)
	}
	if err != nil {
		return false, fmt.Errorf("トークンの更新に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("トークン更新件数の取得に失敗しました: %w", err)
	}

	return affected > 0, nil
}

// TouchLastUsed は接続のlast_used_atを現在時刻に更新する。
func (r *PostgresConnectionRepo) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE social_connections SET last_used_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("last_used_atの更新に失敗しました: %w", err)
	}
	return nil
}

// Deactivate は接続を非アクティブ化する（切断操作）。物理削除はしない。
func (r *PostgresConnectionRepo) Deactivate(ctx context.Context, userID, platform string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE social_connections SET is_active = false
		 WHERE user_id = $1 AND platform = $2`,
		userID, platform,
	)
	if err != nil {
		return fmt.Errorf("接続の非アクティブ化に失敗しました: %w", err)
	}
	return nil
}

// DeactivateExpiredBefore はトークン有効期限がcutoffより古いアクティブな接続を
// 一括で非アクティブ化し、対象件数を返す。
func (r *PostgresConnectionRepo) DeactivateExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE social_connections SET is_active = false
		 WHERE is_active = true
		   AND token_expires_at IS NOT NULL
		   AND token_expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ接続の非アクティブ化に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("非アクティブ化件数の取得に失敗しました: %w", err)
	}

	return affected, nil
}

// compile-time interface check
var _ ConnectionRepository = (*PostgresConnectionRepo)(nil)
