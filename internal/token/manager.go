// Package token はソーシャル接続のアクセストークン鮮度管理を提供する。
package token

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/platform"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// RefreshError はトークンローテーションの失敗を表す。
// 失敗時は保存済みの認証情報を変更しない。
type RefreshError struct {
	Platform string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed for %s: %v", e.Platform, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Manager は投稿直前のトークン鮮度確認とローテーションを行う。
type Manager struct {
	connections repository.ConnectionRepository
	registry    *platform.Registry
	window      time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager はManagerを生成する。
// windowは有効期限の何分前からローテーションを開始するかを指定する。
func NewManager(connections repository.ConnectionRepository, registry *platform.Registry, window time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		connections: connections,
		registry:    registry,
		window:      window,
		logger:      logger,
		now:         time.Now,
	}
}

// EnsureFresh は接続のトークンが投稿に使える状態であることを保証する。
// 有効期限がnilのトークンは無期限として扱い、そのまま返す。
// 期限まで猶予がある場合もそのまま返す。
// 期限切れ間近の場合はローテーションし、更新後の接続を返す。
// 並行するローテーションに競り負けた場合は保存済みの最新の接続を読み直して返す。
func (m *Manager) EnsureFresh(ctx context.Context, conn *model.SocialConnection) (*model.SocialConnection, error) {
	if conn.TokenExpiresAt == nil {
		return conn, nil
	}
	if m.now().Before(conn.TokenExpiresAt.Add(-m.window)) {
		return conn, nil
	}

	adapter, ok := m.registry.Get(conn.Platform)
	if !ok {
		return nil, &RefreshError{Platform: conn.Platform, Err: fmt.Errorf("no adapter registered")}
	}

	newTokens, err := adapter.Refresh(ctx, &platform.TokenSet{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		ExpiresAt:    conn.TokenExpiresAt,
	})
	if err != nil {
		return nil, &RefreshError{Platform: conn.Platform, Err: err}
	}

	// プラットフォームが新しいリフレッシュトークンを返さない場合は既存を維持する
	refreshToken := newTokens.RefreshToken
	if refreshToken == "" {
		refreshToken = conn.RefreshToken
	}

	updated, err := m.connections.UpdateTokens(ctx, conn.ID, conn.TokenExpiresAt, newTokens.AccessToken, refreshToken, newTokens.ExpiresAt)
	if err != nil {
		return nil, &RefreshError{Platform: conn.Platform, Err: err}
	}

	if !updated {
		// 別のワーカーが先にローテーションを完了している。保存済みの最新を使う。
		m.logger.Info("トークンローテーションの競合を検出、保存済みトークンを再読込",
			slog.String("connection_id", conn.ID),
			slog.String("platform", conn.Platform),
		)
		current, err := m.connections.FindActive(ctx, conn.UserID, conn.Platform)
		if err != nil {
			return nil, &RefreshError{Platform: conn.Platform, Err: err}
		}
		if current == nil {
			return nil, &RefreshError{Platform: conn.Platform, Err: fmt.Errorf("connection deactivated during refresh")}
		}
		return current, nil
	}

	m.logger.Info("トークンをローテーションしました",
		slog.String("connection_id", conn.ID),
		slog.String("platform", conn.Platform),
	)

	fresh := *conn
	fresh.AccessToken = newTokens.AccessToken
	fresh.RefreshToken = refreshToken
	fresh.TokenExpiresAt = newTokens.ExpiresAt
	return &fresh, nil
}
