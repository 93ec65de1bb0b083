// Package connect はソーシャルアカウントのOAuth接続管理を提供する。
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/platform"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// Service はOAuth接続フローの開始・完了・切断を担う。
type Service struct {
	connections repository.ConnectionRepository
	registry    *platform.Registry
	siteURL     string
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(connections repository.ConnectionRepository, registry *platform.Registry, siteURL string, logger *slog.Logger) *Service {
	return &Service{
		connections: connections,
		registry:    registry,
		siteURL:     strings.TrimSuffix(siteURL, "/"),
		logger:      logger,
		now:         time.Now,
	}
}

// redirectURI はOAuthコールバックのURLを返す。
func (s *Service) redirectURI() string {
	return s.siteURL + "/api/social/callback"
}

// AuthURL は接続開始用のOAuth認可URLを生成する。
// stateには呼び出し元ユーザーとプラットフォームを埋め込み、
// コールバックでの照合に使用する。
func (s *Service) AuthURL(userID, platformName string) (string, error) {
	if !model.IsKnownPlatform(platformName) {
		return "", model.NewUnknownPlatformError(platformName)
	}

	adapter, ok := s.registry.Get(platformName)
	if !ok {
		return "", model.NewConnectFailedError(fmt.Sprintf("platform %s is not configured", platformName))
	}

	state := fmt.Sprintf("%s_%s_%d", userID, platformName, s.now().Unix())
	return adapter.AuthorizeURL(state, s.redirectURI()), nil
}

// parseState はstateからユーザーIDとプラットフォームを復元する。
// フォーマットは "<userID>_<platform>_<unix>"。ユーザーIDは
// アンダースコアを含み得るため末尾から分解する。
func parseState(state string) (userID, platformName string, err error) {
	parts := strings.Split(state, "_")
	if len(parts) < 3 {
		return "", "", fmt.Errorf("malformed state")
	}

	timestamp := parts[len(parts)-1]
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return "", "", fmt.Errorf("malformed state timestamp")
	}

	platformName = parts[len(parts)-2]
	if !model.IsKnownPlatform(platformName) {
		return "", "", fmt.Errorf("unknown platform in state")
	}

	userID = strings.Join(parts[:len(parts)-2], "_")
	if userID == "" {
		return "", "", fmt.Errorf("empty user id in state")
	}

	return userID, platformName, nil
}

// HandleCallback はOAuthコールバックを処理し、接続を保存する。
// トークン交換とプロフィール取得の両方が成功した場合のみ保存する。
// 途中で失敗した場合は何も書き込まない。
func (s *Service) HandleCallback(ctx context.Context, state, code string) (*model.SocialConnection, error) {
	if code == "" {
		return nil, model.NewMissingCodeError()
	}

	userID, platformName, err := parseState(state)
	if err != nil {
		return nil, model.NewInvalidStateError(err.Error())
	}

	adapter, ok := s.registry.Get(platformName)
	if !ok {
		return nil, model.NewConnectFailedError(fmt.Sprintf("platform %s is not configured", platformName))
	}

	tokens, err := adapter.ExchangeCode(ctx, code, s.redirectURI())
	if err != nil {
		s.logger.Error("認可コードの交換に失敗",
			slog.String("platform", platformName),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewConnectFailedError("token exchange failed")
	}

	profile, err := adapter.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		s.logger.Error("プロフィール取得に失敗",
			slog.String("platform", platformName),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewConnectFailedError("profile fetch failed")
	}

	now := s.now()
	conn := &model.SocialConnection{
		ID:               uuid.New().String(),
		UserID:           userID,
		Platform:         platformName,
		PlatformUserID:   profile.UserID,
		PlatformUsername: profile.Username,
		AccessToken:      tokens.AccessToken,
		RefreshToken:     tokens.RefreshToken,
		TokenExpiresAt:   tokens.ExpiresAt,
		IsActive:         true,
		ConnectedAt:      now,
		LastUsedAt:       now,
	}

	if err := s.connections.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to persist connection: %w", err)
	}

	s.logger.Info("ソーシャル接続を保存しました",
		slog.String("platform", platformName),
		slog.String("user_id", userID),
		slog.String("platform_username", profile.Username),
	)

	return conn, nil
}

// Disconnect は接続を非アクティブ化する。
// 保存済みの公開履歴は影響を受けない。
func (s *Service) Disconnect(ctx context.Context, userID, platformName string) error {
	if !model.IsKnownPlatform(platformName) {
		return model.NewUnknownPlatformError(platformName)
	}

	conn, err := s.connections.FindActive(ctx, userID, platformName)
	if err != nil {
		return fmt.Errorf("failed to look up connection: %w", err)
	}
	if conn == nil {
		return model.NewConnectionNotFoundError(platformName)
	}

	if err := s.connections.Deactivate(ctx, userID, platformName); err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}

	s.logger.Info("ソーシャル接続を切断しました",
		slog.String("platform", platformName),
		slog.String("user_id", userID),
	)

	return nil
}

// List はユーザーの接続一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.SocialConnection, error) {
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	return conns, nil
}
