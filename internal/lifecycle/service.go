// Package lifecycle はアイデアとプレビューのライフサイクル管理を提供する。
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/repository"
	"github.com/timelinealchemy/publisher/internal/security"
)

// Service はアイデア・プレビューの作成と状態遷移を担う。
// 承認済みプレビューのpublished/failedへの遷移は公開オーケストレーターの
// 責務であり、このサービスからは行わない。
type Service struct {
	ideas     repository.IdeaRepository
	previews  repository.PreviewRepository
	sanitizer security.ContentSanitizerService
	guard     security.SSRFGuardService
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(ideas repository.IdeaRepository, previews repository.PreviewRepository, sanitizer security.ContentSanitizerService, guard security.SSRFGuardService, logger *slog.Logger) *Service {
	return &Service{
		ideas:     ideas,
		previews:  previews,
		sanitizer: sanitizer,
		guard:     guard,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateIdeaInput はアイデア作成の入力。
type CreateIdeaInput struct {
	Title       string
	Description string
	CreatedBy   string
}

// CreateIdea はアイデアをdraft状態で作成する。
// タイトルはプレーンテキスト化、説明文はHTMLサニタイズして保存する。
func (s *Service) CreateIdea(ctx context.Context, input CreateIdeaInput) (*model.Idea, error) {
	title := s.sanitizer.SanitizeText(input.Title)
	if title == "" {
		return nil, model.NewInvalidDraftContentError("title is required")
	}

	now := s.now()
	idea := &model.Idea{
		ID:          uuid.New().String(),
		Title:       title,
		Description: s.sanitizer.Sanitize(input.Description),
		Status:      model.IdeaStatusDraft,
		CreatedBy:   input.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.ideas.Create(ctx, idea); err != nil {
		return nil, fmt.Errorf("failed to create idea: %w", err)
	}

	s.logger.Info("アイデアを作成しました",
		slog.String("idea_id", idea.ID),
		slog.String("created_by", input.CreatedBy),
	)

	return idea, nil
}

// GetIdea は指定IDのアイデアを取得する。
func (s *Service) GetIdea(ctx context.Context, id string) (*model.Idea, error) {
	idea, err := s.ideas.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find idea: %w", err)
	}
	if idea == nil {
		return nil, model.NewIdeaNotFoundError(id)
	}
	return idea, nil
}

// ReviewIdea はアイデアを承認または却下する。
// decisionは"approved"または"rejected"のみ受け付ける。
func (s *Service) ReviewIdea(ctx context.Context, id, decision string) (*model.Idea, error) {
	var status model.IdeaStatus
	switch decision {
	case "approved":
		status = model.IdeaStatusApproved
	case "rejected":
		status = model.IdeaStatusRejected
	default:
		return nil, model.NewInvalidDecisionError(decision)
	}

	idea, err := s.GetIdea(ctx, id)
	if err != nil {
		return nil, err
	}

	// 同一判定の再送は冪等に成功させる
	if idea.Status == status {
		return idea, nil
	}

	if err := s.ideas.UpdateStatus(ctx, id, status); err != nil {
		return nil, fmt.Errorf("failed to update idea status: %w", err)
	}

	idea.Status = status
	s.logger.Info("アイデアのレビューを記録しました",
		slog.String("idea_id", id),
		slog.String("decision", decision),
	)

	return idea, nil
}

// CreatePreviewInput はプレビュー作成の入力。
type CreatePreviewInput struct {
	IdeaID       string
	ClientID     string
	Channels     []string
	TemplateID   string
	DraftContent model.DraftContent
	ScheduledAt  *time.Time
	CreatedBy    string
}

// CreatePreview は承認済みアイデアからプレビューをpending状態で作成する。
// 各対象チャネルの下書き本文を検証・サニタイズし、リンクはSSRF観点で
// 事前検証する。scheduledAtを指定する場合は未来日時でなければならない。
func (s *Service) CreatePreview(ctx context.Context, input CreatePreviewInput) (*model.Preview, error) {
	idea, err := s.GetIdea(ctx, input.IdeaID)
	if err != nil {
		return nil, err
	}
	if idea.Status != model.IdeaStatusApproved {
		return nil, model.NewIdeaNotApprovedError(input.IdeaID)
	}

	if len(input.Channels) == 0 {
		return nil, model.NewInvalidDraftContentError("at least one channel is required")
	}
	seen := make(map[string]bool, len(input.Channels))
	for _, channel := range input.Channels {
		if !model.IsKnownPlatform(channel) {
			return nil, model.NewUnknownPlatformError(channel)
		}
		if seen[channel] {
			return nil, model.NewInvalidDraftContentError("duplicate channel: " + channel)
		}
		seen[channel] = true
	}

	draft := make(model.DraftContent, len(input.Channels))
	for _, channel := range input.Channels {
		channelDraft, ok := input.DraftContent[channel]
		if !ok {
			return nil, model.NewInvalidDraftContentError("missing draft content for channel: " + channel)
		}

		body := s.sanitizer.SanitizeText(channelDraft.Body)
		if body == "" {
			return nil, model.NewInvalidDraftContentError("empty body for channel: " + channel)
		}

		if channelDraft.Link != "" {
			if err := s.guard.ValidateURL(channelDraft.Link); err != nil {
				return nil, model.NewUnsafeLinkError(err.Error())
			}
		}

		draft[channel] = model.ChannelDraft{Body: body, Link: channelDraft.Link}
	}

	if input.ScheduledAt != nil && !input.ScheduledAt.After(s.now()) {
		return nil, model.NewInvalidScheduleError("scheduled_at must be in the future")
	}

	now := s.now()
	preview := &model.Preview{
		ID:           uuid.New().String(),
		IdeaID:       input.IdeaID,
		ClientID:     input.ClientID,
		Channels:     input.Channels,
		TemplateID:   input.TemplateID,
		DraftContent: draft,
		ScheduledAt:  input.ScheduledAt,
		Status:       model.PreviewStatusPending,
		CreatedBy:    input.CreatedBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.previews.Create(ctx, preview); err != nil {
		return nil, fmt.Errorf("failed to create preview: %w", err)
	}

	s.logger.Info("プレビューを作成しました",
		slog.String("preview_id", preview.ID),
		slog.String("idea_id", input.IdeaID),
		slog.String("client_id", input.ClientID),
		slog.Int("channels", len(input.Channels)),
	)

	return preview, nil
}

// GetPreview は指定IDのプレビューを取得する。
func (s *Service) GetPreview(ctx context.Context, id string) (*model.Preview, error) {
	preview, err := s.previews.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find preview: %w", err)
	}
	if preview == nil {
		return nil, model.NewPreviewNotFoundError(id)
	}
	return preview, nil
}

// Review はクライアントのレビュー判定を記録する。
// pending状態のプレビューのみ承認・却下でき、同一判定の再送は
// 冪等に成功させる。published/failedからの巻き戻しは許可しない。
func (s *Service) Review(ctx context.Context, previewID, decision, feedback string) (*model.Preview, error) {
	var status model.PreviewStatus
	switch decision {
	case "approved":
		status = model.PreviewStatusApproved
	case "rejected":
		status = model.PreviewStatusRejected
	default:
		return nil, model.NewInvalidDecisionError(decision)
	}

	preview, err := s.GetPreview(ctx, previewID)
	if err != nil {
		return nil, err
	}

	// 同一判定の再送
	if preview.Status == status {
		return preview, nil
	}

	if preview.Status != model.PreviewStatusPending {
		return nil, model.NewInvalidTransitionError(preview.Status, decision)
	}

	metadata := preview.Metadata
	metadata.Approval = &model.ApprovalMetadata{
		Decision:   decision,
		Feedback:   feedback,
		ReviewedAt: s.now(),
	}

	if err := s.previews.UpdateReview(ctx, previewID, status, metadata); err != nil {
		return nil, fmt.Errorf("failed to update review: %w", err)
	}

	preview.Status = status
	preview.Metadata = metadata
	s.logger.Info("プレビューのレビューを記録しました",
		slog.String("preview_id", previewID),
		slog.String("decision", decision),
	)

	return preview, nil
}

// Schedule は承認済みプレビューの公開予定日時を設定する。
// 未来日時のみ受け付ける。
func (s *Service) Schedule(ctx context.Context, previewID string, scheduledAt time.Time) (*model.Preview, error) {
	preview, err := s.GetPreview(ctx, previewID)
	if err != nil {
		return nil, err
	}

	if preview.Status != model.PreviewStatusApproved {
		return nil, model.NewInvalidTransitionError(preview.Status, "schedule")
	}
	if !scheduledAt.After(s.now()) {
		return nil, model.NewInvalidScheduleError("scheduled_at must be in the future")
	}

	if err := s.previews.UpdateSchedule(ctx, previewID, scheduledAt); err != nil {
		return nil, fmt.Errorf("failed to update schedule: %w", err)
	}

	preview.ScheduledAt = &scheduledAt
	s.logger.Info("公開予定を設定しました",
		slog.String("preview_id", previewID),
		slog.Time("scheduled_at", scheduledAt),
	)

	return preview, nil
}
