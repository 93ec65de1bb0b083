package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/timelinealchemy/publisher/internal/lifecycle"
	"github.com/timelinealchemy/publisher/internal/middleware"
	"github.com/timelinealchemy/publisher/internal/model"
)

// PreviewServiceInterface はプレビューハンドラーが必要とするサービスインターフェース。
type PreviewServiceInterface interface {
	// CreatePreview は承認済みアイデアからプレビューを作成する。
	CreatePreview(ctx context.Context, input lifecycle.CreatePreviewInput) (*model.Preview, error)
	// GetPreview は指定IDのプレビューを取得する。
	GetPreview(ctx context.Context, id string) (*model.Preview, error)
	// Review はクライアントのレビュー判定を記録する。
	Review(ctx context.Context, previewID, decision, feedback string) (*model.Preview, error)
	// Schedule は承認済みプレビューの公開予定日時を設定する。
	Schedule(ctx context.Context, previewID string, scheduledAt time.Time) (*model.Preview, error)
}

// PublishHistoryLister は公開試行レコードの照会インターフェース。
// 台帳は追記専用のため読み取りのみを公開する。
type PublishHistoryLister interface {
	// ListByPreview は指定プレビューの公開試行レコードを作成日時昇順で返す。
	ListByPreview(ctx context.Context, previewID string) ([]*model.Publish, error)
}

// PreviewHandler はプレビュー管理のHTTPハンドラー。
type PreviewHandler struct {
	service   PreviewServiceInterface
	publishes PublishHistoryLister
}

// NewPreviewHandler はPreviewHandlerを生成する。
func NewPreviewHandler(service PreviewServiceInterface, publishes PublishHistoryLister) *PreviewHandler {
	return &PreviewHandler{
		service:   service,
		publishes: publishes,
	}
}

// createPreviewRequest はプレビュー作成リクエストのボディ。
type createPreviewRequest struct {
	IdeaID       string             `json:"idea_id"`
	ClientID     string             `json:"client_id"`
	Channels     []string           `json:"channels"`
	TemplateID   string             `json:"template_id,omitempty"`
	DraftContent model.DraftContent `json:"draft_content"`
	ScheduledAt  *time.Time         `json:"scheduled_at,omitempty"`
}

// reviewPreviewRequest はプレビューレビューリクエストのボディ。
type reviewPreviewRequest struct {
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
}

// schedulePreviewRequest はスケジュール設定リクエストのボディ。
type schedulePreviewRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// previewResponse はプレビュー情報のAPIレスポンス。
type previewResponse struct {
	ID           string                 `json:"id"`
	IdeaID       string                 `json:"idea_id"`
	ClientID     string                 `json:"client_id"`
	Channels     []string               `json:"channels"`
	TemplateID   string                 `json:"template_id,omitempty"`
	DraftContent model.DraftContent     `json:"draft_content"`
	ScheduledAt  *time.Time             `json:"scheduled_at,omitempty"`
	Status       string                 `json:"status"`
	Metadata     model.PreviewMetadata  `json:"metadata"`
	CreatedBy    string                 `json:"created_by"`
	CreatedAt    string                 `json:"created_at"`
	UpdatedAt    string                 `json:"updated_at"`
}

// publishRecordResponse は公開試行レコードのAPIレスポンス。
type publishRecordResponse struct {
	ID          string              `json:"id"`
	PreviewID   string              `json:"preview_id"`
	Platform    string              `json:"platform"`
	Status      string              `json:"status"`
	Result      model.PublishResult `json:"result"`
	PublishedAt string              `json:"published_at"`
}

// CreatePreview はプレビュー作成を処理する。
// POST /api/previews
func (h *PreviewHandler) CreatePreview(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	preview, err := h.service.CreatePreview(r.Context(), lifecycle.CreatePreviewInput{
		IdeaID:       req.IdeaID,
		ClientID:     req.ClientID,
		Channels:     req.Channels,
		TemplateID:   req.TemplateID,
		DraftContent: req.DraftContent,
		ScheduledAt:  req.ScheduledAt,
		CreatedBy:    userID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toPreviewResponse(preview))
}

// GetPreview はプレビュー詳細を取得する。
// GET /api/previews/{id}
func (h *PreviewHandler) GetPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.service.GetPreview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreviewResponse(preview))
}

// ReviewPreview はクライアントのレビュー判定を処理する。
// POST /api/previews/{id}/review
func (h *PreviewHandler) ReviewPreview(w http.ResponseWriter, r *http.Request) {
	var req reviewPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	preview, err := h.service.Review(r.Context(), chi.URLParam(r, "id"), req.Decision, req.Feedback)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreviewResponse(preview))
}

// SchedulePreview は公開予定日時の設定を処理する。
// POST /api/previews/{id}/schedule
func (h *PreviewHandler) SchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.ScheduledAt.IsZero() {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidScheduleError("scheduled_at is required"))
		return
	}

	preview, err := h.service.Schedule(r.Context(), chi.URLParam(r, "id"), req.ScheduledAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPreviewResponse(preview))
}

// ListPublishes はプレビューの公開試行履歴を取得する。
// GET /api/previews/{id}/publishes
func (h *PreviewHandler) ListPublishes(w http.ResponseWriter, r *http.Request) {
	previewID := chi.URLParam(r, "id")

	// 存在しないプレビューは404を返す
	if _, err := h.service.GetPreview(r.Context(), previewID); err != nil {
		handleServiceError(w, err)
		return
	}

	publishes, err := h.publishes.ListByPreview(r.Context(), previewID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	records := make([]publishRecordResponse, 0, len(publishes))
	for _, p := range publishes {
		records = append(records, publishRecordResponse{
			ID:          p.ID,
			PreviewID:   p.PreviewID,
			Platform:    p.Platform,
			Status:      string(p.Status),
			Result:      p.Result,
			PublishedAt: p.PublishedAt.UTC().Format(timeFormat),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"preview_id": previewID,
		"publishes":  records,
	})
}

// toPreviewResponse はmodel.PreviewからAPIレスポンスに変換する。
func toPreviewResponse(preview *model.Preview) previewResponse {
	return previewResponse{
		ID:           preview.ID,
		IdeaID:       preview.IdeaID,
		ClientID:     preview.ClientID,
		Channels:     preview.Channels,
		TemplateID:   preview.TemplateID,
		DraftContent: preview.DraftContent,
		ScheduledAt:  preview.ScheduledAt,
		Status:       string(preview.Status),
		Metadata:     preview.Metadata,
		CreatedBy:    preview.CreatedBy,
		CreatedAt:    preview.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:    preview.UpdatedAt.UTC().Format(timeFormat),
	}
}
