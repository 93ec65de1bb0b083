package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timelinealchemy/publisher/internal/ideafeed"
	"github.com/timelinealchemy/publisher/internal/lifecycle"
	"github.com/timelinealchemy/publisher/internal/middleware"
	"github.com/timelinealchemy/publisher/internal/model"
)

// IdeaServiceInterface はアイデアハンドラーが必要とするサービスインターフェース。
type IdeaServiceInterface interface {
	// CreateIdea はアイデアをdraft状態で作成する。
	CreateIdea(ctx context.Context, input lifecycle.CreateIdeaInput) (*model.Idea, error)
	// GetIdea は指定IDのアイデアを取得する。
	GetIdea(ctx context.Context, id string) (*model.Idea, error)
	// ReviewIdea はアイデアを承認または却下する。
	ReviewIdea(ctx context.Context, id, decision string) (*model.Idea, error)
}

// IdeaImportServiceInterface はフィードからのアイデア取込インターフェース。
type IdeaImportServiceInterface interface {
	// ImportFromFeed はフィードURLから記事を取り込みアイデアを作成する。
	ImportFromFeed(ctx context.Context, userID, feedURL string) (*ideafeed.ImportResult, error)
}

// IdeaHandler はアイデア管理のHTTPハンドラー。
type IdeaHandler struct {
	service  IdeaServiceInterface
	importer IdeaImportServiceInterface
}

// NewIdeaHandler はIdeaHandlerを生成する。
func NewIdeaHandler(service IdeaServiceInterface, importer IdeaImportServiceInterface) *IdeaHandler {
	return &IdeaHandler{
		service:  service,
		importer: importer,
	}
}

// createIdeaRequest はアイデア作成リクエストのボディ。
type createIdeaRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// reviewIdeaRequest はアイデアレビューリクエストのボディ。
type reviewIdeaRequest struct {
	Decision string `json:"decision"`
}

// importIdeasRequest はフィード取込リクエストのボディ。
type importIdeasRequest struct {
	FeedURL string `json:"feed_url"`
}

// ideaResponse はアイデア情報のAPIレスポンス。
type ideaResponse struct {
	ID          string                `json:"id"`
	Title       string                `json:"title"`
	Description string                `json:"description,omitempty"`
	Status      string                `json:"status"`
	CreatedBy   string                `json:"created_by"`
	Source      *model.SourceMetadata `json:"source,omitempty"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at"`
}

// CreateIdea はアイデア作成を処理する。
// POST /api/ideas
func (h *IdeaHandler) CreateIdea(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req createIdeaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	idea, err := h.service.CreateIdea(r.Context(), lifecycle.CreateIdeaInput{
		Title:       req.Title,
		Description: req.Description,
		CreatedBy:   userID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toIdeaResponse(idea))
}

// GetIdea はアイデア詳細を取得する。
// GET /api/ideas/{id}
func (h *IdeaHandler) GetIdea(w http.ResponseWriter, r *http.Request) {
	idea, err := h.service.GetIdea(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdeaResponse(idea))
}

// ReviewIdea はアイデアの承認・却下を処理する。
// POST /api/ideas/{id}/review
func (h *IdeaHandler) ReviewIdea(w http.ResponseWriter, r *http.Request) {
	var req reviewIdeaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	idea, err := h.service.ReviewIdea(r.Context(), chi.URLParam(r, "id"), req.Decision)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIdeaResponse(idea))
}

// ImportIdeas はフィードからのアイデア取込を処理する。
// POST /api/ideas/import
func (h *IdeaHandler) ImportIdeas(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req importIdeasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	if req.FeedURL == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "feed_url is required",
			Category: "validation",
			Action:   "Specify the feed URL to import from.",
		})
		return
	}

	result, err := h.importer.ImportFromFeed(r.Context(), userID, req.FeedURL)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"created": result.Created,
		"skipped": result.Skipped,
	})
}

// toIdeaResponse はmodel.IdeaからAPIレスポンスに変換する。
func toIdeaResponse(idea *model.Idea) ideaResponse {
	return ideaResponse{
		ID:          idea.ID,
		Title:       idea.Title,
		Description: idea.Description,
		Status:      string(idea.Status),
		CreatedBy:   idea.CreatedBy,
		Source:      idea.Metadata.Source,
		CreatedAt:   idea.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt:   idea.UpdatedAt.UTC().Format(timeFormat),
	}
}
