package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/timelinealchemy/publisher/internal/middleware"
	"github.com/timelinealchemy/publisher/internal/model"
)

// ConnectServiceInterface はソーシャル接続ハンドラーが必要とするサービスインターフェース。
type ConnectServiceInterface interface {
	// AuthURL は接続開始用のOAuth認可URLを生成する。
	AuthURL(userID, platform string) (string, error)
	// HandleCallback はOAuthコールバックを処理し接続を保存する。
	HandleCallback(ctx context.Context, state, code string) (*model.SocialConnection, error)
	// Disconnect は接続を非アクティブ化する。
	Disconnect(ctx context.Context, userID, platform string) error
	// List はユーザーの接続一覧を返す。
	List(ctx context.Context, userID string) ([]*model.SocialConnection, error)
}

// ConnectHandler はソーシャル接続管理のHTTPハンドラー。
type ConnectHandler struct {
	service ConnectServiceInterface
}

// NewConnectHandler はConnectHandlerを生成する。
func NewConnectHandler(service ConnectServiceInterface) *ConnectHandler {
	return &ConnectHandler{service: service}
}

// connectRequest は接続開始リクエストのボディ。
type connectRequest struct {
	Platform string `json:"platform"`
}

// callbackRequest はOAuthコールバックリクエストのボディ。
type callbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

// connectionResponse は接続情報のAPIレスポンス。
// トークン類は含めない。
type connectionResponse struct {
	Platform         string `json:"platform"`
	PlatformUsername string `json:"platform_username"`
	IsActive         bool   `json:"is_active"`
	ConnectedAt      string `json:"connected_at"`
	LastUsedAt       string `json:"last_used_at"`
}

// Connect はOAuth接続フローの開始を処理する。
// POST /api/social/connect
func (h *ConnectHandler) Connect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestBody(w)
		return
	}

	authURL, err := h.service.AuthURL(userID, req.Platform)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateはauthUrlのクエリにも含まれるが、UIの照合用に個別にも返す
	writeJSON(w, http.StatusOK, map[string]string{
		"authUrl": authURL,
		"state":   extractState(authURL),
	})
}

// extractState は認可URLのクエリからstateパラメータを取り出す。
func extractState(authURL string) string {
	parsed, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("state")
}

// Callback はOAuthコールバックを処理する。
// POST /api/social/callback（JSONボディ）および GET /api/social/callback（クエリパラメータ）
func (h *ConnectHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var code, state string

	if r.Method == http.MethodPost {
		var req callbackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeInvalidRequestBody(w)
			return
		}
		code, state = req.Code, req.State
	} else {
		code = r.URL.Query().Get("code")
		state = r.URL.Query().Get("state")
	}

	conn, err := h.service.HandleCallback(r.Context(), state, code)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"platform": conn.Platform,
		"username": conn.PlatformUsername,
	})
}

// Disconnect はソーシャル接続の切断を処理する。
// DELETE /api/social/{platform}
func (h *ConnectHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	if err := h.service.Disconnect(r.Context(), userID, chi.URLParam(r, "platform")); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListConnections はユーザーの接続一覧を取得する。
// GET /api/social/connections
func (h *ConnectHandler) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	conns, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		responses = append(responses, connectionResponse{
			Platform:         conn.Platform,
			PlatformUsername: conn.PlatformUsername,
			IsActive:         conn.IsActive,
			ConnectedAt:      conn.ConnectedAt.UTC().Format(timeFormat),
			LastUsedAt:       conn.LastUsedAt.UTC().Format(timeFormat),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": responses,
	})
}
