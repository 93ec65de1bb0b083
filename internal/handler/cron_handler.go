package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/timelinealchemy/publisher/internal/worker/publishrun"
)

// PublishRunnerInterface は公開サイクルの実行インターフェース。
// publishrun.Runnerを抽象化する。
type PublishRunnerInterface interface {
	// RunOnce は公開対象プレビューを1回取得して公開する。
	RunOnce(ctx context.Context) (*publishrun.RunSummary, error)
}

// CronHandler はスケジューラからの公開トリガーを処理するHTTPハンドラー。
// ワーカーモードのティッカーと同じRunOnceを外部cronから起動できるようにする。
type CronHandler struct {
	runner     PublishRunnerInterface
	cronSecret string
	logger     *slog.Logger
}

// NewCronHandler はCronHandlerを生成する。
func NewCronHandler(runner PublishRunnerInterface, cronSecret string, logger *slog.Logger) *CronHandler {
	return &CronHandler{
		runner:     runner,
		cronSecret: cronSecret,
		logger:     logger,
	}
}

// cronResultItem は公開トリガーレスポンスの1プレビュー分の結果。
type cronResultItem struct {
	PreviewID string `json:"previewId"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TriggerPublish は公開サイクルを1回実行する。
// GET /internal/cron/publish
func (h *CronHandler) TriggerPublish(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	summary, err := h.runner.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("公開トリガーの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	if summary.Total == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "No previews due for publishing",
			"count":   0,
		})
		return
	}

	results := make([]cronResultItem, 0, len(summary.Results))
	for _, result := range summary.Results {
		item := cronResultItem{
			PreviewID: result.PreviewID,
			Success:   result.Success,
		}
		if result.Success {
			item.Result = result.Results
		} else {
			item.Error = firstPlatformError(result)
		}
		results = append(results, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Publishing job completed",
		"total":      summary.Total,
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"results":    results,
	})
}

// authorized はBearerトークンがcronシークレットと一致するかを検証する。
func (h *CronHandler) authorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}

	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

// firstPlatformError は失敗したプレビュー結果から先頭のエラーメッセージを取り出す。
func firstPlatformError(result publishrun.PreviewResult) string {
	for _, platformResult := range result.Results {
		if !platformResult.Success && platformResult.Error != "" {
			return platformResult.Error
		}
	}
	return "publish failed"
}
