// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTP境界で返す原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, platform, system
	Action   string // 運用者・クライアント向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeUnknownPlatform     = "UNKNOWN_PLATFORM"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeMissingCode         = "MISSING_CODE"
	ErrCodeIdeaNotFound        = "IDEA_NOT_FOUND"
	ErrCodeIdeaNotApproved     = "IDEA_NOT_APPROVED"
	ErrCodePreviewNotFound     = "PREVIEW_NOT_FOUND"
	ErrCodeInvalidTransition   = "INVALID_TRANSITION"
	ErrCodeInvalidSchedule     = "INVALID_SCHEDULE"
	ErrCodeInvalidDecision     = "INVALID_DECISION"
	ErrCodeInvalidDraftContent = "INVALID_DRAFT_CONTENT"
	ErrCodeUnsafeLink          = "UNSAFE_LINK"
	ErrCodeFeedImportFailed    = "FEED_IMPORT_FAILED"
	ErrCodeConnectFailed       = "CONNECT_FAILED"
	ErrCodeConnectionNotFound  = "CONNECTION_NOT_FOUND"
)

// NewUnauthorizedError は認可エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Unauthorized",
		Category: "auth",
		Action:   "Provide a valid bearer token.",
	}
}

// NewUnknownPlatformError は未対応プラットフォーム指定エラーを生成する。
func NewUnknownPlatformError(platform string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownPlatform,
		Message:  fmt.Sprintf("unknown platform: %s", platform),
		Category: "validation",
		Action:   "Specify one of: facebook, twitter, linkedin, instagram.",
	}
}

// NewInvalidStateError はOAuth stateパラメータ不正エラーを生成する。
func NewInvalidStateError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidState,
		Message:  fmt.Sprintf("invalid state parameter: %s", reason),
		Category: "validation",
		Action:   "Restart the connect flow from the beginning.",
	}
}

// NewMissingCodeError は認可コード欠落エラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCode,
		Message:  "missing authorization code",
		Category: "validation",
		Action:   "Restart the connect flow from the beginning.",
	}
}

// NewIdeaNotFoundError はアイデア未検出エラーを生成する。
func NewIdeaNotFoundError(ideaID string) *APIError {
	return &APIError{
		Code:     ErrCodeIdeaNotFound,
		Message:  fmt.Sprintf("idea not found: %s", ideaID),
		Category: "content",
		Action:   "Check the idea ID.",
	}
}

// NewIdeaNotApprovedError は未承認アイデアからのプレビュー作成エラーを生成する。
func NewIdeaNotApprovedError(ideaID string) *APIError {
	return &APIError{
		Code:     ErrCodeIdeaNotApproved,
		Message:  fmt.Sprintf("idea is not approved: %s", ideaID),
		Category: "content",
		Action:   "Approve the idea before creating previews.",
	}
}

// NewPreviewNotFoundError はプレビュー未検出エラーを生成する。
func NewPreviewNotFoundError(previewID string) *APIError {
	return &APIError{
		Code:     ErrCodePreviewNotFound,
		Message:  fmt.Sprintf("preview not found: %s", previewID),
		Category: "content",
		Action:   "Check the preview ID.",
	}
}

// NewInvalidTransitionError は不正な状態遷移エラーを生成する。
func NewInvalidTransitionError(from PreviewStatus, action string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTransition,
		Message:  fmt.Sprintf("cannot %s a preview in status %q", action, from),
		Category: "content",
		Action:   "Check the current preview status.",
	}
}

// NewInvalidScheduleError はスケジュール日時不正エラーを生成する。
func NewInvalidScheduleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("invalid schedule: %s", reason),
		Category: "validation",
		Action:   "Specify a timestamp in the future.",
	}
}

// NewInvalidDecisionError はレビュー判定値の不正エラーを生成する。
func NewInvalidDecisionError(decision string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDecision,
		Message:  fmt.Sprintf("invalid review decision: %s", decision),
		Category: "validation",
		Action:   "Specify either approve or reject.",
	}
}

// NewInvalidDraftContentError は下書き本文の不正エラーを生成する。
func NewInvalidDraftContentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDraftContent,
		Message:  fmt.Sprintf("invalid draft content: %s", reason),
		Category: "validation",
		Action:   "Provide a body for every target channel.",
	}
}

// NewUnsafeLinkError は安全でないリンクURLの拒否エラーを生成する。
func NewUnsafeLinkError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsafeLink,
		Message:  fmt.Sprintf("link rejected: %s", reason),
		Category: "validation",
		Action:   "Use a public http(s) URL.",
	}
}

// NewFeedImportFailedError はアイデアフィードの取り込み失敗エラーを生成する。
func NewFeedImportFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFeedImportFailed,
		Message:  fmt.Sprintf("feed import failed: %s", reason),
		Category: "content",
		Action:   "Check the feed URL and try again later.",
	}
}

// NewConnectFailedError はOAuth接続フローの失敗エラーを生成する。
func NewConnectFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConnectFailed,
		Message:  fmt.Sprintf("connect failed: %s", reason),
		Category: "platform",
		Action:   "Retry the connect flow. If the problem persists, check the platform app credentials.",
	}
}

// NewConnectionNotFoundError はアクティブな接続の未検出エラーを生成する。
func NewConnectionNotFoundError(platform string) *APIError {
	return &APIError{
		Code:     ErrCodeConnectionNotFound,
		Message:  fmt.Sprintf("no active connection for platform: %s", platform),
		Category: "platform",
		Action:   "Connect the platform account first.",
	}
}
