package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timelinealchemy/publisher/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	ServiceToken      string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// cronトリガー
	CronSecret    string
	PublishRunner PublishRunnerInterface

	// ドメインサービス
	IdeaService    IdeaServiceInterface
	IdeaImporter   IdeaImportServiceInterface
	PreviewService PreviewServiceInterface
	PublishHistory PublishHistoryLister
	ConnectService ConnectServiceInterface

	// メトリクス
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Identity → RateLimit(General)
//
// /health、/metrics、/internal/cron/publish は認証ミドルウェアの外に配置する
// （cronトリガーは専用のシークレット検証を持つ）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	ideaHandler := NewIdeaHandler(deps.IdeaService, deps.IdeaImporter)
	previewHandler := NewPreviewHandler(deps.PreviewService, deps.PublishHistory)
	connectHandler := NewConnectHandler(deps.ConnectService)
	cronHandler := NewCronHandler(deps.PublishRunner, deps.CronSecret, deps.Logger)

	// --- 認証ミドルウェアの外のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// cronトリガー（CRON_SECRETで独自に認証する）
	r.Get("/internal/cron/publish", cronHandler.TriggerPublish)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.ServiceToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// ソーシャル接続管理
		r.Route("/api/social", func(r chi.Router) {
			// 接続操作には専用レート制限を追加で適用する
			r.With(deps.RateLimiter.ConnectMiddleware()).Post("/connect", connectHandler.Connect)
			r.With(deps.RateLimiter.ConnectMiddleware()).Post("/callback", connectHandler.Callback)
			r.With(deps.RateLimiter.ConnectMiddleware()).Get("/callback", connectHandler.Callback)

			r.Get("/connections", connectHandler.ListConnections)
			r.Delete("/{platform}", connectHandler.Disconnect)
		})

		// アイデア管理
		r.Route("/api/ideas", func(r chi.Router) {
			r.Post("/", ideaHandler.CreateIdea)
			r.Post("/import", ideaHandler.ImportIdeas)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", ideaHandler.GetIdea)
				r.Post("/review", ideaHandler.ReviewIdea)
			})
		})

		// プレビュー管理
		r.Route("/api/previews", func(r chi.Router) {
			r.Post("/", previewHandler.CreatePreview)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", previewHandler.GetPreview)
				r.Post("/review", previewHandler.ReviewPreview)
				r.Post("/schedule", previewHandler.SchedulePreview)
				r.Get("/publishes", previewHandler.ListPublishes)
			})
		})
	})

	return r
}
