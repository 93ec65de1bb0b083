package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/timelinealchemy/publisher/internal/config"
	"github.com/timelinealchemy/publisher/internal/connect"
	"github.com/timelinealchemy/publisher/internal/database"
	"github.com/timelinealchemy/publisher/internal/events"
	"github.com/timelinealchemy/publisher/internal/handler"
	"github.com/timelinealchemy/publisher/internal/ideafeed"
	"github.com/timelinealchemy/publisher/internal/lifecycle"
	"github.com/timelinealchemy/publisher/internal/logger"
	"github.com/timelinealchemy/publisher/internal/metrics"
	"github.com/timelinealchemy/publisher/internal/middleware"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/platform"
	"github.com/timelinealchemy/publisher/internal/publish"
	"github.com/timelinealchemy/publisher/internal/repository"
	"github.com/timelinealchemy/publisher/internal/security"
	"github.com/timelinealchemy/publisher/internal/token"
	"github.com/timelinealchemy/publisher/internal/worker/engagement"
	"github.com/timelinealchemy/publisher/internal/worker/maintenance"
	"github.com/timelinealchemy/publisher/internal/worker/publishrun"
)

// Init はアプリケーションの初期化を行う。
// .envファイルと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envファイルの読み込み（存在しない場合は環境変数のみ使用）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("site_url", cfg.SiteURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// newPlatformRegistry は設定済みの資格情報からプラットフォームレジストリを構築する。
// 資格情報が未設定のプラットフォームは登録しない。
func newPlatformRegistry(cfg *config.Config) *platform.Registry {
	var adapters []platform.Adapter

	if creds, ok := cfg.PlatformCredentialsFor(model.PlatformFacebook); ok {
		adapters = append(adapters, platform.NewFacebookAdapter(platform.FacebookConfig{
			Credentials: platform.Credentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret},
		}))
	}
	if creds, ok := cfg.PlatformCredentialsFor(model.PlatformTwitter); ok {
		adapters = append(adapters, platform.NewTwitterAdapter(platform.TwitterConfig{
			Credentials: platform.Credentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret},
		}))
	}
	if creds, ok := cfg.PlatformCredentialsFor(model.PlatformLinkedIn); ok {
		adapters = append(adapters, platform.NewLinkedInAdapter(platform.LinkedInConfig{
			Credentials: platform.Credentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret},
		}))
	}
	if creds, ok := cfg.PlatformCredentialsFor(model.PlatformInstagram); ok {
		adapters = append(adapters, platform.NewInstagramAdapter(platform.InstagramConfig{
			Credentials: platform.Credentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret},
		}))
	}

	registry := platform.NewRegistry(adapters...)
	slog.Info("platform registry initialized",
		slog.Any("platforms", registry.Names()),
	)

	return registry
}

// newEmitter はAMQP_URLの有無に応じてイベントエミッタを構築する。
func newEmitter(cfg *config.Config) events.Emitter {
	if cfg.AMQPURL == "" {
		slog.Info("AMQP_URL not set, outcome events disabled")
		return events.NopEmitter{}
	}
	return events.NewAMQPEmitter(cfg.AMQPURL, slog.Default())
}

// newRateLimiterConfig は設定のreq/min値からレート制限設定を構築する。
func newRateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitConnect > 0 {
		rlCfg.ConnectRate = rate.Limit(float64(cfg.RateLimitConnect) / 60.0)
		rlCfg.ConnectBurst = cfg.RateLimitConnect
	}
	return rlCfg
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	ideaRepo := repository.NewPostgresIdeaRepo(db)
	previewRepo := repository.NewPostgresPreviewRepo(db)
	publishRepo := repository.NewPostgresPublishRepo(db)
	connRepo := repository.NewPostgresConnectionRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. プラットフォーム連携の初期化
	registry := newPlatformRegistry(cfg)
	tokenManager := token.NewManager(connRepo, registry, cfg.TokenRefreshWindow, slog.Default())

	// 5. メトリクスとイベントの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)
	emitter := newEmitter(cfg)
	defer emitter.Close()

	// 6. 公開パイプラインの初期化
	orchestrator := publish.NewOrchestrator(
		previewRepo, publishRepo, connRepo, tokenManager, registry,
		emitter, collector, slog.Default(), cfg.PublishTimeout,
	)
	runner := publishrun.NewRunner(
		previewRepo, orchestrator, collector, slog.Default(),
		cfg.PublishMaxConcurrent, cfg.PublishMaxPerRun,
	)

	// 7. ドメインサービスの初期化
	lifecycleService := lifecycle.NewService(ideaRepo, previewRepo, sanitizer, ssrfGuard, slog.Default())
	importService := ideafeed.NewService(ideaRepo, ssrfGuard, sanitizer, collector, slog.Default(), cfg.FetchTimeout, cfg.FetchMaxSize)
	connectService := connect.NewService(connRepo, registry, cfg.SiteURL, slog.Default())

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		ServiceToken:      cfg.ServiceToken,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(newRateLimiterConfig(cfg)),
		Logger:            slog.Default(),

		CronSecret:    cfg.CronSecret,
		PublishRunner: runner,

		IdeaService:    lifecycleService,
		IdeaImporter:   importService,
		PreviewService: lifecycleService,
		PublishHistory: publishRepo,
		ConnectService: connectService,

		MetricsHandler: metrics.Handler(promRegistry),
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 公開ランナー・エンゲージメントバッチ・接続メンテナンスジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	previewRepo := repository.NewPostgresPreviewRepo(db)
	publishRepo := repository.NewPostgresPublishRepo(db)
	connRepo := repository.NewPostgresConnectionRepo(db)
	engagementRepo := repository.NewPostgresEngagementRepo(db)

	// 3. プラットフォーム連携の初期化
	registry := newPlatformRegistry(cfg)
	tokenManager := token.NewManager(connRepo, registry, cfg.TokenRefreshWindow, slog.Default())

	// 4. メトリクスとイベントの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)
	emitter := newEmitter(cfg)
	defer emitter.Close()

	// 5. 公開パイプラインの初期化
	orchestrator := publish.NewOrchestrator(
		previewRepo, publishRepo, connRepo, tokenManager, registry,
		emitter, collector, slog.Default(), cfg.PublishTimeout,
	)
	runner := publishrun.NewRunner(
		previewRepo, orchestrator, collector, slog.Default(),
		cfg.PublishMaxConcurrent, cfg.PublishMaxPerRun,
	)

	// 6. エンゲージメントバッチジョブの初期化
	engagementBatch := engagement.NewBatchJob(
		publishRepo, previewRepo, connRepo, engagementRepo,
		tokenManager, registry, slog.Default(),
		engagement.BatchConfig{
			BatchInterval:    cfg.EngagementBatchInterval,
			APIInterval:      cfg.EngagementAPIInterval,
			MaxCallsPerCycle: cfg.EngagementMaxCallsPerCycle,
			Lookback:         cfg.EngagementLookback,
		},
	)

	// 7. 接続メンテナンスジョブの初期化
	maintenanceJob := maintenance.NewJob(connRepo, slog.Default())
	maintenanceJob.Retention = cfg.ConnectionRetention

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("publish_interval", cfg.PublishInterval),
		slog.Int("max_concurrent", cfg.PublishMaxConcurrent),
	)

	// エンゲージメントバッチジョブをバックグラウンドで起動
	go engagementBatch.Start(ctx)

	// 接続メンテナンスジョブを日次でバックグラウンド実行
	go maintenanceJob.Start(ctx, 24*time.Hour)

	// 公開ランナーをメインgoroutineで実行（ブロッキング）
	runner.Start(ctx, cfg.PublishInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
