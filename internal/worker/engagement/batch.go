// Package engagement は公開済み投稿のエンゲージメント統計のバッチ取得を提供する。
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/platform"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// TokenRefresher はトークンの鮮度保証のインターフェース。
// token.Managerを抽象化する。
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, conn *model.SocialConnection) (*model.SocialConnection, error)
}

// BatchConfig はバッチジョブの設定パラメータ。
// 環境変数から設定可能。
type BatchConfig struct {
	// BatchInterval はバッチジョブの実行間隔（デフォルト: 30分）。
	BatchInterval time.Duration
	// APIInterval はAPI呼び出しの最低間隔（デフォルト: 5秒）。
	APIInterval time.Duration
	// MaxCallsPerCycle は1サイクルあたりの最大API呼び出し回数（デフォルト: 100）。
	MaxCallsPerCycle int
	// Lookback は統計取得対象とする公開レコードの遡り幅（デフォルト: 72時間）。
	Lookback time.Duration
}

// DefaultBatchConfig はデフォルトのバッチジョブ設定を返す。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		BatchInterval:    30 * time.Minute,
		APIInterval:      5 * time.Second,
		MaxCallsPerCycle: 100,
		Lookback:         72 * time.Hour,
	}
}

// BatchJob は直近に成功した公開レコードを対象に、各プラットフォームの
// APIからいいね・コメント・シェア数を取得してengagementsへUPSERTする。
// 統計取得に対応しないプラットフォームのレコードはスキップする。
type BatchJob struct {
	publishes   repository.PublishRepository
	previews    repository.PreviewRepository
	connections repository.ConnectionRepository
	engagements repository.EngagementRepository
	tokens      TokenRefresher
	registry    *platform.Registry
	logger      *slog.Logger
	config      BatchConfig

	consecutiveErrors int
	backoffUntil      time.Time
	now               func() time.Time
}

// NewBatchJob はBatchJobの新しいインスタンスを生成する。
func NewBatchJob(
	publishes repository.PublishRepository,
	previews repository.PreviewRepository,
	connections repository.ConnectionRepository,
	engagements repository.EngagementRepository,
	tokens TokenRefresher,
	registry *platform.Registry,
	logger *slog.Logger,
	config BatchConfig,
) *BatchJob {
	return &BatchJob{
		publishes:   publishes,
		previews:    previews,
		connections: connections,
		engagements: engagements,
		tokens:      tokens,
		registry:    registry,
		logger:      logger,
		config:      config,
		now:         time.Now,
	}
}

// Start はバッチジョブをティッカーで定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (b *BatchJob) Start(ctx context.Context) {
	ticker := time.NewTicker(b.config.BatchInterval)
	defer ticker.Stop()

	b.logger.Info("エンゲージメントバッチジョブを開始しました",
		slog.Duration("batch_interval", b.config.BatchInterval),
		slog.Duration("api_interval", b.config.APIInterval),
		slog.Int("max_calls_per_cycle", b.config.MaxCallsPerCycle),
	)

	// 起動直後に1回実行
	if err := b.RunOnce(ctx); err != nil {
		b.logger.Error("エンゲージメントバッチサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("エンゲージメントバッチジョブを停止しました")
			return
		case <-ticker.C:
			if err := b.RunOnce(ctx); err != nil {
				b.logger.Error("エンゲージメントバッチサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は1回のバッチサイクルを実行する。
// 直近の成功レコードを取得し、API呼び出し間隔と回数上限を守りながら
// プラットフォームごとの統計を取得・保存する。
func (b *BatchJob) RunOnce(ctx context.Context) error {
	start := b.now()

	// バックオフ中の場合はスキップ
	if !b.backoffUntil.IsZero() && b.now().Before(b.backoffUntil) {
		b.logger.Info("エンゲージメントバッチジョブはバックオフ中のためスキップします",
			slog.Time("backoff_until", b.backoffUntil),
		)
		return nil
	}

	since := b.now().Add(-b.config.Lookback)
	records, err := b.publishes.ListRecentlyPosted(ctx, since, b.config.MaxCallsPerCycle)
	if err != nil {
		return fmt.Errorf("failed to list recent publishes: %w", err)
	}

	if len(records) == 0 {
		b.logger.Info("エンゲージメント取得対象の公開レコードはありません")
		return nil
	}

	b.logger.Info("エンゲージメントバッチサイクルを開始します",
		slog.Int("target_records", len(records)),
	)

	var apiCallCount int
	var updatedCount int
	var skippedCount int
	var hadError bool

	for _, record := range records {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if apiCallCount >= b.config.MaxCallsPerCycle {
			b.logger.Info("1サイクルあたりの最大API呼び出し回数に達しました",
				slog.Int("api_call_count", apiCallCount),
				slog.Int("max_calls_per_cycle", b.config.MaxCallsPerCycle),
			)
			break
		}

		source, accessToken, ok := b.resolveSource(ctx, record)
		if !ok {
			skippedCount++
			continue
		}

		// API呼び出しインターバル（初回は待たない）
		if apiCallCount > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.config.APIInterval):
			}
		}
		apiCallCount++

		stats, err := source.FetchEngagement(ctx, accessToken, record.Result.PostID)
		if err != nil {
			b.logger.Error("エンゲージメント統計の取得に失敗しました",
				slog.String("publish_id", record.ID),
				slog.String("platform", record.Platform),
				slog.String("post_id", record.Result.PostID),
				slog.String("error", err.Error()),
			)
			hadError = true
			b.consecutiveErrors++
			if backoff := b.calculateErrorBackoff(b.consecutiveErrors); backoff > 0 {
				b.backoffUntil = b.now().Add(backoff)
				b.logger.Warn("連続エラーによりバックオフを適用します",
					slog.Int("consecutive_errors", b.consecutiveErrors),
					slog.Duration("backoff_duration", backoff),
				)
				break
			}
			continue
		}

		engagement := &model.Engagement{
			PublishID: record.ID,
			Likes:     stats.Likes,
			Comments:  stats.Comments,
			Shares:    stats.Shares,
			FetchedAt: b.now(),
		}
		if err := b.engagements.Upsert(ctx, engagement); err != nil {
			b.logger.Error("エンゲージメント統計の保存に失敗しました",
				slog.String("publish_id", record.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		updatedCount++
	}

	// エラーがなければ連続エラーカウントをリセット
	if !hadError {
		b.consecutiveErrors = 0
		b.backoffUntil = time.Time{}
	}

	duration := b.now().Sub(start)
	b.logger.Info("エンゲージメントバッチサイクルが完了しました",
		slog.Int("api_call_count", apiCallCount),
		slog.Int("updated_records", updatedCount),
		slog.Int("skipped_records", skippedCount),
		slog.Int("target_records", len(records)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// resolveSource は公開レコードから統計取得用のアダプターとアクセストークンを解決する。
// 統計取得に非対応のプラットフォーム、投稿ID欠落、接続の欠落はスキップ扱いとする。
func (b *BatchJob) resolveSource(ctx context.Context, record *model.Publish) (platform.EngagementSource, string, bool) {
	if record.Result.PostID == "" {
		return nil, "", false
	}

	adapter, ok := b.registry.Get(record.Platform)
	if !ok {
		return nil, "", false
	}
	source, ok := adapter.(platform.EngagementSource)
	if !ok {
		return nil, "", false
	}

	preview, err := b.previews.FindByID(ctx, record.PreviewID)
	if err != nil || preview == nil {
		if err != nil {
			b.logger.Error("プレビューの取得に失敗しました",
				slog.String("preview_id", record.PreviewID),
				slog.String("error", err.Error()),
			)
		}
		return nil, "", false
	}

	conn, err := b.connections.FindActive(ctx, preview.CreatedBy, record.Platform)
	if err != nil || conn == nil {
		if err != nil {
			b.logger.Error("接続の取得に失敗しました",
				slog.String("platform", record.Platform),
				slog.String("error", err.Error()),
			)
		}
		return nil, "", false
	}

	fresh, err := b.tokens.EnsureFresh(ctx, conn)
	if err != nil {
		b.logger.Warn("トークンリフレッシュに失敗したためスキップします",
			slog.String("platform", record.Platform),
			slog.String("error", err.Error()),
		)
		return nil, "", false
	}

	return source, fresh.AccessToken, true
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func (b *BatchJob) calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
