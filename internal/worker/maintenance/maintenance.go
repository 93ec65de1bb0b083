// Package maintenance は期限切れソーシャル接続の自動非アクティブ化ジョブを提供する。
// トークン有効期限が保持期間（デフォルト30日）を超えて過ぎたアクティブな接続を
// 日次バッチで非アクティブ化する。接続は物理削除しない。
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/timelinealchemy/publisher/internal/repository"
)

// Job は期限切れ接続の自動非アクティブ化ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な更新処理を保証する。
type Job struct {
	connections repository.ConnectionRepository
	logger      *slog.Logger
	Retention   time.Duration // 期限切れトークンの猶予期間（デフォルト: 30日）
	now         func() time.Time
}

// NewJob は新しいJobを生成する。デフォルトの猶予期間は30日。
func NewJob(connections repository.ConnectionRepository, logger *slog.Logger) *Job {
	return &Job{
		connections: connections,
		logger:      logger,
		Retention:   30 * 24 * time.Hour,
		now:         time.Now,
	}
}

// Start は指定間隔のティッカーでジョブを定期実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("接続メンテナンスジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("retention", j.Retention),
	)

	// 起動直後に1回実行
	if err := j.Run(ctx); err != nil {
		j.logger.Error("接続メンテナンスジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("接続メンテナンスジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("接続メンテナンスジョブの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Run はトークン有効期限が猶予期間より古いアクティブな接続を非アクティブ化する。
// 有効期限なし（無期限トークン）の接続は対象外。
// 冪等: 対象がない場合でもエラーにならない。
func (j *Job) Run(ctx context.Context) error {
	start := j.now()
	cutoff := start.Add(-j.Retention)

	deactivated, err := j.connections.DeactivateExpiredBefore(ctx, cutoff)
	if err != nil {
		j.logger.Error("期限切れ接続の非アクティブ化に失敗しました",
			slog.String("error", err.Error()),
			slog.Time("cutoff", cutoff),
		)
		return fmt.Errorf("failed to deactivate expired connections: %w", err)
	}

	duration := j.now().Sub(start)
	j.logger.Info("接続メンテナンスジョブが完了しました",
		slog.Int64("deactivated_count", deactivated),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
