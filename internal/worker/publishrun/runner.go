// Package publishrun は公開予定が到来したプレビューの定期公開処理を提供する。
package publishrun

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/timelinealchemy/publisher/internal/metrics"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/publish"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// PreviewPublisher はプレビュー公開の実行インターフェース。
// publish.Orchestratorを抽象化する。
type PreviewPublisher interface {
	PublishPreview(ctx context.Context, preview *model.Preview) *publish.PreviewOutcome
}

// PreviewResult は1プレビュー分の実行結果サマリ。
type PreviewResult struct {
	PreviewID string
	Success   bool
	Results   []model.PlatformResult
}

// RunSummary は公開実行1回分の集約結果。
type RunSummary struct {
	Total      int
	Successful int
	Failed     int
	Results    []PreviewResult
}

// Runner は公開予定が到来したプレビューを取得し、並列制御しながら公開する。
// ティッカー起動のほか、cronトリガーエンドポイントからRunOnceを直接呼び出せる。
type Runner struct {
	previews       repository.PreviewRepository
	publisher      PreviewPublisher
	collector      metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	maxPerRun      int
}

// NewRunner はRunnerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合は1（逐次実行）を使用する。
func NewRunner(
	previews repository.PreviewRepository,
	publisher PreviewPublisher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	maxPerRun int,
) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	if maxPerRun <= 0 {
		maxPerRun = 50
	}
	return &Runner{
		previews:       previews,
		publisher:      publisher,
		collector:      collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		maxPerRun:      maxPerRun,
	}
}

// Start は指定間隔のティッカーで公開処理を起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (r *Runner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("公開ランナーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", r.maxConcurrency),
		slog.Int("max_per_run", r.maxPerRun),
	)

	// 起動直後に1回実行
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("公開サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("公開ランナーを停止しました")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("公開サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は公開対象プレビューを1回確保し、並列制御しながら公開する。
// 対象行は取得時に原子的に確保（publish_claimed_atを打刻）されるため、
// APIのcronトリガーとワーカーのティッカーが並行しても同じプレビューを
// 二重に公開しない。
func (r *Runner) RunOnce(ctx context.Context) (*RunSummary, error) {
	start := time.Now()

	previews, err := r.previews.ClaimDueForPublish(ctx, r.maxPerRun)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due previews: %w", err)
	}

	r.collector.SetDuePreviews(len(previews))

	if len(previews) == 0 {
		r.logger.Info("公開対象のプレビューはありません")
		return &RunSummary{}, nil
	}

	r.logger.Info("公開サイクルを開始します",
		slog.Int("preview_count", len(previews)),
	)

	// semaphoreパターンで並列数を制御。結果は宣言順のスロットへ書き込む。
	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup
	results := make([]PreviewResult, len(previews))

	for i, preview := range previews {
		wg.Add(1)
		sem <- struct{}{}

		go func(slot int, p *model.Preview) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := r.publisher.PublishPreview(ctx, p)
			results[slot] = PreviewResult{
				PreviewID: outcome.PreviewID,
				Success:   outcome.Success,
				Results:   outcome.Results,
			}
		}(i, preview)
	}

	wg.Wait()

	summary := &RunSummary{
		Total:   len(previews),
		Results: results,
	}
	for _, result := range results {
		if result.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}

	duration := time.Since(start)
	r.collector.RecordRunDuration(duration)

	r.logger.Info("公開サイクルが完了しました",
		slog.Int("total", summary.Total),
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return summary, nil
}
