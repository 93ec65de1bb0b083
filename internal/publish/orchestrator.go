// Package publish は承認済みプレビューのプラットフォーム公開を統括する。
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timelinealchemy/publisher/internal/events"
	"github.com/timelinealchemy/publisher/internal/metrics"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/platform"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// TokenRefresher はトークンの鮮度保証のインターフェース。
// token.Managerを抽象化する。
type TokenRefresher interface {
	EnsureFresh(ctx context.Context, conn *model.SocialConnection) (*model.SocialConnection, error)
}

// PreviewOutcome は1プレビューの公開実行の集約結果。
type PreviewOutcome struct {
	PreviewID string
	Success   bool
	Results   []model.PlatformResult
}

// Orchestrator は1つの承認済みプレビューを対象チャネルへ順に公開する。
// プラットフォーム単位の失敗は記録して次のチャネルへ継続し、
// 全チャネル成功の場合のみプレビューをpublishedへ遷移させる。
type Orchestrator struct {
	previews    repository.PreviewRepository
	publishes   repository.PublishRepository
	connections repository.ConnectionRepository
	tokens      TokenRefresher
	registry    *platform.Registry
	emitter     events.Emitter
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	postTimeout time.Duration
	now         func() time.Time
}

// NewOrchestrator はOrchestratorを生成する。
func NewOrchestrator(
	previews repository.PreviewRepository,
	publishes repository.PublishRepository,
	connections repository.ConnectionRepository,
	tokens TokenRefresher,
	registry *platform.Registry,
	emitter events.Emitter,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	postTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		previews:    previews,
		publishes:   publishes,
		connections: connections,
		tokens:      tokens,
		registry:    registry,
		emitter:     emitter,
		collector:   collector,
		logger:      logger,
		postTimeout: postTimeout,
		now:         time.Now,
	}
}

// PublishPreview はプレビューを宣言順の各チャネルへ公開する。
// チャネルごとに接続解決 → トークン鮮度保証 → 投稿 → 監査レコード追記を行い、
// どのエラーもプラットフォーム単位の失敗として記録して継続する。
// 最後に全チャネルの成否を集約し、approvedのままのプレビューのみ
// published/failedへ条件付きで遷移させる。
func (o *Orchestrator) PublishPreview(ctx context.Context, preview *model.Preview) *PreviewOutcome {
	results := make([]model.PlatformResult, 0, len(preview.Channels))

	for _, channel := range preview.Channels {
		result := o.publishToPlatform(ctx, preview, channel)
		results = append(results, result)
	}

	allSucceeded := true
	for _, r := range results {
		if !r.Success {
			allSucceeded = false
			break
		}
	}

	status := model.PreviewStatusFailed
	if allSucceeded {
		status = model.PreviewStatusPublished
	}

	metadata := preview.Metadata
	metadata.Publish = &model.PublishMetadata{
		LastPublishedAt: o.now(),
		Results:         results,
	}

	updated, err := o.previews.UpdatePublishOutcome(ctx, preview.ID, status, metadata)
	if err != nil {
		o.logger.Error("公開結果の書き込みに失敗しました",
			slog.String("preview_id", preview.ID),
			slog.String("error", err.Error()),
		)
	} else if !updated {
		// 並行実行か再実行で既にpublished/failedへ遷移済み
		o.logger.Warn("プレビューは既に遷移済みのため公開結果を書き込みませんでした",
			slog.String("preview_id", preview.ID),
			slog.String("status", string(status)),
		)
	}

	// イベントは保存された状態遷移に対してのみ送出する。
	// 書き込みが行われなかった場合に送出すると、保存状態と矛盾する
	// イベントを下流が受け取ることになる。
	if err == nil && updated {
		if err := o.emitter.Emit(ctx, events.PublishOutcome{
			PreviewID: preview.ID,
			Status:    string(status),
			Platforms: preview.Channels,
			At:        o.now(),
		}); err != nil {
			o.logger.Error("公開結果イベントの送出に失敗しました",
				slog.String("preview_id", preview.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.logger.Info("プレビューの公開実行が完了しました",
		slog.String("preview_id", preview.ID),
		slog.String("status", string(status)),
		slog.Int("platforms_total", len(results)),
		slog.Int("platforms_failed", countFailed(results)),
	)

	return &PreviewOutcome{
		PreviewID: preview.ID,
		Success:   allSucceeded,
		Results:   results,
	}
}

// publishToPlatform は1チャネルへの公開試行を実行し、結果サマリを返す。
// 試行ごとに必ず監査レコードを1件追記する。
func (o *Orchestrator) publishToPlatform(ctx context.Context, preview *model.Preview, channel string) model.PlatformResult {
	adapter, ok := o.registry.Get(channel)
	if !ok {
		o.collector.RecordPublishFailure(channel, "not_configured")
		return o.recordFailure(ctx, preview.ID, channel, fmt.Sprintf("platform %s is not configured", channel))
	}

	conn, err := o.connections.FindActive(ctx, preview.CreatedBy, channel)
	if err != nil {
		o.collector.RecordPublishFailure(channel, "connection_lookup")
		return o.recordFailure(ctx, preview.ID, channel, fmt.Sprintf("connection lookup failed: %s", err.Error()))
	}
	if conn == nil {
		o.collector.RecordPublishFailure(channel, "no_connection")
		return o.recordFailure(ctx, preview.ID, channel, fmt.Sprintf("no active connection for %s", channel))
	}

	fresh, err := o.tokens.EnsureFresh(ctx, conn)
	if err != nil {
		o.collector.RecordTokenRefreshFailure(channel)
		o.collector.RecordPublishFailure(channel, "token_refresh")
		return o.recordFailure(ctx, preview.ID, channel, fmt.Sprintf("token refresh failed: %s", err.Error()))
	}
	if fresh.AccessToken != conn.AccessToken {
		o.collector.RecordTokenRefreshSuccess(channel)
	}

	draft := preview.DraftContent[channel]
	postCtx, cancel := context.WithTimeout(ctx, o.postTimeout)
	defer cancel()

	postStart := o.now()
	postResult, err := adapter.Post(postCtx, fresh.AccessToken, platform.PostContent{
		Message: draft.Body,
		Link:    draft.Link,
	})
	o.collector.RecordPlatformLatency(channel, time.Since(postStart))
	if err != nil {
		var unsupported *platform.UnsupportedError
		if errors.As(err, &unsupported) {
			o.collector.RecordUnsupportedAttempt(channel)
			o.collector.RecordPublishFailure(channel, "unsupported")
		} else {
			o.collector.RecordPublishFailure(channel, "post_failed")
		}
		return o.recordFailure(ctx, preview.ID, channel, err.Error())
	}

	o.appendPublishRecord(ctx, &model.Publish{
		ID:          uuid.New().String(),
		PreviewID:   preview.ID,
		Platform:    channel,
		PublishedAt: o.now(),
		Status:      model.PublishStatusPosted,
		Result: model.PublishResult{
			PostID:    postResult.PostID,
			URL:       postResult.URL,
			Timestamp: o.now(),
		},
		CreatedAt: o.now(),
	})

	if err := o.connections.TouchLastUsed(ctx, fresh.ID); err != nil {
		o.logger.Warn("接続の最終使用時刻の更新に失敗しました",
			slog.String("connection_id", fresh.ID),
			slog.String("error", err.Error()),
		)
	}

	o.collector.RecordPublishSuccess(channel)
	o.logger.Info("プラットフォームへの投稿が成功しました",
		slog.String("preview_id", preview.ID),
		slog.String("platform", channel),
		slog.String("post_id", postResult.PostID),
	)

	return model.PlatformResult{
		Platform: channel,
		Success:  true,
		PostID:   postResult.PostID,
	}
}

// recordFailure は失敗の監査レコードを追記し、失敗サマリを返す。
func (o *Orchestrator) recordFailure(ctx context.Context, previewID, channel, errMsg string) model.PlatformResult {
	o.appendPublishRecord(ctx, &model.Publish{
		ID:          uuid.New().String(),
		PreviewID:   previewID,
		Platform:    channel,
		PublishedAt: o.now(),
		Status:      model.PublishStatusFailed,
		Result: model.PublishResult{
			Error:     errMsg,
			Timestamp: o.now(),
		},
		CreatedAt: o.now(),
	})

	o.logger.Warn("プラットフォームへの投稿が失敗しました",
		slog.String("preview_id", previewID),
		slog.String("platform", channel),
		slog.String("error", errMsg),
	)

	return model.PlatformResult{
		Platform: channel,
		Success:  false,
		Error:    errMsg,
	}
}

// appendPublishRecord は監査レコードを追記する。追記失敗は投稿結果を
// 変えないため、ログのみで継続する。
func (o *Orchestrator) appendPublishRecord(ctx context.Context, publish *model.Publish) {
	if err := o.publishes.Create(ctx, publish); err != nil {
		o.logger.Error("公開監査レコードの追記に失敗しました",
			slog.String("preview_id", publish.PreviewID),
			slog.String("platform", publish.Platform),
			slog.String("error", err.Error()),
		)
	}
}

func countFailed(results []model.PlatformResult) int {
	n := 0
	for _, r := range results {
		if !r.Success {
			n++
		}
	}
	return n
}
