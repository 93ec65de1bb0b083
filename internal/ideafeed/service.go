// Package ideafeed はRSS/Atomフィードからのアイデア取込を提供する。
package ideafeed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/timelinealchemy/publisher/internal/metrics"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/repository"
	"github.com/timelinealchemy/publisher/internal/security"
)

// maxEntriesPerImport は1回の取込で処理するフィード記事数の上限。
const maxEntriesPerImport = 50

// Service は外部フィードからアイデアの下書きを取り込む。
// SSRF検証付きクライアントでフェッチし、gofeedでパースした記事を
// サニタイズしてdraft状態のアイデアとして保存する。
type Service struct {
	ideas       repository.IdeaRepository
	guard       security.SSRFGuardService
	sanitizer   security.ContentSanitizerService
	collector   metrics.MetricsCollector
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(ideas repository.IdeaRepository, guard security.SSRFGuardService, sanitizer security.ContentSanitizerService, collector metrics.MetricsCollector, logger *slog.Logger, timeout time.Duration, maxBodySize int64) *Service {
	return &Service{
		ideas:       ideas,
		guard:       guard,
		sanitizer:   sanitizer,
		collector:   collector,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		now:         time.Now,
	}
}

// ImportResult はフィード取込の結果。
type ImportResult struct {
	Created int
	Skipped int
}

// ImportFromFeed はフィードURLから記事を取り込み、draft状態のアイデアを作成する。
// 出典URLが一致する既存アイデアがある記事はスキップし、再実行を冪等にする。
func (s *Service) ImportFromFeed(ctx context.Context, userID, feedURL string) (*ImportResult, error) {
	if err := s.guard.ValidateURL(feedURL); err != nil {
		return nil, model.NewFeedImportFailedError(fmt.Sprintf("invalid feed URL: %s", err.Error()))
	}

	parsedFeed, err := s.fetchAndParse(ctx, feedURL)
	if err != nil {
		s.logger.Error("フィードの取得に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result := &ImportResult{}
	importedAt := s.now().UTC().Format(time.RFC3339)

	for i, entry := range parsedFeed.Items {
		if i >= maxEntriesPerImport {
			break
		}
		if entry == nil || entry.Link == "" {
			result.Skipped++
			continue
		}

		title := s.sanitizer.SanitizeText(entry.Title)
		if title == "" {
			result.Skipped++
			continue
		}

		exists, err := s.ideas.ExistsBySourceURL(ctx, entry.Link)
		if err != nil {
			return nil, fmt.Errorf("failed to check imported idea: %w", err)
		}
		if exists {
			result.Skipped++
			continue
		}

		now := s.now()
		idea := &model.Idea{
			ID:          uuid.New().String(),
			Title:       title,
			Description: s.sanitizer.Sanitize(entrySummary(entry)),
			Status:      model.IdeaStatusDraft,
			CreatedBy:   userID,
			Metadata: model.IdeaMetadata{
				Source: &model.SourceMetadata{
					SourceURL:   entry.Link,
					SourceTitle: s.sanitizer.SanitizeText(parsedFeed.Title),
					ImportedAt:  importedAt,
				},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		if err := s.ideas.Create(ctx, idea); err != nil {
			return nil, fmt.Errorf("failed to create imported idea: %w", err)
		}
		result.Created++
	}

	if result.Created > 0 {
		s.collector.RecordIdeasImported(result.Created)
	}

	s.logger.Info("フィード取込が完了しました",
		slog.String("feed_url", feedURL),
		slog.String("created_by", userID),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
	)

	return result, nil
}

// fetchAndParse はフィードをSSRF防止付きクライアントで取得し、gofeedでパースする。
func (s *Service) fetchAndParse(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	client := s.guard.NewSafeClient(s.timeout, s.maxBodySize)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, model.NewFeedImportFailedError(fmt.Sprintf("invalid request: %s", err.Error()))
	}
	req.Header.Set("User-Agent", "TimelineAlchemy/1.0 Idea Importer")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, model.NewFeedImportFailedError(fmt.Sprintf("fetch failed: %s", err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, model.NewFeedImportFailedError(fmt.Sprintf("unexpected status %d from feed", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBodySize))
	if err != nil {
		return nil, model.NewFeedImportFailedError(fmt.Sprintf("read failed: %s", err.Error()))
	}

	parsedFeed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, model.NewFeedImportFailedError(fmt.Sprintf("parse failed: %s", err.Error()))
	}
	return parsedFeed, nil
}

// entrySummary は記事の要約テキストを選ぶ。Descriptionを優先し、
// 空の場合はContentにフォールバックする。
func entrySummary(entry *gofeed.Item) string {
	if entry.Description != "" {
		return entry.Description
	}
	return entry.Content
}
