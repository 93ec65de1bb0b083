package publish

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timelinealchemy/publisher/internal/events"
	"github.com/timelinealchemy/publisher/internal/logger"
	"github.com/timelinealchemy/publisher/internal/metrics"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/platform"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// mockPreviewRepo はPreviewRepositoryのモック。
type mockPreviewRepo struct {
	updatePublishOutcomeFunc func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error)
}

func (m *mockPreviewRepo) FindByID(ctx context.Context, id string) (*model.Preview, error) {
	return nil, nil
}

func (m *mockPreviewRepo) Create(ctx context.Context, preview *model.Preview) error { return nil }

func (m *mockPreviewRepo) UpdateReview(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error {
	return nil
}

func (m *mockPreviewRepo) UpdateSchedule(ctx context.Context, id string, scheduledAt time.Time) error {
	return nil
}

func (m *mockPreviewRepo) ClaimDueForPublish(ctx context.Context, limit int) ([]*model.Preview, error) {
	return nil, nil
}

func (m *mockPreviewRepo) UpdatePublishOutcome(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
	if m.updatePublishOutcomeFunc != nil {
		return m.updatePublishOutcomeFunc(ctx, id, status, metadata)
	}
	return true, nil
}

var _ repository.PreviewRepository = (*mockPreviewRepo)(nil)

// mockPublishRepo はPublishRepositoryのモック。作成されたレコードを蓄積する。
type mockPublishRepo struct {
	mu      sync.Mutex
	created []*model.Publish
}

func (m *mockPublishRepo) Create(ctx context.Context, publish *model.Publish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, publish)
	return nil
}

func (m *mockPublishRepo) ListByPreview(ctx context.Context, previewID string) ([]*model.Publish, error) {
	return nil, nil
}

func (m *mockPublishRepo) ListRecentlyPosted(ctx context.Context, since time.Time, limit int) ([]*model.Publish, error) {
	return nil, nil
}

var _ repository.PublishRepository = (*mockPublishRepo)(nil)

// mockConnectionRepo はConnectionRepositoryのモック。
type mockConnectionRepo struct {
	findActiveFunc    func(ctx context.Context, userID, platform string) (*model.SocialConnection, error)
	touchedConnection string
}

func (m *mockConnectionRepo) FindActive(ctx context.Context, userID, platformName string) (*model.SocialConnection, error) {
	if m.findActiveFunc != nil {
		return m.findActiveFunc(ctx, userID, platformName)
	}
	return nil, nil
}

func (m *mockConnectionRepo) ListByUser(ctx context.Context, userID string) ([]*model.SocialConnection, error) {
	return nil, nil
}

func (m *mockConnectionRepo) Upsert(ctx context.Context, conn *model.SocialConnection) error {
	return nil
}

func (m *mockConnectionRepo) UpdateTokens(ctx context.Context, id string, prevExpiresAt *time.Time, accessToken, refreshToken string, expiresAt *time.Time) (bool, error) {
	return true, nil
}

func (m *mockConnectionRepo) TouchLastUsed(ctx context.Context, id string) error {
	m.touchedConnection = id
	return nil
}

func (m *mockConnectionRepo) Deactivate(ctx context.Context, userID, platformName string) error {
	return nil
}

func (m *mockConnectionRepo) DeactivateExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

var _ repository.ConnectionRepository = (*mockConnectionRepo)(nil)

// mockRefresher はTokenRefresherのモック。
type mockRefresher struct {
	ensureFreshFunc func(ctx context.Context, conn *model.SocialConnection) (*model.SocialConnection, error)
}

func (m *mockRefresher) EnsureFresh(ctx context.Context, conn *model.SocialConnection) (*model.SocialConnection, error) {
	if m.ensureFreshFunc != nil {
		return m.ensureFreshFunc(ctx, conn)
	}
	return conn, nil
}

// mockAdapter はplatform.Adapterのモック。
type mockAdapter struct {
	name     string
	postFunc func(ctx context.Context, accessToken string, content platform.PostContent) (*platform.PostResult, error)
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) AuthorizeURL(state, redirectURI string) string { return "" }

func (m *mockAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*platform.TokenSet, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAdapter) FetchProfile(ctx context.Context, accessToken string) (*platform.Profile, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAdapter) Refresh(ctx context.Context, tokens *platform.TokenSet) (*platform.TokenSet, error) {
	return nil, errors.New("not implemented")
}

func (m *mockAdapter) Post(ctx context.Context, accessToken string, content platform.PostContent) (*platform.PostResult, error) {
	if m.postFunc != nil {
		return m.postFunc(ctx, accessToken, content)
	}
	return &platform.PostResult{PostID: "post-1"}, nil
}

var _ platform.Adapter = (*mockAdapter)(nil)

// mockEmitter は送出されたイベントを蓄積するEmitter。
type mockEmitter struct {
	emitted []events.PublishOutcome
	err     error
}

func (m *mockEmitter) Emit(ctx context.Context, outcome events.PublishOutcome) error {
	m.emitted = append(m.emitted, outcome)
	return m.err
}

func (m *mockEmitter) Close() error { return nil }

var _ events.Emitter = (*mockEmitter)(nil)

// mockCollector はメトリクス呼び出しを記録するMetricsCollector。
type mockCollector struct {
	publishSuccess map[string]int
	publishFail    map[string]int
	unsupported    map[string]int
	refreshFail    map[string]int
}

func newMockCollector() *mockCollector {
	return &mockCollector{
		publishSuccess: map[string]int{},
		publishFail:    map[string]int{},
		unsupported:    map[string]int{},
		refreshFail:    map[string]int{},
	}
}

func (m *mockCollector) RecordPublishSuccess(platformName string) { m.publishSuccess[platformName]++ }

func (m *mockCollector) RecordPublishFailure(platformName string, reason string) {
	m.publishFail[platformName]++
}

func (m *mockCollector) RecordUnsupportedAttempt(platformName string) {
	m.unsupported[platformName]++
}

func (m *mockCollector) RecordTokenRefreshSuccess(platformName string) {}

func (m *mockCollector) RecordTokenRefreshFailure(platformName string) {
	m.refreshFail[platformName]++
}

func (m *mockCollector) RecordIdeasImported(count int) {}

func (m *mockCollector) RecordRunDuration(duration time.Duration) {}

func (m *mockCollector) RecordPlatformLatency(platformName string, duration time.Duration) {}

func (m *mockCollector) SetDuePreviews(count int) {}

var _ metrics.MetricsCollector = (*mockCollector)(nil)

func activeConnection(userID, platformName string) *model.SocialConnection {
	return &model.SocialConnection{
		ID:          "conn-" + platformName,
		UserID:      userID,
		Platform:    platformName,
		AccessToken: "token-" + platformName,
		IsActive:    true,
	}
}

func approvedPreview(channels ...string) *model.Preview {
	draft := make(model.DraftContent, len(channels))
	for _, c := range channels {
		draft[c] = model.ChannelDraft{Body: "Announcement for " + c}
	}
	return &model.Preview{
		ID:           "preview-1",
		IdeaID:       "idea-1",
		ClientID:     "client-1",
		Channels:     channels,
		DraftContent: draft,
		Status:       model.PreviewStatusApproved,
		CreatedBy:    "user-1",
	}
}

type orchestratorFixture struct {
	previews    *mockPreviewRepo
	publishes   *mockPublishRepo
	connections *mockConnectionRepo
	refresher   *mockRefresher
	emitter     *mockEmitter
	collector   *mockCollector
}

func newOrchestrator(f *orchestratorFixture, adapters ...platform.Adapter) *Orchestrator {
	var buf bytes.Buffer
	o := NewOrchestrator(
		f.previews,
		f.publishes,
		f.connections,
		f.refresher,
		platform.NewRegistry(adapters...),
		f.emitter,
		f.collector,
		logger.Setup(&buf),
		5*time.Second,
	)
	o.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return o
}

func defaultFixture() *orchestratorFixture {
	return &orchestratorFixture{
		previews: &mockPreviewRepo{},
		publishes: &mockPublishRepo{},
		connections: &mockConnectionRepo{
			findActiveFunc: func(ctx context.Context, userID, platformName string) (*model.SocialConnection, error) {
				return activeConnection(userID, platformName), nil
			},
		},
		refresher: &mockRefresher{},
		emitter:   &mockEmitter{},
		collector: newMockCollector(),
	}
}

func TestPublishPreview_AllPlatformsSucceed_MarksPublished(t *testing.T) {
	f := defaultFixture()

	var outcomeStatus model.PreviewStatus
	var outcomeMetadata model.PreviewMetadata
	f.previews.updatePublishOutcomeFunc = func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
		outcomeStatus = status
		outcomeMetadata = metadata
		return true, nil
	}

	o := newOrchestrator(f,
		&mockAdapter{name: "facebook"},
		&mockAdapter{name: "twitter"},
	)

	outcome := o.PublishPreview(context.Background(), approvedPreview("facebook", "twitter"))

	if !outcome.Success {
		t.Error("expected overall success")
	}
	if outcomeStatus != model.PreviewStatusPublished {
		t.Errorf("preview status = %q, want %q", outcomeStatus, model.PreviewStatusPublished)
	}
	if outcomeMetadata.Publish == nil {
		t.Fatal("expected publish metadata")
	}
	if len(outcomeMetadata.Publish.Results) != 2 {
		t.Errorf("got %d platform results, want 2", len(outcomeMetadata.Publish.Results))
	}
	if len(f.publishes.created) != 2 {
		t.Fatalf("got %d publish records, want 2", len(f.publishes.created))
	}
	for _, record := range f.publishes.created {
		if record.Status != model.PublishStatusPosted {
			t.Errorf("publish record status = %q, want %q", record.Status, model.PublishStatusPosted)
		}
	}
	if f.connections.touchedConnection == "" {
		t.Error("expected last_used_at to be touched")
	}
	if len(f.emitter.emitted) != 1 {
		t.Fatalf("got %d emitted events, want 1", len(f.emitter.emitted))
	}
	if f.emitter.emitted[0].Status != "published" {
		t.Errorf("event status = %q, want %q", f.emitter.emitted[0].Status, "published")
	}
	if f.collector.publishSuccess["facebook"] != 1 || f.collector.publishSuccess["twitter"] != 1 {
		t.Errorf("publish success metrics = %v", f.collector.publishSuccess)
	}
}

func TestPublishPreview_MissingConnection_MarksFailed(t *testing.T) {
	f := defaultFixture()
	f.connections.findActiveFunc = func(ctx context.Context, userID, platformName string) (*model.SocialConnection, error) {
		return nil, nil
	}

	var outcomeStatus model.PreviewStatus
	f.previews.updatePublishOutcomeFunc = func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
		outcomeStatus = status
		return true, nil
	}

	o := newOrchestrator(f, &mockAdapter{name: "facebook"})

	outcome := o.PublishPreview(context.Background(), approvedPreview("facebook"))

	if outcome.Success {
		t.Error("expected overall failure")
	}
	if outcomeStatus != model.PreviewStatusFailed {
		t.Errorf("preview status = %q, want %q", outcomeStatus, model.PreviewStatusFailed)
	}
	if len(f.publishes.created) != 1 {
		t.Fatalf("got %d publish records, want 1", len(f.publishes.created))
	}
	record := f.publishes.created[0]
	if record.Status != model.PublishStatusFailed {
		t.Errorf("publish record status = %q, want %q", record.Status, model.PublishStatusFailed)
	}
	if record.Result.Error != "no active connection for facebook" {
		t.Errorf("recorded error = %q", record.Result.Error)
	}
}

func TestPublishPreview_RefreshFailure_ContinuesToNextChannel(t *testing.T) {
	f := defaultFixture()
	f.refresher.ensureFreshFunc = func(ctx context.Context, conn *model.SocialConnection) (*model.SocialConnection, error) {
		if conn.Platform == "facebook" {
			return nil, errors.New("refresh rejected by platform")
		}
		return conn, nil
	}

	o := newOrchestrator(f,
		&mockAdapter{name: "facebook"},
		&mockAdapter{name: "twitter"},
	)

	outcome := o.PublishPreview(context.Background(), approvedPreview("facebook", "twitter"))

	if outcome.Success {
		t.Error("expected overall failure")
	}
	if len(outcome.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(outcome.Results))
	}
	if outcome.Results[0].Success {
		t.Error("facebook attempt should have failed")
	}
	if !outcome.Results[1].Success {
		t.Error("twitter attempt should have succeeded despite earlier failure")
	}
	if f.collector.refreshFail["facebook"] != 1 {
		t.Errorf("refresh failure metrics = %v", f.collector.refreshFail)
	}
}

func TestPublishPreview_UnsupportedPlatform_RecordsFailure(t *testing.T) {
	f := defaultFixture()

	o := newOrchestrator(f, &mockAdapter{
		name: "linkedin",
		postFunc: func(ctx context.Context, accessToken string, content platform.PostContent) (*platform.PostResult, error) {
			return nil, &platform.UnsupportedError{Platform: "linkedin"}
		},
	})

	outcome := o.PublishPreview(context.Background(), approvedPreview("linkedin"))

	if outcome.Success {
		t.Error("expected overall failure")
	}
	if f.collector.unsupported["linkedin"] != 1 {
		t.Errorf("unsupported metrics = %v", f.collector.unsupported)
	}
	if len(f.publishes.created) != 1 {
		t.Fatalf("got %d publish records, want 1", len(f.publishes.created))
	}
	if f.publishes.created[0].Result.Error != "linkedin posting not yet implemented" {
		t.Errorf("recorded error = %q", f.publishes.created[0].Result.Error)
	}
}

func TestPublishPreview_PartialFailure_MarksFailedButKeepsPostedRecord(t *testing.T) {
	f := defaultFixture()

	var outcomeStatus model.PreviewStatus
	f.previews.updatePublishOutcomeFunc = func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
		outcomeStatus = status
		return true, nil
	}

	o := newOrchestrator(f,
		&mockAdapter{name: "facebook"},
		&mockAdapter{
			name: "twitter",
			postFunc: func(ctx context.Context, accessToken string, content platform.PostContent) (*platform.PostResult, error) {
				return nil, errors.New("twitter API error (status 500): upstream down")
			},
		},
	)

	outcome := o.PublishPreview(context.Background(), approvedPreview("facebook", "twitter"))

	if outcome.Success {
		t.Error("expected overall failure")
	}
	if outcomeStatus != model.PreviewStatusFailed {
		t.Errorf("preview status = %q, want %q", outcomeStatus, model.PreviewStatusFailed)
	}

	// 成功したfacebookの監査レコードはpostedのまま残る
	var postedCount, failedCount int
	for _, record := range f.publishes.created {
		switch record.Status {
		case model.PublishStatusPosted:
			postedCount++
		case model.PublishStatusFailed:
			failedCount++
		}
	}
	if postedCount != 1 || failedCount != 1 {
		t.Errorf("posted = %d, failed = %d, want 1 and 1", postedCount, failedCount)
	}
}

func TestPublishPreview_AlreadyTransitioned_DoesNotEmitEvent(t *testing.T) {
	f := defaultFixture()
	f.previews.updatePublishOutcomeFunc = func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
		return false, nil
	}

	o := newOrchestrator(f, &mockAdapter{name: "facebook"})

	outcome := o.PublishPreview(context.Background(), approvedPreview("facebook"))

	if !outcome.Success {
		t.Error("platform attempt should still be reported as successful")
	}
	// 保存されなかった遷移のイベントは送出しない
	if len(f.emitter.emitted) != 0 {
		t.Errorf("got %d emitted events, want 0", len(f.emitter.emitted))
	}
}

func TestPublishPreview_OutcomeWriteError_DoesNotEmitEvent(t *testing.T) {
	f := defaultFixture()
	f.previews.updatePublishOutcomeFunc = func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
		return false, errors.New("write conflict")
	}

	o := newOrchestrator(f, &mockAdapter{name: "facebook"})

	o.PublishPreview(context.Background(), approvedPreview("facebook"))

	if len(f.emitter.emitted) != 0 {
		t.Errorf("got %d emitted events, want 0", len(f.emitter.emitted))
	}
}

func TestPublishPreview_EmitterFailure_DoesNotAffectOutcome(t *testing.T) {
	f := defaultFixture()
	f.emitter.err = errors.New("broker unreachable")

	o := newOrchestrator(f, &mockAdapter{name: "facebook"})

	outcome := o.PublishPreview(context.Background(), approvedPreview("facebook"))

	if !outcome.Success {
		t.Error("emitter failure must not affect the publish outcome")
	}
}
