package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timelinealchemy/publisher/internal/logger"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/repository"
	"github.com/timelinealchemy/publisher/internal/security"
)

// mockIdeaRepo はIdeaRepositoryのモック。
type mockIdeaRepo struct {
	findByIDFunc     func(ctx context.Context, id string) (*model.Idea, error)
	createFunc       func(ctx context.Context, idea *model.Idea) error
	updateStatusFunc func(ctx context.Context, id string, status model.IdeaStatus) error
}

func (m *mockIdeaRepo) FindByID(ctx context.Context, id string) (*model.Idea, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockIdeaRepo) Create(ctx context.Context, idea *model.Idea) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, idea)
	}
	return nil
}

func (m *mockIdeaRepo) UpdateStatus(ctx context.Context, id string, status model.IdeaStatus) error {
	if m.updateStatusFunc != nil {
		return m.updateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *mockIdeaRepo) ExistsBySourceURL(ctx context.Context, sourceURL string) (bool, error) {
	return false, nil
}

func (m *mockIdeaRepo) ListByStatus(ctx context.Context, status model.IdeaStatus, limit int) ([]*model.Idea, error) {
	return nil, nil
}

var _ repository.IdeaRepository = (*mockIdeaRepo)(nil)

// mockPreviewRepo はPreviewRepositoryのモック。
type mockPreviewRepo struct {
	findByIDFunc       func(ctx context.Context, id string) (*model.Preview, error)
	createFunc         func(ctx context.Context, preview *model.Preview) error
	updateReviewFunc   func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error
	updateScheduleFunc func(ctx context.Context, id string, scheduledAt time.Time) error
}

func (m *mockPreviewRepo) FindByID(ctx context.Context, id string) (*model.Preview, error) {
	if m.findByIDFunc != nil {
		return m.findByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockPreviewRepo) Create(ctx context.Context, preview *model.Preview) error {
	if m.createFunc != nil {
		return m.createFunc(ctx, preview)
	}
	return nil
}

func (m *mockPreviewRepo) UpdateReview(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error {
	if m.updateReviewFunc != nil {
		return m.updateReviewFunc(ctx, id, status, metadata)
	}
	return nil
}

func (m *mockPreviewRepo) UpdateSchedule(ctx context.Context, id string, scheduledAt time.Time) error {
	if m.updateScheduleFunc != nil {
		return m.updateScheduleFunc(ctx, id, scheduledAt)
	}
	return nil
}

func (m *mockPreviewRepo) ClaimDueForPublish(ctx context.Context, limit int) ([]*model.Preview, error) {
	return nil, nil
}

func (m *mockPreviewRepo) UpdatePublishOutcome(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) (bool, error) {
	return true, nil
}

var _ repository.PreviewRepository = (*mockPreviewRepo)(nil)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(ideas *mockIdeaRepo, previews *mockPreviewRepo) *Service {
	var buf bytes.Buffer
	s := NewService(ideas, previews, security.NewContentSanitizer(), security.NewSSRFGuard(), logger.Setup(&buf))
	s.now = func() time.Time { return testNow }
	return s
}

func approvedIdea(id string) *model.Idea {
	return &model.Idea{ID: id, Title: "Spring campaign", Status: model.IdeaStatusApproved}
}

func validPreviewInput() CreatePreviewInput {
	return CreatePreviewInput{
		IdeaID:   "idea-1",
		ClientID: "client-1",
		Channels: []string{"facebook", "twitter"},
		DraftContent: model.DraftContent{
			"facebook": {Body: "Facebook announcement", Link: "https://example.com/post"},
			"twitter":  {Body: "Twitter announcement"},
		},
		CreatedBy: "user-1",
	}
}

func TestCreateIdea_SanitizesAndPersists(t *testing.T) {
	var saved *model.Idea
	ideas := &mockIdeaRepo{createFunc: func(ctx context.Context, idea *model.Idea) error {
		saved = idea
		return nil
	}}
	s := newTestService(ideas, &mockPreviewRepo{})

	idea, err := s.CreateIdea(context.Background(), CreateIdeaInput{
		Title:       "<script>alert('x')</script>New product launch",
		Description: "<p>Details</p><iframe src='https://evil.com'></iframe>",
		CreatedBy:   "user-1",
	})
	if err != nil {
		t.Fatalf("CreateIdea returned error: %v", err)
	}

	if saved == nil {
		t.Fatal("expected idea to be persisted")
	}
	if saved.Title != "New product launch" {
		t.Errorf("Title = %q, want sanitized %q", saved.Title, "New product launch")
	}
	if saved.Status != model.IdeaStatusDraft {
		t.Errorf("Status = %q, want %q", saved.Status, model.IdeaStatusDraft)
	}
	if idea.ID == "" {
		t.Error("expected generated idea ID")
	}
}

func TestCreateIdea_EmptyTitle_ReturnsError(t *testing.T) {
	s := newTestService(&mockIdeaRepo{}, &mockPreviewRepo{})

	_, err := s.CreateIdea(context.Background(), CreateIdeaInput{Title: "<script>only markup</script>", CreatedBy: "user-1"})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidDraftContent {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidDraftContent)
	}
}

func TestReviewIdea_Approve(t *testing.T) {
	var updatedStatus model.IdeaStatus
	ideas := &mockIdeaRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
			return &model.Idea{ID: id, Title: "Idea", Status: model.IdeaStatusDraft}, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, status model.IdeaStatus) error {
			updatedStatus = status
			return nil
		},
	}
	s := newTestService(ideas, &mockPreviewRepo{})

	idea, err := s.ReviewIdea(context.Background(), "idea-1", "approved")
	if err != nil {
		t.Fatalf("ReviewIdea returned error: %v", err)
	}
	if updatedStatus != model.IdeaStatusApproved {
		t.Errorf("persisted status = %q, want %q", updatedStatus, model.IdeaStatusApproved)
	}
	if idea.Status != model.IdeaStatusApproved {
		t.Errorf("returned status = %q, want %q", idea.Status, model.IdeaStatusApproved)
	}
}

func TestReviewIdea_InvalidDecision_ReturnsError(t *testing.T) {
	s := newTestService(&mockIdeaRepo{}, &mockPreviewRepo{})

	_, err := s.ReviewIdea(context.Background(), "idea-1", "maybe")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidDecision {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidDecision)
	}
}

func TestCreatePreview_Success(t *testing.T) {
	ideas := &mockIdeaRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
		return approvedIdea(id), nil
	}}

	var saved *model.Preview
	previews := &mockPreviewRepo{createFunc: func(ctx context.Context, preview *model.Preview) error {
		saved = preview
		return nil
	}}
	s := newTestService(ideas, previews)

	preview, err := s.CreatePreview(context.Background(), validPreviewInput())
	if err != nil {
		t.Fatalf("CreatePreview returned error: %v", err)
	}

	if saved == nil {
		t.Fatal("expected preview to be persisted")
	}
	if saved.Status != model.PreviewStatusPending {
		t.Errorf("Status = %q, want %q", saved.Status, model.PreviewStatusPending)
	}
	if saved.ScheduledAt != nil {
		t.Error("ScheduledAt should default to nil")
	}
	if len(preview.Channels) != 2 {
		t.Errorf("got %d channels, want 2", len(preview.Channels))
	}
	if preview.DraftContent["facebook"].Link != "https://example.com/post" {
		t.Errorf("facebook link = %q, want preserved", preview.DraftContent["facebook"].Link)
	}
}

func TestCreatePreview_IdeaNotApproved_ReturnsError(t *testing.T) {
	ideas := &mockIdeaRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
		return &model.Idea{ID: id, Title: "Draft idea", Status: model.IdeaStatusDraft}, nil
	}}
	s := newTestService(ideas, &mockPreviewRepo{})

	_, err := s.CreatePreview(context.Background(), validPreviewInput())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeIdeaNotApproved {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeIdeaNotApproved)
	}
}

func TestCreatePreview_UnknownChannel_ReturnsError(t *testing.T) {
	ideas := &mockIdeaRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
		return approvedIdea(id), nil
	}}
	s := newTestService(ideas, &mockPreviewRepo{})

	input := validPreviewInput()
	input.Channels = []string{"facebook", "myspace"}

	_, err := s.CreatePreview(context.Background(), input)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeUnknownPlatform {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeUnknownPlatform)
	}
}

func TestCreatePreview_MissingChannelDraft_ReturnsError(t *testing.T) {
	ideas := &mockIdeaRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
		return approvedIdea(id), nil
	}}
	s := newTestService(ideas, &mockPreviewRepo{})

	input := validPreviewInput()
	delete(input.DraftContent, "twitter")

	_, err := s.CreatePreview(context.Background(), input)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidDraftContent {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidDraftContent)
	}
}

func TestCreatePreview_UnsafeLink_ReturnsError(t *testing.T) {
	ideas := &mockIdeaRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
		return approvedIdea(id), nil
	}}
	s := newTestService(ideas, &mockPreviewRepo{})

	input := validPreviewInput()
	input.DraftContent["facebook"] = model.ChannelDraft{Body: "Internal scan", Link: "http://169.254.169.254/latest/meta-data"}

	_, err := s.CreatePreview(context.Background(), input)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeUnsafeLink {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeUnsafeLink)
	}
}

func TestCreatePreview_PastSchedule_ReturnsError(t *testing.T) {
	ideas := &mockIdeaRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Idea, error) {
		return approvedIdea(id), nil
	}}
	s := newTestService(ideas, &mockPreviewRepo{})

	input := validPreviewInput()
	past := testNow.Add(-time.Hour)
	input.ScheduledAt = &past

	_, err := s.CreatePreview(context.Background(), input)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidSchedule {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidSchedule)
	}
}

func TestReview_PendingToApproved_RecordsMetadata(t *testing.T) {
	var savedStatus model.PreviewStatus
	var savedMetadata model.PreviewMetadata
	previews := &mockPreviewRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Preview, error) {
			return &model.Preview{ID: id, Status: model.PreviewStatusPending}, nil
		},
		updateReviewFunc: func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error {
			savedStatus = status
			savedMetadata = metadata
			return nil
		},
	}
	s := newTestService(&mockIdeaRepo{}, previews)

	preview, err := s.Review(context.Background(), "preview-1", "approved", "looks good")
	if err != nil {
		t.Fatalf("Review returned error: %v", err)
	}

	if savedStatus != model.PreviewStatusApproved {
		t.Errorf("persisted status = %q, want %q", savedStatus, model.PreviewStatusApproved)
	}
	if savedMetadata.Approval == nil {
		t.Fatal("expected approval metadata to be recorded")
	}
	if savedMetadata.Approval.Decision != "approved" {
		t.Errorf("Decision = %q, want %q", savedMetadata.Approval.Decision, "approved")
	}
	if savedMetadata.Approval.Feedback != "looks good" {
		t.Errorf("Feedback = %q, want %q", savedMetadata.Approval.Feedback, "looks good")
	}
	if !savedMetadata.Approval.ReviewedAt.Equal(testNow) {
		t.Errorf("ReviewedAt = %v, want %v", savedMetadata.Approval.ReviewedAt, testNow)
	}
	if preview.Status != model.PreviewStatusApproved {
		t.Errorf("returned status = %q, want %q", preview.Status, model.PreviewStatusApproved)
	}
}

func TestReview_SameDecisionTwice_IsIdempotent(t *testing.T) {
	updateCalled := false
	previews := &mockPreviewRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Preview, error) {
			return &model.Preview{ID: id, Status: model.PreviewStatusApproved}, nil
		},
		updateReviewFunc: func(ctx context.Context, id string, status model.PreviewStatus, metadata model.PreviewMetadata) error {
			updateCalled = true
			return nil
		},
	}
	s := newTestService(&mockIdeaRepo{}, previews)

	preview, err := s.Review(context.Background(), "preview-1", "approved", "")
	if err != nil {
		t.Fatalf("Review returned error: %v", err)
	}
	if updateCalled {
		t.Error("repeated identical decision should not rewrite the preview")
	}
	if preview.Status != model.PreviewStatusApproved {
		t.Errorf("Status = %q, want %q", preview.Status, model.PreviewStatusApproved)
	}
}

func TestReview_PublishedPreview_ReturnsInvalidTransition(t *testing.T) {
	previews := &mockPreviewRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Preview, error) {
		return &model.Preview{ID: id, Status: model.PreviewStatusPublished}, nil
	}}
	s := newTestService(&mockIdeaRepo{}, previews)

	_, err := s.Review(context.Background(), "preview-1", "rejected", "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidTransition {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidTransition)
	}
}

func TestSchedule_ApprovedPreview_SetsFutureTime(t *testing.T) {
	var savedAt time.Time
	previews := &mockPreviewRepo{
		findByIDFunc: func(ctx context.Context, id string) (*model.Preview, error) {
			return &model.Preview{ID: id, Status: model.PreviewStatusApproved}, nil
		},
		updateScheduleFunc: func(ctx context.Context, id string, scheduledAt time.Time) error {
			savedAt = scheduledAt
			return nil
		},
	}
	s := newTestService(&mockIdeaRepo{}, previews)

	future := testNow.Add(2 * time.Hour)
	preview, err := s.Schedule(context.Background(), "preview-1", future)
	if err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	if !savedAt.Equal(future) {
		t.Errorf("persisted scheduled_at = %v, want %v", savedAt, future)
	}
	if preview.ScheduledAt == nil || !preview.ScheduledAt.Equal(future) {
		t.Errorf("returned scheduled_at = %v, want %v", preview.ScheduledAt, future)
	}
}

func TestSchedule_PendingPreview_ReturnsInvalidTransition(t *testing.T) {
	previews := &mockPreviewRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Preview, error) {
		return &model.Preview{ID: id, Status: model.PreviewStatusPending}, nil
	}}
	s := newTestService(&mockIdeaRepo{}, previews)

	_, err := s.Schedule(context.Background(), "preview-1", testNow.Add(time.Hour))

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidTransition {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidTransition)
	}
}

func TestSchedule_PastTime_ReturnsInvalidSchedule(t *testing.T) {
	previews := &mockPreviewRepo{findByIDFunc: func(ctx context.Context, id string) (*model.Preview, error) {
		return &model.Preview{ID: id, Status: model.PreviewStatusApproved}, nil
	}}
	s := newTestService(&mockIdeaRepo{}, previews)

	_, err := s.Schedule(context.Background(), "preview-1", testNow.Add(-time.Minute))

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodeInvalidSchedule {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodeInvalidSchedule)
	}
}

func TestGetPreview_NotFound_ReturnsError(t *testing.T) {
	s := newTestService(&mockIdeaRepo{}, &mockPreviewRepo{})

	_, err := s.GetPreview(context.Background(), "missing")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	if apiErr.Code != model.ErrCodePreviewNotFound {
		t.Errorf("Code = %q, want %q", apiErr.Code, model.ErrCodePreviewNotFound)
	}
}
