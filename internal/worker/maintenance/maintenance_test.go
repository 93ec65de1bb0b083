package maintenance

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/timelinealchemy/publisher/internal/logger"
	"github.com/timelinealchemy/publisher/internal/model"
	"github.com/timelinealchemy/publisher/internal/repository"
)

// mockConnectionRepo はConnectionRepositoryのモック。
type mockConnectionRepo struct {
	deactivateExpiredBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *mockConnectionRepo) FindActive(ctx context.Context, userID, platform string) (*model.SocialConnection, error) {
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

func (m *mockConnectionRepo) TouchLastUsed(ctx context.Context, id string) error { return nil }

func (m *mockConnectionRepo) Deactivate(ctx context.Context, userID, platform string) error {
	return nil
}

func (m *mockConnectionRepo) DeactivateExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.deactivateExpiredBeforeFunc != nil {
		return m.deactivateExpiredBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

var _ repository.ConnectionRepository = (*mockConnectionRepo)(nil)

func TestRun_PassesRetentionCutoff(t *testing.T) {
	var gotCutoff time.Time
	connections := &mockConnectionRepo{deactivateExpiredBeforeFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
		gotCutoff = cutoff
		return 3, nil
	}}

	var buf bytes.Buffer
	j := NewJob(connections, logger.Setup(&buf))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	want := now.Add(-30 * 24 * time.Hour)
	if !gotCutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", gotCutoff, want)
	}
}

func TestRun_NoExpiredConnections_Succeeds(t *testing.T) {
	var buf bytes.Buffer
	j := NewJob(&mockConnectionRepo{}, logger.Setup(&buf))

	if err := j.Run(context.Background()); err != nil {
		t.Errorf("Run returned error: %v", err)
	}
}

func TestRun_RepositoryFailure_ReturnsError(t *testing.T) {
	connections := &mockConnectionRepo{deactivateExpiredBeforeFunc: func(ctx context.Context, cutoff time.Time) (int64, error) {
		return 0, errors.New("connection refused")
	}}

	var buf bytes.Buffer
	j := NewJob(connections, logger.Setup(&buf))

	if err := j.Run(context.Background()); err == nil {
		t.Fatal("expected error when repository fails")
	}
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	var buf bytes.Buffer
	j := NewJob(&mockConnectionRepo{}, logger.Setup(&buf))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		j.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop after context cancellation")
	}
}
