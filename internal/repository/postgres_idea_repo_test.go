package repository

import (
	"testing"
	"time"

	"github.com/timelinealchemy/publisher/internal/model"
)

// PostgresIdeaRepoはIdeaRepositoryインターフェースを満たすことを検証
func TestPostgresIdeaRepo_ImplementsInterface(t *testing.T) {
	var _ IdeaRepository = (*PostgresIdeaRepo)(nil)
}

// NewPostgresIdeaRepoが正しく初期化されることを検証
func TestNewPostgresIdeaRepo_Initializes(t *testing.T) {
	repo := NewPostgresIdeaRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// Ideaモデルのフィールドが正しく構築されることを検証
func TestPostgresIdeaRepo_IdeaModel_Fields(t *testing.T) {
	now := time.Now()
	idea := &model.Idea{
		ID:          "idea-id-1",
		Title:       "新生活応援キャンペーン",
		Description: "4月の新規顧客向けの告知案",
		Status:      model.IdeaStatusDraft,
		CreatedBy:   "user-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if idea.ID != "idea-id-1" {
		t.Errorf("idea.ID = %q, want %q", idea.ID, "idea-id-1")
	}
	if idea.Status != model.IdeaStatusDraft {
		t.Errorf("idea.Status = %q, want %q", idea.Status, model.IdeaStatusDraft)
	}
}

// Ideaの出典メタデータがnil許容であることを検証
// 手動作成のアイデアには出典が付かない
func TestPostgresIdeaRepo_IdeaModel_NilSource(t *testing.T) {
	idea := &model.Idea{
		ID:    "idea-id-2",
		Title: "手動作成のアイデア",
	}

	if idea.Metadata.Source != nil {
		t.Error("metadata.source should be nil by default")
	}
}
