// Package platform は各ソーシャルプラットフォームへの投稿とOAuth連携を提供する。
package platform

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Credentials はプラットフォームのOAuthアプリ資格情報。
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// TokenSet はプラットフォームから取得したトークン一式。
// ExpiresAtがnilのトークンは無期限として扱う。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Profile はプラットフォーム上のアカウント情報。
type Profile struct {
	UserID   string
	Username string
}

// PostContent は投稿するコンテンツ。
type PostContent struct {
	Message string
	Link    string
}

// PostResult は投稿成功時の結果。
type PostResult struct {
	PostID string
	URL    string
}

// EngagementStats は投稿に対する反応の集計値。
type EngagementStats struct {
	Likes    int
	Comments int
	Shares   int
}

// Adapter は1つのソーシャルプラットフォームとの連携を抽象化する。
type Adapter interface {
	// Name はプラットフォーム識別子（例: "facebook"）を返す。
	Name() string

	// AuthorizeURL はOAuth認可画面のURLを生成する。
	AuthorizeURL(state, redirectURI string) string

	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error)

	// FetchProfile はアクセストークンでアカウント情報を取得する。
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)

	// Refresh は期限切れ間近のトークンをローテーションする。
	// ローテーション非対応のプラットフォームはエラーを返す。
	Refresh(ctx context.Context, tokens *TokenSet) (*TokenSet, error)

	// Post はコンテンツを投稿する。
	// 投稿未対応のプラットフォームは*UnsupportedErrorを返す。
	Post(ctx context.Context, accessToken string, content PostContent) (*PostResult, error)
}

// EngagementSource は投稿の反応統計を取得できるプラットフォームが実装する。
type EngagementSource interface {
	FetchEngagement(ctx context.Context, accessToken, postID string) (*EngagementStats, error)
}

// UnsupportedError は投稿機能が未対応のプラットフォームへの投稿要求を表す。
type UnsupportedError struct {
	Platform string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s posting not yet implemented", e.Platform)
}

// UpstreamError はプラットフォームAPIからのエラー応答を表す。
type UpstreamError struct {
	Platform   string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Platform, e.StatusCode, e.Body)
}

// Registry はプラットフォーム名からAdapterを引くレジストリ。
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry はRegistryを生成する。
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get は指定プラットフォームのAdapterを返す。
func (r *Registry) Get(platform string) (Adapter, bool) {
	a, ok := r.adapters[platform]
	return a, ok
}

// Names は登録済みプラットフォーム名をソート済みで返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
