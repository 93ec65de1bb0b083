package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultFacebookAuthURL  = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultFacebookGraphURL = "https://graph.facebook.com/v19.0"
)

// FacebookConfig はFacebookアダプターの設定。
type FacebookConfig struct {
	Credentials Credentials

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	GraphURL string
}

// FacebookAdapter はFacebook Graph APIによるページ投稿を提供する。
type FacebookAdapter struct {
	config FacebookConfig
	client *http.Client
}

// NewFacebookAdapter はFacebookAdapterを生成する。
func NewFacebookAdapter(config FacebookConfig) *FacebookAdapter {
	if config.AuthURL == "" {
		config.AuthURL = defaultFacebookAuthURL
	}
	if config.GraphURL == "" {
		config.GraphURL = defaultFacebookGraphURL
	}
	return &FacebookAdapter{config: config, client: http.DefaultClient}
}

// Name はプラットフォーム識別子を返す。
func (a *FacebookAdapter) Name() string { return "facebook" }

// AuthorizeURL はFacebookのOAuth認可URLを生成する。
// スコープにはページ投稿と反応取得の権限を含む。
func (a *FacebookAdapter) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{
		"client_id":     {a.config.Credentials.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {"pages_manage_posts,pages_read_engagement,publish_to_groups"},
		"state":         {state},
	}
	return a.config.AuthURL + "?" + params.Encode()
}

// facebookTokenResponse はトークンエンドポイントのレスポンス。
type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (a *FacebookAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {a.config.Credentials.ClientID},
		"client_secret": {a.config.Credentials.ClientSecret},
		"redirect_uri":  {redirectURI},
	}
	return a.requestToken(ctx, data)
}

// Refresh は短命トークンを長命トークンに交換する。
// Facebookにはリフレッシュトークンが無く、fb_exchange_tokenグラントで
// 現在のアクセストークンを延長する。
func (a *FacebookAdapter) Refresh(ctx context.Context, tokens *TokenSet) (*TokenSet, error) {
	data := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {a.config.Credentials.ClientID},
		"client_secret":     {a.config.Credentials.ClientSecret},
		"fb_exchange_token": {tokens.AccessToken},
	}
	return a.requestToken(ctx, data)
}

// requestToken はトークンエンドポイントを呼び出す。
func (a *FacebookAdapter) requestToken(ctx context.Context, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.GraphURL+"/oauth/access_token", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var tokenResp facebookTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	tokens := &TokenSet{AccessToken: tokenResp.AccessToken}
	if tokenResp.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	}
	return tokens, nil
}

// facebookProfile は/meエンドポイントのレスポンス。
type facebookProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FetchProfile はアクセストークンでアカウント情報を取得する。
func (a *FacebookAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.GraphURL+"/me?fields=id,name", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var profile facebookProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("empty id in profile response")
	}

	return &Profile{UserID: profile.ID, Username: profile.Name}, nil
}

// facebookPostResponse はフィード投稿エンドポイントのレスポンス。
type facebookPostResponse struct {
	ID string `json:"id"`
}

// Post はフィードにコンテンツを投稿する。
func (a *FacebookAdapter) Post(ctx context.Context, accessToken string, content PostContent) (*PostResult, error) {
	data := url.Values{
		"message":      {content.Message},
		"access_token": {accessToken},
	}
	if content.Link != "" {
		data.Set("link", content.Link)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.GraphURL+"/me/feed", strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var postResp facebookPostResponse
	if err := json.Unmarshal(body, &postResp); err != nil {
		return nil, fmt.Errorf("failed to parse post response: %w", err)
	}
	if postResp.ID == "" {
		return nil, fmt.Errorf("empty post id in response")
	}

	return &PostResult{
		PostID: postResp.ID,
		URL:    "https://www.facebook.com/" + postResp.ID,
	}, nil
}

// facebookEngagement は投稿の反応集計レスポンス。
type facebookEngagement struct {
	Likes struct {
		Summary struct {
			TotalCount int `json:"total_count"`
		} `json:"summary"`
	} `json:"likes"`
	Comments struct {
		Summary struct {
			TotalCount int `json:"total_count"`
		} `json:"summary"`
	} `json:"comments"`
	Shares struct {
		Count int `json:"count"`
	} `json:"shares"`
}

// FetchEngagement は投稿の反応統計を取得する。
func (a *FacebookAdapter) FetchEngagement(ctx context.Context, accessToken, postID string) (*EngagementStats, error) {
	endpoint := fmt.Sprintf("%s/%s?fields=likes.summary(true),comments.summary(true),shares", a.config.GraphURL, url.PathEscape(postID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create engagement request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var eng facebookEngagement
	if err := json.Unmarshal(body, &eng); err != nil {
		return nil, fmt.Errorf("failed to parse engagement response: %w", err)
	}

	return &EngagementStats{
		Likes:    eng.Likes.Summary.TotalCount,
		Comments: eng.Comments.Summary.TotalCount,
		Shares:   eng.Shares.Count,
	}, nil
}

// doJSON はリクエストを実行し、2xx以外を*UpstreamErrorとして返す。
func (a *FacebookAdapter) doJSON(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("facebook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read facebook response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Platform: "facebook", StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// compile-time interface check
var (
	_ Adapter          = (*FacebookAdapter)(nil)
	_ EngagementSource = (*FacebookAdapter)(nil)
)
