package platform

import (
	"bytes"
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
	defaultTwitterAuthURL  = "https://twitter.com/i/oauth2/authorize"
	defaultTwitterTokenURL = "https://api.twitter.com/2/oauth2/token"
	defaultTwitterAPIURL   = "https://api.twitter.com/2"
)

// TwitterConfig はTwitterアダプターの設定。
type TwitterConfig struct {
	Credentials Credentials

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string
}

// TwitterAdapter はTwitter API v2によるツイート投稿を提供する。
type TwitterAdapter struct {
	config TwitterConfig
	client *http.Client
}

// NewTwitterAdapter はTwitterAdapterを生成する。
func NewTwitterAdapter(config TwitterConfig) *TwitterAdapter {
	if config.AuthURL == "" {
		config.AuthURL = defaultTwitterAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTwitterTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultTwitterAPIURL
	}
	return &TwitterAdapter{config: config, client: http.DefaultClient}
}

// Name はプラットフォーム識別子を返す。
func (a *TwitterAdapter) Name() string { return "twitter" }

// AuthorizeURL はTwitterのOAuth 2.0認可URLを生成する。
// offline.accessスコープによりリフレッシュトークンが発行される。
func (a *TwitterAdapter) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{
		"client_id":             {a.config.Credentials.ClientID},
		"redirect_uri":          {redirectURI},
		"response_type":         {"code"},
		"scope":                 {"tweet.read tweet.write users.read offline.access"},
		"state":                 {state},
		"code_challenge":        {"challenge"},
		"code_challenge_method": {"plain"},
	}
	return a.config.AuthURL + "?" + params.Encode()
}

// twitterTokenResponse はトークンエンドポイントのレスポンス。
type twitterTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangeCode は認可コードをトークンに交換する。
func (a *TwitterAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"redirect_uri":  {redirectURI},
		"code_verifier": {"challenge"},
	}
	return a.requestToken(ctx, data)
}

// Refresh はリフレッシュトークンでトークンをローテーションする。
func (a *TwitterAdapter) Refresh(ctx context.Context, tokens *TokenSet) (*TokenSet, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
	}
	return a.requestToken(ctx, data)
}

// requestToken はトークンエンドポイントを呼び出す。
// クライアント認証はBasic認証で行う。
func (a *TwitterAdapter) requestToken(ctx context.Context, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.config.Credentials.ClientID, a.config.Credentials.ClientSecret)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var tokenResp twitterTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	tokens := &TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
	}
	if tokenResp.ExpiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	}
	return tokens, nil
}

// twitterProfile は/2/users/meエンドポイントのレスポンス。
type twitterProfile struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// FetchProfile はアクセストークンでアカウント情報を取得する。
func (a *TwitterAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.APIURL+"/users/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var profile twitterProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if profile.Data.ID == "" {
		return nil, fmt.Errorf("empty id in profile response")
	}

	return &Profile{UserID: profile.Data.ID, Username: profile.Data.Username}, nil
}

// twitterPostResponse はツイート作成エンドポイントのレスポンス。
type twitterPostResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// Post はツイートを投稿する。リンクは本文に連結する。
func (a *TwitterAdapter) Post(ctx context.Context, accessToken string, content PostContent) (*PostResult, error) {
	text := content.Message
	if content.Link != "" {
		text = text + " " + content.Link
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize tweet payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.APIURL+"/tweets", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var postResp twitterPostResponse
	if err := json.Unmarshal(body, &postResp); err != nil {
		return nil, fmt.Errorf("failed to parse post response: %w", err)
	}
	if postResp.Data.ID == "" {
		return nil, fmt.Errorf("empty tweet id in response")
	}

	return &PostResult{
		PostID: postResp.Data.ID,
		URL:    "https://twitter.com/i/web/status/" + postResp.Data.ID,
	}, nil
}

// twitterEngagement はツイート統計取得のレスポンス。
type twitterEngagement struct {
	Data struct {
		PublicMetrics struct {
			LikeCount    int `json:"like_count"`
			ReplyCount   int `json:"reply_count"`
			RetweetCount int `json:"retweet_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}

// FetchEngagement はツイートの反応統計を取得する。
func (a *TwitterAdapter) FetchEngagement(ctx context.Context, accessToken, postID string) (*EngagementStats, error) {
	endpoint := fmt.Sprintf("%s/tweets/%s?tweet.fields=public_metrics", a.config.APIURL, url.PathEscape(postID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create engagement request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var eng twitterEngagement
	if err := json.Unmarshal(body, &eng); err != nil {
		return nil, fmt.Errorf("failed to parse engagement response: %w", err)
	}

	return &EngagementStats{
		Likes:    eng.Data.PublicMetrics.LikeCount,
		Comments: eng.Data.PublicMetrics.ReplyCount,
		Shares:   eng.Data.PublicMetrics.RetweetCount,
	}, nil
}

// doJSON はリクエストを実行し、2xx以外を*UpstreamErrorとして返す。
func (a *TwitterAdapter) doJSON(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitter request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read twitter response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Platform: "twitter", StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// compile-time interface check
var (
	_ Adapter          = (*TwitterAdapter)(nil)
	_ EngagementSource = (*TwitterAdapter)(nil)
)
