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
	defaultInstagramAuthURL  = "https://api.instagram.com/oauth/authorize"
	defaultInstagramTokenURL = "https://api.instagram.com/oauth/access_token"
	defaultInstagramAPIURL   = "https://graph.instagram.com"
)

// InstagramConfig はInstagramアダプターの設定。
type InstagramConfig struct {
	Credentials Credentials

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string
}

// InstagramAdapter はInstagramのOAuth連携を提供する。
// 投稿APIは未対応のため、Postは*UnsupportedErrorを返す。
type InstagramAdapter struct {
	config InstagramConfig
	client *http.Client
}

// NewInstagramAdapter はInstagramAdapterを生成する。
func NewInstagramAdapter(config InstagramConfig) *InstagramAdapter {
	if config.AuthURL == "" {
		config.AuthURL = defaultInstagramAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultInstagramTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultInstagramAPIURL
	}
	return &InstagramAdapter{config: config, client: http.DefaultClient}
}

// Name はプラットフォーム識別子を返す。
func (a *InstagramAdapter) Name() string { return "instagram" }

// AuthorizeURL はInstagramのOAuth認可URLを生成する。
func (a *InstagramAdapter) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{
		"client_id":     {a.config.Credentials.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {"user_profile,user_media"},
		"state":         {state},
	}
	return a.config.AuthURL + "?" + params.Encode()
}

// instagramTokenResponse はトークンエンドポイントのレスポンス。
type instagramTokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
	ExpiresIn   int    `json:"expires_in"`
}

// ExchangeCode は認可コードをトークンに交換する。
func (a *InstagramAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"client_id":     {a.config.Credentials.ClientID},
		"client_secret": {a.config.Credentials.ClientSecret},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var tokenResp instagramTokenResponse
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

// Refresh は未対応。Instagramの短命トークンは再接続で更新する。
func (a *InstagramAdapter) Refresh(ctx context.Context, tokens *TokenSet) (*TokenSet, error) {
	return nil, fmt.Errorf("instagram token refresh not supported")
}

// instagramProfile は/meエンドポイントのレスポンス。
type instagramProfile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// FetchProfile はアクセストークンでアカウント情報を取得する。
func (a *InstagramAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.APIURL+"/me?fields=id,username", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var profile instagramProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("empty id in profile response")
	}

	return &Profile{UserID: profile.ID, Username: profile.Username}, nil
}

// Post は未対応。
func (a *InstagramAdapter) Post(ctx context.Context, accessToken string, content PostContent) (*PostResult, error) {
	return nil, &UnsupportedError{Platform: a.Name()}
}

// doJSON はリクエストを実行し、2xx以外を*UpstreamErrorとして返す。
func (a *InstagramAdapter) doJSON(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instagram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read instagram response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Platform: "instagram", StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// compile-time interface check
var _ Adapter = (*InstagramAdapter)(nil)
