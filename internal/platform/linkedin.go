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
	defaultLinkedInAuthURL  = "https://www.linkedin.com/oauth/v2/authorization"
	defaultLinkedInTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
	defaultLinkedInAPIURL   = "https://api.linkedin.com/v2"
)

// LinkedInConfig はLinkedInアダプターの設定。
type LinkedInConfig struct {
	Credentials Credentials

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string
}

// LinkedInAdapter はLinkedInのOAuth連携を提供する。
// 投稿APIは未対応のため、Postは*UnsupportedErrorを返す。
type LinkedInAdapter struct {
	config LinkedInConfig
	client *http.Client
}

// NewLinkedInAdapter はLinkedInAdapterを生成する。
func NewLinkedInAdapter(config LinkedInConfig) *LinkedInAdapter {
	if config.AuthURL == "" {
		config.AuthURL = defaultLinkedInAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLinkedInTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultLinkedInAPIURL
	}
	return &LinkedInAdapter{config: config, client: http.DefaultClient}
}

// Name はプラットフォーム識別子を返す。
func (a *LinkedInAdapter) Name() string { return "linkedin" }

// AuthorizeURL はLinkedInのOAuth認可URLを生成する。
func (a *LinkedInAdapter) AuthorizeURL(state, redirectURI string) string {
	params := url.Values{
		"client_id":     {a.config.Credentials.ClientID},
		"redirect_uri":  {redirectURI},
		"response_type": {"code"},
		"scope":         {"openid profile w_member_social"},
		"state":         {state},
	}
	return a.config.AuthURL + "?" + params.Encode()
}

// linkedInTokenResponse はトークンエンドポイントのレスポンス。
type linkedInTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// ExchangeCode は認可コードをトークンに交換する。
func (a *LinkedInAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"client_id":     {a.config.Credentials.ClientID},
		"client_secret": {a.config.Credentials.ClientSecret},
		"redirect_uri":  {redirectURI},
	}
	return a.requestToken(ctx, data)
}

// Refresh はリフレッシュトークンでトークンをローテーションする。
func (a *LinkedInAdapter) Refresh(ctx context.Context, tokens *TokenSet) (*TokenSet, error) {
	if tokens.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {tokens.RefreshToken},
		"client_id":     {a.config.Credentials.ClientID},
		"client_secret": {a.config.Credentials.ClientSecret},
	}
	return a.requestToken(ctx, data)
}

// requestToken はトークンエンドポイントを呼び出す。
func (a *LinkedInAdapter) requestToken(ctx context.Context, data url.Values) (*TokenSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var tokenResp linkedInTokenResponse
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

// linkedInProfile は/userinfoエンドポイントのレスポンス。
type linkedInProfile struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
}

// FetchProfile はアクセストークンでアカウント情報を取得する。
func (a *LinkedInAdapter) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.config.APIURL+"/userinfo", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	body, err := a.doJSON(req)
	if err != nil {
		return nil, err
	}

	var profile linkedInProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if profile.Sub == "" {
		return nil, fmt.Errorf("empty sub in profile response")
	}

	return &Profile{UserID: profile.Sub, Username: profile.Name}, nil
}

// Post は未対応。
func (a *LinkedInAdapter) Post(ctx context.Context, accessToken string, content PostContent) (*PostResult, error) {
	return nil, &UnsupportedError{Platform: a.Name()}
}

// doJSON はリクエストを実行し、2xx以外を*UpstreamErrorとして返す。
func (a *LinkedInAdapter) doJSON(req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("linkedin request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read linkedin response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Platform: "linkedin", StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// compile-time interface check
var _ Adapter = (*LinkedInAdapter)(nil)
