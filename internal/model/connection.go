package model

import "time"

// 対応プラットフォーム名。
const (
	PlatformFacebook  = "facebook"
	PlatformTwitter   = "twitter"
	PlatformLinkedIn  = "linkedin"
	PlatformInstagram = "instagram"
)

// KnownPlatforms は接続可能なプラットフォーム名の一覧（宣言順＝既定の試行順）。
var KnownPlatforms = []string{
	PlatformFacebook,
	PlatformTwitter,
	PlatformLinkedIn,
	PlatformInstagram,
}

// IsKnownPlatform はプラットフォーム名が対応一覧に含まれるかを返す。
func IsKnownPlatform(platform string) bool {
	for _, p := range KnownPlatforms {
		if p == platform {
			return true
		}
	}
	return false
}

// SocialConnection はユーザーとプラットフォームごとのOAuth認証情報を表す。
// (user_id, platform) の組につきアクティブな接続は最大1件
// （UPSERT-on-conflictで保証される）。
type SocialConnection struct {
	ID               string
	UserID           string
	Platform         string
	PlatformUserID   string
	PlatformUsername string
	AccessToken      string
	RefreshToken     string     // 空文字はリフレッシュトークンなしを意味する
	TokenExpiresAt   *time.Time // nilは無期限トークンを意味する
	IsActive         bool
	ConnectedAt      time.Time
	LastUsedAt       time.Time
}
