package psn

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"tools.zach/dev/psnwatch/internal/presence"
)

// ///////////////////////////////////////////////
// Wire Types
// ///////////////////////////////////////////////

// tokenResponse is the OAuth token endpoint reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// legacyProfileResponse resolves an online ID to an account ID.
type legacyProfileResponse struct {
	Profile struct {
		OnlineID        string `json:"onlineId"`
		AccountID       string `json:"accountId"`
		CurrentOnlineID string `json:"currentOnlineId"`
	} `json:"profile"`
}

// profileResponse is the account profile.
type profileResponse struct {
	OnlineID string `json:"onlineId"`
	AboutMe  string `json:"aboutMe"`
	IsPlus   bool   `json:"isPlus"`
}

// presenceResponse is the basic presence payload. Only the fields the tracker
// consumes are decoded.
type presenceResponse struct {
	BasicPresence *struct {
		Availability        string `json:"availability"`
		PrimaryPlatformInfo *struct {
			OnlineStatus   string `json:"onlineStatus"`
			Platform       string `json:"platform"`
			LastOnlineDate string `json:"lastOnlineDate"`
		} `json:"primaryPlatformInfo"`
		GameTitleInfoList []struct {
			NPTitleID      string `json:"npTitleId"`
			TitleName      string `json:"titleName"`
			Format         string `json:"format"`
			LaunchPlatform string `json:"launchPlatform"`
		} `json:"gameTitleInfoList"`
	} `json:"basicPresence"`
}

// ///////////////////////////////////////////////
// Normalization
// ///////////////////////////////////////////////

// normalize converts a presence payload into an Observation. A missing or
// empty online status is reported as a malformed fetch. Titles matching any
// ignore pattern are treated as no game.
func normalize(p presenceResponse, observedAt time.Time, ignore []string) (presence.Observation, error) {
	if p.BasicPresence == nil || p.BasicPresence.PrimaryPlatformInfo == nil {
		return presence.Observation{}, &presence.FetchError{Kind: presence.Malformed, Err: errMissingPresence}
	}
	info := p.BasicPresence.PrimaryPlatformInfo
	status, err := presence.ParseStatus(info.OnlineStatus)
	if err != nil {
		return presence.Observation{}, err
	}

	obs := presence.Observation{
		Status:     status,
		Platform:   strings.ToUpper(info.Platform),
		ObservedAt: observedAt,
		LastSeenAt: parseDate(info.LastOnlineDate),
	}
	if titles := p.BasicPresence.GameTitleInfoList; len(titles) > 0 {
		name := strings.TrimSpace(titles[0].TitleName)
		if name != "" && !ignored(name, ignore) {
			obs.GameName = name
			obs.GamePlatform = strings.ToUpper(titles[0].LaunchPlatform)
		}
	}
	return obs, nil
}

// parseDate parses a PSN ISO 8601 timestamp, returning zero on failure.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ignored reports whether title matches any of the glob patterns. Matching is
// case-insensitive.
func ignored(title string, patterns []string) bool {
	lower := strings.ToLower(title)
	for _, p := range patterns {
		if ok, err := doublestar.Match(strings.ToLower(p), lower); err == nil && ok {
			return true
		}
	}
	return false
}

// ValidatePatterns reports the first invalid ignore pattern.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid ignore_titles pattern %q", p)
		}
	}
	return nil
}
