package psn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/psnwatch/internal/presence"
)

// accessToken returns a valid bearer token, exchanging the NPSSO cookie when
// the cached one is missing or about to expire.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.Unlock()
	now := c.cfg.Now()
	if token != "" && now.Add(tokenSkew).Before(expiresAt) {
		return token, nil
	}

	code, err := c.authorize(ctx)
	if err != nil {
		return "", err
	}
	tr, err := c.exchange(ctx, code)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = tr.AccessToken
	c.expiresAt = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	c.mu.Unlock()
	c.logger.Debug("access token refreshed", "expires_in", time.Duration(tr.ExpiresIn)*time.Second)
	return tr.AccessToken, nil
}

// invalidateToken forces the next call to exchange the NPSSO again.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// authorize trades the NPSSO cookie for an authorization code carried in the
// redirect location.
func (c *Client) authorize(ctx context.Context) (string, error) {
	q := url.Values{}
	q.Set("access_type", "offline")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", scope)
	endpoint := c.cfg.AuthBaseURL + "/authorize?" + q.Encode()

	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil, func(req *retryablehttp.Request) {
		req.Header.Set("Cookie", "npsso="+c.cfg.NPSSO)
	})
	if err != nil {
		return "", err
	}
	if status < 300 || status >= 400 {
		if err := statusError(endpoint, status); err != nil {
			return "", err
		}
		return "", &presence.FetchError{Kind: presence.Auth, Err: errors.New("authorize did not redirect, NPSSO may be invalid")}
	}

	loc, err := url.Parse(string(body))
	if err != nil {
		return "", &presence.FetchError{Kind: presence.Malformed, Err: fmt.Errorf("parse authorize redirect: %w", err)}
	}
	code := loc.Query().Get("code")
	if code == "" {
		return "", &presence.FetchError{Kind: presence.Auth, Err: errors.New("authorize redirect has no code, NPSSO may be invalid")}
	}
	return code, nil
}

// exchange trades an authorization code for an access token.
func (c *Client) exchange(ctx context.Context, code string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("grant_type", "authorization_code")
	form.Set("token_format", "jwt")
	endpoint := c.cfg.AuthBaseURL + "/token"

	status, body, err := c.do(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()), func(req *retryablehttp.Request) {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", "Basic "+basicAuth)
	})
	if err != nil {
		return tokenResponse{}, err
	}
	if status == http.StatusBadRequest {
		return tokenResponse{}, &presence.FetchError{Kind: presence.Auth, Err: errors.New("token exchange rejected")}
	}
	if err := statusError(endpoint, status); err != nil {
		return tokenResponse{}, err
	}

	var tr tokenResponse
	if err := sonic.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, &presence.FetchError{Kind: presence.Malformed, Err: fmt.Errorf("decode token: %w", err)}
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, &presence.FetchError{Kind: presence.Auth, Err: errors.New("token response has no access token")}
	}
	return tr, nil
}
