// Package psn implements presence.Source against the PlayStation Network
// mobile API. It exchanges an NPSSO cookie for a short-lived access token,
// resolves the tracked online ID to an account ID and normalizes presence
// payloads into presence.Observation values.
package psn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/psnwatch/internal/presence"
)

// ///////////////////////////////////////////////
// Endpoints
// ///////////////////////////////////////////////

const (
	// DefaultAuthBaseURL hosts the OAuth authorize and token endpoints.
	DefaultAuthBaseURL = "https://ca.account.sony.com/api/authz/v3/oauth"
	// DefaultLegacyBaseURL hosts the online ID to account ID lookup.
	DefaultLegacyBaseURL = "https://us-prof.np.community.playstation.net/userProfile/v1"
	// DefaultAPIBaseURL hosts profile and presence endpoints.
	DefaultAPIBaseURL = "https://m.np.playstation.com/api/userProfile/v1/internal"

	clientID    = "09515159-7237-4370-9b40-3806e67c0891"
	redirectURI = "com.scee.psxandroid.scecompcall://redirect"
	scope       = "psn:mobile.v2.core psn:clientapp"
	// basicAuth is base64(clientID:clientSecret) of the public mobile app.
	basicAuth = "MDk1MTUxNTktNzIzNy00MzcwLTliNDAtMzgwNmU2N2MwODkxOnVjUGprYTV0bnRCMktxc1A="

	maxResponseBytes = 1 << 20
	// tokenSkew refreshes the access token slightly before it expires.
	tokenSkew = 30 * time.Second
)

var (
	errMissingPresence = errors.New("presence payload has no primary platform info")
	// ErrUserNotFound is returned when the online ID does not exist.
	ErrUserNotFound = errors.New("psn user not found")
)

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Config configures a [Client].
type Config struct {
	// NPSSO is the session cookie value used to obtain access tokens.
	NPSSO string
	// OnlineID is the PSN ID of the tracked account.
	OnlineID string
	// IgnoreTitles are glob patterns for titles treated as "no game".
	IgnoreTitles []string

	AuthBaseURL   string
	LegacyBaseURL string
	APIBaseURL    string

	// HTTPClient overrides the default retrying client.
	HTTPClient *retryablehttp.Client
	Logger     *slog.Logger
	// Now overrides the observation clock.
	Now func() time.Time
}

// Client is a presence.Source for one PSN account. It is safe for concurrent
// use, though the polling loop calls it sequentially.
type Client struct {
	cfg    Config
	http   *retryablehttp.Client
	logger *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	accountID string
}

var _ presence.Source = (*Client)(nil)

// New validates cfg and returns a Client. No network calls are made until
// [Client.Profile] or [Client.Fetch].
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.NPSSO) == "" {
		return nil, errors.New("psn: NPSSO key is required")
	}
	if strings.TrimSpace(cfg.OnlineID) == "" {
		return nil, errors.New("psn: online ID is required")
	}
	if err := ValidatePatterns(cfg.IgnoreTitles); err != nil {
		return nil, fmt.Errorf("psn: %w", err)
	}
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = DefaultAuthBaseURL
	}
	if cfg.LegacyBaseURL == "" {
		cfg.LegacyBaseURL = DefaultLegacyBaseURL
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = NewHTTPClient(cfg.Logger)
	} else {
		hc = cloneHTTPClient(hc)
	}
	// The authorize step answers with a redirect that carries the code.
	hc.HTTPClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Client{cfg: cfg, http: hc, logger: cfg.Logger}, nil
}

// cloneHTTPClient copies a caller-supplied client so the redirect policy set
// in [New] stays private to this package.
func cloneHTTPClient(src *retryablehttp.Client) *retryablehttp.Client {
	inner := http.Client{}
	if src.HTTPClient != nil {
		inner = *src.HTTPClient
	}
	return &retryablehttp.Client{
		HTTPClient:      &inner,
		Logger:          src.Logger,
		RetryWaitMin:    src.RetryWaitMin,
		RetryWaitMax:    src.RetryWaitMax,
		RetryMax:        src.RetryMax,
		RequestLogHook:  src.RequestLogHook,
		ResponseLogHook: src.ResponseLogHook,
		CheckRetry:      src.CheckRetry,
		Backoff:         src.Backoff,
		ErrorHandler:    src.ErrorHandler,
	}
}

// NewHTTPClient returns the retrying HTTP client used for PSN calls. Retries
// cover transport errors and 5xx responses; the caller's context bounds the
// whole attempt.
func NewHTTPClient(logger *slog.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 2
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 3 * time.Second
	if logger != nil {
		c.Logger = logger.With("component", "psn-http")
	} else {
		c.Logger = nil
	}
	return c
}

// Profile resolves the account ID and fetches the profile. It is the initial
// handshake; a failure here means there is nothing to track.
func (c *Client) Profile(ctx context.Context) (presence.Profile, error) {
	accountID, err := c.resolveAccountID(ctx)
	if err != nil {
		return presence.Profile{}, err
	}
	var p profileResponse
	if err := c.getJSON(ctx, c.cfg.APIBaseURL+"/users/"+url.PathEscape(accountID)+"/profiles", &p); err != nil {
		return presence.Profile{}, err
	}
	onlineID := p.OnlineID
	if onlineID == "" {
		onlineID = c.cfg.OnlineID
	}
	return presence.Profile{
		OnlineID:  onlineID,
		AccountID: accountID,
		AboutMe:   p.AboutMe,
		IsPlus:    p.IsPlus,
	}, nil
}

// Fetch returns the current presence of the tracked account.
func (c *Client) Fetch(ctx context.Context) (presence.Observation, error) {
	accountID, err := c.resolveAccountID(ctx)
	if err != nil {
		return presence.Observation{}, err
	}
	var p presenceResponse
	endpoint := c.cfg.APIBaseURL + "/users/" + url.PathEscape(accountID) + "/basicPresences?type=primary"
	if err := c.getJSON(ctx, endpoint, &p); err != nil {
		return presence.Observation{}, err
	}
	return normalize(p, c.cfg.Now(), c.cfg.IgnoreTitles)
}

// resolveAccountID looks the online ID up once and caches the result.
func (c *Client) resolveAccountID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.accountID
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}

	var r legacyProfileResponse
	endpoint := c.cfg.LegacyBaseURL + "/users/" + url.PathEscape(c.cfg.OnlineID) +
		"/profile2?fields=accountId,onlineId,currentOnlineId"
	if err := c.getJSON(ctx, endpoint, &r); err != nil {
		return "", err
	}
	if r.Profile.AccountID == "" {
		return "", &presence.FetchError{Kind: presence.Malformed, Err: errors.New("profile has no account ID")}
	}

	c.mu.Lock()
	c.accountID = r.Profile.AccountID
	c.mu.Unlock()
	c.logger.Debug("resolved account", "online_id", c.cfg.OnlineID, "account_id", r.Profile.AccountID)
	return r.Profile.AccountID, nil
}

// ///////////////////////////////////////////////
// Requests
// ///////////////////////////////////////////////

// getJSON performs an authorized GET and decodes the body into v. A 401 drops
// the cached token and retries once with a fresh one.
func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}
		status, body, err := c.do(ctx, http.MethodGet, endpoint, nil, func(req *retryablehttp.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		})
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.invalidateToken()
			continue
		}
		if err := statusError(endpoint, status); err != nil {
			return err
		}
		if err := sonic.Unmarshal(body, v); err != nil {
			return &presence.FetchError{Kind: presence.Malformed, Err: fmt.Errorf("decode %s: %w", redact(endpoint), err)}
		}
		return nil
	}
}

// do sends one request and returns the status code and the body. Transport
// failures are classified as timeout or network errors.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader, prepare func(*retryablehttp.Request)) (int, []byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, &presence.FetchError{Kind: presence.Network, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "psnwatch")
	if prepare != nil {
		prepare(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return 0, nil, transportError(ctx, err)
	}
	if len(data) > maxResponseBytes {
		return 0, nil, &presence.FetchError{Kind: presence.Malformed, Err: fmt.Errorf("response from %s exceeds %d bytes", redact(endpoint), maxResponseBytes)}
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		// Redirect bodies are irrelevant; hand the location back instead.
		return resp.StatusCode, []byte(resp.Header.Get("Location")), nil
	}
	return resp.StatusCode, data, nil
}

// transportError classifies a failed round trip.
func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &presence.FetchError{Kind: presence.Timeout, Err: err}
	}
	return &presence.FetchError{Kind: presence.Network, Err: err}
}

// statusError maps a non-2xx status to a typed fetch error.
func statusError(endpoint string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return &presence.FetchError{Kind: presence.Auth, Err: fmt.Errorf("GET %s: status %d", redact(endpoint), status)}
	case status == http.StatusNotFound:
		return &presence.FetchError{Kind: presence.Network, Err: fmt.Errorf("GET %s: %w", redact(endpoint), ErrUserNotFound)}
	default:
		return &presence.FetchError{Kind: presence.Network, Err: fmt.Errorf("GET %s: status %d", redact(endpoint), status)}
	}
}

// redact strips the query string from endpoint for error messages.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
