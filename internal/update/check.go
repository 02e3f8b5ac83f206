// Package update looks for newer psnwatch releases through the release
// manifest published in the project repository.
package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"

	"tools.zach/dev/psnwatch/internal/paths"
)

// Repository is the GitHub "owner/repo" the manifest is read from. Set at
// build time via:
//
//	-X tools.zach/dev/psnwatch/internal/update.Repository=owner/repo
var Repository string

// repositoryRe accepts "owner/repo" as well as HTTPS and SSH GitHub URLs.
var repositoryRe = regexp.MustCompile(`^(?:https://github\.com/|git@github\.com:)?([\w.-]+)/([\w-]+?)(?:\.git)?$`)

// ParseRepository normalizes a GitHub repository reference to "owner/repo".
func ParseRepository(s string) (string, bool) {
	m := repositoryRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return m[1] + "/" + m[2], true
}

// ManifestURL returns the raw URL of the release manifest for repo, or "" when
// repo is not a GitHub repository.
func ManifestURL(repo string) string {
	r, ok := ParseRepository(repo)
	if !ok {
		return ""
	}
	return "https://raw.githubusercontent.com/" + r + "/main/" + paths.ReleaseManifest
}

// ///////////////////////////////////////////////
// Checker
// ///////////////////////////////////////////////

// Checker compares the running version against the latest release.
type Checker struct {
	// URL is the manifest location; empty disables the check.
	URL    string
	HTTP   *retryablehttp.Client
	Logger *slog.Logger
}

// NewChecker returns a Checker for the build-time [Repository].
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	hc := retryablehttp.NewClient()
	hc.RetryMax = 1
	hc.HTTPClient.Timeout = 5 * time.Second
	hc.Logger = nil
	return &Checker{URL: ManifestURL(Repository), HTTP: hc, Logger: logger}
}

// Latest downloads the manifest and returns the version stored under the "."
// key, which is the latest stable release.
func (c *Checker) Latest(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("GET %s: %w", c.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", c.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("reading manifest: %w", err)
	}
	var manifest map[string]string
	if err := sonic.Unmarshal(body, &manifest); err != nil {
		return "", fmt.Errorf("parsing manifest: %w", err)
	}
	return manifest["."], nil
}

// Check reports the latest version and whether it is newer than current.
// A Checker without a URL reports nothing.
func (c *Checker) Check(ctx context.Context, current string) (latest string, newer bool, err error) {
	if c.URL == "" {
		return "", false, nil
	}
	latest, err = c.Latest(ctx)
	if err != nil {
		return "", false, err
	}
	return latest, latest != "" && semverLess(current, latest), nil
}

// Log runs [Checker.Check] and logs a newer release. Failures are logged at
// debug level and otherwise ignored.
func (c *Checker) Log(ctx context.Context, current string) {
	if c.URL == "" {
		c.Logger.Debug("skipping version check: no repository configured")
		return
	}
	latest, newer, err := c.Check(ctx, current)
	if err != nil {
		c.Logger.Debug("version check failed", "error", err)
		return
	}
	if newer {
		c.Logger.Info("new version available", "current", current, "latest", latest)
	}
}

// ///////////////////////////////////////////////
// Version Comparison
// ///////////////////////////////////////////////

// semverLess reports whether a < b. Strings that are not major.minor.patch
// never compare less. A pre-release sorts before the same release
// ("0.1.0-dev" < "0.1.0").
func semverLess(a, b string) bool {
	pa, pb := parseSemver(a), parseSemver(b)
	if pa == nil || pb == nil {
		return false
	}
	for i := range 3 {
		if pa[i] != pb[i] {
			return pa[i] < pb[i]
		}
	}
	return hasPreRelease(a) && !hasPreRelease(b)
}

func hasPreRelease(s string) bool {
	return strings.Contains(strings.TrimPrefix(s, "v"), "-")
}

// parseSemver returns [major, minor, patch] of "v1.2.3" or "0.1.0-dev+sha",
// or nil when s is not a version.
func parseSemver(s string) []int {
	s = strings.TrimPrefix(s, "v")
	if idx := strings.IndexAny(s, "-+"); idx >= 0 {
		s = s[:idx]
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return nil
	}
	out := make([]int, 3)
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return nil
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		out[i] = n
	}
	return out
}
