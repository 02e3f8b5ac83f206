package update

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
)

// ///////////////////////////////////////////////
// parseSemver Tests
// ///////////////////////////////////////////////

func TestParseSemver(t *testing.T) {
	tests := []struct {
		input string
		want  []int
	}{
		{"1.2.3", []int{1, 2, 3}},
		{"v1.2.3", []int{1, 2, 3}},
		{"0.0.0", []int{0, 0, 0}},
		{"0.0.0-dev", []int{0, 0, 0}},
		{"1.0.0-beta+build123", []int{1, 0, 0}},
		{"v0.1.0", []int{0, 1, 0}},
		{"10.20.30", []int{10, 20, 30}},
		{"1.2.3-rc.1", []int{1, 2, 3}},
		{"1.2.3+metadata", []int{1, 2, 3}},

		// Invalid inputs should return nil.
		{"", nil},
		{"1.2", nil},
		{"1", nil},
		{"not.a.version", nil},
		{"v", nil},
		{"1.2.x", nil},
		{"a.b.c", nil},
		{"1.2.3.4", nil},
		{"1..3", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseSemver(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseSemver(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// semverLess Tests
// ///////////////////////////////////////////////

func TestSemverLess(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"equal versions", "1.2.3", "1.2.3", false},
		{"a < b major", "0.9.9", "1.0.0", true},
		{"a > b major", "2.0.0", "1.9.9", false},
		{"a < b minor", "1.0.0", "1.1.0", true},
		{"a > b minor", "1.2.0", "1.1.0", false},
		{"a < b patch", "1.0.0", "1.0.1", true},
		{"a > b patch", "1.0.2", "1.0.1", false},
		{"with v prefix", "v0.1.0", "v0.2.0", true},
		{"mixed prefix", "0.1.0", "v0.2.0", true},
		{"pre-release stripped", "0.0.0-dev", "0.1.0", true},
		{"same with pre-release", "1.0.0-alpha", "1.0.0-beta", false}, // both parse to 1.0.0; no ordering between different pre-releases
		{"pre-release less than release", "0.1.0-dev", "0.1.0", true},
		{"release not less than pre-release", "0.1.0", "0.1.0-dev", false},
		{"pre-release less than release with v", "v1.0.0-rc.1", "v1.0.0", true},
		{"both pre-release equal numeric", "1.0.0-alpha", "1.0.0-alpha", false},
		{"invalid a", "invalid", "1.0.0", false},
		{"invalid b", "1.0.0", "invalid", false},
		{"both invalid", "foo", "bar", false},
		{"empty a", "", "1.0.0", false},
		{"empty b", "1.0.0", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := semverLess(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("semverLess(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// ManifestURL Tests
// ///////////////////////////////////////////////

func TestManifestURL(t *testing.T) {
	const want = "https://raw.githubusercontent.com/zachthedev/psnwatch/main/.release-manifest.json"
	tests := []struct {
		name string
		repo string
		want string
	}{
		{"owner/repo", "zachthedev/psnwatch", want},
		{"HTTPS URL", "https://github.com/zachthedev/psnwatch", want},
		{"HTTPS URL with .git", "https://github.com/zachthedev/psnwatch.git", want},
		{"SSH URL", "git@github.com:zachthedev/psnwatch.git", want},
		{"empty", "", ""},
		{"GitLab", "https://gitlab.com/zachthedev/psnwatch", ""},
		{"no slash", "psnwatch", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ManifestURL(tt.repo); got != tt.want {
				t.Errorf("ManifestURL(%q) = %q, want %q", tt.repo, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// Checker Tests (via httptest mock)
// ///////////////////////////////////////////////

// newTestChecker returns a Checker pointed at a server answering with status
// and body.
func newTestChecker(t *testing.T, status int, body string) *Checker {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	hc := retryablehttp.NewClient()
	hc.RetryMax = 0
	hc.Logger = nil
	return &Checker{
		URL:    server.URL,
		HTTP:   hc,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestCheck_NewerVersionAvailable(t *testing.T) {
	c := newTestChecker(t, http.StatusOK, `{".": "0.2.0", "0.1.0": "sha"}`)
	latest, newer, err := c.Check(context.Background(), "0.1.0")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if latest != "0.2.0" || !newer {
		t.Errorf("Check() = %q, %v; want 0.2.0, true", latest, newer)
	}
}

func TestCheck_SameVersion(t *testing.T) {
	c := newTestChecker(t, http.StatusOK, `{".": "0.1.0"}`)
	_, newer, err := c.Check(context.Background(), "0.1.0")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if newer {
		t.Error("same version reported as newer")
	}
}

func TestCheck_EmptyURL(t *testing.T) {
	c := &Checker{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	latest, newer, err := c.Check(context.Background(), "0.1.0")
	if err != nil || latest != "" || newer {
		t.Errorf("Check() = %q, %v, %v; want nothing", latest, newer, err)
	}
	// Log must not panic without an HTTP client.
	c.Log(context.Background(), "0.1.0")
}

func TestLatest_Non200(t *testing.T) {
	c := newTestChecker(t, http.StatusNotFound, "missing")
	_, err := c.Latest(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 404") {
		t.Errorf("Latest() error = %v, want status 404", err)
	}
}

func TestLatest_InvalidJSON(t *testing.T) {
	c := newTestChecker(t, http.StatusOK, "{not json")
	if _, err := c.Latest(context.Background()); err == nil {
		t.Error("Latest() expected error for invalid JSON")
	}
}

func TestLatest_MissingStableKey(t *testing.T) {
	c := newTestChecker(t, http.StatusOK, `{"0.1.0": "sha"}`)
	latest, newer, err := c.Check(context.Background(), "0.1.0")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if latest != "" || newer {
		t.Errorf("Check() = %q, %v; want empty, false", latest, newer)
	}
}

func TestLog_WritesNewVersion(t *testing.T) {
	c := newTestChecker(t, http.StatusOK, `{".": "1.0.0"}`)
	var buf strings.Builder
	c.Logger = slog.New(slog.NewTextHandler(&buf, nil))
	c.Log(context.Background(), "0.9.0")
	if !strings.Contains(buf.String(), "new version available") {
		t.Errorf("log output = %q", buf.String())
	}
}

func TestNewCheckerUsesRepository(t *testing.T) {
	old := Repository
	Repository = "zachthedev/psnwatch"
	defer func() { Repository = old }()

	c := NewChecker(nil)
	if !strings.HasSuffix(c.URL, "/zachthedev/psnwatch/main/.release-manifest.json") {
		t.Errorf("URL = %q", c.URL)
	}
}
