// Package main prints the psnwatch build version, or the complete -ldflags
// value, for release builds.
//
// Version format depends on git state:
//
//	No tags, clean:     0.0.0-dev+05ffee5
//	No tags, dirty:     0.0.0-dev+05ffee5.dirty
//	On tag v0.1.0:      0.1.0
//	Dirty tag:          0.1.0-dirty
//	3 past v0.1.0:      0.1.0-dev.3+g1234567
//	Same but dirty:     0.1.0-dev.3+g1234567.dirty
//
// With --ldflags the output is ready for go build:
//
//	go build -ldflags "$(go run ./cmd/buildver --ldflags)" ./cmd/psnwatch
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"

	"tools.zach/dev/psnwatch/internal/paths"
	"tools.zach/dev/psnwatch/internal/update"
)

// repositoryVar is the linker path of [update.Repository].
const repositoryVar = "tools.zach/dev/psnwatch/internal/update.Repository"

func main() {
	ldflags := pflag.Bool("ldflags", false, "Print -X flags for the version and update repository")
	repo := pflag.String("repo", "", "GitHub owner/repo for update checks (default: git remote origin)")
	pflag.Parse()

	ver := buildVersion()
	if !*ldflags {
		fmt.Print(ver)
		return
	}
	if *repo == "" {
		*repo = originRepository()
	}
	fmt.Print(formatLdflags(ver, *repo))
}

// formatLdflags builds the -X flags for ver and repo. An unrecognized repo
// is left out so the binary skips update checks.
func formatLdflags(ver, repo string) string {
	flags := []string{"-X main.version=" + ver}
	if r, ok := update.ParseRepository(repo); ok {
		flags = append(flags, "-X "+repositoryVar+"="+r)
	} else if repo != "" {
		fmt.Fprintf(os.Stderr, "buildver: ignoring non-GitHub repository %q\n", repo)
	}
	return strings.Join(flags, " ")
}

// originRepository returns the git remote origin URL, or "" when there is none.
func originRepository() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "git", "remote", "get-url", "origin").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// buildVersion assembles a SemVer build version from git state, falling back
// to [baseVersion] plus the commit hash when no v-prefixed tag exists.
func buildVersion() string {
	base := baseVersion(paths.ReleaseManifest)

	if out, err := exec.Command("git", "describe", "--tags", "--match", "v*", "--dirty").Output(); err == nil {
		return formatTaggedVersion(strings.TrimSpace(string(out)))
	}

	out, err := exec.Command("git", "rev-parse", "--short=7", "HEAD").Output()
	if err != nil {
		return base + "-dev"
	}
	hash := strings.TrimSpace(string(out))

	if isDirty() {
		return fmt.Sprintf("%s-dev+%s.dirty", base, hash)
	}
	return fmt.Sprintf("%s-dev+%s", base, hash)
}

// formatTaggedVersion converts git describe output such as
// "v0.1.0-3-g1234567-dirty" into "0.1.0-dev.3+g1234567.dirty".
func formatTaggedVersion(desc string) string {
	clean, dirty := strings.CutSuffix(desc, "-dirty")
	clean = strings.TrimPrefix(clean, "v")

	// <tag>-<N>-g<hash>; a pre-release tag like 2.0.0-beta.1 has no g-prefixed tail.
	if rest, hash, ok := cutLast(clean, "-"); ok && strings.HasPrefix(hash, "g") {
		if tag, n, ok := cutLast(rest, "-"); ok {
			meta := hash
			if dirty {
				meta += ".dirty"
			}
			return fmt.Sprintf("%s-dev.%s+%s", tag, n, meta)
		}
	}

	if dirty {
		return clean + "-dirty"
	}
	return clean
}

// cutLast splits s around the last sep.
func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i <= 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

func isDirty() bool {
	out, err := exec.Command("git", "status", "--porcelain").Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// baseVersion reads the root entry (key ".") of the release manifest at
// path, or "0.0.0" when it is missing or unreadable.
func baseVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "0.0.0"
	}
	var manifest map[string]string
	if err := sonic.Unmarshal(data, &manifest); err != nil {
		return "0.0.0"
	}
	if v := manifest["."]; v != "" {
		return v
	}
	return "0.0.0"
}
