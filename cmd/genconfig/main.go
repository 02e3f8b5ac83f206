// Package main implements genconfig, which renders config.default.toml from
// config.ExampleConfig and the field comments in config.ConfigDocs.
//
// go generate runs it from internal/config via the directive in config.go.
// With --check it only reports whether the file on disk is current.
package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"

	"tools.zach/dev/psnwatch/internal/config"
)

// header opens every generated file.
var header = []string{
	"# ///////////////////////////////////////////////",
	"# psnwatch Configuration",
	"# ///////////////////////////////////////////////",
	"",
}

func main() {
	// Relative to internal/config, where go generate runs.
	outPath := pflag.StringP("out", "o", "../../config.default.toml", "Output file")
	check := pflag.Bool("check", false, "Exit 1 if the output file is out of date instead of writing it")
	pflag.Parse()

	result, err := render(config.ExampleConfig(), config.ConfigDocs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "genconfig: %v\n", err)
		os.Exit(1)
	}

	if *check {
		current, err := os.ReadFile(*outPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "genconfig: %v\n", err)
			os.Exit(1)
		}
		if !bytes.Equal(current, []byte(result)) {
			fmt.Fprintf(os.Stderr, "genconfig: %s is out of date, run go generate ./internal/config\n", *outPath)
			os.Exit(1)
		}
		return
	}

	if err := os.WriteFile(*outPath, []byte(result), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "genconfig: write %s: %v\n", *outPath, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", *outPath)
}

// ///////////////////////////////////////////////
// Rendering
// ///////////////////////////////////////////////

// render encodes v as TOML and annotates it with docs: section banners,
// comments above fields, commented alternatives below them and commented
// entries for documented fields the encoder omitted.
func render(v any, docs map[string]config.FieldDoc) (string, error) {
	var raw bytes.Buffer
	if err := toml.NewEncoder(&raw).Encode(v); err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	r := renderer{docs: docs, emitted: map[string]bool{}}
	r.out = append(r.out, header...)

	for _, line := range strings.Split(raw.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			// spacing is managed here, not by the encoder
		case strings.HasPrefix(trimmed, "[") && !strings.HasPrefix(trimmed, "[["):
			r.section(strings.Trim(trimmed, "[] "), trimmed)
		case !strings.Contains(trimmed, "=") || strings.HasPrefix(trimmed, "#"):
			r.out = append(r.out, trimmed)
		default:
			r.field(trimmed)
		}
	}
	r.injectOmitted()

	return strings.TrimRight(strings.Join(r.out, "\n"), "\n") + "\n", nil
}

type renderer struct {
	docs map[string]config.FieldDoc
	out  []string
	// path is the current section, split on dots.
	path    []string
	emitted map[string]bool
}

func (r *renderer) section(name, line string) {
	r.injectOmitted()
	r.path = parseSectionPath(name)

	r.out = append(r.out, "", fmt.Sprintf("# ///// %s /////", sectionName(name)), "")
	if doc, ok := r.docs[name]; ok {
		r.comment(doc.Comment)
	}
	r.out = append(r.out, line)
}

func (r *renderer) field(line string) {
	key, _, _ := strings.Cut(line, "=")
	full := r.qualify(strings.TrimSpace(key))
	r.emitted[full] = true

	doc, ok := r.docs[full]
	if !ok {
		r.out = append(r.out, line)
		return
	}
	r.comment(doc.Comment)
	r.out = append(r.out, line)
	for _, alt := range doc.Alternatives {
		r.out = append(r.out, "# "+alt)
	}
}

// injectOmitted appends commented entries for documented fields of the
// current section the encoder left out (omitempty zero values), sorted by key.
func (r *renderer) injectOmitted() {
	if len(r.path) == 0 {
		return
	}
	prefix := strings.Join(r.path, ".") + "."

	var omitted []string
	for path := range r.docs {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || strings.Contains(rest, ".") || r.emitted[path] {
			continue
		}
		omitted = append(omitted, path)
	}
	sort.Strings(omitted)

	for _, path := range omitted {
		doc := r.docs[path]
		r.out = append(r.out, "")
		r.comment(doc.Comment)
		for _, alt := range doc.Alternatives {
			r.out = append(r.out, "# "+alt)
		}
		r.emitted[path] = true
	}
}

func (r *renderer) comment(text string) {
	if text == "" {
		return
	}
	for _, l := range strings.Split(text, "\n") {
		r.out = append(r.out, "# "+l)
	}
}

func (r *renderer) qualify(key string) string {
	if len(r.path) == 0 {
		return key
	}
	return strings.Join(r.path, ".") + "." + key
}

// parseSectionPath splits a dotted section header such as "smtp" or
// "notify.mail" into its segments.
func parseSectionPath(section string) []string {
	return strings.Split(section, ".")
}

// sectionName is the capitalized last segment of a section header, used in
// the banner line.
func sectionName(section string) string {
	parts := strings.Split(section, ".")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1]) + last[1:]
}
