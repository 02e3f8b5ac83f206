package migrate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ///////////////////////////////////////////////
// TOML Helpers
// ///////////////////////////////////////////////

// MoveKeys rewrites a TOML document, moving each dotted source key to its
// dotted destination. Missing sources are skipped; an existing destination
// is kept and the source dropped. Comments are not preserved.
func MoveKeys(data []byte, moves map[string]string) ([]byte, error) {
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	for from, to := range moves {
		v, ok := take(doc, strings.Split(from, "."))
		if !ok {
			continue
		}
		if err := put(doc, strings.Split(to, "."), v); err != nil {
			return nil, fmt.Errorf("move %s to %s: %w", from, to, err)
		}
	}
	return encode(doc)
}

// SetKey sets a top-level key, typically "version".
func SetKey(data []byte, key string, value any) ([]byte, error) {
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse toml: %w", err)
	}
	doc[key] = value
	return encode(doc)
}

func encode(doc map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode toml: %w", err)
	}
	return buf.Bytes(), nil
}

// take removes and returns the value at path.
func take(doc map[string]any, path []string) (any, bool) {
	m := doc
	for _, p := range path[:len(path)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			return nil, false
		}
		m = next
	}
	last := path[len(path)-1]
	v, ok := m[last]
	if ok {
		delete(m, last)
	}
	return v, ok
}

// put stores v at path, creating tables as needed.
func put(doc map[string]any, path []string, v any) error {
	m := doc
	for _, p := range path[:len(path)-1] {
		switch next := m[p].(type) {
		case map[string]any:
			m = next
		case nil:
			child := map[string]any{}
			m[p] = child
			m = child
		default:
			return fmt.Errorf("%s is not a table", p)
		}
	}
	last := path[len(path)-1]
	if _, exists := m[last]; !exists {
		m[last] = v
	}
	return nil
}
