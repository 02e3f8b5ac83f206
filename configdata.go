// Package psnwatch embeds the default configuration file.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The config package writes it to the data directory
// on first run.
package psnwatch

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
