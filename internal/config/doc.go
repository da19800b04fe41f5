// Package config loads, validates, and normalizes pitchpipe's TOML
// configuration.
package config
