// Package logging configures structured slog output for the pitchpipe
// daemon and CLI, providing console and JSON handlers plus shared
// attribute helpers.
package logging
