// Package logx configures chapterbot's structured logging.
//
// It wraps zerolog in a small value-type Logger so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional file sink stays JSON-structured
//   - warnings and errors can be mirrored to a Telegram chat (min level + rate limit)
package logx
