// Package logx is the bot's structured logging layer on top of zerolog.
//
// It provides:
//   - a small Logger facade with typed Field helpers
//   - a Service owning the sinks (console, file, rate-limited Telegram)
//     that can swap levels and outputs at runtime via Apply()
//
// Loggers created from a Service stay live across Apply() calls, so config
// hot-reload takes effect without re-plumbing loggers through the app.
package logx
