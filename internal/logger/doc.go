// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger writing console-formatted lines to stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, DebugKV, etc.).
//
// Services accept a context and extract the logger from it, so the hook and
// the packaging workflow share one scoped logger per run.
package logger
