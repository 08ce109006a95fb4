// Package logx configures eventpulse's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog and keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional ops-chat sink (min level + rate limit) for operators
package logx
