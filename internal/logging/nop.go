package logging

import "github.com/IKcoding-jp/rota/types"

// NopLogger is a no-op logger that discards all log messages.
//
// Useful for tests that want no log noise and for benchmarks that must avoid
// I/O overhead.
type NopLogger struct{}

// Compile-time assertion that NopLogger implements Logger.
var _ types.Logger = (*NopLogger)(nil)

// NewNop creates a new no-op logger that discards all messages.
//
// Returns:
//   - *NopLogger: Logger that performs no operations
func NewNop() *NopLogger {
	return &NopLogger{}
}

// Debug discards the message.
func (n *NopLogger) Debug(_ string, _ ...any) {}

// Info discards the message.
func (n *NopLogger) Info(_ string, _ ...any) {}

// Warn discards the message.
func (n *NopLogger) Warn(_ string, _ ...any) {}

// Error discards the message.
func (n *NopLogger) Error(_ string, _ ...any) {}

// Fatal discards the message (does NOT call os.Exit).
//
// Unlike production loggers, NopLogger does not terminate the process. This
// is intentional for testing scenarios.
func (n *NopLogger) Fatal(_ string, _ ...any) {}
