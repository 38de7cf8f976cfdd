// Package natsutil provides NATS-specific error helpers.
//
// Kept separate from types/ so that the pure packages do not import NATS.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/IKcoding-jp/rota/types"
)

// IsConnectivityError checks if an error is caused by connectivity issues.
//
// This includes NATS timeouts, connection refused, and disconnections. The
// store uses it to distinguish transport failures (which the caller reports
// to the operator) from application-level conditions.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, types.ErrConnectivity) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrDisconnected) ||
		errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "i/o timeout")
}

// IsWriteConflict checks if an error is an optimistic-concurrency conflict on
// a KV Create/Update, i.e. another writer won the race and the operation
// should be retried from a fresh read.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if the operation hit a revision conflict
func IsWriteConflict(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, jetstream.ErrKeyExists) ||
		strings.Contains(err.Error(), "wrong last sequence")
}
