package store

import (
	"context"
	"fmt"
	"time"

	"github.com/IKcoding-jp/rota/types"
)

// metaClockKey is the scratch key used to sample the server clock.
const metaClockKey = "meta.clock"

// ServerNow returns the current server time.
//
// Client clocks are untrusted for date resolution and event start instants,
// so the clock is sampled from the server side: a scratch key is written and
// the server-assigned creation timestamp of the resulting entry is read back
// from its metadata.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - time.Time: Server-assigned timestamp in UTC
//   - error: KV error
func (s *Store) ServerNow(ctx context.Context) (time.Time, error) {
	defer s.observe("server_now", time.Now())

	revision, err := s.master.Put(ctx, metaClockKey, []byte("tick"))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to sample server clock: %w", err)
	}

	entry, err := s.master.GetRevision(ctx, metaClockKey, revision)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read server clock sample: %w", err)
	}

	return entry.Created().UTC(), nil
}

// ResolveServerDate returns today's date from the server clock, formatted as
// YYYY-MM-DD in the given location.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - loc: Time zone the roster operates in (nil means UTC)
//
// Returns:
//   - string: Canonical date string
//   - error: KV error
func (s *Store) ResolveServerDate(ctx context.Context, loc *time.Location) (string, error) {
	now, err := s.ServerNow(ctx)
	if err != nil {
		return "", err
	}
	if loc == nil {
		loc = time.UTC
	}

	return now.In(loc).Format(types.DateFormat), nil
}
