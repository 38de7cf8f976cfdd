// Package rota coordinates fair duty-roster shuffles across live clients
// using NATS JetStream.
//
// A shuffle assigns one member per (team, task label) slot for a calendar
// date, filtered for fairness against recent history and cross-team pairing
// rules, then reveals the result to every watching client at the same
// wall-clock instant.
//
// Architecture:
//   - scheduler: pure fairness computation with a relaxation ladder
//   - internal/store: JetStream KV persistence (day documents, events,
//     history, master data) with optimistic concurrency
//   - Manager (this package): the shuffle protocol — publish a timed event,
//     wait out the shared countdown, commit exactly once, append history
//   - syncguard: client-side reconciliation of in-flight edits against
//     remote snapshots
//
// Basic usage:
//
//	cfg := rota.DefaultConfig()
//	mgr, err := rota.NewManager(ctx, &cfg, natsConn)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	outcome, err := mgr.Shuffle(ctx)
//	if err != nil {
//	    log.Printf("shuffle failed: %v", err)
//	}
//
// Observers on other processes watch the same date and converge on the same
// reveal instant:
//
//	err = mgr.ObserveShuffles(ctx, date, rota.ShuffleObserver{
//	    OnRevealed: func(event rota.ShuffleEvent) { render(event.Result) },
//	})
package rota
