// Package eventstore is the tenant-scoped event store API.
//
// # Overview
//
// Streams are identified by (tenant, stream key). Events are appended through a
// Session, a unit of work that queues appends and archive requests and applies
// them atomically on Commit. A stream is created by its first append and can
// be archived, which moves its events from the active partition to the
// archived partition in the same transaction that sets its archived flag.
//
//	store := eventstore.New(backend)
//	sess := store.LightweightSession()
//	t := sess.ForTenant("acme")
//	_ = t.Append("order-42", eventstore.NewEvent{Type: "OrderPlaced", Data: data})
//	_, _ = sess.Commit(ctx)
//
//	_ = t.Archive("order-42")
//	_, _ = sess.Commit(ctx)
//
//	state, _ := store.FetchStreamState(ctx, "acme", "order-42")
//	// state.IsArchived == true
//
// # Backends
//
// Storage is pluggable through Backend. Every backend applies a Batch in one
// atomic write using PlanCommit, which holds the shared rules: expected-version
// checks, contiguous sequence assignment and idempotent archival.
//
// # Errors
//
// Failures are reported with the sentinel errors in errors.go and can be
// inspected with errors.Is and errors.As. FetchStreamState returns (nil, nil)
// for unknown streams; that is the only absence signal that is not an error.
package eventstore
