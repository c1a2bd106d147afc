package eventstore

import (
	"context"
	"sort"
	"time"
)

// OpKind is the kind of a queued operation.
type OpKind uint8

const (
	OpAppend OpKind = iota + 1
	OpArchive
)

func (k OpKind) String() string {
	switch k {
	case OpAppend:
		return "append"
	case OpArchive:
		return "archive"
	default:
		return "unknown"
	}
}

// Operation is a single queued change to one stream.
type Operation struct {
	Kind     OpKind
	Stream   StreamID
	Expected ExpectedVersion
	// Events are pre-stamped with ID, type, data and metadata. Sequence,
	// tenant, stream key and timestamp are assigned by PlanCommit.
	Events []Event
}

// Batch is the ordered set of operations committed by one session.
type Batch struct {
	Ops []Operation
	At  time.Time
}

// StreamIDs returns the distinct streams touched by the batch in sorted order.
// Backends that lock streams acquire them in this order.
func (b Batch) StreamIDs() []StreamID {
	seen := make(map[StreamID]struct{}, len(b.Ops))
	out := make([]StreamID, 0, len(b.Ops))
	for _, op := range b.Ops {
		if _, ok := seen[op.Stream]; ok {
			continue
		}
		seen[op.Stream] = struct{}{}
		out = append(out, op.Stream)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Tenants returns the distinct tenants touched by the batch.
func (b Batch) Tenants() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, op := range b.Ops {
		if _, ok := seen[op.Stream.TenantID]; ok {
			continue
		}
		seen[op.Stream.TenantID] = struct{}{}
		out = append(out, op.Stream.TenantID)
	}
	sort.Strings(out)
	return out
}

// Backend is a transactional store for streams and events.
//
// Commit must apply the whole batch atomically: registry updates, log appends
// and partition moves are either all visible afterwards or none are.
type Backend interface {
	Commit(ctx context.Context, b Batch) (CommitResult, error)
	// LoadStream returns the committed registry entry for id.
	LoadStream(ctx context.Context, id StreamID) (StreamState, bool, error)
	// ReadStream reads events of id from exactly one partition.
	ReadStream(ctx context.Context, id StreamID, p Partition, opts ReadOptions) ([]Event, error)
	// Scan reads one page of a tenant's partition, ordered by key then sequence.
	// ScanOptions.Filter is ignored by backends.
	Scan(ctx context.Context, tenantID string, p Partition, opts ScanOptions) (Page, error)
	// VerifyStream checks that the stream's events live in the partition its
	// archived flag points to, returning ErrPartialCommit otherwise.
	VerifyStream(ctx context.Context, id StreamID) error
	// Streams calls fn for every stream of tenantID in key order.
	Streams(ctx context.Context, tenantID string, fn func(StreamState) error) error
	// Tenants lists every tenant that has committed at least one stream.
	Tenants(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
	Close() error
}
