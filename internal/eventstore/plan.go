package eventstore

import (
	"fmt"
)

// StreamPlan is the computed effect of a batch on one stream.
type StreamPlan struct {
	Stream  StreamID
	Existed bool
	Before  StreamState
	After   StreamState
	// Appended are the new events with assigned sequences.
	Appended []Event
	// Archive is set when this batch transitions the stream to archived.
	Archive bool
}

// Changed reports whether the batch writes anything for this stream.
func (sp *StreamPlan) Changed() bool { return len(sp.Appended) > 0 || sp.Archive }

func (sp *StreamPlan) exists() bool { return sp.Existed || sp.After.Version > 0 }

// Plan is the computed effect of a batch, one entry per touched stream in
// first-touch order.
type Plan struct {
	Batch   Batch
	Streams []*StreamPlan
}

// PlanCommit applies the batch rules to the current committed state of the
// touched streams. current holds only streams that exist. Operations are
// applied in queue order; the first failing operation aborts the whole plan.
func PlanCommit(b Batch, current map[StreamID]StreamState) (*Plan, error) {
	p := &Plan{Batch: b}
	byID := make(map[StreamID]*StreamPlan, len(b.Ops))

	for i, op := range b.Ops {
		sp, ok := byID[op.Stream]
		if !ok {
			sp = &StreamPlan{Stream: op.Stream}
			if st, found := current[op.Stream]; found {
				sp.Existed = true
				sp.Before = st
				sp.After = st
			} else {
				sp.After = StreamState{TenantID: op.Stream.TenantID, Key: op.Stream.Key}
			}
			byID[op.Stream] = sp
			p.Streams = append(p.Streams, sp)
		}

		if op.Expected != AnyVersion && int64(op.Expected) != sp.After.Version {
			return nil, &ConflictError{Stream: op.Stream, Expected: op.Expected, Actual: sp.After.Version}
		}

		switch op.Kind {
		case OpAppend:
			if sp.After.IsArchived {
				return nil, fmt.Errorf("op %d append: %w: %s", i, ErrStreamArchived, op.Stream)
			}
			for _, ev := range op.Events {
				if !sp.exists() {
					sp.After.CreatedAt = b.At
				}
				sp.After.Version++
				ev.TenantID = op.Stream.TenantID
				ev.StreamKey = op.Stream.Key
				ev.Sequence = sp.After.Version
				ev.Timestamp = b.At
				ev.Archived = false
				sp.Appended = append(sp.Appended, ev)
				sp.After.LastTimestamp = b.At
			}
		case OpArchive:
			if !sp.exists() {
				return nil, fmt.Errorf("op %d archive: %w: %s", i, ErrNotFound, op.Stream)
			}
			if sp.After.IsArchived {
				continue
			}
			at := b.At
			sp.After.IsArchived = true
			sp.After.ArchivedAt = &at
			sp.Archive = true
		default:
			return nil, fmt.Errorf("op %d: unknown operation kind %d", i, op.Kind)
		}
	}
	return p, nil
}

// Result summarizes the plan for callers once it has been written.
func (p *Plan) Result() CommitResult {
	res := CommitResult{CommittedAt: p.Batch.At}
	for _, sp := range p.Streams {
		if !sp.Changed() {
			continue
		}
		res.Streams = append(res.Streams, sp.After)
		for _, ev := range sp.Appended {
			ev.Archived = sp.After.IsArchived
			res.Appended = append(res.Appended, ev)
		}
		if sp.Archive {
			res.Archived = append(res.Archived, sp.Stream)
		}
	}
	return res
}
