package eventstore

import (
	"context"
	"sort"
	"sync"
)

// memBackend is a map-backed Backend used to test the store without storage.
type memBackend struct {
	mu      sync.Mutex
	streams map[StreamID]StreamState
	events  map[Partition]map[StreamID][]Event
	commits int
	fail    error
}

func newMemBackend() *memBackend {
	return &memBackend{
		streams: map[StreamID]StreamState{},
		events: map[Partition]map[StreamID][]Event{
			PartitionActive:   {},
			PartitionArchived: {},
		},
	}
}

func (m *memBackend) Commit(ctx context.Context, b Batch) (CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return CommitResult{}, m.fail
	}
	plan, err := PlanCommit(b, m.streams)
	if err != nil {
		return CommitResult{}, err
	}
	for _, sp := range plan.Streams {
		if !sp.Changed() {
			continue
		}
		if sp.After.IsArchived {
			moved := append(m.events[PartitionActive][sp.Stream], sp.Appended...)
			for i := range moved {
				moved[i].Archived = true
			}
			m.events[PartitionArchived][sp.Stream] = append(m.events[PartitionArchived][sp.Stream], moved...)
			delete(m.events[PartitionActive], sp.Stream)
		} else {
			m.events[PartitionActive][sp.Stream] = append(m.events[PartitionActive][sp.Stream], sp.Appended...)
		}
		m.streams[sp.Stream] = sp.After
	}
	m.commits++
	return plan.Result(), nil
}

func (m *memBackend) LoadStream(ctx context.Context, id StreamID) (StreamState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.streams[id]
	return st, ok, nil
}

func (m *memBackend) ReadStream(ctx context.Context, id StreamID, p Partition, opts ReadOptions) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events[p][id] {
		if ev.Sequence < opts.FromSequence {
			continue
		}
		out = append(out, ev)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *memBackend) Scan(ctx context.Context, tenantID string, p Partition, opts ScanOptions) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Event
	for id, evs := range m.events[p] {
		if id.TenantID == tenantID {
			all = append(all, evs...)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StreamKey != all[j].StreamKey {
			return all[i].StreamKey < all[j].StreamKey
		}
		return all[i].Sequence < all[j].Sequence
	})
	var page Page
	for _, ev := range all {
		if opts.After != nil {
			if ev.StreamKey < opts.After.StreamKey || (ev.StreamKey == opts.After.StreamKey && ev.Sequence <= opts.After.Sequence) {
				continue
			}
		}
		if len(page.Events) == opts.Limit {
			last := page.Events[len(page.Events)-1]
			page.Next = &Cursor{StreamKey: last.StreamKey, Sequence: last.Sequence}
			break
		}
		page.Events = append(page.Events, ev)
	}
	return page, nil
}

func (m *memBackend) VerifyStream(ctx context.Context, id StreamID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.streams[id]
	wrong := PartitionArchived
	if st.IsArchived {
		wrong = PartitionActive
	}
	if len(m.events[wrong][id]) > 0 {
		return PartialCommit(id, "events in "+wrong.String()+" partition")
	}
	return nil
}

func (m *memBackend) Streams(ctx context.Context, tenantID string, fn func(StreamState) error) error {
	m.mu.Lock()
	var states []StreamState
	for id, st := range m.streams {
		if id.TenantID == tenantID {
			states = append(states, st)
		}
	}
	m.mu.Unlock()
	sort.Slice(states, func(i, j int) bool { return states[i].Key < states[j].Key })
	for _, st := range states {
		if err := fn(st); err != nil {
			return err
		}
	}
	return nil
}

func (m *memBackend) Tenants(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for id := range m.streams {
		if !seen[id.TenantID] {
			seen[id.TenantID] = true
			out = append(out, id.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memBackend) Health(ctx context.Context) error { return nil }
func (m *memBackend) Close() error                     { return nil }
