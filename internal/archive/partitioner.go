// Package archive routes stream writes between the active and archived
// partitions and audits that every stream's events sit where its registry
// entry says they do.
package archive

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/evstore/internal/eventlog"
	"github.com/rzbill/evstore/internal/eventstore"
	"github.com/rzbill/evstore/internal/registry"
	pebblestore "github.com/rzbill/evstore/internal/storage/pebble"
)

// Partitioner stages the writes of one planned stream change and verifies
// partition placement.
type Partitioner struct {
	db  *pebblestore.DB
	log *eventlog.Log
	reg *registry.Registry
}

// NewPartitioner returns a Partitioner over the given log and registry, both
// opened on db.
func NewPartitioner(db *pebblestore.DB, log *eventlog.Log, reg *registry.Registry) *Partitioner {
	return &Partitioner{db: db, log: log, reg: reg}
}

// Stage writes sp into batch b. When sp archives the stream, committed active
// events are moved to the archived partition and new events go straight there,
// together with the registry flag flip. Callers hold the stream lock.
func (p *Partitioner) Stage(ctx context.Context, b *pebble.Batch, sp *eventstore.StreamPlan) error {
	if !sp.Changed() {
		return nil
	}
	if sp.Archive && sp.Existed {
		if _, err := p.log.StageArchive(ctx, b, sp.Stream); err != nil {
			return fmt.Errorf("archive %s: %w", sp.Stream, err)
		}
	}
	if err := p.log.StageAppend(b, sp.After.Partition(), sp.Appended); err != nil {
		return fmt.Errorf("append %s: %w", sp.Stream, err)
	}
	return p.reg.StagePut(b, sp.After)
}

// Verify checks that the stream's events all sit in the partition its
// archived flag selects, with contiguous sequences 1..version. The registry
// entry and both partitions are read from one snapshot.
func (p *Partitioner) Verify(ctx context.Context, id eventstore.StreamID) error {
	snap, err := p.db.NewSnapshot()
	if err != nil {
		return err
	}
	defer snap.Close()
	reg, log := p.reg.At(snap), p.log.At(snap)

	st, ok, err := reg.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("verify: %w: %s", eventstore.ErrNotFound, id)
	}
	home := st.Partition()
	other := eventstore.PartitionArchived
	if st.IsArchived {
		other = eventstore.PartitionActive
	}

	stray, err := log.StreamBounds(ctx, id, other)
	if err != nil {
		return err
	}
	if !stray.Empty() {
		return eventstore.PartialCommit(id, fmt.Sprintf("%d events in %s partition (seq %d..%d), registry says %s",
			stray.Count, other, stray.First, stray.Last, home))
	}

	got, err := log.StreamBounds(ctx, id, home)
	if err != nil {
		return err
	}
	if int64(got.Count) != st.Version || (got.Count > 0 && (got.First != 1 || int64(got.Last) != st.Version)) {
		return eventstore.PartialCommit(id, fmt.Sprintf("%s partition holds %d events (seq %d..%d), registry version %d",
			home, got.Count, got.First, got.Last, st.Version))
	}
	return nil
}
