package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/rzbill/evstore/internal/eventstore"
)

const eventColumns = `stream_key, sequence, event_id, event_type, data, metadata, ts_ns`

// streamsPage bounds how many registry rows Streams buffers per query.
const streamsPage = 500

func (s *Store) LoadStream(ctx context.Context, id eventstore.StreamID) (eventstore.StreamState, bool, error) {
	var (
		st eventstore.StreamState
		ok bool
	)
	err := s.guard("load stream", func() error {
		var err error
		st, ok, err = s.loadStream(ctx, s.db, id, false)
		return err
	})
	return st, ok, err
}

func (s *Store) ReadStream(ctx context.Context, id eventstore.StreamID, p eventstore.Partition, opts eventstore.ReadOptions) ([]eventstore.Event, error) {
	from := opts.FromSequence
	if from < 1 {
		from = 1
	}
	query := `SELECT ` + eventColumns + ` FROM ` + table(p) + `
WHERE tenant_id = ? AND stream_key = ? AND sequence >= ? ORDER BY sequence`
	args := []any{id.TenantID, id.Key, from}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	var out []eventstore.Event
	err := s.guard("read stream", func() error {
		var err error
		out, err = s.queryEvents(ctx, id.TenantID, p, query, args...)
		return err
	})
	return out, err
}

func (s *Store) Scan(ctx context.Context, tenantID string, p eventstore.Partition, opts eventstore.ScanOptions) (eventstore.Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = eventstore.DefaultScanLimit
	}
	if limit > s.scanMax {
		limit = s.scanMax
	}
	query := `SELECT ` + eventColumns + ` FROM ` + table(p) + ` WHERE tenant_id = ?`
	args := []any{tenantID}
	if opts.After != nil {
		query += ` AND (stream_key > ? OR (stream_key = ? AND sequence > ?))`
		args = append(args, opts.After.StreamKey, opts.After.StreamKey, opts.After.Sequence)
	}
	query += ` ORDER BY stream_key, sequence LIMIT ?`
	args = append(args, limit+1)

	var page eventstore.Page
	err := s.guard("scan", func() error {
		events, err := s.queryEvents(ctx, tenantID, p, query, args...)
		if err != nil {
			return err
		}
		if len(events) > limit {
			events = events[:limit]
			last := events[limit-1]
			page.Next = &eventstore.Cursor{StreamKey: last.StreamKey, Sequence: last.Sequence}
		}
		page.Events = events
		return nil
	})
	return page, err
}

func (s *Store) queryEvents(ctx context.Context, tenantID string, p eventstore.Partition, query string, args ...any) ([]eventstore.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventstore.Event
	for rows.Next() {
		var (
			ev      eventstore.Event
			eventID string
			meta    sql.NullString
			ts      int64
		)
		if err := rows.Scan(&ev.StreamKey, &ev.Sequence, &eventID, &ev.Type, &ev.Data, &meta, &ts); err != nil {
			return nil, err
		}
		if ev.ID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("event %s/%d: %w", ev.StreamKey, ev.Sequence, err)
		}
		if ev.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("event %s/%d metadata: %w", ev.StreamKey, ev.Sequence, err)
		}
		ev.TenantID = tenantID
		ev.Timestamp = fromNanos(ts)
		ev.Archived = p == eventstore.PartitionArchived
		out = append(out, ev)
	}
	return out, rows.Err()
}

type bounds struct {
	count       int64
	first, last sql.NullInt64
}

func (s *Store) bounds(ctx context.Context, id eventstore.StreamID, p eventstore.Partition) (bounds, error) {
	var b bounds
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*), MIN(sequence), MAX(sequence) FROM `+table(p)+
		` WHERE tenant_id = ? AND stream_key = ?`), id.TenantID, id.Key).Scan(&b.count, &b.first, &b.last)
	return b, err
}

// VerifyStream checks partition placement and sequence contiguity.
func (s *Store) VerifyStream(ctx context.Context, id eventstore.StreamID) error {
	return s.guard("verify", func() error {
		st, ok, err := s.loadStream(ctx, s.db, id, false)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("verify: %w: %s", eventstore.ErrNotFound, id)
		}
		other := eventstore.PartitionArchived
		if st.IsArchived {
			other = eventstore.PartitionActive
		}
		stray, err := s.bounds(ctx, id, other)
		if err != nil {
			return err
		}
		if stray.count > 0 {
			return eventstore.PartialCommit(id, fmt.Sprintf("%d events in %s, registry says %s",
				stray.count, table(other), table(st.Partition())))
		}
		home, err := s.bounds(ctx, id, st.Partition())
		if err != nil {
			return err
		}
		if home.count != st.Version || (home.count > 0 && (home.first.Int64 != 1 || home.last.Int64 != st.Version)) {
			return eventstore.PartialCommit(id, fmt.Sprintf("%s holds %d events (seq %d..%d), registry version %d",
				table(st.Partition()), home.count, home.first.Int64, home.last.Int64, st.Version))
		}
		return nil
	})
}

// Streams pages through the tenant's registry rows and calls fn outside any
// open result set, so fn may issue its own queries.
func (s *Store) Streams(ctx context.Context, tenantID string, fn func(eventstore.StreamState) error) error {
	after := ""
	first := true
	for {
		var batch []eventstore.StreamState
		err := s.guard("streams", func() error {
			query := `SELECT stream_key, version, is_archived, created_at_ns, last_ts_ns, archived_at_ns FROM streams
WHERE tenant_id = ? AND version > 0`
			args := []any{tenantID}
			if !first {
				query += ` AND stream_key > ?`
				args = append(args, after)
			}
			query += ` ORDER BY stream_key LIMIT ?`
			args = append(args, streamsPage)
			rows, err := s.db.QueryContext(ctx, s.q(query), args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				var (
					st         = eventstore.StreamState{TenantID: tenantID}
					archived   int
					created    int64
					last       int64
					archivedAt sql.NullInt64
				)
				if err := rows.Scan(&st.Key, &st.Version, &archived, &created, &last, &archivedAt); err != nil {
					return err
				}
				st.IsArchived = archived != 0
				st.CreatedAt = fromNanos(created)
				st.LastTimestamp = fromNanos(last)
				if archivedAt.Valid {
					t := fromNanos(archivedAt.Int64)
					st.ArchivedAt = &t
				}
				batch = append(batch, st)
			}
			return rows.Err()
		})
		if err != nil {
			return err
		}
		for _, st := range batch {
			if err := fn(st); err != nil {
				return err
			}
		}
		if len(batch) < streamsPage {
			return nil
		}
		after = batch[len(batch)-1].Key
		first = false
	}
}

func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	var out []string
	err := s.guard("tenants", func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM tenants ORDER BY tenant_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t string
			if err := rows.Scan(&t); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}
