package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rzbill/evstore/internal/eventstore"
)

// Commit applies b in one transaction.
func (s *Store) Commit(ctx context.Context, b eventstore.Batch) (eventstore.CommitResult, error) {
	var res eventstore.CommitResult
	err := s.guard("commit", func() error {
		var err error
		res, err = s.commit(ctx, b)
		return err
	})
	return res, err
}

func (s *Store) commit(ctx context.Context, b eventstore.Batch) (eventstore.CommitResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eventstore.CommitResult{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := b.StreamIDs()
	current := make(map[eventstore.StreamID]eventstore.StreamState, len(ids))
	for _, id := range ids {
		// Placeholder rows give concurrent first writers a row to lock.
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO streams (tenant_id, stream_key) VALUES (?, ?) ON CONFLICT DO NOTHING`),
			id.TenantID, id.Key); err != nil {
			return eventstore.CommitResult{}, fmt.Errorf("reserve %s: %w", id, err)
		}
		st, ok, err := s.loadStream(ctx, tx, id, true)
		if err != nil {
			return eventstore.CommitResult{}, err
		}
		if ok {
			current[id] = st
		}
	}

	plan, err := eventstore.PlanCommit(b, current)
	if err != nil {
		return eventstore.CommitResult{}, err
	}

	tenants := map[string]bool{}
	for _, sp := range plan.Streams {
		if !sp.Changed() {
			if !sp.Existed {
				if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM streams WHERE tenant_id = ? AND stream_key = ? AND version = 0`),
					sp.Stream.TenantID, sp.Stream.Key); err != nil {
					return eventstore.CommitResult{}, fmt.Errorf("release %s: %w", sp.Stream, err)
				}
			}
			continue
		}
		if !tenants[sp.Stream.TenantID] {
			tenants[sp.Stream.TenantID] = true
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO tenants (tenant_id, created_at_ns) VALUES (?, ?) ON CONFLICT DO NOTHING`),
				sp.Stream.TenantID, b.At.UnixNano()); err != nil {
				return eventstore.CommitResult{}, fmt.Errorf("tenant %s: %w", sp.Stream.TenantID, err)
			}
		}
		if err := s.stage(ctx, tx, sp); err != nil {
			return eventstore.CommitResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return eventstore.CommitResult{}, fmt.Errorf("commit: %w", err)
	}
	return plan.Result(), nil
}

// stage writes one stream's change: partition move, appends, registry row.
func (s *Store) stage(ctx context.Context, tx *sql.Tx, sp *eventstore.StreamPlan) error {
	id := sp.Stream
	if sp.Archive && sp.Existed {
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO `+tableArchived+` (tenant_id, stream_key, sequence, event_id, event_type, data, metadata, ts_ns)
SELECT tenant_id, stream_key, sequence, event_id, event_type, data, metadata, ts_ns FROM `+tableActive+`
WHERE tenant_id = ? AND stream_key = ?`), id.TenantID, id.Key); err != nil {
			return fmt.Errorf("archive %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM `+tableActive+` WHERE tenant_id = ? AND stream_key = ?`),
			id.TenantID, id.Key); err != nil {
			return fmt.Errorf("archive %s: %w", id, err)
		}
	}

	if len(sp.Appended) > 0 {
		ins, err := tx.PrepareContext(ctx, s.q(`INSERT INTO `+table(sp.After.Partition())+
			` (tenant_id, stream_key, sequence, event_id, event_type, data, metadata, ts_ns) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return fmt.Errorf("append %s: %w", id, err)
		}
		defer ins.Close()
		for _, ev := range sp.Appended {
			meta, err := encodeMetadata(ev.Metadata)
			if err != nil {
				return fmt.Errorf("append %s: %w", id, err)
			}
			if _, err := ins.ExecContext(ctx, id.TenantID, id.Key, ev.Sequence, ev.ID.String(), ev.Type,
				ev.Data, meta, ev.Timestamp.UnixNano()); err != nil {
				return fmt.Errorf("append %s seq %d: %w", id, ev.Sequence, err)
			}
		}
	}

	st := sp.After
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE streams SET version = ?, is_archived = ?, created_at_ns = ?, last_ts_ns = ?, archived_at_ns = ?
WHERE tenant_id = ? AND stream_key = ?`),
		st.Version, boolInt(st.IsArchived), st.CreatedAt.UnixNano(), st.LastTimestamp.UnixNano(), nullTime(st.ArchivedAt),
		id.TenantID, id.Key); err != nil {
		return fmt.Errorf("registry %s: %w", id, err)
	}
	return nil
}

// loadStream reads a registry row. Rows at version 0 are reservations and
// count as absent.
func (s *Store) loadStream(ctx context.Context, q queryer, id eventstore.StreamID, forUpdate bool) (eventstore.StreamState, bool, error) {
	query := `SELECT version, is_archived, created_at_ns, last_ts_ns, archived_at_ns FROM streams WHERE tenant_id = ? AND stream_key = ?`
	if forUpdate {
		query += s.d.lockSuffix
	}
	var (
		version, created, last int64
		archived               int
		archivedAt             sql.NullInt64
	)
	err := q.QueryRowContext(ctx, s.q(query), id.TenantID, id.Key).Scan(&version, &archived, &created, &last, &archivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return eventstore.StreamState{}, false, nil
	}
	if err != nil {
		return eventstore.StreamState{}, false, fmt.Errorf("load %s: %w", id, err)
	}
	if version == 0 {
		return eventstore.StreamState{}, false, nil
	}
	st := eventstore.StreamState{
		TenantID:      id.TenantID,
		Key:           id.Key,
		Version:       version,
		IsArchived:    archived != 0,
		CreatedAt:     fromNanos(created),
		LastTimestamp: fromNanos(last),
	}
	if archivedAt.Valid {
		t := fromNanos(archivedAt.Int64)
		st.ArchivedAt = &t
	}
	return st, true, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func encodeMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
