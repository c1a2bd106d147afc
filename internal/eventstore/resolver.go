package eventstore

import (
	"context"
	"errors"
	"strings"

	logpkg "github.com/rzbill/evstore/pkg/log"
)

func (s *Store) streamID(tenantID, key string) (StreamID, error) {
	if err := s.validateTenant(tenantID); err != nil {
		return StreamID{}, err
	}
	if strings.TrimSpace(key) == "" {
		return StreamID{}, ErrStreamKeyRequired
	}
	return StreamID{TenantID: tenantID, Key: key}, nil
}

// FetchStreamState returns the latest committed state of the stream, or
// (nil, nil) when it does not exist. Results are never cached.
func (s *Store) FetchStreamState(ctx context.Context, tenantID, key string) (*StreamState, error) {
	id, err := s.streamID(tenantID, key)
	if err != nil {
		return nil, err
	}
	st, ok, err := s.backend.LoadStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &st, nil
}

// FetchStream returns the stream's events in sequence order, read from the
// partition the stream currently lives in. Unknown streams yield no events.
func (s *Store) FetchStream(ctx context.Context, tenantID, key string, opts ReadOptions) ([]Event, error) {
	id, err := s.streamID(tenantID, key)
	if err != nil {
		return nil, err
	}
	st, ok, err := s.backend.LoadStream(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	events, err := s.backend.ReadStream(ctx, id, st.Partition(), opts)
	if err != nil {
		return nil, err
	}
	if st.IsArchived {
		return events, nil
	}
	// An archive may have committed between the registry read and the
	// partition read. Archival is terminal, so one re-read settles it.
	again, ok, err := s.backend.LoadStream(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok && again.IsArchived {
		return s.backend.ReadStream(ctx, id, PartitionArchived, opts)
	}
	return events, nil
}

// ScanActive pages through a tenant's active partition.
func (s *Store) ScanActive(ctx context.Context, tenantID string, opts ScanOptions) (Page, error) {
	return s.Scan(ctx, tenantID, PartitionActive, opts)
}

// ScanArchived pages through a tenant's archived partition.
func (s *Store) ScanArchived(ctx context.Context, tenantID string, opts ScanOptions) (Page, error) {
	return s.Scan(ctx, tenantID, PartitionArchived, opts)
}

// Scan pages through one partition of a tenant, applying opts.Filter.
func (s *Store) Scan(ctx context.Context, tenantID string, p Partition, opts ScanOptions) (Page, error) {
	if err := s.validateTenant(tenantID); err != nil {
		return Page{}, err
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultScanLimit
	}
	filter, err := newCELFilter(opts.Filter)
	if err != nil {
		return Page{}, err
	}
	if !filter.enabled {
		return s.backend.Scan(ctx, tenantID, p, opts)
	}

	out := Page{Events: make([]Event, 0, opts.Limit)}
	cursor := opts.After
	for {
		page, err := s.backend.Scan(ctx, tenantID, p, ScanOptions{After: cursor, Limit: opts.Limit})
		if err != nil {
			return Page{}, err
		}
		for _, ev := range page.Events {
			if !filter.Eval(ev) {
				continue
			}
			out.Events = append(out.Events, ev)
			if len(out.Events) == opts.Limit {
				out.Next = &Cursor{StreamKey: ev.StreamKey, Sequence: ev.Sequence}
				return out, nil
			}
		}
		if page.Next == nil {
			return out, nil
		}
		cursor = page.Next
	}
}

// VerifyStream checks that the stream's events sit in the partition its
// archived flag points to.
func (s *Store) VerifyStream(ctx context.Context, tenantID, key string) error {
	id, err := s.streamID(tenantID, key)
	if err != nil {
		return err
	}
	err = s.backend.VerifyStream(ctx, id)
	if errors.Is(err, ErrPartialCommit) {
		s.instr.ObservePartialCommit(id)
		s.logger.Error("integrity check failed",
			logpkg.Tenant(id.TenantID), logpkg.Stream(id.Key), logpkg.Err(err))
	}
	return err
}

// Streams calls fn for every stream of the tenant in key order.
func (s *Store) Streams(ctx context.Context, tenantID string, fn func(StreamState) error) error {
	if err := s.validateTenant(tenantID); err != nil {
		return err
	}
	return s.backend.Streams(ctx, tenantID, fn)
}

// Tenants lists every tenant with at least one stream.
func (s *Store) Tenants(ctx context.Context) ([]string, error) {
	return s.backend.Tenants(ctx)
}
