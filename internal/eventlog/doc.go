// Package eventlog stores stream events in Pebble.
//
// # Overview
//
// Events live in one of two partitions. A stream's events are all in the
// active partition until the stream is archived, then all in the archived
// partition. Keys are lexicographically ordered for efficient range scans:
//   - ev/a/{tenant}{stream}{seq_be8}   (active)
//   - ev/x/{tenant}{stream}{seq_be8}   (archived)
//
// Records are stored as: uvarint headerLen | header | payload | crc32c(header|payload).
// The header is JSON carrying the event id, type, timestamp and metadata; the
// payload is the event body.
//
// API surface (internal)
//
//	l := eventlog.New(db)
//	b := db.NewBatch()
//	_ = l.StageAppend(b, eventstore.PartitionActive, events)
//	_, _ = l.StageArchive(ctx, b, id) // move active events to archived
//	_ = db.CommitBatch(ctx, b)
//
//	events, _ := l.ReadStream(ctx, id, eventstore.PartitionActive, eventstore.ReadOptions{})
//	page, _ := l.Scan(ctx, "acme", eventstore.PartitionArchived, eventstore.ScanOptions{Limit: 100})
//	_ = page.Next // resume position
//
// Staging reads committed state only. Callers hold the stream locks for every
// stream staged into a batch until it commits.
package eventlog
