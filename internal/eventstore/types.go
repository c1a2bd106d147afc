package eventstore

import (
	"encoding/base64"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// StreamID is the composite identity of a stream.
type StreamID struct {
	TenantID string
	Key      string
}

func (id StreamID) String() string { return id.TenantID + "/" + id.Key }

// Less orders stream ids by tenant then key.
func (id StreamID) Less(other StreamID) bool {
	if id.TenantID != other.TenantID {
		return id.TenantID < other.TenantID
	}
	return id.Key < other.Key
}

// StreamState is a snapshot of a stream's registry entry.
type StreamState struct {
	TenantID      string     `json:"tenantId"`
	Key           string     `json:"key"`
	Version       int64      `json:"version"`
	IsArchived    bool       `json:"isArchived"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastTimestamp time.Time  `json:"lastTimestamp"`
	ArchivedAt    *time.Time `json:"archivedAt,omitempty"`
}

// ID returns the stream identity.
func (s StreamState) ID() StreamID { return StreamID{TenantID: s.TenantID, Key: s.Key} }

// Partition returns the partition holding the stream's events.
func (s StreamState) Partition() Partition {
	if s.IsArchived {
		return PartitionArchived
	}
	return PartitionActive
}

// Event is a committed, immutable event.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	TenantID  string            `json:"tenantId"`
	StreamKey string            `json:"streamKey"`
	Sequence  int64             `json:"sequence"`
	Type      string            `json:"type"`
	Data      []byte            `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	// Archived reports whether the event was read from the archived partition.
	Archived bool `json:"archived"`
}

// NewEvent is an event that has not been committed yet.
type NewEvent struct {
	Type     string
	Data     []byte
	Metadata map[string]string
}

// NewJSONEvent serializes v as the event body.
func NewJSONEvent(eventType string, v any) (NewEvent, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return NewEvent{}, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return NewEvent{Type: eventType, Data: b}, nil
}

// ExpectedVersion is the optimistic concurrency expectation for a stream.
type ExpectedVersion int64

const (
	// AnyVersion disables the version check.
	AnyVersion ExpectedVersion = -1
	// NoStream requires that the stream does not exist yet.
	NoStream ExpectedVersion = 0
)

// Partition selects active or archived storage.
type Partition uint8

const (
	PartitionActive Partition = iota
	PartitionArchived
)

func (p Partition) String() string {
	if p == PartitionArchived {
		return "archived"
	}
	return "active"
}

// ParsePartition parses "active" or "archived".
func ParsePartition(s string) (Partition, error) {
	switch s {
	case "active":
		return PartitionActive, nil
	case "archived":
		return PartitionArchived, nil
	default:
		return PartitionActive, fmt.Errorf("unknown partition %q", s)
	}
}

// ReadOptions bounds a single-stream read.
type ReadOptions struct {
	// FromSequence is the first sequence to return (inclusive). Zero means 1.
	FromSequence int64
	// Limit caps the number of events. Zero means no limit.
	Limit int
}

// Cursor is a resume position for partition scans.
type Cursor struct {
	StreamKey string `json:"k"`
	Sequence  int64  `json:"s"`
}

// String encodes the cursor as an opaque token.
func (c Cursor) String() string {
	b, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(b)
}

// ParseCursor decodes a token produced by Cursor.String.
func ParseCursor(tok string) (*Cursor, error) {
	if tok == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(tok)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	return &c, nil
}

// ScanOptions bounds a partition scan for one tenant.
type ScanOptions struct {
	// After resumes strictly after the given position.
	After *Cursor
	// Limit caps the number of events in the page. Zero means DefaultScanLimit.
	Limit int
	// Filter is an optional CEL expression evaluated per event.
	Filter string
}

// DefaultScanLimit is used when ScanOptions.Limit is zero.
const DefaultScanLimit = 500

// Page is one page of a partition scan, ordered by stream key then sequence.
type Page struct {
	Events []Event
	// Next is nil when the scan is exhausted.
	Next *Cursor
}

// CommitResult summarizes an applied Batch.
type CommitResult struct {
	CommittedAt time.Time
	// Streams holds the post-commit state of every stream the batch changed.
	Streams []StreamState
	// Appended lists the new events in commit order.
	Appended []Event
	// Archived lists the streams this batch moved to the archived partition.
	Archived []StreamID
}

// State returns the post-commit state of id, if the batch changed it.
func (r CommitResult) State(id StreamID) (StreamState, bool) {
	for _, s := range r.Streams {
		if s.ID() == id {
			return s, true
		}
	}
	return StreamState{}, false
}
