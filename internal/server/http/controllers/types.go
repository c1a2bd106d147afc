package controllers

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/rzbill/evstore/internal/eventstore"
)

// newEventReq is one event in an append request. Data must be JSON.
type newEventReq struct {
	Type     string            `json:"type" validate:"required,max=256"`
	Data     json.RawMessage   `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// appendReq appends events to one stream. A nil ExpectedVersion skips the
// version check; 0 requires a new stream.
type appendReq struct {
	ExpectedVersion *int64        `json:"expectedVersion,omitempty" validate:"omitempty,gte=-1"`
	Archive         bool          `json:"archive,omitempty"`
	Events          []newEventReq `json:"events" validate:"dive"`
}

// archiveReq archives one stream.
type archiveReq struct {
	ExpectedVersion *int64 `json:"expectedVersion,omitempty" validate:"omitempty,gte=-1"`
}

type errorResp struct {
	Error string `json:"error"`
}

type conflictResp struct {
	Error    string `json:"error"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// eventJSON renders an event. Data is inlined when it is valid JSON and
// carried as a string otherwise.
type eventJSON struct {
	ID        string            `json:"id"`
	Stream    string            `json:"stream"`
	Sequence  int64             `json:"sequence"`
	Type      string            `json:"type"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Archived  bool              `json:"archived"`
}

func toEventJSON(ev eventstore.Event) eventJSON {
	data := json.RawMessage(ev.Data)
	if len(data) == 0 {
		data = json.RawMessage("null")
	} else if !json.Valid(data) {
		data, _ = json.Marshal(string(ev.Data))
	}
	return eventJSON{
		ID:        ev.ID.String(),
		Stream:    ev.StreamKey,
		Sequence:  ev.Sequence,
		Type:      ev.Type,
		Data:      data,
		Metadata:  ev.Metadata,
		Timestamp: ev.Timestamp,
		Archived:  ev.Archived,
	}
}

func toEventsJSON(events []eventstore.Event) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventJSON(ev))
	}
	return out
}

type eventsResp struct {
	Events []eventJSON `json:"events"`
}

type commitResp struct {
	State  *eventstore.StreamState `json:"state,omitempty"`
	Events []eventJSON             `json:"events"`
}

type scanResp struct {
	Events []eventJSON `json:"events"`
	// Next is the cursor for the following page, empty when exhausted.
	Next string `json:"next,omitempty"`
}

type streamsResp struct {
	Streams []eventstore.StreamState `json:"streams"`
}

type tenantsResp struct {
	Tenants []string `json:"tenants"`
}
