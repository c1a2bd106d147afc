package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/rzbill/evstore/internal/eventstore"
	"github.com/rzbill/evstore/internal/runtime"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// StreamsController exposes per-tenant stream operations.
//
// Every write runs in its own session, so a request maps onto exactly one
// atomic commit.
type StreamsController struct {
	store  *eventstore.Store
	logger logpkg.Logger
}

// NewStreamsController creates a new streams controller.
func NewStreamsController(rt *runtime.Runtime, logger logpkg.Logger) *StreamsController {
	return &StreamsController{store: rt.Store(), logger: logger}
}

// RegisterRoutes registers stream routes under /v1/tenants/{tenant}.
func (c *StreamsController) RegisterRoutes(r chi.Router) {
	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		r.Get("/streams", c.handleListStreams)
		r.Route("/streams/{stream}", func(r chi.Router) {
			r.Post("/events", c.handleAppend)
			r.Get("/events", c.handleReadEvents)
			r.Post("/archive", c.handleArchive)
			r.Get("/state", c.handleState)
			r.Get("/verify", c.handleVerify)
		})
		r.Get("/scan/{partition}", c.handleScan)
	})
}

func pathIDs(r *http.Request) (tenantID, stream string) {
	return chi.URLParam(r, "tenant"), chi.URLParam(r, "stream")
}

func expected(v *int64) eventstore.ExpectedVersion {
	if v == nil {
		return eventstore.AnyVersion
	}
	return eventstore.ExpectedVersion(*v)
}

// handleAppend appends the request's events and, when archive is set,
// archives the stream in the same commit.
func (c *StreamsController) handleAppend(w http.ResponseWriter, r *http.Request) {
	tenantID, stream := pathIDs(r)
	var req appendReq
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	events := make([]eventstore.NewEvent, 0, len(req.Events))
	for _, e := range req.Events {
		events = append(events, eventstore.NewEvent{Type: e.Type, Data: []byte(e.Data), Metadata: e.Metadata})
	}

	sess := c.store.LightweightSession()
	ts := sess.ForTenant(tenantID)
	if err := ts.AppendExpected(stream, expected(req.ExpectedVersion), events...); err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	if req.Archive {
		if err := ts.Archive(stream); err != nil {
			writeStoreError(w, c.logger, err)
			return
		}
	}
	res, err := sess.Commit(r.Context())
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	out := commitResp{Events: toEventsJSON(res.Appended)}
	if st, ok := res.State(eventstore.StreamID{TenantID: tenantID, Key: stream}); ok {
		out.State = &st
	}
	writeStatusJSON(w, http.StatusCreated, out)
}

func (c *StreamsController) handleArchive(w http.ResponseWriter, r *http.Request) {
	tenantID, stream := pathIDs(r)
	var req archiveReq
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sess := c.store.LightweightSession()
	if err := sess.ForTenant(tenantID).ArchiveExpected(stream, expected(req.ExpectedVersion)); err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	if _, err := sess.Commit(r.Context()); err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	st, err := c.store.FetchStreamState(r.Context(), tenantID, stream)
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	if st == nil {
		writeStoreError(w, c.logger, eventstore.ErrNotFound)
		return
	}
	writeJSON(w, st)
}

func (c *StreamsController) handleState(w http.ResponseWriter, r *http.Request) {
	tenantID, stream := pathIDs(r)
	st, err := c.store.FetchStreamState(r.Context(), tenantID, stream)
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	if st == nil {
		writeError(w, http.StatusNotFound, eventstore.ErrNotFound.Error())
		return
	}
	writeJSON(w, st)
}

// handleReadEvents returns the stream's events from the partition it lives
// in. Query: from (first sequence), limit.
func (c *StreamsController) handleReadEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, stream := pathIDs(r)
	q := r.URL.Query()
	var from int64
	if s := q.Get("from"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
		from = v
	}
	events, err := c.store.FetchStream(r.Context(), tenantID, stream, eventstore.ReadOptions{
		FromSequence: from,
		Limit:        parseLimit(q.Get("limit")),
	})
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	writeJSON(w, eventsResp{Events: toEventsJSON(events)})
}

func (c *StreamsController) handleVerify(w http.ResponseWriter, r *http.Request) {
	tenantID, stream := pathIDs(r)
	if err := c.store.VerifyStream(r.Context(), tenantID, stream); err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (c *StreamsController) handleListStreams(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	out := streamsResp{Streams: []eventstore.StreamState{}}
	err := c.store.Streams(r.Context(), tenantID, func(st eventstore.StreamState) error {
		out.Streams = append(out.Streams, st)
		return nil
	})
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	writeJSON(w, out)
}

// handleScan pages through one partition of a tenant.
// Query: cursor, limit, filter (CEL over event fields).
func (c *StreamsController) handleScan(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant")
	p, err := eventstore.ParsePartition(chi.URLParam(r, "partition"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	after, err := eventstore.ParseCursor(q.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := c.store.Scan(r.Context(), tenantID, p, eventstore.ScanOptions{
		After:  after,
		Limit:  parseLimit(q.Get("limit")),
		Filter: q.Get("filter"),
	})
	if err != nil {
		writeStoreError(w, c.logger, err)
		return
	}
	out := scanResp{Events: toEventsJSON(page.Events)}
	if page.Next != nil {
		out.Next = page.Next.String()
	}
	writeJSON(w, out)
}
