// Package notify publishes commit notifications on an in-process watermill
// pub/sub. Subscribers receive one message per appended event and one per
// archived stream, after the commit is durable.
package notify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/rzbill/evstore/internal/eventstore"
	logpkg "github.com/rzbill/evstore/pkg/log"
)

// Topic suffixes, prefixed with Options.TopicPrefix.
const (
	TopicEventsAppended  = "events.appended"
	TopicStreamsArchived = "streams.archived"
)

// Metadata keys set on every message.
const (
	MetaTenant = "tenant"
	MetaStream = "stream"
)

// EventAppended is the payload of an events.appended message. Event data is
// not included; consumers read it back through the store.
type EventAppended struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	StreamKey string    `json:"streamKey"`
	Sequence  int64     `json:"sequence"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamArchived is the payload of a streams.archived message.
type StreamArchived struct {
	TenantID   string    `json:"tenantId"`
	StreamKey  string    `json:"streamKey"`
	Version    int64     `json:"version"`
	ArchivedAt time.Time `json:"archivedAt"`
}

// Options configures a Notifier.
type Options struct {
	TopicPrefix string
	// Buffer is the per-subscriber output channel size.
	Buffer int64
	Logger logpkg.Logger
}

// Notifier implements eventstore.CommitObserver.
type Notifier struct {
	pubsub *gochannel.GoChannel
	prefix string
	logger logpkg.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates a Notifier backed by a gochannel pub/sub.
func New(opts Options) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	logger = logger.With(logpkg.Component("notify"))
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: opts.Buffer,
	}, logpkg.NewWatermillAdapter(logger))
	return &Notifier{pubsub: ps, prefix: opts.TopicPrefix, logger: logger}
}

// Topic returns the full topic name for suffix.
func (n *Notifier) Topic(suffix string) string { return n.prefix + suffix }

// Subscribe returns messages published on topic until ctx is done or the
// notifier closes. Consumers must Ack each message.
func (n *Notifier) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return n.pubsub.Subscribe(ctx, topic)
}

// Subscriber exposes the underlying watermill subscriber.
func (n *Notifier) Subscriber() message.Subscriber { return n.pubsub }

// Committed publishes notifications for res. Publish failures are logged;
// the commit has already succeeded.
func (n *Notifier) Committed(_ context.Context, res eventstore.CommitResult) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	if len(res.Appended) > 0 {
		msgs := make([]*message.Message, 0, len(res.Appended))
		for _, ev := range res.Appended {
			msg, err := newMessage(ev.ID.String(), EventAppended{
				ID:        ev.ID.String(),
				TenantID:  ev.TenantID,
				StreamKey: ev.StreamKey,
				Sequence:  ev.Sequence,
				Type:      ev.Type,
				Timestamp: ev.Timestamp,
			})
			if err != nil {
				n.logger.Error("encode notification", logpkg.Err(err))
				continue
			}
			msg.Metadata.Set(MetaTenant, ev.TenantID)
			msg.Metadata.Set(MetaStream, ev.StreamKey)
			msg.Metadata.Set("sequence", strconv.FormatInt(ev.Sequence, 10))
			msgs = append(msgs, msg)
		}
		n.publish(TopicEventsAppended, msgs)
	}

	if len(res.Archived) > 0 {
		msgs := make([]*message.Message, 0, len(res.Archived))
		for _, id := range res.Archived {
			payload := StreamArchived{TenantID: id.TenantID, StreamKey: id.Key, ArchivedAt: res.CommittedAt}
			if st, ok := res.State(id); ok {
				payload.Version = st.Version
				if st.ArchivedAt != nil {
					payload.ArchivedAt = *st.ArchivedAt
				}
			}
			msg, err := newMessage(uuid.NewString(), payload)
			if err != nil {
				n.logger.Error("encode notification", logpkg.Err(err))
				continue
			}
			msg.Metadata.Set(MetaTenant, id.TenantID)
			msg.Metadata.Set(MetaStream, id.Key)
			msgs = append(msgs, msg)
		}
		n.publish(TopicStreamsArchived, msgs)
	}
}

func (n *Notifier) publish(suffix string, msgs []*message.Message) {
	if len(msgs) == 0 {
		return
	}
	topic := n.Topic(suffix)
	if err := n.pubsub.Publish(topic, msgs...); err != nil {
		n.logger.Warn("publish notification failed",
			logpkg.Str("topic", topic), logpkg.Int("messages", len(msgs)), logpkg.Err(err))
	}
}

// Close stops delivery and closes subscriber channels.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.pubsub.Close()
}

func newMessage(id string, payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", payload, err)
	}
	return message.NewMessage(id, data), nil
}
