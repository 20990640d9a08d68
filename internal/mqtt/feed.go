package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
)

// Op is the kind of document mutation a notice describes.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// ChangeNotice announces a document mutation to other devices.
type ChangeNotice struct {
	Origin     string          `json:"origin"`
	Collection string          `json:"collection"`
	DocID      string          `json:"docId"`
	Partition  string          `json:"partition"`
	Op         Op              `json:"op"`
	Data       json.RawMessage `json:"data,omitempty"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// NoticeHandler receives decoded notices from other devices.
type NoticeHandler func(ChangeNotice)

// topicEscaper keeps partition and collection names within one topic level.
var topicEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

// Feed publishes and receives change notices on topics of the form
// <prefix>/<collection>/<partition>. Notices published by this device are not
// delivered back to its own handlers.
type Feed struct {
	client Client
	prefix string
	origin string
	log    logger.Logger

	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]NoticeHandler // topic filter -> handlers
}

// NewFeed creates a feed on client. origin identifies this device.
func NewFeed(client Client, prefix, origin string, log logger.Logger) *Feed {
	return &Feed{
		client:   client,
		prefix:   strings.TrimRight(prefix, "/"),
		origin:   origin,
		log:      log,
		handlers: make(map[string]map[uint64]NoticeHandler),
	}
}

// Origin returns the id stamped on notices published by this feed.
func (f *Feed) Origin() string {
	return f.origin
}

// Topic returns the topic for a collection and partition. An empty partition
// yields a filter matching every partition of the collection.
func (f *Feed) Topic(collection, partition string) string {
	level := "+"
	if partition != "" {
		level = topicEscaper.Replace(partition)
	}
	return f.prefix + "/" + topicEscaper.Replace(collection) + "/" + level
}

// Publish stamps the notice with this device's origin and sends it.
func (f *Feed) Publish(ctx context.Context, n ChangeNotice) error {
	n.Origin = f.origin
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("collection", n.Collection).
			Build()
	}
	return f.client.Publish(ctx, f.Topic(n.Collection, n.Partition), payload)
}

// Subscribe delivers notices for a collection and partition to handler until
// the returned cancel function is called. Several handlers may share a topic;
// the broker subscription is held while at least one remains.
func (f *Feed) Subscribe(ctx context.Context, collection, partition string, handler NoticeHandler) (cancel func(), err error) {
	filter := f.Topic(collection, partition)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	hs, exists := f.handlers[filter]
	if !exists {
		hs = make(map[uint64]NoticeHandler)
		f.handlers[filter] = hs
	}
	hs[id] = handler
	f.mu.Unlock()

	if !exists {
		if err := f.client.Subscribe(ctx, filter, func(_ string, payload []byte) { f.dispatch(filter, payload) }); err != nil {
			f.remove(filter, id)
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if f.remove(filter, id) {
				unsubCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := f.client.Unsubscribe(unsubCtx, filter); err != nil {
					f.log.Warn("failed to unsubscribe", logger.String("filter", filter), logger.Error(err))
				}
			}
		})
	}, nil
}

// remove drops a handler and reports whether it was the last one on filter.
func (f *Feed) remove(filter string, id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.handlers[filter]
	delete(hs, id)
	if len(hs) == 0 {
		delete(f.handlers, filter)
		return true
	}
	return false
}

func (f *Feed) dispatch(filter string, payload []byte) {
	var n ChangeNotice
	if err := json.Unmarshal(payload, &n); err != nil {
		f.log.Warn("dropping undecodable change notice", logger.String("filter", filter), logger.Error(err))
		return
	}
	if n.Origin == f.origin {
		return
	}

	f.mu.Lock()
	hs := make([]NoticeHandler, 0, len(f.handlers[filter]))
	for _, h := range f.handlers[filter] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(n)
	}
}
