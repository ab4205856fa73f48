// Package fanout broadcasts lifecycle events to subscribers through
// bounded, non-blocking per-subscriber queues. Grounded on the teacher's
// pkg/events.ConnectionManager, trimmed to this engine's narrower
// contract: no PG LISTEN/NOTIFY, no catchup-from-DB (out of scope here —
// owned by whatever HTTP/WebSocket layer sits in front of this package),
// but the bounded non-blocking queue discipline and its drop policy are
// carried over in spirit.
package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// queueCapacity bounds each subscriber's channel. A slow subscriber that
// fills its queue is disconnected rather than allowed to stall Publish.
const queueCapacity = 64

// Event is one lifecycle event published to every subscriber, regardless
// of which campaign it concerns — filtering by campaign id is the
// subscriber's responsibility.
type Event struct {
	CampaignID string         `json:"campaign_id"`
	EventType  string         `json:"event_type"`
	Payload    map[string]any `json:"payload"`
}

// Fanout is a set of per-subscriber bounded queues. Publish never blocks:
// a full subscriber queue triggers that subscriber's removal (drop
// policy), documented per spec.md §4.5's "MUST be documented" requirement.
type Fanout struct {
	mu       sync.RWMutex
	subs     map[string]chan []byte
	capacity int
}

// New returns an empty Fanout using the default queue capacity.
func New() *Fanout {
	return NewWithCapacity(queueCapacity)
}

// NewWithCapacity returns an empty Fanout whose subscriber queues hold
// capacity messages before the drop policy kicks in. Exposed so
// pkg/config's FanoutConfig.QueueDepth can size subscriber buffers for a
// deployment's expected fan-out load.
func NewWithCapacity(capacity int) *Fanout {
	return &Fanout{subs: make(map[string]chan []byte), capacity: capacity}
}

// Subscribe registers a fresh bounded queue and returns its id and the
// receive-only channel end.
func (f *Fanout) Subscribe() (string, <-chan []byte) {
	id := uuid.NewString()
	ch := make(chan []byte, f.capacity)

	f.mu.Lock()
	f.subs[id] = ch
	f.mu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber's queue. Idempotent: unsubscribing an
// id that is already gone is a no-op.
//
// The queue is never closed. A Publish that already snapshotted this
// channel before the removal took effect may still be holding it and
// attempting a send; closing here would race that send and risk a "send
// on closed channel" panic. Dropping the map entry is enough — the
// channel becomes unreachable for future Publish calls and is garbage
// collected once the caller's own reference (from Subscribe) goes out of
// scope. A best-effort zero-length sentinel is offered so a reader
// blocked in a select on this channel observes the disconnect promptly
// instead of only finding out when it next calls Subscribe.
func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	ch, ok := f.subs[id]
	if ok {
		delete(f.subs, id)
	}
	f.mu.Unlock()

	if ok {
		select {
		case ch <- []byte{}:
		default:
		}
	}
}

// Publish JSON-encodes ev and offers it to every live subscriber via a
// non-blocking send. A subscriber whose queue is already full is dropped:
// a zero-length sentinel message is sent first if the queue still has
// capacity for it (signaling forced disconnect to the reader), then the
// subscriber is removed from the map. Publish never blocks the caller and
// never closes a subscriber channel — see Unsubscribe for why.
func (f *Fanout) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("fanout: marshal event failed", "campaign_id", ev.CampaignID, "event_type", ev.EventType, "error", err)
		return
	}

	f.mu.RLock()
	ids := make([]string, 0, len(f.subs))
	chans := make([]chan []byte, 0, len(f.subs))
	for id, ch := range f.subs {
		ids = append(ids, id)
		chans = append(chans, ch)
	}
	f.mu.RUnlock()

	for i, ch := range chans {
		select {
		case ch <- data:
		default:
			f.dropSlowSubscriber(ids[i], ch)
		}
	}
}

// dropSlowSubscriber implements the documented drop policy: offer a
// zero-length sentinel (best-effort, also non-blocking), then remove the
// subscriber's queue from the map. The channel itself is never closed —
// see Unsubscribe for why a concurrent Publish sending on it must never
// observe a close.
func (f *Fanout) dropSlowSubscriber(id string, ch chan []byte) {
	select {
	case ch <- []byte{}:
	default:
	}

	f.mu.Lock()
	current, ok := f.subs[id]
	if ok && current == ch {
		delete(f.subs, id)
	}
	f.mu.Unlock()

	if ok {
		slog.Warn("fanout: dropping slow subscriber", "subscriber_id", id)
	}
}

// SubscriberCount reports the number of live subscribers. Exposed for
// tests and health reporting.
func (f *Fanout) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
