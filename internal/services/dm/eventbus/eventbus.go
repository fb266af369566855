// Package eventbus delivers combat lifecycle events to in-process
// subscribers in emission order.
package eventbus

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/emberhollow/gloomvale/internal/services/dm/domain/event"
)

// ErrClosed indicates an emit on a bus that has been shut down.
var ErrClosed = errors.New("event bus closed")

const defaultBuffer = 64

// subscriber pairs a delivery channel with a done signal. The data channel
// is never closed: an in-flight Emit may hold a reference to it, so closing
// it from the cancel path would race the send. Cancellation is signalled
// through done instead, and the channel is left to the garbage collector.
type subscriber struct {
	ch   chan event.Event
	done chan struct{}
	stop sync.Once
}

func (s *subscriber) signalDone() {
	s.stop.Do(func() { close(s.done) })
}

// Subscription is one bus listener. Events arrive on C. Done is closed when
// the subscription ends, by Cancel or bus shutdown; events already buffered
// in C stay readable after that.
type Subscription struct {
	C      <-chan event.Event
	done   chan struct{}
	cancel func()
}

// Done reports subscription end.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Cancel ends the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Bus fans events out to subscribers. Emit blocks until every subscriber has
// accepted the event, which is what keeps combat narration in round order:
// the engine will not resolve the next attack until the bus returns.
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]*subscriber
	nextID      int
	closed      bool
	logger      logrus.FieldLogger
}

// New builds a bus. A nil logger falls back to the logrus default.
func New(logger logrus.FieldLogger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		subscribers: make(map[int]*subscriber),
		logger:      logger,
	}
}

// Subscribe registers a listener. A buffer of zero or less uses a sane
// default; a subscriber that stops draining eventually blocks emitters, so
// slow consumers should cancel instead of stalling. Subscribing to a closed
// bus returns an already-done subscription.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	sub := &subscriber{
		ch:   make(chan event.Event, buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.signalDone()
		return &Subscription{C: sub.ch, done: sub.done, cancel: sub.signalDone}
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
		sub.signalDone()
	}
	return &Subscription{C: sub.ch, done: sub.done, cancel: cancel}
}

// Emit delivers one event to every subscriber, in subscription order. It
// blocks on full subscriber buffers until the subscriber drains, cancels, or
// the context expires; a cancelled subscriber is skipped, never panicked on.
func (b *Bus) Emit(ctx context.Context, evt event.Event) error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	ids := make([]int, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, b.subscribers[id])
	}
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- evt:
		case <-sub.done:
			// Subscriber left between snapshot and send.
		case <-ctx.Done():
			b.logger.WithField("type", string(evt.Type)).Warn("event delivery abandoned")
			return ctx.Err()
		}
	}
	return nil
}

// Close shuts the bus down and signals every subscription's Done. Subsequent
// emits fail with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		sub.signalDone()
	}
}
