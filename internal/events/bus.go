package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/groutine"
)

const (
	// DefaultBufferSize is the number of events the bus holds before it starts
	// overwriting the oldest ones.
	DefaultBufferSize uint32 = 1024

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

type subscriber struct {
	id uint64
	fn func(Event)
	rc *RingChannel[Event]
}

// Bus delivers events to subscribers in publish order.
//
// Publish never blocks: events land in an overlapped ring buffer that one
// dispatcher goroutine drains. When publishers outrun the dispatcher the
// oldest events are overwritten. Subscribers run on the dispatcher goroutine
// and must not block.
type Bus struct {
	logger  *logrus.Logger
	buffer  mpmc.RichOverlappedRingBuffer[Event]
	wake    chan struct{}
	metrics Metrics

	mu     sync.Mutex
	subs   atomic.Pointer[[]subscriber]
	nextID uint64
	closed atomic.Bool

	cancel context.CancelFunc
	done   <-chan struct{}
}

// NewBus creates a bus and starts its dispatcher. A zero size means DefaultBufferSize.
func NewBus(logger *logrus.Logger, size uint32) (*Bus, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if size == 0 {
		size = DefaultBufferSize
	}
	if size > MaxBufferSize {
		return nil, fmt.Errorf("event buffer size %d exceeds maximum %d", size, MaxBufferSize)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger: logger,
		buffer: mpmc.NewOverlappedRingBuffer[Event](size),
		wake:   make(chan struct{}, 1),
		cancel: cancel,
	}
	b.subs.Store(&[]subscriber{})
	b.done = groutine.Start(ctx, "event-dispatcher", b.dispatch)
	return b, nil
}

// Publish queues ev for delivery. Events published after Close are dropped.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	if b.closed.Load() {
		b.logger.WithField("event", ev.Kind().String()).Debug("Dropping event published after close")
		return
	}

	overwrites, err := b.buffer.EnqueueM(ev)
	if err != nil {
		b.metrics.addError()
		b.logger.WithFields(logrus.Fields{
			"event": ev.Kind().String(),
			"error": err,
		}).Error("Failed to queue event")
		return
	}
	b.metrics.addWritten(1)
	if overwrites > 0 {
		b.metrics.addOverwritten(int(overwrites))
		b.logger.WithFields(logrus.Fields{
			"event":       ev.Kind().String(),
			"overwritten": overwrites,
			"total":       b.metrics.snapshot().Overwritten,
		}).Warn("Event buffer full, oldest events lost")
	}

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Subscribe registers fn for every event published from now on.
// The returned function removes the subscription.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	return b.add(subscriber{fn: fn})
}

// Channel returns a receive channel of the given capacity fed by the bus.
// A slow reader loses the oldest events, never blocking delivery to others.
// The channel is closed by Close or by the returned unsubscribe function.
func (b *Bus) Channel(capacity int) (*RingChannel[Event], func()) {
	rc := NewRingChannel[Event](capacity)
	return rc, b.add(subscriber{rc: rc})
}

// GetMetrics returns a snapshot of the bus counters. Written counts published
// events, Processed counts events handed to the subscriber set.
func (b *Bus) GetMetrics() Metrics {
	return b.metrics.snapshot()
}

// Close delivers what is still buffered, stops the dispatcher and closes
// every channel subscription.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.cancel()
	<-b.done

	b.mu.Lock()
	subs := *b.subs.Load()
	b.subs.Store(&[]subscriber{})
	b.mu.Unlock()

	for _, s := range subs {
		if s.rc != nil {
			s.rc.Close()
		}
	}
}

func (b *Bus) add(s subscriber) func() {
	b.mu.Lock()
	b.nextID++
	s.id = b.nextID
	cur := *b.subs.Load()
	next := make([]subscriber, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, s)
	b.subs.Store(&next)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(s.id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.subs.Load()
	next := make([]subscriber, 0, len(cur))
	var removed *subscriber
	for i := range cur {
		if cur[i].id == id {
			removed = &cur[i]
			continue
		}
		next = append(next, cur[i])
	}
	b.subs.Store(&next)

	// Channel subscriptions are closed under mu, which the dispatcher takes
	// around each channel send.
	if removed != nil && removed.rc != nil {
		removed.rc.Close()
	}
}

func (b *Bus) dispatch(ctx context.Context) {
	for {
		select {
		case <-b.wake:
			b.drain()
		case <-ctx.Done():
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for !b.buffer.IsEmpty() {
		ev, err := b.buffer.Dequeue()
		if err != nil {
			b.metrics.addError()
			b.logger.WithField("error", err).Error("Failed to dequeue event")
			return
		}
		b.deliver(ev)
		b.metrics.addProcessed(1)
	}
}

func (b *Bus) deliver(ev Event) {
	for _, s := range *b.subs.Load() {
		if s.rc != nil {
			b.mu.Lock()
			if b.subscribed(s.id) {
				s.rc.Send(ev)
			}
			b.mu.Unlock()
			continue
		}
		b.call(s.fn, ev)
	}
}

func (b *Bus) subscribed(id uint64) bool {
	for _, s := range *b.subs.Load() {
		if s.id == id {
			return true
		}
	}
	return false
}

func (b *Bus) call(fn func(Event), ev Event) {
	defer func() {
		if p := recover(); p != nil {
			b.metrics.addError()
			b.logger.WithFields(logrus.Fields{
				"event": ev.Kind().String(),
				"panic": p,
			}).Error("Event subscriber panicked")
		}
	}()
	fn(ev)
}
