// Package gattqueue runs GATT operations one at a time.
//
// A BLE link accepts a single outstanding request; a second one issued before
// the first is answered is undefined behavior on most stacks. The Serializer
// owns a single worker that issues a task, then waits on a completion gate for
// at most the operation timeout before moving on to the next task in FIFO order.
package gattqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/groutine"
)

// DefaultTimeout bounds the wait for a completion.
const DefaultTimeout = 2000 * time.Millisecond

// Options configures a Serializer.
type Options struct {
	// Timeout bounds the wait for each completion. Zero means DefaultTimeout.
	Timeout time.Duration

	// Observer, if set, receives every outcome on the worker goroutine
	// after the task listener was notified.
	Observer func(Outcome)
}

type completion struct {
	seq   uint64
	value []byte
	err   error
}

// Serializer executes queued tasks on a single worker.
// Enqueue and Signal are safe for concurrent use.
type Serializer struct {
	logger   *logrus.Logger
	timeout  time.Duration
	observer func(Outcome)

	mu     sync.Mutex
	queue  []*Task
	closed bool
	wake   chan struct{}

	// gate carries the completion of the in-flight task; shared by all tasks
	// since at most one of them waits at a time.
	gate     chan completion
	inflight atomic.Uint64
	seq      atomic.Uint64

	cancel context.CancelFunc
	done   <-chan struct{}
}

// New creates a Serializer and starts its worker.
func New(logger *logrus.Logger, opts Options) *Serializer {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Serializer{
		logger:   logger,
		timeout:  opts.Timeout,
		observer: opts.Observer,
		wake:     make(chan struct{}, 1),
		gate:     make(chan completion, 1),
		cancel:   cancel,
	}
	s.done = groutine.Start(ctx, "gatt-serializer", s.run)
	return s
}

// Timeout returns the per-operation completion timeout.
func (s *Serializer) Timeout() time.Duration {
	return s.timeout
}

// Pending returns the number of tasks waiting for the worker.
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Enqueue validates the task and appends it to the queue.
// Invalid tasks are logged and rejected with device.ErrInvalidArgument; nothing is queued.
func (s *Serializer) Enqueue(t *Task) error {
	if err := validate(t); err != nil {
		fields := logrus.Fields{"error": err}
		if t != nil {
			fields["kind"] = t.Kind.String()
			fields["address"] = t.Address
		}
		s.logger.WithFields(fields).Error("Rejected GATT operation")
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("enqueue %s: %w", t.Kind, device.ErrClosed)
	}
	t.seq = s.seq.Add(1)
	s.queue = append(s.queue, t)
	pending := len(s.queue)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	s.logger.WithFields(logrus.Fields{
		"kind":    t.Kind.String(),
		"address": t.Address,
		"target":  t.Target(),
		"seq":     t.seq,
		"pending": pending,
	}).Debug("GATT operation queued")
	return nil
}

// Signal opens the gate for whichever task is in flight. It serves transports
// that only expose a connection-wide completion callback. Returns false when
// no task is waiting.
func (s *Serializer) Signal(value []byte, err error) bool {
	seq := s.inflight.Load()
	if seq == 0 {
		s.logger.Debug("Completion signalled with no operation in flight")
		return false
	}
	return s.complete(seq, value, err)
}

// Close stops the worker. Tasks still queued are failed with device.ErrClosed.
// The in-flight task, if any, is released and failed the same way.
func (s *Serializer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done

	s.mu.Lock()
	dropped := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, t := range dropped {
		s.report(Outcome{Task: t, Err: fmt.Errorf("%s dropped: %w", t.Kind, device.ErrClosed)})
	}
	s.logger.WithField("dropped", len(dropped)).Debug("GATT serializer stopped")
}

func (s *Serializer) complete(seq uint64, value []byte, err error) bool {
	if s.inflight.Load() != seq {
		s.logger.WithField("seq", seq).Debug("Dropping completion of a finished operation")
		return false
	}
	select {
	case s.gate <- completion{seq: seq, value: value, err: err}:
		return true
	default:
		// gate already open for this task
		return false
	}
}

func (s *Serializer) run(ctx context.Context) {
	for {
		t, ok := s.next(ctx)
		if !ok {
			return
		}
		s.execute(ctx, t)
	}
}

func (s *Serializer) next(ctx context.Context) (*Task, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		s.mu.Lock()
		if len(s.queue) > 0 {
			t := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return t, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (s *Serializer) resetGate() {
	select {
	case <-s.gate:
	default:
	}
}

func (s *Serializer) execute(ctx context.Context, t *Task) {
	s.resetGate()
	s.inflight.Store(t.seq)
	defer s.inflight.Store(0)

	done := func(value []byte, err error) {
		s.complete(t.seq, value, err)
	}

	start := time.Now()
	var err error
	switch t.Kind {
	case ReadCharacteristic:
		err = t.Link.ReadCharacteristic(t.CharacteristicID, done)
	case WriteCharacteristic:
		err = t.Link.WriteCharacteristic(t.CharacteristicID, t.Payload, done)
	case WriteDescriptor:
		err = t.Link.WriteDescriptor(t.ServiceID, t.CharacteristicID, t.DescriptorID, t.Payload, done)
	}

	if err != nil {
		s.report(Outcome{Task: t, Err: device.NormalizeError(err), Elapsed: time.Since(start)})
		return
	}
	s.report(s.wait(ctx, t, start))
}

func (s *Serializer) wait(ctx context.Context, t *Task, start time.Time) Outcome {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	for {
		select {
		case c := <-s.gate:
			if c.seq != t.seq {
				continue
			}
			elapsed := time.Since(start)
			if elapsed >= s.timeout {
				return Outcome{Task: t, Err: device.ErrTimeout, Elapsed: elapsed}
			}
			return Outcome{Task: t, Value: c.value, Err: device.NormalizeError(c.err), Elapsed: elapsed}
		case <-timer.C:
			return Outcome{Task: t, Err: device.ErrTimeout, Elapsed: time.Since(start)}
		case <-ctx.Done():
			return Outcome{Task: t, Err: fmt.Errorf("%s interrupted: %w", t.Kind, device.ErrClosed), Elapsed: time.Since(start)}
		}
	}
}

func (s *Serializer) report(out Outcome) {
	t := out.Task
	fields := logrus.Fields{
		"kind":    t.Kind.String(),
		"address": t.Address,
		"target":  t.Target(),
		"seq":     t.seq,
		"elapsed": out.Elapsed,
	}
	if out.OK() {
		s.logger.WithFields(fields).Debug("GATT operation completed")
	} else {
		fields["error"] = out.Err
		s.logger.WithFields(fields).Warn("GATT operation failed")
	}

	if t.Listener != nil {
		if out.OK() {
			t.Listener.OnPushSuccess()
		} else {
			t.Listener.OnPushFailure()
		}
	}
	if s.observer != nil {
		s.observer(out)
	}
}

func validate(t *Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", device.ErrInvalidArgument)
	}
	if t.Link == nil {
		return fmt.Errorf("%w: %s without a connection handle", device.ErrInvalidArgument, t.Kind)
	}
	if t.CharacteristicID == "" {
		return fmt.Errorf("%w: %s without a characteristic id", device.ErrInvalidArgument, t.Kind)
	}
	switch t.Kind {
	case ReadCharacteristic:
	case WriteCharacteristic:
		if t.Payload == nil {
			return fmt.Errorf("%w: %s without a payload", device.ErrInvalidArgument, t.Kind)
		}
	case WriteDescriptor:
		if t.DescriptorID == "" || t.ServiceID == "" {
			return fmt.Errorf("%w: %s without service and descriptor ids", device.ErrInvalidArgument, t.Kind)
		}
		if t.Payload == nil {
			return fmt.Errorf("%w: %s without a payload", device.ErrInvalidArgument, t.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown operation %s", device.ErrInvalidArgument, t.Kind)
	}
	return nil
}
