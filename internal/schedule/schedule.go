// Package schedule runs delayed one-shot tasks on a single goroutine.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/groutine"
)

const (
	pending int32 = iota
	cancelled
	fired
)

// Entry is a scheduled task.
type Entry struct {
	name  string
	fn    func()
	timer *time.Timer
	state atomic.Int32
}

// Cancel prevents the task from running. Returns false if it already ran
// or was cancelled before.
func (e *Entry) Cancel() bool {
	if e == nil || !e.state.CompareAndSwap(pending, cancelled) {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	return true
}

// Fired reports whether the task has run.
func (e *Entry) Fired() bool {
	return e != nil && e.state.Load() == fired
}

// Runner executes due tasks one after another on its own goroutine, so tasks
// never race each other.
type Runner struct {
	logger *logrus.Logger
	due    chan *Entry

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// New starts a runner. The name labels its goroutine.
func New(logger *logrus.Logger, name string) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger: logger,
		due:    make(chan *Entry, 16),
		cancel: cancel,
	}
	r.done = groutine.Start(ctx, name, r.loop)
	return r
}

// After schedules fn to run once after d. A stopped runner returns an entry
// that never fires.
func (r *Runner) After(name string, d time.Duration, fn func()) *Entry {
	e := &Entry{name: name, fn: fn}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		e.state.Store(cancelled)
		return e
	}
	e.timer = time.AfterFunc(d, func() { r.post(e) })
	return e
}

// Stop cancels the loop. Tasks not yet run are discarded.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	<-r.done
}

func (r *Runner) post(e *Entry) {
	if e.state.Load() != pending {
		return
	}
	select {
	case r.due <- e:
	case <-r.done:
	}
}

func (r *Runner) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.due:
			r.run(e)
		}
	}
}

func (r *Runner) run(e *Entry) {
	if !e.state.CompareAndSwap(pending, fired) {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logrus.Fields{
				"task":  e.name,
				"panic": p,
			}).Error("Scheduled task panicked")
		}
	}()
	r.logger.WithField("task", e.name).Debug("Running scheduled task")
	e.fn()
}
