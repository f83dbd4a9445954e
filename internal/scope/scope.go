// Package scope provides structured concurrency for the executor: a
// Scope tracks the goroutines spawned for one build so that, however
// the build ends (success, error, or cancellation), every still-running
// task is cancelled and awaited before the scope's owner moves on.
//
// It translates original_source/tplbuild/exit_context.py's
// ScopedTaskExitStack. The teacher (kubernetes-sigs-promo-tools) itself
// never reaches for golang.org/x/sync/errgroup for this kind of
// fan-out/fan-in; its worker pools (lib/dockerregistry/inventory.go's
// ExecRequests) are plain goroutines plus a sync.WaitGroup, so this
// package follows that idiom rather than wrapping errgroup.Group.
package scope

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Task is a unit of work spawned into a Scope. It must return promptly
// once ctx is cancelled.
type Task func(ctx context.Context) error

// entry tracks one spawned task's lifetime so Close can cancel and wait
// on it.
type entry struct {
	cancel          context.CancelFunc
	done            chan struct{}
	err             error
	propagateErr    bool
	propagateCancel bool
}

// Scope owns a set of spawned tasks and the context they run under.
// The zero value is not usable; construct with New.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry

	mu       sync.Mutex
	entries  []*entry
	firstErr error
}

// New creates a Scope whose tasks are cancelled when parent is
// cancelled or when Close is called, whichever comes first.
func New(parent context.Context, log *logrus.Entry) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel, log: log}
}

// Context returns the scope's context. Tasks spawned with Go should
// select against contexts derived from this one so Close's cancel
// reaches them.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// SpawnOptions controls how a task's outcome affects the scope at
// Close time, mirroring create_scoped_task's propagate_exception and
// propagate_cancel flags.
type SpawnOptions struct {
	// PropagateError makes Close return this task's error (if it's the
	// first one recorded); otherwise the error is logged and swallowed.
	PropagateError bool
	// PropagateCancel makes Close return context.Canceled for this task
	// if it was still running at Close time; otherwise cancellation is
	// treated as ordinary teardown and ignored.
	PropagateCancel bool
}

// Go spawns fn in its own goroutine under the scope's context.
func (s *Scope) Go(fn Task, opts SpawnOptions) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	e := &entry{
		cancel:          cancel,
		done:            make(chan struct{}),
		propagateErr:    opts.PropagateError,
		propagateCancel: opts.PropagateCancel,
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	s.mu.Unlock()

	go func() {
		defer close(e.done)
		e.err = fn(taskCtx)
	}()
}

// Close cancels every task still running, waits for all tasks to
// finish, and returns the first propagated error encountered (if any).
// s.cancel() cancels s.ctx, which every task's context derives from, so
// a single call reaches every still-running task; Close then just
// drains them in spawn order. It is safe to call Close more than once;
// later calls are no-ops since entries is drained on first call.
func (s *Scope) Close() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	wasRunning := make([]bool, len(entries))
	for i, e := range entries {
		select {
		case <-e.done:
		default:
			wasRunning[i] = true
		}
	}

	s.cancel()

	var firstErr error
	for i, e := range entries {
		<-e.done
		e.cancel()

		if e.err == nil {
			continue
		}
		if e.err == context.Canceled && wasRunning[i] {
			if e.propagateCancel && firstErr == nil {
				firstErr = e.err
			}
			continue
		}
		if e.propagateErr {
			if firstErr == nil {
				firstErr = e.err
			}
		} else if s.log != nil {
			s.log.WithError(e.err).Warn("scoped task failed")
		}
	}
	return firstErr
}

// scopeKey is the context key under which an ambient Scope is stored,
// mirroring exit_context.py's module-level ContextVar.
type scopeKey struct{}

// WithScope returns a context carrying scope as the ambient scope for
// descendants to find via FromContext.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// FromContext returns the ambient scope stored by WithScope, if any.
func FromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(*Scope)
	return s, ok
}
