// Package watcher keeps a local mirror of one resource kind consistent with
// the cluster by listing, streaming change events and resyncing after stream
// failures, with debounced change callbacks.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"

	"ci-capacity/pkg/k8s/client"
	"ci-capacity/pkg/k8s/types"
)

// Sink receives the listings and change events of a session.
//
// store.Mirror satisfies Sink.
type Sink[T any] interface {
	// Bootstrap replaces the full contents with a fresh listing.
	Bootstrap(items []T)

	// ApplyEvent applies a single change event.
	ApplyEvent(event types.Event[T]) error
}

// Session keeps one Sink consistent with one resource kind in the cluster.
//
// Lifecycle:
//   - Run lists the kind, bootstraps the sink, then streams change events
//   - A stream that ends or reports an error triggers a full re-listing after
//     an exponential backoff, so records deleted while disconnected never survive
//   - After MaxRetries consecutive failed attempts Run returns a *TerminalError
//   - Close cancels a running session and waits for it to return
//
// Thread Safety:
//   - All methods are safe for concurrent use
//   - Events are applied to the sink from the Run goroutine only, in arrival order
type Session[T any] struct {
	config    types.SessionConfig
	api       client.ResourceAPI[T]
	sink      Sink[T]
	debouncer *Debouncer
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	closed  bool
	err     error

	done     chan struct{}
	doneOnce sync.Once

	synced   atomic.Bool
	syncCh   chan struct{}
	syncOnce sync.Once

	resyncs atomic.Int64
	applied atomic.Int64
}

// NewSession creates a session for the kind served by api, feeding sink.
//
// Returns an error if the configuration is invalid or api or sink is nil.
func NewSession[T any](cfg types.SessionConfig, api client.ResourceAPI[T], sink Sink[T], logger *slog.Logger) (*Session[T], error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session configuration: %w", err)
	}
	if api == nil {
		return nil, fmt.Errorf("resource api is nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Session[T]{
		config:    cfg,
		api:       api,
		sink:      sink,
		debouncer: NewDebouncer(cfg.DebounceInterval, cfg.OnChange),
		logger:    logger.With("component", "watch-session", "resource", cfg.Resource),
		done:      make(chan struct{}),
		syncCh:    make(chan struct{}),
	}, nil
}

// Run executes the session until ctx is cancelled, Close is called, or the
// retry budget is exhausted. It blocks.
//
// Returns nil on cancellation, a *TerminalError when retries are exhausted,
// and an error if the session was already started.
func (s *Session[T]) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("watch session for %s already started", s.config.Resource)
	}
	s.running = true
	if s.closed {
		s.mu.Unlock()
		s.finish()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer s.finish()
	defer cancel()

	s.logger.Debug("watch session starting",
		"namespace", s.config.Namespace,
		"field_selector", s.config.FieldSelector)

	err := s.loop(ctx)
	s.debouncer.Flush()

	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
	return err
}

// Open starts the session in the background and blocks until the initial
// listing has been delivered to the sink. ctx governs the lifetime of the
// whole session, not only the wait.
func (s *Session[T]) Open(ctx context.Context) error {
	go func() {
		_ = s.Run(ctx)
	}()
	return s.WaitForSync(ctx)
}

// Close stops the session and waits for Run to return. Safe to call more
// than once and before Run.
func (s *Session[T]) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	running := s.running
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if running {
		<-s.done
	}
	s.debouncer.Stop()
	return nil
}

// WaitForSync blocks until the initial listing has been applied, the session
// ends, or ctx is cancelled.
func (s *Session[T]) WaitForSync(ctx context.Context) error {
	select {
	case <-s.syncCh:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("watch session for %s ended before initial sync", s.config.Resource)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSynced reports whether the initial listing has been applied.
func (s *Session[T]) IsSynced() bool {
	return s.synced.Load()
}

// Done is closed when Run has returned.
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

// Err returns the error Run ended with, if any.
func (s *Session[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Resyncs returns the number of re-listings performed after stream failures.
func (s *Session[T]) Resyncs() int64 {
	return s.resyncs.Load()
}

// Applied returns the number of change events applied to the sink.
func (s *Session[T]) Applied() int64 {
	return s.applied.Load()
}

func (s *Session[T]) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// loop runs list-and-stream cycles until ctx ends or retries are exhausted.
func (s *Session[T]) loop(ctx context.Context) error {
	policy := s.newBackOff()
	attempts := 0

	for {
		healthy, err := s.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if healthy {
			policy.Reset()
			attempts = 0
		}
		attempts++

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			s.logger.Error("watch session giving up", "attempts", attempts, "error", err)
			return &TerminalError{Resource: s.config.Resource, Attempts: attempts, Err: err}
		}

		s.logger.Warn("watch stream failed, resyncing after backoff",
			"error", err,
			"attempt", attempts,
			"backoff", wait)

		if !sleep(ctx, wait) {
			return nil
		}
	}
}

func (s *Session[T]) newBackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.config.InitialBackoff
	exp.MaxInterval = s.config.MaxBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(s.config.MaxRetries))
}

// cycle lists the kind, bootstraps the sink and streams until the stream fails.
// healthy reports whether the stream made progress before failing.
func (s *Session[T]) cycle(ctx context.Context) (bool, error) {
	items, resourceVersion, err := s.api.List(ctx, s.config.Namespace, metav1.ListOptions{
		FieldSelector: s.config.FieldSelector,
	})
	if err != nil {
		return false, err
	}

	s.sink.Bootstrap(items)
	s.afterBootstrap(len(items))

	return s.stream(ctx, resourceVersion)
}

func (s *Session[T]) afterBootstrap(count int) {
	if !s.synced.Load() {
		s.syncOnce.Do(func() {
			s.synced.Store(true)
			close(s.syncCh)
		})
		s.logger.Info("initial sync complete", "count", count)
		if s.config.OnSyncComplete != nil {
			s.config.OnSyncComplete(count)
		}
		return
	}

	s.resyncs.Add(1)
	s.debouncer.RecordResync()
	s.logger.Info("resynced after stream failure", "count", count)
	if s.config.OnResync != nil {
		s.config.OnResync(count)
	}
}

func (s *Session[T]) stream(ctx context.Context, resourceVersion string) (bool, error) {
	w, err := s.api.Watch(ctx, s.config.Namespace, metav1.ListOptions{
		FieldSelector:       s.config.FieldSelector,
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	})
	if err != nil {
		return false, err
	}
	defer w.Stop()

	opened := time.Now()
	delivered := 0
	healthy := func() bool {
		return delivered > 0 || time.Since(opened) >= s.config.MaxBackoff
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()

		case ev, ok := <-w.ResultChan():
			if !ok {
				return healthy(), errStreamClosed
			}

			switch ev.Type {
			case watch.Added, watch.Modified, watch.Deleted:
				item, ok := s.api.Convert(ev.Object)
				if !ok {
					// Heartbeat
					continue
				}
				changeType := toChangeType(ev.Type)
				if err := s.sink.ApplyEvent(types.Event[T]{Type: changeType, Item: item}); err != nil {
					s.logger.Warn("dropping watch event", "type", changeType.String(), "error", err)
					continue
				}
				delivered++
				s.applied.Add(1)
				s.debouncer.Record(changeType)

			case watch.Error:
				return healthy(), watchError(ev.Object)

			default:
				// Bookmarks and unknown event types carry no record changes.
				continue
			}
		}
	}
}

func toChangeType(t watch.EventType) types.ChangeType {
	switch t {
	case watch.Added:
		return types.ChangeAdded
	case watch.Deleted:
		return types.ChangeDeleted
	default:
		return types.ChangeModified
	}
}

func watchError(obj runtime.Object) error {
	if obj == nil {
		return fmt.Errorf("watch stream reported an error without status")
	}
	return fmt.Errorf("watch stream reported an error: %w", apierrors.FromObject(obj))
}

// sleep waits for d or until ctx ends. It returns false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

var errStreamClosed = errors.New("watch stream closed by server")
