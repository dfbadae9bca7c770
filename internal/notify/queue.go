package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"agora.org/internal/governance"
)

var (
	// ErrQueueFull is returned when the queue cannot take another notification.
	ErrQueueFull = errors.New("notify: queue full")
	// ErrQueueClosed is returned by Send after Close.
	ErrQueueClosed = errors.New("notify: queue closed")
)

// QueueOptions tunes a Queue.
type QueueOptions struct {
	Workers int
	Size    int
	// Retries is the number of extra attempts per notification.
	Retries uint
	// InitialInterval is the first retry delay; zero uses the backoff default.
	InitialInterval time.Duration
	Logger          *zap.Logger
}

// Queue hands notifications to a pool of workers that deliver them through next,
// retrying transient failures with exponential backoff. Send never blocks.
type Queue struct {
	next governance.Notifier
	opts QueueOptions
	log  *zap.Logger

	jobs chan governance.Notification
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
}

// NewQueue starts opts.Workers workers delivering through next.
func NewQueue(next governance.Notifier, opts QueueOptions) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Size < 1 {
		opts.Size = 1
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		next:   next,
		opts:   opts,
		log:    log,
		jobs:   make(chan governance.Notification, opts.Size),
		cancel: cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	return q
}

// Send enqueues note for asynchronous delivery.
func (q *Queue) Send(_ context.Context, note governance.Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- note:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits for queued ones to be
// delivered. If ctx ends first, in-flight retries are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for note := range q.jobs {
		if err := q.deliver(ctx, note); err != nil {
			q.log.Warn("notification dropped",
				zap.String("user_id", note.UserID),
				zap.String("type", note.Type),
				zap.String("group_id", note.GroupID),
				zap.Error(err))
		}
	}
}

func (q *Queue) deliver(ctx context.Context, note governance.Notification) error {
	b := backoff.NewExponentialBackOff()
	if q.opts.InitialInterval > 0 {
		b.InitialInterval = q.opts.InitialInterval
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := q.next.Send(ctx, note)
		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(q.opts.Retries+1))
	return err
}

var _ governance.Notifier = (*Queue)(nil)
