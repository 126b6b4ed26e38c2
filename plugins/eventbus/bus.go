package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
)

// BusOption configures the event bus.
type BusOption func(*Bus)

// WithWorkerPool sets the number of worker goroutines for processing events.
// Default is 16 workers. Set to 0 to run each handler on its own goroutine.
func WithWorkerPool(size int) BusOption {
	return func(b *Bus) {
		b.workers = size
	}
}

// WithQueueSize sets how many messages may wait for a free worker. Messages
// published while the queue is full are dropped with a warning.
func WithQueueSize(size int) BusOption {
	return func(b *Bus) {
		b.queueSize = size
	}
}

// NewBus returns a new in-memory Bus. ctx is passed to subscribers when they
// are executed, with a logger named "eventbus".
func NewBus(ctx context.Context, opts ...BusOption) *Bus {
	b := &Bus{
		subscriberCtx: logging.With(ctx, logging.FromContext(ctx).Named("eventbus")),
		workers:       16,
		queueSize:     256,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.jobs = make(chan job, b.queueSize)
	return b
}

type job struct {
	ctx     context.Context
	handler Handler
	msg     *Message
}

// Bus is an in-memory implementation of EventBus.
type Bus struct {
	subscribers   map[string][]Handler
	subscriberCtx context.Context
	now           func() time.Time

	mu sync.Mutex     // Protects subscribers, started and closed.
	wg sync.WaitGroup // Waits for active subscribers to complete.

	jobs      chan job
	workers   int
	queueSize int
	started   bool
	closed    bool
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers == nil {
		b.subscribers = make(map[string][]Handler)
	}
	b.subscribers[topic] = append(b.subscribers[topic], handler)
}

// Publish sends a message to all subscribers. Messages published after
// Shutdown are dropped.
func (b *Bus) Publish(topic string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		logging.Warnw(b.subscriberCtx, "eventbus: dropping message after shutdown", "topic", topic)
		return
	}
	if !b.started {
		b.startWorkers()
		b.started = true
	}

	handlers := b.subscribers[topic]
	if len(handlers) == 0 {
		return
	}

	ctx := logging.With(b.subscriberCtx, logging.FromContext(b.subscriberCtx).Named(topic))
	logging.Debugw(ctx, "eventbus: publishing message", "subscribers", len(handlers))

	now := b.now()
	for _, handler := range handlers {
		msg := &Message{
			ID:          uuid.NewString(),
			Topic:       topic,
			Data:        data,
			PublishedAt: now,
		}
		b.wg.Add(1)
		if b.workers == 0 {
			go b.execute(ctx, handler, msg)
			continue
		}
		// Publish must not block.
		select {
		case b.jobs <- job{ctx: ctx, handler: handler, msg: msg}:
		default:
			b.wg.Done()
			logging.Warnw(ctx, "eventbus: queue full, dropping message", "id", msg.ID, "queueSize", b.queueSize)
		}
	}
}

func (b *Bus) startWorkers() {
	for range b.workers {
		go b.worker()
	}
}

func (b *Bus) worker() {
	for j := range b.jobs {
		b.execute(j.ctx, j.handler, j.msg)
	}
}

// Shutdown stops the workers once queued messages are handled.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.jobs)
	}
	b.mu.Unlock()

	return b.Wait(ctx)
}

// Wait blocks until all pending messages are processed.
func (b *Bus) Wait(ctx context.Context) error {
	c := make(chan struct{})
	go func() {
		defer close(c)
		b.wg.Wait()
	}()
	select {
	case <-c:
		return nil
	case <-ctx.Done():
		return errors.New("eventbus: timeout waiting for handlers to finish")
	}
}

func (b *Bus) execute(ctx context.Context, handler Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.FromPanic(r, 2)
			logging.Errorw(ctx, "eventbus: recovered from panic",
				"error", err, "error.stack_trace", err.MinimalStack(0, 5), "message_id", msg.ID)
		}
		b.wg.Done()
	}()
	if err := handler(ctx, msg); err != nil {
		logging.Errorw(ctx, "eventbus: handler error", "error", err, "message_id", msg.ID)
	}
}
