package batch

import (
	"context"
	"sync"
	"time"
)

// Processor handles one flushed batch.
type Processor[T any] func(ctx context.Context, items []T) error

// Batcher collects items and hands them to a processor either when the
// batch is full or when the flush interval elapses, whichever comes first.
type Batcher[T any] struct {
	batchSize     int
	batchInterval time.Duration
	processor     Processor[T]
	onError       func(err error, items []T)

	mu      sync.Mutex
	pending []T
	closed  bool

	flushChan chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

type Option[T any] func(*Batcher[T])

// WithErrorHandler is called with every batch the processor rejects.
func WithErrorHandler[T any](fn func(err error, items []T)) Option[T] {
	return func(b *Batcher[T]) {
		b.onError = fn
	}
}

// NewBatcher starts the flush goroutine; call Stop to release it.
func NewBatcher[T any](batchSize int, batchInterval time.Duration, processor Processor[T], opts ...Option[T]) *Batcher[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = time.Second
	}

	b := &Batcher[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		processor:     processor,
		pending:       make([]T, 0, batchSize),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// Add queues an item. It never blocks on the processor and returns false
// once the batcher is stopped.
func (b *Batcher[T]) Add(item T) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	full := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush processes everything pending right now.
func (b *Batcher[T]) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	items := b.pending
	b.pending = make([]T, 0, b.batchSize)
	b.mu.Unlock()

	err := b.processor(ctx, items)
	if err != nil && b.onError != nil {
		b.onError(err, items)
	}
	return err
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = b.Flush(context.Background())
		case <-b.flushChan:
			_ = b.Flush(context.Background())
		case <-b.stopChan:
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Stop rejects further items, flushes what is pending and waits for the
// flush goroutine to exit or ctx to end.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.stopChan)
	})

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount returns the number of queued items
func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
