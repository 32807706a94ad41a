package batch

import (
	"context"
	"sync"
	"time"
)

// Processor handles one flushed batch.
type Processor[T any] func(ctx context.Context, items []T) error

// Batcher collects items and hands them to a Processor when either the
// batch size is reached or the interval elapses.
type Batcher[T any] struct {
	batchSize     int
	batchInterval time.Duration
	maxPending    int
	processor     Processor[T]
	onError       func(err error, items []T)

	mu        sync.Mutex
	pending   []T
	flushChan chan struct{}
	stopChan  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

type Option[T any] func(*Batcher[T])

// WithMaxPending bounds the queue; Add reports false once it is full.
func WithMaxPending[T any](n int) Option[T] {
	return func(b *Batcher[T]) { b.maxPending = n }
}

func WithErrorHandler[T any](fn func(err error, items []T)) Option[T] {
	return func(b *Batcher[T]) { b.onError = fn }
}

func NewBatcher[T any](batchSize int, batchInterval time.Duration, processor Processor[T], opts ...Option[T]) *Batcher[T] {
	b := &Batcher[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		maxPending:    batchSize * 100,
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

// Add enqueues an item without blocking on the processor.
func (b *Batcher[T]) Add(item T) bool {
	b.mu.Lock()
	if b.maxPending > 0 && len(b.pending) >= b.maxPending {
		b.mu.Unlock()
		return false
	}
	b.pending = append(b.pending, item)
	shouldFlush := len(b.pending) >= b.batchSize
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}
	return true
}

// Flush immediately processes all pending items.
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

// Stop flushes what is pending and waits for the loop to exit.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	<-b.done
}

func (b *Batcher[T]) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
