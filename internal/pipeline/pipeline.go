// Package pipeline runs a fixed pool of workers fed by a bounded queue.
//
// The producer enqueues every item followed by one EndOfStream per worker,
// so each worker observes exactly one end marker and then exits. The queue
// bound gives the producer backpressure when workers fall behind.
package pipeline

import (
	"context"
	"sync"
)

// Message is a queue entry: either an item or the end-of-stream marker.
type Message[T any] struct {
	item T
	end  bool
}

func Item[T any](v T) Message[T] { return Message[T]{item: v} }

func EndOfStream[T any]() Message[T] { return Message[T]{end: true} }

// Value returns the carried item. ok is false for EndOfStream.
func (m Message[T]) Value() (item T, ok bool) {
	return m.item, !m.end
}

func (m Message[T]) IsEnd() bool { return m.end }

type Config struct {
	Workers   int
	QueueSize int
}

// Handler processes one item. Returning false drops the item from the results.
type Handler[T, R any] func(ctx context.Context, item T) (R, bool)

// Produce enqueues items in order and then one EndOfStream per worker.
// It blocks while the queue is full.
func Produce[T any](queue chan<- Message[T], items []T, workers int) {
	for _, it := range items {
		queue <- Item(it)
	}
	for i := 0; i < workers; i++ {
		queue <- EndOfStream[T]()
	}
}

// Drain consumes messages until the first EndOfStream and returns the
// handler results in the order this worker produced them.
func Drain[T, R any](ctx context.Context, queue <-chan Message[T], handle Handler[T, R]) []R {
	var out []R
	for msg := range queue {
		item, ok := msg.Value()
		if !ok {
			return out
		}
		if r, keep := handle(ctx, item); keep {
			out = append(out, r)
		}
	}
	return out
}

// Run fans items out to cfg.Workers workers through a queue of capacity
// cfg.QueueSize and returns the concatenated per-worker results once every
// worker has exited.
func Run[T, R any](ctx context.Context, cfg Config, items []T, handle Handler[T, R]) []R {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size < 0 {
		size = 0
	}

	queue := make(chan Message[T], size)
	perWorker := make([][]R, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			perWorker[i] = Drain(ctx, queue, handle)
		}(i)
	}

	Produce(queue, items, workers)
	wg.Wait()

	var total int
	for _, rs := range perWorker {
		total += len(rs)
	}
	out := make([]R, 0, total)
	for _, rs := range perWorker {
		out = append(out, rs...)
	}
	return out
}
