// Package applier models the downstream buffer collaborator (spec.md §1,
// §6 "EnqueueDocumentsFn"). Applying and persisting entries is out of
// scope for oplogfetcher; this package only provides the bounded queue a
// real applier would drain from, so the fetcher has something concrete to
// call in tests and in the daemon.
package applier

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/oplogfetcher"
)

// Entry is one accepted oplog entry paired with the batch stats it arrived
// with, as handed off by the enqueue callback.
type Entry struct {
	Document bson.Raw
	Info     oplogfetcher.DocumentsInfo
}

// Buffer is a bounded, channel-backed downstream queue. Enqueue blocks
// once the buffer is full, giving the fetcher natural backpressure the way
// spec.md §5 requires of the enqueue callback ("must be bounded or provide
// its own backpressure"). A stdlib channel is the idiomatic Go shape for
// this; none of the corpus's queue/broker libraries (kafka-go, etc.) fit an
// in-process handoff better than one.
type Buffer struct {
	ch chan Entry
}

// New returns a Buffer that can hold up to capacity un-drained entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{ch: make(chan Entry, capacity)}
}

// Enqueue implements the shape of oplogfetcher.EnqueueFunc: it copies every
// entry in the given half-open range into the buffer, blocking if it is
// full, honoring ctx cancellation.
func (b *Buffer) Enqueue(ctx context.Context, entries []bson.Raw, info oplogfetcher.DocumentsInfo) error {
	for _, doc := range entries {
		select {
		case b.ch <- Entry{Document: doc, Info: info}:
		case <-ctx.Done():
			return fmt.Errorf("enqueue interrupted: %w", ctx.Err())
		}
	}
	return nil
}

// Drain returns the next available entry, blocking until one arrives or
// ctx is done.
func (b *Buffer) Drain(ctx context.Context) (Entry, error) {
	select {
	case e := <-b.ch:
		return e, nil
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}

// Len reports the number of entries currently buffered.
func (b *Buffer) Len() int {
	return len(b.ch)
}
