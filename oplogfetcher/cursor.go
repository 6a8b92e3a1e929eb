package oplogfetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/artie-labs/oplogfetcher/optime"
)

// cursorSession owns one streaming cursor's lifecycle: it issues the
// initial query, drains subsequent batches, and tears down on error
// (spec.md §4.2). It is used by exactly one goroutine — the Driver's
// background task — for its entire lifetime.
type cursorSession struct {
	client    SyncSourceClient
	namespace string
	term      int64
	batchSize int32

	cursor     Cursor
	connection Connection

	// firstReadDone tracks whether we've issued the first read on this
	// cursor yet. "First batch" is the first read after open, empty or
	// not: spec.md §8's boundary behavior ("empty initial batch with
	// requireFresherSyncSource=true -> fatal") only makes sense under
	// this reading, so that is what resolves the §9 Open Question here.
	firstReadDone bool
}

func newCursorSession(client SyncSourceClient, namespace string, term int64, batchSize int32) *cursorSession {
	return &cursorSession{
		client:    client,
		namespace: namespace,
		term:      term,
		batchSize: batchSize,
	}
}

// open issues the initial query at startAt. maxTime should be the caller's
// initial-open bound on a fresh Fetcher and the shorter retried bound on
// reconnect (spec.md §4.2).
func (s *cursorSession) open(ctx context.Context, startAt optime.OpTime, maxTime time.Duration) error {
	opts := FindOptions{
		StartAt:   startAt,
		MaxTime:   maxTime,
		BatchSize: s.batchSize,
		Metadata:  RequestMetadata{Term: s.term},
	}

	cursor, conn, err := s.client.OpenCursor(ctx, s.namespace, opts)
	if err != nil {
		return newTransientError(fmt.Errorf("failed to open cursor: %w", err))
	}

	s.cursor = cursor
	s.connection = conn
	s.firstReadDone = false
	return nil
}

// next drains one batch. It returns io.EOF-shaped semantics via
// Batch.Exhausted rather than a sentinel error, since an exhausted cursor
// with a final (possibly empty) batch is not itself a failure.
func (s *cursorSession) next(ctx context.Context) (Batch, error) {
	batch, err := s.cursor.Next(ctx)
	if err != nil {
		return Batch{}, newTransientError(fmt.Errorf("failed to read next batch: %w", err))
	}
	return batch, nil
}

// isFirstBatch reports whether the batch just read is this cursor's first
// read (empty or not), and records that fact.
func (s *cursorSession) isFirstBatch() bool {
	first := !s.firstReadDone
	s.firstReadDone = true
	return first
}

// close tears down the cursor and its connection. Safe to call more than
// once and safe to call with no cursor open.
func (s *cursorSession) close(ctx context.Context) error {
	if s.cursor == nil {
		return nil
	}
	err := s.cursor.Close(ctx)
	s.cursor = nil
	s.connection = nil
	return err
}

// interrupt asks the underlying connection to unblock any in-flight read.
// Safe to call when no cursor is open.
func (s *cursorSession) interrupt() {
	if s.connection != nil {
		s.connection.Interrupt()
	}
}
