package oplogfetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/artie-labs/oplogfetcher/optime"
)

// fakeConnection is an inert Connection: Interrupt only records that it was
// called, since the fake cursors below don't actually block on a socket.
type fakeConnection struct {
	mu          sync.Mutex
	interrupted bool
}

func (c *fakeConnection) Interrupt() {
	c.mu.Lock()
	c.interrupted = true
	c.mu.Unlock()
}

func (c *fakeConnection) Close() error { return nil }

func (c *fakeConnection) wasInterrupted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupted
}

// scriptedCursor replays a fixed sequence of Batch/error results, one per
// Next call. Once the sequence is used up, Next returns an exhausted Batch.
type scriptedCursor struct {
	mu     sync.Mutex
	steps  []cursorStep
	idx    int
	closed bool
}

type cursorStep struct {
	batch Batch
	err   error
}

func (c *scriptedCursor) Next(ctx context.Context) (Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.steps) {
		return Batch{Exhausted: true}, nil
	}
	step := c.steps[c.idx]
	c.idx++
	return step.batch, step.err
}

func (c *scriptedCursor) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeClient hands out a fixed sequence of scriptedCursor sessions, one per
// OpenCursor call, so a test can model reconnects.
type fakeClient struct {
	mu       sync.Mutex
	sessions []*scriptedCursor
	opens    int
	openErrs []error
}

func (f *fakeClient) OpenCursor(ctx context.Context, namespace string, opts FindOptions) (Cursor, Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.opens < len(f.openErrs) && f.openErrs[f.opens] != nil {
		err := f.openErrs[f.opens]
		f.opens++
		return nil, nil, err
	}

	idx := f.opens
	f.opens++
	if idx >= len(f.sessions) {
		return &scriptedCursor{steps: []cursorStep{{batch: Batch{Exhausted: true}}}}, &fakeConnection{}, nil
	}
	return f.sessions[idx], &fakeConnection{}, nil
}

type fakeConfig struct{ term int64 }

func (f fakeConfig) Term() int64 { return f.term }

func entryDoc(t *testing.T, sec, inc uint32, term int64) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(bson.D{
		{Key: "ts", Value: primitive.Timestamp{T: sec, I: inc}},
		{Key: "t", Value: term},
	})
	assert.NoError(t, err)
	return bson.Raw(b)
}

func waitForDone(t *testing.T, f *Fetcher) {
	t.Helper()
	select {
	case <-func() chan struct{} { ch := make(chan struct{}); go func() { f.Join(); close(ch) }(); return ch }():
	case <-time.After(5 * time.Second):
		t.Fatal("fetcher did not terminate in time")
	}
}

func TestFetcher_HappyPathEnqueuesAndTerminates(t *testing.T) {
	start := optime.New(primitive.Timestamp{T: 5, I: 0}, 1)
	sentinel := entryDoc(t, 5, 0, 1)
	e1 := entryDoc(t, 6, 0, 1)
	e2 := entryDoc(t, 7, 0, 1)

	client := &fakeClient{sessions: []*scriptedCursor{
		{steps: []cursorStep{
			{batch: Batch{Entries: []bson.Raw{sentinel, e1, e2}, Exhausted: true}},
		}},
	}}

	var enqueued []bson.Raw
	var mu sync.Mutex

	f := New(Options{
		StartingLastFetched: start,
		Namespace:           "local.oplog.rs",
		Client:              client,
		Config:              fakeConfig{term: 1},
		Enqueue: func(ctx context.Context, entries []bson.Raw, info DocumentsInfo) error {
			mu.Lock()
			enqueued = append(enqueued, entries...)
			mu.Unlock()
			return nil
		},
	})

	assert.NoError(t, f.Start(context.Background()))
	waitForDone(t, f)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, enqueued, 2)
	assert.True(t, f.LastFetched().Equal(optime.New(primitive.Timestamp{T: 7, I: 0}, 1)))
}

func TestFetcher_SemanticErrorIsFatalNoRetry(t *testing.T) {
	start := optime.New(primitive.Timestamp{T: 5, I: 0}, 1)
	// First entry doesn't match lastFetched: ErrOplogStartMissing.
	badFirst := entryDoc(t, 9, 0, 1)

	client := &fakeClient{sessions: []*scriptedCursor{
		{steps: []cursorStep{{batch: Batch{Entries: []bson.Raw{badFirst}}}}},
		// A second session would only be opened on a retry; its presence
		// lets the test fail loudly (via client.opens) if a semantic error
		// is ever retried.
		{steps: []cursorStep{{batch: Batch{Exhausted: true}}}},
	}}

	var shutdownStatus error
	var once sync.Once
	done := make(chan struct{})

	f := New(Options{
		StartingLastFetched: start,
		Client:              client,
		Config:              fakeConfig{term: 1},
		RestartPolicy:       AlwaysContinueRestartPolicy{},
		OnShutdown: func(status error) {
			once.Do(func() {
				shutdownStatus = status
				close(done)
			})
		},
	})

	assert.NoError(t, f.Start(context.Background()))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback never fired")
	}

	assert.ErrorIs(t, shutdownStatus, ErrOplogStartMissing)
	assert.Equal(t, 1, client.opens)
}

func TestFetcher_TransientErrorRetriesThenSucceeds(t *testing.T) {
	start := optime.New(primitive.Timestamp{T: 5, I: 0}, 1)
	sentinel := entryDoc(t, 5, 0, 1)
	e1 := entryDoc(t, 6, 0, 1)

	client := &fakeClient{
		openErrs: []error{errors.New("connection refused"), nil},
		sessions: []*scriptedCursor{
			nil, // slot 0 consumed by the openErr above
			{steps: []cursorStep{{batch: Batch{Entries: []bson.Raw{sentinel, e1}, Exhausted: true}}}},
		},
	}

	var enqueuedCount int
	var mu sync.Mutex

	f := New(Options{
		StartingLastFetched: start,
		Client:              client,
		Config:              fakeConfig{term: 1},
		RestartPolicy:       NewDefaultRestartPolicy(3),
		Enqueue: func(ctx context.Context, entries []bson.Raw, info DocumentsInfo) error {
			mu.Lock()
			enqueuedCount += len(entries)
			mu.Unlock()
			return nil
		},
	})

	assert.NoError(t, f.Start(context.Background()))
	waitForDone(t, f)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, enqueuedCount)
	assert.Equal(t, 2, client.opens)
}

func TestFetcher_RestartBudgetExhaustedIsFatal(t *testing.T) {
	client := &fakeClient{
		openErrs: []error{errors.New("a"), errors.New("b"), errors.New("c")},
	}

	f := New(Options{
		Client:        client,
		Config:        fakeConfig{term: 1},
		RestartPolicy: NewDefaultRestartPolicy(2),
	})

	assert.NoError(t, f.Start(context.Background()))
	waitForDone(t, f)
	assert.Equal(t, 3, client.opens)
}

// blockingCursor never returns from Next until ctx is cancelled, modeling
// an in-flight await-data read that only Shutdown's context cancellation
// (not a scriptedCursor's instant reply) can unblock.
type blockingCursor struct {
	enteredNext chan struct{}
	once        sync.Once
}

func (c *blockingCursor) Next(ctx context.Context) (Batch, error) {
	c.once.Do(func() { close(c.enteredNext) })
	<-ctx.Done()
	return Batch{}, ctx.Err()
}

func (c *blockingCursor) Close(ctx context.Context) error { return nil }

func TestFetcher_ShutdownDuringRunInterruptsConnection(t *testing.T) {
	cursor := &blockingCursor{enteredNext: make(chan struct{})}
	conn := &fakeConnection{}

	client := &singleCursorClient{cursor: cursor, conn: conn}

	f := New(Options{
		Client: client,
		Config: fakeConfig{term: 1},
	})

	assert.NoError(t, f.Start(context.Background()))

	select {
	case <-cursor.enteredNext:
	case <-time.After(2 * time.Second):
		t.Fatal("fetcher never reached the blocking read")
	}

	f.Shutdown()
	waitForDone(t, f)
	assert.True(t, conn.wasInterrupted())
}

// singleCursorClient always hands out the same pre-built cursor/connection
// pair, for tests that only ever open one cursor.
type singleCursorClient struct {
	cursor Cursor
	conn   Connection
}

func (c *singleCursorClient) OpenCursor(ctx context.Context, namespace string, opts FindOptions) (Cursor, Connection, error) {
	return c.cursor, c.conn, nil
}

func TestFetcher_ShutdownBeforeStartCompletesImmediately(t *testing.T) {
	f := New(Options{Client: &fakeClient{}, Config: fakeConfig{term: 1}})
	f.Shutdown()
	waitForDone(t, f)
}

func TestFetcher_DoubleStartReturnsError(t *testing.T) {
	client := &fakeClient{}
	f := New(Options{Client: client, Config: fakeConfig{term: 1}})
	assert.NoError(t, f.Start(context.Background()))
	assert.ErrorIs(t, f.Start(context.Background()), ErrAlreadyStarted)
	f.Shutdown()
	waitForDone(t, f)
}

func TestFetcher_RollbackIDMismatchIsFatal(t *testing.T) {
	start := optime.New(primitive.Timestamp{T: 5, I: 0}, 1)
	sentinel := entryDoc(t, 5, 0, 1)

	client := &fakeClient{sessions: []*scriptedCursor{
		{steps: []cursorStep{{batch: Batch{
			Entries:  []bson.Raw{sentinel},
			Metadata: ReplyMetadata{RollbackID: 42},
		}}}},
	}}

	var status error
	done := make(chan struct{})

	f := New(Options{
		StartingLastFetched: start,
		Client:              client,
		Config:              fakeConfig{term: 1},
		RequiredRBID:        7,
		OnShutdown: func(s error) {
			status = s
			close(done)
		},
	})

	assert.NoError(t, f.Start(context.Background()))
	<-done
	assert.ErrorIs(t, status, ErrRollbackIDChanged)
}

func TestFetcher_TestHookRunsBeforeEachCursorOpen(t *testing.T) {
	start := optime.New(primitive.Timestamp{T: 5, I: 0}, 1)
	sentinel := entryDoc(t, 5, 0, 1)
	batch := entryDoc(t, 5, 1, 1)

	client := &fakeClient{sessions: []*scriptedCursor{
		{steps: []cursorStep{
			{batch: Batch{Entries: []bson.Raw{sentinel}}},
			{err: &FetchError{Code: CodeTransient, Err: assert.AnError}},
		}},
		{steps: []cursorStep{
			{batch: Batch{Entries: []bson.Raw{batch}}},
			{err: nil},
		}},
	}}

	var hookCalls int
	var mu sync.Mutex

	f := New(Options{
		StartingLastFetched: start,
		Client:              client,
		Config:              fakeConfig{term: 1},
		Enqueue:             func(context.Context, []bson.Raw, DocumentsInfo) error { return nil },
	})
	f.testHookBeforeCreateCursor = func() {
		mu.Lock()
		hookCalls++
		mu.Unlock()
	}

	assert.NoError(t, f.Start(context.Background()))
	waitForDone(t, f)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, hookCalls)
}

func TestFetcher_StringReportsCurrentState(t *testing.T) {
	f := New(Options{Namespace: "local.oplog.rs", Client: &fakeClient{}, Config: fakeConfig{term: 1}})
	assert.Contains(t, f.String(), "local.oplog.rs")
	assert.Contains(t, f.String(), "PreStart")
}
