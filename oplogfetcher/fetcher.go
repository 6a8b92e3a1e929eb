// Package oplogfetcher implements the client-side component that
// continuously tails a remote sync source's oplog and hands validated
// batches to a local applier.
package oplogfetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/lib/backoff"
	"github.com/artie-labs/oplogfetcher/optime"
)

// State is one of the four states in the Fetcher's lifecycle
// (spec.md §4.1).
type State int

const (
	PreStart State = iota
	Running
	ShuttingDown
	Complete
)

func (s State) String() string {
	switch s {
	case PreStart:
		return "PreStart"
	case Running:
		return "Running"
	case ShuttingDown:
		return "ShuttingDown"
	case Complete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// ConfigSnapshot is the replica-set configuration collaborator (spec.md §3
// "Config snapshot"). It is taken at construction and is immutable for the
// Fetcher's lifetime; a config change requires constructing a new Fetcher.
type ConfigSnapshot interface {
	// Term returns the node's current election term.
	Term() int64
}

// EnqueueFunc copies validated, to-apply entries into the downstream
// applier buffer. It receives the half-open range of the batch that
// survived validation (excluding any skipped sentinel first document) and
// the corresponding stats. It may block; the fetcher treats it as
// synchronous and does not call it concurrently (spec.md §9).
type EnqueueFunc func(ctx context.Context, entries []bson.Raw, info DocumentsInfo) error

// ShutdownFunc is invoked exactly once, on the terminal transition to
// Complete. It runs on the background task; when Shutdown is called before
// Start there is no background task, and Shutdown itself invokes it on the
// caller's goroutine. status is nil (OK) if the remote
// naturally closed the cursor, ErrShutdown-derived if cancelled
// cooperatively, or the fatal error otherwise.
type ShutdownFunc func(status error)

// Options configures a Fetcher at construction (spec.md §6 "Upward").
type Options struct {
	// StartingLastFetched seeds LastFetched.
	StartingLastFetched optime.OpTime
	// Namespace is the remote log's namespace (e.g. "local.oplog.rs").
	Namespace string
	Client    SyncSourceClient
	Config    ConfigSnapshot

	RestartPolicy             RestartPolicy
	RequiredRBID              int
	RequireFresherSyncSource  bool
	ExternalReplicationState  ExternalReplicationState
	Enqueue                   EnqueueFunc
	OnShutdown                ShutdownFunc
	BatchSize                 int32
	StartingPoint             StartingPoint
	InitialFindMaxTime        time.Duration
	RetriedFindMaxTime        time.Duration
	AwaitDataTimeout          time.Duration

	Logger *slog.Logger
}

// Fetcher is the Driver from spec.md §4.1: it owns the background task that
// creates cursors, pumps batches, and exits on fatal error or shutdown.
type Fetcher struct {
	id uuid.UUID

	client    SyncSourceClient
	namespace string
	config    ConfigSnapshot

	restartPolicy            RestartPolicy
	requiredRBID             int
	requireFresherSyncSource bool
	externalState            ExternalReplicationState
	enqueueFn                EnqueueFunc
	shutdownFn               ShutdownFunc
	batchSize                int32
	startingPoint            StartingPoint
	initialFindMaxTime       time.Duration
	retriedFindMaxTime       time.Duration
	awaitDataTimeout         time.Duration

	logger *slog.Logger

	// lastFetched is written only by the background task once Start has
	// returned; reads and writes go through mu so LastFetched and String
	// can read it from other goroutines.
	lastFetched optime.OpTime

	mu         sync.Mutex
	state      State
	started    bool
	activeConn Connection
	cancelRun  context.CancelFunc

	done         chan struct{}
	completeOnce sync.Once

	// testHookBeforeCreateCursor, when set, runs immediately before each
	// cursor (re)open attempt. It exists only so tests can inject a delay
	// or observe a restart in flight, the way the original's
	// stopReplProducer fail point paused cursor creation; it is never set
	// outside a test.
	testHookBeforeCreateCursor func()
}

// New constructs a Fetcher in the PreStart state. It does not start the
// background task; call Start for that.
func New(opts Options) *Fetcher {
	if opts.RestartPolicy == nil {
		opts.RestartPolicy = NewDefaultRestartPolicy(defaultMaxFetcherRestarts)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.InitialFindMaxTime <= 0 {
		opts.InitialFindMaxTime = defaultInitialFindMaxTime
	}
	if opts.RetriedFindMaxTime <= 0 {
		opts.RetriedFindMaxTime = defaultRetriedFindMaxTime
	}
	if opts.AwaitDataTimeout <= 0 {
		opts.AwaitDataTimeout = defaultAwaitDataTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Fetcher{
		id:                       uuid.New(),
		client:                   opts.Client,
		namespace:                opts.Namespace,
		config:                   opts.Config,
		restartPolicy:            opts.RestartPolicy,
		requiredRBID:             opts.RequiredRBID,
		requireFresherSyncSource: opts.RequireFresherSyncSource,
		externalState:            opts.ExternalReplicationState,
		enqueueFn:                opts.Enqueue,
		shutdownFn:               opts.OnShutdown,
		batchSize:                opts.BatchSize,
		startingPoint:            opts.StartingPoint,
		initialFindMaxTime:       opts.InitialFindMaxTime,
		retriedFindMaxTime:       opts.RetriedFindMaxTime,
		awaitDataTimeout:         opts.AwaitDataTimeout,
		logger:                   opts.Logger,
		lastFetched:              opts.StartingLastFetched,
		state:                    PreStart,
		done:                     make(chan struct{}),
	}
}

// LastFetched returns the current LastFetched OpTime. Safe to call from any
// goroutine after Start returns; only monotonically non-decreasing values
// are ever visible (spec.md §3).
func (f *Fetcher) LastFetched() optime.OpTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFetched
}

func (f *Fetcher) setLastFetched(ot optime.OpTime) {
	f.mu.Lock()
	f.lastFetched = ot
	f.mu.Unlock()
}

// String implements fmt.Stringer, dumping status and settings the way the
// original oplog_fetcher.h's toString() does.
func (f *Fetcher) String() string {
	f.mu.Lock()
	state := f.state
	last := f.lastFetched
	f.mu.Unlock()
	return fmt.Sprintf("OplogFetcher{id: %s, ns: %s, state: %s, lastFetched: %s, batchSize: %d}",
		f.id, f.namespace, state, last, f.batchSize)
}

// Start schedules the background task and transitions PreStart -> Running.
func (f *Fetcher) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return &FetchError{Code: CodeLocalMisuse, Err: ErrAlreadyStarted}
	}
	if f.state != PreStart {
		f.mu.Unlock()
		return &FetchError{Code: CodeLocalMisuse, Err: ErrShutdownInProgress}
	}
	f.started = true
	f.state = Running
	f.mu.Unlock()

	f.logger.Info("Starting oplog fetcher", slog.String("fetcher", f.String()))
	go f.run(ctx)
	return nil
}

// Shutdown is idempotent: it transitions to ShuttingDown, interrupts any
// in-flight read, and returns immediately without waiting for the
// background task. Calling it before Start or more than once is safe.
func (f *Fetcher) Shutdown() {
	f.mu.Lock()
	switch f.state {
	case Complete, ShuttingDown:
		f.mu.Unlock()
		return
	case PreStart:
		f.state = Complete
		f.mu.Unlock()
		f.finish(newShutdownError(ErrShutdown))
		return
	default:
		f.state = ShuttingDown
		conn := f.activeConn
		cancel := f.cancelRun
		f.mu.Unlock()
		if conn != nil {
			conn.Interrupt()
		}
		if cancel != nil {
			cancel()
		}
	}
}

// Join blocks until the background task has terminated and the shutdown
// callback has run.
func (f *Fetcher) Join() {
	<-f.done
}

func (f *Fetcher) isShuttingDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == ShuttingDown
}

func (f *Fetcher) setActiveConnection(c Connection) {
	f.mu.Lock()
	f.activeConn = c
	f.mu.Unlock()
}

func (f *Fetcher) clearActiveConnection() {
	f.mu.Lock()
	f.activeConn = nil
	f.mu.Unlock()
}

// finish drives the terminal transition to Complete and invokes the
// shutdown callback exactly once, over the Fetcher's entire lifetime
// (spec.md §3, §4.1, testable property 4).
func (f *Fetcher) finish(status error) {
	f.completeOnce.Do(func() {
		f.mu.Lock()
		f.state = Complete
		f.activeConn = nil
		f.mu.Unlock()

		if status != nil {
			f.logger.Warn("Oplog fetcher stopped", slog.Any("err", status), slog.String("fetcher", f.String()))
		} else {
			f.logger.Info("Oplog fetcher stopped", slog.String("fetcher", f.String()))
		}

		if f.shutdownFn != nil {
			f.shutdownFn(status)
		}
		close(f.done)
	})
}

// run is the outer loop from spec.md §4.1: create cursor, pump batches
// until the cursor dies, ask the Restart Policy, repeat; exit on fatal
// classification, validator rejection, or shutdown.
func (f *Fetcher) run(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	f.mu.Lock()
	f.cancelRun = cancel
	f.mu.Unlock()

	var status error
	firstOpen := true

	for {
		if f.isShuttingDown() {
			status = newShutdownError(ErrShutdown)
			break
		}

		maxTime := f.initialFindMaxTime
		if !firstOpen {
			maxTime = f.retriedFindMaxTime
		}

		if f.testHookBeforeCreateCursor != nil {
			f.testHookBeforeCreateCursor()
		}

		session := newCursorSession(f.client, f.namespace, f.config.Term(), f.batchSize)
		if err := session.open(ctx, f.LastFetched(), maxTime); err != nil {
			if f.isShuttingDown() {
				status = newShutdownError(ErrShutdown)
				break
			}
			if !f.restartPolicy.ShouldContinue(err) {
				status = err
				break
			}
			if !f.sleepBeforeReconnect(ctx) {
				status = newShutdownError(ErrShutdown)
				break
			}
			continue
		}
		firstOpen = false

		f.setActiveConnection(session.connection)
		cursorErr := f.pumpCursor(ctx, session)
		f.clearActiveConnection()
		_ = session.close(ctx)

		if cursorErr == nil {
			status = nil
			break
		}

		if f.isShuttingDown() {
			status = newShutdownError(ErrShutdown)
			break
		}

		if !f.restartPolicy.ShouldContinue(cursorErr) {
			status = cursorErr
			break
		}

		if !f.sleepBeforeReconnect(ctx) {
			status = newShutdownError(ErrShutdown)
			break
		}
	}

	f.finish(status)
}

// sleepBeforeReconnect waits a jittered backoff before reopening a cursor
// after a transient failure, the way lib.JitterMs backs off retries in the
// teacher repo. It returns false if shutdown was requested while waiting.
func (f *Fetcher) sleepBeforeReconnect(ctx context.Context) bool {
	delay := time.Duration(backoff.JitterMs(reconnectBaseJitterMs, reconnectMaxJitterMs, f.restartAttempts())) * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return !f.isShuttingDown()
	case <-ctx.Done():
		return false
	}
}

func (f *Fetcher) restartAttempts() int {
	if d, ok := f.restartPolicy.(*DefaultRestartPolicy); ok {
		return d.NumRestarts()
	}
	return 1
}

// pumpCursor drains batches from session until the cursor dies (returns a
// non-nil error) or gracefully ends the stream (returns nil).
func (f *Fetcher) pumpCursor(ctx context.Context, session *cursorSession) error {
	for {
		batch, err := session.next(ctx)
		if err != nil {
			return err
		}

		isFirst := session.isFirstBatch()
		info, begin, end, verr := validate(batch.Entries, isFirst, f.LastFetched(), f.startingPoint, f.requireFresherSyncSource)
		if verr != nil {
			return verr
		}

		if f.requiredRBID != 0 && batch.Metadata.RollbackID != 0 && batch.Metadata.RollbackID != f.requiredRBID {
			return newSemanticError(fmt.Errorf("%w: expected %d, got %d", ErrRollbackIDChanged, f.requiredRBID, batch.Metadata.RollbackID))
		}

		if f.externalState != nil {
			if err := f.externalState.ProcessReplSetMetadata(ctx, batch.Metadata); err != nil {
				return newSemanticError(fmt.Errorf("%w: %v", ErrInvalidSyncSource, err))
			}
		}

		if end > begin {
			if f.enqueueFn != nil {
				if err := f.enqueueFn(ctx, batch.Entries[begin:end], info); err != nil {
					return newSemanticError(fmt.Errorf("enqueue callback failed: %w", err))
				}
			}
			f.setLastFetched(info.LastDocument)
		}

		f.restartPolicy.FetchSuccessful()

		if batch.Exhausted {
			return nil
		}
	}
}
