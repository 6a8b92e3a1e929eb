package oplogfetcher

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/optime"
)

// RequestMetadata is attached to the initial find query of each cursor
// (spec.md §4.5, §6). It advertises the fetcher's own term. It is carried
// only by FindOptions; subsequent getMore-style reads send no request
// metadata.
type RequestMetadata struct {
	Term int64
}

// ReplyMetadata is the remote's replication view, forwarded verbatim to the
// external replication state after every successful batch. The two
// sub-payloads mirror the real protocol's $oplogQueryData/$replData
// fields; both are opaque to the fetcher beyond what ExternalReplicationState
// chooses to inspect.
type ReplyMetadata struct {
	// OplogQueryData is the raw $oplogQueryData-equivalent payload.
	OplogQueryData bson.Raw
	// ReplData is the raw $replData-equivalent payload.
	ReplData bson.Raw
	// RollbackID is the remote's current rollback ID, when advertised.
	RollbackID int
}

// FindOptions describes the initial (find) query that opens a cursor.
type FindOptions struct {
	// StartAt is the inclusive lower bound: `{ts: {$gte: StartAt.Timestamp}}`.
	StartAt optime.OpTime
	// MaxTime bounds the establishment call (find).
	MaxTime time.Duration
	// BatchSize is the server-side batch limit.
	BatchSize int32
	Metadata  RequestMetadata
}

// Batch is one delivery from the cursor: zero or more raw oplog entries plus
// the reply metadata that accompanied them. Entries is empty (nil or
// zero-length) when the read merely observed an await-data timeout with no
// new data.
type Batch struct {
	Entries  []bson.Raw
	Metadata ReplyMetadata
	// Exhausted is true once the remote has told us this cursor will not
	// produce any further batches (graceful end-of-stream).
	Exhausted bool
}

// Cursor is the owned, streaming conversation with the remote (spec.md §3
// "Cursor handle"). It is driven exclusively by the goroutine that opened
// it; only Connection.Interrupt is safe to call concurrently.
type Cursor interface {
	// Next blocks for the next batch, honoring ctx cancellation. An empty,
	// non-exhausted Batch is a legal await-data timeout; the caller should
	// read again.
	Next(ctx context.Context) (Batch, error)
	// Close tears down the cursor and its underlying connection.
	Close(ctx context.Context) error
}

// Connection is the owned transport underlying one Cursor (spec.md §3
// "Connection handle"). Interrupt must be safe to call from any goroutine,
// at any time, including after Close, and must cause any in-flight read on
// the Cursor built from this Connection to return promptly with an error.
type Connection interface {
	// Interrupt unblocks an in-flight read and marks the connection as
	// not eligible for reconnection.
	Interrupt()
	Close() error
}

// SyncSourceClient is the out-of-scope collaborator that knows how to open
// a tailable, awaitData, exhaust-style cursor against the remote log
// namespace (spec.md §1, §6 "Downward (wire)"). Concrete implementations
// live outside this package (see the mongowire package).
type SyncSourceClient interface {
	// OpenCursor issues the initial query and returns the live Cursor and
	// its underlying Connection. The Connection must be closed by closing
	// the returned Cursor.
	OpenCursor(ctx context.Context, namespace string, opts FindOptions) (Cursor, Connection, error)
}
