// Package mongowire is the concrete SyncSourceClient implementation for
// oplogfetcher: it speaks raw find/getMore commands against a Mongo-shaped
// oplog collection, the way the real protocol in spec.md §6 requires,
// rather than the higher-level change-stream API the teacher repo uses for
// CDC on regular collections.
package mongowire

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/artie-labs/oplogfetcher/oplogfetcher"
)

// Client opens tailable, awaitData find/getMore cursors against one Mongo
// database. The find request carries the fetcher's term as $replData;
// getMore requests carry no replication metadata. Replication metadata is
// read from every reply.
type Client struct {
	db               *mongo.Database
	awaitDataTimeout time.Duration
}

// NewClient returns a Client backed by db. awaitDataTimeout bounds every
// getMore issued by cursors this Client opens (spec.md §4.2, §6
// "awaitDataTimeout").
func NewClient(db *mongo.Database, awaitDataTimeout time.Duration) *Client {
	if awaitDataTimeout <= 0 {
		awaitDataTimeout = 2 * time.Second
	}
	return &Client{db: db, awaitDataTimeout: awaitDataTimeout}
}

// Dial connects to uri and returns a Client scoped to the named database.
// Grounded on the teacher's sources/mongo/mongo.go connection setup
// (options.Client().ApplyURI, client.Ping).
func Dial(ctx context.Context, uri, database string, awaitDataTimeout time.Duration) (*Client, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return NewClient(client.Database(database), awaitDataTimeout), client.Disconnect, nil
}

func collectionFromNamespace(namespace string) (string, error) {
	parts := strings.SplitN(namespace, ".", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("namespace %q is not of the form db.collection", namespace)
	}
	return parts[1], nil
}

// OpenCursor implements oplogfetcher.SyncSourceClient.
func (c *Client) OpenCursor(ctx context.Context, namespace string, opts oplogfetcher.FindOptions) (oplogfetcher.Cursor, oplogfetcher.Connection, error) {
	collName, err := collectionFromNamespace(namespace)
	if err != nil {
		return nil, nil, err
	}

	conn := newConnection()
	readCtx, done := conn.withCancel(ctx)
	defer done()

	findCmd := bson.D{
		{Key: "find", Value: collName},
		{Key: "filter", Value: opts.StartAt.GTEPredicate()},
		{Key: "tailable", Value: true},
		{Key: "awaitData", Value: true},
		{Key: "batchSize", Value: opts.BatchSize},
		{Key: "maxTimeMS", Value: opts.MaxTime.Milliseconds()},
		{Key: "$replData", Value: bson.D{{Key: "term", Value: opts.Metadata.Term}}},
	}

	raw, err := c.db.RunCommand(readCtx, findCmd).Raw()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("find command failed: %w", err)
	}

	cursorID, firstBatch, err := parseCursorReply(raw)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	cur := &cursor{
		db:               c.db,
		collName:         collName,
		conn:             conn,
		id:               cursorID,
		batchSize:        opts.BatchSize,
		awaitDataTimeout: c.awaitDataTimeout,
		pendingFirst:     firstBatch,
		pendingMetadata:  parseReplyMetadata(raw),
	}
	return cur, conn, nil
}
