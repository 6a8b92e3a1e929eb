package mongowire

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/artie-labs/oplogfetcher/oplogfetcher"
)

// cursor implements oplogfetcher.Cursor over raw find/getMore commands.
type cursor struct {
	db       *mongo.Database
	collName string
	conn     *connection

	id        int64
	batchSize int32

	awaitDataTimeout time.Duration

	// pendingFirst/pendingMetadata hold the find command's own reply until
	// the first Next() call delivers it; find and getMore are two
	// different commands so the first batch can't be requested lazily.
	pendingFirst    []bson.Raw
	pendingMetadata oplogfetcher.ReplyMetadata
	firstDelivered  bool
}

// Next implements oplogfetcher.Cursor.
func (c *cursor) Next(ctx context.Context) (oplogfetcher.Batch, error) {
	if !c.firstDelivered {
		c.firstDelivered = true
		entries := c.pendingFirst
		c.pendingFirst = nil
		return oplogfetcher.Batch{
			Entries:   entries,
			Metadata:  c.pendingMetadata,
			Exhausted: c.id == 0,
		}, nil
	}

	if c.id == 0 {
		return oplogfetcher.Batch{Exhausted: true}, nil
	}

	getMoreCmd := bson.D{
		{Key: "getMore", Value: c.id},
		{Key: "collection", Value: c.collName},
		{Key: "batchSize", Value: c.batchSize},
		{Key: "maxTimeMS", Value: c.awaitDataTimeout.Milliseconds()},
	}

	readCtx, done := c.conn.withCancel(ctx)
	defer done()

	raw, err := c.db.RunCommand(readCtx, getMoreCmd).Raw()
	if err != nil {
		if readCtx.Err() != nil {
			return oplogfetcher.Batch{}, fmt.Errorf("getMore interrupted: %w", readCtx.Err())
		}
		return oplogfetcher.Batch{}, fmt.Errorf("getMore command failed: %w", err)
	}

	cursorID, batch, err := parseCursorReply(raw)
	if err != nil {
		return oplogfetcher.Batch{}, err
	}
	c.id = cursorID

	return oplogfetcher.Batch{
		Entries:   batch,
		Metadata:  parseReplyMetadata(raw),
		Exhausted: cursorID == 0,
	}, nil
}

// Close implements oplogfetcher.Cursor. It kills the remote cursor, if
// still open, and interrupts the connection.
func (c *cursor) Close(ctx context.Context) error {
	defer c.conn.Close()

	if c.id == 0 {
		return nil
	}

	killCmd := bson.D{
		{Key: "killCursors", Value: c.collName},
		{Key: "cursors", Value: bson.A{c.id}},
	}
	_, err := c.db.RunCommand(ctx, killCmd).Raw()
	c.id = 0
	if err != nil {
		return fmt.Errorf("killCursors failed: %w", err)
	}
	return nil
}
