package mongowire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func mustMarshal(t *testing.T, v any) bson.Raw {
	t.Helper()
	b, err := bson.Marshal(v)
	assert.NoError(t, err)
	return bson.Raw(b)
}

func TestParseCursorReply(t *testing.T) {
	{
		// find reply with firstBatch
		raw := mustMarshal(t, bson.D{
			{Key: "cursor", Value: bson.D{
				{Key: "id", Value: int64(123)},
				{Key: "firstBatch", Value: bson.A{
					bson.D{{Key: "ts", Value: 1}},
					bson.D{{Key: "ts", Value: 2}},
				}},
			}},
			{Key: "ok", Value: 1},
		})

		id, batch, err := parseCursorReply(raw)
		assert.NoError(t, err)
		assert.Equal(t, int64(123), id)
		assert.Len(t, batch, 2)
	}
	{
		// getMore reply with nextBatch, exhausted cursor (id 0)
		raw := mustMarshal(t, bson.D{
			{Key: "cursor", Value: bson.D{
				{Key: "id", Value: int64(0)},
				{Key: "nextBatch", Value: bson.A{}},
			}},
		})

		id, batch, err := parseCursorReply(raw)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), id)
		assert.Empty(t, batch)
	}
	{
		// id encoded as int32
		raw := mustMarshal(t, bson.D{
			{Key: "cursor", Value: bson.D{
				{Key: "id", Value: int32(7)},
				{Key: "firstBatch", Value: bson.A{}},
			}},
		})

		id, _, err := parseCursorReply(raw)
		assert.NoError(t, err)
		assert.Equal(t, int64(7), id)
	}
	{
		// missing cursor field
		raw := mustMarshal(t, bson.D{{Key: "ok", Value: 1}})
		_, _, err := parseCursorReply(raw)
		assert.ErrorContains(t, err, `missing "cursor" field`)
	}
}

func TestParseReplyMetadata(t *testing.T) {
	{
		raw := mustMarshal(t, bson.D{
			{Key: "$replData", Value: bson.D{
				{Key: "term", Value: int64(4)},
				{Key: "rbid", Value: int32(9)},
			}},
			{Key: "$oplogQueryData", Value: bson.D{
				{Key: "lastOpCommitted", Value: "x"},
			}},
		})

		meta := parseReplyMetadata(raw)
		assert.Equal(t, 9, meta.RollbackID)
		assert.NotNil(t, meta.ReplData)
		assert.NotNil(t, meta.OplogQueryData)
	}
	{
		// no metadata present
		raw := mustMarshal(t, bson.D{{Key: "ok", Value: 1}})
		meta := parseReplyMetadata(raw)
		assert.Equal(t, 0, meta.RollbackID)
		assert.Nil(t, meta.ReplData)
	}
}
