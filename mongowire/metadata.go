package mongowire

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/oplogfetcher"
)

// parseCursorReply extracts the cursor id and current batch (firstBatch on
// a find reply, nextBatch on a getMore reply) from a raw command reply.
func parseCursorReply(raw bson.Raw) (int64, []bson.Raw, error) {
	cursorVal, err := raw.LookupErr("cursor")
	if err != nil {
		return 0, nil, fmt.Errorf("reply missing %q field: %w", "cursor", err)
	}

	cursorDoc, ok := cursorVal.DocumentOK()
	if !ok {
		return 0, nil, fmt.Errorf("%q field is not a document", "cursor")
	}

	idVal, err := cursorDoc.LookupErr("id")
	if err != nil {
		return 0, nil, fmt.Errorf("cursor reply missing %q field: %w", "id", err)
	}

	id, ok := idVal.Int64OK()
	if !ok {
		id32, ok32 := idVal.Int32OK()
		if !ok32 {
			return 0, nil, fmt.Errorf("cursor %q field is not an integer, got %s", "id", idVal.Type)
		}
		id = int64(id32)
	}

	batchKey := "firstBatch"
	if _, err := cursorDoc.LookupErr("nextBatch"); err == nil {
		batchKey = "nextBatch"
	}

	batchVal, err := cursorDoc.LookupErr(batchKey)
	if err != nil {
		// A killed or newly opened cursor may legitimately have no batch key.
		return id, nil, nil
	}

	arr, ok := batchVal.ArrayOK()
	if !ok {
		return 0, nil, fmt.Errorf("cursor %q field is not an array", batchKey)
	}

	values, err := arr.Values()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read %q array: %w", batchKey, err)
	}

	batch := make([]bson.Raw, 0, len(values))
	for i, v := range values {
		doc, ok := v.DocumentOK()
		if !ok {
			return 0, nil, fmt.Errorf("%s[%d] is not a document", batchKey, i)
		}
		batch = append(batch, bson.Raw(doc))
	}

	return id, batch, nil
}

// parseReplyMetadata extracts the $replData/$oplogQueryData-equivalent
// payloads from a raw command reply, if present. Absence of either is not
// an error: not every deployment advertises replication metadata on every
// reply.
func parseReplyMetadata(raw bson.Raw) oplogfetcher.ReplyMetadata {
	var meta oplogfetcher.ReplyMetadata

	if v, err := raw.LookupErr("$replData"); err == nil {
		if doc, ok := v.DocumentOK(); ok {
			meta.ReplData = bson.Raw(doc)
			if rbidVal, err := doc.LookupErr("rbid"); err == nil {
				if rbid, ok := rbidVal.Int32OK(); ok {
					meta.RollbackID = int(rbid)
				}
			}
		}
	}

	if v, err := raw.LookupErr("$oplogQueryData"); err == nil {
		if doc, ok := v.DocumentOK(); ok {
			meta.OplogQueryData = bson.Raw(doc)
		}
	}

	return meta
}
