package sink

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/artie-labs/oplogfetcher/lib/mtr"
	"github.com/artie-labs/oplogfetcher/oplogfetcher"
)

// WithMetrics wraps an EnqueueFunc so every accepted batch reports its size
// and lag to client before being handed to next. dropped is looked up from
// the surrounding validate() call site via the returned DocumentsInfo, so
// only what actually reached next is counted as accepted.
func WithMetrics(next oplogfetcher.EnqueueFunc, client mtr.Client, tags map[string]string) oplogfetcher.EnqueueFunc {
	return func(ctx context.Context, entries []bson.Raw, info oplogfetcher.DocumentsInfo) error {
		dropped := info.NetworkDocumentCount - info.ToApplyDocumentCount
		lag := time.Since(time.Unix(int64(info.LastDocument.Timestamp.T), 0)).Seconds()
		mtr.ReportBatch(client, info.ToApplyDocumentCount, dropped, lag, tags)
		return next(ctx, entries, info)
	}
}
