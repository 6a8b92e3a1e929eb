package oplogfetcher

import "context"

// ExternalReplicationState is the out-of-scope collaborator that owns the
// local node's view of replication progress (spec.md §1, §4.5). The
// fetcher forwards every batch's ReplyMetadata to it, atomically with (or
// immediately before) the corresponding enqueue, so the applier never sees
// entries whose provenance the external state has not yet observed.
type ExternalReplicationState interface {
	// ProcessReplSetMetadata records the remote's advertised replication
	// view. A non-nil error means the source is no longer eligible
	// (different term, rolled back, no longer ahead); the fetcher treats
	// this as fatal and stops.
	ProcessReplSetMetadata(ctx context.Context, meta ReplyMetadata) error
}
