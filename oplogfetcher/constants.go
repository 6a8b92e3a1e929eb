package oplogfetcher

import (
	"time"

	"github.com/artie-labs/oplogfetcher/constants"
)

// Defaults mirror the source's kDefaultProtocolZeroAwaitDataTimeout and
// friends, adapted to the batch sizes and restart budgets this codebase
// uses elsewhere (config.Fetcher, constants.DefaultBatchSize).
const (
	defaultMaxFetcherRestarts = 3
	defaultBatchSize          = constants.DefaultBatchSize

	// defaultInitialFindMaxTime bounds the establishment `find` on a fresh
	// start.
	defaultInitialFindMaxTime = 30 * time.Second
	// defaultRetriedFindMaxTime is shorter: a reconnect already suggests
	// an unhealthy link (spec.md §4.2).
	defaultRetriedFindMaxTime = 7 * time.Second
	// defaultAwaitDataTimeout is the default for Options.AwaitDataTimeout.
	// The Fetcher stores that value but does not pass it to its
	// SyncSourceClient; the server-side long poll on each getMore is
	// bounded by the client's own setting (see mongowire.NewClient).
	defaultAwaitDataTimeout = 2 * time.Second

	reconnectBaseJitterMs = 300
	reconnectMaxJitterMs  = 5_000
)
