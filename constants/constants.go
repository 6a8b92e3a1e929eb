package constants

// DefaultBatchSize is shared between config.Fetcher's default and
// oplogfetcher's own default (oplogfetcher/constants.go), so a daemon's
// config defaults track the library's defaults without duplicating the
// literal.
const DefaultBatchSize = 5_000
