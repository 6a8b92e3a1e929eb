package mtr

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/DataDog/datadog-go/statsd"
)

func New(namespace string, tags []string, samplingRate float64) (Client, error) {
	host := os.Getenv("TELEMETRY_HOST")
	port := os.Getenv("TELEMETRY_PORT")
	address := DefaultAddr
	if host != "" && port != "" {
		address = fmt.Sprintf("%s:%s", host, port)
		slog.Info("Overriding telemetry address with env vars", slog.String("address", address))
	}

	if namespace == "" {
		namespace = DefaultNamespace
	}

	datadogClient, err := statsd.New(address,
		statsd.WithNamespace(namespace),
		statsd.WithTags(tags),
	)
	if err != nil {
		return nil, err
	}
	return &statsClient{
		client: datadogClient,
		rate:   samplingRate,
	}, nil
}

// ReportBatch emits the counters a fetched-and-validated batch produces:
// how many entries were accepted, how many were dropped as duplicates of
// the resume point, and the age (in seconds) of the newest accepted entry
// relative to now. tags identifies the sync source being tailed.
func ReportBatch(c Client, accepted, dropped int, lagSeconds float64, tags map[string]string) {
	c.Count("oplog.entries_accepted", int64(accepted), tags)
	c.Count("oplog.entries_dropped", int64(dropped), tags)
	c.Gauge("oplog.lag_seconds", lagSeconds, tags)
}
