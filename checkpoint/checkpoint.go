// Package checkpoint persists the fetcher's resume position across
// restarts of the daemon itself (not the in-process reconnect loop
// oplogfetcher already handles on its own). Adapted from the teacher's
// lib/persistedmap.PersistedMap: a single YAML file on disk,
// rewritten atomically-enough for a one-process daemon on every Set.
package checkpoint

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/artie-labs/oplogfetcher/optime"
)

// record is the on-disk shape for one namespace's resume point.
type record struct {
	Seconds uint32 `yaml:"seconds"`
	Inc     uint32 `yaml:"inc"`
	Term    int64  `yaml:"term"`
}

// Store persists one OpTime per namespace to a YAML file, so a restarted
// daemon can resume tailing from where it left off instead of replaying
// the sync source's full retention window.
type Store struct {
	filePath string

	mu   sync.Mutex
	data map[string]record
}

// Open loads filePath if it exists, or starts empty if it doesn't. A
// malformed file is a hard failure: silently discarding a resume point
// risks replaying already-applied entries or skipping unseen ones.
func Open(filePath string) (*Store, error) {
	data, err := loadFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint file %q: %w", filePath, err)
	}
	if data == nil {
		data = make(map[string]record)
	}
	return &Store{filePath: filePath, data: data}, nil
}

// Get returns the last-persisted OpTime for namespace, or the zero OpTime
// if none has been recorded yet.
func (s *Store) Get(namespace string) optime.OpTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[namespace]
	if !ok {
		return optime.OpTime{}
	}
	return optime.New(primitive.Timestamp{T: r.Seconds, I: r.Inc}, r.Term)
}

// Set records ot as namespace's resume point and flushes the whole file.
// Intended to be used as (part of) an oplogfetcher.ShutdownFunc / periodic
// checkpoint, not called from the hot enqueue path.
func (s *Store) Set(namespace string, ot optime.OpTime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[namespace] = record{Seconds: ot.Timestamp.T, Inc: ot.Timestamp.I, Term: ot.Term}

	file, err := os.Create(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	out, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	if _, err := file.Write(out); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}

	slog.Debug("Checkpoint written", slog.String("namespace", namespace), slog.String("optime", ot.String()))
	return nil
}

func loadFromFile(filePath string) (map[string]record, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var data map[string]record
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return data, nil
}
