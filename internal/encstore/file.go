package encstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
)

// fileRecord is one entry in the JSON encodings file.
type fileRecord struct {
	Name     string    `json:"name"`
	Encoding []float32 `json:"encoding"`
}

// FileStore keeps encodings in a JSON file and scans linearly on lookup.
// Linear scan is fine at household scale; a store big enough to hurt belongs
// in Postgres.
type FileStore struct {
	path string

	mu      sync.RWMutex
	records []fileRecord
}

// OpenFile loads the encodings file at path. A missing, unreadable, or empty
// file is an error unless [AllowEmpty] is given.
func OpenFile(path string, opts ...OpenOption) (*FileStore, error) {
	var oc openConfig
	for _, o := range opts {
		o(&oc)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && oc.allowEmpty {
			return &FileStore{path: path}, nil
		}
		return nil, fmt.Errorf("encstore: read encodings file: %w", err)
	}
	var records []fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("encstore: parse encodings file %s: %w", path, err)
	}
	if len(records) == 0 && !oc.allowEmpty {
		return nil, fmt.Errorf("encstore: %s: %w", path, ErrNoEncodings)
	}
	for i, r := range records {
		if r.Name == "" {
			return nil, fmt.Errorf("encstore: %s: record %d has no name", path, i)
		}
		if len(r.Encoding) == 0 {
			return nil, fmt.Errorf("encstore: %s: record %d (%s) has an empty encoding", path, i, r.Name)
		}
	}
	return &FileStore{path: path, records: records}, nil
}

// Nearest scans all records and returns the closest by L2 distance.
func (s *FileStore) Nearest(ctx context.Context, probe []float32) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.records) == 0 {
		return Match{}, ErrNoEncodings
	}

	best := Match{Distance: math.Inf(1)}
	for _, r := range s.records {
		d, err := l2Distance(probe, r.Encoding)
		if err != nil {
			return Match{}, err
		}
		if d < best.Distance {
			best = Match{Name: r.Name, Distance: d}
		}
	}
	return best, nil
}

// Count reports the number of stored encodings.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Add appends an encoding and rewrites the file.
func (s *FileStore) Add(ctx context.Context, name string, encoding []float32) error {
	if name == "" {
		return fmt.Errorf("encstore: name must not be empty")
	}
	if len(encoding) == 0 {
		return fmt.Errorf("encstore: encoding must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := append(append([]fileRecord(nil), s.records...), fileRecord{Name: name, Encoding: encoding})
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encstore: marshal encodings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("encstore: write encodings file: %w", err)
	}
	s.records = records
	return nil
}

// Close is a no-op; the file is not held open.
func (s *FileStore) Close() error { return nil }

func l2Distance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("encstore: encoding dimension mismatch: %d vs %d", len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Ensure FileStore implements Store at compile time.
var _ Store = (*FileStore)(nil)
