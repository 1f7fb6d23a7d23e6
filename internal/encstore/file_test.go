package encstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeEncodings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "encodings.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write encodings file: %v", err)
	}
	return path
}

func TestOpenFileMissingIsFatal(t *testing.T) {
	t.Parallel()

	_, err := OpenFile(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("OpenFile on missing file = nil error, want error")
	}
}

func TestOpenFileEmptyIsFatal(t *testing.T) {
	t.Parallel()

	path := writeEncodings(t, `[]`)
	_, err := OpenFile(path)
	if !errors.Is(err, ErrNoEncodings) {
		t.Fatalf("OpenFile on empty file = %v, want ErrNoEncodings", err)
	}
}

func TestOpenFileAllowEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "new.json")
	s, err := OpenFile(path, AllowEmpty())
	if err != nil {
		t.Fatalf("OpenFile(AllowEmpty): %v", err)
	}
	defer s.Close()

	if err := s.Add(context.Background(), "alice", []float32{1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// The file must now load without AllowEmpty.
	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatalf("reopen after Add: %v", err)
	}
	defer reopened.Close()
	count, err := reopened.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestOpenFileRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{not json`},
		{"missing name", `[{"name":"","encoding":[0.1]}]`},
		{"empty encoding", `[{"name":"alice","encoding":[]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeEncodings(t, tt.content)
			if _, err := OpenFile(path); err == nil {
				t.Error("OpenFile = nil error, want error")
			}
		})
	}
}

func TestFileStoreNearest(t *testing.T) {
	t.Parallel()

	path := writeEncodings(t, `[
		{"name":"alice","encoding":[1,0,0]},
		{"name":"bob","encoding":[0,1,0]},
		{"name":"carol","encoding":[0,0,1]}
	]`)
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	tests := []struct {
		name  string
		probe []float32
		want  string
	}{
		{"exact alice", []float32{1, 0, 0}, "alice"},
		{"near bob", []float32{0.1, 0.9, 0}, "bob"},
		{"near carol", []float32{0, 0.2, 0.8}, "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := s.Nearest(context.Background(), tt.probe)
			if err != nil {
				t.Fatalf("Nearest: %v", err)
			}
			if m.Name != tt.want {
				t.Errorf("Nearest = %q (distance %.3f), want %q", m.Name, m.Distance, tt.want)
			}
		})
	}
}

func TestFileStoreNearestDimensionMismatch(t *testing.T) {
	t.Parallel()

	path := writeEncodings(t, `[{"name":"alice","encoding":[1,0,0]}]`)
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer s.Close()

	if _, err := s.Nearest(context.Background(), []float32{1, 0}); err == nil {
		t.Error("Nearest with mismatched dimensions = nil error, want error")
	}
}
