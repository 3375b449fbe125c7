package parallel

import (
	"sync"
	"time"
)

// ConflictRecord is one observed merge conflict between two streams.
type ConflictRecord struct {
	FilePath        string    `json:"file_path"`
	StreamA         string    `json:"stream_a"`
	StreamB         string    `json:"stream_b"`
	RecordedAt      time.Time `json:"recorded_at"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
}

// Ledger is the append-only conflict history the advisor learns from.
// Records are never deleted.
type Ledger interface {
	Append(rec ConflictRecord) error
	// Recent returns up to n of the most recent records, oldest first.
	Recent(n int) ([]ConflictRecord, error)
	All() ([]ConflictRecord, error)
	ContestedFiles() ([]string, error)
}

// MemoryLedger keeps conflict history in memory. Useful for tests and
// single-run invocations; the store package provides the durable one.
type MemoryLedger struct {
	mu        sync.Mutex
	records   []ConflictRecord
	contested []string
	seen      map[string]bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]bool)}
}

func (l *MemoryLedger) Append(rec ConflictRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if !l.seen[rec.FilePath] {
		l.seen[rec.FilePath] = true
		l.contested = append(l.contested, rec.FilePath)
	}
	return nil
}

func (l *MemoryLedger) Recent(n int) ([]ConflictRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := len(l.records) - n
	if start < 0 {
		start = 0
	}
	out := make([]ConflictRecord, len(l.records)-start)
	copy(out, l.records[start:])
	return out, nil
}

func (l *MemoryLedger) All() ([]ConflictRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ConflictRecord, len(l.records))
	copy(out, l.records)
	return out, nil
}

func (l *MemoryLedger) ContestedFiles() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.contested))
	copy(out, l.contested)
	return out, nil
}
