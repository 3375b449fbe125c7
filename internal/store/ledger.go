package store

import (
	"context"
	"fmt"

	"github.com/planforge/planforge/internal/parallel"
)

// ConflictLedger is the durable, append-only conflict history backed by
// the store. It satisfies parallel.Ledger.
type ConflictLedger struct {
	store *Store
	ctx   context.Context
}

// Ledger returns a conflict ledger view over the store. The context
// bounds all queries made through the parallel.Ledger interface.
func (s *Store) Ledger(ctx context.Context) *ConflictLedger {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ConflictLedger{store: s, ctx: ctx}
}

var _ parallel.Ledger = (*ConflictLedger)(nil)

// Append records a conflict. Records are never updated or deleted.
func (l *ConflictLedger) Append(rec parallel.ConflictRecord) error {
	_, err := l.store.db.ExecContext(l.ctx, `
		INSERT INTO conflicts (file_path, stream_a, stream_b, resolution_notes, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.FilePath, rec.StreamA, rec.StreamB, rec.ResolutionNotes, rec.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to append conflict: %w", err)
	}
	return nil
}

// Recent returns up to n of the most recent records, oldest first.
func (l *ConflictLedger) Recent(n int) ([]parallel.ConflictRecord, error) {
	return l.query(`
		SELECT file_path, stream_a, stream_b, resolution_notes, recorded_at
		FROM (
			SELECT id, file_path, stream_a, stream_b, resolution_notes, recorded_at
			FROM conflicts
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id
	`, n)
}

// All returns the full conflict history, oldest first.
func (l *ConflictLedger) All() ([]parallel.ConflictRecord, error) {
	return l.query(`
		SELECT file_path, stream_a, stream_b, resolution_notes, recorded_at
		FROM conflicts
		ORDER BY id
	`)
}

// ContestedFiles returns the distinct files that have had conflicts, in
// first-conflict order.
func (l *ConflictLedger) ContestedFiles() ([]string, error) {
	rows, err := l.store.db.QueryContext(l.ctx, `
		SELECT file_path
		FROM conflicts
		GROUP BY file_path
		ORDER BY MIN(id)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query contested files: %w", err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("failed to scan contested file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating contested files: %w", err)
	}
	return files, nil
}

func (l *ConflictLedger) query(q string, args ...any) ([]parallel.ConflictRecord, error) {
	rows, err := l.store.db.QueryContext(l.ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var records []parallel.ConflictRecord
	for rows.Next() {
		var rec parallel.ConflictRecord
		if err := rows.Scan(&rec.FilePath, &rec.StreamA, &rec.StreamB, &rec.ResolutionNotes, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return records, nil
}
