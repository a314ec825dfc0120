package updatelog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const selectRecordSQL = `
	SELECT seq, id, hash, size, appended_at, payload
	FROM updates
`

// Records returns every logged update in seq order.
// Returns an empty slice (not nil) when the log is empty.
func (l *Log) Records(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, selectRecordSQL+` ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query updates: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updates: %w", err)
	}

	if records == nil {
		records = []Record{}
	}

	return records, nil
}

// Record retrieves a single logged update by seq.
// Returns sql.ErrNoRows if not found.
func (l *Log) Record(ctx context.Context, seq int64) (Record, error) {
	return scanRecordRow(l.db.QueryRowContext(ctx, selectRecordSQL+` WHERE seq = ?`, seq))
}

// Len reports how many updates the log holds.
func (l *Log) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM updates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count updates: %w", err)
	}
	return n, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var rec Record
	var idStr string
	if err := s.Scan(&rec.Seq, &idStr, &rec.Hash, &rec.Size, &rec.AppendedAt, &rec.Payload); err != nil {
		return Record{}, fmt.Errorf("scan update: %w", err)
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return Record{}, fmt.Errorf("scan update: parse id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

func scanRecordRow(row *sql.Row) (Record, error) {
	return scanRecord(row)
}
