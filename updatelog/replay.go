package updatelog

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftwork/weft"
)

// Materialize replays the whole log, in seq order, into a fresh
// document. Updates whose causal dependencies never made it into the
// log stay buffered on the returned document; its PendingUpdates
// reports how many.
func (l *Log) Materialize(ctx context.Context, opts ...weft.Option) (*weft.Doc, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("materialize: %w", err)
	}

	doc := weft.NewDoc(opts...)
	for _, rec := range records {
		if err := doc.ApplyUpdate(rec.Payload); err != nil {
			return nil, fmt.Errorf("materialize: update seq %d: %w", rec.Seq, err)
		}
	}
	return doc, nil
}

// Compact replaces the log's rows with one consolidated update holding
// the full materialized state. Returns the new record and how many rows
// it replaced. The log is left untouched when any logged update is
// still buffered awaiting dependencies, because consolidation would
// silently drop it.
func (l *Log) Compact(ctx context.Context) (Record, int, error) {
	doc, err := l.Materialize(ctx)
	if err != nil {
		return Record{}, 0, err
	}
	if n := doc.PendingUpdates(); n > 0 {
		return Record{}, 0, fmt.Errorf("compact: %d update(s) buffered awaiting missing dependencies", n)
	}

	update, err := doc.EncodeStateAsUpdate(nil)
	if err != nil {
		return Record{}, 0, fmt.Errorf("compact: encode state: %w", err)
	}
	hash := hashUpdate(update)
	id := uuid.Must(uuid.NewV7())

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, 0, fmt.Errorf("compact: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var replaced int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM updates`).Scan(&replaced); err != nil {
		return Record{}, 0, fmt.Errorf("compact: count rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM updates`); err != nil {
		return Record{}, 0, fmt.Errorf("compact: clear log: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO updates (id, hash, size, payload)
		VALUES (?, ?, ?, ?)
	`, id.String(), hash, len(update), update)
	if err != nil {
		return Record{}, 0, fmt.Errorf("compact: insert consolidated update: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return Record{}, 0, fmt.Errorf("compact: last insert id: %w", err)
	}

	rec, err := scanRecordRow(tx.QueryRowContext(ctx, selectRecordSQL+` WHERE seq = ?`, seq))
	if err != nil {
		return Record{}, 0, fmt.Errorf("compact: read back: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, 0, fmt.Errorf("compact: commit: %w", err)
	}

	return rec, replaced, nil
}
