package updatelog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftwork/weft/internal/codec"
)

// Record is one logged update.
type Record struct {
	Seq        int64
	ID         uuid.UUID
	Hash       string
	Size       int
	AppendedAt string
	Payload    []byte
}

// Append stores an encoded update and reports whether a new row was
// written. Re-appending bytes already in the log returns the existing
// record with inserted=false; malformed updates are rejected before
// touching the database.
func (l *Log) Append(ctx context.Context, update []byte) (Record, bool, error) {
	if _, err := codec.DecodeUpdate(update); err != nil {
		return Record{}, false, fmt.Errorf("append update: %w", err)
	}
	hash := hashUpdate(update)
	id := uuid.Must(uuid.NewV7())

	// Claim the hash slot atomically; a conflict means the exact bytes
	// are already logged.
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, false, fmt.Errorf("append update: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO updates (id, hash, size, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, id.String(), hash, len(update), update)
	if err != nil {
		return Record{}, false, fmt.Errorf("append update: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return Record{}, false, fmt.Errorf("append update: rows affected: %w", err)
	}

	var rec Record
	inserted := rowsAffected > 0
	if inserted {
		seq, err := result.LastInsertId()
		if err != nil {
			return Record{}, false, fmt.Errorf("append update: last insert id: %w", err)
		}
		rec, err = scanRecordRow(tx.QueryRowContext(ctx, selectRecordSQL+` WHERE seq = ?`, seq))
		if err != nil {
			return Record{}, false, fmt.Errorf("append update: read back: %w", err)
		}
	} else {
		rec, err = scanRecordRow(tx.QueryRowContext(ctx, selectRecordSQL+` WHERE hash = ?`, hash))
		if err != nil {
			return Record{}, false, fmt.Errorf("append update: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Record{}, false, fmt.Errorf("append update: commit: %w", err)
	}

	return rec, inserted, nil
}

func hashUpdate(update []byte) string {
	sum := sha256.Sum256(update)
	return hex.EncodeToString(sum[:])
}
