package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/repository"
)

const createTransferFilesTable = `
CREATE TABLE IF NOT EXISTS transfer_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	transfer_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	piece_begin INTEGER NOT NULL,
	piece_end INTEGER NOT NULL,
	selected INTEGER NOT NULL DEFAULT 1,
	FOREIGN KEY(transfer_id) REFERENCES transfers(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transfer_files_transfer_id ON transfer_files(transfer_id);
`

type TransferFileRepository struct {
	db *sql.DB
}

func NewTransferFileRepository(db *sql.DB) repository.TransferFileRepository {
	return &TransferFileRepository{db: db}
}

func (r *TransferFileRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTransferFilesTable); err != nil {
		return fmt.Errorf("create transfer_files table: %w", err)
	}
	return nil
}

func (r *TransferFileRepository) ReplaceForTransfer(ctx context.Context, transferID int64, files []domain.TransferFile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_files WHERE transfer_id=?`, transferID); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}

	for _, file := range files {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO transfer_files (transfer_id, name, path, size, piece_begin, piece_end, selected)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			transferID,
			file.Name,
			file.Path,
			file.Size,
			file.PieceBegin,
			file.PieceEnd,
			file.Selected,
		); err != nil {
			return fmt.Errorf("insert file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *TransferFileRepository) ListByTransfer(ctx context.Context, transferID int64) ([]domain.TransferFile, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, transfer_id, name, path, size, piece_begin, piece_end, selected
FROM transfer_files
WHERE transfer_id=?
ORDER BY id ASC`, transferID)
	if err != nil {
		return nil, fmt.Errorf("query transfer files: %w", err)
	}
	defer rows.Close()

	var files []domain.TransferFile
	for rows.Next() {
		var file domain.TransferFile
		if err := rows.Scan(&file.ID, &file.TransferID, &file.Name, &file.Path, &file.Size, &file.PieceBegin, &file.PieceEnd, &file.Selected); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, file)
	}

	return files, rows.Err()
}

// SetSelected marks exactly the given files as selected and all other files of
// the transfer as unselected. An empty fileIDs list selects everything, which
// matches "no ranges" at the projection layer.
func (r *TransferFileRepository) SetSelected(ctx context.Context, transferID int64, fileIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if len(fileIDs) == 0 {
		if _, err := tx.ExecContext(ctx, `UPDATE transfer_files SET selected=1 WHERE transfer_id=?`, transferID); err != nil {
			return fmt.Errorf("select all files: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `UPDATE transfer_files SET selected=0 WHERE transfer_id=?`, transferID); err != nil {
			return fmt.Errorf("clear selection: %w", err)
		}

		placeholders := make([]string, len(fileIDs))
		args := make([]interface{}, 0, len(fileIDs)+1)
		args = append(args, transferID)
		for i, id := range fileIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query := fmt.Sprintf(`UPDATE transfer_files SET selected=1 WHERE transfer_id=? AND id IN (%s)`,
			strings.Join(placeholders, ","))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("set selection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit selection: %w", err)
	}
	return nil
}
