package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/repository"
	"transfer-monitor/internal/snapshot"
)

const createTransfersTable = `
CREATE TABLE IF NOT EXISTS transfers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	magnet_uri TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	local_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress REAL NOT NULL DEFAULT 0,
	download_rate INTEGER NOT NULL DEFAULT 0,
	upload_rate INTEGER NOT NULL DEFAULT 0,
	downloaded_bytes INTEGER NOT NULL DEFAULT 0,
	total_size INTEGER NOT NULL DEFAULT 0,
	total_peers INTEGER NOT NULL DEFAULT 0,
	active_peers INTEGER NOT NULL DEFAULT 0,
	connected_seeds INTEGER NOT NULL DEFAULT 0,
	stream INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	completed_at DATETIME NULL
);
`

const transferColumns = `id, magnet_uri, name, local_path, status, progress, download_rate, upload_rate, downloaded_bytes, total_size, total_peers, active_peers, connected_seeds, stream, error_message, created_at, updated_at, completed_at`

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(db *sql.DB) repository.TransferRepository {
	return &TransferRepository{db: db}
}

func (r *TransferRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTransfersTable); err != nil {
		return fmt.Errorf("create transfers table: %w", err)
	}
	return nil
}

func (r *TransferRepository) Create(ctx context.Context, transfer *domain.Transfer) (int64, error) {
	now := time.Now().UTC()
	transfer.CreatedAt = now
	transfer.UpdatedAt = now

	res, err := r.db.ExecContext(ctx, `
INSERT INTO transfers (magnet_uri, name, local_path, status, progress, download_rate, upload_rate, downloaded_bytes, total_size, total_peers, active_peers, connected_seeds, stream, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transfer.MagnetURI,
		transfer.Name,
		transfer.LocalPath,
		string(transfer.Status),
		transfer.Progress,
		transfer.DownloadRate,
		transfer.UploadRate,
		transfer.DownloadedBytes,
		transfer.TotalSize,
		transfer.TotalPeers,
		transfer.ActivePeers,
		transfer.ConnectedSeeds,
		transfer.Stream,
		transfer.ErrorMessage,
		transfer.CreatedAt,
		transfer.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transfer: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	transfer.ID = id
	return id, nil
}

func (r *TransferRepository) UpdateStatus(ctx context.Context, id int64, status snapshot.Status, errorMessage *string) error {
	msg := ""
	if errorMessage != nil {
		msg = *errorMessage
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE transfers
SET status=?, error_message=?, updated_at=?
WHERE id=?`,
		string(status),
		msg,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update transfer status: %w", err)
	}
	return nil
}

func (r *TransferRepository) UpdateProgress(ctx context.Context, id int64, progress float64, downloadRate, uploadRate, downloaded int64, totalPeers, activePeers, connectedSeeds int) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE transfers
SET progress=?, download_rate=?, upload_rate=?, downloaded_bytes=?, total_peers=?, active_peers=?, connected_seeds=?, updated_at=?
WHERE id=?`,
		progress,
		downloadRate,
		uploadRate,
		downloaded,
		totalPeers,
		activePeers,
		connectedSeeds,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update transfer progress: %w", err)
	}
	return nil
}

func (r *TransferRepository) UpdateMeta(ctx context.Context, id int64, name, localPath string, totalSize int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE transfers
SET name=?, local_path=?, total_size=?, updated_at=?
WHERE id=?`,
		name,
		localPath,
		totalSize,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update transfer meta: %w", err)
	}
	return nil
}

func (r *TransferRepository) MarkCompleted(ctx context.Context, id int64, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE transfers
SET status=?, completed_at=?, updated_at=?
WHERE id=?`,
		string(snapshot.StatusSeeding),
		completedAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (r *TransferRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transfer_files WHERE transfer_id=?`, id); err != nil {
		return fmt.Errorf("delete transfer files: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM transfers WHERE id=?`, id)
	if err != nil {
		return fmt.Errorf("delete transfer: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transfer delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("transfer not found")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transfer delete: %w", err)
	}
	return nil
}

func (r *TransferRepository) Get(ctx context.Context, id int64) (*domain.Transfer, error) {
	row := r.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM transfers WHERE id=?`, transferColumns), id)
	return scanTransfer(row)
}

func (r *TransferRepository) List(ctx context.Context) ([]domain.Transfer, error) {
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM transfers ORDER BY id DESC`, transferColumns))
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	return collectTransfers(rows)
}

func (r *TransferRepository) ListByStatuses(ctx context.Context, statuses ...snapshot.Status) ([]domain.Transfer, error) {
	if len(statuses) == 0 {
		return []domain.Transfer{}, nil
	}

	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}

	query := fmt.Sprintf(`SELECT %s FROM transfers WHERE status IN (%s) ORDER BY id ASC`,
		transferColumns, strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transfers by status: %w", err)
	}
	defer rows.Close()

	return collectTransfers(rows)
}

func collectTransfers(rows *sql.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

func scanTransfer(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transfer, error) {
	var (
		transfer    domain.Transfer
		status      string
		createdAt   time.Time
		updatedAt   time.Time
		completedAt sql.NullTime
	)

	if err := scanner.Scan(
		&transfer.ID,
		&transfer.MagnetURI,
		&transfer.Name,
		&transfer.LocalPath,
		&status,
		&transfer.Progress,
		&transfer.DownloadRate,
		&transfer.UploadRate,
		&transfer.DownloadedBytes,
		&transfer.TotalSize,
		&transfer.TotalPeers,
		&transfer.ActivePeers,
		&transfer.ConnectedSeeds,
		&transfer.Stream,
		&transfer.ErrorMessage,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transfer not found")
		}
		return nil, fmt.Errorf("scan transfer: %w", err)
	}

	transfer.Status = snapshot.Status(status)
	transfer.CreatedAt = createdAt.Local()
	transfer.UpdatedAt = updatedAt.Local()
	if completedAt.Valid {
		t := completedAt.Time.Local()
		transfer.CompletedAt = &t
	}

	return &transfer, nil
}
