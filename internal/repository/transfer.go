package repository

import (
	"context"
	"time"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/snapshot"
)

// TransferRepository exposes persistence operations for Transfer aggregates.
type TransferRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, transfer *domain.Transfer) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status snapshot.Status, errorMessage *string) error
	UpdateProgress(ctx context.Context, id int64, progress float64, downloadRate, uploadRate, downloaded int64, totalPeers, activePeers, connectedSeeds int) error
	UpdateMeta(ctx context.Context, id int64, name, localPath string, totalSize int64) error
	MarkCompleted(ctx context.Context, id int64, completedAt time.Time) error
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*domain.Transfer, error)
	List(ctx context.Context) ([]domain.Transfer, error)
	ListByStatuses(ctx context.Context, statuses ...snapshot.Status) ([]domain.Transfer, error)
}

// TransferFileRepository manages the files discovered inside a transfer and
// which of them are selected for projection.
type TransferFileRepository interface {
	Init(ctx context.Context) error
	ReplaceForTransfer(ctx context.Context, transferID int64, files []domain.TransferFile) error
	ListByTransfer(ctx context.Context, transferID int64) ([]domain.TransferFile, error)
	SetSelected(ctx context.Context, transferID int64, fileIDs []int64) error
}

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}
