package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/repository"
	"transfer-monitor/internal/snapshot"
)

// TransferService coordinates transfer level operations backed by repositories.
type TransferService interface {
	CreateTransfer(ctx context.Context, magnetURI, dataRoot string, stream bool) (*domain.Transfer, error)
	GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error)
	ListTransfers(ctx context.Context) ([]domain.Transfer, error)
	ListByStatuses(ctx context.Context, statuses ...snapshot.Status) ([]domain.Transfer, error)
	UpdateStatus(ctx context.Context, id int64, status snapshot.Status, errMsg *string) error
	UpdateProgress(ctx context.Context, id int64, progress float64, downloadRate, uploadRate, downloaded int64, totalPeers, activePeers, connectedSeeds int) error
	UpdateMeta(ctx context.Context, id int64, name, localPath string, totalSize int64) error
	MarkCompleted(ctx context.Context, id int64) error
	DeleteTransfer(ctx context.Context, id int64) error
	ReplaceFiles(ctx context.Context, transferID int64, files []domain.TransferFile) error
	SelectFiles(ctx context.Context, transferID int64, fileIDs []int64) error
}

type transferService struct {
	transfers repository.TransferRepository
	files     repository.TransferFileRepository
}

func NewTransferService(transfers repository.TransferRepository, files repository.TransferFileRepository) TransferService {
	return &transferService{
		transfers: transfers,
		files:     files,
	}
}

func (s *transferService) CreateTransfer(ctx context.Context, magnetURI, dataRoot string, stream bool) (*domain.Transfer, error) {
	magnetURI = strings.TrimSpace(magnetURI)
	if magnetURI == "" {
		return nil, errors.New("magnet URI is required")
	}

	transfer := &domain.Transfer{
		MagnetURI: magnetURI,
		Status:    snapshot.StatusQueued,
		Stream:    stream,
		LocalPath: filepath.Join(dataRoot, fmt.Sprintf("transfer-%s", uuid.NewString())),
	}

	if _, err := s.transfers.Create(ctx, transfer); err != nil {
		return nil, err
	}
	return transfer, nil
}

func (s *transferService) GetTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	transfer, err := s.transfers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	files, err := s.files.ListByTransfer(ctx, id)
	if err != nil {
		return nil, err
	}
	transfer.Files = files
	return transfer, nil
}

func (s *transferService) ListTransfers(ctx context.Context) ([]domain.Transfer, error) {
	transfers, err := s.transfers.List(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.attachFiles(ctx, transfers); err != nil {
		return nil, err
	}
	return transfers, nil
}

func (s *transferService) ListByStatuses(ctx context.Context, statuses ...snapshot.Status) ([]domain.Transfer, error) {
	transfers, err := s.transfers.ListByStatuses(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	if err := s.attachFiles(ctx, transfers); err != nil {
		return nil, err
	}
	return transfers, nil
}

func (s *transferService) attachFiles(ctx context.Context, transfers []domain.Transfer) error {
	for i := range transfers {
		files, err := s.files.ListByTransfer(ctx, transfers[i].ID)
		if err != nil {
			return err
		}
		transfers[i].Files = files
	}
	return nil
}

func (s *transferService) UpdateStatus(ctx context.Context, id int64, status snapshot.Status, errMsg *string) error {
	return s.transfers.UpdateStatus(ctx, id, status, errMsg)
}

func (s *transferService) UpdateProgress(ctx context.Context, id int64, progress float64, downloadRate, uploadRate, downloaded int64, totalPeers, activePeers, connectedSeeds int) error {
	return s.transfers.UpdateProgress(ctx, id, progress, downloadRate, uploadRate, downloaded, totalPeers, activePeers, connectedSeeds)
}

func (s *transferService) UpdateMeta(ctx context.Context, id int64, name, localPath string, totalSize int64) error {
	return s.transfers.UpdateMeta(ctx, id, name, localPath, totalSize)
}

func (s *transferService) MarkCompleted(ctx context.Context, id int64) error {
	return s.transfers.MarkCompleted(ctx, id, time.Now())
}

func (s *transferService) DeleteTransfer(ctx context.Context, id int64) error {
	return s.transfers.Delete(ctx, id)
}

func (s *transferService) ReplaceFiles(ctx context.Context, transferID int64, files []domain.TransferFile) error {
	return s.files.ReplaceForTransfer(ctx, transferID, files)
}

func (s *transferService) SelectFiles(ctx context.Context, transferID int64, fileIDs []int64) error {
	if len(fileIDs) > 0 {
		known, err := s.files.ListByTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		valid := make(map[int64]struct{}, len(known))
		for _, f := range known {
			valid[f.ID] = struct{}{}
		}
		for _, id := range fileIDs {
			if _, ok := valid[id]; !ok {
				return fmt.Errorf("file %d does not belong to transfer %d", id, transferID)
			}
		}
	}
	return s.files.SetSelected(ctx, transferID, fileIDs)
}
