package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/snapshot"
)

type fakeTransferRepo struct {
	nextID    int64
	transfers map[int64]domain.Transfer
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{transfers: make(map[int64]domain.Transfer)}
}

func (r *fakeTransferRepo) Init(context.Context) error { return nil }

func (r *fakeTransferRepo) Create(_ context.Context, transfer *domain.Transfer) (int64, error) {
	r.nextID++
	transfer.ID = r.nextID
	transfer.CreatedAt = time.Now()
	transfer.UpdatedAt = transfer.CreatedAt
	r.transfers[transfer.ID] = *transfer
	return transfer.ID, nil
}

func (r *fakeTransferRepo) UpdateStatus(_ context.Context, id int64, status snapshot.Status, errorMessage *string) error {
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("transfer %d not found", id)
	}
	t.Status = status
	if errorMessage != nil {
		t.ErrorMessage = *errorMessage
	}
	r.transfers[id] = t
	return nil
}

func (r *fakeTransferRepo) UpdateProgress(_ context.Context, id int64, progress float64, downloadRate, uploadRate, downloaded int64, totalPeers, activePeers, connectedSeeds int) error {
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("transfer %d not found", id)
	}
	t.Progress = progress
	t.DownloadRate = downloadRate
	t.UploadRate = uploadRate
	t.DownloadedBytes = downloaded
	t.TotalPeers = totalPeers
	t.ActivePeers = activePeers
	t.ConnectedSeeds = connectedSeeds
	r.transfers[id] = t
	return nil
}

func (r *fakeTransferRepo) UpdateMeta(_ context.Context, id int64, name, localPath string, totalSize int64) error {
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("transfer %d not found", id)
	}
	t.Name = name
	t.LocalPath = localPath
	t.TotalSize = totalSize
	r.transfers[id] = t
	return nil
}

func (r *fakeTransferRepo) MarkCompleted(_ context.Context, id int64, completedAt time.Time) error {
	t, ok := r.transfers[id]
	if !ok {
		return fmt.Errorf("transfer %d not found", id)
	}
	t.Status = snapshot.StatusSeeding
	t.Progress = 1.0
	t.CompletedAt = &completedAt
	r.transfers[id] = t
	return nil
}

func (r *fakeTransferRepo) Delete(_ context.Context, id int64) error {
	delete(r.transfers, id)
	return nil
}

func (r *fakeTransferRepo) Get(_ context.Context, id int64) (*domain.Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return nil, fmt.Errorf("transfer %d not found", id)
	}
	copied := t
	return &copied, nil
}

func (r *fakeTransferRepo) List(context.Context) ([]domain.Transfer, error) {
	out := make([]domain.Transfer, 0, len(r.transfers))
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTransferRepo) ListByStatuses(_ context.Context, statuses ...snapshot.Status) ([]domain.Transfer, error) {
	var out []domain.Transfer
	for _, t := range r.transfers {
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

type fakeFileRepo struct {
	nextID int64
	files  map[int64][]domain.TransferFile
}

func newFakeFileRepo() *fakeFileRepo {
	return &fakeFileRepo{files: make(map[int64][]domain.TransferFile)}
}

func (r *fakeFileRepo) Init(context.Context) error { return nil }

func (r *fakeFileRepo) ReplaceForTransfer(_ context.Context, transferID int64, files []domain.TransferFile) error {
	stored := make([]domain.TransferFile, len(files))
	for i, f := range files {
		r.nextID++
		f.ID = r.nextID
		f.TransferID = transferID
		stored[i] = f
	}
	r.files[transferID] = stored
	return nil
}

func (r *fakeFileRepo) ListByTransfer(_ context.Context, transferID int64) ([]domain.TransferFile, error) {
	return append([]domain.TransferFile(nil), r.files[transferID]...), nil
}

func (r *fakeFileRepo) SetSelected(_ context.Context, transferID int64, fileIDs []int64) error {
	wanted := make(map[int64]struct{}, len(fileIDs))
	for _, id := range fileIDs {
		wanted[id] = struct{}{}
	}
	stored := r.files[transferID]
	for i := range stored {
		_, ok := wanted[stored[i].ID]
		stored[i].Selected = len(fileIDs) == 0 || ok
	}
	r.files[transferID] = stored
	return nil
}

func newTestService() (TransferService, *fakeTransferRepo, *fakeFileRepo) {
	transfers := newFakeTransferRepo()
	files := newFakeFileRepo()
	return NewTransferService(transfers, files), transfers, files
}

func TestCreateTransfer(t *testing.T) {
	t.Parallel()
	svc, repo, _ := newTestService()

	transfer, err := svc.CreateTransfer(context.Background(), "magnet:?xt=urn:btih:abc", "/data", true)
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if transfer.ID == 0 {
		t.Error("expected assigned id")
	}
	if transfer.Status != snapshot.StatusQueued {
		t.Errorf("status = %q, want %q", transfer.Status, snapshot.StatusQueued)
	}
	if !strings.HasPrefix(transfer.LocalPath, "/data/transfer-") {
		t.Errorf("local path %q not under data root", transfer.LocalPath)
	}
	if !transfer.Stream {
		t.Error("stream flag not preserved")
	}
	if len(repo.transfers) != 1 {
		t.Errorf("stored %d transfers, want 1", len(repo.transfers))
	}
}

func TestCreateTransferRejectsEmptyMagnet(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService()

	if _, err := svc.CreateTransfer(context.Background(), "   ", "/data", false); err == nil {
		t.Fatal("expected error for blank magnet URI")
	}
}

func TestGetTransferAttachesFiles(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService()
	ctx := context.Background()

	transfer, err := svc.CreateTransfer(ctx, "magnet:?xt=urn:btih:abc", "/data", false)
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	files := []domain.TransferFile{
		{Name: "a.mkv", Path: "a.mkv", Size: 100, PieceBegin: 0, PieceEnd: 4, Selected: true},
		{Name: "b.srt", Path: "b.srt", Size: 5, PieceBegin: 3, PieceEnd: 5, Selected: true},
	}
	if err := svc.ReplaceFiles(ctx, transfer.ID, files); err != nil {
		t.Fatalf("ReplaceFiles: %v", err)
	}

	got, err := svc.GetTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if len(got.Files) != 2 {
		t.Fatalf("got %d files, want 2", len(got.Files))
	}
	if got.Files[0].PieceRange() != (snapshot.PieceRange{Start: 0, End: 4}) {
		t.Errorf("unexpected piece range %+v", got.Files[0].PieceRange())
	}
}

func TestSelectFilesValidatesOwnership(t *testing.T) {
	t.Parallel()
	svc, _, files := newTestService()
	ctx := context.Background()

	transfer, err := svc.CreateTransfer(ctx, "magnet:?xt=urn:btih:abc", "/data", false)
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if err := svc.ReplaceFiles(ctx, transfer.ID, []domain.TransferFile{
		{Name: "a.mkv", Selected: true},
		{Name: "b.srt", Selected: true},
	}); err != nil {
		t.Fatalf("ReplaceFiles: %v", err)
	}
	stored := files.files[transfer.ID]

	if err := svc.SelectFiles(ctx, transfer.ID, []int64{stored[0].ID}); err != nil {
		t.Fatalf("SelectFiles: %v", err)
	}
	after, _ := svc.GetTransfer(ctx, transfer.ID)
	if !after.Files[0].Selected || after.Files[1].Selected {
		t.Errorf("selection not applied: %+v", after.Files)
	}

	if err := svc.SelectFiles(ctx, transfer.ID, []int64{9999}); err == nil {
		t.Error("expected error for foreign file id")
	}

	// Empty selection means everything.
	if err := svc.SelectFiles(ctx, transfer.ID, nil); err != nil {
		t.Fatalf("SelectFiles all: %v", err)
	}
	after, _ = svc.GetTransfer(ctx, transfer.ID)
	if !after.Files[0].Selected || !after.Files[1].Selected {
		t.Errorf("empty selection should select all: %+v", after.Files)
	}
}

func TestMarkCompleted(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService()
	ctx := context.Background()

	transfer, err := svc.CreateTransfer(ctx, "magnet:?xt=urn:btih:abc", "/data", false)
	if err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}
	if err := svc.MarkCompleted(ctx, transfer.ID); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, err := svc.GetTransfer(ctx, transfer.ID)
	if err != nil {
		t.Fatalf("GetTransfer: %v", err)
	}
	if got.Status != snapshot.StatusSeeding {
		t.Errorf("status = %q, want %q", got.Status, snapshot.StatusSeeding)
	}
	if got.Progress != 1.0 {
		t.Errorf("progress = %v, want 1.0", got.Progress)
	}
	if got.CompletedAt == nil {
		t.Error("completed timestamp not set")
	}
}

func TestListByStatuses(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService()
	ctx := context.Background()

	a, _ := svc.CreateTransfer(ctx, "magnet:?xt=urn:btih:aaa", "/data", false)
	b, _ := svc.CreateTransfer(ctx, "magnet:?xt=urn:btih:bbb", "/data", false)
	if err := svc.UpdateStatus(ctx, b.ID, snapshot.StatusStopped, nil); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	queued, err := svc.ListByStatuses(ctx, snapshot.StatusQueued, snapshot.StatusDownloading)
	if err != nil {
		t.Fatalf("ListByStatuses: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != a.ID {
		t.Errorf("unexpected result %+v", queued)
	}
}
