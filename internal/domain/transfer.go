package domain

import (
	"time"

	"transfer-monitor/internal/snapshot"
)

// Transfer represents a content transfer watched by the monitor. Live progress
// detail lives in per-tick snapshots; the row keeps the durable scalars.
type Transfer struct {
	ID              int64
	MagnetURI       string
	Name            string
	LocalPath       string
	Status          snapshot.Status
	Progress        float64
	DownloadRate    int64
	UploadRate      int64
	DownloadedBytes int64
	TotalSize       int64
	TotalPeers      int
	ActivePeers     int
	ConnectedSeeds  int
	Stream          bool
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
	Files           []TransferFile
}

// TransferFile is one file inside a transfer, with the half-open piece range
// it occupies. Selected files drive the piece-range projection of snapshots.
type TransferFile struct {
	ID         int64
	TransferID int64
	Name       string
	Path       string
	Size       int64
	PieceBegin int
	PieceEnd   int
	Selected   bool
}

// PieceRange returns the file's span as a projector range.
func (f TransferFile) PieceRange() snapshot.PieceRange {
	return snapshot.PieceRange{Start: f.PieceBegin, End: f.PieceEnd}
}
