package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/monitor"
	"transfer-monitor/internal/service"
	"transfer-monitor/internal/snapshot"
	"transfer-monitor/internal/storage"
)

// Handler wires HTTP routes to domain services.
type Handler struct {
	transfers service.TransferService
	monitor   monitor.Monitor
	storage   storage.Service
	users     service.UserService
	bucket    string
	keyPrefix string
	dataRoot  string
	jwtSecret string
	tokenTTL  time.Duration
}

func NewHandler(transfers service.TransferService, mon monitor.Monitor, store storage.Service, users service.UserService, bucket, keyPrefix, dataRoot, jwtSecret string, tokenTTL time.Duration) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	return &Handler{
		transfers: transfers,
		monitor:   mon,
		storage:   store,
		users:     users,
		bucket:    bucket,
		keyPrefix: strings.Trim(keyPrefix, "/"),
		dataRoot:  dataRoot,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(corsMiddleware())

	router.POST("/api/auth/register", h.register)
	router.POST("/api/auth/login", h.login)
	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	api := router.Group("/api", h.authMiddleware())
	{
		api.POST("/transfers", h.createTransfer)
		api.GET("/transfers", h.listTransfers)
		api.GET("/transfers/:id", h.getTransfer)
		api.GET("/transfers/:id/state", h.getTransferState)
		api.PUT("/transfers/:id/files", h.selectFiles)
		api.DELETE("/transfers/:id", h.deleteTransfer)
		api.POST("/transfers/:id/report", h.archiveReport)
		api.GET("/reports", h.listReports)
		api.GET("/reports/url", h.reportURL)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

type createTransferRequest struct {
	Magnet string `json:"magnet" binding:"required"`
	Stream bool   `json:"stream"`
}

func (h *Handler) createTransfer(c *gin.Context) {
	var req createTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	transfer, err := h.transfers.CreateTransfer(c.Request.Context(), req.Magnet, h.dataRoot, req.Stream)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.monitor.Watch(c.Request.Context(), transfer.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, transferToResponse(*transfer))
}

func (h *Handler) listTransfers(c *gin.Context) {
	transfers, err := h.transfers.ListTransfers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TransferResponse, len(transfers))
	for i := range transfers {
		resp[i] = transferToResponse(transfers[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) getTransfer(c *gin.Context) {
	transfer, ok := h.transferFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, transferToResponse(*transfer))
}

func (h *Handler) getTransferState(c *gin.Context) {
	transfer, ok := h.transferFromPath(c)
	if !ok {
		return
	}

	snap, ok := h.monitor.Latest(transfer.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot available yet"})
		return
	}

	c.JSON(http.StatusOK, snapshotToResponse(transfer.ID, snap))
}

type selectFilesRequest struct {
	FileIDs []int64 `json:"file_ids"`
}

func (h *Handler) selectFiles(c *gin.Context) {
	transfer, ok := h.transferFromPath(c)
	if !ok {
		return
	}

	var req selectFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.transfers.SelectFiles(c.Request.Context(), transfer.ID, req.FileIDs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.transfers.GetTransfer(c.Request.Context(), transfer.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, transferToResponse(*updated))
}

func (h *Handler) deleteTransfer(c *gin.Context) {
	transfer, ok := h.transferFromPath(c)
	if !ok {
		return
	}

	var warnings []string
	if h.monitor != nil {
		cancelCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()
		if err := h.monitor.Cancel(cancelCtx, transfer.ID); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			warnings = append(warnings, fmt.Sprintf("cancel watch: %v", err))
		}
	}

	if path := filepath.Clean(transfer.LocalPath); path != "" && path != "." && path != filepath.Clean(h.dataRoot) {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			warnings = append(warnings, fmt.Sprintf("remove local data: %v", err))
		}
	}

	if c.Query("delete_reports") == "true" && h.storage != nil && h.bucket != "" {
		prefix := fmt.Sprintf("transfer-%d/", transfer.ID)
		if h.keyPrefix != "" {
			prefix = h.keyPrefix + "/" + prefix
		}
		if err := h.storage.DeletePrefix(c.Request.Context(), h.bucket, prefix); err != nil {
			warnings = append(warnings, fmt.Sprintf("delete archived reports: %v", err))
		}
	}

	if err := h.transfers.DeleteTransfer(c.Request.Context(), transfer.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"deleted": transfer.ID}
	if len(warnings) > 0 {
		resp["warnings"] = warnings
	}
	c.JSON(http.StatusOK, resp)
}

// archiveReport serializes the transfer's latest snapshot into a JSON document
// and stores it in the report bucket.
func (h *Handler) archiveReport(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	transfer, ok := h.transferFromPath(c)
	if !ok {
		return
	}

	snap, ok := h.monitor.Latest(transfer.ID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot available yet"})
		return
	}

	report := gin.H{
		"generated_at": time.Now().UTC().Format(time.RFC3339),
		"transfer":     transferToResponse(*transfer),
		"state":        snapshotToResponse(transfer.ID, snap),
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	key := fmt.Sprintf("transfer-%d/%s.json", transfer.ID, uuid.NewString())
	if h.keyPrefix != "" {
		key = h.keyPrefix + "/" + key
	}

	uploadCtx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	location, err := h.storage.UploadReport(uploadCtx, h.bucket, key, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"location": location, "key": key})
}

func (h *Handler) listReports(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	prefix := c.DefaultQuery("prefix", h.keyPrefix)
	objects, err := h.storage.ListObjects(c.Request.Context(), h.bucket, prefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]ReportObjectResponse, len(objects))
	for i := range objects {
		resp[i] = objectToResponse(objects[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) reportURL(c *gin.Context) {
	if h.storage == nil || h.bucket == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "storage service not configured"})
		return
	}

	key := c.Query("key")
	if strings.TrimSpace(key) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	url, err := h.storage.PresignGet(c.Request.Context(), h.bucket, key, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *Handler) transferFromPath(c *gin.Context) (*domain.Transfer, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transfer id"})
		return nil, false
	}

	transfer, err := h.transfers.GetTransfer(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return transfer, true
}

type TransferResponse struct {
	ID              int64                  `json:"id"`
	Magnet          string                 `json:"magnet"`
	Name            string                 `json:"name"`
	Status          snapshot.Status        `json:"status"`
	Progress        float64                `json:"progress"`
	DownloadRate    int64                  `json:"download_rate"`
	UploadRate      int64                  `json:"upload_rate"`
	DownloadedBytes int64                  `json:"downloaded_bytes"`
	TotalSize       int64                  `json:"total_size"`
	TotalPeers      int                    `json:"total_peers"`
	ActivePeers     int                    `json:"active_peers"`
	ConnectedSeeds  int                    `json:"connected_seeds"`
	Stream          bool                   `json:"stream"`
	LocalPath       string                 `json:"local_path"`
	ErrorMessage    string                 `json:"error_message"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at"`
	CompletedAt     *string                `json:"completed_at,omitempty"`
	Files           []TransferFileResponse `json:"files"`
}

type TransferFileResponse struct {
	ID         int64  `json:"id"`
	TransferID int64  `json:"transfer_id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	PieceBegin int    `json:"piece_begin"`
	PieceEnd   int    `json:"piece_end"`
	Selected   bool   `json:"selected"`
}

// StateResponse flattens the snapshot accessor surface for observers. Counts
// that are unknown (peer list withheld) are null, not zero.
type StateResponse struct {
	TransferID           int64              `json:"transfer_id"`
	Status               snapshot.Status    `json:"status"`
	Progress             float64            `json:"progress"`
	Error                string             `json:"error,omitempty"`
	DownloadKBps         float64            `json:"download_kbps"`
	UploadKBps           float64            `json:"upload_kbps"`
	ActiveConnections    bool               `json:"active_connections"`
	Seeds                *int               `json:"seeds,omitempty"`
	Peers                *int               `json:"peers,omitempty"`
	PiecesComplete       []bool             `json:"pieces_complete"`
	SelectedRanges       [][2]int           `json:"selected_ranges,omitempty"`
	VODPrebuffer         float64            `json:"vod_prebuffer"`
	VODPlayable          bool               `json:"vod_playable"`
	VODPlayableAfterSecs *float64           `json:"vod_playable_after_seconds,omitempty"`
	LogMessages          []LogEntryResponse `json:"log_messages"`
}

type LogEntryResponse struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

type ReportObjectResponse struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified *string `json:"last_modified,omitempty"`
}

func snapshotToResponse(transferID int64, snap *snapshot.Snapshot) StateResponse {
	resp := StateResponse{
		TransferID:        transferID,
		Status:            snap.Status(),
		Progress:          snap.Progress(),
		DownloadKBps:      snap.Speed(snapshot.Download),
		UploadKBps:        snap.Speed(snapshot.Upload),
		ActiveConnections: snap.HasActiveConnections(),
		PiecesComplete:    snap.PiecesComplete(),
		VODPrebuffer:      snap.VODPrebufferProgress(),
		VODPlayable:       snap.VODPlayable(),
	}
	if err := snap.Err(); err != nil {
		resp.Error = err.Error()
	}
	if seeds, peers, ok := snap.SeedsPeers(); ok {
		resp.Seeds = &seeds
		resp.Peers = &peers
	}
	if after := snap.VODPlayableAfter(); after != time.Duration(math.MaxInt64) {
		secs := after.Seconds()
		resp.VODPlayableAfterSecs = &secs
	}
	for _, r := range snap.Ranges() {
		resp.SelectedRanges = append(resp.SelectedRanges, [2]int{r.Start, r.End})
	}
	for _, msg := range snap.LogMessages() {
		resp.LogMessages = append(resp.LogMessages, LogEntryResponse{
			Time:    msg.Time.Format(time.RFC3339),
			Message: msg.Message,
		})
	}
	return resp
}

func objectToResponse(obj storage.ObjectInfo) ReportObjectResponse {
	resp := ReportObjectResponse{
		Key:  obj.Key,
		Size: obj.Size,
	}
	if obj.LastModified != nil && !obj.LastModified.IsZero() {
		v := obj.LastModified.Format(time.RFC3339)
		resp.LastModified = &v
	}
	return resp
}

func transferToResponse(transfer domain.Transfer) TransferResponse {
	resp := TransferResponse{
		ID:              transfer.ID,
		Magnet:          transfer.MagnetURI,
		Name:            transfer.Name,
		Status:          transfer.Status,
		Progress:        transfer.Progress,
		DownloadRate:    transfer.DownloadRate,
		UploadRate:      transfer.UploadRate,
		DownloadedBytes: transfer.DownloadedBytes,
		TotalSize:       transfer.TotalSize,
		TotalPeers:      transfer.TotalPeers,
		ActivePeers:     transfer.ActivePeers,
		ConnectedSeeds:  transfer.ConnectedSeeds,
		Stream:          transfer.Stream,
		LocalPath:       transfer.LocalPath,
		ErrorMessage:    transfer.ErrorMessage,
		CreatedAt:       transfer.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       transfer.UpdatedAt.Format(time.RFC3339),
		Files:           make([]TransferFileResponse, len(transfer.Files)),
	}
	if transfer.CompletedAt != nil {
		v := transfer.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &v
	}

	for i := range transfer.Files {
		resp.Files[i] = TransferFileResponse{
			ID:         transfer.Files[i].ID,
			TransferID: transfer.Files[i].TransferID,
			Name:       transfer.Files[i].Name,
			Path:       transfer.Files[i].Path,
			Size:       transfer.Files[i].Size,
			PieceBegin: transfer.Files[i].PieceBegin,
			PieceEnd:   transfer.Files[i].PieceEnd,
			Selected:   transfer.Files[i].Selected,
		}
	}
	return resp
}
