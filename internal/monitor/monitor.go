package monitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/service"
	"transfer-monitor/internal/snapshot"
)

// Monitor drives the transfer engine and publishes one immutable progress
// snapshot per transfer per tick. Readers fetch the latest snapshot without
// blocking the engine.
type Monitor interface {
	Start(ctx context.Context) error
	Shutdown()
	Watch(ctx context.Context, transferID int64) error
	Resume(ctx context.Context) error
	Cancel(ctx context.Context, transferID int64) error
	Latest(transferID int64) (*snapshot.Snapshot, bool)
}

type Config struct {
	DataDir         string
	MaxConcurrent   int
	TickInterval    time.Duration
	GatherPeers     bool
	PrebufferPieces int
	TrackerList     []string
	Logger          *logrus.Logger
}

type monitor struct {
	cfg       Config
	client    *torrent.Client
	transfers service.TransferService

	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[int64]*watchHandle
	final  map[int64]*snapshot.Snapshot
}

// watchHandle tracks one watched transfer. latest is replaced wholesale every
// tick; the snapshot behind it is never mutated after publication.
type watchHandle struct {
	cancel  context.CancelFunc
	torrent *torrent.Torrent
	done    chan struct{}

	mu     sync.Mutex
	latest *snapshot.Snapshot
	logs   []snapshot.LogMessage
}

const logCap = 10

func (h *watchHandle) publish(s *snapshot.Snapshot) {
	h.mu.Lock()
	h.latest = s
	h.mu.Unlock()
}

func (h *watchHandle) snapshot() *snapshot.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

func (h *watchHandle) appendLog(msg string) {
	h.mu.Lock()
	h.logs = append(h.logs, snapshot.LogMessage{Time: time.Now(), Message: msg})
	if len(h.logs) > logCap {
		h.logs = h.logs[len(h.logs)-logCap:]
	}
	h.mu.Unlock()
}

func (h *watchHandle) logMessages() []snapshot.LogMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]snapshot.LogMessage(nil), h.logs...)
}

func NewMonitor(cfg Config, transfers service.TransferService) Monitor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.PrebufferPieces <= 0 {
		cfg.PrebufferPieces = 8
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	return &monitor{
		cfg:       cfg,
		transfers: transfers,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		active:    make(map[int64]*watchHandle),
		final:     make(map[int64]*snapshot.Snapshot),
	}
}

func (m *monitor) Start(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = m.cfg.DataDir
	clientConfig.Seed = true

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return fmt.Errorf("create torrent client: %w", err)
	}

	m.client = client
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.cfg.Logger.Infof("transfer monitor started, data dir: %s", m.cfg.DataDir)
	return nil
}

func (m *monitor) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	if m.client != nil {
		m.client.Close()
	}
	m.cfg.Logger.Info("transfer monitor stopped")
}

func (m *monitor) Watch(ctx context.Context, transferID int64) error {
	transfer, err := m.transfers.GetTransfer(ctx, transferID)
	if err != nil {
		return err
	}
	m.spawnWatch(*transfer)
	return nil
}

func (m *monitor) Resume(ctx context.Context) error {
	transfers, err := m.transfers.ListByStatuses(ctx,
		snapshot.StatusQueued,
		snapshot.StatusWaitingForHashcheck,
		snapshot.StatusHashchecking,
		snapshot.StatusDownloading,
	)
	if err != nil {
		return err
	}

	for i := range transfers {
		m.spawnWatch(transfers[i])
	}
	return nil
}

func (m *monitor) spawnWatch(transfer domain.Transfer) {
	watchCtx, cancel := context.WithCancel(m.ctx)
	handle := &watchHandle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.register(transfer.ID, handle)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.unregister(transfer.ID, handle)
			close(handle.done)
		}()
		select {
		case <-m.ctx.Done():
			return
		case <-watchCtx.Done():
			return
		case m.sem <- struct{}{}:
			defer func() { <-m.sem }()
			m.watchTransfer(watchCtx, handle, &transfer)
		}
	}()
}

func (m *monitor) register(id int64, handle *watchHandle) {
	m.mu.Lock()
	m.active[id] = handle
	m.mu.Unlock()
}

// unregister retires the handle but keeps its last snapshot readable.
func (m *monitor) unregister(id int64, handle *watchHandle) {
	m.mu.Lock()
	if last := handle.snapshot(); last != nil {
		m.final[id] = last
	}
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *monitor) handleFor(id int64) (*watchHandle, bool) {
	m.mu.Lock()
	handle, ok := m.active[id]
	m.mu.Unlock()
	return handle, ok
}

// Latest returns the most recent snapshot for the transfer. The returned value
// is immutable and safe to read from any goroutine.
func (m *monitor) Latest(transferID int64) (*snapshot.Snapshot, bool) {
	if handle, ok := m.handleFor(transferID); ok {
		if snap := handle.snapshot(); snap != nil {
			return snap, true
		}
		return nil, false
	}
	m.mu.Lock()
	snap, ok := m.final[transferID]
	m.mu.Unlock()
	return snap, ok
}

func (m *monitor) Cancel(ctx context.Context, transferID int64) error {
	handle, ok := m.handleFor(transferID)
	if !ok {
		m.mu.Lock()
		delete(m.final, transferID)
		m.mu.Unlock()
		return nil
	}

	handle.cancel()

	handle.mu.Lock()
	t := handle.torrent
	handle.mu.Unlock()
	if t != nil {
		t.Drop()
	}

	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *monitor) watchTransfer(ctx context.Context, handle *watchHandle, transfer *domain.Transfer) {
	logger := m.cfg.Logger.WithField("transfer_id", transfer.ID)

	m.publishOverride(handle, transfer.ID, snapshot.StatusQueued, transfer.Progress)

	t, err := m.client.AddMagnet(transfer.MagnetURI)
	if err != nil {
		m.failWatch(ctx, handle, transfer.ID, fmt.Errorf("add magnet: %w", err))
		return
	}
	defer t.Drop()

	handle.mu.Lock()
	handle.torrent = t
	handle.mu.Unlock()

	for _, tracker := range m.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}

	select {
	case <-ctx.Done():
		logger.Info("watch cancelled before metadata")
		m.stopWatch(handle, transfer.ID)
		return
	case <-t.GotInfo():
	}

	info := t.Info()
	if info == nil {
		m.failWatch(ctx, handle, transfer.ID, fmt.Errorf("missing torrent info"))
		return
	}

	handle.appendLog("metadata received")

	name := info.BestName()
	totalLength := info.TotalLength()
	if err := m.transfers.UpdateMeta(ctx, transfer.ID, name, transfer.LocalPath, totalLength); err != nil {
		logger.Warnf("update meta: %v", err)
	}
	if err := m.recordFiles(ctx, t, transfer.ID, info.PieceLength); err != nil {
		logger.Warnf("record files: %v", err)
	}

	// anacrolix verifies pieces on disk before the first tick's statistics
	// are meaningful; report the phase out-of-band.
	m.publishOverride(handle, transfer.ID, snapshot.StatusWaitingForHashcheck, 0)

	t.DownloadAll()

	lastCompleted := t.BytesCompleted()
	initialStats := t.Stats()
	lastWritten := initialStats.BytesWrittenData.Int64()
	lastTime := time.Now()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	lastStatus := snapshot.StatusWaitingForHashcheck

	for {
		select {
		case <-ctx.Done():
			logger.Info("watch cancelled")
			m.stopWatch(handle, transfer.ID)
			return
		case <-ticker.C:
			// File selection is runtime adjustable; reload it every tick
			// instead of caching.
			current, err := m.transfers.GetTransfer(ctx, transfer.ID)
			if err != nil {
				logger.Warnf("reload transfer: %v", err)
				current = transfer
			}

			st := t.Stats()
			completed := t.BytesCompleted()
			written := st.BytesWrittenData.Int64()

			elapsed := time.Since(lastTime).Seconds()
			var downRate, upRate float64
			if elapsed > 0 {
				downRate = float64(completed-lastCompleted) / elapsed
				upRate = float64(written-lastWritten) / elapsed
			}
			lastCompleted, lastWritten, lastTime = completed, written, time.Now()

			ranges := selectedRanges(current.Files)
			stats := m.buildStats(t, st, totalLength, completed, downRate, upRate, current.Stream, ranges, info.PieceLength)

			snap, err := snapshot.New("", nil, 0, stats, ranges, handle.logMessages())
			if err != nil {
				// Selections are merged before projection, so this only
				// fires on corrupted file rows.
				logger.Errorf("build snapshot: %v", err)
				continue
			}
			handle.publish(snap)

			if err := m.transfers.UpdateProgress(ctx, transfer.ID, snap.Progress(),
				int64(downRate), int64(upRate), completed,
				st.TotalPeers, st.ActivePeers, st.ConnectedSeeders); err != nil {
				logger.Warnf("update progress: %v", err)
			}
			if snap.Status() != lastStatus {
				if err := m.transfers.UpdateStatus(ctx, transfer.ID, snap.Status(), nil); err != nil {
					logger.Warnf("update status: %v", err)
				}
				lastStatus = snap.Status()
			}

			if t.BytesMissing() == 0 {
				handle.appendLog("transfer complete")
				if err := m.transfers.MarkCompleted(ctx, transfer.ID); err != nil {
					logger.Warnf("mark completed: %v", err)
				}
				logger.Info("transfer complete")
				return
			}
		}
	}
}

// buildStats copies everything the snapshot needs out of the live engine
// state; nothing in the returned bundle aliases engine memory.
func (m *monitor) buildStats(t *torrent.Torrent, st torrent.TorrentStats, totalLength, completed int64, downRate, upRate float64, stream bool, ranges []snapshot.PieceRange, pieceLength int64) *snapshot.Stats {
	frac := 0.0
	if totalLength > 0 {
		frac = float64(completed) / float64(totalLength)
	}

	numPieces := t.NumPieces()
	pieces := make([]bool, numPieces)
	for i := 0; i < numPieces; i++ {
		pieces[i] = t.PieceState(i).Complete
	}

	stats := &snapshot.Stats{
		Frac:         frac,
		Pieces:       pieces,
		UploadRate:   upRate,
		DownloadRate: downRate,
		NumSeeds:     st.ConnectedSeeders,
		NumPeers:     st.ActivePeers - st.ConnectedSeeders,
	}
	if m.cfg.GatherPeers {
		stats.Peers = peerList(st)
	}
	if stream {
		stats.VODPrebufFrac, stats.VODPlayable, stats.VODPlayableAfter =
			prebufferState(pieces, ranges, m.cfg.PrebufferPieces, pieceLength, downRate)
	}
	return stats
}

// peerList reconstructs per-peer records from the engine's aggregate counters.
// The engine does not expose per-connection completion, so entries carry only
// the fraction needed for seed/peer accounting.
func peerList(st torrent.TorrentStats) []snapshot.PeerInfo {
	if st.ActivePeers < 0 {
		return []snapshot.PeerInfo{}
	}
	peers := make([]snapshot.PeerInfo, 0, st.ActivePeers)
	for i := 0; i < st.ActivePeers; i++ {
		p := snapshot.PeerInfo{}
		if i < st.ConnectedSeeders {
			p.Completed = 1.0
		}
		peers = append(peers, p)
	}
	return peers
}

func (m *monitor) recordFiles(ctx context.Context, t *torrent.Torrent, transferID int64, pieceLength int64) error {
	torrentFiles := t.Files()
	files := make([]domain.TransferFile, len(torrentFiles))
	for i, f := range torrentFiles {
		r := filePieceRange(f.Offset(), f.Length(), pieceLength)
		files[i] = domain.TransferFile{
			TransferID: transferID,
			Name:       f.DisplayPath(),
			Path:       f.Path(),
			Size:       f.Length(),
			PieceBegin: r.Start,
			PieceEnd:   r.End,
			Selected:   true,
		}
	}
	return m.transfers.ReplaceFiles(ctx, transferID, files)
}

// publishOverride emits a statistics-less snapshot for out-of-band phases.
func (m *monitor) publishOverride(handle *watchHandle, transferID int64, status snapshot.Status, progress float64) {
	snap, err := snapshot.New(status, nil, progress, nil, nil, handle.logMessages())
	if err != nil {
		m.cfg.Logger.WithField("transfer_id", transferID).Errorf("build override snapshot: %v", err)
		return
	}
	handle.publish(snap)
}

func (m *monitor) stopWatch(handle *watchHandle, transferID int64) {
	m.publishOverride(handle, transferID, snapshot.StatusStopped, 0)
	if err := m.transfers.UpdateStatus(context.Background(), transferID, snapshot.StatusStopped, nil); err != nil {
		m.cfg.Logger.WithField("transfer_id", transferID).Warnf("persist stopped status: %v", err)
	}
}

func (m *monitor) failWatch(ctx context.Context, handle *watchHandle, transferID int64, failErr error) {
	logger := m.cfg.Logger.WithField("transfer_id", transferID)

	handle.appendLog(failErr.Error())
	snap, err := snapshot.New("", failErr, 0, nil, nil, handle.logMessages())
	if err != nil {
		logger.Errorf("build error snapshot: %v", err)
	} else {
		handle.publish(snap)
	}

	msg := failErr.Error()
	if err := m.transfers.UpdateStatus(ctx, transferID, snapshot.StatusStoppedOnError, &msg); err != nil {
		logger.Errorf("persist failure status: %v", err)
	}
	logger.Error(msg)
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Monitor = (*monitor)(nil)
