package snapshot

import "time"

// Direction selects which transfer rate an accessor reports.
type Direction int

const (
	Upload Direction = iota
	Download
)

// PeerInfo is one entry of the engine's optional peer list. Completed is the
// peer's completion fraction; 1.0 marks a seed.
type PeerInfo struct {
	Addr      string
	Completed float64
}

// PieceRange is a half-open [Start, End) interval of piece indexes.
type PieceRange struct {
	Start int
	End   int
}

// Width returns the number of pieces covered by the range.
func (r PieceRange) Width() int {
	return r.End - r.Start
}

// LogMessage is a timestamped engine message of possible interest to the user,
// e.g. a tracker failure. The producer caps the history at the last 10.
type LogMessage struct {
	Time    time.Time
	Message string
}

// Stats is the raw bundle read from the transfer engine on one tick. It must
// not alias engine-mutable memory; the constructor copies its slices again so
// a published snapshot can never observe later engine writes.
type Stats struct {
	// Frac is the overall completion fraction in [0, 1].
	Frac float64
	// Pieces holds one completion flag per piece in the transfer.
	Pieces []bool
	// UploadRate and DownloadRate are in bytes per second.
	UploadRate   float64
	DownloadRate float64
	// NumSeeds and NumPeers are the engine's connection counters, always
	// populated on a statistics tick.
	NumSeeds int
	NumPeers int
	// Peers is nil when peer-list gathering was not requested. Accessors
	// report "unknown" counts in that case rather than zero.
	Peers []PeerInfo
	// Video-on-demand fields, meaningful only in stream mode.
	VODPrebufFrac    float64
	VODPlayable      bool
	VODPlayableAfter time.Duration
}

func (s *Stats) clone() *Stats {
	if s == nil {
		return nil
	}
	c := *s
	c.Pieces = append([]bool(nil), s.Pieces...)
	if s.Peers != nil {
		c.Peers = append([]PeerInfo(nil), s.Peers...)
	}
	return &c
}
