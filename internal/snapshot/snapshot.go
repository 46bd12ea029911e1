// Package snapshot builds immutable point-in-time views of a transfer's
// progress from the engine's mutable counters and piece-completion bitmap.
// Readers share a snapshot across goroutines without synchronization because
// construction copies everything it needs; the engine is never blocked by a
// reader and a reader never observes a half-updated state.
package snapshot

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrContract marks malformed constructor input: a range outside the bitmap,
// an inverted or overlapping range, or a statistics-less tick with nothing to
// derive from. Construction fails fast rather than producing a partially
// correct snapshot.
var ErrContract = errors.New("snapshot: contract violation")

// Snapshot is an immutable view of a transfer at one observation tick. All
// fields are copied at construction; it holds no reference into engine memory.
type Snapshot struct {
	status   Status
	err      error
	progress float64
	stats    *Stats
	ranges   []PieceRange
	pieces   []bool
	logs     []LogMessage
}

// New derives a snapshot from one of three input shapes, in precedence order:
// an engine error, an explicit status override (for out-of-band phases such as
// hash checking), or a live statistics bundle.
//
//   - err != nil: status is StatusStoppedOnError and progress 0, regardless of
//     any statistics also supplied.
//   - status != "": the override wins; progress is 0 for
//     StatusWaitingForHashcheck, the statistics fraction when statistics are
//     present, and the caller-supplied progress otherwise.
//   - otherwise statistics are required: progress is stats.Frac and status is
//     StatusSeeding at 1.0, StatusDownloading below it.
//
// When statistics carry the piece bitmap, ranges restricts the completion view
// to the caller's files of interest. If every piece inside the ranges is
// complete the snapshot reports StatusSeeding with progress 1.0 even while
// pieces outside the ranges are still missing.
func New(status Status, err error, progress float64, stats *Stats, ranges []PieceRange, logs []LogMessage) (*Snapshot, error) {
	if status != statusNone && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrContract, status)
	}
	if err == nil && status == statusNone && stats == nil {
		return nil, fmt.Errorf("%w: statistics required when no status or error is given", ErrContract)
	}

	s := &Snapshot{
		ranges: append([]PieceRange(nil), ranges...),
		logs:   append([]LogMessage(nil), logs...),
	}

	switch {
	case err != nil:
		s.err = err
		s.status = StatusStoppedOnError
		s.progress = 0.0
	case status != statusNone:
		s.status = status
		if status == StatusWaitingForHashcheck {
			s.progress = 0.0
		} else if stats != nil {
			s.progress = stats.Frac
		} else {
			s.progress = progress
		}
	default:
		s.stats = stats.clone()
		s.progress = stats.Frac
		if stats.Frac == 1.0 {
			s.status = StatusSeeding
		} else {
			s.status = StatusDownloading
		}

		pieces, all, perr := project(s.stats.Pieces, s.ranges)
		if perr != nil {
			return nil, perr
		}
		s.pieces = pieces
		if s.ranges != nil && all {
			// Every piece of the selected files is done; report the
			// transfer as finished for the caller's purposes even if
			// unselected files are still incomplete.
			s.status = StatusSeeding
			s.progress = 1.0
		}
	}

	return s, nil
}

// project compacts the global bitmap down to the selected ranges, preserving
// range order and piece order within each range. A nil ranges list means the
// whole bitmap. The second return value reports whether every projected flag
// is set; it is only meaningful when ranges is non-nil.
func project(have []bool, ranges []PieceRange) ([]bool, bool, error) {
	if ranges == nil {
		return append([]bool(nil), have...), false, nil
	}
	if err := validateRanges(ranges, len(have)); err != nil {
		return nil, false, err
	}

	total := 0
	for _, r := range ranges {
		total += r.Width()
	}

	out := make([]bool, total)
	all := true
	idx := 0
	for _, r := range ranges {
		for piece := r.Start; piece < r.End; piece++ {
			out[idx] = have[piece]
			if all && !out[idx] {
				all = false
			}
			idx++
		}
	}
	return out, all, nil
}

// validateRanges rejects ranges that fall outside the bitmap, are inverted, or
// overlap one another. Overlap would double-count pieces in the projection, so
// it is treated as a caller bug rather than silently clamped.
func validateRanges(ranges []PieceRange, pieceCount int) error {
	for _, r := range ranges {
		if r.Start < 0 || r.End < r.Start {
			return fmt.Errorf("%w: invalid piece range [%d, %d)", ErrContract, r.Start, r.End)
		}
		if r.End > pieceCount {
			return fmt.Errorf("%w: piece range [%d, %d) exceeds %d pieces", ErrContract, r.Start, r.End, pieceCount)
		}
	}

	// Zero-width ranges cover no pieces and cannot collide.
	sorted := make([]PieceRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Width() > 0 {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Start < sorted[i-1].End {
			return fmt.Errorf("%w: piece ranges [%d, %d) and [%d, %d) overlap",
				ErrContract, sorted[i-1].Start, sorted[i-1].End, sorted[i].Start, sorted[i].End)
		}
	}
	return nil
}

// Status returns the derived lifecycle status.
func (s *Snapshot) Status() Status {
	return s.status
}

// Progress returns the completion fraction in [0, 1]. During hash checking it
// is the fraction of content checked; while downloading or seeding it is the
// fraction downloaded.
func (s *Snapshot) Progress() float64 {
	return s.progress
}

// Err returns the engine failure that moved the transfer to
// StatusStoppedOnError, or nil.
func (s *Snapshot) Err() error {
	return s.err
}

// Speed returns the current transfer rate for the given direction in KB/s,
// or 0 when the snapshot carries no statistics.
func (s *Snapshot) Speed(d Direction) float64 {
	if s.stats == nil {
		return 0.0
	}
	if d == Upload {
		return s.stats.UploadRate / 1024.0
	}
	return s.stats.DownloadRate / 1024.0
}

// HasActiveConnections reports whether any seeds or peers are connected. It is
// useful to see whether progress is still possible after non-fatal errors such
// as a tracker timeout.
func (s *Snapshot) HasActiveConnections() bool {
	if s.stats == nil {
		return false
	}
	return s.stats.NumSeeds+s.stats.NumPeers > 0
}

// SeedsPeers returns the number of seeds and non-seed peers from the engine's
// peer list. ok is false when the list was not gathered on this tick, which is
// distinct from a gathered-but-empty list reporting (0, 0, true).
func (s *Snapshot) SeedsPeers() (seeds, peers int, ok bool) {
	if s.stats == nil || s.stats.Peers == nil {
		return 0, 0, false
	}
	for _, p := range s.stats.Peers {
		if p.Completed == 1.0 {
			seeds++
		}
	}
	return seeds, len(s.stats.Peers) - seeds, true
}

// PiecesComplete returns one flag per piece inside the selected ranges (the
// whole transfer when no ranges were given), true meaning fully received.
// Callers must not modify the returned slice. Nil when the snapshot carries no
// statistics.
func (s *Snapshot) PiecesComplete() []bool {
	if s.stats == nil {
		return nil
	}
	return s.pieces
}

// Ranges returns the selected piece ranges the completion view was projected
// onto, or nil when the view covers the whole transfer.
func (s *Snapshot) Ranges() []PieceRange {
	return s.ranges
}

// VODPrebufferProgress returns the prebuffering fraction for video-on-demand
// playback, 0 when no statistics are present.
func (s *Snapshot) VODPrebufferProgress() float64 {
	if s.stats == nil {
		return 0.0
	}
	return s.stats.VODPrebufFrac
}

// VODPlayable reports whether prebuffer and download rate suffice to start
// playback.
func (s *Snapshot) VODPlayable() bool {
	if s.stats == nil {
		return false
	}
	return s.stats.VODPlayable
}

// VODPlayableAfter returns the estimated time until playback can start. When
// no statistics exist the estimate is not computable yet and the maximum
// Duration is returned, never a misleading zero.
func (s *Snapshot) VODPlayableAfter() time.Duration {
	if s.stats == nil {
		return time.Duration(math.MaxInt64)
	}
	return s.stats.VODPlayableAfter
}

// LogMessages returns the recorded engine messages, oldest first. The producer
// caps the history at the last 10; no further truncation or reordering happens
// here.
func (s *Snapshot) LogMessages() []LogMessage {
	return s.logs
}
