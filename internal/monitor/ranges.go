package monitor

import (
	"math"
	"sort"
	"time"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/snapshot"
)

// filePieceRange computes the half-open piece span a file occupies. Boundary
// pieces shared with a neighbouring file are included on both sides, which is
// why selections are merged before they reach the projector.
func filePieceRange(offset, length, pieceLength int64) snapshot.PieceRange {
	if pieceLength <= 0 {
		return snapshot.PieceRange{}
	}
	begin := offset / pieceLength
	end := (offset + length + pieceLength - 1) / pieceLength
	return snapshot.PieceRange{Start: int(begin), End: int(end)}
}

// selectedRanges returns the normalized piece ranges of the selected files,
// or nil when the selection covers every file (projection of the full bitmap).
func selectedRanges(files []domain.TransferFile) []snapshot.PieceRange {
	if len(files) == 0 {
		return nil
	}

	var ranges []snapshot.PieceRange
	all := true
	for _, f := range files {
		if !f.Selected {
			all = false
			continue
		}
		ranges = append(ranges, f.PieceRange())
	}
	if all || len(ranges) == 0 {
		return nil
	}
	return mergeRanges(ranges)
}

// mergeRanges sorts and coalesces overlapping or touching ranges so the
// projector's no-overlap contract always holds for file-derived input.
func mergeRanges(ranges []snapshot.PieceRange) []snapshot.PieceRange {
	if len(ranges) == 0 {
		return nil
	}

	sorted := append([]snapshot.PieceRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	merged := sorted[:1]
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// prebufferState derives the video-on-demand fields for a tick: the fraction
// of the prebuffer window already complete, whether playback can start, and an
// estimate of the wait. The window is the head of the first selected range
// (the head of the whole transfer when nothing is restricted). With no
// measured download rate the wait is not computable and the maximum Duration
// is reported.
func prebufferState(pieces []bool, ranges []snapshot.PieceRange, window int, pieceLength int64, downloadRate float64) (frac float64, playable bool, after time.Duration) {
	start, limit := 0, len(pieces)
	if len(ranges) > 0 {
		start, limit = ranges[0].Start, ranges[0].End
	}
	if window > limit-start {
		window = limit - start
	}
	if window <= 0 {
		return 1.0, true, 0
	}

	done := 0
	for i := start; i < start+window; i++ {
		if pieces[i] {
			done++
		}
	}

	frac = float64(done) / float64(window)
	if done == window {
		return 1.0, true, 0
	}

	if downloadRate <= 0 {
		return frac, false, time.Duration(math.MaxInt64)
	}
	remaining := float64(window-done) * float64(pieceLength)
	return frac, false, time.Duration(remaining / downloadRate * float64(time.Second))
}
