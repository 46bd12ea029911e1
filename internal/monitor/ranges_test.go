package monitor

import (
	"math"
	"testing"
	"time"

	"transfer-monitor/internal/domain"
	"transfer-monitor/internal/snapshot"
)

func TestFilePieceRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		offset      int64
		length      int64
		pieceLength int64
		want        snapshot.PieceRange
	}{
		{"aligned file", 0, 1024, 256, snapshot.PieceRange{Start: 0, End: 4}},
		{"tail remainder rounds up", 0, 1000, 256, snapshot.PieceRange{Start: 0, End: 4}},
		{"mid torrent offset", 512, 512, 256, snapshot.PieceRange{Start: 2, End: 4}},
		{"straddles boundaries", 100, 300, 256, snapshot.PieceRange{Start: 0, End: 2}},
		{"zero piece length", 0, 100, 0, snapshot.PieceRange{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := filePieceRange(tt.offset, tt.length, tt.pieceLength); got != tt.want {
				t.Errorf("filePieceRange(%d, %d, %d) = %+v, want %+v",
					tt.offset, tt.length, tt.pieceLength, got, tt.want)
			}
		})
	}
}

func TestSelectedRanges(t *testing.T) {
	t.Parallel()

	files := []domain.TransferFile{
		{PieceBegin: 0, PieceEnd: 4, Selected: true},
		{PieceBegin: 3, PieceEnd: 8, Selected: false},
		{PieceBegin: 8, PieceEnd: 12, Selected: true},
	}

	t.Run("partial selection merges and keeps gaps", func(t *testing.T) {
		t.Parallel()

		got := selectedRanges(files)
		want := []snapshot.PieceRange{{Start: 0, End: 4}, {Start: 8, End: 12}}
		if len(got) != len(want) {
			t.Fatalf("ranges = %+v, want %+v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("range %d = %+v, want %+v", i, got[i], want[i])
			}
		}
	})

	t.Run("all selected means full bitmap", func(t *testing.T) {
		t.Parallel()

		all := []domain.TransferFile{
			{PieceBegin: 0, PieceEnd: 4, Selected: true},
			{PieceBegin: 3, PieceEnd: 8, Selected: true},
		}
		if got := selectedRanges(all); got != nil {
			t.Errorf("expected nil for full selection, got %+v", got)
		}
	})

	t.Run("nothing selected falls back to full bitmap", func(t *testing.T) {
		t.Parallel()

		none := []domain.TransferFile{
			{PieceBegin: 0, PieceEnd: 4},
			{PieceBegin: 4, PieceEnd: 8},
		}
		if got := selectedRanges(none); got != nil {
			t.Errorf("expected nil for empty selection, got %+v", got)
		}
	})

	t.Run("no files", func(t *testing.T) {
		t.Parallel()

		if got := selectedRanges(nil); got != nil {
			t.Errorf("expected nil for no files, got %+v", got)
		}
	})
}

func TestMergeRanges(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		ranges []snapshot.PieceRange
		want   []snapshot.PieceRange
	}{
		{
			"boundary piece shared by neighbours",
			[]snapshot.PieceRange{{Start: 0, End: 4}, {Start: 3, End: 7}},
			[]snapshot.PieceRange{{Start: 0, End: 7}},
		},
		{
			"touching ranges coalesce",
			[]snapshot.PieceRange{{Start: 4, End: 8}, {Start: 0, End: 4}},
			[]snapshot.PieceRange{{Start: 0, End: 8}},
		},
		{
			"disjoint ranges stay apart",
			[]snapshot.PieceRange{{Start: 10, End: 12}, {Start: 0, End: 5}},
			[]snapshot.PieceRange{{Start: 0, End: 5}, {Start: 10, End: 12}},
		},
		{
			"contained range disappears",
			[]snapshot.PieceRange{{Start: 0, End: 10}, {Start: 2, End: 5}},
			[]snapshot.PieceRange{{Start: 0, End: 10}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := mergeRanges(tt.ranges)
			if len(got) != len(tt.want) {
				t.Fatalf("merged = %+v, want %+v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("range %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPrebufferState(t *testing.T) {
	t.Parallel()

	t.Run("window complete is playable now", func(t *testing.T) {
		t.Parallel()

		pieces := []bool{true, true, true, false, false}
		frac, playable, after := prebufferState(pieces, nil, 3, 1024, 0)
		if frac != 1.0 || !playable || after != 0 {
			t.Errorf("got (%v, %v, %v), want (1.0, true, 0)", frac, playable, after)
		}
	})

	t.Run("partial window with rate estimates wait", func(t *testing.T) {
		t.Parallel()

		pieces := []bool{true, false, false, false}
		frac, playable, after := prebufferState(pieces, nil, 2, 1024, 1024)
		if frac != 0.5 {
			t.Errorf("frac = %v, want 0.5", frac)
		}
		if playable {
			t.Error("half a window should not be playable")
		}
		if after != time.Second {
			t.Errorf("after = %v, want 1s", after)
		}
	})

	t.Run("no measured rate means unknown wait", func(t *testing.T) {
		t.Parallel()

		pieces := []bool{false, false}
		_, playable, after := prebufferState(pieces, nil, 2, 1024, 0)
		if playable {
			t.Error("empty window should not be playable")
		}
		if after != time.Duration(math.MaxInt64) {
			t.Errorf("after = %v, want max duration", after)
		}
	})

	t.Run("window anchored at first selected range", func(t *testing.T) {
		t.Parallel()

		pieces := []bool{false, false, true, true, false}
		ranges := []snapshot.PieceRange{{Start: 2, End: 4}}
		frac, playable, _ := prebufferState(pieces, ranges, 2, 1024, 0)
		if frac != 1.0 || !playable {
			t.Errorf("got (%v, %v), want range head complete", frac, playable)
		}
	})

	t.Run("window clamped to range width", func(t *testing.T) {
		t.Parallel()

		pieces := []bool{true, true, false}
		ranges := []snapshot.PieceRange{{Start: 0, End: 2}}
		frac, playable, after := prebufferState(pieces, ranges, 8, 1024, 0)
		if frac != 1.0 || !playable || after != 0 {
			t.Errorf("got (%v, %v, %v), want clamped window complete", frac, playable, after)
		}
	})
}
