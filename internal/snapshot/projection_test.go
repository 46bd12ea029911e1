package snapshot_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"transfer-monitor/internal/snapshot"
)

func genBitmap() gopter.Gen {
	return gen.SliceOf(gen.Bool())
}

func TestProjection_Identity_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("nil ranges yield the bitmap element for element", prop.ForAll(
		func(bitmap []bool) bool {
			snap, err := snapshot.New("", nil, 0, &snapshot.Stats{Frac: 0.5, Pieces: bitmap}, nil, nil)
			if err != nil {
				return false
			}
			got := snap.PiecesComplete()
			if len(got) != len(bitmap) {
				return false
			}
			for i := range bitmap {
				if got[i] != bitmap[i] {
					return false
				}
			}
			return true
		},
		genBitmap(),
	))

	properties.TestingRun(t)
}

func TestProjection_LengthLaw_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	// Split [0, n) at two cut points into up to two disjoint ranges; the
	// projection length must equal the sum of range widths.
	properties.Property("projected length equals sum of range widths", prop.ForAll(
		func(bitmap []bool, a, b int) bool {
			n := len(bitmap)
			if n == 0 {
				return true
			}
			a, b = a%(n+1), b%(n+1)
			if a < 0 {
				a = -a
			}
			if b < 0 {
				b = -b
			}
			if a > b {
				a, b = b, a
			}
			ranges := []snapshot.PieceRange{{Start: 0, End: a}, {Start: b, End: n}}

			snap, err := snapshot.New("", nil, 0, &snapshot.Stats{Frac: 0.5, Pieces: bitmap}, ranges, nil)
			if err != nil {
				return false
			}
			return len(snap.PiecesComplete()) == a+(n-b)
		},
		genBitmap(),
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestProjection_CompletionOverride_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("all-true selection forces seeding at 1.0, any gap does not", prop.ForAll(
		func(bitmap []bool, start, width int) bool {
			n := len(bitmap)
			if n == 0 {
				return true
			}
			start = abs(start) % n
			width = 1 + abs(width)%(n-start)
			ranges := []snapshot.PieceRange{{Start: start, End: start + width}}

			snap, err := snapshot.New("", nil, 0, &snapshot.Stats{Frac: 0.5, Pieces: bitmap}, ranges, nil)
			if err != nil {
				return false
			}

			all := true
			for _, have := range bitmap[start : start+width] {
				if !have {
					all = false
					break
				}
			}

			if all {
				return snap.Status() == snapshot.StatusSeeding && snap.Progress() == 1.0
			}
			return snap.Status() == snapshot.StatusDownloading && snap.Progress() == 0.5
		},
		genBitmap(),
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func TestProjection_OverlapRejected_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("ranges sharing a piece always fail construction", prop.ForAll(
		func(size, at int) bool {
			n := 2 + abs(size)%64
			at = abs(at) % (n - 1)
			bitmap := make([]bool, n)
			// Both ranges cover piece at+1.
			ranges := []snapshot.PieceRange{
				{Start: at, End: at + 2},
				{Start: at + 1, End: n},
			}
			_, err := snapshot.New("", nil, 0, &snapshot.Stats{Frac: 0.5, Pieces: bitmap}, ranges, nil)
			return err != nil
		},
		gen.Int(),
		gen.Int(),
	))

	properties.TestingRun(t)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
