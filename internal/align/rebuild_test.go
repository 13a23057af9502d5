package align_test

import (
	"testing"

	"github.com/kikitori/kikitori/internal/align"
)

func TestRebuild_GroupsByCue(t *testing.T) {
	t.Parallel()

	cues := []align.Cue{
		{Text: "Hello", Start: 0, End: 1},
		{Text: "Hello", Start: 1, End: 2},
		{Text: "Hello World", Start: 2, End: 3},
	}
	merged, prov := align.Linearize(cues)
	cal := align.Calibrate(merged, prov, nil)

	segs := align.Rebuild(merged, prov, cal)
	if len(segs) != 2 {
		t.Fatalf("Rebuild: %d segments, want 2", len(segs))
	}
	if segs[0].Text != "Hello" || segs[1].Text != "World" {
		t.Errorf("segments=[%q,%q], want [Hello,World]", segs[0].Text, segs[1].Text)
	}
	if segs[0].End > segs[1].Start+1e-9 && segs[0].Start > segs[1].Start {
		t.Errorf("segment order broken: %+v then %+v", segs[0], segs[1])
	}
}

func TestRebuild_NoOverlapUnchanged(t *testing.T) {
	t.Parallel()

	cues := []align.Cue{
		{Text: "Hello", Start: 0, End: 1},
		{Text: "World", Start: 1, End: 2},
	}
	merged, prov := align.Linearize(cues)
	cal := align.Calibrate(merged, prov, nil)

	segs := align.Rebuild(merged, prov, cal)
	if len(segs) != 2 {
		t.Fatalf("Rebuild: %d segments, want 2", len(segs))
	}
	if segs[0].Text != "Hello" || segs[1].Text != "World" {
		t.Errorf("segments=[%q,%q], want [Hello,World]", segs[0].Text, segs[1].Text)
	}
	if !almostEqual(segs[0].Start, 0) || !almostEqual(segs[0].End, 1) {
		t.Errorf("segs[0]=[%v,%v], want [0,1]", segs[0].Start, segs[0].End)
	}
}

func TestRebuild_SegmentBoundsFromChars(t *testing.T) {
	t.Parallel()

	merged := "ab"
	prov := provFor(2, 0, 0, 2)
	cal := []align.CalibratedChar{
		{Char: 'a', Start: 0.2, End: 0.9},
		{Char: 'b', Start: 0.9, End: 1.7},
	}

	segs := align.Rebuild(merged, prov, cal)
	if len(segs) != 1 {
		t.Fatalf("Rebuild: %d segments, want 1", len(segs))
	}
	if !almostEqual(segs[0].Start, 0.2) || !almostEqual(segs[0].End, 1.7) {
		t.Errorf("segment=[%v,%v], want [0.2,1.7]", segs[0].Start, segs[0].End)
	}
	if len(segs[0].Chars) != 2 {
		t.Errorf("segment carries %d chars, want 2", len(segs[0].Chars))
	}
}

func TestRebuild_Empty(t *testing.T) {
	t.Parallel()

	if segs := align.Rebuild("", nil, nil); len(segs) != 0 {
		t.Fatalf("Rebuild empty=%v, want none", segs)
	}
}
