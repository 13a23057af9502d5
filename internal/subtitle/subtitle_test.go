package subtitle_test

import (
	"math"
	"testing"

	"github.com/kikitori/kikitori/internal/subtitle"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestParse_SRT(t *testing.T) {
	t.Parallel()

	content := "1\r\n00:00:01,000 --> 00:00:02,500\r\nこんにちは\r\n\r\n" +
		"2\r\n00:00:02,500 --> 00:00:04,000\r\n世界の\r\n皆さん\r\n"

	cues, err := subtitle.Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("got %d cues, want 2", len(cues))
	}
	if cues[0].Text != "こんにちは" || !almostEqual(cues[0].Start, 1.0) || !almostEqual(cues[0].End, 2.5) {
		t.Errorf("cue 0 = %+v", cues[0])
	}
	// Multi-line cue text is joined with a space.
	if cues[1].Text != "世界の 皆さん" {
		t.Errorf("cue 1 text = %q, want %q", cues[1].Text, "世界の 皆さん")
	}
}

func TestParse_VTT(t *testing.T) {
	t.Parallel()

	content := `WEBVTT

NOTE a comment block

00:01.000 --> 00:02.000 align:start
Hello

01:00:03.000 --> 01:00:04.000
World
`

	cues, err := subtitle.Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("got %d cues, want 2", len(cues))
	}
	if cues[0].Text != "Hello" || !almostEqual(cues[0].Start, 1.0) || !almostEqual(cues[0].End, 2.0) {
		t.Errorf("cue 0 = %+v", cues[0])
	}
	if !almostEqual(cues[1].Start, 3603.0) {
		t.Errorf("cue 1 start = %v, want 3603", cues[1].Start)
	}
}

func TestParse_SkipsMalformedBlocks(t *testing.T) {
	t.Parallel()

	content := `garbage without timestamp

1
00:00:01,000 --> 00:00:02,000
Valid

2
00:00:03,000 --> 00:00:04,000
`

	cues, err := subtitle.Parse(content)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(cues) != 1 || cues[0].Text != "Valid" {
		t.Errorf("got %+v, want single cue %q", cues, "Valid")
	}
}

func TestParse_NoCues(t *testing.T) {
	t.Parallel()

	if _, err := subtitle.Parse("not a subtitle file"); err == nil {
		t.Error("Parse accepted content with no cues")
	}
}
