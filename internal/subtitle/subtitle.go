// Package subtitle parses SRT and WebVTT subtitle files into timed cues.
//
// Parsing is deliberately lenient: blocks without a recognizable timestamp
// line are skipped, cue numbering is optional, and both comma and dot
// millisecond separators are accepted. The result feeds the alignment
// engine, which tolerates overlapping and repeated cues.
package subtitle

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kikitori/kikitori/internal/align"
)

// timestampLine matches "HH:MM:SS,mmm --> HH:MM:SS.mmm" with optional hours
// (WebVTT allows MM:SS.mmm) and trailing cue settings.
var timestampLine = regexp.MustCompile(`^((?:\d{1,2}:)?\d{2}:\d{2}[,.]\d{1,3})\s*-->\s*((?:\d{1,2}:)?\d{2}:\d{2}[,.]\d{1,3})`)

// Parse converts SRT or WebVTT content into ordered cues. Cues without text
// are dropped. An error is returned only when no cue could be parsed at all.
func Parse(content string) ([]align.Cue, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	content = strings.TrimPrefix(content, "\uFEFF")

	var cues []align.Cue
	for _, block := range splitBlocks(content) {
		cue, ok := parseBlock(block)
		if ok {
			cues = append(cues, cue)
		}
	}

	if len(cues) == 0 {
		return nil, fmt.Errorf("subtitle: no cues found")
	}
	return cues, nil
}

func splitBlocks(content string) []string {
	var blocks []string
	for _, block := range strings.Split(strings.TrimSpace(content), "\n\n") {
		block = strings.TrimSpace(block)
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func parseBlock(block string) (align.Cue, bool) {
	lines := strings.Split(block, "\n")

	// WebVTT header and comment blocks carry no cue.
	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(first, "WEBVTT") || strings.HasPrefix(first, "NOTE") || strings.HasPrefix(first, "STYLE") {
		return align.Cue{}, false
	}

	tsIdx := -1
	var m []string
	for i, line := range lines {
		if m = timestampLine.FindStringSubmatch(line); m != nil {
			tsIdx = i
			break
		}
	}
	if tsIdx == -1 {
		return align.Cue{}, false
	}

	start, err := parseTimestamp(m[1])
	if err != nil {
		return align.Cue{}, false
	}
	end, err := parseTimestamp(m[2])
	if err != nil {
		return align.Cue{}, false
	}

	text := strings.TrimSpace(strings.Join(lines[tsIdx+1:], " "))
	if text == "" {
		return align.Cue{}, false
	}

	return align.Cue{Text: text, Start: start, End: end}, true
}

// parseTimestamp converts "HH:MM:SS,mmm" or "MM:SS.mmm" to seconds.
func parseTimestamp(s string) (float64, error) {
	s = strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(s, ":")

	var hours, minutes int
	var seconds float64
	var err error

	switch len(parts) {
	case 3:
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("subtitle: bad hours in %q: %w", s, err)
		}
		parts = parts[1:]
	case 2:
	default:
		return 0, fmt.Errorf("subtitle: bad timestamp %q", s)
	}

	if minutes, err = strconv.Atoi(parts[0]); err != nil {
		return 0, fmt.Errorf("subtitle: bad minutes in %q: %w", s, err)
	}
	if seconds, err = strconv.ParseFloat(parts[1], 64); err != nil {
		return 0, fmt.Errorf("subtitle: bad seconds in %q: %w", s, err)
	}

	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}
