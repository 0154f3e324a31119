// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package subtitle validates SubRip and WebVTT caption documents.
package subtitle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned for any document that is not usable as captions.
var ErrInvalid = errors.New("invalid subtitle document")

// Format identifies the detected document syntax.
type Format string

const (
	FormatSRT    Format = "srt"
	FormatWebVTT Format = "vtt"
)

// Cue is one timed caption.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

// Document is a parsed caption file.
type Document struct {
	Format Format
	Cues   []Cue
}

// Duration returns the end of the last cue.
func (d *Document) Duration() time.Duration {
	var last time.Duration
	for _, c := range d.Cues {
		if c.End > last {
			last = c.End
		}
	}
	return last
}

// Parse detects the format of text and parses it. A document without cues is
// invalid.
func Parse(text string) (*Document, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty document", ErrInvalid)
	}

	doc := &Document{Format: FormatSRT}
	body := text
	if isWebVTT(text) {
		doc.Format = FormatWebVTT
		// Header block runs until the first blank line.
		if i := strings.Index(text, "\n\n"); i >= 0 {
			body = text[i+2:]
		} else {
			body = ""
		}
	}

	for n, block := range splitBlocks(body) {
		cue, ok, err := parseBlock(block, doc.Format)
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %v", ErrInvalid, n+1, err)
		}
		if !ok {
			continue
		}
		cue.Index = len(doc.Cues) + 1
		doc.Cues = append(doc.Cues, cue)
	}
	if len(doc.Cues) == 0 {
		return nil, fmt.Errorf("%w: no cues", ErrInvalid)
	}
	return doc, nil
}

func isWebVTT(text string) bool {
	line, _, _ := strings.Cut(text, "\n")
	if !strings.HasPrefix(line, "WEBVTT") {
		return false
	}
	rest := line[len("WEBVTT"):]
	return rest == "" || rest[0] == ' ' || rest[0] == '\t'
}

func splitBlocks(body string) []string {
	var blocks []string
	for _, b := range strings.Split(body, "\n\n") {
		if b = strings.Trim(b, "\n"); strings.TrimSpace(b) != "" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// parseBlock returns ok=false for WebVTT blocks that carry no cue.
func parseBlock(block string, f Format) (Cue, bool, error) {
	lines := strings.Split(block, "\n")
	if f == FormatWebVTT {
		switch {
		case strings.HasPrefix(lines[0], "NOTE"),
			strings.HasPrefix(lines[0], "STYLE"),
			strings.HasPrefix(lines[0], "REGION"):
			return Cue{}, false, nil
		}
	}

	timing := -1
	for i, l := range lines {
		if strings.Contains(l, "-->") {
			timing = i
			break
		}
	}
	if timing < 0 {
		return Cue{}, false, errors.New("missing timing line")
	}
	if f == FormatSRT && timing > 1 {
		return Cue{}, false, errors.New("unexpected text before timing line")
	}
	if f == FormatSRT && timing == 1 {
		if _, err := strconv.Atoi(strings.TrimSpace(lines[0])); err != nil {
			return Cue{}, false, fmt.Errorf("invalid cue number %q", lines[0])
		}
	}

	start, end, err := parseTiming(lines[timing])
	if err != nil {
		return Cue{}, false, err
	}
	return Cue{
		Start: start,
		End:   end,
		Text:  strings.Join(lines[timing+1:], "\n"),
	}, true, nil
}

func parseTiming(line string) (time.Duration, time.Duration, error) {
	left, right, _ := strings.Cut(line, "-->")
	// WebVTT cue settings follow the end timestamp.
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("missing end timestamp in %q", line)
	}
	start, err := parseTimestamp(left)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseTimestamp(fields[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("cue ends before it starts: %q", line)
	}
	return start, end, nil
}

// parseTimestamp accepts HH:MM:SS,mmm, HH:MM:SS.mmm and MM:SS.mmm.
func parseTimestamp(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty timestamp")
	}
	value = strings.ReplaceAll(value, ",", ".")
	clock, frac, ok := strings.Cut(value, ".")
	if !ok || len(frac) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	parts := strings.Split(clock, ":")
	if len(parts) == 2 {
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(parts[0])
	minutes, errM := strconv.Atoi(parts[1])
	seconds, errS := strconv.Atoi(parts[2])
	millis, errMS := strconv.Atoi(frac)
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	if hours < 0 || minutes < 0 || minutes > 59 || seconds < 0 || seconds > 59 || millis < 0 {
		return 0, fmt.Errorf("timestamp out of range %q", value)
	}
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second +
		time.Duration(millis)*time.Millisecond, nil
}
