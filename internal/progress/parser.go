// Package progress incrementally parses ffmpeg's -progress pipe:1 key=value
// stream into Progress events.
package progress

import (
	"bytes"
	"math"
	"strconv"
	"strings"
)

// Progress is a single decoded snapshot of an in-flight encode.
type Progress struct {
	Frame           int64
	FPS             float64
	Time            string // "out_time" as reported by ffmpeg, e.g. "00:00:12.34"
	Speed           string // e.g. "1.02x"
	SizeBytes       int64
	ProgressPercent *int // nil when duration is unknown (indeterminate)
}

// Parser is an incremental, stateful decoder over ffmpeg's progress stream.
// It tolerates chunk boundaries that split a line and drops malformed lines
// without aborting the stream.
type Parser struct {
	buf     bytes.Buffer
	record  map[string]string
	durationSec float64 // estimated total duration, 0 = unknown
}

// NewParser returns a Parser. durationSec is the estimated total duration of
// the input, used to derive ProgressPercent; pass 0 if unknown.
func NewParser(durationSec float64) *Parser {
	return &Parser{record: make(map[string]string), durationSec: durationSec}
}

// SetDuration updates the estimated duration used for percent calculation.
func (p *Parser) SetDuration(sec float64) { p.durationSec = sec }

// Feed appends a chunk of stdout bytes and returns any Progress events
// completed by this chunk. A record completes when the "progress=" key is
// observed, per ffmpeg's -progress output contract.
func (p *Parser) Feed(chunk []byte) []Progress {
	p.buf.Write(chunk)

	var events []Progress
	for {
		data := p.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := string(bytes.TrimRight(data[:idx], "\r"))
		p.buf.Next(idx + 1)

		if line == "" {
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			continue // malformed line: drop and continue
		}
		p.record[key] = value

		if key == "progress" {
			events = append(events, p.buildEvent())
			p.record = make(map[string]string)
		}
	}
	return events
}

func splitKV(line string) (string, string, bool) {
	i := strings.IndexByte(line, '=')
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

func (p *Parser) buildEvent() Progress {
	ev := Progress{
		Time:  p.record["out_time"],
		Speed: p.record["speed"],
	}
	if v, err := strconv.ParseInt(p.record["frame"], 10, 64); err == nil {
		ev.Frame = v
	}
	if v, err := strconv.ParseFloat(p.record["fps"], 64); err == nil {
		ev.FPS = v
	}
	if v, err := strconv.ParseInt(p.record["total_size"], 10, 64); err == nil {
		ev.SizeBytes = v
	}

	if p.durationSec > 0 {
		if elapsed, ok := parseOutTimeUS(p.record["out_time_us"]); ok {
			pct := int(math.Round(elapsed / p.durationSec * 100))
			if pct > 100 {
				pct = 100
			}
			if pct < 0 {
				pct = 0
			}
			ev.ProgressPercent = &pct
		}
	}
	return ev
}

// parseOutTimeUS parses ffmpeg's out_time_us field (microseconds) into seconds.
func parseOutTimeUS(raw string) (float64, bool) {
	if raw == "" {
		return 0, false
	}
	us, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return float64(us) / 1_000_000, true
}
