package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

const maxLine = 1 << 20

// Parser reads newline-delimited JSON events.
type Parser struct {
	scanner *bufio.Scanner
	skipped int
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Parser{scanner: s}
}

// Next reads the next event from the stream.
// Blank lines, malformed lines and lines without a type are skipped.
// Returns false at EOF.
func (p *Parser) Next() (Event, bool) {
	for p.scanner.Scan() {
		line := bytes.TrimSpace(p.scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil || evt.Type == "" {
			p.skipped++
			continue
		}
		return evt, true
	}
	return Event{}, false
}

// Skipped returns the number of malformed lines seen so far.
func (p *Parser) Skipped() int {
	return p.skipped
}

// Err returns the first read error, if any.
func (p *Parser) Err() error {
	return p.scanner.Err()
}

// ParseAll reads all events from the stream and returns them.
func (p *Parser) ParseAll() []Event {
	var evts []Event
	for {
		evt, ok := p.Next()
		if !ok {
			break
		}
		evts = append(evts, evt)
	}
	return evts
}

// ParseBytes is a convenience function that parses all events from a byte slice.
func ParseBytes(data []byte) []Event {
	return NewParser(bytes.NewReader(data)).ParseAll()
}

// Stream sends evts on a buffered channel and closes it.
func Stream(evts []Event) <-chan Event {
	ch := make(chan Event, len(evts))
	for _, e := range evts {
		ch <- e
	}
	close(ch)
	return ch
}
