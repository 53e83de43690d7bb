// ABOUTME: Server-Sent Events parser for the chat backend's streaming responses.
// ABOUTME: Reads from an io.Reader and yields events per the W3C EventSource framing rules.

package sse

import (
	"bufio"
	"io"
	"strings"
)

// Event is a single Server-Sent Event as it appears on the wire.
type Event struct {
	Type string // from "event:" line, defaults to "message"
	Data string // from "data:" line(s), joined with newlines for multi-line
	ID   string // from "id:" line
}

// Parser reads SSE events from an io.Reader. It tolerates frame boundaries
// falling anywhere inside a network chunk: bufio does the carrying, and only
// complete events are ever dispatched.
type Parser struct {
	scanner *lineScanner
	done    bool

	// Accumulation state for the event being built.
	eventType string
	dataLines []string
	hasData   bool
	id        string
}

// NewParser creates a parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{scanner: newLineScanner(r)}
}

// Next returns the next event from the stream. Returns io.EOF when the
// underlying reader ends; a pending unterminated event is dispatched first.
func (p *Parser) Next() (Event, error) {
	if p.done {
		return Event{}, io.EOF
	}

	for {
		line, err := p.scanner.readLine()
		if err != nil {
			if err == io.EOF {
				p.done = true
				if p.hasData {
					evt := p.buildEvent()
					p.resetState()
					return evt, nil
				}
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		// A blank line dispatches the current event.
		if line == "" {
			if !p.hasData {
				// Consecutive blank lines produce no event.
				continue
			}
			evt := p.buildEvent()
			p.resetState()
			return evt, nil
		}

		// Comment lines start with ':'.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := parseLine(line)
		p.processField(field, value)
	}
}

// parseLine splits an SSE line into field name and value. Without a colon the
// whole line is the field name. A single leading space after the colon is
// stripped from the value.
func parseLine(line string) (field, value string) {
	idx := strings.IndexByte(line, ':')
	if idx == -1 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return field, value
}

func (p *Parser) processField(field, value string) {
	switch field {
	case "event":
		p.eventType = value
	case "data":
		p.dataLines = append(p.dataLines, value)
		p.hasData = true
	case "id":
		p.id = value
	default:
		// Unknown fields (including "retry") are ignored; the chat protocol
		// does not use client-side reconnect intervals.
	}
}

func (p *Parser) buildEvent() Event {
	eventType := p.eventType
	if eventType == "" {
		eventType = "message"
	}
	return Event{
		Type: eventType,
		Data: strings.Join(p.dataLines, "\n"),
		ID:   p.id,
	}
}

func (p *Parser) resetState() {
	p.eventType = ""
	p.dataLines = nil
	p.hasData = false
	p.id = ""
}

// lineScanner reads lines handling CR, LF, and CRLF terminators.
// bufio.Scanner only handles LF and CRLF natively, so standalone CR gets a
// custom treatment here.
type lineScanner struct {
	reader *bufio.Reader
}

func newLineScanner(r io.Reader) *lineScanner {
	return &lineScanner{reader: bufio.NewReaderSize(r, 4096)}
}

// readLine reads one line, stripping the terminator.
func (s *lineScanner) readLine() (string, error) {
	var line strings.Builder
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF {
				if line.Len() > 0 {
					return line.String(), nil
				}
				return "", io.EOF
			}
			return "", err
		}

		if b == '\n' {
			return line.String(), nil
		}

		if b == '\r' {
			// CRLF: consume the LF. Bare CR: put the byte back.
			next, err := s.reader.ReadByte()
			if err == nil && next != '\n' {
				_ = s.reader.UnreadByte()
			}
			return line.String(), nil
		}

		line.WriteByte(b)
	}
}
