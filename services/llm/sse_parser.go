// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bytes"
	"strings"
)

// =============================================================================
// Server-Sent Events framing
// =============================================================================

// Event is one dispatched Server-Sent Event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// EventParser incrementally splits an SSE byte stream into events.
//
// # Description
//
// Feed accepts arbitrary fragments of the stream: a read may end in the
// middle of a field, in the middle of a CRLF pair, or carry several events.
// Partial lines are buffered until their terminator arrives. Lines end in
// LF, CRLF or a lone CR. Multiple data fields in one event are joined with
// "\n". Comment lines (leading ":") and unknown fields are ignored.
//
// # Limitations
//
// The retry field is ignored. An event that is not terminated by a blank
// line before the stream ends is never dispatched.
//
// # Assumptions
//
// One parser per stream. Not safe for concurrent use.
type EventParser struct {
	line     []byte
	data     strings.Builder
	hasData  bool
	event    string
	id       string
	skipLF   bool
	sawFirst bool
}

// NewEventParser returns a parser positioned at the start of a stream.
func NewEventParser() *EventParser {
	return &EventParser{}
}

// Feed consumes chunk and returns every event completed by it, in order.
func (p *EventParser) Feed(chunk []byte) []Event {
	var events []Event
	for len(chunk) > 0 {
		if p.skipLF {
			p.skipLF = false
			if chunk[0] == '\n' {
				chunk = chunk[1:]
				continue
			}
		}

		i := bytes.IndexAny(chunk, "\r\n")
		if i < 0 {
			p.line = append(p.line, chunk...)
			break
		}

		p.line = append(p.line, chunk[:i]...)
		if chunk[i] == '\r' {
			p.skipLF = true
		}
		chunk = chunk[i+1:]

		if ev, ok := p.processLine(p.line); ok {
			events = append(events, ev)
		}
		p.line = p.line[:0]
	}
	return events
}

// Reset discards any buffered partial state.
func (p *EventParser) Reset() {
	*p = EventParser{}
}

func (p *EventParser) processLine(line []byte) (Event, bool) {
	if !p.sawFirst {
		p.sawFirst = true
		line = bytes.TrimPrefix(line, []byte("\ufeff"))
	}

	if len(line) == 0 {
		return p.dispatch()
	}
	if line[0] == ':' {
		return Event{}, false
	}

	field, value := line, []byte(nil)
	if i := bytes.IndexByte(line, ':'); i >= 0 {
		field = line[:i]
		value = line[i+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
	}

	switch string(field) {
	case "data":
		if p.hasData {
			p.data.WriteByte('\n')
		}
		p.data.Write(value)
		p.hasData = true
	case "event":
		p.event = string(value)
	case "id":
		if bytes.IndexByte(value, 0) < 0 {
			p.id = string(value)
		}
	}
	return Event{}, false
}

func (p *EventParser) dispatch() (Event, bool) {
	if !p.hasData {
		p.event = ""
		return Event{}, false
	}
	ev := Event{ID: p.id, Event: p.event, Data: p.data.String()}
	p.data.Reset()
	p.hasData = false
	p.event = ""
	return ev, true
}
