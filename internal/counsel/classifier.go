package counsel

import (
	"encoding/json"
	"strings"
)

// EventKind tells the dispatcher how to treat a classifier event.
type EventKind int

const (
	// EventPlain carries the whole buffer so far; it replaces the displayed text.
	EventPlain EventKind = iota
	// EventStructured carries the buffer once it parsed as one JSON value.
	EventStructured
)

func (k EventKind) String() string {
	if k == EventStructured {
		return "structured"
	}
	return "plain"
}

// Event is one classifier decision.
type Event struct {
	Kind    EventKind
	Text    string
	Payload json.RawMessage
}

// Accumulator classifies a streamed answer as prose or JSON, one chunk at a time.
// It belongs to a single request and is not safe for concurrent use.
type Accumulator struct {
	buf     strings.Builder
	latched bool
}

// Feed appends chunk and reports the resulting event. It returns false when
// there is nothing to emit: the chunk was empty, or the buffer already latched
// as JSON. Chunks after the latch are kept in the buffer but never classified.
func (a *Accumulator) Feed(chunk string) (Event, bool) {
	if chunk == "" {
		return Event{}, false
	}
	a.buf.WriteString(chunk)
	if a.latched {
		return Event{}, false
	}

	text := a.buf.String()
	if payload, ok := parseWhole(text); ok {
		a.latched = true
		return Event{Kind: EventStructured, Text: text, Payload: payload}, true
	}
	return Event{Kind: EventPlain, Text: text}, true
}

// Latched reports whether the buffer has been classified as JSON.
func (a *Accumulator) Latched() bool {
	return a.latched
}

// Buffer returns everything accepted so far.
func (a *Accumulator) Buffer() string {
	return a.buf.String()
}

// parseWhole accepts text only if it is exactly one JSON value with nothing but
// JSON whitespace around it.
func parseWhole(text string) (json.RawMessage, bool) {
	if !json.Valid([]byte(text)) {
		return nil, false
	}
	return json.RawMessage(strings.Trim(text, " \t\r\n")), true
}
