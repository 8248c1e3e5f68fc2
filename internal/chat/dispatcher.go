package chat

import (
	"encoding/json"

	"github.com/ashureev/careerflow/internal/counsel"
	"github.com/ashureev/careerflow/internal/domain"
)

// Dispatcher applies classifier events to the bot message of one turn.
type Dispatcher struct {
	handle     *MessageHandle
	classified bool
}

// NewDispatcher creates a dispatcher writing through h.
func NewDispatcher(h *MessageHandle) *Dispatcher {
	return &Dispatcher{handle: h}
}

// Apply writes ev to the message. It returns the updated message, or false when
// the write was rejected because the turn is stale or the message is already structured.
func (d *Dispatcher) Apply(ev counsel.Event) (domain.Message, bool) {
	switch ev.Kind {
	case counsel.EventStructured:
		rec, _ := domain.DecodeRecommendation(ev.Payload)
		msg, ok := d.handle.Update(func(m *domain.Message) {
			m.Kind = domain.KindStructured
			m.StructuredPayload = append(json.RawMessage(nil), ev.Payload...)
			m.Recommendation = &rec
		})
		if ok {
			d.classified = true
		}
		return msg, ok

	default:
		if d.classified {
			return domain.Message{}, false
		}
		return d.handle.Update(func(m *domain.Message) {
			if m.IsStructured() {
				return
			}
			m.Kind = domain.KindPlain
			m.Text = ev.Text
		})
	}
}

// Fail replaces the message text with the fallback apology when the stream
// ended in error before it was classified. Cancellation never shows an error.
func (d *Dispatcher) Fail(err error) (domain.Message, bool) {
	if err == nil || counsel.IsCancelled(err) || d.classified {
		return domain.Message{}, false
	}
	return d.handle.Update(func(m *domain.Message) {
		if m.IsStructured() {
			return
		}
		m.Kind = domain.KindPlain
		m.Text = domain.FallbackText
	})
}

// Classified reports whether a structured answer was applied.
func (d *Dispatcher) Classified() bool {
	return d.classified
}
