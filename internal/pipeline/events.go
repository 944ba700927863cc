// Package pipeline orchestrates the retrieval-augmented answer flow:
// query rephrasing, provider fan-out, content extraction, chunk
// reranking and streaming synthesis.
package pipeline

import (
	"github.com/sammcj/answer-engine/internal/search"
)

// EventType tags a stream event variant.
type EventType string

const (
	// EventData carries an incremental answer text delta.
	EventData EventType = "data"

	// EventSources carries the final source list, emitted exactly once.
	EventSources EventType = "sources"

	// EventEnd marks normal completion. Terminal.
	EventEnd EventType = "end"

	// EventError marks synthesis failure. Terminal.
	EventError EventType = "error"
)

// StreamEvent is one element of the ordered output stream consumed by a
// single external consumer. Exactly one terminal event (End xor Error)
// is emitted per request and nothing follows it.
type StreamEvent struct {
	Type EventType
	Data string

	// Sources and Suggestions are set on EventSources only: the cited
	// source list and the providers' related-query suggestions.
	Sources     []search.Result
	Suggestions []string

	Err string
}

// emitter is the single producer for one request's event channel. It
// enforces the terminal-event-exactly-once invariant structurally: the
// channel is closed immediately after the terminal event and every send
// after termination is a no-op.
type emitter struct {
	ch         chan StreamEvent
	terminated bool
	done       <-chan struct{}
}

func newEmitter(done <-chan struct{}) *emitter {
	return &emitter{
		ch:   make(chan StreamEvent, 16),
		done: done,
	}
}

// send delivers an event unless the stream is terminated or the
// consumer is gone. Returns false when delivery is no longer possible.
func (e *emitter) send(ev StreamEvent) bool {
	if e.terminated {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.done:
		return false
	}
}

// terminate delivers the terminal event and closes the channel. Safe to
// call more than once; only the first call has any effect. The terminal
// event is never dropped: a consumer that cancelled but still drains the
// channel sees it before the close. When the consumer cancelled with a
// full buffer, a buffered event is discarded to make room.
func (e *emitter) terminate(ev StreamEvent) {
	if e.terminated {
		return
	}
	e.terminated = true
	defer close(e.ch)
	for {
		// Normal delivery while the consumer is live.
		select {
		case e.ch <- ev:
			return
		case <-e.done:
		}
		// Cancelled consumer: enqueue without blocking so the terminal
		// event lands in the buffer even if nobody is reading.
		select {
		case e.ch <- ev:
			return
		default:
		}
		select {
		case <-e.ch:
		default:
		}
	}
}
