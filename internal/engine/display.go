package engine

import (
	"log/slog"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
)

// DisplaySink is where finished agent messages go. The console client
// animates a typewriter reveal and reports IsStreaming while it runs; the
// headless service sink never streams.
type DisplaySink interface {
	Display(msg chat.Message)
	IsStreaming() bool
}

// NoopSink accepts messages without rendering them. Used in service mode
// and in tests that only care about ordering.
type NoopSink struct {
	Shown []chat.Message
}

func (s *NoopSink) Display(msg chat.Message) { s.Shown = append(s.Shown, msg) }
func (s *NoopSink) IsStreaming() bool        { return false }

type displayEntry struct {
	msg chat.Message

	// onShown runs when the message actually reaches the sink. The
	// orchestrator uses it to append the message to conversation context
	// at display time rather than completion time.
	onShown func(chat.Message)
}

// MessageDisplayQueue holds finished messages until the sink is ready.
// While a reveal animation runs, later messages wait here in arrival
// order; nothing is reordered or dropped.
type MessageDisplayQueue struct {
	log     *slog.Logger
	sink    DisplaySink
	pending []displayEntry
}

func NewMessageDisplayQueue(sink DisplaySink, log *slog.Logger) *MessageDisplayQueue {
	return &MessageDisplayQueue{log: log, sink: sink}
}

func (q *MessageDisplayQueue) Enqueue(msg chat.Message, onShown func(chat.Message)) {
	q.pending = append(q.pending, displayEntry{msg: msg, onShown: onShown})
}

// Drain pushes queued messages to the sink until it starts streaming or
// the queue empties. Returns how many were shown. Call again whenever the
// sink signals a finished reveal.
func (q *MessageDisplayQueue) Drain() int {
	shown := 0
	for len(q.pending) > 0 && !q.sink.IsStreaming() {
		entry := q.pending[0]
		q.pending = q.pending[1:]
		q.sink.Display(entry.msg)
		if entry.onShown != nil {
			entry.onShown(entry.msg)
		}
		shown++
	}
	if len(q.pending) > 0 {
		q.log.Debug("Display queue waiting on stream", "pending", len(q.pending))
	}
	return shown
}

func (q *MessageDisplayQueue) Empty() bool { return len(q.pending) == 0 }

func (q *MessageDisplayQueue) Len() int { return len(q.pending) }
