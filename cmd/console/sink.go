package main

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/NewbiksCube/ChatBotRPG-sub001/pkg/chat"
)

// agentMessageMsg carries one finished agent message into the UI for its
// typewriter reveal.
type agentMessageMsg struct {
	message chat.Message
}

// TypewriterSink bridges the orchestrator's display queue to the UI.
// Display is called on the orchestrator goroutine; streaming stays true
// until the UI finishes revealing the message, which holds any later
// messages in the orchestrator's queue.
type TypewriterSink struct {
	mu        sync.Mutex
	streaming bool
	send      func(tea.Msg)
}

func NewTypewriterSink() *TypewriterSink {
	return &TypewriterSink{}
}

// Attach wires the sink to a running program. Must be called before the
// first round is submitted.
func (s *TypewriterSink) Attach(send func(tea.Msg)) {
	s.mu.Lock()
	s.send = send
	s.mu.Unlock()
}

func (s *TypewriterSink) Display(msg chat.Message) {
	s.mu.Lock()
	s.streaming = true
	send := s.send
	s.mu.Unlock()
	if send != nil {
		send(agentMessageMsg{message: msg})
	}
}

func (s *TypewriterSink) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// RevealDone is called by the UI when the typewriter animation finishes.
func (s *TypewriterSink) RevealDone() {
	s.mu.Lock()
	s.streaming = false
	s.mu.Unlock()
}
