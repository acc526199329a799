package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xpio/chatcore/tools"
)

// publisher enforces the stream contract on a turn's event channel: the
// session_id event goes out first, events keep their emit order, and exactly
// one terminal event (done or error) closes the stream. Anything published
// after the terminal is dropped.
type publisher struct {
	ch     chan Event
	logger *zap.Logger

	mu       sync.Mutex
	opened   bool
	finished bool
	terminal EventType
}

func newPublisher(buffer int, logger *zap.Logger) *publisher {
	return &publisher{
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

func (p *publisher) events() <-chan Event { return p.ch }

func (p *publisher) send(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		p.logger.Warn("event dropped after terminal", zap.String("type", string(ev.Type)))
		return
	}
	if !p.opened && ev.Type != EventSessionID {
		p.logger.Error("stream opened without session_id", zap.String("type", string(ev.Type)))
	}
	if ev.Type == EventSessionID {
		p.opened = true
	}
	if ev.Type == EventDone || ev.Type == EventError {
		p.finished = true
		p.terminal = ev.Type
	}
	p.ch <- ev
	if p.finished {
		close(p.ch)
	}
}

func (p *publisher) Open(sessionID string) {
	p.send(Event{Type: EventSessionID, SessionID: sessionID})
}

func (p *publisher) Text(text string) {
	if text == "" {
		return
	}
	p.send(Event{Type: EventText, Text: text})
}

func (p *publisher) SideEffect(se *tools.SideEffect) {
	if se == nil {
		return
	}
	p.send(Event{Type: EventSideEffect, SideEffect: se})
}

func (p *publisher) Done(leadCaptured bool) {
	p.send(Event{Type: EventDone, Done: &DonePayload{LeadCaptured: leadCaptured}})
}

func (p *publisher) Error(err error) {
	p.send(Event{Type: EventError, Error: errorPayload(err)})
}

// terminalType reports how the stream ended, or "" while it is open.
func (p *publisher) terminalType() EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Finish guarantees a terminal event even on unexpected exits.
func (p *publisher) Finish(leadCaptured bool) {
	p.mu.Lock()
	finished := p.finished
	p.mu.Unlock()
	if !finished {
		p.Done(leadCaptured)
	}
}
