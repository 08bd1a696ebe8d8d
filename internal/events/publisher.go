package events

import (
	"github.com/moonward/moonward/internal/queue"
)

// Appender is the subset of queue.Engine's API a Publisher needs; the
// engine itself satisfies it.
type Appender interface {
	AppendEvent(jobID string, level queue.Level, message string, kind queue.EventKind, stage string, stream queue.Stream, payload map[string]interface{}) (queue.Event, error)
	ListEvents(jobID string, afterID, beforeID int64, limit int, descending bool) ([]queue.Event, error)
}

// Publisher appends an event through the queue engine and immediately fans
// it out to any live Hub subscribers, so the durable log and the live push
// path can never disagree about ordering: the append always happens first,
// and the broadcast always carries the id the store assigned.
type Publisher struct {
	Engine Appender
	Hub    *Hub
}

// NewPublisher builds a Publisher over engine and hub.
func NewPublisher(engine Appender, hub *Hub) *Publisher {
	return &Publisher{Engine: engine, Hub: hub}
}

// Append appends and broadcasts one event.
func (p *Publisher) Append(jobID string, level queue.Level, message string, kind queue.EventKind, stage string, stream queue.Stream, payload map[string]interface{}) (queue.Event, error) {
	e, err := p.Engine.AppendEvent(jobID, level, message, kind, stage, stream, payload)
	if err != nil {
		return queue.Event{}, err
	}
	p.Hub.Publish(e)
	return e, nil
}

// Page returns one keyset page of jobID's event log.
func (p *Publisher) Page(jobID string, afterID, beforeID int64, limit int, descending bool) ([]queue.Event, error) {
	return p.Engine.ListEvents(jobID, afterID, beforeID, limit, descending)
}
