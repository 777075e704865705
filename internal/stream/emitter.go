package stream

import (
	"context"
	"strings"

	"github.com/researchflow/orchestrator/graph/emit"
)

// ChannelEmitter adapts graph/emit.Emitter onto a channel of stream.Event,
// the bridge the controller reads from while a graph.Engine.Run call is
// in flight on another goroutine. It translates the engine's generic
// node_start/node_end/error messages into the taxonomy's typed events
// and folds in a running progress percentage.
type ChannelEmitter struct {
	threadID string
	out      chan Event
	visited  []string
}

// NewChannelEmitter constructs an emitter that writes to a channel
// buffered to 64 events. The engine never blocks on a slow reader: once
// the buffer is full, further events are dropped (see send).
func NewChannelEmitter(threadID string) *ChannelEmitter {
	return &ChannelEmitter{threadID: threadID, out: make(chan Event, 64)}
}

// Events returns the channel the controller drains. Closed once the
// engine's Run call returns (see Controller.Run).
func (e *ChannelEmitter) Events() <-chan Event {
	return e.out
}

// Close releases the underlying channel. Safe to call once the producing
// goroutine (the engine run) has finished.
func (e *ChannelEmitter) Close() {
	close(e.out)
}

func (e *ChannelEmitter) Emit(ev emit.Event) {
	e.dispatch(ev)
}

func (e *ChannelEmitter) EmitBatch(_ context.Context, evs []emit.Event) error {
	for _, ev := range evs {
		e.dispatch(ev)
	}
	return nil
}

// Flush is a no-op: dispatch hands every event to the channel immediately.
func (e *ChannelEmitter) Flush(_ context.Context) error {
	return nil
}

func (e *ChannelEmitter) dispatch(ev emit.Event) {
	switch {
	case strings.HasSuffix(ev.Msg, "_start"):
		e.visited = append(e.visited, ev.NodeID)
		e.send(Event{Type: EventAgentStart, ThreadID: e.threadID, NodeID: ev.NodeID})
		e.send(Event{Type: EventProgressUpdate, ThreadID: e.threadID, NodeID: ev.NodeID, Progress: Progress(e.visited)})
	case strings.HasSuffix(ev.Msg, "_end") || strings.HasSuffix(ev.Msg, "_complete"):
		e.send(Event{Type: EventAgentOutput, ThreadID: e.threadID, NodeID: ev.NodeID, Data: ev.Meta})
	case ev.Msg == "error":
		e.send(Event{Type: EventError, ThreadID: e.threadID, NodeID: ev.NodeID, Data: ev.Meta})
	default:
		e.send(Event{Type: EventStateUpdate, ThreadID: e.threadID, NodeID: ev.NodeID, Content: ev.Msg, Data: ev.Meta})
	}
}

// send drops the event rather than blocking forever when the reader has
// stopped draining (e.g. the HTTP client disconnected mid-run); the
// controller's own cancellation path is what actually stops the engine.
func (e *ChannelEmitter) send(ev Event) {
	select {
	case e.out <- ev:
	default:
	}
}
