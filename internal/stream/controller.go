package stream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/researchflow/orchestrator/graph/emit"
	"github.com/researchflow/orchestrator/internal/workflow"
)

// Controller drives one graph engine run per request and writes its
// events to an http.ResponseWriter as Server-Sent Events, per §4.6.
// Backpressure is deliberately absent: Controller writes straight to the
// socket and relies on the request context's cancellation to notice a
// client that stopped reading, exactly as §4.6's "Backpressure"
// paragraph specifies.
//
// BuildEngine is called once per Run with a fresh ChannelEmitter so every
// request gets its own isolated engine/event pipe — graph.Engine carries
// no per-run state itself, but the emitter it was constructed with is
// fixed at construction time, so the engine must be (re)built per
// request rather than shared.
type Controller struct {
	BuildEngine func(emitter emit.Emitter) (workflow.Runner, error)
}

// Run executes one workflow to completion (or cancellation), streaming
// every translated event to w. It returns only after the engine's Run
// call returns and the response has been fully flushed.
func (c *Controller) Run(w http.ResponseWriter, r *http.Request, runID string, initial workflow.ResearchState) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	threadID, _ := initial.WorkflowMetadata["thread_id"].(string)
	emitter := NewChannelEmitter(threadID)

	engine, err := c.BuildEngine(emitter)
	if err != nil {
		return fmt.Errorf("stream: build engine: %w", err)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	done := make(chan struct{})
	var finalState workflow.ResearchState
	var runErr error
	go func() {
		defer close(done)
		defer emitter.Close()
		finalState, runErr = engine.Run(ctx, runID, initial)
	}()

	for {
		select {
		case ev, ok := <-emitter.Events():
			if !ok {
				return c.writeFinal(w, flusher, finalState, runErr, threadID)
			}
			frame, err := Frame(ev)
			if err != nil {
				continue
			}
			if _, err := w.Write(frame); err != nil {
				cancel()
				<-done
				return err
			}
			flusher.Flush()
		case <-r.Context().Done():
			cancel()
			<-done
			cancelled, _ := Frame(Event{Type: EventCancelled, ThreadID: threadID})
			_, _ = w.Write(cancelled)
			flusher.Flush()
			return r.Context().Err()
		}
	}
}

func (c *Controller) writeFinal(w http.ResponseWriter, flusher http.Flusher, state workflow.ResearchState, runErr error, threadID string) error {
	if runErr != nil {
		frame, _ := Frame(Event{
			Type:     EventError,
			ThreadID: threadID,
			Data:     map[string]string{"message": runErr.Error()},
		})
		_, _ = w.Write(frame)
		flusher.Flush()
		return runErr
	}

	var summary string
	if state.Objective != nil {
		summary = state.Objective.ResultSummary
	}
	frame, err := Frame(Event{
		Type:     EventFinalResult,
		ThreadID: threadID,
		Content:  summary,
		Progress: 100,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	flusher.Flush()
	return err
}

// NewChannelEmitterFor is a convenience constructor used by handler code
// that needs a standalone emitter (e.g. to pass into graph.New before a
// Controller exists yet).
func NewChannelEmitterFor(threadID string) *ChannelEmitter {
	return NewChannelEmitter(threadID)
}
