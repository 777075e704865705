// Package stream turns one graph execution into a Server-Sent-Event
// response, translating graph/emit.Event values into the event taxonomy
// the streaming controller exposes over HTTP.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType is one of the sixteen SSE event names the controller emits.
type EventType string

const (
	EventAgentStart       EventType = "agent_start"
	EventAgentOutput      EventType = "agent_output"
	EventMessageChunk     EventType = "message_chunk"
	EventToolCalls        EventType = "tool_calls"
	EventToolCallChunks   EventType = "tool_call_chunks"
	EventToolCallResult   EventType = "tool_call_result"
	EventInterrupt        EventType = "interrupt"
	EventObjectiveCreated EventType = "objective_created"
	EventTaskCreated      EventType = "task_created"
	EventStepCreated      EventType = "step_created"
	EventStepCompleted    EventType = "step_completed"
	EventProgressUpdate   EventType = "progress_update"
	EventStateUpdate      EventType = "state_update"
	EventError            EventType = "error"
	EventFinalResult      EventType = "final_result"
	EventCancelled        EventType = "cancelled"
)

// Event is one SSE frame. Content is omitted from the wire payload when
// empty, matching §4.6's bandwidth note.
type Event struct {
	Type      EventType   `json:"type"`
	ThreadID  string      `json:"thread_id,omitempty"`
	NodeID    string      `json:"node_id,omitempty"`
	Content   string      `json:"content,omitempty"`
	Progress  int         `json:"progress,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

// Frame renders an Event as `event: <type>\ndata: <json>\n\n`. data is
// guaranteed single-line: json.Marshal never emits raw newlines for
// string fields (it escapes them as \n), so no extra escaping pass is
// needed here.
func Frame(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("stream: marshal event: %w", err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\n", e.Type)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
