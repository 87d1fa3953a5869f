package assistant

// EventType tags one entry of a streamed turn
type EventType string

const (
	// EventToolStart announces a tool invocation the model requested
	EventToolStart EventType = "tool_start"

	// EventToolEnd reports the invocation outcome
	EventToolEnd EventType = "tool_end"

	// EventToken carries one text delta of the assistant's reply
	EventToken EventType = "token"

	// EventFinal carries the assembled response and closes the stream
	EventFinal EventType = "final"
)

// Event is one server-sent entry of a streamed turn
type Event struct {
	Type     EventType              `json:"type"`
	Tool     string                 `json:"tool,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Delta    string                 `json:"delta,omitempty"`
	Response *Response              `json:"response,omitempty"`
}

// EventSink receives turn events in emission order. Sinks are called from
// the turn's goroutine and must not block indefinitely.
type EventSink func(Event)
