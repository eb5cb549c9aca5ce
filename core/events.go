package orchestration

// Event is one outbound JSON text frame. The zero fields of the variants not
// in use are dropped from the wire encoding.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Text      string `json:"text,omitempty"`
	Value     string `json:"value,omitempty"`
	Message   string `json:"message,omitempty"`
}

const (
	EventTypeConnected  = "connected"
	EventTypeTranscript = "transcript"
	EventTypeIntent     = "intent"
	EventTypeTextChunk  = "text_chunk"
	EventTypeComplete   = "complete"
	EventTypeError      = "error"
)

func newConnectedEvent(sessionID string) Event {
	return Event{Type: EventTypeConnected, SessionID: sessionID}
}

func newTranscriptEvent(text string) Event {
	return Event{Type: EventTypeTranscript, Text: text}
}

func newIntentEvent(intent Intent) Event {
	return Event{Type: EventTypeIntent, Value: string(intent)}
}

func newTextChunkEvent(delta string) Event {
	return Event{Type: EventTypeTextChunk, Text: delta}
}

func newCompleteEvent() Event {
	return Event{Type: EventTypeComplete}
}

func newErrorEvent(message string) Event {
	return Event{Type: EventTypeError, Message: message}
}

// Conn is the transport surface the engine writes to. Implementations must
// tolerate concurrent writers and report Open()=false once the peer is gone
// so late pipeline callbacks degrade to no-ops.
type Conn interface {
	WriteEvent(event Event) error
	WriteAudio(chunk []byte) error
	Open() bool
}
