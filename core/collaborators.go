package orchestration

import "context"

// Intent is the coarse classification of an utterance's purpose.
type Intent string

const (
	IntentChitchat Intent = "chitchat"
	IntentOrder    Intent = "order"
)

// Recognizer is the streaming speech-recognition collaborator. End blocks
// until the recognizer signals completion or ctx expires, and always returns
// the best transcript known so far, even alongside an error.
type Recognizer interface {
	Start(ctx context.Context, sessionID string) error
	Append(sessionID string, audio []byte) error
	End(ctx context.Context, sessionID string) (string, error)
}

// measureRegistrar is an optional Recognizer extension that lets the engine
// hand over the asr-stage measure so recognition results count as chunks.
type measureRegistrar interface {
	RegisterMeasure(sessionID string, measure *Measure)
}

// recognitionAborter is an optional Recognizer extension for dropping a
// session's stream when the connection closes without finalizing, so no
// per-session state outlives the session.
type recognitionAborter interface {
	Abort(sessionID string)
}

// IntentClassifier decides between chitchat and order. A failed
// classification is reported through the error; callers map it to
// IntentChitchat because ordering has side effects.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// ResponseGenerator streams reply text. Deltas for one Generate call are
// delivered sequentially on the calling goroutine's schedule. Conversation
// context is session-scoped and persists across calls until cleared.
type ResponseGenerator interface {
	Generate(ctx context.Context, sessionID string, prompt string, onDelta func(delta string)) error
	ClearContext(sessionID string)
}

// Synthesizer converts one sentence to audio, delivering zero or more chunks
// before returning.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, onChunk func(chunk []byte)) error
}

// OrderPlacer places an order and returns its id, or OrderFailedID together
// with an error.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, item string, quantity int) (string, error)
}
