package orchestration

import "errors"

// Stage errors. Each one is recovered at the boundary of the stage that
// produced it (see the recovery policies in pipeline.go and finalize.go);
// none of them tears down the connection.
var (
	// ErrSessionExists is returned when opening a session id that is
	// already registered.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned for operations on an id that was never
	// opened or has already been closed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyTranscript marks a finalization that produced no usable
	// speech; the pipeline halts before intent classification.
	ErrEmptyTranscript = errors.New("transcript is empty")

	// ErrFinalizationInFlight is the single-flight guard's no-op signal for
	// redundant end-of-audio triggers.
	ErrFinalizationInFlight = errors.New("finalization already in flight")

	// ErrWorkerPoolSaturated is returned when the finalization pool rejects
	// a submission under load.
	ErrWorkerPoolSaturated = errors.New("finalization worker pool saturated")
)

// Sentinel order ids surfaced in the confirmation prompt instead of a real
// one. OrderFailedID means the tool answered without an order id;
// OrderErrorID means the invocation itself failed. Neither is fatal to the
// session.
const (
	OrderFailedID = "ORDER-FAILED"
	OrderErrorID  = "ORDER-ERROR"
)
