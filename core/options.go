package orchestration

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSynthesisInterval = 2 * time.Second
	defaultFinalizeTimeout   = 30 * time.Second
	defaultFinalizeWorkers   = 8
	defaultDrainWorkers      = 4
)

type EngineOption func(*Engine)

// WithTracerProvider injects the tracing context the engine instruments
// with. Construct the provider once at process start; the engine never
// reaches for hidden process-wide state on its own.
func WithTracerProvider(provider trace.TracerProvider) EngineOption {
	return func(e *Engine) {
		if provider != nil {
			e.tracer = provider.Tracer(scopeName)
		}
	}
}

func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.logger = log
		}
	}
}

func WithRecognizer(recognizer Recognizer) EngineOption {
	return func(e *Engine) { e.recognizer = recognizer }
}

func WithIntentClassifier(classifier IntentClassifier) EngineOption {
	return func(e *Engine) { e.classifier = classifier }
}

func WithResponseGenerator(generator ResponseGenerator) EngineOption {
	return func(e *Engine) { e.generator = generator }
}

func WithSynthesizer(synthesizer Synthesizer) EngineOption {
	return func(e *Engine) { e.synthesizer = synthesizer }
}

func WithOrderPlacer(orders OrderPlacer) EngineOption {
	return func(e *Engine) { e.orders = orders }
}

// WithSynthesisInterval overrides the pacing period between synthesized
// sentences. Mainly useful in tests.
func WithSynthesisInterval(interval time.Duration) EngineOption {
	return func(e *Engine) {
		if interval > 0 {
			e.synthesisInterval = interval
		}
	}
}

// WithFinalizeTimeout bounds how long a finalization waits for the
// recognizer's completion signal before falling back to the best transcript
// observed so far.
func WithFinalizeTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.finalizeTimeout = timeout
		}
	}
}

// WithFinalizeWorkers bounds concurrent finalizations; submissions beyond
// the bound are rejected.
func WithFinalizeWorkers(workers int) EngineOption {
	return func(e *Engine) {
		if workers > 0 {
			e.finalizeWorkers = workers
		}
	}
}

// WithDrainWorkers bounds how many sessions synthesize speech at the same
// time; sessions beyond the bound wait for a slot.
func WithDrainWorkers(workers int) EngineOption {
	return func(e *Engine) {
		if workers > 0 {
			e.drainWorkers = workers
		}
	}
}
