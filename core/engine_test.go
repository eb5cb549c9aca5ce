package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type stubConn struct {
	mu     sync.Mutex
	closed bool
	events []Event
	audio  [][]byte
}

func (c *stubConn) WriteEvent(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *stubConn) WriteAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *stubConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *stubConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *stubConn) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.events))
	for _, event := range c.events {
		types = append(types, event.Type)
	}
	return types
}

func (c *stubConn) eventsOfType(eventType string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []Event
	for _, event := range c.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func (c *stubConn) audioFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

type stubRecognizer struct {
	transcript string
	endErr     error
	endDelay   time.Duration

	appendFail atomic.Bool

	starts  atomic.Int32
	appends atomic.Int32
	ends    atomic.Int32

	mu      sync.Mutex
	aborted []string
}

func (r *stubRecognizer) Start(context.Context, string) error {
	r.starts.Add(1)
	return nil
}

func (r *stubRecognizer) Append(string, []byte) error {
	if r.appendFail.Load() {
		return errors.New("stream closed")
	}
	r.appends.Add(1)
	return nil
}

func (r *stubRecognizer) Abort(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, sessionID)
}

func (r *stubRecognizer) abortedSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.aborted...)
}

func (r *stubRecognizer) End(ctx context.Context, _ string) (string, error) {
	r.ends.Add(1)
	if r.endDelay > 0 {
		select {
		case <-time.After(r.endDelay):
		case <-ctx.Done():
			return r.transcript, ctx.Err()
		}
	}
	return r.transcript, r.endErr
}

type stubClassifier struct {
	intent Intent
	err    error
}

func (c *stubClassifier) Classify(context.Context, string) (Intent, error) {
	return c.intent, c.err
}

type stubGenerator struct {
	deltas []string
	err    error

	mu      sync.Mutex
	prompts []string
	cleared []string
}

func (g *stubGenerator) Generate(_ context.Context, _ string, prompt string, onDelta func(string)) error {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	for _, delta := range g.deltas {
		onDelta(delta)
	}
	return g.err
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func (g *stubGenerator) ClearContext(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleared = append(g.cleared, sessionID)
}

type stubSynthesizer struct {
	chunksPerSentence int
	delay             time.Duration

	mu        sync.Mutex
	sentences []string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, text string, onChunk func([]byte)) error {
	s.mu.Lock()
	s.sentences = append(s.sentences, text)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	for i := 0; i < s.chunksPerSentence; i++ {
		onChunk([]byte{0x01, 0x02, 0x03})
	}
	return nil
}

func (s *stubSynthesizer) synthesized() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.sentences...)
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestEndToEndChitchatScenario(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "one apple"}
	generator := &stubGenerator{deltas: []string{"Sure", ", one apple coming up."}}
	synthesizer := &stubSynthesizer{chunksPerSentence: 1}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentChitchat}),
		WithResponseGenerator(generator),
		WithSynthesizer(synthesizer),
		WithSynthesisInterval(10*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	for i := 0; i < 3; i++ {
		engine.HandleAudioFrame("sess-1", []byte{0x10, 0x20})
	}
	if got := recognizer.appends.Load(); got != 3 {
		t.Fatalf("expected 3 forwarded frames, got %d", got)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeComplete)) == 1 && conn.audioFrames() == 1
	})

	want := []string{
		EventTypeConnected,
		EventTypeTranscript,
		EventTypeIntent,
		EventTypeTextChunk,
		EventTypeTextChunk,
		EventTypeComplete,
	}
	got := conn.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("expected event sequence %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected event %d to be %s, got %s (full sequence %v)", i, want[i], got[i], got)
		}
	}

	if transcript := conn.eventsOfType(EventTypeTranscript)[0]; transcript.Text != "one apple" {
		t.Fatalf("expected transcript \"one apple\", got %q", transcript.Text)
	}
	if intent := conn.eventsOfType(EventTypeIntent)[0]; intent.Value != string(IntentChitchat) {
		t.Fatalf("expected intent chitchat, got %q", intent.Value)
	}

	sentences := synthesizer.synthesized()
	if len(sentences) != 1 || sentences[0] != "Sure, one apple coming up." {
		t.Fatalf("expected one joined sentence to be synthesized, got %v", sentences)
	}
}

func TestAppendFailureTriggersStreamRestart(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "hello"}
	conn := &stubConn{}

	engine := NewEngine(WithRecognizer(recognizer))
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleAudioFrame("sess-1", []byte{0x10})
	if got := recognizer.appends.Load(); got != 1 {
		t.Fatalf("expected the first frame to be forwarded, got %d", got)
	}

	// Kill the stream mid-utterance; the failed frame marks it dead.
	recognizer.appendFail.Store(true)
	engine.HandleAudioFrame("sess-1", []byte{0x20})

	recognizer.appendFail.Store(false)
	engine.HandleAudioFrame("sess-1", []byte{0x30})

	if got := recognizer.starts.Load(); got != 2 {
		t.Fatalf("expected the stream to be restarted after an append failure, got %d starts", got)
	}
	if got := recognizer.appends.Load(); got != 2 {
		t.Fatalf("expected frames after the restart to be forwarded again, got %d", got)
	}
}

func TestFinalizationIsSingleFlight(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "hello", endDelay: 50 * time.Millisecond}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithSynthesisInterval(10*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	var wg sync.WaitGroup
	var noops atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := engine.FinishUtterance("sess-1"); errors.Is(err, ErrFinalizationInFlight) {
				noops.Add(1)
			}
		}()
	}
	wg.Wait()

	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeTranscript)) > 0
	})

	if got := recognizer.ends.Load(); got != 1 {
		t.Fatalf("expected exactly one finalization to advance past the guard, got %d", got)
	}
	if got := noops.Load(); got != 4 {
		t.Fatalf("expected 4 no-op triggers, got %d", got)
	}
}

func TestEmptyTranscriptEmitsSingleErrorAndNoIntent(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "   "}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentOrder}),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeError)) > 0
	})

	if got := len(conn.eventsOfType(EventTypeError)); got != 1 {
		t.Fatalf("expected exactly one error event, got %d", got)
	}
	if got := len(conn.eventsOfType(EventTypeIntent)); got != 0 {
		t.Fatalf("expected no intent event for an empty transcript, got %d", got)
	}
}

func TestIntentClassificationFailsOpenToChitchat(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "two bananas please"}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentOrder, err: errors.New("classifier down")}),
		WithResponseGenerator(&stubGenerator{deltas: []string{"Okay."}}),
		WithSynthesizer(&stubSynthesizer{chunksPerSentence: 1}),
		WithSynthesisInterval(10*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeIntent)) > 0
	})

	if intent := conn.eventsOfType(EventTypeIntent)[0]; intent.Value != string(IntentChitchat) {
		t.Fatalf("expected a failed classification to yield chitchat, got %q", intent.Value)
	}
}

type stubOrderPlacer struct {
	orderID string
	err     error

	mu       sync.Mutex
	item     string
	quantity int
}

func (p *stubOrderPlacer) PlaceOrder(_ context.Context, item string, quantity int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.item = item
	p.quantity = quantity
	return p.orderID, p.err
}

func TestOrderIntentPlacesOrderAndPromptsConfirmation(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "I want two apples"}
	generator := &stubGenerator{deltas: []string{"Done."}}
	placer := &stubOrderPlacer{orderID: "ORD-7"}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentOrder}),
		WithResponseGenerator(generator),
		WithSynthesizer(&stubSynthesizer{chunksPerSentence: 1}),
		WithOrderPlacer(placer),
		WithSynthesisInterval(10*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeComplete)) == 1
	})

	if intent := conn.eventsOfType(EventTypeIntent)[0]; intent.Value != string(IntentOrder) {
		t.Fatalf("expected intent order, got %q", intent.Value)
	}

	placer.mu.Lock()
	item, quantity := placer.item, placer.quantity
	placer.mu.Unlock()
	if item != "apple" || quantity != 2 {
		t.Fatalf("expected order for 2 x apple, got %d x %s", quantity, item)
	}

	if prompt := generator.lastPrompt(); !strings.Contains(prompt, "ORD-7") {
		t.Fatalf("expected the confirmation prompt to carry the order id, got %q", prompt)
	}
}

func TestFailedOrderPlacementFallsBackToSentinelID(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "one banana please"}
	generator := &stubGenerator{deltas: []string{"Sorry."}}
	placer := &stubOrderPlacer{err: errors.New("tool crashed")}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentOrder}),
		WithResponseGenerator(generator),
		WithSynthesizer(&stubSynthesizer{chunksPerSentence: 1}),
		WithOrderPlacer(placer),
		WithSynthesisInterval(10*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeComplete)) == 1
	})

	if prompt := generator.lastPrompt(); !strings.Contains(prompt, OrderErrorID) {
		t.Fatalf("expected the sentinel order id in the prompt, got %q", prompt)
	}
}

func TestSentencesAreSynthesizedInFIFOOrder(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "tell me things"}
	generator := &stubGenerator{deltas: []string{"A.", "B.", "C."}}
	synthesizer := &stubSynthesizer{chunksPerSentence: 1, delay: 15 * time.Millisecond}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentChitchat}),
		WithResponseGenerator(generator),
		WithSynthesizer(synthesizer),
		WithSynthesisInterval(5*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(synthesizer.synthesized()) == 3
	})

	sentences := synthesizer.synthesized()
	if sentences[0] != "A." || sentences[1] != "B." || sentences[2] != "C." {
		t.Fatalf("expected synthesis order [A. B. C.], got %v", sentences)
	}
}

func TestCloseStopsSynthesisAndClearsQueue(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "talk a lot"}
	generator := &stubGenerator{deltas: []string{"One. Two. Three. Four. Five."}}
	synthesizer := &stubSynthesizer{chunksPerSentence: 1, delay: 30 * time.Millisecond}
	conn := &stubConn{}

	engine := NewEngine(
		WithRecognizer(recognizer),
		WithIntentClassifier(&stubClassifier{intent: IntentChitchat}),
		WithResponseGenerator(generator),
		WithSynthesizer(synthesizer),
		WithSynthesisInterval(20*time.Millisecond),
	)
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")

	waitFor(t, 2*time.Second, func() bool {
		return len(synthesizer.synthesized()) >= 1
	})

	conn.close()
	engine.CloseSession("sess-1", 1000, "client gone")

	// Let a tick that raced the close finish before sampling.
	time.Sleep(50 * time.Millisecond)
	settled := len(synthesizer.synthesized())
	time.Sleep(150 * time.Millisecond)
	if got := len(synthesizer.synthesized()); got != settled {
		t.Fatalf("expected no synthesis after close, had %d then %d", settled, got)
	}

	// Frames after close-cleanup must be no-ops.
	forwarded := recognizer.appends.Load()
	engine.HandleAudioFrame("sess-1", []byte{0x01})
	if got := recognizer.appends.Load(); got != forwarded {
		t.Fatalf("expected no frame forwarding after close, had %d then %d", forwarded, got)
	}

	generator.mu.Lock()
	cleared := append([]string{}, generator.cleared...)
	generator.mu.Unlock()
	if len(cleared) != 1 || cleared[0] != "sess-1" {
		t.Fatalf("expected the generator context to be cleared on close, got %v", cleared)
	}

	if aborted := recognizer.abortedSessions(); len(aborted) != 1 || aborted[0] != "sess-1" {
		t.Fatalf("expected the recognition stream to be aborted on close, got %v", aborted)
	}
}

func TestRedundantEndAfterCompletionStartsNewFinalization(t *testing.T) {
	recognizer := &stubRecognizer{transcript: "hello"}
	conn := &stubConn{}

	engine := NewEngine(WithRecognizer(recognizer))
	defer engine.Close()

	if err := engine.OpenSession(context.Background(), "sess-1", conn); err != nil {
		t.Fatalf("expected open to succeed, got %v", err)
	}

	engine.HandleControl("sess-1", "END")
	waitFor(t, 2*time.Second, func() bool {
		return len(conn.eventsOfType(EventTypeComplete)) == 1
	})

	// The guard resets once the worker finishes, so the next utterance can
	// finalize again.
	engine.HandleControl("sess-1", "END")
	waitFor(t, 2*time.Second, func() bool {
		return recognizer.ends.Load() == 2
	})
}
