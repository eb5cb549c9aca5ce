package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	orchestration "github.com/Cirilla-zmh/asr-demo/core"
)

type recognitionStream struct {
	conn   *websocket.Conn
	connMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once

	mu         sync.Mutex
	transcript strings.Builder
	measure    *orchestration.Measure
}

// Start opens a Deepgram listen stream for the session. Restarting an
// already started session replaces its stream.
func (c *TranscriptionClient) Start(ctx context.Context, sessionID string) error {
	if c.apiKey == "" {
		return fmt.Errorf("deepgram api key not found")
	}

	listenUrl, err := url.Parse(c.baseURL + "/v1/listen")
	if err != nil {
		return fmt.Errorf("invalid deepgram base url: %w", err)
	}
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", "linear16")
	queryParams.Set("sample_rate", strconv.Itoa(c.sampleRate))
	queryParams.Set("channels", "1")
	queryParams.Set("model", c.model)
	queryParams.Set("language", c.language)
	queryParams.Set("smart_format", "true")
	listenUrl.RawQuery = queryParams.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		return fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	stream := &recognitionStream{
		conn: conn,
		done: make(chan struct{}),
	}

	c.mu.Lock()
	previous := c.streams[sessionID]
	c.streams[sessionID] = stream
	c.mu.Unlock()

	if previous != nil {
		previous.close()
	}

	go c.readAndProcessMessages(sessionID, stream)

	logger.Info("opened deepgram listen stream", "sessionID", sessionID)
	return nil
}

// Append forwards an audio frame to the session's stream.
func (c *TranscriptionClient) Append(sessionID string, audio []byte) error {
	stream, ok := c.stream(sessionID)
	if !ok {
		return fmt.Errorf("no recognition stream for session %s", sessionID)
	}

	stream.connMu.Lock()
	defer stream.connMu.Unlock()

	if err := stream.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

// End flushes the session's stream and returns the accumulated transcript.
// When the context expires before Deepgram confirms the flush, the best
// transcript so far is returned alongside the context error.
func (c *TranscriptionClient) End(ctx context.Context, sessionID string) (string, error) {
	stream, ok := c.removeStream(sessionID)
	if !ok {
		return "", fmt.Errorf("no recognition stream for session %s", sessionID)
	}
	defer stream.close()

	stream.connMu.Lock()
	err := stream.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)})
	stream.connMu.Unlock()
	if err != nil {
		return stream.finalTranscript(), fmt.Errorf("failed to flush deepgram stream: %w", err)
	}

	select {
	case <-stream.done:
		return stream.finalTranscript(), nil
	case <-ctx.Done():
		return stream.finalTranscript(), fmt.Errorf("timed out waiting for deepgram flush: %w", ctx.Err())
	}
}

// RegisterMeasure attaches a latency measure to the session's stream so
// final transcript segments are counted as recognition chunks.
func (c *TranscriptionClient) RegisterMeasure(sessionID string, measure *orchestration.Measure) {
	stream, ok := c.stream(sessionID)
	if !ok {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	stream.measure = measure
}

// Abort drops the session's stream without waiting for a transcript. Called
// when the session closes before the utterance was finalized.
func (c *TranscriptionClient) Abort(sessionID string) {
	if stream, ok := c.removeStream(sessionID); ok {
		stream.close()
	}
}

// readAndProcessMessages consumes the stream until the socket dies. The exit
// path evicts the map entry so an abandoned session leaves nothing behind.
func (c *TranscriptionClient) readAndProcessMessages(sessionID string, s *recognitionStream) {
	defer func() {
		s.close()
		c.evictStream(sessionID, s)
	}()

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn("failed to read deepgram websocket message",
					"sessionID", sessionID, "error", err)
			}
			return
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		s.processMessage(sessionID, msg)
	}
}

func (s *recognitionStream) processMessage(sessionID string, msg []byte) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", "sessionID", sessionID, "error", err)
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram message", "sessionID", sessionID, "error", err)
			return
		}
		if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
			return
		}

		transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
		if len(transcript) == 0 {
			return
		}

		s.mu.Lock()
		if s.transcript.Len() > 0 {
			s.transcript.WriteString(" ")
		}
		s.transcript.WriteString(transcript)
		if s.measure != nil {
			s.measure.RecordChunk()
		}
		s.mu.Unlock()

	case api.TypeMetadataResponse:
		// Deepgram confirms a CloseStream flush with a final metadata
		// message, after which no more transcripts arrive.
		s.signalDone()
	}
}

func (s *recognitionStream) finalTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.TrimSpace(s.transcript.String())
}

func (s *recognitionStream) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *recognitionStream) close() {
	s.signalDone()

	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.conn.Close()
}
