// Package deepgram implements the engine's Synthesizer contract on top of
// Deepgram's speak websocket. Each sentence is synthesized on its own
// short-lived connection so playback pacing stays with the caller.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
)

type TextToSpeechClient struct {
	apiKey   string
	voice    string
	encoding string
}

type ClientOption func(*TextToSpeechClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TextToSpeechClient) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithVoice(voice string) ClientOption {
	return func(c *TextToSpeechClient) {
		if voice != "" {
			c.voice = voice
		}
	}
}

func WithEncoding(encoding string) ClientOption {
	return func(c *TextToSpeechClient) {
		if encoding != "" {
			c.encoding = encoding
		}
	}
}

func NewTextToSpeechClient(opts ...ClientOption) *TextToSpeechClient {
	client := &TextToSpeechClient{
		voice:    "aura-2-thalia-en",
		encoding: "mp3",
	}

	if apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
		client.apiKey = apiKey
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

// Synthesize converts text to audio, invoking onChunk for every audio
// frame as it arrives. It returns once Deepgram confirms the flush, so
// all audio for the text has been delivered.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string, onChunk func([]byte)) error {
	if c.apiKey == "" {
		return fmt.Errorf("deepgram api key not found")
	}

	urlValues := url.Values{}
	urlValues.Set("encoding", c.encoding)
	urlValues.Set("model", c.voice)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx,
		(&url.URL{
			Scheme: "wss",
			Host:   "api.deepgram.com", Path: "/v1/speak",
			RawQuery: urlValues.Encode(),
		}).String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		return fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(speakMessage{Type: "Speak", Text: text}); err != nil {
		return fmt.Errorf("failed to send text to deepgram through websocket: %w", err)
	}
	if err := conn.WriteJSON(flushMsg); err != nil {
		return fmt.Errorf("failed to flush deepgram buffer through websocket: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("failed to read deepgram websocket message: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			if len(msg) > 0 {
				onChunk(msg)
			}
		case websocket.TextMessage:
			var parsedMsg websocketMessage
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Warn("failed to unmarshal deepgram message", "error", err)
				continue
			}

			if parsedMsg.Type == "Flushed" {
				if err := conn.WriteJSON(closeMsg); err != nil {
					logger.Warn("failed to send close message to deepgram websocket", "error", err)
				}
				return nil
			}
		}
	}
}
