// Package deepgram implements the engine's Recognizer contract on top of
// Deepgram's streaming listen websocket, one stream per session.
package deepgram

import (
	"os"
	"sync"
)

type TranscriptionClient struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	sampleRate int

	mu      sync.Mutex
	streams map[string]*recognitionStream
}

type ClientOption func(*TranscriptionClient)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *TranscriptionClient) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *TranscriptionClient) {
		if model != "" {
			c.model = model
		}
	}
}

func WithLanguage(language string) ClientOption {
	return func(c *TranscriptionClient) {
		if language != "" {
			c.language = language
		}
	}
}

func WithSampleRate(sampleRate int) ClientOption {
	return func(c *TranscriptionClient) {
		if sampleRate > 0 {
			c.sampleRate = sampleRate
		}
	}
}

func NewTranscriptionClient(opts ...ClientOption) *TranscriptionClient {
	client := &TranscriptionClient{
		baseURL:    "wss://api.deepgram.com",
		model:      "nova-3",
		language:   "en-US",
		sampleRate: 16000,
		streams:    map[string]*recognitionStream{},
	}

	if apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY"); ok {
		client.apiKey = apiKey
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func (c *TranscriptionClient) stream(sessionID string) (*recognitionStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stream, ok := c.streams[sessionID]
	return stream, ok
}

func (c *TranscriptionClient) removeStream(sessionID string) (*recognitionStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stream, ok := c.streams[sessionID]
	if ok {
		delete(c.streams, sessionID)
	}
	return stream, ok
}

// evictStream removes the session's map entry only while it still points at
// this stream, so a dead stream never evicts its replacement.
func (c *TranscriptionClient) evictStream(sessionID string, stream *recognitionStream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[sessionID] == stream {
		delete(c.streams, sessionID)
	}
}
