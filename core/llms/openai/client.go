// Package openai is a client for OpenAI-compatible chat-completion APIs,
// covering streaming response generation and structured intent
// classification. Conversation history is kept per session until the
// session's connection closes.
package openai

import (
	"net/http"
	"os"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

type Client struct {
	apiKey  string
	baseURL string
	model   string

	httpClient *http.Client

	contextMu sync.Mutex
	contexts  map[string][]message
}

type ClientOption func(*Client)

func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		baseURL:  defaultBaseURL,
		model:    defaultModel,
		contexts: map[string][]message{},
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
	}

	if apiKey, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
		client.apiKey = apiKey
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// ClearContext drops the session's conversation history. Called when the
// session's connection closes.
func (c *Client) ClearContext(sessionID string) {
	c.contextMu.Lock()
	defer c.contextMu.Unlock()
	delete(c.contexts, sessionID)
}
