package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

const generationSystemPrompt = "You are a friendly voice assistant for a small shop. " +
	"Keep replies short, natural and easy to speak aloud."

type streamRequestBody struct {
	Model               string    `json:"model"`
	Messages            []message `json:"messages"`
	Stream              bool      `json:"stream"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate streams a completion for the prompt, invoking onDelta for every
// text delta, and persists the exchange into the session's conversation
// context once the stream ends.
func (c *Client) Generate(ctx context.Context, sessionID string, prompt string, onDelta func(string)) error {
	ctx, span := tracer.Start(ctx, "generate response stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("request.model", c.model),
		attribute.String("websocket.session.id", sessionID),
	)

	messages := append([]message{{Role: messageRoleSystem, Content: generationSystemPrompt}},
		c.historySnapshot(sessionID)...)
	messages = append(messages, message{Role: messageRoleUser, Content: prompt})

	requestBodyBytes, err := json.Marshal(streamRequestBody{
		Model:               c.model,
		Messages:            messages,
		Stream:              true,
		MaxCompletionTokens: 2048,
	})
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	requestStartedAt := time.Now()
	span.AddEvent("request started")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		return err
	}

	var fullResponse strings.Builder
	firstToken := true

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logger.Warn("failed to unmarshal stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}

		if firstToken {
			firstToken = false
			span.SetAttributes(attribute.Float64("response.request_to_first_token_time",
				time.Since(requestStartedAt).Seconds()))
			span.AddEvent("received first chunk")
		}

		fullResponse.WriteString(delta)
		onDelta(delta)
	}
	if err := scanner.Err(); err != nil {
		err = fmt.Errorf("error reading response stream: %w", err)
		span.RecordError(err)
		return err
	}

	c.appendTurn(sessionID, prompt, fullResponse.String())
	span.SetAttributes(attribute.Int("response.length", fullResponse.Len()))

	return nil
}
