package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	orchestration "github.com/Cirilla-zmh/asr-demo/core"
	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
)

const classificationSystemPrompt = "You are a precise intent classification system. " +
	"Decide whether the user wants to buy or order something (order) or is making " +
	"small talk (chitchat). Answer with the structured result only."

type intentClassification struct {
	Intent string `json:"intent" jsonschema:"title=Intent,description=The user's intent,enum=chitchat,enum=order"`
}

type responseFormat struct {
	Type       string          `json:"type"`
	JSONSchema *responseSchema `json:"json_schema,omitempty"`
}

type responseSchema struct {
	Name   string            `json:"name"`
	Schema jsonschema.Schema `json:"schema"`
	Strict bool              `json:"strict"`
}

type classifyRequestBody struct {
	Model               string          `json:"model"`
	Messages            []message       `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify maps the transcript to a two-way intent. Any failure is returned
// to the caller, which is expected to fall back to chitchat.
func (c *Client) Classify(ctx context.Context, text string) (orchestration.Intent, error) {
	ctx, span := tracer.Start(ctx, "classify intent")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))

	reflector := jsonschema.Reflector{DoNotReference: true}
	schema := reflector.Reflect(intentClassification{})

	requestBodyBytes, err := json.Marshal(classifyRequestBody{
		Model: c.model,
		Messages: []message{
			{Role: messageRoleSystem, Content: classificationSystemPrompt},
			{Role: messageRoleUser, Content: text},
		},
		MaxCompletionTokens: 50,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &responseSchema{
				Name:   "intentClassification",
				Schema: *schema,
				Strict: true,
			},
		},
	})
	if err != nil {
		err = fmt.Errorf("error marshalling JSON: %w", err)
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewBuffer(requestBodyBytes))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response: %w", err)
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}

	var completion completionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		err = fmt.Errorf("error unmarshalling response: %w", err)
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}
	if len(completion.Choices) == 0 {
		err = fmt.Errorf("no choices in classification response")
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}

	var classification intentClassification
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &classification); err != nil {
		err = fmt.Errorf("error unmarshalling classification: %w", err)
		span.RecordError(err)
		return orchestration.IntentChitchat, err
	}

	span.SetAttributes(attribute.String("response.intent", classification.Intent))

	switch classification.Intent {
	case string(orchestration.IntentOrder):
		return orchestration.IntentOrder, nil
	case string(orchestration.IntentChitchat):
		return orchestration.IntentChitchat, nil
	default:
		return orchestration.IntentChitchat, fmt.Errorf("unknown intent: %s", classification.Intent)
	}
}
