// Package config collects the service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	SampleRate        int
	SynthesisInterval time.Duration
	FinalizeTimeout   time.Duration

	DeepgramAPIKey string
	DeepgramModel  string
	DeepgramVoice  string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	OrderToolCommand string
	OrderToolArgs    []string
}

// FromEnv reads the configuration from the environment, falling back to
// defaults that match the local development setup.
func FromEnv() Config {
	return Config{
		Addr: envOr("ASR_DEMO_ADDR", ":8080"),

		SampleRate:        envIntOr("ASR_DEMO_SAMPLE_RATE", 16000),
		SynthesisInterval: envDurationOr("ASR_DEMO_SYNTHESIS_INTERVAL", 2*time.Second),
		FinalizeTimeout:   envDurationOr("ASR_DEMO_FINALIZE_TIMEOUT", 30*time.Second),

		DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:  envOr("DEEPGRAM_MODEL", "nova-3"),
		DeepgramVoice:  envOr("DEEPGRAM_VOICE", "aura-2-thalia-en"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: envOr("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   envOr("OPENAI_MODEL", "gpt-4o-mini"),

		OrderToolCommand: envOr("ORDER_TOOL_COMMAND", "python3"),
		OrderToolArgs:    envListOr("ORDER_TOOL_ARGS", []string{"order-mcp/server.py"}),
	}
}

func envOr(key string, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envListOr(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}

	var items []string
	for _, item := range strings.Split(value, " ") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
