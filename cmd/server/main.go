package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	orchestration "github.com/Cirilla-zmh/asr-demo/core"
	"github.com/Cirilla-zmh/asr-demo/core/llms/openai"
	"github.com/Cirilla-zmh/asr-demo/core/orders/mcp"
	recognition "github.com/Cirilla-zmh/asr-demo/core/recognition/deepgram"
	synthesis "github.com/Cirilla-zmh/asr-demo/core/synthesis/deepgram"
	"github.com/Cirilla-zmh/asr-demo/internal/config"
	"github.com/Cirilla-zmh/asr-demo/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.FromEnv()

	recognizer := recognition.NewTranscriptionClient(
		recognition.WithAPIKey(cfg.DeepgramAPIKey),
		recognition.WithModel(cfg.DeepgramModel),
		recognition.WithSampleRate(cfg.SampleRate),
	)
	synthesizer := synthesis.NewTextToSpeechClient(
		synthesis.WithAPIKey(cfg.DeepgramAPIKey),
		synthesis.WithVoice(cfg.DeepgramVoice),
	)
	llmClient := openai.NewClient(
		openai.WithAPIKey(cfg.OpenAIAPIKey),
		openai.WithBaseURL(cfg.OpenAIBaseURL),
		openai.WithModel(cfg.OpenAIModel),
	)
	orderClient := mcp.NewClient(cfg.OrderToolCommand, mcp.WithArgs(cfg.OrderToolArgs...))
	defer orderClient.Close()

	engine := orchestration.NewEngine(
		orchestration.WithTracerProvider(otel.GetTracerProvider()),
		orchestration.WithLogger(logger),
		orchestration.WithRecognizer(recognizer),
		orchestration.WithIntentClassifier(llmClient),
		orchestration.WithResponseGenerator(llmClient),
		orchestration.WithSynthesizer(synthesizer),
		orchestration.WithOrderPlacer(orderClient),
		orchestration.WithSynthesisInterval(cfg.SynthesisInterval),
		orchestration.WithFinalizeTimeout(cfg.FinalizeTimeout),
	)

	srv := server.NewServer(engine, server.WithAddr(cfg.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shut down cleanly", "error", err)
			os.Exit(1)
		}
	}
}
