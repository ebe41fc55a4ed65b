// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fincove/maya/services/llm"
	"github.com/fincove/maya/services/orchestrator/auth"
	"github.com/fincove/maya/services/orchestrator/classify"
	"github.com/fincove/maya/services/orchestrator/conversation"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/profile"
	"github.com/fincove/maya/services/orchestrator/rag"
	"github.com/fincove/maya/services/orchestrator/routes"
	"github.com/fincove/maya/services/orchestrator/session"
	"github.com/fincove/maya/services/orchestrator/transcript"
	"github.com/fincove/maya/services/orchestrator/tts"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "maya-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("maya-orchestrator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient connects to the durable store, or returns nil for
// lightweight mode (no retrieval, no transcript persistence).
func newWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running in lightweight mode.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running in lightweight mode.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

func newLLMClient() llm.LLMClient {
	var client llm.LLMClient
	var err error

	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		client, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "ollama":
		client, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	case "gemini":
		client, err = llm.NewGeminiClient(context.Background())
		slog.Info("Using Gemini LLM backend")
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to gemini", "value", backend)
		client, err = llm.NewGeminiClient(context.Background())
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	return client
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on the environment")
	}

	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "8000"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	weaviateClient := newWeaviateClient()
	llmClient := newLLMClient()

	taxonomy, err := classify.LoadTaxonomy()
	if err != nil {
		log.Fatalf("Failed to load the intent taxonomy: %v", err)
	}
	slog.Info("Loaded intent taxonomy", "domains", taxonomy.Domains())

	// --- Wire the conversation pipeline ---
	var retriever rag.Retriever = rag.EmptyRetriever{}
	var transcriptWriter transcript.Writer = transcript.NoopWriter{}
	if weaviateClient != nil {
		retriever = rag.NewWeaviateRetriever(weaviateClient)
		transcriptWriter = transcript.NewWeaviateWriter(weaviateClient)
	}

	var resolver profile.Resolver
	resolver, err = profile.NewHTTPResolver()
	if err != nil {
		slog.Warn("Profile resolver not configured, personalization disabled", "error", err)
		resolver = profile.NoopResolver{}
	}

	var verifier auth.Verifier
	verifier, err = auth.NewTwilioVerifier()
	if err != nil {
		slog.Warn("OTP provider not configured, using the accept-all verifier", "error", err)
		verifier = auth.NoopVerifier{}
	}

	var synth tts.Synthesizer
	synth, err = tts.NewUnmuteSynthesizer()
	if err != nil {
		slog.Warn("TTS provider not configured, answers will be text only", "error", err)
		synth = tts.NoopSynthesizer{}
	}

	store := session.NewStore()
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	orch := conversation.NewOrchestrator(
		store,
		memory,
		classify.NewClassifier(llmClient, taxonomy),
		rag.NewEngine(llmClient, retriever, memory),
		resolver,
		transcriptWriter,
	)

	router := gin.Default()
	router.Use(otelgin.Middleware("maya-orchestrator"))

	routes.SetupRoutes(router, weaviateClient, orch, verifier, synth, taxonomy)

	log.Println("Starting the orchestrator server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
