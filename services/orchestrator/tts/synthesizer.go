// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tts streams synthesized speech for an answer as a finite sequence
// of binary audio chunks.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("maya.orchestrator.tts")

// Synthesizer converts answer text into a stream of audio chunks. The
// returned channel is closed after the provider signals completion; it is
// finite and not restartable per turn.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}

// ====================================================================
// Frame parsing
// ====================================================================

// extractAudioChunk interprets one message from the synthesis provider.
// Binary frames are audio as-is. Text frames may be a JSON envelope carrying
// base64 audio or a {"event": "done"} completion marker; anything else
// (plain text, malformed JSON, bad base64) yields no audio.
func extractAudioChunk(messageType int, payload []byte) (audio []byte, done bool) {
	if messageType == websocket.BinaryMessage {
		return payload, false
	}

	var envelope struct {
		Audio string `json:"audio"`
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, false
	}
	if envelope.Event == "done" {
		return nil, true
	}
	if envelope.Audio != "" {
		decoded, err := base64.StdEncoding.DecodeString(envelope.Audio)
		if err != nil {
			slog.Debug("Discarding audio frame with invalid base64", "error", err)
			return nil, false
		}
		return decoded, false
	}
	return nil, false
}

// ====================================================================
// Unmute-style websocket provider
// ====================================================================

type UnmuteSynthesizer struct {
	endpoint string
	timeout  time.Duration
}

func NewUnmuteSynthesizer() (*UnmuteSynthesizer, error) {
	endpoint := os.Getenv("TTS_SERVICE_URL")
	if endpoint == "" {
		return nil, fmt.Errorf("TTS_SERVICE_URL environment variable not set")
	}
	slog.Info("Initializing speech synthesizer", "endpoint", endpoint)
	return &UnmuteSynthesizer{endpoint: endpoint, timeout: 60 * time.Second}, nil
}

// Synthesize opens a fresh provider connection, sends the text, and relays
// audio chunks until the provider's done event or the context is cancelled.
func (s *UnmuteSynthesizer) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	ctx, span := tracer.Start(ctx, "UnmuteSynthesizer.Synthesize")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("failed to connect to TTS service: %w", err)
	}

	request := map[string]string{"type": "synthesize", "text": text}
	if err := conn.WriteJSON(request); err != nil {
		conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, fmt.Errorf("failed to send synthesis request: %w", err)
	}

	chunks := make(chan []byte)
	go func() {
		defer span.End()
		defer close(chunks)
		defer conn.Close()

		deadline := time.Now().Add(s.timeout)
		for {
			conn.SetReadDeadline(deadline)
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				slog.Debug("TTS stream ended", "error", err)
				return
			}
			audio, done := extractAudioChunk(messageType, payload)
			if done {
				return
			}
			if audio == nil {
				continue
			}
			select {
			case chunks <- audio:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

// ====================================================================
// Noop synthesizer
// ====================================================================

// NoopSynthesizer produces no audio. Used when no TTS provider is
// configured; text answers still flow.
type NoopSynthesizer struct{}

func (NoopSynthesizer) Synthesize(_ context.Context, _ string) (<-chan []byte, error) {
	chunks := make(chan []byte)
	close(chunks)
	return chunks, nil
}
