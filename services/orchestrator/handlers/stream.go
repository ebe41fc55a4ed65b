// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fincove/maya/services/orchestrator/conversation"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/tts"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("maya.orchestrator.handlers")

// turnTimeout bounds one full turn: classification, retrieval, generation.
// Synthesis streams under the same deadline.
const turnTimeout = 2 * time.Minute

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024 * 1024,
	WriteBufferSize: 1024 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleConversationStream owns one conversation stream end to end: session
// creation on connect, the sequential turn loop, and exactly-once teardown on
// every exit path.
func HandleConversationStream(orch *conversation.Orchestrator, synth tts.Synthesizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("Failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		sess := orch.OpenSession()

		// Teardown severs the bound stream, so an admin force-close also
		// errors this loop's blocked ReadMessage and ends the goroutine.
		sess.BindStream(func() { ws.Close() })

		// Teardown must run no matter how the loop exits, including a panic
		// in turn processing. The store claim inside Teardown makes a second
		// call (e.g. the admin force-close route) a no-op.
		outcome := conversation.OutcomeError
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Panic in conversation stream", "session_id", sess.ID, "panic", r)
			}
			orch.Teardown(context.Background(), sess.ID, outcome)
		}()

		// The client needs the session ID to address the OTP side channel.
		if err := sendJSON(ws, datatypes.NewSessionCreatedEvent(sess.ID)); err != nil {
			return
		}

		for {
			messageType, payload, err := ws.ReadMessage()
			if err != nil {
				slog.Info("Websocket client disconnected", "session_id", sess.ID, "error", err.Error())
				outcome = conversation.OutcomeClosed
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}

			ctx, cancel := context.WithTimeout(c.Request.Context(), turnTimeout)
			ctx, span := tracer.Start(ctx, "HandleConversationStream.turn")

			result := orch.HandleInbound(ctx, sess, string(payload))
			if err := sendJSON(ws, result.Event); err != nil {
				span.End()
				cancel()
				return
			}

			if result.Kind == conversation.TurnAnswered {
				streamSpeech(ctx, ws, synth, sess.ID, result.Answer)
			}
			span.End()
			cancel()
		}
	}
}

// streamSpeech relays the synthesized audio for an answer as binary frames.
// Synthesis failures are silent: the client already has the text.
func streamSpeech(ctx context.Context, ws *websocket.Conn, synth tts.Synthesizer, sessionID, answer string) {
	chunks, err := synth.Synthesize(ctx, answer)
	if err != nil {
		slog.Warn("Speech synthesis unavailable", "session_id", sessionID, "error", err)
		return
	}
	for chunk := range chunks {
		if err := ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			slog.Warn("Failed to write audio frame", "session_id", sessionID, "error", err)
			// Drain the channel so the synthesizer goroutine can finish.
			for range chunks {
			}
			return
		}
	}
}
