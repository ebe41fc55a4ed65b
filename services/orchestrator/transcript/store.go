// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transcript durably persists closed-session transcripts. The
// orchestrator serializes the full transcript at teardown, hands it off
// here, and forgets it.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/observability"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("maya.orchestrator.transcript")

// Writer hands a closed session's transcript to the durable store.
type Writer interface {
	Persist(ctx context.Context, t *datatypes.SessionTranscript) error
}

// ====================================================================
// Weaviate writer
// ====================================================================

// WeaviateWriter writes one SessionRecord object plus one ConversationTurn
// object per turn, in a single batch request.
type WeaviateWriter struct {
	client *weaviate.Client
}

func NewWeaviateWriter(client *weaviate.Client) *WeaviateWriter {
	return &WeaviateWriter{client: client}
}

func (w *WeaviateWriter) Persist(ctx context.Context, t *datatypes.SessionTranscript) error {
	ctx, span := tracer.Start(ctx, "WeaviateWriter.Persist")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", t.SessionID),
		attribute.Int("transcript.turns", len(t.Turns)),
	)

	objects := make([]*models.Object, 0, len(t.Turns)+1)
	objects = append(objects, &models.Object{
		Class: "SessionRecord",
		Properties: map[string]interface{}{
			"session_id":   t.SessionID,
			"phone_number": t.PhoneNumber,
			"started_at":   t.StartedAt,
			"closed_at":    t.ClosedAt,
		},
	})

	now := time.Now().UnixMilli()
	for i, turn := range t.Turns {
		// Deterministic IDs make a retried persist overwrite, not duplicate.
		turnID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", t.SessionID, i)))
		objects = append(objects, &models.Object{
			Class: "ConversationTurn",
			ID:    strfmt.UUID(turnID.String()),
			Properties: map[string]interface{}{
				"session_id":  t.SessionID,
				"query":       turn.Query,
				"response":    turn.Response,
				"domain":      turn.Domain,
				"intent":      turn.Intent,
				"turn_number": i,
				"timestamp":   now,
			},
		})
	}

	batcher := w.client.Batch().ObjectsBatcher().WithObjects(objects...)
	if _, err := batcher.Do(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.ExternalFailuresTotal.WithLabelValues("transcript").Inc()
		return fmt.Errorf("failed to persist transcript for session %s: %w", t.SessionID, err)
	}

	observability.TranscriptTurnsPersisted.Add(float64(len(t.Turns)))
	slog.Info("Persisted session transcript", "session_id", t.SessionID, "turns", len(t.Turns))
	return nil
}

// ====================================================================
// Noop writer
// ====================================================================

// NoopWriter discards transcripts. Used in lightweight mode with no durable
// store attached.
type NoopWriter struct{}

func (NoopWriter) Persist(_ context.Context, t *datatypes.SessionTranscript) error {
	slog.Debug("Discarding transcript (no durable store)", "session_id", t.SessionID, "turns", len(t.Turns))
	return nil
}
