// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversation implements the session orchestration engine: the
// per-stream state machine that classifies each utterance, applies the
// step-up authentication gate, resolves the caller's profile at most once,
// dispatches to the answer engine, and guarantees exactly-once transcript
// persistence on every termination path.
package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/fincove/maya/services/orchestrator/classify"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/observability"
	"github.com/fincove/maya/services/orchestrator/profile"
	"github.com/fincove/maya/services/orchestrator/rag"
	"github.com/fincove/maya/services/orchestrator/session"
	"github.com/fincove/maya/services/orchestrator/transcript"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("maya.orchestrator.conversation")

// DefaultKnowledgeBase answers utterances that classify to no domain.
const DefaultKnowledgeBase = "banking"

// profileTimeout bounds the once-per-session profile lookup.
const profileTimeout = 15 * time.Second

// Teardown outcomes for metrics labeling.
const (
	OutcomeClosed = "closed"
	OutcomeError  = "error"
	OutcomeForced = "forced"
)

// TurnKind says what a processed inbound message produced.
type TurnKind int

const (
	// TurnVerified: the message was a verification_complete control frame;
	// the gate is now open.
	TurnVerified TurnKind = iota
	// TurnAuthRequired: an actionable intent was recognized on an unverified
	// session; the turn was blocked before the answer engine.
	TurnAuthRequired
	// TurnAnswered: a full pipeline turn; Answer carries the text to speak.
	TurnAnswered
)

// TurnResult is the orchestrator's per-message output. Event is the
// JSON-serializable frame to send on the stream; Answer is non-empty only for
// TurnAnswered and feeds speech synthesis.
type TurnResult struct {
	Kind   TurnKind
	Event  interface{}
	Answer string
}

// ====================================================================
// Orchestrator
// ====================================================================

type Orchestrator struct {
	store      *session.Store
	memory     *session.MemoryTable
	classifier *classify.Classifier
	engine     *rag.Engine
	resolver   profile.Resolver
	writer     transcript.Writer
}

func NewOrchestrator(
	store *session.Store,
	memory *session.MemoryTable,
	classifier *classify.Classifier,
	engine *rag.Engine,
	resolver profile.Resolver,
	writer transcript.Writer,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		memory:     memory,
		classifier: classifier,
		engine:     engine,
		resolver:   resolver,
		writer:     writer,
	}
}

// Store exposes the live session table for the side channel and admin routes.
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// OpenSession creates the session record for a freshly accepted stream.
func (o *Orchestrator) OpenSession() *session.Session {
	sess := o.store.Create()
	observability.ActiveSessions.Inc()
	slog.Info("Session opened", "session_id", sess.ID)
	return sess
}

// HandleInbound processes one inbound stream message for a session and
// returns what to send back. Turns within a session are strictly sequential;
// the caller must not invoke this concurrently for the same session.
func (o *Orchestrator) HandleInbound(ctx context.Context, sess *session.Session, raw string) TurnResult {
	ctx, span := tracer.Start(ctx, "Orchestrator.HandleInbound")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sess.ID))
	start := time.Now()
	defer func() {
		observability.TurnDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	// An unverified session first checks for the verification_complete
	// control frame. Verified sessions skip the parsing entirely; every
	// message is an utterance.
	if !sess.Verified() {
		if frame, ok := datatypes.ParseControlFrame(raw); ok && frame.Type == datatypes.TypeVerificationComplete {
			sess.MarkVerified()
			slog.Info("Session verified", "session_id", sess.ID)
			observability.TurnsTotal.WithLabelValues("verified").Inc()
			return TurnResult{Kind: TurnVerified, Event: datatypes.NewVerifiedEvent()}
		}
	}
	query := raw

	domain := o.classifier.ClassifyDomain(ctx, query)
	intent := o.classifier.ClassifyIntent(ctx, query, domain)
	slog.Info("Classified utterance", "session_id", sess.ID, "domain", domain, "intent", intent)
	span.SetAttributes(
		attribute.String("classify.domain", domain),
		attribute.String("classify.intent", intent),
	)

	// Authentication gate: a recognized actionable intent on an unverified
	// session blocks before the answer engine.
	if intent != classify.None && !sess.Verified() {
		observability.TurnsTotal.WithLabelValues("auth_required").Inc()
		return TurnResult{
			Kind:  TurnAuthRequired,
			Event: datatypes.NewAuthRequiredEvent(intent, sess.ID),
		}
	}

	knowledgeBase := domain
	if knowledgeBase == classify.None {
		knowledgeBase = DefaultKnowledgeBase
	}

	var profileData string
	if intent != classify.None {
		profileData = o.resolveProfileOnce(ctx, sess)
	}

	answer := o.engine.Ask(ctx, sess.ID, query, knowledgeBase, profileData)

	sess.AppendTurn(datatypes.TranscriptTurn{
		Query:    query,
		Response: answer,
		Domain:   domain,
		Intent:   intent,
	})

	outcome := "answered"
	if answer == rag.FallbackAnswer {
		outcome = "degraded"
	}
	observability.TurnsTotal.WithLabelValues(outcome).Inc()
	return TurnResult{Kind: TurnAnswered, Event: datatypes.NewTextEvent(answer), Answer: answer}
}

// resolveProfileOnce returns the session's profile payload, resolving it on
// first need. The outcome is cached either way, so the resolver runs at most
// once per session; a failed or empty lookup degrades to no personalization.
func (o *Orchestrator) resolveProfileOnce(ctx context.Context, sess *session.Session) string {
	if cached, fetched := sess.Profile(); fetched {
		return cached
	}
	phone := sess.PhoneNumber()
	if phone == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	payload, err := o.resolver.Resolve(ctx, phone)
	if err != nil {
		slog.Warn("Profile resolution failed, continuing without personalization",
			"session_id", sess.ID, "error", err)
		observability.ExternalFailuresTotal.WithLabelValues("profile").Inc()
		payload = ""
	}
	sess.SetProfile(payload)
	return payload
}

// Teardown persists the session transcript and removes all per-session
// state. Safe to call from any termination path; only the caller that wins
// the store claim does the work, so teardown happens exactly once.
func (o *Orchestrator) Teardown(ctx context.Context, sessionID, outcome string) {
	// Dropped before the claim check: a turn racing the winning teardown can
	// recreate the history entry after that teardown already dropped it, and
	// only the losing caller runs late enough to see it.
	o.memory.Drop(sessionID)

	sess, ok := o.store.Remove(sessionID)
	if !ok {
		return
	}
	sess.CloseStream()
	ctx, span := tracer.Start(ctx, "Orchestrator.Teardown")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("session.outcome", outcome),
	)

	snapshot := sess.Snapshot()
	if err := o.writer.Persist(ctx, &snapshot); err != nil {
		slog.Error("Failed to persist session transcript", "session_id", sessionID, "error", err)
		span.RecordError(err)
	}

	observability.ActiveSessions.Dec()
	observability.SessionsTotal.WithLabelValues(outcome).Inc()
	slog.Info("Session closed", "session_id", sessionID, "outcome", outcome, "turns", len(snapshot.Turns))
}
