// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fincove/maya/services/llm"
	"github.com/fincove/maya/services/orchestrator/classify"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/profile"
	"github.com/fincove/maya/services/orchestrator/rag"
	"github.com/fincove/maya/services/orchestrator/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routedLLM plays both pipeline roles: Generate serves the classifiers from
// a scripted answer queue, Chat serves the answer engine with a fixed reply.
type routedLLM struct {
	mu              sync.Mutex
	classifications []string
	classifyErr     error
	answer          string
	chatErr         error
}

func (r *routedLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.classifyErr != nil {
		return "", r.classifyErr
	}
	if len(r.classifications) == 0 {
		return "unknown", nil
	}
	next := r.classifications[0]
	r.classifications = r.classifications[1:]
	return next, nil
}

func (r *routedLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	if r.chatErr != nil {
		return "", r.chatErr
	}
	return r.answer, nil
}

type countingResolver struct {
	calls   atomic.Int64
	payload string
	err     error
}

func (c *countingResolver) Resolve(_ context.Context, _ string) (string, error) {
	c.calls.Add(1)
	return c.payload, c.err
}

type recordingWriter struct {
	mu       sync.Mutex
	persists []*datatypes.SessionTranscript
	err      error
}

func (w *recordingWriter) Persist(_ context.Context, t *datatypes.SessionTranscript) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.persists = append(w.persists, t)
	return w.err
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.persists)
}

type fixture struct {
	orch     *Orchestrator
	model    *routedLLM
	resolver *countingResolver
	writer   *recordingWriter
}

func newFixture(t *testing.T, model *routedLLM) *fixture {
	t.Helper()
	taxonomy, err := classify.LoadTaxonomy()
	require.NoError(t, err)

	store := session.NewStore()
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	resolver := &countingResolver{payload: `{"name": "Asha", "accounts": 2}`}
	writer := &recordingWriter{}

	orch := NewOrchestrator(
		store,
		memory,
		classify.NewClassifier(model, taxonomy),
		rag.NewEngine(model, rag.EmptyRetriever{}, memory),
		resolver,
		writer,
	)
	return &fixture{orch: orch, model: model, resolver: resolver, writer: writer}
}

func TestHandleInbound_ActionableIntentGatedWhenUnverified(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"banking", "check_balance"},
		answer:          "should not be reached",
	})
	sess := f.orch.OpenSession()

	result := f.orch.HandleInbound(context.Background(), sess, "What's my balance?")

	assert.Equal(t, TurnAuthRequired, result.Kind)
	event, ok := result.Event.(datatypes.AuthRequiredEvent)
	require.True(t, ok)
	assert.Equal(t, "check_balance", event.Intent)
	assert.Equal(t, sess.ID, event.SID)
	// The blocked turn never reached the answer engine or the transcript.
	assert.Empty(t, sess.Transcript())
	assert.Equal(t, int64(0), f.resolver.calls.Load())
}

func TestHandleInbound_VerificationCompleteOpensGate(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"banking", "check_balance"},
		answer:          "Your balance is 500 rupees.",
	})
	sess := f.orch.OpenSession()
	sess.SetPhoneNumber("+919812345678")

	result := f.orch.HandleInbound(context.Background(), sess, `{"type": "verification_complete"}`)
	assert.Equal(t, TurnVerified, result.Kind)
	assert.Equal(t, datatypes.NewVerifiedEvent(), result.Event)
	assert.True(t, sess.Verified())

	// The same utterance now flows through the full pipeline with the
	// profile resolved.
	result = f.orch.HandleInbound(context.Background(), sess, "What's my balance?")
	assert.Equal(t, TurnAnswered, result.Kind)
	assert.Equal(t, "Your balance is 500 rupees.", result.Answer)
	assert.Equal(t, int64(1), f.resolver.calls.Load())

	turns := sess.Transcript()
	require.Len(t, turns, 1)
	assert.Equal(t, "check_balance", turns[0].Intent)
	assert.Equal(t, "banking", turns[0].Domain)
}

func TestHandleInbound_NoReGatingAfterVerification(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"banking", "check_balance", "loan", "loan_status"},
		answer:          "Here you go.",
	})
	sess := f.orch.OpenSession()
	f.orch.HandleInbound(context.Background(), sess, `{"type": "verification_complete"}`)

	first := f.orch.HandleInbound(context.Background(), sess, "What's my balance?")
	second := f.orch.HandleInbound(context.Background(), sess, "And my loan status?")

	assert.Equal(t, TurnAnswered, first.Kind)
	assert.Equal(t, TurnAnswered, second.Kind)
}

func TestHandleInbound_SmallTalkFallsBackToDefaultKnowledgeBase(t *testing.T) {
	// Domain classifier answers off-list, intent never recognized: no gate,
	// default knowledge base answers.
	f := newFixture(t, &routedLLM{
		classifications: []string{"smalltalk", "unknown"},
		answer:          "Hello! How can I help with your banking needs?",
	})
	sess := f.orch.OpenSession()

	result := f.orch.HandleInbound(context.Background(), sess, "hi there")

	assert.Equal(t, TurnAnswered, result.Kind)
	assert.Equal(t, "Hello! How can I help with your banking needs?", result.Answer)
	turns := sess.Transcript()
	require.Len(t, turns, 1)
	assert.Empty(t, turns[0].Domain)
	assert.Empty(t, turns[0].Intent)
	// No actionable intent, so no profile lookup either.
	assert.Equal(t, int64(0), f.resolver.calls.Load())
}

func TestHandleInbound_ClassifierFailureStillAnswers(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifyErr: fmt.Errorf("classifier unavailable"),
		answer:      "Best effort answer.",
	})
	sess := f.orch.OpenSession()

	result := f.orch.HandleInbound(context.Background(), sess, "What's my balance?")

	assert.Equal(t, TurnAnswered, result.Kind)
	assert.Equal(t, "Best effort answer.", result.Answer)
}

func TestHandleInbound_GenerationFailureDegradesToApology(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"smalltalk", "unknown"},
		chatErr:         fmt.Errorf("model down"),
	})
	sess := f.orch.OpenSession()

	result := f.orch.HandleInbound(context.Background(), sess, "hi there")

	assert.Equal(t, TurnAnswered, result.Kind)
	assert.Equal(t, rag.FallbackAnswer, result.Answer)
	// Degraded turns still land in the transcript.
	require.Len(t, sess.Transcript(), 1)
}

func TestResolveProfile_AtMostOncePerSession(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"banking", "check_balance", "banking", "view_transactions"},
		answer:          "Done.",
	})
	sess := f.orch.OpenSession()
	sess.SetPhoneNumber("+919812345678")
	f.orch.HandleInbound(context.Background(), sess, `{"type": "verification_complete"}`)

	f.orch.HandleInbound(context.Background(), sess, "What's my balance?")
	f.orch.HandleInbound(context.Background(), sess, "Show my transactions")

	assert.Equal(t, int64(1), f.resolver.calls.Load())
}

func TestResolveProfile_FailureCachedToo(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"banking", "check_balance", "banking", "view_transactions"},
		answer:          "Done.",
	})
	f.resolver.err = fmt.Errorf("user-data service down")
	sess := f.orch.OpenSession()
	sess.SetPhoneNumber("+919812345678")
	f.orch.HandleInbound(context.Background(), sess, `{"type": "verification_complete"}`)

	first := f.orch.HandleInbound(context.Background(), sess, "What's my balance?")
	f.orch.HandleInbound(context.Background(), sess, "Show my transactions")

	// The failed lookup degraded the answer path, not the turn itself.
	assert.Equal(t, TurnAnswered, first.Kind)
	assert.Equal(t, int64(1), f.resolver.calls.Load())
}

func TestResolveProfile_SkippedWithoutPhoneNumber(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"banking", "check_balance"},
		answer:          "Done.",
	})
	sess := f.orch.OpenSession()
	f.orch.HandleInbound(context.Background(), sess, `{"type": "verification_complete"}`)

	f.orch.HandleInbound(context.Background(), sess, "What's my balance?")

	assert.Equal(t, int64(0), f.resolver.calls.Load())
}

func TestTeardown_PersistsExactlyOnce(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"smalltalk", "unknown"},
		answer:          "Hi!",
	})
	sess := f.orch.OpenSession()
	f.orch.HandleInbound(context.Background(), sess, "hi there")

	// Graceful close and error path race to tear down the same session.
	var wg sync.WaitGroup
	for _, outcome := range []string{OutcomeClosed, OutcomeError} {
		wg.Add(1)
		go func(outcome string) {
			defer wg.Done()
			f.orch.Teardown(context.Background(), sess.ID, outcome)
		}(outcome)
	}
	wg.Wait()

	assert.Equal(t, 1, f.writer.count())
	_, ok := f.orch.Store().Get(sess.ID)
	assert.False(t, ok, "Expected session to be gone after teardown")

	transcript := f.writer.persists[0]
	assert.Equal(t, sess.ID, transcript.SessionID)
	require.Len(t, transcript.Turns, 1)
	assert.Equal(t, "hi there", transcript.Turns[0].Query)
}

func TestTeardown_SeversBoundStream(t *testing.T) {
	f := newFixture(t, &routedLLM{
		classifications: []string{"smalltalk", "unknown"},
		answer:          "Hi!",
	})
	sess := f.orch.OpenSession()

	var closes atomic.Int64
	sess.BindStream(func() { closes.Add(1) })
	f.orch.HandleInbound(context.Background(), sess, "hi there")

	// Admin force-close must cut the transport, not just the store entry:
	// otherwise the stream keeps serving turns on a session whose state is
	// gone and whose transcript will never persist.
	f.orch.Teardown(context.Background(), sess.ID, OutcomeForced)
	assert.Equal(t, int64(1), closes.Load())
	assert.Equal(t, 1, f.writer.count())
	require.Len(t, f.writer.persists[0].Turns, 1)

	// The stream goroutine's own deferred teardown loses the claim and must
	// not fire the hook again.
	f.orch.Teardown(context.Background(), sess.ID, OutcomeClosed)
	assert.Equal(t, int64(1), closes.Load())
	assert.Equal(t, 1, f.writer.count())
}

func TestTeardown_LostClaimStillDropsRecreatedMemory(t *testing.T) {
	model := &routedLLM{classifications: []string{"smalltalk", "unknown"}, answer: "Hi!"}
	taxonomy, err := classify.LoadTaxonomy()
	require.NoError(t, err)

	store := session.NewStore()
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	writer := &recordingWriter{}
	orch := NewOrchestrator(store, memory, classify.NewClassifier(model, taxonomy),
		rag.NewEngine(model, rag.EmptyRetriever{}, memory), profile.NoopResolver{}, writer)

	sess := orch.OpenSession()
	orch.HandleInbound(context.Background(), sess, "hi there")

	// Force-close wins the claim while a turn is still in flight; the turn
	// recreates the history entry after the winning teardown dropped it.
	orch.Teardown(context.Background(), sess.ID, OutcomeForced)
	memory.GetOrCreate(sess.ID).Append(datatypes.Message{Role: datatypes.RoleUser, Content: "racer"})

	// The stream goroutine's deferred teardown loses the claim but must still
	// discard the recreated entry, or it leaks for the process lifetime.
	orch.Teardown(context.Background(), sess.ID, OutcomeClosed)
	assert.Zero(t, memory.Len())
}

func TestTeardown_UnknownSessionIsNoop(t *testing.T) {
	f := newFixture(t, &routedLLM{})
	f.orch.Teardown(context.Background(), "no-such-session", OutcomeClosed)
	assert.Equal(t, 0, f.writer.count())
}

func TestTeardown_DropsConversationMemory(t *testing.T) {
	model := &routedLLM{classifications: []string{"smalltalk", "unknown"}, answer: "Hi!"}
	taxonomy, err := classify.LoadTaxonomy()
	require.NoError(t, err)

	store := session.NewStore()
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	writer := &recordingWriter{}
	orch := NewOrchestrator(store, memory, classify.NewClassifier(model, taxonomy),
		rag.NewEngine(model, rag.EmptyRetriever{}, memory), profile.NoopResolver{}, writer)

	sess := orch.OpenSession()
	orch.HandleInbound(context.Background(), sess, "hi there")
	require.NotZero(t, memory.GetOrCreate(sess.ID).Len())

	// GetOrCreate above re-created an entry; drop state via teardown and
	// confirm a fresh lookup starts empty.
	orch.Teardown(context.Background(), sess.ID, OutcomeClosed)
	assert.Zero(t, memory.GetOrCreate(sess.ID).Len())
}
