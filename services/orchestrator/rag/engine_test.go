// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fincove/maya/services/llm"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/session"
	"github.com/stretchr/testify/assert"
)

// scriptedLLM answers Chat calls in order and records the prompts it saw.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	seen      [][]datatypes.Message
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	return s.next([]datatypes.Message{{Role: datatypes.RoleUser, Content: prompt}})
}

func (s *scriptedLLM) Chat(_ context.Context, messages []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return s.next(messages)
}

func (s *scriptedLLM) next(messages []datatypes.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, messages)
	i := len(s.seen) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	resp := ""
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

type fakeRetriever struct {
	calls    atomic.Int64
	passages []string
	err      error
	lastQ    string
}

func (f *fakeRetriever) Retrieve(_ context.Context, query, _ string) ([]string, error) {
	f.calls.Add(1)
	f.lastQ = query
	return f.passages, f.err
}

func TestAsk_FirstTurnSkipsReformulation(t *testing.T) {
	model := &scriptedLLM{responses: []string{"Your balance is 500 rupees."}}
	retriever := &fakeRetriever{passages: []string{"Balances update instantly."}}
	engine := NewEngine(model, retriever, session.NewMemoryTable(session.DefaultMemoryWindow))

	answer := engine.Ask(context.Background(), "sess-1", "What's my balance?", "banking", "")

	assert.Equal(t, "Your balance is 500 rupees.", answer)
	// Empty history: the only model call is the generation.
	assert.Len(t, model.seen, 1)
	assert.Equal(t, "What's my balance?", retriever.lastQ)
}

func TestAsk_ReformulatesAgainstHistory(t *testing.T) {
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	history := memory.GetOrCreate("sess-1")
	history.Append(datatypes.Message{Role: datatypes.RoleUser, Content: "Tell me about my home loan"})
	history.Append(datatypes.Message{Role: datatypes.RoleAssistant, Content: "Your home loan is active."})

	model := &scriptedLLM{responses: []string{
		"What is the balance of my home loan?",
		"Your home loan balance is 2 lakh.",
	}}
	retriever := &fakeRetriever{passages: []string{"Loan balances accrue daily interest."}}
	engine := NewEngine(model, retriever, memory)

	answer := engine.Ask(context.Background(), "sess-1", "what's its balance?", "loan", "")

	assert.Equal(t, "Your home loan balance is 2 lakh.", answer)
	// Retrieval used the standalone reformulation, not the raw query.
	assert.Equal(t, "What is the balance of my home loan?", retriever.lastQ)
}

func TestAsk_ReformulationFailureDegradesToRawQuery(t *testing.T) {
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	memory.GetOrCreate("sess-1").Append(datatypes.Message{Role: datatypes.RoleUser, Content: "hi"})

	model := &scriptedLLM{
		responses: []string{"", "An answer anyway."},
		errs:      []error{fmt.Errorf("model timeout"), nil},
	}
	retriever := &fakeRetriever{}
	engine := NewEngine(model, retriever, memory)

	answer := engine.Ask(context.Background(), "sess-1", "what's its balance?", "loan", "")

	assert.Equal(t, "An answer anyway.", answer)
	assert.Equal(t, "what's its balance?", retriever.lastQ)
}

func TestAsk_RetrievalFailureReturnsFallback(t *testing.T) {
	model := &scriptedLLM{responses: []string{"unused"}}
	retriever := &fakeRetriever{err: fmt.Errorf("vector store down")}
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	engine := NewEngine(model, retriever, memory)

	answer := engine.Ask(context.Background(), "sess-1", "What's my balance?", "banking", "")

	assert.Equal(t, FallbackAnswer, answer)
	// The failed turn must not pollute memory.
	assert.Equal(t, 0, memory.GetOrCreate("sess-1").Len())
}

func TestAsk_GenerationFailureReturnsFallback(t *testing.T) {
	model := &scriptedLLM{errs: []error{fmt.Errorf("model unavailable")}}
	retriever := &fakeRetriever{passages: []string{"some passage"}}
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	engine := NewEngine(model, retriever, memory)

	answer := engine.Ask(context.Background(), "sess-1", "What's my balance?", "banking", "")

	assert.Equal(t, FallbackAnswer, answer)
	assert.Equal(t, 0, memory.GetOrCreate("sess-1").Len())
}

func TestAsk_SuccessAppendsBothTurnsToMemory(t *testing.T) {
	model := &scriptedLLM{responses: []string{"Hello! How can I help with your banking needs?"}}
	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	engine := NewEngine(model, &fakeRetriever{}, memory)

	engine.Ask(context.Background(), "sess-1", "hi there", "banking", "")

	msgs := memory.GetOrCreate("sess-1").Messages()
	if assert.Len(t, msgs, 2) {
		assert.Equal(t, datatypes.RoleUser, msgs[0].Role)
		assert.Equal(t, "hi there", msgs[0].Content)
		assert.Equal(t, datatypes.RoleAssistant, msgs[1].Role)
	}
}

func TestAsk_ProfileBlockInjectedIntoSystemPrompt(t *testing.T) {
	model := &scriptedLLM{responses: []string{"You have two accounts."}}
	engine := NewEngine(model, &fakeRetriever{}, session.NewMemoryTable(session.DefaultMemoryWindow))

	engine.Ask(context.Background(), "sess-1", "list my accounts", "banking", `{"accounts": 2}`)

	system := model.seen[0][0]
	assert.Equal(t, datatypes.RoleSystem, system.Role)
	assert.Contains(t, system.Content, `{"accounts": 2}`)
	assert.NotContains(t, system.Content, NoProfileBlock)
}

func TestAsk_MissingProfileStatedPlainly(t *testing.T) {
	model := &scriptedLLM{responses: []string{"Certainly."}}
	engine := NewEngine(model, &fakeRetriever{}, session.NewMemoryTable(session.DefaultMemoryWindow))

	engine.Ask(context.Background(), "sess-1", "hello", "banking", "")

	assert.Contains(t, model.seen[0][0].Content, NoProfileBlock)
}

func TestChainFor_AtMostOnePerKnowledgeBase(t *testing.T) {
	engine := NewEngine(&scriptedLLM{}, &fakeRetriever{}, session.NewMemoryTable(session.DefaultMemoryWindow))

	const workers = 16
	chains := make([]*answerChain, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chains[i] = engine.chainFor("banking")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if chains[i] != chains[0] {
			t.Fatal("Expected one chain instance per knowledge base")
		}
	}
	if engine.chainFor("loan") == chains[0] {
		t.Error("Expected distinct chains for distinct knowledge bases")
	}
}

func TestGenerate_ContextBlockJoinsPassages(t *testing.T) {
	model := &scriptedLLM{responses: []string{"ok"}}
	chain := &answerChain{knowledgeBase: "banking", llmClient: model, retriever: &fakeRetriever{}}

	_, err := chain.generate(context.Background(), nil, "q",
		[]string{"passage one", "passage two"}, "")

	assert.NoError(t, err)
	system := model.seen[0][0].Content
	assert.Contains(t, system, "passage one")
	assert.Contains(t, system, "passage two")
	assert.True(t, strings.Index(system, "passage one") < strings.Index(system, "passage two"))
}
