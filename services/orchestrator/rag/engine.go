// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rag assembles the retrieval-augmented answer engine: one chain per
// knowledge base, built lazily and reused for the process lifetime, with
// history-aware query reformulation and persona-constrained generation.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/fincove/maya/services/llm"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/observability"
	"github.com/fincove/maya/services/orchestrator/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("maya.orchestrator.rag")

// FallbackAnswer is returned verbatim whenever the pipeline fails
// internally. Users never see a raw error.
const FallbackAnswer = "I apologize, but I encountered an error processing your request. Please try again."

// NoProfileBlock fills the consumer-data slot of the generation prompt when
// no profile payload is available.
const NoProfileBlock = "No consumer profile data available."

const reformulateSystemPrompt = `Given a chat history and the latest user question which might reference context in the chat history, formulate a standalone question which can be understood without the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as it is.`

const personaSystemPrompt = `You are Maya, a professional female AI calling assistant for FinCove Pvt. Ltd., a digital banking platform. You assist users over phone calls with queries related to FinCove's banking products and services.

You may also receive consumer profile data. If it is provided, use it naturally to personalize responses. If no data is provided, simply ignore that section.

Rules:
- You may answer greetings, pleasantries, or small talk (like "hello", "how are you") briefly and politely, then redirect the user back to banking topics.
- Only answer queries related to banking and financial services (tax, loan, insurance, investments, general banking).
- If a query is irrelevant (not banking and not small talk), refuse politely. Example refusal: "Sorry, I can only assist you with banking-related queries like tax, loan, insurance, investments, or general banking for FinCove."
- Never use Markdown formatting (bold, italic, code). Plain text only.
- Keep responses concise, clear, and professional.
- Use the consumer profile data to provide personalized assistance when appropriate.
- If consumer data is provided use it solely, do not make up any other data.

Context from knowledge base:
%s

Consumer Profile (if available):
%s`

// ====================================================================
// Engine
// ====================================================================

type Engine struct {
	llmClient llm.LLMClient
	retriever Retriever
	memory    *session.MemoryTable

	mu     sync.Mutex
	chains map[string]*answerChain
}

func NewEngine(llmClient llm.LLMClient, retriever Retriever, memory *session.MemoryTable) *Engine {
	return &Engine{
		llmClient: llmClient,
		retriever: retriever,
		memory:    memory,
		chains:    make(map[string]*answerChain),
	}
}

// answerChain is the per-knowledge-base pipeline instance. Construction is
// guarded so concurrent first-uses of the same knowledge base build once.
type answerChain struct {
	knowledgeBase string
	llmClient     llm.LLMClient
	retriever     Retriever
}

func (e *Engine) chainFor(knowledgeBase string) *answerChain {
	e.mu.Lock()
	defer e.mu.Unlock()
	if chain, ok := e.chains[knowledgeBase]; ok {
		return chain
	}
	slog.Info("Building answer chain", "knowledge_base", knowledgeBase)
	chain := &answerChain{
		knowledgeBase: knowledgeBase,
		llmClient:     e.llmClient,
		retriever:     e.retriever,
	}
	e.chains[knowledgeBase] = chain
	return chain
}

// Ask runs one full answer turn: reformulate the query against session
// memory, retrieve passages from the knowledge base, generate the answer,
// then remember the exchange. Every internal failure degrades to
// FallbackAnswer; memory is only updated on success.
func (e *Engine) Ask(ctx context.Context, sessionID, query, knowledgeBase, profileData string) string {
	ctx, span := tracer.Start(ctx, "Engine.Ask")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("rag.knowledge_base", knowledgeBase),
		attribute.Bool("rag.has_profile", profileData != ""),
	)

	chain := e.chainFor(knowledgeBase)
	history := e.memory.GetOrCreate(sessionID)
	priorMessages := history.Messages()

	standalone := chain.reformulate(ctx, priorMessages, query)

	passages, err := chain.retriever.Retrieve(ctx, standalone, knowledgeBase)
	if err != nil {
		slog.Error("Passage retrieval failed", "knowledge_base", knowledgeBase, "error", err)
		span.RecordError(err)
		observability.ExternalFailuresTotal.WithLabelValues("retriever").Inc()
		return FallbackAnswer
	}

	answer, err := chain.generate(ctx, priorMessages, query, passages, profileData)
	if err != nil {
		slog.Error("Answer generation failed", "knowledge_base", knowledgeBase, "error", err)
		span.RecordError(err)
		observability.ExternalFailuresTotal.WithLabelValues("generator").Inc()
		return FallbackAnswer
	}

	history.Append(datatypes.Message{Role: datatypes.RoleUser, Content: query})
	history.Append(datatypes.Message{Role: datatypes.RoleAssistant, Content: answer})
	return answer
}

// reformulate resolves pronouns and references in query against the chat
// history, producing a standalone retrieval query. Failure is harmless: the
// raw query is retrieved as-is.
func (c *answerChain) reformulate(ctx context.Context, history []datatypes.Message, query string) string {
	if len(history) == 0 {
		return query
	}
	ctx, span := tracer.Start(ctx, "answerChain.reformulate")
	defer span.End()

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleSystem, Content: reformulateSystemPrompt})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: query})

	standalone, err := c.llmClient.Chat(ctx, messages, generationParams())
	if err != nil {
		slog.Warn("Query reformulation failed, retrieving the raw query", "error", err)
		span.RecordError(err)
		return query
	}
	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return query
	}
	return standalone
}

// generate answers the original query conditioned on retrieved passages, the
// full chat history, and the optional consumer profile block.
func (c *answerChain) generate(ctx context.Context, history []datatypes.Message,
	query string, passages []string, profileData string) (string, error) {

	ctx, span := tracer.Start(ctx, "answerChain.generate")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.passages", len(passages)))

	contextBlock := "No relevant passages found."
	if len(passages) > 0 {
		contextBlock = strings.Join(passages, "\n\n---\n\n")
	}
	profileBlock := profileData
	if profileBlock == "" {
		profileBlock = NoProfileBlock
	}

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{
		Role:    datatypes.RoleSystem,
		Content: fmt.Sprintf(personaSystemPrompt, contextBlock, profileBlock),
	})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: datatypes.RoleUser, Content: query})

	answer, err := c.llmClient.Chat(ctx, messages, generationParams())
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("generator returned an empty answer")
	}
	return answer, nil
}

func generationParams() llm.GenerationParams {
	temp := float32(0.5)
	return llm.GenerationParams{Temperature: &temp}
}
