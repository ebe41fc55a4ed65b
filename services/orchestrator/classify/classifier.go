// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fincove/maya/services/llm"
	"github.com/fincove/maya/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("maya.orchestrator.classify")

// None is the sentinel for "no domain" / "no intent".
const None = ""

const domainPromptTemplate = `You are a domain classifier for financial domain classification. Your goal is to classify the user query into the most suitable or relevant domains from: %s.

User query: %s

Respond only with the domain name (one word).`

const intentPromptTemplate = `You are an intent classifier strictly for the domain: %s

Available intents:
%s

Rules:
- Your job is to classify a user query into one or more intents of the above intents.
- Choose an intent **only if** the query clearly and unambiguously matches the meaning of the intent.
- If the query is vague, general, asks for definitions, or does not closely align with any intent, respond with **"unknown"**.
- Do **not** guess or infer. Be strict. Only respond with one of the following:
- An intent name from the list
- Or the word: unknown

User query: %s

Respond only with the intent name or "unknown".`

// ====================================================================
// Classifier
// ====================================================================

// # Description
//
//	Classifier routes an utterance to a domain and an intent using a single
//	short deterministic completion per question. Both directions are memoized
//	in bounded LRU tables so a repeated utterance never re-issues the model
//	call, including utterances whose first classification attempt failed.
type Classifier struct {
	llmClient   llm.LLMClient
	taxonomy    *Taxonomy
	domainCache *lruCache
	intentCache *lruCache
}

func NewClassifier(llmClient llm.LLMClient, taxonomy *Taxonomy) *Classifier {
	return &Classifier{
		llmClient:   llmClient,
		taxonomy:    taxonomy,
		domainCache: newLRUCache(DefaultCacheSize),
		intentCache: newLRUCache(DefaultCacheSize),
	}
}

// Taxonomy exposes the static domain -> intents mapping.
func (c *Classifier) Taxonomy() *Taxonomy {
	return c.taxonomy
}

// ClassifyDomain maps an utterance to one of the configured domain labels, or
// None. A model failure or an off-list answer degrades to None and is cached
// so the utterance is never retried within the process lifetime.
func (c *Classifier) ClassifyDomain(ctx context.Context, utterance string) string {
	if cached, ok := c.domainCache.Get(utterance); ok {
		observability.ClassificationCacheHits.WithLabelValues("domain").Inc()
		return cached
	}

	ctx, span := tracer.Start(ctx, "Classifier.ClassifyDomain")
	defer span.End()

	prompt := fmt.Sprintf(domainPromptTemplate, c.taxonomy.DomainList(), utterance)
	raw, err := c.llmClient.Generate(ctx, prompt, classifierParams(10))

	domain := None
	if err != nil {
		slog.Error("Domain classification failed", "error", err)
		span.RecordError(err)
		observability.ExternalFailuresTotal.WithLabelValues("classifier").Inc()
	} else {
		candidate := strings.ToLower(strings.TrimSpace(raw))
		if c.taxonomy.HasDomain(candidate) {
			domain = candidate
		} else {
			slog.Debug("Domain classifier returned an off-list label", "raw", candidate)
		}
	}
	span.SetAttributes(attribute.String("classify.domain", domain))

	c.domainCache.Add(utterance, domain)
	return domain
}

// ClassifyIntent maps an utterance within a domain to one of that domain's
// configured intents, or None. A None domain short-circuits without issuing a
// model call. The strict prompt pushes vague or definitional queries to the
// "unknown" sentinel, which also maps to None.
func (c *Classifier) ClassifyIntent(ctx context.Context, utterance, domain string) string {
	if domain == None {
		return None
	}
	cacheKey := utterance + "\x00" + domain
	if cached, ok := c.intentCache.Get(cacheKey); ok {
		observability.ClassificationCacheHits.WithLabelValues("intent").Inc()
		return cached
	}

	ctx, span := tracer.Start(ctx, "Classifier.ClassifyIntent")
	defer span.End()
	span.SetAttributes(attribute.String("classify.domain", domain))

	intentList, ok := c.taxonomy.IntentsFor(domain)
	if !ok {
		c.intentCache.Add(cacheKey, None)
		return None
	}

	prompt := fmt.Sprintf(intentPromptTemplate, domain, strings.Join(intentList, ", "), utterance)
	raw, err := c.llmClient.Generate(ctx, prompt, classifierParams(15))

	intent := None
	if err != nil {
		slog.Error("Intent classification failed", "domain", domain, "error", err)
		span.RecordError(err)
		observability.ExternalFailuresTotal.WithLabelValues("classifier").Inc()
	} else {
		candidate := strings.ToLower(strings.TrimSpace(raw))
		if candidate != "unknown" && c.taxonomy.HasIntent(domain, candidate) {
			intent = candidate
		}
	}
	span.SetAttributes(attribute.String("classify.intent", intent))

	c.intentCache.Add(cacheKey, intent)
	return intent
}

// classifierParams biases the model toward a short deterministic label.
func classifierParams(maxTokens int) llm.GenerationParams {
	temp := float32(0.2)
	return llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	}
}
