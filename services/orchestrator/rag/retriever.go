// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultRetrievalLimit is the passage count handed to the generator.
const DefaultRetrievalLimit = 4

// Retriever fetches the most relevant knowledge-base passages for a query,
// scoped to one domain's knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, query, domain string) ([]string, error)
}

// ====================================================================
// Weaviate retriever
// ====================================================================

// WeaviateRetriever runs a nearText search over the shared Passage class,
// filtered to the requested domain.
type WeaviateRetriever struct {
	client *weaviate.Client
	limit  int
}

func NewWeaviateRetriever(client *weaviate.Client) *WeaviateRetriever {
	return &WeaviateRetriever{client: client, limit: DefaultRetrievalLimit}
}

type passageResponse struct {
	Get struct {
		Passage []struct {
			Content string `json:"content"`
		} `json:"Passage"`
	} `json:"Get"`
}

func (r *WeaviateRetriever) Retrieve(ctx context.Context, query, domain string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("rag.domain", domain))

	whereFilter := filters.Where().
		WithPath([]string{"domain"}).
		WithOperator(filters.Equal).
		WithValueString(domain)

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	result, err := r.client.GraphQL().Get().
		WithClassName("Passage").
		WithFields(graphql.Field{Name: "content"}).
		WithWhere(whereFilter).
		WithNearText(nearText).
		WithLimit(r.limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("passage retrieval failed: %w", err)
	}
	if len(result.Errors) > 0 {
		err := fmt.Errorf("passage retrieval error: %s", result.Errors[0].Message)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Round-trip through JSON for a typed view of the GraphQL payload.
	jsonBytes, err := json.Marshal(result.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal retrieval response: %w", err)
	}
	var typed passageResponse
	if err := json.Unmarshal(jsonBytes, &typed); err != nil {
		return nil, fmt.Errorf("unmarshal retrieval response: %w", err)
	}

	passages := make([]string, 0, len(typed.Get.Passage))
	for _, p := range typed.Get.Passage {
		if p.Content != "" {
			passages = append(passages, p.Content)
		}
	}
	span.SetAttributes(attribute.Int("rag.passages", len(passages)))
	slog.Debug("Retrieved knowledge-base passages", "domain", domain, "count", len(passages))
	return passages, nil
}

// ====================================================================
// Empty retriever
// ====================================================================

// EmptyRetriever retrieves nothing. Used in lightweight mode without a
// vector store; the generator answers from the model alone.
type EmptyRetriever struct{}

func (EmptyRetriever) Retrieve(_ context.Context, _, _ string) ([]string, error) {
	return nil, nil
}
