// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// passageVectorizer returns the vectorizer module for the Passage class.
// Retrieval uses nearText, so the class needs a server-side vectorizer; which
// one is a deployment concern.
func passageVectorizer() string {
	if v := os.Getenv("WEAVIATE_VECTORIZER"); v != "" {
		return v
	}
	return "text2vec-transformers"
}

// GetPassageSchema defines the knowledge-base passage class. All domains
// share one class; the domain field scopes retrieval to one knowledge base.
func GetPassageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "Passage",
		Description: "A knowledge-base passage for one financial domain.",
		Vectorizer:  passageVectorizer(),
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The passage text.",
				Tokenization: "word",
			},
			{
				Name:            "domain",
				DataType:        []string{"text"},
				Description:     "Knowledge base this passage belongs to (banking, loan, ...).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "source",
				DataType:        []string{"text"},
				Description:     "Original document this passage was chunked from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetSessionRecordSchema defines the persisted session metadata class,
// written once at session teardown.
func GetSessionRecordSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "SessionRecord",
		Description: "Metadata for a closed conversation session.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The stream session identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "phone_number",
				DataType:     []string{"text"},
				Description:  "Phone number on file for the session, if any.",
				Tokenization: "field",
			},
			{
				Name:     "started_at",
				DataType: []string{"number"},
			},
			{
				Name:     "closed_at",
				DataType: []string{"number"},
			},
		},
	}
}

// GetConversationTurnSchema defines one persisted question/answer turn.
func GetConversationTurnSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ConversationTurn",
		Description: "One query/response turn of a closed session transcript.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "The parent session identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "query",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:         "response",
				DataType:     []string{"text"},
				Tokenization: "word",
			},
			{
				Name:            "domain",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "intent",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "turn_number",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "timestamp",
				DataType:        []string{"number"},
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup. Creation
// failures are fatal: the service cannot retrieve or persist without them.
func EnsureWeaviateSchema(client *weaviate.Client) {
	schemaGetters := []func() *models.Class{
		GetPassageSchema,
		GetSessionRecordSchema,
		GetConversationTurnSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// The client errors when the class does not exist yet.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
}
