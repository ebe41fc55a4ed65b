// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fincove/maya/services/orchestrator/classify"
	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

var (
	chunkSize          = 1000
	chunkOverlap       = chunkSize / 10
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// IngestPassagesRequest loads one document into a domain's knowledge base.
type IngestPassagesRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
	Domain  string `json:"domain"`
}

// IngestPassages chunks a document and writes its passages into the Passage
// class for the named domain.
func IngestPassages(client *weaviate.Client, taxonomy *classify.Taxonomy) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestPassagesRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Content == "" || req.Source == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content and source are required"})
			return
		}
		if !taxonomy.HasDomain(req.Domain) {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown domain %q", req.Domain)})
			return
		}

		chunksCreated, err := runIngestion(c.Request.Context(), client, req)
		if err != nil {
			slog.Error("Ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Ingested document", "source", req.Source, "domain", req.Domain, "chunks", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status": "success",
			"source": req.Source,
			"domain": req.Domain,
			"chunks": chunksCreated,
		})
	}
}

func runIngestion(ctx context.Context, client *weaviate.Client, req IngestPassagesRequest) (int, error) {
	splitter := getSplitterForFile(req.Source)
	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		return 0, fmt.Errorf("failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}

	// One batch request; the class vectorizer embeds server-side.
	objects := make([]*models.Object, len(chunks))
	now := time.Now().UnixMilli()
	for i, chunk := range chunks {
		// Content-addressed IDs make re-ingestion overwrite, not duplicate.
		hash := sha256.Sum256([]byte(req.Domain + "\x00" + chunk))
		passageUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class: "Passage",
			ID:    strfmt.UUID(passageUUID.String()),
			Properties: map[string]interface{}{
				"content":     chunk,
				"domain":      req.Domain,
				"source":      fmt.Sprintf("%s_part_%d", req.Source, i+1),
				"ingested_at": now,
			},
		}
	}

	resp, err := client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to save passages to Weaviate: %w", err)
	}

	chunksCreated := 0
	for _, obj := range resp {
		if obj.Result == nil || obj.Result.Errors == nil {
			chunksCreated++
			continue
		}
		for _, e := range obj.Result.Errors.Error {
			slog.Error("Failed to ingest chunk", "source", req.Source, "error", e.Message)
		}
	}
	return chunksCreated, nil
}

func getSplitterForFile(filename string) textsplitter.TextSplitter {
	separators := defaultSeparators
	if filepath.Ext(filename) == ".md" {
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}
