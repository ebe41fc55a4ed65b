// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fincove/maya/services/llm"
	"github.com/fincove/maya/services/orchestrator/classify"
	"github.com/fincove/maya/services/orchestrator/conversation"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/profile"
	"github.com/fincove/maya/services/orchestrator/rag"
	"github.com/fincove/maya/services/orchestrator/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct{}

func (stubLLM) Generate(_ context.Context, _ string, _ llm.GenerationParams) (string, error) {
	return "unknown", nil
}

func (stubLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return "Hello!", nil
}

func newTestOrchestrator(t *testing.T) *conversation.Orchestrator {
	t.Helper()
	taxonomy, err := classify.LoadTaxonomy()
	require.NoError(t, err)

	memory := session.NewMemoryTable(session.DefaultMemoryWindow)
	return conversation.NewOrchestrator(
		session.NewStore(),
		memory,
		classify.NewClassifier(stubLLM{}, taxonomy),
		rag.NewEngine(stubLLM{}, rag.EmptyRetriever{}, memory),
		profile.NoopResolver{},
		discardWriter{},
	)
}

type discardWriter struct{}

func (discardWriter) Persist(_ context.Context, _ *datatypes.SessionTranscript) error {
	return nil
}

func TestListSessions(t *testing.T) {
	orch := newTestOrchestrator(t)
	sess := orch.OpenSession()
	sess.SetPhoneNumber("+919812345678")
	sess.MarkVerified()

	router := gin.New()
	router.GET("/v1/sessions", ListSessions(orch))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/v1/sessions", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Sessions []SessionInfo `json:"sessions"`
		Count    int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, sess.ID, resp.Sessions[0].SessionID)
	assert.True(t, resp.Sessions[0].Verified)
	assert.True(t, resp.Sessions[0].HasPhone)
}

func TestForceCloseSession(t *testing.T) {
	orch := newTestOrchestrator(t)
	sess := orch.OpenSession()

	router := gin.New()
	router.DELETE("/v1/sessions/:id", ForceCloseSession(orch))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/v1/sessions/"+sess.ID, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	_, ok := orch.Store().Get(sess.ID)
	assert.False(t, ok, "Expected forced session to be removed")

	// A second close reports not found: teardown already happened.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("DELETE", "/v1/sessions/"+sess.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
