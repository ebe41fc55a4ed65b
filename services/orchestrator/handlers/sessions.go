// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/fincove/maya/services/orchestrator/conversation"
	"github.com/gin-gonic/gin"
)

// SessionInfo is the admin view of one live session.
type SessionInfo struct {
	SessionID string `json:"session_id"`
	CreatedAt string `json:"created_at"`
	Verified  bool   `json:"verified"`
	HasPhone  bool   `json:"has_phone"`
	Turns     int    `json:"turns"`
}

// ListSessions returns the currently live sessions.
func ListSessions(orch *conversation.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := orch.Store()
		infos := make([]SessionInfo, 0, store.Len())
		for _, id := range store.IDs() {
			sess, ok := store.Get(id)
			if !ok {
				continue
			}
			infos = append(infos, SessionInfo{
				SessionID: sess.ID,
				CreatedAt: sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				Verified:  sess.Verified(),
				HasPhone:  sess.PhoneNumber() != "",
				Turns:     len(sess.Transcript()),
			})
		}
		c.JSON(http.StatusOK, gin.H{"sessions": infos, "count": len(infos)})
	}
}

// ForceCloseSession tears a session down from the admin surface. The
// transcript persists exactly as it would on a natural close; teardown also
// severs the bound websocket, so the stream goroutine exits and its own
// deferred teardown finds the session already gone.
func ForceCloseSession(orch *conversation.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := orch.Store().Get(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
			return
		}
		orch.Teardown(c.Request.Context(), id, conversation.OutcomeForced)
		c.JSON(http.StatusOK, gin.H{"status": "closed", "session_id": id})
	}
}
