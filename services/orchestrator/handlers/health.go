// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// HandleHealthCheck reports process liveness and, when a durable store is
// attached, its readiness. client is nil in lightweight mode.
func HandleHealthCheck(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": "disabled"})
			return
		}
		ready, err := client.Misc().ReadyChecker().Do(c.Request.Context())
		if err != nil || !ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "storage": "unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "storage": "ready"})
	}
}
