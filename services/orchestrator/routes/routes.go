// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/fincove/maya/services/orchestrator/auth"
	"github.com/fincove/maya/services/orchestrator/classify"
	"github.com/fincove/maya/services/orchestrator/conversation"
	"github.com/fincove/maya/services/orchestrator/handlers"
	"github.com/fincove/maya/services/orchestrator/tts"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

func SetupRoutes(router *gin.Engine, client *weaviate.Client, orch *conversation.Orchestrator,
	verifier auth.Verifier, synth tts.Synthesizer, taxonomy *classify.Taxonomy) {

	router.GET("/health", handlers.HandleHealthCheck(client))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// The conversation stream
	router.GET("/ws/stream", handlers.HandleConversationStream(orch, synth))

	// OTP side channel
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/send-otp", handlers.HandleSendOTP(verifier, orch.Store()))
		authGroup.POST("/verify-otp", handlers.HandleVerifyOTP(verifier))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/documents", handlers.IngestPassages(client, taxonomy))
		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(orch))
			sessions.DELETE("/:id", handlers.ForceCloseSession(orch))
		}
	}
}
