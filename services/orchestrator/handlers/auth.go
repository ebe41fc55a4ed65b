// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/fincove/maya/services/orchestrator/auth"
	"github.com/fincove/maya/services/orchestrator/datatypes"
	"github.com/fincove/maya/services/orchestrator/observability"
	"github.com/fincove/maya/services/orchestrator/session"
	"github.com/gin-gonic/gin"
)

// HandleSendOTP dispatches a one-time code and associates the normalized
// phone number with the named live session. It never touches the session's
// verification gate; that opens only via the stream's verification_complete
// frame.
func HandleSendOTP(verifier auth.Verifier, store *session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SendOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed: " + err.Error()})
			return
		}

		sess, ok := store.Get(req.SessionID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown session"})
			return
		}

		phone := auth.NormalizePhone(req.Phone)
		if err := verifier.SendCode(c.Request.Context(), phone); err != nil {
			slog.Error("Failed to send OTP", "session_id", req.SessionID, "error", err)
			observability.OTPRequestsTotal.WithLabelValues("send", "failure").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to send OTP"})
			return
		}

		sess.SetPhoneNumber(phone)
		observability.OTPRequestsTotal.WithLabelValues("send", "success").Inc()
		slog.Info("OTP dispatched", "session_id", req.SessionID)
		c.JSON(http.StatusOK, gin.H{"message": "OTP sent successfully"})
	}
}

// HandleVerifyOTP checks a submitted code against the OTP provider. A valid
// code answers {verified: true}; the client then sends verification_complete
// on its stream to open the gate.
func HandleVerifyOTP(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.VerifyOTPRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed: " + err.Error()})
			return
		}

		phone := auth.NormalizePhone(req.Phone)
		approved, err := verifier.CheckCode(c.Request.Context(), phone, req.Code)
		if err != nil {
			slog.Error("OTP check failed", "error", err)
			observability.OTPRequestsTotal.WithLabelValues("verify", "failure").Inc()
			c.JSON(http.StatusBadGateway, gin.H{"error": "OTP verification unavailable"})
			return
		}
		if !approved {
			observability.OTPRequestsTotal.WithLabelValues("verify", "failure").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OTP"})
			return
		}

		observability.OTPRequestsTotal.WithLabelValues("verify", "success").Inc()
		c.JSON(http.StatusOK, gin.H{"verified": true, "message": "Phone verified"})
	}
}
