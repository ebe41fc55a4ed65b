// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides wire and persistence types for the orchestrator
// service: stream control frames, OTP side-channel payloads, transcript
// records, and the Weaviate schema definitions backing them.
package datatypes

import "encoding/json"

// Control frame types exchanged on the conversation stream.
const (
	// TypeVerificationComplete is the inbound frame a client sends after the
	// OTP side channel confirmed their phone. It is the only signal that
	// unlocks the authentication gate for the live session.
	TypeVerificationComplete = "verification_complete"

	// TypeVerified acknowledges a verification_complete frame.
	TypeVerified = "verified"

	// TypeAuthRequired tells the client an actionable intent was recognized
	// but the session has not been verified yet.
	TypeAuthRequired = "auth_required"

	// TypeText carries the answer text for a turn. It precedes any binary
	// audio frames synthesized for the same answer.
	TypeText = "text"

	// TypeSessionCreated is sent once, immediately after the stream opens,
	// so the client can address the session on the OTP side channel.
	TypeSessionCreated = "session_created"
)

// ControlFrame is the generic inbound structured message. Anything that does
// not parse as a ControlFrame is treated as a plain user utterance.
type ControlFrame struct {
	Type string `json:"type"`
}

// ParseControlFrame reports whether raw is a structured control frame and, if
// so, which type it carries. Plain utterances (including malformed JSON) are
// not control frames.
func ParseControlFrame(raw string) (ControlFrame, bool) {
	var frame ControlFrame
	if err := json.Unmarshal([]byte(raw), &frame); err != nil {
		return ControlFrame{}, false
	}
	if frame.Type == "" {
		return ControlFrame{}, false
	}
	return frame, true
}

// VerifiedEvent acknowledges stream-level verification.
type VerifiedEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewVerifiedEvent builds the acknowledgment for a verification_complete frame.
func NewVerifiedEvent() VerifiedEvent {
	return VerifiedEvent{
		Type:    TypeVerified,
		Message: "OTP verification successful",
	}
}

// AuthRequiredEvent blocks a turn pending step-up verification. SID lets the
// client address this session on the OTP side channel.
type AuthRequiredEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Intent  string `json:"intent"`
	SID     string `json:"SID"`
}

// NewAuthRequiredEvent builds the gate event for a recognized intent on an
// unverified session.
func NewAuthRequiredEvent(intent, sessionID string) AuthRequiredEvent {
	return AuthRequiredEvent{
		Type:    TypeAuthRequired,
		Message: "OTP verification is required for intent '" + intent + "'",
		Intent:  intent,
		SID:     sessionID,
	}
}

// TextEvent carries the answer text for a turn.
type TextEvent struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// NewTextEvent wraps answer text for the stream.
func NewTextEvent(answer string) TextEvent {
	return TextEvent{Type: TypeText, Data: answer}
}

// SessionCreatedEvent announces the session identifier on connect.
type SessionCreatedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// NewSessionCreatedEvent builds the connect-time announcement.
func NewSessionCreatedEvent(sessionID string) SessionCreatedEvent {
	return SessionCreatedEvent{Type: TypeSessionCreated, SessionID: sessionID}
}
