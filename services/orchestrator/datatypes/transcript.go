// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// TranscriptTurn is one completed question/answer exchange within a session.
// Domain and Intent record what the classifiers decided for the turn; both
// are empty when classification degraded to "none".
type TranscriptTurn struct {
	Query    string `json:"query"`
	Response string `json:"response"`
	Domain   string `json:"domain,omitempty"`
	Intent   string `json:"intent,omitempty"`
}

// SessionTranscript is the full record persisted when a session closes:
// ordered turns plus session metadata. The durable store receives exactly one
// transcript per session, on the teardown path.
type SessionTranscript struct {
	SessionID   string           `json:"session_id"`
	PhoneNumber string           `json:"phone_number,omitempty"`
	StartedAt   int64            `json:"started_at"`
	ClosedAt    int64            `json:"closed_at"`
	Turns       []TranscriptTurn `json:"turns"`
}
