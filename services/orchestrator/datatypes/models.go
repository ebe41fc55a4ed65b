// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Message is a single role-tagged chat message, shared between the
// conversational memory, the LLM backends, and the stream handlers.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles used throughout the service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
