package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"heliox-backend/internal/models"
)

const (
	MaxMessageLength = 15000
	MaxHistoryLength = 30
)

// Validation error kinds, used as the "code" of 400 responses.
const (
	ErrKindEmptyBody      = "EMPTY_BODY"
	ErrKindInvalidMessage = "INVALID_MESSAGE"
	ErrKindMessageTooLong = "MESSAGE_TOO_LONG"
	ErrKindInvalidHistory = "INVALID_HISTORY"
)

// ValidationError identifies which request rule failed.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// rawChatRequest defers field decoding so type mismatches can be reported as
// the right validation kind instead of a generic JSON error.
type rawChatRequest struct {
	Message         json.RawMessage `json:"message"`
	History         json.RawMessage `json:"history"`
	SystemPrompt    string          `json:"systemPrompt"`
	EnableGrounding *bool           `json:"enableGrounding"`
}

// validateChatRequest applies the request rules in order; the first failure
// wins. A history longer than MaxHistoryLength is truncated to the most
// recent entries rather than rejected. Validation has no side effects, so
// validating the same body twice yields the same normalized request.
func validateChatRequest(body []byte) (*models.ChatRequest, *ValidationError) {
	var raw rawChatRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ValidationError{Kind: ErrKindEmptyBody, Message: "Invalid request body"}
	}

	var message string
	if raw.Message == nil || json.Unmarshal(raw.Message, &message) != nil {
		return nil, &ValidationError{Kind: ErrKindInvalidMessage, Message: "Message is required and must be a string"}
	}
	if strings.TrimSpace(message) == "" {
		return nil, &ValidationError{Kind: ErrKindInvalidMessage, Message: "Message cannot be empty"}
	}
	if len(message) > MaxMessageLength {
		return nil, &ValidationError{
			Kind:    ErrKindMessageTooLong,
			Message: fmt.Sprintf("Message too long (max %d characters)", MaxMessageLength),
		}
	}

	var history []models.ChatMessage
	if raw.History != nil {
		if err := json.Unmarshal(raw.History, &history); err != nil {
			return nil, &ValidationError{Kind: ErrKindInvalidHistory, Message: "History must be an array"}
		}
		if len(history) > MaxHistoryLength {
			history = history[len(history)-MaxHistoryLength:]
		}
	}

	return &models.ChatRequest{
		Message:         message,
		History:         history,
		SystemPrompt:    raw.SystemPrompt,
		EnableGrounding: raw.EnableGrounding,
	}, nil
}
