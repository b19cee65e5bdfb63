package models

// ChatMessage represents a single turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "model"
	Content string `json:"content"`
}

// ChatRequest is the payload sent to the chat endpoints.
type ChatRequest struct {
	Message         string        `json:"message"`
	History         []ChatMessage `json:"history,omitempty"`
	SystemPrompt    string        `json:"systemPrompt,omitempty"`
	EnableGrounding *bool         `json:"enableGrounding,omitempty"`
}

// Grounding reports whether web grounding was requested. An absent field
// means grounding is on.
func (r *ChatRequest) Grounding() bool {
	return r.EnableGrounding == nil || *r.EnableGrounding
}

// Source is one cited web source attached to a grounded answer.
type Source struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// ChatResponse is the non-streaming reply.
type ChatResponse struct {
	Answer    string   `json:"answer"`
	Sources   []Source `json:"sources"`
	FollowUps []string `json:"followUps"`
}

// The three SSE frame variants written to the client. Their JSON shapes are
// the wire contract; consumers switch on the "type" field.

// TextFrame carries one incremental text delta.
type TextFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DoneFrame terminates a stream with the collected citations. No text frame
// ever follows it.
type DoneFrame struct {
	Type      string   `json:"type"`
	Sources   []Source `json:"sources"`
	FollowUps []string `json:"followUps"`
}

// ErrorFrame reports an in-stream failure.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// APIError is the error payload carried by non-streaming error responses.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorResponse wraps an APIError for JSON encoding.
type ErrorResponse struct {
	Error      APIError `json:"error"`
	RetryAfter int      `json:"retryAfter,omitempty"`
}
