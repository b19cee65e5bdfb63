package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"heliox-backend/internal/models"
)

// Upstream request schema for the generative-language REST API. The service
// talks to the API directly over HTTP rather than through the official SDK:
// the streaming endpoint's raw SSE lines must be re-framed incrementally, and
// the streaming and non-streaming paths must send byte-identical bodies so a
// fallback is a retry of the same request.

type GeminiPart struct {
	Text string `json:"text"`
}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GeminiTool declares the Google Search grounding tool; the empty object is
// the upstream's "enabled" marker.
type GeminiTool struct {
	GoogleSearch struct{} `json:"googleSearch"`
}

type GeminiRequest struct {
	Contents         []GeminiContent  `json:"contents"`
	GenerationConfig GenerationConfig `json:"generationConfig"`
	SafetySettings   []SafetySetting  `json:"safetySettings"`
	Tools            []GeminiTool     `json:"tools,omitempty"`
}

// Upstream response schema, shared by full responses and stream chunks.

type GroundingWeb struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type GroundingChunk struct {
	Web *GroundingWeb `json:"web,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks,omitempty"`
}

type GeminiCandidate struct {
	Content           *GeminiContent     `json:"content,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type GeminiResponse struct {
	Candidates []GeminiCandidate `json:"candidates"`
}

type geminiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// UpstreamError reports a non-2xx reply from the generative-language API.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("gemini API error (status %d): %s", e.StatusCode, e.Message)
}

// FrameKind classifies one decoded upstream stream event.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameGrounding
	FrameDone
	FrameError
)

// UpstreamFrame is one tagged event decoded from the upstream stream. The
// final frame of every stream is FrameDone or FrameError.
type UpstreamFrame struct {
	Kind      FrameKind
	Text      string
	Grounding []GroundingChunk
	Err       error
}

const (
	systemPromptPrefix = "[System Instructions - Follow strictly]: "
	systemPromptAck    = "I understand and will follow these instructions carefully."
)

type GeminiService struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGeminiService(apiKey, model, baseURL string) *GeminiService {
	return &GeminiService{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		// No client timeout: streams stay open as long as the upstream keeps
		// generating. Cancellation comes from the request context.
		client: &http.Client{},
	}
}

// BuildRequest converts a validated chat request into the upstream schema.
// Every endpoint goes through here so that a fallback after a failed stream
// is semantically a retry, not a different request.
func BuildRequest(message string, history []models.ChatMessage, systemPrompt string, enableGrounding bool) *GeminiRequest {
	var contents []GeminiContent

	// The upstream has no first-class system role; smuggle the prompt in as
	// a user/model turn pair.
	if systemPrompt != "" {
		contents = append(contents,
			GeminiContent{Role: "user", Parts: []GeminiPart{{Text: systemPromptPrefix + systemPrompt}}},
			GeminiContent{Role: "model", Parts: []GeminiPart{{Text: systemPromptAck}}},
		)
	}

	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		role := "model"
		if msg.Role == "user" {
			role = "user"
		}
		contents = append(contents, GeminiContent{Role: role, Parts: []GeminiPart{{Text: msg.Content}}})
	}

	contents = append(contents, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: message}}})

	req := &GeminiRequest{
		Contents: contents,
		GenerationConfig: GenerationConfig{
			Temperature:     0.7,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: 8192,
		},
		SafetySettings: []SafetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
		},
	}

	if enableGrounding {
		req.Tools = []GeminiTool{{}}
	}

	return req
}

// GenerateContent performs one blocking generation call.
func (s *GeminiService) GenerateContent(ctx context.Context, req *GeminiRequest) (*GeminiResponse, error) {
	resp, err := s.post(ctx, "generateContent", "", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readUpstreamError(resp)
	}

	var out GeminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode Gemini response: %w", err)
	}
	return &out, nil
}

// StreamGenerateContent opens the streaming endpoint and invokes onFrame for
// each decoded event, ending with FrameDone or FrameError. A line that does
// not parse as JSON is an incomplete fragment and is skipped, never treated
// as an error. An onFrame error (the client went away) aborts the read and is
// returned as-is. An upstream non-200 is returned before any frame is
// delivered.
func (s *GeminiService) StreamGenerateContent(ctx context.Context, req *GeminiRequest, onFrame func(UpstreamFrame) error) error {
	resp, err := s.post(ctx, "streamGenerateContent", "alt=sse", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readUpstreamError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk GeminiResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}

		for _, frame := range classifyChunk(&chunk) {
			if err := onFrame(frame); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		if ferr := onFrame(UpstreamFrame{Kind: FrameError, Err: err}); ferr != nil {
			return ferr
		}
		return err
	}

	return onFrame(UpstreamFrame{Kind: FrameDone})
}

// classifyChunk maps one parsed stream object onto frame variants. Grounding
// precedes text so citation state is current before the delta is relayed.
func classifyChunk(chunk *GeminiResponse) []UpstreamFrame {
	if len(chunk.Candidates) == 0 {
		return nil
	}
	cand := chunk.Candidates[0]

	var frames []UpstreamFrame
	if gm := cand.GroundingMetadata; gm != nil && len(gm.GroundingChunks) > 0 {
		frames = append(frames, UpstreamFrame{Kind: FrameGrounding, Grounding: gm.GroundingChunks})
	}
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				frames = append(frames, UpstreamFrame{Kind: FrameText, Text: part.Text})
			}
		}
	}
	return frames
}

func (s *GeminiService) post(ctx context.Context, method, query string, req *GeminiRequest) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:%s?key=%s", s.baseURL, s.model, method, s.apiKey)
	if query != "" {
		url = fmt.Sprintf("%s/%s:%s?%s&key=%s", s.baseURL, s.model, method, query, s.apiKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("Gemini request failed: %w", err)
	}
	return resp, nil
}

func readUpstreamError(resp *http.Response) error {
	msg := fmt.Sprintf("status %d", resp.StatusCode)
	var payload geminiErrorBody
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	return &UpstreamError{StatusCode: resp.StatusCode, Message: msg}
}

// ExtractText concatenates the text parts of the response candidates.
func ExtractText(resp *GeminiResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				text.WriteString(part.Text)
			}
		}
	}
	return text.String()
}
