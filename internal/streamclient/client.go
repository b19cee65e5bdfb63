// Package streamclient consumes the Heliox chat backend the same way the web
// UI does: stream from /chat/stream, fall back to /chat exactly once when the
// stream fails, and treat a caller-initiated abort as its own terminal state.
package streamclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	"heliox-backend/internal/models"
)

// ErrAborted terminates a stream cancelled via Abort. It never triggers the
// non-streaming fallback: the caller asked to stop, not to retry. Text
// already delivered stays with the consumer.
var ErrAborted = errors.New("stream aborted by caller")

// Chunk mirrors the upstream generate-content response shape so consumers of
// the streaming and fallback paths pattern-match on a single structure.
type Chunk struct {
	Candidates []Candidate `json:"candidates"`
}

type Candidate struct {
	Content           Content            `json:"content"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type Content struct {
	Parts []Part `json:"parts"`
}

type Part struct {
	Text string `json:"text"`
}

type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

type GroundingChunk struct {
	Web WebSource `json:"web"`
}

type WebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Event is one item of the lazy stream: a chunk, or a terminal error.
type Event struct {
	Chunk *Chunk
	Err   error
}

// Client talks to one backend. A single stream may be in flight at a time;
// Abort cancels it.
type Client struct {
	StreamURL  string
	ChatURL    string
	HTTPClient *http.Client

	mu            sync.Mutex
	cancel        context.CancelFunc
	lastFollowUps []string
	lastSources   []models.Source
}

func New(baseURL string) *Client {
	base := strings.TrimSuffix(baseURL, "/")
	return &Client{
		StreamURL:  base + "/chat/stream",
		ChatURL:    base + "/chat",
		HTTPClient: http.DefaultClient,
	}
}

// Abort cancels the in-flight stream, if any.
func (c *Client) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// StreamChat sends the trailing history entry as the new message, the rest as
// prior turns, and streams the reply. The returned channel yields chunks
// until a terminal event (stream end, error, or abort) and is then closed; a
// fresh call starts a new round-trip. On any failure other than an abort the
// client retries once against the non-streaming endpoint with the identical
// body and yields the full answer as a single chunk.
func (c *Client) StreamChat(ctx context.Context, history []models.ChatMessage, systemPrompt string) (<-chan Event, error) {
	if len(history) == 0 {
		return nil, errors.New("history must contain at least the user message")
	}

	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.cancel = cancel
	c.lastFollowUps = nil
	c.lastSources = nil
	c.mu.Unlock()

	last := history[len(history)-1]
	prior := make([]models.ChatMessage, 0, len(history)-1)
	for _, msg := range history[:len(history)-1] {
		role := "model"
		if msg.Role == "user" {
			role = "user"
		}
		prior = append(prior, models.ChatMessage{Role: role, Content: msg.Content})
	}

	body, err := json.Marshal(models.ChatRequest{
		Message:      last.Content,
		History:      prior,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer cancel()

		err := c.stream(ctx, body, events)
		if err == nil {
			return
		}
		if isAbort(ctx, err) {
			events <- Event{Err: ErrAborted}
			return
		}

		log.Printf("Stream failed, falling back to non-streaming endpoint: %v", err)
		if fbErr := c.fallback(ctx, body, events); fbErr != nil {
			if isAbort(ctx, fbErr) {
				events <- Event{Err: ErrAborted}
			} else {
				events <- Event{Err: fbErr}
			}
		}
	}()
	return events, nil
}

// GenerateSuggestions hands out the follow-ups cached from the last completed
// response, then clears them. One-shot.
func (c *Client) GenerateSuggestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	suggestions := c.lastFollowUps
	c.lastFollowUps = nil
	return suggestions
}

// LastSources returns the sources cited by the most recent response.
func (c *Client) LastSources() []models.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSources
}

func (c *Client) stream(ctx context.Context, body []byte, events chan<- Event) error {
	resp, err := c.post(ctx, c.StreamURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readErrorBody(resp)
	}

	// Mirror the server's framing: split on newlines, keep the trailing
	// partial line buffered, act only on "data: " lines.
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

		var frame struct {
			Type      string          `json:"type"`
			Content   string          `json:"content"`
			Sources   []models.Source `json:"sources"`
			FollowUps []string        `json:"followUps"`
			Message   string          `json:"message"`
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// Incomplete fragment; skip rather than fail the stream.
			continue
		}

		switch frame.Type {
		case "text":
			if frame.Content == "" {
				continue
			}
			chunk := &Chunk{Candidates: []Candidate{{
				Content: Content{Parts: []Part{{Text: frame.Content}}},
			}}}
			if err := emit(ctx, events, Event{Chunk: chunk}); err != nil {
				return err
			}
		case "done":
			if len(frame.Sources) > 0 {
				c.mu.Lock()
				c.lastSources = frame.Sources
				c.mu.Unlock()

				chunk := &Chunk{Candidates: []Candidate{{
					Content:           Content{Parts: []Part{{Text: ""}}},
					GroundingMetadata: &GroundingMetadata{GroundingChunks: sourcesToChunks(frame.Sources)},
				}}}
				if err := emit(ctx, events, Event{Chunk: chunk}); err != nil {
					return err
				}
			}
			if frame.FollowUps != nil {
				c.mu.Lock()
				c.lastFollowUps = frame.FollowUps
				c.mu.Unlock()
			}
		case "error":
			if frame.Message == "" {
				frame.Message = "Streaming error"
			}
			return errors.New(frame.Message)
		}
	}

	return scanner.Err()
}

func (c *Client) fallback(ctx context.Context, body []byte, events chan<- Event) error {
	resp, err := c.post(ctx, c.ChatURL, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readErrorBody(resp)
	}

	var data models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode fallback response: %w", err)
	}

	c.mu.Lock()
	c.lastFollowUps = data.FollowUps
	c.lastSources = data.Sources
	c.mu.Unlock()

	chunk := &Chunk{Candidates: []Candidate{{
		Content:           Content{Parts: []Part{{Text: data.Answer}}},
		GroundingMetadata: &GroundingMetadata{GroundingChunks: sourcesToChunks(data.Sources)},
	}}}
	return emit(ctx, events, Event{Chunk: chunk})
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.HTTPClient.Do(req)
}

func emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isAbort distinguishes a caller-initiated cancellation from a transport
// failure: the wrapped context is only ever cancelled through Abort (or the
// caller's own parent context).
func isAbort(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

func readErrorBody(resp *http.Response) error {
	msg := resp.Status
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error.Message != "" {
		msg = payload.Error.Message
	}
	return fmt.Errorf("server error: %s", msg)
}

func sourcesToChunks(sources []models.Source) []GroundingChunk {
	chunks := make([]GroundingChunk, len(sources))
	for i, s := range sources {
		chunks[i] = GroundingChunk{Web: WebSource{URI: s.URL, Title: s.Title}}
	}
	return chunks
}
