package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"heliox-backend/internal/models"
	"heliox-backend/internal/services"
)

// Request bodies are small JSON documents; this bound only guards against
// junk uploads. The real message limit is MaxMessageLength.
const maxBodyBytes = 1 << 20

type ChatHandler struct {
	gemini *services.GeminiService
}

func NewChatHandler(gemini *services.GeminiService) *ChatHandler {
	return &ChatHandler{gemini: gemini}
}

// Ask handles POST /chat, the non-streaming path. It is also the fallback
// target clients retry against when a stream fails.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	req, verr := h.readRequest(r)
	if verr != nil {
		writeJSON(w, http.StatusBadRequest, errorResp(verr.Kind, verr.Message, r))
		return
	}

	upstreamReq := services.BuildRequest(req.Message, req.History, req.SystemPrompt, req.Grounding())

	resp, err := h.gemini.GenerateContent(r.Context(), upstreamReq)
	if err != nil {
		log.Printf("Gemini request failed: %v", err)
		status, code := upstreamStatus(err)
		writeJSON(w, status, errorResp(code, "Unable to process your request right now.", r))
		return
	}

	answer := services.ExtractText(resp)
	if answer == "" {
		writeJSON(w, http.StatusOK, models.ChatResponse{
			Answer:    "I was unable to generate a response for this query. Please try rephrasing.",
			Sources:   []models.Source{},
			FollowUps: []string{"Can you rephrase your question?"},
		})
		return
	}

	writeJSON(w, http.StatusOK, models.ChatResponse{
		Answer:    answer,
		Sources:   services.SourcesFromResponse(resp),
		FollowUps: services.GenerateFollowUps(answer, req.Message),
	})
}

// Stream handles POST /chat/stream. It re-frames the upstream stream as SSE:
// text deltas are relayed as they decode, grounding chunks accumulate until
// the end (the upstream may revise citations mid-stream), and every stream
// terminates with either a done frame plus [DONE] sentinel or an error frame,
// so the client read loop always finishes.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, verr := h.readRequest(r)
	if verr != nil {
		writeJSON(w, http.StatusBadRequest, errorResp(verr.Kind, verr.Message, r))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResp("STREAM_UNSUPPORTED", "Streaming unsupported", r))
		return
	}

	upstreamReq := services.BuildRequest(req.Message, req.History, req.SystemPrompt, req.Grounding())

	var (
		started   bool
		grounding []services.GroundingChunk
	)

	startStream := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	writeFrame := func(frame interface{}) error {
		data, err := json.Marshal(frame)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// The upstream call runs on r.Context(), so a client disconnect cancels
	// the upstream read promptly instead of leaking the connection.
	err := h.gemini.StreamGenerateContent(r.Context(), upstreamReq, func(f services.UpstreamFrame) error {
		switch f.Kind {
		case services.FrameGrounding:
			grounding = append(grounding, f.Grounding...)
			return nil
		case services.FrameText:
			startStream()
			return writeFrame(models.TextFrame{Type: "text", Content: f.Text})
		case services.FrameDone:
			startStream()
			done := models.DoneFrame{
				Type:      "done",
				Sources:   services.ExtractSources(grounding),
				FollowUps: []string{},
			}
			if err := writeFrame(done); err != nil {
				return err
			}
			if _, err := io.WriteString(w, "data: [DONE]\n\n"); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		case services.FrameError:
			startStream()
			return writeFrame(models.ErrorFrame{Type: "error", Message: f.Err.Error()})
		}
		return nil
	})
	if err != nil {
		if !started {
			// Nothing sent yet, so a JSON error is still possible.
			log.Printf("Gemini streaming error: %v", err)
			status, code := upstreamStatus(err)
			writeJSON(w, status, errorResp(code, "Gemini API error", r))
			return
		}
		// Mid-stream failure: the error frame (when the client was still
		// reachable) has already gone out. Retry is the client's job.
		log.Printf("Stream ended with error: %v", err)
	}
}

func (h *ChatHandler) readRequest(r *http.Request) (*models.ChatRequest, *ValidationError) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, &ValidationError{Kind: ErrKindEmptyBody, Message: "Invalid request body"}
	}
	return validateChatRequest(body)
}

// upstreamStatus maps an upstream failure to the relayed HTTP status: 5xx
// upstream replies become 502, 4xx are passed through, and transport-level
// failures are 500.
func upstreamStatus(err error) (int, string) {
	var ue *services.UpstreamError
	if errors.As(err, &ue) {
		if ue.StatusCode >= 500 {
			return http.StatusBadGateway, "UPSTREAM_ERROR"
		}
		return ue.StatusCode, "UPSTREAM_ERROR"
	}
	return http.StatusInternalServerError, "UPSTREAM_UNREACHABLE"
}
