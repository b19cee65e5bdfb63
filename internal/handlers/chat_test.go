package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"heliox-backend/internal/models"
	"heliox-backend/internal/services"
)

// newStubUpstream returns a ChatHandler wired to a fake generative-language
// API and the stub server for inspection.
func newStubUpstream(t *testing.T, handler http.HandlerFunc) (*ChatHandler, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gemini := services.NewGeminiService("test-key", "gemini-1.5-flash", server.URL)
	return NewChatHandler(gemini), server
}

func decodeFrames(t *testing.T, body string) []map[string]interface{} {
	t.Helper()
	var frames []map[string]interface{}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			frames = append(frames, map[string]interface{}{"type": "[DONE]"})
			continue
		}
		var frame map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("Unparseable frame %q: %v", payload, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStream_EndToEnd(t *testing.T) {
	h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "streamGenerateContent") {
			t.Errorf("Expected streaming endpoint, got %s", r.URL.Path)
		}
		var req services.GeminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode upstream request: %v", err)
		}
		if len(req.Tools) != 1 {
			t.Errorf("Expected grounding tool attached, got %d tools", len(req.Tools))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"He"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"llo"}]}}]}`+"\n\n")
		fmt.Fprint(w, `data: {"candidates":[{"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://a.example","title":"A"}}]}}]}`+"\n\n")
	})

	body := `{"message":"hi","history":[],"systemPrompt":"","enableGrounding":true}`
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
	rr := httptest.NewRecorder()

	h.Stream(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %q", ct)
	}

	frames := decodeFrames(t, rr.Body.String())
	if len(frames) != 4 {
		t.Fatalf("Expected 4 frames, got %d: %v", len(frames), frames)
	}

	if frames[0]["type"] != "text" || frames[0]["content"] != "He" {
		t.Errorf("Frame 0: expected text 'He', got %v", frames[0])
	}
	if frames[1]["type"] != "text" || frames[1]["content"] != "llo" {
		t.Errorf("Frame 1: expected text 'llo', got %v", frames[1])
	}

	if frames[2]["type"] != "done" {
		t.Fatalf("Frame 2: expected done, got %v", frames[2])
	}
	sources, _ := frames[2]["sources"].([]interface{})
	if len(sources) != 1 {
		t.Fatalf("Expected 1 source, got %v", frames[2]["sources"])
	}
	source := sources[0].(map[string]interface{})
	if source["url"] != "https://a.example" || source["domain"] != "a.example" || source["title"] != "A" {
		t.Errorf("Unexpected source: %v", source)
	}
	followUps, ok := frames[2]["followUps"].([]interface{})
	if !ok || len(followUps) != 0 {
		t.Errorf("Expected empty followUps array, got %v", frames[2]["followUps"])
	}

	if frames[3]["type"] != "[DONE]" {
		t.Errorf("Expected terminal [DONE] sentinel, got %v", frames[3])
	}
}

func TestStream_SkipsPartialFragments(t *testing.T) {
	h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"candidates":[`+"\n\n") // truncated chunk
		fmt.Fprint(w, `data: {"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`+"\n\n")
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi"}`))
	rr := httptest.NewRecorder()
	h.Stream(rr, req)

	frames := decodeFrames(t, rr.Body.String())
	if len(frames) != 3 {
		t.Fatalf("Expected text+done+[DONE], got %v", frames)
	}
	if frames[0]["content"] != "ok" {
		t.Errorf("Expected text 'ok', got %v", frames[0])
	}
}

func TestStream_UpstreamFailureBeforeStream(t *testing.T) {
	h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"quota exhausted"}}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi"}`))
	rr := httptest.NewRecorder()
	h.Stream(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Expected 502, got %d", rr.Code)
	}
	var resp models.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body: %v", err)
	}
	if resp.Error.Code != "UPSTREAM_ERROR" {
		t.Errorf("Expected UPSTREAM_ERROR, got %q", resp.Error.Code)
	}
}

func TestStream_InvalidBody(t *testing.T) {
	h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("Upstream must not be called for invalid input")
	})

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":""}`))
	rr := httptest.NewRecorder()
	h.Stream(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rr.Code)
	}
}

func TestAsk_Success(t *testing.T) {
	h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("Expected non-streaming endpoint, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Quantum Computing uses qubits."}]},"groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://a.example","title":"A"}},{"web":{"uri":"https://a.example","title":"dup"}}]}}]}`)
	})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"explain"}`))
	rr := httptest.NewRecorder()
	h.Ask(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp models.ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Answer != "Quantum Computing uses qubits." {
		t.Errorf("Unexpected answer %q", resp.Answer)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Title != "A" {
		t.Errorf("Expected 1 deduplicated source titled 'A', got %+v", resp.Sources)
	}
	if len(resp.FollowUps) == 0 {
		t.Error("Expected follow-up suggestions")
	}
}

func TestAsk_EmptyAnswerFallbackBody(t *testing.T) {
	h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	})

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
	rr := httptest.NewRecorder()
	h.Ask(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var resp models.ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if !strings.Contains(resp.Answer, "unable to generate") {
		t.Errorf("Expected canned empty-answer reply, got %q", resp.Answer)
	}
	if len(resp.FollowUps) != 1 {
		t.Errorf("Expected single rephrase hint, got %v", resp.FollowUps)
	}
}

func TestAsk_UpstreamError(t *testing.T) {
	tests := []struct {
		name           string
		upstreamStatus int
		wantStatus     int
	}{
		{"server error relayed as 502", http.StatusServiceUnavailable, http.StatusBadGateway},
		{"client error passed through", http.StatusTooManyRequests, http.StatusTooManyRequests},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newStubUpstream(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.upstreamStatus)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			})

			req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"message":"hi"}`))
			rr := httptest.NewRecorder()
			h.Ask(rr, req)

			if rr.Code != tc.wantStatus {
				t.Errorf("Expected %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	Health(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", body["status"])
	}
}
