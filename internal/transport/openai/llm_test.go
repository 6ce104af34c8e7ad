package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
)

func newTestLLM(t *testing.T, baseURL string) *LLM {
	t.Helper()
	return NewLLM(&LLMConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "gpt-3.5-turbo",
		Temperature: 0.1,
		Logger:      zap.NewNop(),
	})
}

func TestGenerate_SystemPromptAndAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "gpt-3.5-turbo" {
			t.Errorf("unexpected model: %s", req.Model)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected system + user messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || !strings.Contains(req.Messages[0].Content, domain.IrrelevantAnswerID) {
			t.Errorf("system prompt missing irrelevant marker: %+v", req.Messages[0])
		}
		if req.Messages[1].Role != "user" || req.Messages[1].Content != "what is a birdie" {
			t.Errorf("unexpected user message: %+v", req.Messages[1])
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":" One under par. "}}]}`)
	}))
	defer server.Close()

	llm := newTestLLM(t, server.URL)

	answer, err := llm.Generate(context.Background(), "what is a birdie")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "One under par." {
		t.Errorf("expected trimmed answer, got %q", answer)
	}
}

func TestGenerateChat_PassesHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		// system + 3 history turns
		if len(req.Messages) != 4 {
			t.Fatalf("expected 4 messages, got %d", len(req.Messages))
		}
		if req.Messages[2].Role != "assistant" {
			t.Errorf("expected assistant in position 2, got %s", req.Messages[2].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"keep your head down"}}]}`)
	}))
	defer server.Close()

	llm := newTestLLM(t, server.URL)

	msgs := []domain.Message{
		{Role: domain.RoleUser, Content: "I keep topping the ball"},
		{Role: domain.RoleAssistant, Content: "check your posture"},
		{Role: domain.RoleUser, Content: "anything else?"},
	}
	answer, err := llm.GenerateChat(context.Background(), msgs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "keep your head down" {
		t.Errorf("unexpected answer: %q", answer)
	}
}

func TestGenerate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
	}))
	defer server.Close()

	llm := newTestLLM(t, server.URL)

	_, err := llm.Generate(context.Background(), "what is a birdie")
	if !errors.Is(err, domain.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestGenerate_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	llm := newTestLLM(t, server.URL)

	_, err := llm.Generate(context.Background(), "what is a birdie")
	if !errors.Is(err, domain.ErrLLMUnavailable) {
		t.Fatalf("expected ErrLLMUnavailable, got %v", err)
	}
}

func TestGenerateChatStream_AccumulatesDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{"One ", "under ", "par."}
		for _, c := range chunks {
			fmt.Fprintf(
				w,
				"data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n",
				c,
			)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	llm := newTestLLM(t, server.URL)

	var emitted []string
	full, err := llm.GenerateChatStream(
		context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "what is a birdie"}},
		func(delta string) error {
			emitted = append(emitted, delta)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if full != "One under par." {
		t.Errorf("expected accumulated answer, got %q", full)
	}
	if len(emitted) != 3 {
		t.Errorf("expected 3 deltas, got %d: %v", len(emitted), emitted)
	}
}

func TestGenerateChatStream_EmitError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	llm := newTestLLM(t, server.URL)

	_, err := llm.GenerateChatStream(
		context.Background(),
		[]domain.Message{{Role: domain.RoleUser, Content: "hello"}},
		func(string) error { return errors.New("client went away") },
	)
	if err == nil {
		t.Fatal("expected emit error to propagate")
	}
}
