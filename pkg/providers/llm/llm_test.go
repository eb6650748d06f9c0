package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChatSendsHistoryAndReturnsReply(t *testing.T) {
	var gotBodies []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotBodies = append(gotBodies, body)

		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.Encode(map[string]any{
			"model": "test-model",
			"message": map[string]string{
				"role":    "assistant",
				"content": "hello there",
			},
			"done": true,
		})
	}))
	defer server.Close()

	client, err := New(Config{
		Host:         server.URL,
		Model:        "test-model",
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reply, err := client.Chat(context.Background(), "hi there")
	if err != nil {
		t.Fatalf("unexpected chat error: %v", err)
	}
	if reply != "hello there" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	if len(gotBodies) != 1 {
		t.Fatalf("expected 1 request, got %d", len(gotBodies))
	}
	messages, ok := gotBodies[0]["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected system+user messages, got %v", gotBodies[0]["messages"])
	}

	// second turn should include the prior exchange in history
	if _, err := client.Chat(context.Background(), "follow up"); err != nil {
		t.Fatalf("unexpected error on second chat: %v", err)
	}
	secondMessages, ok := gotBodies[1]["messages"].([]any)
	if !ok || len(secondMessages) != 4 {
		t.Fatalf("expected system+2 history turns+user on second call, got %v", gotBodies[1]["messages"])
	}
}

func TestClearHistoryDropsPriorTurns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "ok"},
			"done":    true,
		})
	}))
	defer server.Close()

	client, err := New(Config{Host: server.URL, Model: "m", SystemPrompt: "sys"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Chat(context.Background(), "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.history) == 0 {
		t.Fatal("expected history to be populated")
	}
	client.ClearHistory()
	if len(client.history) != 0 {
		t.Fatalf("expected empty history after ClearHistory, got %d", len(client.history))
	}
}

func TestHealthCheckSucceedsAgainstReachableServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{Host: server.URL, Model: "m"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("unexpected health check error: %v", err)
	}
}
