// Package llm provides the dialogue controller's LLM turn via Ollama,
// grounded on the official github.com/ollama/ollama api package.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// Client is an Ollama API client holding a bounded conversation history.
type Client struct {
	client       *api.Client
	model        string
	systemPrompt string
	history      []api.Message
	maxHistory   int
	temperature  float64
	numPredict   int
	numCtx       int
}

// Config holds LLM client configuration.
type Config struct {
	Host         string
	Model        string
	SystemPrompt string
	MaxHistory   int
	Temperature  float64
	NumPredict   int
	NumCtx       int
}

// New creates an Ollama client with connection pooling tuned for repeated,
// low-latency requests against a local model server.
func New(cfg Config) (*Client, error) {
	maxHistory := cfg.MaxHistory
	if maxHistory <= 0 {
		maxHistory = 10
	}

	host := strings.TrimSuffix(cfg.Host, "/")
	parsedURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("llm: invalid host URL: %w", err)
	}

	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	numPredict := cfg.NumPredict
	if numPredict == 0 {
		numPredict = 150 // keep spoken replies short
	}
	numCtx := cfg.NumCtx
	if numCtx == 0 {
		numCtx = 1024
	}

	return &Client{
		client:       api.NewClient(parsedURL, httpClient),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		history:      make([]api.Message, 0),
		maxHistory:   maxHistory,
		temperature:  temperature,
		numPredict:   numPredict,
		numCtx:       numCtx,
	}, nil
}

// Chat sends userMessage plus the running history and returns the assistant
// reply, appending both turns to history once the reply is complete.
func (c *Client) Chat(ctx context.Context, userMessage string) (string, error) {
	messages := make([]api.Message, 0, len(c.history)+2)
	messages = append(messages, api.Message{Role: "system", Content: c.systemPrompt})
	messages = append(messages, c.history...)
	messages = append(messages, api.Message{Role: "user", Content: userMessage})

	stream := false
	var response api.ChatResponse
	err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": c.temperature,
			"num_predict": c.numPredict,
			"num_ctx":     c.numCtx,
		},
	}, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("llm: chat request: %w", err)
	}

	reply := strings.TrimSpace(response.Message.Content)
	c.history = append(c.history,
		api.Message{Role: "user", Content: userMessage},
		api.Message{Role: "assistant", Content: reply},
	)
	c.trimHistory()
	return reply, nil
}

// ClearHistory drops all conversation turns, used on a fresh wake when
// reset_on_wake is configured.
func (c *Client) ClearHistory() {
	c.history = make([]api.Message, 0)
}

// TruncateHistory keeps only the most recent turns (a turn being one user
// message plus one assistant reply), used on a fresh wake when
// reset_on_wake is false and ctx_turns bounds how much prior context
// carries into the new conversation.
func (c *Client) TruncateHistory(turns int) {
	if turns <= 0 {
		c.history = make([]api.Message, 0)
		return
	}
	maxMessages := turns * 2
	if len(c.history) > maxMessages {
		c.history = c.history[len(c.history)-maxMessages:]
	}
}

func (c *Client) trimHistory() {
	maxMessages := c.maxHistory * 2
	if len(c.history) > maxMessages {
		c.history = c.history[len(c.history)-maxMessages:]
	}
}

// HealthCheck verifies the Ollama server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("llm: cannot reach ollama: %w", err)
	}
	return nil
}
