package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Rrens/chatnil/internal/llm"
)

// Provider implements llm.Provider for Ollama
type Provider struct {
	host         string
	defaultModel string
	client       *http.Client
}

// NewProvider creates a new Ollama provider
func NewProvider(host, defaultModel string) llm.Provider {
	if defaultModel == "" {
		defaultModel = "llama3"
	}
	return &Provider{
		host:         host,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "ollama"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"llama3",
		"llama3.1",
		"llama3.2",
		"mistral",
		"mixtral",
		"phi3",
		"qwen2",
		"qwen2.5",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.host != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatChunk struct {
	Message   chatMessage `json:"message"`
	Done      bool        `json:"done"`
	EvalCount int         `json:"eval_count"`
	Error     string      `json:"error"`
}

// StreamChat streams a chat completion. Ollama answers with one JSON object
// per line.
func (p *Provider) StreamChat(ctx context.Context, req llm.Request, model string, onDelta llm.DeltaFunc) (*llm.Response, error) {
	if model == "" {
		model = p.defaultModel
	}

	msgs := []chatMessage{{Role: "system", Content: req.System}}
	for _, t := range req.Turns {
		msgs = append(msgs, chatMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	out := &llm.Response{Model: model}
	var content bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("failed to decode chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("ollama error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			content.WriteString(chunk.Message.Content)
			if err := onDelta(chunk.Message.Content); err != nil {
				return nil, err
			}
		}
		if chunk.Done {
			out.TokensUsed = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	out.Content = content.String()
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}
