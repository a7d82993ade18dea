package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Rrens/chatnil/internal/llm"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Provider implements llm.Provider for OpenAI and OpenAI-compatible APIs
type Provider struct {
	name         string
	apiKey       string
	defaultModel string
	models       []string
	client       *http.Client
	baseURL      string
}

// NewProvider creates a new OpenAI provider
func NewProvider(apiKey, defaultModel, baseURL string) llm.Provider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		name:         "openai",
		apiKey:       apiKey,
		defaultModel: defaultModel,
		models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "gpt-4", "gpt-3.5-turbo"},
		client:       &http.Client{Timeout: 120 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// NewDeepSeekProvider creates a provider for the DeepSeek API, which speaks
// the OpenAI chat protocol
func NewDeepSeekProvider(apiKey, defaultModel, baseURL string) llm.Provider {
	if defaultModel == "" {
		defaultModel = "deepseek-chat"
	}
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	p := NewProvider(apiKey, defaultModel, baseURL).(*Provider)
	p.name = "deepseek"
	p.models = []string{"deepseek-chat", "deepseek-reasoner"}
	return p
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return p.name
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return p.models
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Temperature   float32        `json:"temperature"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Stream        bool           `json:"stream"`
	StreamOptions map[string]any `json:"stream_options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// StreamChat streams a chat completion over server-sent events
func (p *Provider) StreamChat(ctx context.Context, req llm.Request, model string, onDelta llm.DeltaFunc) (*llm.Response, error) {
	if model == "" {
		model = p.defaultModel
	}

	msgs := []chatMessage{{Role: "system", Content: req.System}}
	for _, t := range req.Turns {
		msgs = append(msgs, chatMessage{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:         model,
		Messages:      msgs,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: map[string]any{"include_usage": true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", p.name, resp.StatusCode)
	}

	out := &llm.Response{Model: model}
	var content strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			out.TokensUsed = chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		content.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	out.Content = content.String()
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}
