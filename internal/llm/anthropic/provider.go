package anthropic

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

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 2048
)

// Provider implements llm.Provider for Anthropic
type Provider struct {
	apiKey       string
	defaultModel string
	client       *http.Client
	baseURL      string
}

// NewProvider creates a new Anthropic provider
func NewProvider(apiKey, defaultModel, baseURL string) llm.Provider {
	if defaultModel == "" {
		defaultModel = "claude-3-5-haiku-latest"
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Provider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "anthropic"
}

// AvailableModels returns list of supported models
func (p *Provider) AvailableModels() []string {
	return []string{
		"claude-3-5-haiku-latest",
		"claude-3-5-sonnet-latest",
		"claude-3-opus-latest",
	}
}

// DefaultModel returns the default model
func (p *Provider) DefaultModel() string {
	return p.defaultModel
}

// IsConfigured checks if provider has valid credentials
func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float32   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamEvent covers the event payloads the provider reads; the rest are skipped
type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage usage `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Usage usage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// StreamChat streams a reply from the messages API
func (p *Provider) StreamChat(ctx context.Context, req llm.Request, model string, onDelta llm.DeltaFunc) (*llm.Response, error) {
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgs := make([]message, 0, len(req.Turns))
	for _, t := range req.Turns {
		msgs = append(msgs, message{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Messages:    msgs,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic returned status %d", resp.StatusCode)
	}

	out := &llm.Response{Model: model}
	var (
		content strings.Builder
		tokens  usage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "message_start":
			tokens.InputTokens = ev.Message.Usage.InputTokens
		case "content_block_delta":
			if ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
				continue
			}
			content.WriteString(ev.Delta.Text)
			if err := onDelta(ev.Delta.Text); err != nil {
				return nil, err
			}
		case "message_delta":
			tokens.OutputTokens = ev.Usage.OutputTokens
		case "error":
			if ev.Error != nil {
				return nil, fmt.Errorf("anthropic stream error: %s", ev.Error.Message)
			}
			return nil, fmt.Errorf("anthropic stream error")
		}
		if ev.Type == "message_stop" {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	out.Content = content.String()
	out.TokensUsed = tokens.InputTokens + tokens.OutputTokens
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}
