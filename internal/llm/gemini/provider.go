package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Rrens/chatnil/internal/config"
	"github.com/Rrens/chatnil/internal/llm"
)

type Provider struct {
	apiKey string
	model  string
}

func NewProvider(cfg config.GeminiConfig) *Provider {
	return &Provider{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
	}
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) AvailableModels() []string {
	return []string{
		"gemini-2.5-flash",
		"gemini-1.5-flash",
		"gemini-1.5-pro",
	}
}

func (p *Provider) DefaultModel() string {
	if p.model != "" {
		return p.model
	}
	return "gemini-2.5-flash"
}

func (p *Provider) IsConfigured() bool {
	return p.apiKey != ""
}

func (p *Provider) StreamChat(ctx context.Context, req llm.Request, model string, onDelta llm.DeltaFunc) (*llm.Response, error) {
	if !p.IsConfigured() {
		return nil, fmt.Errorf("gemini provider is not configured (missing API key)")
	}
	if len(req.Turns) == 0 {
		return nil, errors.New("gemini: no user turn to answer")
	}

	if model == "" {
		model = p.DefaultModel()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	defer client.Close()

	generativeModel := client.GenerativeModel(model)
	temperature := req.Temperature
	generativeModel.Temperature = &temperature
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		generativeModel.MaxOutputTokens = &maxTokens
	}
	generativeModel.SystemInstruction = genai.NewUserContent(genai.Text(req.System))

	session := generativeModel.StartChat()
	last := req.Turns[len(req.Turns)-1]
	for _, t := range req.Turns[:len(req.Turns)-1] {
		role := "user"
		if t.Role == "assistant" {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(t.Content)}})
	}

	start := time.Now()
	iter := session.SendMessageStream(ctx, genai.Text(last.Content))

	out := &llm.Response{Model: model}
	var content strings.Builder
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gemini generation error: %w", err)
		}
		if resp.UsageMetadata != nil {
			out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			continue
		}
		for _, part := range resp.Candidates[0].Content.Parts {
			text, ok := part.(genai.Text)
			if !ok || text == "" {
				continue
			}
			content.WriteString(string(text))
			if err := onDelta(string(text)); err != nil {
				return nil, err
			}
		}
	}

	out.Content = content.String()
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}
