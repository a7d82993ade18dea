package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Rrens/chatnil/internal/domain"
)

var _ domain.CompletionBackend = (*Client)(nil)

// StreamCompletion opens a server-sent event stream for one assistant reply.
// Opening is attempted once; a repeated POST could start a second generation.
// The channel is closed after a terminal event, at the end of the stream or
// when ctx is done.
func (c *Client) StreamCompletion(ctx context.Context, req domain.CompletionRequest) (<-chan domain.StreamEvent, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.send(ctx, c.stream, 1, func() (*http.Request, error) {
		r, err := c.newRequest(ctx, http.MethodPost, "/completions", payload, "application/json")
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "text/event-stream")
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start completion: %w", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to start completion: unexpected content type %q", ct)
	}

	events := make(chan domain.StreamEvent, 16)
	go c.readEvents(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) readEvents(ctx context.Context, body io.ReadCloser, out chan<- domain.StreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				name = ""
				continue
			}
			ev, err := parseEvent(name, strings.Join(data, "\n"))
			name, data = "", nil
			if err != nil {
				c.logger.Warn().Err(err).Msg("skipping malformed stream event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Type == domain.EventError || ev.Type == domain.EventComplete {
				return
			}
		case strings.HasPrefix(line, ":"):
			// heartbeat
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.Warn().Err(err).Msg("completion stream interrupted")
	}
}

func parseEvent(name, data string) (domain.StreamEvent, error) {
	var ev domain.StreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return ev, fmt.Errorf("failed to decode %q event: %w", name, err)
	}
	if ev.Type == "" {
		ev.Type = domain.StreamEventType(name)
	}
	switch ev.Type {
	case domain.EventStatus, domain.EventContent, domain.EventSources, domain.EventError, domain.EventComplete:
		return ev, nil
	}
	return ev, fmt.Errorf("unknown event type %q", ev.Type)
}
