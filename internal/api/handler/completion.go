package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/api/middleware"
	"github.com/Rrens/chatnil/internal/api/response"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/service"
)

const heartbeatInterval = 15 * time.Second

// CompletionHandler streams assistant replies as server-sent events
type CompletionHandler struct {
	completionService *service.CompletionService
	heartbeat         time.Duration
}

// NewCompletionHandler creates a new completion handler
func NewCompletionHandler(completionService *service.CompletionService) *CompletionHandler {
	return &CompletionHandler{completionService: completionService, heartbeat: heartbeatInterval}
}

// Stream generates a reply and writes it as status, content, sources,
// error and complete events
func (h *CompletionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.CompletionRequest
	if !decode(w, r, &input) {
		return
	}

	sse, err := response.NewSSE(w)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.keepAlive(ctx, sse)
	}()
	defer func() {
		cancel()
		<-done
	}()

	err = h.completionService.Stream(ctx, userID, input, func(ev domain.StreamEvent) error {
		return sse.Event(string(ev.Type), ev)
	})
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("chat_id", input.ChatID).Msg("completion stream ended with error")
	}
}

func (h *CompletionHandler) keepAlive(ctx context.Context, sse *response.SSE) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.Heartbeat(); err != nil {
				return
			}
		}
	}
}
