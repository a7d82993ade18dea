package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/chatnil/internal/api/middleware"
	"github.com/Rrens/chatnil/internal/api/response"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/service"
)

// ChatHandler serves the chat persistence endpoints
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// List returns every chat of the caller with its messages
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	chats, err := h.chatService.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.OK(w, chats)
}

// Upsert creates or replaces a chat
func (h *ChatHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.ChatUpsert
	if !decode(w, r, &input) {
		return
	}

	if err := h.chatService.Upsert(r.Context(), userID, chi.URLParam(r, "chatID"), input); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// Delete removes a chat
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	if err := h.chatService.Delete(r.Context(), userID, chi.URLParam(r, "chatID")); err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// DeleteMessage removes one message
func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	err := h.chatService.DeleteMessage(r.Context(), userID, chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

// EditMessage replaces the content of one message
func (h *ChatHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var input domain.MessageEdit
	if !decode(w, r, &input) {
		return
	}

	err := h.chatService.EditMessage(r.Context(), userID, chi.URLParam(r, "chatID"), chi.URLParam(r, "messageID"), input.Content)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.NoContent(w)
}

func writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		response.NotFound(w, "not found")
		return
	}
	log.Error().Err(err).Msg("request failed")
	response.InternalError(w, "internal error")
}
