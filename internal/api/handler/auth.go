package handler

import (
	"net/http"

	"github.com/Rrens/chatnil/internal/api/middleware"
	"github.com/Rrens/chatnil/internal/api/response"
	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/service"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// IssueToken signs a development token for the requested user id
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var input domain.TokenRequest
	if !decode(w, r, &input) {
		return
	}

	tokens, err := h.authService.IssueToken(input)
	if err != nil {
		response.InternalError(w, "failed to issue token")
		return
	}

	response.Created(w, tokens)
}

// Me returns the current authenticated user
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	email, _ := middleware.GetUserEmail(r.Context())

	response.OK(w, domain.Principal{UserID: userID, Email: email})
}
