package domain

// TokenRequest asks for a development access token
type TokenRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	Email  string `json:"email" validate:"omitempty,email,max=255"`
}

// TokenPair represents an issued access token
type TokenPair struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Principal is the authenticated caller of a request
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}
