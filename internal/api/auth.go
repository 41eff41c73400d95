package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/voicelink-core/internal/auth"
)

// loginRequest is the request body for POST /auth/login.
type loginRequest struct {
	Password string `json:"password"`
}

// loginResponse is the response body for POST /auth/login.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin authenticates the operator and returns a JWT token.
// The credential is a single operator password, stored as an argon2id
// hash in the security config.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if s.secCfg.Operator.PasswordHash == "" {
		writeInternalError(w, "operator credential not configured")
		return
	}

	match, err := auth.VerifyPassword(req.Password, s.secCfg.Operator.PasswordHash)
	if err != nil {
		s.logger.Error("operator password hash is malformed", "error", err)
		writeInternalError(w, "operator credential not configured")
		return
	}
	if !match {
		writeUnauthorized(w, "invalid credentials")
		return
	}

	ttl := s.secCfg.JWT.AccessTokenTTL
	if ttl == 0 {
		ttl = 15 // default 15 minutes
	}

	signed, err := auth.GenerateAccessToken(s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("failed to generate access token", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   ttl * 60, // seconds
	})
}
