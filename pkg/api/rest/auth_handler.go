package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type loginRequest struct {
	Key string `json:"key" validate:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.cfg.APIKey == "" || req.Key != s.cfg.APIKey {
		respondError(w, http.StatusUnauthorized, "invalid API key")
		return
	}
	if s.cfg.JWTSecret == "" {
		respondError(w, http.StatusInternalServerError, "jwt secret not configured")
		return
	}

	exp := time.Now().Add(24 * time.Hour).Unix()
	claims := jwt.MapClaims{
		"sub": req.Key,
		"jti": uuid.New().String(),
		"exp": exp,
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to sign token")
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{Token: tokenString, ExpiresAt: exp})
}
