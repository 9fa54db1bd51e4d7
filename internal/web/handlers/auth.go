package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the account does not exist so that
// unknown emails take as long as wrong passwords.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	faculty database.FacultyReader
	tokens  *middleware.TokenManager
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(faculty database.FacultyReader, tokens *middleware.TokenManager) *AuthHandler {
	return &AuthHandler{
		faculty: faculty,
		tokens:  tokens,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// FacultyResponse describes the logged-in faculty member
type FacultyResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Faculty   FacultyResponse `json:"faculty"`
}

// Login exchanges email and password for a bearer token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	faculty, err := h.faculty.GetFacultyByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		slog.ErrorContext(r.Context(), "failed to load faculty", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to authenticate")
		return
	}

	hash := dummyHash
	if faculty != nil {
		hash = []byte(faculty.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(req.Password)); err != nil || faculty == nil {
		slog.InfoContext(r.Context(), "login failed", "email", sanitizeForLog(req.Email))
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.tokens.Issue(faculty.ID, faculty.Name, faculty.Email)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to issue token", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Faculty:   FacultyResponse{ID: faculty.ID, Name: faculty.Name, Email: faculty.Email},
	})
}
