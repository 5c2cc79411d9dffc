package auth

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/akash/amount-extractor/backend/internal/models"
)

// UserStore defines the interface for user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Handler holds auth-related HTTP handlers.
type Handler struct {
	users  UserStore
	tokens *TokenService
}

func NewHandler(users UserStore, tokens *TokenService) *Handler {
	return &Handler{users: users, tokens: tokens}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Signup creates a new user.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, `{"error":"Email and password are required"}`, http.StatusBadRequest)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Username, hash)
	if err != nil {
		// The store error text is surfaced verbatim, duplicate usernames
		// included. Matches the original gateway; known information leak.
		log.Printf("signup error: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}{ID: user.ID, Username: user.Username})
}

// Login verifies credentials and issues a session token. Unknown usernames
// and wrong passwords produce the identical response so accounts cannot be
// enumerated.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUserByUsername(r.Context(), req.Username)
	if err != nil || user == nil {
		http.Error(w, `{"error":"Invalid credentials"}`, http.StatusBadRequest)
		return
	}

	if !CheckPassword(req.Password, user.PasswordHash) {
		http.Error(w, `{"error":"Invalid credentials"}`, http.StatusBadRequest)
		return
	}

	token, err := h.tokens.Issue(models.Identity{ID: user.ID, Username: user.Username})
	if err != nil {
		log.Printf("issue token error: %v", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
