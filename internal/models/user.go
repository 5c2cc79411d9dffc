package models

import "time"

// User represents a row in the PostgreSQL users table.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // never serialize
	CreatedAt    time.Time `json:"created_at"`
}

// CredentialsRequest is the JSON body for POST /signup and POST /login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Identity is the user info carried inside a verified session token.
type Identity struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
