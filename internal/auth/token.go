package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/akash/amount-extractor/backend/internal/models"
)

// TokenTTL is how long an issued session token stays valid.
const TokenTTL = time.Hour

var (
	ErrTokenMalformed = errors.New("token malformed")
	ErrTokenSignature = errors.New("token signature invalid")
	ErrTokenExpired   = errors.New("token expired")
)

// TokenService issues and verifies signed session tokens. Tokens are
// stateless: identity is reconstructed from the signature on every request
// and there is no revocation.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) (*TokenService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret must be provided")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token carrying the user's identity, expiring TokenTTL from now.
func (s *TokenService) Issue(ident models.Identity) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"id":       ident.ID,
		"username": ident.Username,
		"iat":      now.Unix(),
		"exp":      now.Add(TokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token string, returning the identity it
// carries. Failures map onto ErrTokenMalformed, ErrTokenSignature and
// ErrTokenExpired.
func (s *TokenService) Verify(tokenString string) (models.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return models.Identity{}, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return models.Identity{}, ErrTokenSignature
		default:
			return models.Identity{}, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Identity{}, ErrTokenMalformed
	}
	id, ok := claims["id"].(float64)
	if !ok {
		return models.Identity{}, ErrTokenMalformed
	}
	username, ok := claims["username"].(string)
	if !ok {
		return models.Identity{}, ErrTokenMalformed
	}
	return models.Identity{ID: int64(id), Username: username}, nil
}
