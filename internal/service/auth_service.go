package service

import (
	"context"
	"errors"
	"strings"

	"isla-market/internal/models"
	"isla-market/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService resolves bearer tokens issued by the auth provider
type AuthService struct {
	users  store.Querier
	secret []byte
}

// NewAuthService creates an auth service verifying HS256 tokens signed with secret
func NewAuthService(users store.Querier, secret string) *AuthService {
	return &AuthService{users: users, secret: []byte(secret)}
}

// AdminCheck is the outcome of an admin authorization check
type AdminCheck struct {
	IsAdmin bool      `json:"is_admin"`
	UserID  uuid.UUID `json:"user_id"`
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// Authenticate verifies the Authorization header and loads the caller
func (s *AuthService) Authenticate(ctx context.Context, header string) (*models.User, error) {
	raw, ok := BearerToken(header)
	if !ok {
		return nil, Unauthorized("missing or malformed authorization header")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, Unauthorized("token expired")
		}
		return nil, Unauthorized("invalid token")
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, Unauthorized("invalid token subject")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, Unauthorized("unknown user")
		}
		return nil, Internal("failed to load user", err)
	}
	return user, nil
}

// CheckAdmin reports whether the bearer of header is an admin.
// Token problems are returned as Unauthorized errors; a non-admin caller is
// not an error and yields IsAdmin=false with the caller's id.
func (s *AuthService) CheckAdmin(ctx context.Context, header string) (AdminCheck, error) {
	user, err := s.Authenticate(ctx, header)
	if err != nil {
		return AdminCheck{}, err
	}
	return AdminCheck{IsAdmin: user.IsAdmin(), UserID: user.ID}, nil
}
