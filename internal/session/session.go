package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/storefront/internal/store"
)

var (
	ErrNoToken      = errors.New("no session token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Manager holds the backend-issued bearer token in the durable store so a
// signed-in session survives a restart. The token is signed and verified by
// the backend; the client only inspects the expiry claim to avoid sending a
// token that is already dead.
type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

// SetToken stores a token after checking that it parses and is not expired.
func (m *Manager) SetToken(ctx context.Context, token string) error {
	if err := checkExpiry(token); err != nil {
		return err
	}
	if err := m.store.Set(ctx, store.KeySessionToken, []byte(token)); err != nil {
		return fmt.Errorf("failed to store session token: %w", err)
	}
	return nil
}

// Token returns the stored token, or ErrNoToken / ErrExpiredToken.
func (m *Manager) Token(ctx context.Context) (string, error) {
	data, ok, err := m.store.Get(ctx, store.KeySessionToken)
	if err != nil {
		return "", fmt.Errorf("failed to load session token: %w", err)
	}
	if !ok {
		return "", ErrNoToken
	}
	token := string(data)
	if err := checkExpiry(token); err != nil {
		return "", err
	}
	return token, nil
}

// Clear drops the stored token.
func (m *Manager) Clear(ctx context.Context) error {
	return m.store.Delete(ctx, store.KeySessionToken)
}

func checkExpiry(token string) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return ErrExpiredToken
	}
	return nil
}
