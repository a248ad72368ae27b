package token

import (
	"context"
)

// TokenStore interface defines the operations of a token store
type TokenStore interface {
	Init(ctx context.Context) error
	Token() string
	User() *User
	UserID() (string, bool)
	SetToken(raw string)
	RefreshToken() error
	Terminate()
}

// Ensure Store implements TokenStore
var _ TokenStore = (*Store)(nil)
