// Package storage provides the persistent key-value backends a token store
// can read its initial token from.
//
// Backends return ErrNotFound for a missing key so that callers can tell an
// empty store apart from an unavailable one.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key holds no value
var ErrNotFound = errors.New("key not found")

// Storage is a string key-value store
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Ensure the bundled backends implement Storage
var (
	_ Storage = (*FileStorage)(nil)
	_ Storage = (*RedisStorage)(nil)
)
