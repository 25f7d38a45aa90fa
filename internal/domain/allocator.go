package domain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Vovarama1992/clipvault/internal/ports"
)

const (
	TokenLength        = 8
	DefaultMaxAttempts = 32
)

// Allocator hands out short random public tokens. The store's unique
// constraint on the token is the real guard; the lookup only avoids
// pointless insert round trips.
type Allocator struct {
	repo        ports.MediaRepository
	maxAttempts int
	random      func() (string, error)
}

func NewAllocator(repo ports.MediaRepository, maxAttempts int) *Allocator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Allocator{
		repo:        repo,
		maxAttempts: maxAttempts,
		random:      randomToken,
	}
}

func randomToken() (string, error) {
	b := make([]byte, TokenLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Allocate returns a token no existing record uses at the moment of the call.
// Tokens are unique across all records, so the extension only scopes the
// derived filename in logs and errors.
func (a *Allocator) Allocate(ctx context.Context, ext string) (string, error) {
	for i := 0; i < a.maxAttempts; i++ {
		token, err := a.next(ctx)
		if err != nil {
			return "", err
		}
		if token != "" {
			return token, nil
		}
	}
	return "", fmt.Errorf("allocate %s token after %d attempts: %w", ext, a.maxAttempts, ErrAllocationExhausted)
}

// AllocateAndInsert runs insert with fresh tokens until it succeeds.
// insert must return ErrTokenConflict when the store rejects a duplicate;
// that counts against the same attempt budget as a lookup hit.
func (a *Allocator) AllocateAndInsert(ctx context.Context, ext string, insert func(ctx context.Context, token string) error) (string, error) {
	for i := 0; i < a.maxAttempts; i++ {
		token, err := a.next(ctx)
		if err != nil {
			return "", err
		}
		if token == "" {
			continue
		}

		err = insert(ctx, token)
		if errors.Is(err, ErrTokenConflict) {
			continue
		}
		if err != nil {
			return "", err
		}
		return token, nil
	}
	return "", fmt.Errorf("allocate %s token after %d attempts: %w", ext, a.maxAttempts, ErrAllocationExhausted)
}

// next draws one candidate; an empty token means it is taken.
func (a *Allocator) next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	token, err := a.random()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	existing, err := a.repo.FindByToken(ctx, token)
	if err != nil {
		return "", fmt.Errorf("check token: %w", errors.Join(ErrPersistence, err))
	}
	if existing != nil {
		return "", nil
	}
	return token, nil
}
