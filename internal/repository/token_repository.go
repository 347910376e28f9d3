package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// TokenRepo persists refresh tokens keyed by their SHA-256 digest.
type TokenRepo struct {
	store docstore.Store
}

func NewTokenRepo(s docstore.Store) *TokenRepo { return &TokenRepo{store: s} }

// StoreRefresh records a new refresh token digest.
func (r *TokenRepo) StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error {
	return r.store.Create(ctx, CollRefreshTokens, tokenHash, model.RefreshToken{
		UserID:    userID,
		ExpiresAt: exp.UTC(),
		CreatedAt: model.Now(),
	})
}

// ValidateRefresh returns the owner of a live token.  Revoked, expired
// and unknown tokens all report ErrNotFound.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (string, error) {
	var t model.RefreshToken
	if err := r.store.Get(ctx, CollRefreshTokens, tokenHash, &t); err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	if t.Revoked || time.Now().UTC().After(t.ExpiresAt) {
		return "", fmt.Errorf("refresh token: %w", ErrNotFound)
	}
	return t.UserID, nil
}

// RevokeByHash marks a token revoked.  It returns ErrConflict when the
// token was already revoked, so a rotation can only succeed once.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	err := r.store.Update(ctx, CollRefreshTokens, tokenHash,
		map[string]any{"revoked": true, "revokedAt": null.TimeFrom(model.Now())},
		docstore.Where("revoked", docstore.Eq, false))
	if errors.Is(err, docstore.ErrConditionFailed) {
		return ErrConflict
	}
	return err
}

// RevokeAllForUser revokes every live token of a user.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID string) error {
	var live []model.RefreshToken
	err := r.store.Query(ctx, CollRefreshTokens, docstore.Query{
		Filters: []docstore.Filter{
			docstore.Where("userId", docstore.Eq, userID),
			docstore.Where("revoked", docstore.Eq, false),
		},
	}, &live)
	if err != nil {
		return err
	}
	for _, t := range live {
		if err := r.RevokeByHash(ctx, t.ID); err != nil && !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return nil
}
