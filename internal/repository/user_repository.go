package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// emailIndex is stored under the normalized address so the create-only
// write enforces uniqueness.
type emailIndex struct {
	UserID string `json:"userId"`
}

// UserPatch holds profile fields to merge into a user.  Nil fields are
// left alone and an empty string clears the field.
type UserPatch struct {
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phoneNumber"`
}

const maxPhoneLen = 20

func (p UserPatch) fields() (map[string]any, error) {
	set := map[string]any{}
	if p.Name != nil {
		set["name"] = optional(*p.Name)
	}
	if p.PhoneNumber != nil {
		phone := strings.TrimSpace(*p.PhoneNumber)
		if len(phone) > maxPhoneLen || strings.Trim(phone, "+0123456789 -") != "" {
			return nil, fmt.Errorf("%w: phoneNumber is invalid", ErrInvalid)
		}
		set["phoneNumber"] = optional(phone)
	}
	return set, nil
}

func optional(s string) null.String {
	s = strings.TrimSpace(s)
	return null.NewString(s, s != "")
}

type UserRepo struct {
	store docstore.Store
}

func NewUserRepo(s docstore.Store) *UserRepo { return &UserRepo{store: s} }

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Create stores u and claims its email.  u.PasswordHash must already be
// set.  A taken address returns ErrEmailExists.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" || !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email is invalid", ErrInvalid)
	}
	u.ID = uuid.NewString()
	u.IsActive = true
	u.CreatedAt = model.Now()

	write := func(ctx context.Context, w docstore.Writer) error {
		if err := w.Create(ctx, CollUserEmails, u.Email, emailIndex{UserID: u.ID}); err != nil {
			if errors.Is(err, docstore.ErrAlreadyExists) {
				return ErrEmailExists
			}
			return err
		}
		return w.Create(ctx, CollUsers, u.ID, u)
	}
	if txs, ok := r.store.(docstore.Transactional); ok {
		return txs.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
			return write(ctx, tx)
		})
	}
	return write(ctx, r.store)
}

// GetByEmail resolves the email index and fetches the user.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var idx emailIndex
	if err := r.store.Get(ctx, CollUserEmails, NormalizeEmail(email), &idx); err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	return r.GetByID(ctx, idx.UserID)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.store.Get(ctx, CollUsers, id, &u); err != nil {
		return nil, fmt.Errorf("user %s: %w", id, err)
	}
	return &u, nil
}

// UpdateProfile merges p into the user and returns the stored result.
func (r *UserRepo) UpdateProfile(ctx context.Context, id string, p UserPatch) (*model.User, error) {
	set, err := p.fields()
	if err != nil {
		return nil, err
	}
	if len(set) > 0 {
		if err := r.store.Update(ctx, CollUsers, id, set); err != nil {
			return nil, fmt.Errorf("user %s: %w", id, err)
		}
	}
	return r.GetByID(ctx, id)
}
