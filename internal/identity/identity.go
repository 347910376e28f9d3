// Package identity signs users up and in, issues access and refresh
// tokens and resolves the current user of a request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/utils"
)

var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and
	// disabled accounts alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUnauthenticated is returned when no user is attached to a context
	// or a refresh token is not live.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Config carries token and hashing settings.
type Config struct {
	JWTSecret      string
	AccessTTLMin   int
	RefreshTTLDays int
	BcryptCost     int
}

// Session is what a successful sign-in returns to the client.
type Session struct {
	User         model.User `json:"-"`
	AccessToken  string     `json:"access_token"`
	AccessExp    time.Time  `json:"access_expires_at"`
	RefreshToken string     `json:"refresh_token"`
	RefreshExp   time.Time  `json:"refresh_expires_at"`
}

// Provider implements the identity operations on top of the user and
// token repositories.
type Provider struct {
	users  *repository.UserRepo
	tokens *repository.TokenRepo
	cfg    Config
}

func NewProvider(users *repository.UserRepo, tokens *repository.TokenRepo, cfg Config) *Provider {
	return &Provider{users: users, tokens: tokens, cfg: cfg}
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(ctx context.Context, email, password string, role model.Role) (*Session, error) {
	if err := utils.CheckPassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalid, err)
	}
	hash, err := utils.HashPassword(password, p.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	u := &model.User{Email: email, PasswordHash: hash, Role: role}
	if err := p.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return p.issue(ctx, *u)
}

// SignIn checks the password and opens a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*Session, error) {
	u, err := p.users.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p.issue(ctx, *u)
}

// Refresh exchanges a live refresh token for a new session.  The old
// token is revoked first, so replaying it fails.
func (p *Provider) Refresh(ctx context.Context, refreshRaw string) (*Session, error) {
	hash := utils.HashRefreshRaw(refreshRaw)
	userID, err := p.tokens.ValidateRefresh(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if err := p.tokens.RevokeByHash(ctx, hash); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrUnauthenticated
		}
		return nil, err
	}
	u, err := p.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrUnauthenticated
	}
	return p.issue(ctx, *u)
}

// SignOut revokes one refresh token.  Unknown or already revoked tokens
// are not an error.
func (p *Provider) SignOut(ctx context.Context, refreshRaw string) error {
	err := p.tokens.RevokeByHash(ctx, utils.HashRefreshRaw(refreshRaw))
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}

// SignOutAll revokes every refresh token of a user.
func (p *Provider) SignOutAll(ctx context.Context, userID string) error {
	return p.tokens.RevokeAllForUser(ctx, userID)
}

// Authenticate verifies an access token.
func (p *Provider) Authenticate(raw string) (utils.Claims, error) {
	c, err := utils.ParseAccessToken(p.cfg.JWTSecret, raw)
	if err != nil {
		return utils.Claims{}, ErrUnauthenticated
	}
	return c, nil
}

// User fetches the account behind an id.
func (p *Provider) User(ctx context.Context, userID string) (*model.User, error) {
	return p.users.GetByID(ctx, userID)
}

// UpdateProfile merges name and phone number changes into the account.
func (p *Provider) UpdateProfile(ctx context.Context, userID string, patch repository.UserPatch) (*model.User, error) {
	return p.users.UpdateProfile(ctx, userID, patch)
}

// CurrentUserID returns the user attached to ctx by the auth middleware.
func (p *Provider) CurrentUserID(ctx context.Context) (string, error) {
	return CurrentUserID(ctx)
}

func (p *Provider) issue(ctx context.Context, u model.User) (*Session, error) {
	at, err := utils.NewAccessToken(p.cfg.JWTSecret, u.ID, string(u.Role), p.cfg.AccessTTLMin)
	if err != nil {
		return nil, err
	}
	rt, err := utils.NewRefreshToken(p.cfg.RefreshTTLDays)
	if err != nil {
		return nil, err
	}
	if err := p.tokens.StoreRefresh(ctx, u.ID, utils.HashRefreshRaw(rt.Raw), rt.Exp); err != nil {
		return nil, err
	}
	return &Session{User: u, AccessToken: at.Token, AccessExp: at.Exp, RefreshToken: rt.Raw, RefreshExp: rt.Exp}, nil
}
