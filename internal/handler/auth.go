package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// Identity is the account service behind the auth endpoints.
type Identity interface {
	SignUp(ctx context.Context, email, password string, role model.Role) (*identity.Session, error)
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	Refresh(ctx context.Context, refreshRaw string) (*identity.Session, error)
	SignOut(ctx context.Context, refreshRaw string) error
	SignOutAll(ctx context.Context, userID string) error
	User(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, patch repository.UserPatch) (*model.User, error)
}

type AuthHandler struct {
	ID Identity
}

func NewAuthHandler(id Identity) *AuthHandler { return &AuthHandler{ID: id} }

type credentialsReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type userView struct {
	ID    string     `json:"id"`
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

type sessionResp struct {
	User userView `json:"user"`
	*identity.Session
}

func session(s *identity.Session) sessionResp {
	return sessionResp{User: userView{ID: s.User.ID, Email: s.User.Email, Role: s.User.Role}, Session: s}
}

// Register creates an account (role user or vendor) and signs it in.
func (h *AuthHandler) Register(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	role, err := model.ParseRole(req.Role)
	if err != nil {
		return badRequest(c, err.Error())
	}
	s, err := h.ID.SignUp(c.Request().Context(), req.Email, req.Password, role)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, session(s))
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req credentialsReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return badRequest(c, "email/password required")
	}
	s, err := h.ID.SignIn(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, session(s))
}

// Refresh rotates a refresh token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refresh_token required")
	}
	s, err := h.ID.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, session(s))
}

func (h *AuthHandler) Logout(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return badRequest(c, "refresh_token required")
	}
	if err := h.ID.SignOut(c.Request().Context(), req.RefreshToken); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutAll revokes every refresh token of the caller.
func (h *AuthHandler) LogoutAll(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	if err := h.ID.SignOutAll(c.Request().Context(), uid); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) Me(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	u, err := h.ID.User(c.Request().Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, profile(u))
}

// UpdateMe merges name and phoneNumber into the caller's profile.
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	uid, err := userID(c)
	if err != nil {
		return fail(c, err)
	}
	var patch repository.UserPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid body")
	}
	u, err := h.ID.UpdateProfile(c.Request().Context(), uid, patch)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, profile(u))
}

func profile(u *model.User) echo.Map {
	return echo.Map{
		"id":          u.ID,
		"email":       u.Email,
		"role":        u.Role,
		"name":        u.Name,
		"phoneNumber": u.PhoneNumber,
		"createdAt":   u.CreatedAt,
	}
}
