package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/parking-reservation/internal/docstore"
	"github.com/iliyamo/parking-reservation/internal/handler"
	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/ledger"
	"github.com/iliyamo/parking-reservation/internal/realtime"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

type app struct {
	t *testing.T
	e *echo.Echo
}

func newApp(t *testing.T) *app {
	store := docstore.NewMemory()
	users := repository.NewUserRepo(store)
	tokens := repository.NewTokenRepo(store)
	lots := repository.NewLotRepo(store)
	vehicles := repository.NewVehicleRepo(store)
	bookings := repository.NewBookingRepo(store)
	payments := repository.NewPaymentRepo(store)

	idp := identity.NewProvider(users, tokens, identity.Config{
		JWTSecret: "router-test", AccessTTLMin: 5, RefreshTTLDays: 1, BcryptCost: bcrypt.MinCost,
	})
	hub := realtime.NewHub()
	l := ledger.New(store, ledger.Config{}, hub)
	t.Cleanup(l.Stop)

	e := echo.New()
	Register(e, Deps{
		Auth:          handler.NewAuthHandler(idp),
		Lots:          handler.NewLotHandler(lots, bookings, l),
		Vehicles:      handler.NewVehicleHandler(vehicles),
		Bookings:      handler.NewBookingHandler(l, bookings, payments, lots, vehicles),
		Payments:      handler.NewPaymentHandler(payments),
		Authenticator: idp,
		Live:          hub,
	})
	return &app{t: t, e: e}
}

func (a *app) call(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *app) signUp(email, role string) string {
	rec := a.call(http.MethodPost, "/v1/auth/register", "", echo.Map{"email": email, "password": "correct horse", "role": role})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(a.t, rec)["access_token"].(string)
}

func TestBookingFlow(t *testing.T) {
	a := newApp(t)
	vendor := a.signUp("vendor@example.com", "vendor")
	alice := a.signUp("alice@example.com", "user")
	bob := a.signUp("bob@example.com", "user")

	rec := a.call(http.MethodPost, "/v1/vendor/lots", vendor, echo.Map{
		"name": "Central", "totalSpaces": 1, "hourlyCharge": 30, "lateFee": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lotID := decode(t, rec)["id"].(string)

	for _, tok := range []string{alice, bob} {
		rec = a.call(http.MethodPost, "/v1/vehicles", tok, echo.Map{"vehicleNumber": "ka 01 ab 1234", "model": "Swift"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, true, decode(t, rec)["isActive"])
	}

	rec = a.call(http.MethodPost, "/v1/bookings", alice, echo.Map{"parkingLotId": lotID, "plannedHours": 2, "paymentMethod": "card"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode(t, rec)
	bookingID := res["booking"].(map[string]any)["id"].(string)
	assert.Equal(t, 60.0, res["payment"].(map[string]any)["amount"])

	rec = a.call(http.MethodPost, "/v1/bookings", bob, echo.Map{"parkingLotId": lotID, "plannedHours": 1, "paymentMethod": "cash"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.call(http.MethodPost, "/v1/bookings/"+bookingID+"/complete", bob, echo.Map{"actualHours": 1.5})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.call(http.MethodPost, "/v1/bookings/"+bookingID+"/complete", alice, echo.Map{"actualHours": 1.5, "totalAmount": 45.0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	closed := decode(t, rec)
	assert.Equal(t, false, closed["alreadyClosed"])
	assert.Equal(t, "completed", closed["booking"].(map[string]any)["status"])

	rec = a.call(http.MethodPost, "/v1/bookings/"+bookingID+"/complete", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["alreadyClosed"])

	rec = a.call(http.MethodGet, "/v1/lots/"+lotID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["availableSpaces"])

	rec = a.call(http.MethodGet, "/v1/vendor/lots/"+lotID+"/audit", vendor, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.call(http.MethodGet, "/v1/bookings/"+bookingID+"/receipt", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
}

func TestAccessControl(t *testing.T) {
	a := newApp(t)
	user := a.signUp("u@example.com", "user")
	vendor := a.signUp("v@example.com", "vendor")

	assert.Equal(t, http.StatusUnauthorized, a.call(http.MethodGet, "/v1/bookings", "", nil).Code)
	assert.Equal(t, http.StatusForbidden, a.call(http.MethodGet, "/v1/vendor/lots", user, nil).Code)
	assert.Equal(t, http.StatusForbidden, a.call(http.MethodGet, "/v1/bookings", vendor, nil).Code)
	assert.Equal(t, http.StatusOK, a.call(http.MethodGet, "/v1/me", user, nil).Code)
	assert.Equal(t, http.StatusOK, a.call(http.MethodGet, "/healthz", "", nil).Code)
}

func TestUpdateProfile(t *testing.T) {
	a := newApp(t)
	user := a.signUp("p@example.com", "user")

	rec := a.call(http.MethodPatch, "/v1/me", user, echo.Map{"name": "Priya", "phoneNumber": "+91 98450 12345"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Priya", decode(t, rec)["name"])

	rec = a.call(http.MethodGet, "/v1/me", user, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, "Priya", me["name"])
	assert.Equal(t, "+91 98450 12345", me["phoneNumber"])
	assert.Equal(t, "p@example.com", me["email"])

	rec = a.call(http.MethodPatch, "/v1/me", user, echo.Map{"phoneNumber": "not a phone"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, a.call(http.MethodPatch, "/v1/me", "", echo.Map{"name": "x"}).Code)
}

func TestReserveValidation(t *testing.T) {
	a := newApp(t)
	vendor := a.signUp("v@example.com", "vendor")
	user := a.signUp("u@example.com", "user")

	rec := a.call(http.MethodPost, "/v1/vendor/lots", vendor, echo.Map{"name": "Lot", "totalSpaces": 2, "hourlyCharge": 10})
	require.Equal(t, http.StatusCreated, rec.Code)
	lotID := decode(t, rec)["id"].(string)

	rec = a.call(http.MethodPost, "/v1/bookings", user, echo.Map{"parkingLotId": lotID, "plannedHours": 1, "paymentMethod": "card"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = a.call(http.MethodPost, "/v1/vehicles", user, echo.Map{"vehicleNumber": "MH12", "model": "City"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.call(http.MethodPost, "/v1/bookings", user, echo.Map{"parkingLotId": lotID, "plannedHours": 0, "paymentMethod": "card"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.call(http.MethodPost, "/v1/bookings/nope/cancel", user, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.call(http.MethodGet, "/v1/lots/"+lotID, "", nil)
	assert.Equal(t, 2.0, decode(t, rec)["availableSpaces"])
}

func TestRefreshAndLogout(t *testing.T) {
	a := newApp(t)
	rec := a.call(http.MethodPost, "/v1/auth/register", "", echo.Map{"email": "r@example.com", "password": "correct horse"})
	require.Equal(t, http.StatusCreated, rec.Code)
	refresh := decode(t, rec)["refresh_token"].(string)

	rec = a.call(http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, rec.Code)
	next := decode(t, rec)["refresh_token"].(string)

	assert.Equal(t, http.StatusUnauthorized, a.call(http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": refresh}).Code)
	assert.Equal(t, http.StatusNoContent, a.call(http.MethodPost, "/v1/auth/logout", "", echo.Map{"refresh_token": next}).Code)
	assert.Equal(t, http.StatusUnauthorized, a.call(http.MethodPost, "/v1/auth/refresh", "", echo.Map{"refresh_token": next}).Code)

	rec = a.call(http.MethodPost, "/v1/auth/login", "", echo.Map{"email": "r@example.com", "password": "wrong horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
