package http_api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keypay/keypay/internal/models"
	"github.com/keypay/keypay/pkg/logger"
)

const payAddress = "TNo5GoG5bV2ahj6XjS7rBwrA4WVhqEmNU9"

type fakeKeypay struct {
	order      *models.Order
	verify     *models.VerifyResult
	err        error
	lastCaller *models.Principal
	lastFilter models.LicenseFilter
	lastPage   models.Page
	lastSearch string
	lastIDs    []string
	batchN     int
}

func (f *fakeKeypay) Start(context.Context) {}

func (f *fakeKeypay) EnsureOrder(_ context.Context, caller *models.Principal) (*models.Order, error) {
	f.lastCaller = caller
	return f.order, f.err
}

func (f *fakeKeypay) CreateOrder(ctx context.Context, caller *models.Principal) (*models.Order, error) {
	return f.EnsureOrder(ctx, caller)
}

func (f *fakeKeypay) VerifyOrder(_ context.Context, caller *models.Principal, orderID string) (*models.VerifyResult, error) {
	f.lastCaller = caller
	f.lastSearch = orderID
	return f.verify, f.err
}

func (f *fakeKeypay) IssueLicense(ctx context.Context, caller *models.Principal, orderID string) (*models.VerifyResult, error) {
	return f.VerifyOrder(ctx, caller, orderID)
}

func (f *fakeKeypay) ListOrders(_ context.Context, caller *models.Principal, search string) ([]models.Order, error) {
	f.lastCaller = caller
	f.lastSearch = search
	if f.order == nil {
		return nil, f.err
	}
	return []models.Order{*f.order}, f.err
}

func (f *fakeKeypay) ListLicenses(_ context.Context, _ *models.Principal, filter models.LicenseFilter, page models.Page) (*models.LicensePage, error) {
	f.lastFilter = filter
	f.lastPage = page
	if f.err != nil {
		return nil, f.err
	}
	return &models.LicensePage{Page: 1, PerPage: 20, TotalPages: 1}, nil
}

func (f *fakeKeypay) CreateLicenses(_ context.Context, _ *models.Principal, req models.CreateLicensesRequest) ([]models.LicenseKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	keys := make([]models.LicenseKey, req.Quantity)
	for i := range keys {
		keys[i] = models.LicenseKey{ID: fmt.Sprintf("k%d", i), User: req.User, Status: models.LicenseUnused}
	}
	return keys, nil
}

func (f *fakeKeypay) SetLicenseStatus(_ context.Context, _ *models.Principal, id string, _ models.LicenseStatus) error {
	f.lastIDs = []string{id}
	return f.err
}

func (f *fakeKeypay) BatchSetLicenseStatus(_ context.Context, _ *models.Principal, ids []string, _ models.LicenseStatus) (int, error) {
	f.lastIDs = ids
	return f.batchN, f.err
}

func (f *fakeKeypay) ListUsers(_ context.Context, _ *models.Principal, search string, page models.Page) ([]models.UserSummary, int, error) {
	f.lastSearch = search
	f.lastPage = page
	return []models.UserSummary{}, 0, f.err
}

func (f *fakeKeypay) PayAddress() string { return payAddress }

type fakeAccounts struct{}

func (fakeAccounts) Login(_ context.Context, email, password string) (string, *models.Principal, error) {
	if password != "secret" {
		return "", nil, models.ErrUnauthorized
	}
	return "tok", &models.Principal{ID: "u1", Email: email}, nil
}

func (fakeAccounts) Register(_ context.Context, email, _, _ string) (string, *models.Principal, error) {
	return "tok", &models.Principal{ID: "u2", Email: email}, nil
}

type tokenAuth map[string]*models.Principal

func (a tokenAuth) Authenticate(_ context.Context, token string) (*models.Principal, error) {
	if p, ok := a[token]; ok {
		return p, nil
	}
	return nil, models.ErrUnauthorized
}

var (
	userPrincipal  = &models.Principal{ID: "u1", Email: "u1@example.com"}
	adminPrincipal = &models.Principal{ID: "a1", IsSuperAdmin: true}
)

func newTestServer(t *testing.T, kp *fakeKeypay, accounts Accounts) *HTTPServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := tokenAuth{"user-token": userPrincipal, "admin-token": adminPrincipal}
	return NewHTTPServer(kp, auth, accounts, Options{
		AllowedOrigins: []string{"https://dashboard.example"},
		VerifyPath:     "/api/verify-order",
	}, logger.NewNop())
}

func do(t *testing.T, s *HTTPServer, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])

	w = do(t, s, http.MethodGet, "/api/v1/orders", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payment-qr", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestEnsureOrder(t *testing.T) {
	kp := &fakeKeypay{order: &models.Order{
		ID:        "o1",
		User:      "u1",
		Address:   payAddress,
		Amount:    "2.0371",
		Status:    models.OrderPending,
		ExpiresAt: time.Now().Add(20 * time.Minute),
	}}
	s := newTestServer(t, kp, nil)

	w := do(t, s, http.MethodPost, "/api/v1/orders", "user-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "2.0371", body["order"].(map[string]interface{})["amount"])
	assert.Equal(t, PaymentQRURL(DefaultQRServiceURL, payAddress), body["qr_url"])
	assert.Equal(t, userPrincipal, kp.lastCaller)
}

func TestVerifyOrderResponseShape(t *testing.T) {
	kp := &fakeKeypay{verify: &models.VerifyResult{
		Confirmed: true,
		Status:    models.OrderConfirmed,
		TxID:      "tx1",
		License:   &models.LicenseRef{ID: "k1", Code: "ABCD"},
		Checked:   true,
	}}
	s := newTestServer(t, kp, nil)

	for _, path := range []string{"/api/v1/verify-order", "/api/verify-order"} {
		w := do(t, s, http.MethodPost, path, "user-token", map[string]string{"orderId": " o1 "})
		require.Equal(t, http.StatusOK, w.Code, path)
		body := decode(t, w)
		assert.Equal(t, true, body["confirmed"])
		assert.Equal(t, "confirmed", body["status"])
		assert.Equal(t, "tx1", body["txid"])
		assert.Equal(t, true, body["checked"])
		assert.Equal(t, "ABCD", body["license"].(map[string]interface{})["code"])
		assert.Equal(t, "o1", kp.lastSearch)
	}

	w := do(t, s, http.MethodPost, "/api/v1/verify-order", "user-token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{models.ErrForbidden, http.StatusForbidden},
		{models.ErrOrderNotFound, http.StatusNotFound},
		{models.ErrOrderExpired, http.StatusGone},
		{fmt.Errorf("confirm: %w", models.ErrDuplicateTx), http.StatusConflict},
		{models.ErrUnsupportedChain, http.StatusUnprocessableEntity},
		{models.ErrInvalidArgument, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			s := newTestServer(t, &fakeKeypay{err: tc.err}, nil)
			w := do(t, s, http.MethodPost, "/api/v1/verify-order", "user-token", map[string]string{"orderId": "o1"})
			assert.Equal(t, tc.status, w.Code)
			body := decode(t, w)
			assert.Equal(t, false, body["success"])
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "Internal server error", body["error"])
			}
		})
	}
}

func TestListLicensesQuery(t *testing.T) {
	kp := &fakeKeypay{}
	s := newTestServer(t, kp, nil)

	w := do(t, s, http.MethodGet, "/api/v1/licenses?status=banned&keyword=%20abc%20&expiry=soon&page=2&perPage=50", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.LicenseFilter{Status: models.LicenseBanned, Keyword: "abc", Expiry: models.ExpirySoon}, kp.lastFilter)
	assert.Equal(t, models.Page{Page: 2, PerPage: 50}, kp.lastPage)
}

func TestCreateLicenses(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, nil)

	w := do(t, s, http.MethodPost, "/api/v1/licenses", "admin-token", models.CreateLicensesRequest{User: "u1", Quantity: 3})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, decode(t, w)["items"], 3)
}

func TestLicenseStatusRoutes(t *testing.T) {
	kp := &fakeKeypay{}
	s := newTestServer(t, kp, nil)

	w := do(t, s, http.MethodPatch, "/api/v1/licenses/k1/status", "admin-token", map[string]string{"status": "banned"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"k1"}, kp.lastIDs)

	kp.batchN = 1
	kp.err = errors.New("k3: record not found")
	w = do(t, s, http.MethodPost, "/api/v1/licenses/batch-status", "admin-token", map[string]interface{}{
		"ids":    []string{"k1", "k3"},
		"status": "unused",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(1), body["updated"])
	assert.Equal(t, []string{"k1", "k3"}, kp.lastIDs)
}

func TestListUsers(t *testing.T) {
	kp := &fakeKeypay{}
	s := newTestServer(t, kp, nil)

	w := do(t, s, http.MethodGet, "/api/v1/users?search=bob&page=3", "admin-token", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", kp.lastSearch)
	assert.Equal(t, models.Page{Page: 3}, kp.lastPage)

	kp.err = models.ErrForbidden
	w = do(t, s, http.MethodGet, "/api/v1/users", "user-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPaymentQR(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, nil)

	w := do(t, s, http.MethodGet, "/api/v1/payment-qr", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, payAddress, body["address"])
	assert.Equal(t, "https://api.qrserver.com/v1/create-qr-code/?size=260x260&data="+payAddress, body["url"])

	w = do(t, s, http.MethodGet, "/api/v1/payment-qr?address=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentQRURLEscapes(t *testing.T) {
	assert.Equal(t,
		"https://qr.example/?size=260x260&data=tron%3AT1%3Famount%3D2",
		PaymentQRURL("https://qr.example/", "tron:T1?amount=2"))
	assert.Equal(t,
		"https://qr.example/gen?fmt=png&size=260x260&data=x",
		PaymentQRURL("https://qr.example/gen?fmt=png", "x"))
}

func TestLoginAndRegister(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, fakeAccounts{})

	w := do(t, s, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "u1@example.com", Password: "secret"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "tok", decode(t, w)["token"])

	w = do(t, s, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "u1@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Email: "new@example.com", Password: "longenough", PasswordConfirm: "different"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/auth/register", "", RegisterRequest{Email: "new@example.com", Password: "longenough", PasswordConfirm: "longenough"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "new@example.com", decode(t, w)["user"].(map[string]interface{})["email"])
}

func TestAuthRoutesWithoutAccounts(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, nil)

	w := do(t, s, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{Email: "a@b.c", Password: "x"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeKeypay{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/orders", nil)
	req.Header.Set("Origin", "https://dashboard.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://dashboard.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminTokenAuth(t *testing.T) {
	auth := AdminTokenAuth{Token: "s3cret"}

	p, err := auth.Authenticate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.True(t, p.IsSuperAdmin)

	_, err = auth.Authenticate(context.Background(), "other")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = AdminTokenAuth{}.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer  abc "))
	assert.Equal(t, "abc", bearerToken("abc"))
	assert.Equal(t, "", bearerToken(""))
}
