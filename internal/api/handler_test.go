package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"isla-market/internal/broker"
	"isla-market/internal/models"
	"isla-market/internal/objectstore"
	"isla-market/internal/service"
	"isla-market/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type apiFixture struct {
	mem      *store.MemoryStore
	objects  *objectstore.Memory
	router   *gin.Engine
	customer models.User
	admin    models.User
}

func newAPIFixture(t *testing.T, deps map[string]Pinger) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem := store.NewMemoryStore()
	objects := objectstore.NewMemory()
	publisher := broker.NewEventPublisher(broker.NewLoopback())
	orders := service.NewOrderService(mem, nil, time.Hour, publisher)
	catalog := service.NewCatalogService(mem)

	h := NewHandler(Services{
		Auth:      service.NewAuthService(mem, testSecret),
		Orders:    orders,
		Referrals: service.NewReferralService(mem, service.NewLocalLocker()),
		Catalog:   catalog,
		Dashboard: service.NewDashboardService(mem, 10),
		Uploads:   service.NewUploadService(objects, "https://cdn.example.com", 5<<20),
		Checkout:  service.NewCheckoutService(mem, orders, nil, service.CheckoutConfig{WebhookSecret: "whsec_test"}),
		Users:     service.NewUserService(mem),
	}, Options{
		MaxUploadBytes: 5 << 20,
		ConfigStatus: func() map[string]bool {
			return map[string]bool{"stripe_secret_key": true, "email_api_key": false}
		},
		Dependencies: deps,
	})

	router := gin.New()
	h.SetupRoutes(router)

	customer := models.User{ID: uuid.New(), Email: "ana@example.com", FullName: "Ana", Role: models.RoleCustomer}
	admin := models.User{ID: uuid.New(), Email: "root@example.com", FullName: "Root", Role: models.RoleAdmin}
	mem.PutUser(customer)
	mem.PutUser(admin)

	return &apiFixture{mem: mem, objects: objects, router: router, customer: customer, admin: admin}
}

func bearer(t *testing.T, userID uuid.UUID, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (f *apiFixture) do(t *testing.T, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	f := newAPIFixture(t, map[string]Pinger{
		"database": pingFunc(func(ctx context.Context) error { return nil }),
		"redis":    pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	w := f.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	checks := body["checks"].(map[string]interface{})
	assert.Equal(t, "up", checks["database"])
	assert.Equal(t, "down", checks["redis"])
}

func TestAdminGuard(t *testing.T) {
	f := newAPIFixture(t, nil)
	future := time.Now().Add(time.Hour)

	w := f.do(t, http.MethodGet, "/api/admin/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/products", "Bearer not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/products", bearer(t, f.admin.ID, time.Now().Add(-time.Minute)), nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "token expired", decode(t, w)["error"])

	w = f.do(t, http.MethodGet, "/api/admin/orders", bearer(t, f.customer.ID, future), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/check", bearer(t, f.admin.ID, future), nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["is_admin"])
	assert.Equal(t, f.admin.ID.String(), body["user_id"])
}

func TestConfigStatusOnlyBooleans(t *testing.T) {
	f := newAPIFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/admin/config-status", bearer(t, f.admin.ID, time.Now().Add(time.Hour)), nil)
	require.Equal(t, http.StatusOK, w.Code)

	for key, v := range decode(t, w) {
		_, isBool := v.(bool)
		assert.True(t, isBool, "field %s is not a boolean", key)
	}
}

func TestOrderLifecycle(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()
	auth := bearer(t, f.customer.ID, time.Now().Add(time.Hour))

	product := &models.Product{Name: "Coffee", Price: 1500, StockQuantity: 5, IsActive: true}
	require.NoError(t, f.mem.CreateProduct(ctx, product))

	w := f.do(t, http.MethodPost, "/api/orders/create", auth, gin.H{
		"items": []gin.H{{"product_id": product.ID, "quantity": 2}},
		"shipping_address": gin.H{
			"full_name": "Ana Ruiz", "address_line1": "Calle 1", "city": "San Juan", "country": "PR",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	assert.Equal(t, "pending", created["status"])
	assert.Equal(t, float64(3000), created["total_amount"])
	orderID := int64(created["id"].(float64))

	stored, err := f.mem.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.StockQuantity)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/orders/%d", orderID), auth, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", orderID), auth, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", orderID), auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["current_status"])

	stored, err = f.mem.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.StockQuantity)
}

func TestOrderErrors(t *testing.T) {
	f := newAPIFixture(t, nil)
	auth := bearer(t, f.customer.ID, time.Now().Add(time.Hour))

	w := f.do(t, http.MethodPost, "/api/orders", "", gin.H{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(t, http.MethodPost, "/api/orders", auth, gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/orders/999", auth, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "order not found", body["error"])
	assert.NotContains(t, body, "details")

	w = f.do(t, http.MethodGet, "/api/orders/abc", auth, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicCatalogHidesInactiveProducts(t *testing.T) {
	f := newAPIFixture(t, nil)
	ctx := context.Background()

	active := &models.Product{Name: "Coffee", Price: 1500, StockQuantity: 5, IsActive: true}
	hidden := &models.Product{Name: "Old Mug", Price: 900, StockQuantity: 1, IsActive: false}
	require.NoError(t, f.mem.CreateProduct(ctx, active))
	require.NoError(t, f.mem.CreateProduct(ctx, hidden))

	w := f.do(t, http.MethodGet, "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decode(t, w)["products"].([]interface{})
	require.Len(t, products, 1)
	assert.Equal(t, float64(1500), products[0].(map[string]interface{})["display_price"])

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/products/%d", hidden.ID), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, fmt.Sprintf("/api/admin/products/%d", hidden.ID), bearer(t, f.admin.ID, time.Now().Add(time.Hour)), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func (f *apiFixture) upload(t *testing.T, path, auth, filename, contentType string, data []byte, folder string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	if folder != "" {
		require.NoError(t, mw.WriteField("folder", folder))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", auth)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAdminUpload(t *testing.T) {
	f := newAPIFixture(t, nil)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	auth := bearer(t, f.admin.ID, time.Now().Add(time.Hour))

	w := f.upload(t, "/api/admin/upload", auth, "photo.png", "image/png", png, "Banners")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	key := body["key"].(string)
	assert.True(t, strings.HasPrefix(key, "banners/"))
	assert.Equal(t, "https://cdn.example.com/"+key, body["url"])
	_, stored := f.objects.Get(key)
	assert.True(t, stored)

	w = f.do(t, http.MethodDelete, "/api/admin/upload?key="+key, auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, stored = f.objects.Get(key)
	assert.False(t, stored)
}

func TestUploadRejections(t *testing.T) {
	f := newAPIFixture(t, nil)
	auth := bearer(t, f.customer.ID, time.Now().Add(time.Hour))
	jpeg := func(size int) []byte {
		data := make([]byte, size)
		copy(data, []byte{0xff, 0xd8, 0xff, 0xe0})
		return data
	}

	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantError   string
	}{
		{"pdf", "invoice.pdf", "application/pdf", []byte("%PDF-1.4\n%fake"), "file type not allowed"},
		{"jpeg over the limit", "big.jpg", "image/jpeg", jpeg(6000000), "file too large; maximum size is 5MB"},
		{"jpeg over the body cap", "huge.jpg", "image/jpeg", jpeg(6 << 20), "file too large; maximum size is 5MB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.upload(t, "/api/upload", auth, tt.filename, tt.contentType, tt.data, "")
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w)["error"], tt.wantError)
		})
	}
	assert.Zero(t, f.objects.Len())
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	f := newAPIFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := strings.Repeat("x", webhookMaxBytes+1)
	req = httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", strings.NewReader(big))
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReferralCodeValidation(t *testing.T) {
	f := newAPIFixture(t, nil)
	referrer := &models.Referrer{UserID: f.admin.ID, ReferralCode: "MARIA2024", CommissionRate: 10, DurationMonths: 6, IsActive: true}
	require.NoError(t, f.mem.CreateReferrer(context.Background(), referrer))

	w := f.do(t, http.MethodGet, "/api/referrals/validate/maria2024", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, float64(10), body["commission_rate"])

	w = f.do(t, http.MethodPost, "/api/referrals/link", bearer(t, f.customer.ID, time.Now().Add(time.Hour)), gin.H{"referral_code": "maria2024"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/api/referrals/link", bearer(t, f.customer.ID, time.Now().Add(time.Hour)), gin.H{"referral_code": "maria2024"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondErrorDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	internal := service.Internal("failed to load orders", errors.New("connection reset"))

	for _, production := range []bool{false, true} {
		h := &Handler{production: production}
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		h.respondError(c, internal)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decode(t, w)
		assert.Equal(t, "failed to load orders", body["error"])
		if production {
			assert.NotContains(t, body, "details")
		} else {
			assert.Equal(t, "failed to load orders: connection reset", body["details"])
		}
	}
}

func TestRespondErrorStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
	}{
		{service.Validation("bad"), http.StatusBadRequest},
		{service.Unauthorized("who"), http.StatusUnauthorized},
		{service.Forbidden("no"), http.StatusForbidden},
		{service.NotFound("gone"), http.StatusNotFound},
		{service.Conflict("dup", nil), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	h := &Handler{production: true}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		h.respondError(c, tc.err)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
	}
}
