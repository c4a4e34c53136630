package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/intake"
	"github.com/vladislavdragonenkov/storefront/internal/service/notify"
	"github.com/vladislavdragonenkov/storefront/internal/service/orders"
)

const (
	testAdminToken = "admin-secret-token"
	testJWTSecret  = "jwt-signing-secret"
)

type fakeService struct {
	mu sync.Mutex

	createRes orders.CreateResult
	createErr error
	created   []intake.Request

	statusRes orders.StatusResult
	statusErr error
	patches   []domain.StatusPatch
	patchIDs  []string

	track      orders.TrackView
	receipt    []byte
	lookupErr  error
	identities []orders.Identity

	events []domain.TimelineEvent
	stats  orders.Stats
}

func (f *fakeService) Create(_ context.Context, req intake.Request) (orders.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return f.createRes, f.createErr
}

func (f *fakeService) UpdateStatus(_ context.Context, id string, patch domain.StatusPatch) (orders.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchIDs = append(f.patchIDs, id)
	f.patches = append(f.patches, patch)
	return f.statusRes, f.statusErr
}

func (f *fakeService) Track(_ context.Context, _ string, id orders.Identity) (orders.TrackView, error) {
	f.identities = append(f.identities, id)
	return f.track, f.lookupErr
}

func (f *fakeService) Receipt(_ context.Context, ref string, id orders.Identity) ([]byte, string, error) {
	f.identities = append(f.identities, id)
	if f.lookupErr != nil {
		return nil, "", f.lookupErr
	}
	return f.receipt, "receipt-" + ref + ".pdf", nil
}

func (f *fakeService) Timeline(context.Context, string) ([]domain.TimelineEvent, error) {
	return f.events, f.lookupErr
}

func (f *fakeService) Stats(context.Context) (orders.Stats, error) {
	return f.stats, f.lookupErr
}

func newTestServer(t *testing.T, svc *fakeService, mutate ...func(*Config)) (http.Handler, *prometheus.Registry) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AdminToken = testAdminToken
	cfg.JWTSecret = testJWTSecret
	cfg.RateLimitRPS = 0
	for _, m := range mutate {
		m(&cfg)
	}
	reg := prometheus.NewRegistry()
	srv := NewServer(cfg, svc, Options{
		Gatherer: reg,
		Metrics:  metrics.NewOrderMetricsWithRegisterer(reg),
	})
	return srv.Routes(), reg
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const canonicalOrder = `{"order":{"items":[{"productKey":"rice","unitTitle":"Rice 5kg","unitPrice":120,"quantity":2}],
"info":{"name":"Aminata","phone":"+23276000000","address":"12 Main Rd","deliveryZone":"Greater Freetown"}}}`

func TestCreateOrder_Persisted(t *testing.T) {
	svc := &fakeService{createRes: orders.CreateResult{Reference: "LWG-ABC123", ID: "id-1", Persisted: true, ProofURL: "https://cdn/proof.png"}}
	h, _ := newTestServer(t, svc)

	rec := do(t, h, http.MethodPost, "/orders", canonicalOrder)

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "LWG-ABC123", body["ref"])
	assert.Equal(t, "id-1", body["id"])
	assert.Equal(t, "https://cdn/proof.png", body["proofUrl"])

	require.Len(t, svc.created, 1)
	assert.False(t, svc.created[0].Legacy)
	assert.Equal(t, "Aminata", svc.created[0].Order.Info.Name)
}

func TestCreateOrder_DegradedReturnsNullID(t *testing.T) {
	svc := &fakeService{createRes: orders.CreateResult{Reference: "LWG-ABC123"}}
	h, _ := newTestServer(t, svc)

	rec := do(t, h, http.MethodPost, "/checkout", canonicalOrder)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "LWG-ABC123", body["ref"])
	v, present := body["id"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.NotContains(t, body, "proofUrl")
}

func TestCreateOrder_AllIntakePathsAcceptLegacyShape(t *testing.T) {
	for _, path := range []string{"/orders", "/orders/create", "/api/orders", "/checkout"} {
		t.Run(path, func(t *testing.T) {
			svc := &fakeService{createRes: orders.CreateResult{Reference: "LWG-ZZZ999", ID: "x", Persisted: true}}
			h, _ := newTestServer(t, svc)

			rec := do(t, h, http.MethodPost, path,
				`{"ref":"LWG-ZZZ999","cart":[{"title":"Oil","price":50,"qty":1}],"name":"Musa","email":"m@example.com","address":"Hill"}`)

			require.Equal(t, http.StatusCreated, rec.Code)
			require.Len(t, svc.created, 1)
			got := svc.created[0]
			assert.True(t, got.Legacy)
			assert.Equal(t, "LWG-ZZZ999", got.Order.ReferenceHint)
			assert.Equal(t, "Musa", got.Order.Info.Name)
			require.Len(t, got.Order.Items, 1)
			assert.Equal(t, 50.0, got.Order.Items[0].UnitPrice)
		})
	}
}

func TestCreateOrder_Rejections(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		svc := &fakeService{}
		h, _ := newTestServer(t, svc)
		rec := do(t, h, http.MethodPost, "/orders", `{"order":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, false, decode(t, rec)["ok"])
		assert.Empty(t, svc.created)
	})

	t.Run("validation details", func(t *testing.T) {
		verr := &domain.ValidationError{Problems: []error{domain.ErrItemsRequired, domain.ErrNameRequired}}
		svc := &fakeService{createErr: verr}
		h, _ := newTestServer(t, svc)

		rec := do(t, h, http.MethodPost, "/orders", `{"order":{"items":[]}}`)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, domain.ErrValidation.Error(), body["error"])
		assert.Len(t, body["details"], 2)
	})

	t.Run("body too large", func(t *testing.T) {
		h, _ := newTestServer(t, &fakeService{}, func(c *Config) { c.MaxBodyBytes = 16 })
		rec := do(t, h, http.MethodPost, "/orders", canonicalOrder)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("unexpected error", func(t *testing.T) {
		h, _ := newTestServer(t, &fakeService{createErr: fmt.Errorf("boom")})
		rec := do(t, h, http.MethodPost, "/orders", canonicalOrder)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestCreateOrder_RateLimitedPerIP(t *testing.T) {
	svc := &fakeService{createRes: orders.CreateResult{Reference: "LWG-ABC123", ID: "1", Persisted: true}}
	h, _ := newTestServer(t, svc, func(c *Config) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 2
	})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/orders", canonicalOrder).Code)
	}
	rec := do(t, h, http.MethodPost, "/orders", canonicalOrder)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Другой клиент ограничивается отдельно.
	rec = do(t, h, http.MethodPost, "/orders", canonicalOrder, "X-Real-IP", "198.51.100.7")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, svc.created, 3)
}

func TestIPLimiter_ForgetsIdleClients(t *testing.T) {
	l := newIPLimiter(0.001, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))

	now = now.Add(limiterIdleTTL + limiterSweepEvery + time.Second)
	assert.True(t, l.allow("b"))
	assert.NotContains(t, l.buckets, "a")

	var disabled *ipLimiter
	assert.True(t, disabled.allow("a"))
}

func TestAdminAuth(t *testing.T) {
	now := time.Now()
	valid, err := NewAdminToken(testJWTSecret, "ops@example.com", time.Hour, now)
	require.NoError(t, err)
	expired, err := NewAdminToken(testJWTSecret, "ops@example.com", time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)
	foreign, err := NewAdminToken("other-secret", "ops@example.com", time.Hour, now)
	require.NoError(t, err)

	nonAdmin, err := signClaims(testJWTSecret, AdminClaims{Role: "viewer"}, now)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testAdminToken, http.StatusUnauthorized},
		{"static token", "Bearer " + testAdminToken, http.StatusOK},
		{"wrong static token", "Bearer nope", http.StatusUnauthorized},
		{"jwt", "Bearer " + valid, http.StatusOK},
		{"expired jwt", "Bearer " + expired, http.StatusUnauthorized},
		{"foreign jwt", "Bearer " + foreign, http.StatusUnauthorized},
		{"jwt without admin role", "Bearer " + nonAdmin, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, _ := newTestServer(t, &fakeService{stats: orders.Stats{Total: 3}})
			rec := do(t, h, http.MethodGet, "/admin/orders/stats", "", "Authorization", tc.header)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}

	_, err = NewAdminToken("", "x", time.Hour, now)
	assert.Error(t, err)
}

func TestUpdateOrder(t *testing.T) {
	shipped := domain.OrderStatusShipped
	svc := &fakeService{statusRes: orders.StatusResult{
		Order: domain.Order{ID: "id-1", Reference: "LWG-ABC123", Status: shipped, PaymentStatus: domain.PaymentStatusPaid},
		Changes: []domain.Change{{Field: "status", From: "New", To: "Shipped"}},
		Outcomes: []notify.Outcome{
			{Channel: notify.ChannelCustomerEmail, Status: notify.StatusSent},
			{Channel: notify.ChannelEvents, Status: notify.StatusSkipped, Reason: "channel not configured"},
		},
	}}
	h, _ := newTestServer(t, svc)

	rec := do(t, h, http.MethodPatch, "/orders/LWG-ABC123", `{"status":"shipped","note":"  left the warehouse "}`,
		"Authorization", "Bearer "+testAdminToken)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "Shipped", body["status"])
	assert.Len(t, body["changes"], 1)
	assert.Len(t, body["notifications"], 2)

	require.Len(t, svc.patches, 1)
	assert.Equal(t, "LWG-ABC123", svc.patchIDs[0])
	require.NotNil(t, svc.patches[0].Status)
	assert.Equal(t, domain.OrderStatusShipped, *svc.patches[0].Status)
	assert.Nil(t, svc.patches[0].PaymentStatus)
	require.NotNil(t, svc.patches[0].Note)
	assert.Equal(t, "left the warehouse", *svc.patches[0].Note)
}

func TestUpdateOrder_Rejections(t *testing.T) {
	auth := []string{"Authorization", "Bearer " + testAdminToken}
	cases := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"empty object", `{}`, nil, http.StatusBadRequest},
		{"unknown field", `{"status":"Shipped","total":5}`, nil, http.StatusBadRequest},
		{"wrong type", `{"status":5}`, nil, http.StatusBadRequest},
		{"unknown status", `{"status":"teleported"}`, nil, http.StatusBadRequest},
		{"not json", `status=Shipped`, nil, http.StatusBadRequest},
		{"empty patch from service", `{"note":"x"}`, domain.ErrEmptyPatch, http.StatusBadRequest},
		{"not found", `{"status":"Shipped"}`, domain.ErrOrderNotFound, http.StatusNotFound},
		{"store down", `{"status":"Shipped"}`, fmt.Errorf("%w: conn refused", domain.ErrPersistenceUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{statusErr: tc.err}
			h, _ := newTestServer(t, svc)
			rec := do(t, h, http.MethodPatch, "/orders/abc", tc.body, auth...)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, false, decode(t, rec)["ok"])
			if tc.err == nil {
				assert.Empty(t, svc.patches)
			}
		})
	}
}

func TestTrackOrder(t *testing.T) {
	svc := &fakeService{track: orders.TrackView{Reference: "LWG-ABC123", Status: domain.OrderStatusNew}}
	h, _ := newTestServer(t, svc)

	rec := do(t, h, http.MethodGet, "/orders/track?ref=LWG-ABC123&phone=%2B23276000000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode(t, rec)["order"].(map[string]any)
	assert.Equal(t, "LWG-ABC123", order["reference"])
	require.Len(t, svc.identities, 1)
	assert.Equal(t, "+23276000000", svc.identities[0].Phone)

	rec = do(t, h, http.MethodGet, "/orders/track?ref=LWG-ABC123", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.lookupErr = fmt.Errorf("%w: %w", domain.ErrOrderNotFound, domain.ErrIdentityMismatch)
	rec = do(t, h, http.MethodGet, "/orders/track?ref=LWG-ABC123&email=x@example.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	svc.lookupErr = domain.ErrPersistenceUnavailable
	rec = do(t, h, http.MethodGet, "/orders/track?ref=LWG-ABC123&email=x@example.com", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestOrderReceipt(t *testing.T) {
	svc := &fakeService{receipt: []byte("%PDF-1.3 fake")}
	h, _ := newTestServer(t, svc)

	rec := do(t, h, http.MethodGet, "/orders/receipt.pdf?ref=LWG-ABC123&email=a@example.com", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="receipt-LWG-ABC123.pdf"`)
	assert.Equal(t, "%PDF-1.3 fake", rec.Body.String())

	svc.lookupErr = domain.ErrOrderNotFound
	rec = do(t, h, http.MethodGet, "/orders/receipt.pdf?ref=LWG-ABC123&email=a@example.com", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrderTimeline_RequiresAdmin(t *testing.T) {
	svc := &fakeService{events: []domain.TimelineEvent{{Reference: "LWG-ABC123", Type: domain.TimelineOrderCreated}}}
	h, _ := newTestServer(t, svc)

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/orders/LWG-ABC123/timeline", "").Code)

	rec := do(t, h, http.MethodGet, "/orders/LWG-ABC123/timeline", "", "Authorization", "Bearer "+testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["events"], 1)
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	svc := &fakeService{statusRes: orders.StatusResult{Order: domain.Order{Reference: "LWG-ABC123"}}}
	h, _ := newTestServer(t, svc)

	do(t, h, http.MethodPatch, "/orders/LWG-ABC123", `{"status":"Shipped"}`, "Authorization", "Bearer "+testAdminToken)
	do(t, h, http.MethodGet, "/no/such/route", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "storefront_http_requests_total")
	assert.Contains(t, out, `route="/orders/{id}"`)
	assert.Contains(t, out, `route="unmatched"`)
	assert.NotContains(t, out, "LWG-ABC123")
}

func TestHealthEndpoints(t *testing.T) {
	h, _ := newTestServer(t, &fakeService{})
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/livez", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
}

func signClaims(secret string, claims AdminClaims, now time.Time) (string, error) {
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(time.Hour))
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
