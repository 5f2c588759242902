package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"boxoffice/internal/api"
	"boxoffice/internal/authz"
	"boxoffice/internal/config"
	"boxoffice/internal/external"
	"boxoffice/internal/messaging"
	"boxoffice/internal/middleware"
	"boxoffice/internal/models"
	"boxoffice/internal/service"
	"boxoffice/internal/service/memstore"
	"boxoffice/internal/telemetry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	jwtSecret = "test-secret"

	shopID     = 1
	seatTypeID = 10
	eventDayID = 100
)

var (
	alice = authz.Principal{ID: 1, Role: authz.RoleCustomer}
	bob   = authz.Principal{ID: 2, Role: authz.RoleCustomer}
	admin = authz.Principal{ID: 99, Role: authz.RoleAdmin}
)

type outbox struct {
	mu   sync.Mutex
	sent []models.TicketNotification
}

func (o *outbox) SendTickets(ctx context.Context, n models.TicketNotification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, n)
	return nil
}

type testServer struct {
	t       *testing.T
	router  *gin.Engine
	svc     *service.Services
	gateway *external.PaymentClient
	mail    *outbox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := memstore.New()
	store.AddShop(shopID, "Grand Hall")
	store.AddSeatType(seatTypeID, "Stalls")
	store.AddEventDay(eventDayID, time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC))
	store.AddCustomer(models.CustomerContact{ID: alice.ID, Email: "alice@example.com", FullName: "Alice"})
	store.AddCustomer(models.CustomerContact{ID: bob.ID, Email: "bob@example.com", FullName: "Bob"})
	store.SetAvailability(models.SeatTypeAvailability{
		SeatTypeID: seatTypeID, EventDayID: eventDayID, Price: 2500, Quantity: 10, Available: true,
	})

	gateway := external.NewPaymentClient(external.PaymentConfig{MerchantID: "M-1", Secret: "merchant-secret"})
	artifacts, err := external.NewTicketArtifacts(external.ArtifactsConfig{})
	require.NoError(t, err)
	mail := &outbox{}

	svc := service.NewServices(service.Dependencies{
		Stores:   store.Stores(),
		Queue:    messaging.NewLocalQueue(messaging.LocalConfig{}),
		Events:   messaging.LogPublisher{},
		Gateway:  gateway,
		Renderer: artifacts,
		Codes:    artifacts,
		Notifier: mail,
		Options:  service.Options{BookingTTL: 15 * time.Minute},
	})

	cfg := &config.Config{
		GinMode:   gin.TestMode,
		Auth:      config.AuthConfig{JWTSecret: jwtSecret},
		Telemetry: telemetry.Config{ServiceName: "boxoffice-test"},
	}

	return &testServer{
		t:       t,
		router:  api.NewRouter(cfg, svc, nil, nil),
		svc:     svc,
		gateway: gateway,
		mail:    mail,
	}
}

func (s *testServer) do(p *authz.Principal, method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if p != nil {
		token, err := middleware.IssueToken(jwtSecret, "", *p, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) webhook(n models.GatewayNotification) *httptest.ResponseRecorder {
	form := url.Values{}
	form.Set("merchant_id", n.MerchantID)
	form.Set("order_id", n.OrderID)
	form.Set("payment_id", n.PaymentID)
	form.Set("status_code", strconv.Itoa(n.StatusCode))
	form.Set("amount", n.Amount)
	form.Set("currency", n.Currency)
	form.Set("signature", n.Signature)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/notifications", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func cartItem(qty int) models.AddCartItemRequest {
	return models.AddCartItemRequest{ShopID: shopID, SeatTypeID: seatTypeID, EventDayID: eventDayID, Quantity: qty}
}

func TestPurchaseFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(&alice, http.MethodPost, "/api/cart/items", cartItem(4))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(&bob, http.MethodGet, "/api/availability?seatTypeId=10&eventDayId=100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	avail := decode[models.AvailabilityResponse](t, w)
	assert.Equal(t, 10, avail.Quantity)
	assert.Equal(t, 6, avail.AvailableQuantity)

	w = s.do(&bob, http.MethodPost, "/api/cart/items", cartItem(7))
	require.Equal(t, http.StatusConflict, w.Code)
	conflict := decode[struct {
		Items []struct {
			Name              string `json:"name"`
			AvailableQuantity int    `json:"availableQuantity"`
		} `json:"items"`
	}](t, w)
	require.Len(t, conflict.Items, 1)
	assert.Equal(t, 6, conflict.Items[0].AvailableQuantity)
	assert.Equal(t, "Grand Hall / Stalls", conflict.Items[0].Name)

	w = s.do(&alice, http.MethodPost, "/api/checkout", models.CheckoutRequest{Method: "card"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	order := decode[models.CheckoutResult](t, w)
	require.NotNil(t, order.Payment)
	assert.Equal(t, "100.00", order.Payment.Amount)

	n := models.GatewayNotification{
		MerchantID: "M-1",
		OrderID:    order.Payment.OrderID,
		PaymentID:  "pay-1",
		StatusCode: 2,
		Amount:     order.Payment.Amount,
		Currency:   "LKR",
	}
	n.Signature = s.gateway.NotificationSignature(n)

	w = s.webhook(n)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ack := decode[struct {
		NotificationID   int64  `json:"notificationId"`
		ProcessingStatus string `json:"processingStatus"`
	}](t, w)
	assert.Equal(t, string(models.ProcessingQueued), ack.ProcessingStatus)

	// the worker picks the task up
	require.NoError(t, s.svc.Payments.Reconcile(context.Background(), ack.NotificationID))

	w = s.do(&alice, http.MethodGet, "/api/tickets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tickets := decode[models.ListTicketsResponse](t, w)
	require.Len(t, tickets.Tickets, 1)
	assert.NotEmpty(t, tickets.Tickets[0].DocumentRef)
	assert.Len(t, s.mail.sent, 1)

	w = s.do(&alice, http.MethodGet, "/api/cart", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[models.CartResponse](t, w).Items)

	w = s.do(&bob, http.MethodPost, "/api/orders/"+order.Payment.OrderID+"/tickets/resend", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(&alice, http.MethodPost, "/api/orders/"+order.Payment.OrderID+"/tickets/resend", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, s.mail.sent, 2)
}

func TestWebhookWithBadSignatureIsStoredButRejected(t *testing.T) {
	s := newTestServer(t)

	w := s.webhook(models.GatewayNotification{OrderID: "unknown", StatusCode: 2, Signature: "forged"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.ProcessingRejectedSignature))

	w = s.webhook(models.GatewayNotification{StatusCode: 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCartEndpoints(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(nil, http.MethodGet, "/api/cart", nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(&alice, http.MethodPost, "/api/cart/items", cartItem(0)).Code)
	assert.Equal(t, http.StatusNotFound, s.do(&alice, http.MethodPatch, "/api/cart/items", cartItem(2)).Code)

	require.Equal(t, http.StatusOK, s.do(&alice, http.MethodPost, "/api/cart/items", cartItem(3)).Code)
	w := s.do(&alice, http.MethodPatch, "/api/cart/items", cartItem(1))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[models.CartItem](t, w).Quantity)

	assert.Equal(t, http.StatusBadRequest, s.do(&alice, http.MethodDelete, "/api/cart/items?shopId=1", nil).Code)
	assert.Equal(t, http.StatusNoContent,
		s.do(&alice, http.MethodDelete, "/api/cart/items?shopId=1&seatTypeId=10&eventDayId=100", nil).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(&alice, http.MethodPost, "/api/checkout", nil).Code, "empty cart")
	assert.Equal(t, http.StatusNotFound,
		s.do(&alice, http.MethodGet, "/api/availability?seatTypeId=10&eventDayId=999", nil).Code)
}

func TestAdminEndpoints(t *testing.T) {
	s := newTestServer(t)

	adjust := models.AdjustAvailabilityRequest{SeatTypeID: seatTypeID, EventDayID: eventDayID, Delta: -4}
	assert.Equal(t, http.StatusForbidden, s.do(&alice, http.MethodPatch, "/api/admin/availability", adjust).Code)

	w := s.do(&admin, http.MethodPatch, "/api/admin/availability", adjust)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, decode[models.AdjustAvailabilityResponse](t, w).Quantity)

	adjust.Delta = -7
	assert.Equal(t, http.StatusConflict, s.do(&admin, http.MethodPatch, "/api/admin/availability", adjust).Code)

	s.webhook(models.GatewayNotification{OrderID: "ord-x", StatusCode: 2, Signature: "forged"})

	w = s.do(&admin, http.MethodGet, "/api/admin/notifications?signatureValid=false", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Notifications []models.PaymentNotification `json:"notifications"`
	}](t, w)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "ord-x", list.Notifications[0].GatewayOrderID)

	assert.Equal(t, http.StatusBadRequest, s.do(&admin, http.MethodGet, "/api/admin/notifications?limit=0", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(&admin, http.MethodGet, "/api/admin/notifications/search?q=x", nil).Code)

	w = s.do(&admin, http.MethodPost, "/api/admin/bookings/release-expired", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[models.ReleaseExpiredResponse](t, w).Released)

	assert.Equal(t, http.StatusOK, s.do(&admin, http.MethodPost, "/api/admin/notifications/requeue?olderThan=0s", nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(nil, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(nil, http.MethodGet, "/metrics", nil).Code)

	w := s.do(nil, http.MethodGet, "/api/payments/success?orderId=abc", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusBadRequest, s.do(nil, http.MethodGet, "/api/payments/fail", nil).Code)
}
