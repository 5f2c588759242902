package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"boxoffice/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPaymentClient(baseURL string) *PaymentClient {
	return NewPaymentClient(PaymentConfig{
		BaseURL:    baseURL,
		MerchantID: "M-100",
		Secret:     "s3cret",
		Currency:   "LKR",
		ReturnURL:  "https://shop.test/api/payments/success",
		CancelURL:  "https://shop.test/api/payments/fail",
	})
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{1999, "19.99"},
		{250000, "2500.00"},
		{-150, "-1.50"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.minor))
	}
}

func TestSignIntent(t *testing.T) {
	pc := newTestPaymentClient("")

	intent := pc.SignIntent("order-1", 12050, "card")

	assert.Equal(t, "M-100", intent.MerchantID)
	assert.Equal(t, "120.50", intent.Amount)
	assert.Equal(t, "LKR", intent.Currency)
	assert.Len(t, intent.Hash, 64)
	assert.Equal(t, "https://shop.test/api/payments/success?orderId=order-1", intent.ReturnURL)

	again := pc.SignIntent("order-1", 12050, "wallet")
	assert.Equal(t, intent.Hash, again.Hash)

	other := pc.SignIntent("order-1", 12051, "card")
	assert.NotEqual(t, intent.Hash, other.Hash)
}

func TestVerifyNotification(t *testing.T) {
	pc := newTestPaymentClient("")
	n := models.GatewayNotification{
		MerchantID: "M-100",
		OrderID:    "order-1",
		PaymentID:  "pay-9",
		StatusCode: 2,
		Amount:     "120.50",
		Currency:   "LKR",
	}
	n.Signature = pc.NotificationSignature(n)

	assert.True(t, pc.VerifyNotification(n))

	tampered := n
	tampered.StatusCode = -2
	assert.False(t, pc.VerifyNotification(tampered))

	foreign := n
	foreign.MerchantID = "M-200"
	assert.False(t, pc.VerifyNotification(foreign))

	unsigned := n
	unsigned.Signature = ""
	assert.False(t, pc.VerifyNotification(unsigned))
}

func TestOrderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders/status", r.URL.Path)
		if r.URL.Query().Get("order_id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"order_id":"order-1","status_code":2}`))
	}))
	defer server.Close()

	pc := newTestPaymentClient(server.URL)

	code, err := pc.OrderStatus(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	code, err = pc.OrderStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}
