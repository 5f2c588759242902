package external

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"boxoffice/internal/models"

	"github.com/go-resty/resty/v2"
)

type PaymentConfig struct {
	BaseURL     string
	CheckoutURL string
	MerchantID  string
	Secret      string
	Currency    string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
	Timeout     time.Duration
}

// PaymentClient signs initiation payloads, verifies webhook signatures and
// looks up order status on the gateway.
type PaymentClient struct {
	cfg  PaymentConfig
	http *resty.Client
}

// OrderStatusResponse is the gateway's view of one order.
type OrderStatusResponse struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id"`
	StatusCode int    `json:"status_code"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

func NewPaymentClient(cfg PaymentConfig) *PaymentClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "LKR"
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &PaymentClient{cfg: cfg, http: client}
}

func (pc *PaymentClient) Currency() string {
	return pc.cfg.Currency
}

// generateToken hashes the parameter values in alphabetical key order with the
// merchant secret appended under the "Secret" key.
func (pc *PaymentClient) generateToken(params map[string]string) string {
	params["MerchantId"] = pc.cfg.MerchantID
	params["Secret"] = pc.cfg.Secret

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, key := range keys {
		sb.WriteString(params[key])
	}

	hash := sha256.Sum256([]byte(sb.String()))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

// SignIntent builds the initiation payload for one gateway order.
func (pc *PaymentClient) SignIntent(orderID string, amount int64, method string) models.PaymentIntent {
	formatted := FormatAmount(amount)
	hash := pc.generateToken(map[string]string{
		"Amount":   formatted,
		"Currency": pc.cfg.Currency,
		"OrderId":  orderID,
	})

	return models.PaymentIntent{
		MerchantID:  pc.cfg.MerchantID,
		OrderID:     orderID,
		Amount:      formatted,
		Currency:    pc.cfg.Currency,
		Hash:        hash,
		Method:      method,
		CheckoutURL: pc.cfg.CheckoutURL,
		ReturnURL:   withOrder(pc.cfg.ReturnURL, orderID),
		CancelURL:   withOrder(pc.cfg.CancelURL, orderID),
		NotifyURL:   pc.cfg.NotifyURL,
	}
}

// NotificationSignature is the signature the gateway is expected to send for n.
func (pc *PaymentClient) NotificationSignature(n models.GatewayNotification) string {
	return pc.generateToken(map[string]string{
		"Amount":     n.Amount,
		"Currency":   n.Currency,
		"OrderId":    n.OrderID,
		"PaymentId":  n.PaymentID,
		"StatusCode": strconv.Itoa(n.StatusCode),
	})
}

func (pc *PaymentClient) VerifyNotification(n models.GatewayNotification) bool {
	if n.Signature == "" || pc.cfg.Secret == "" {
		return false
	}
	if n.MerchantID != "" && n.MerchantID != pc.cfg.MerchantID {
		return false
	}
	expected := pc.NotificationSignature(n)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(n.Signature))) == 1
}

// OrderStatus asks the gateway for the current status code of an order.
func (pc *PaymentClient) OrderStatus(ctx context.Context, orderID string) (int, error) {
	token := pc.generateToken(map[string]string{"OrderId": orderID})

	var result OrderStatusResponse
	resp, err := pc.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"merchant_id": pc.cfg.MerchantID,
			"order_id":    orderID,
			"token":       token,
		}).
		SetResult(&result).
		Get("/api/v1/orders/status")
	if err != nil {
		return 0, fmt.Errorf("failed to check order status: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return 0, nil
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	return result.StatusCode, nil
}

// FormatAmount renders minor units as a decimal string with two fractional digits.
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

func withOrder(base, orderID string) string {
	if base == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "orderId=" + orderID
}
