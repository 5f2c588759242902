package models

import "time"

// Cart

type AddCartItemRequest struct {
	ShopID     int64 `json:"shopId" binding:"required" validate:"required,gt=0"`
	SeatTypeID int64 `json:"seatTypeId" binding:"required" validate:"required,gt=0"`
	EventDayID int64 `json:"eventDayId" binding:"required" validate:"required,gt=0"`
	Quantity   int   `json:"quantity" binding:"required" validate:"required,gt=0,lte=100"`
}

func (r AddCartItemRequest) Line() LineKey {
	return LineKey{ShopID: r.ShopID, SeatTypeID: r.SeatTypeID, EventDayID: r.EventDayID}
}

type UpdateCartItemRequest = AddCartItemRequest

type CartResponse struct {
	Items []CartLine `json:"items"`
	Total int64      `json:"total"`
}

type AvailabilityResponse struct {
	SeatTypeAvailability
	AvailableQuantity int `json:"availableQuantity"`
}

// Checkout and payments

type CheckoutRequest struct {
	Method string `json:"method" validate:"omitempty,oneof=card wallet bank"`
}

type CheckoutResult struct {
	BookingIDs []int64        `json:"bookingIds"`
	Total      int64          `json:"total"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	Payment    *PaymentIntent `json:"payment,omitempty"`
}

type CreatePaymentIntentRequest struct {
	BookingIDs []int64 `json:"bookingIds" binding:"required" validate:"required,min=1,dive,gt=0"`
	Method     string  `json:"method" validate:"omitempty,oneof=card wallet bank"`
}

// PaymentIntent is the signed initiation payload handed to the browser checkout form.
type PaymentIntent struct {
	MerchantID  string    `json:"merchantId"`
	OrderID     string    `json:"orderId"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Hash        string    `json:"hash"`
	Method      string    `json:"method,omitempty"`
	CheckoutURL string    `json:"checkoutUrl,omitempty"`
	ReturnURL   string    `json:"returnUrl,omitempty"`
	CancelURL   string    `json:"cancelUrl,omitempty"`
	NotifyURL   string    `json:"notifyUrl,omitempty"`
	BookingIDs  []int64   `json:"bookingIds"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// GatewayNotification is the inbound webhook body, posted as a form or as JSON.
type GatewayNotification struct {
	MerchantID string `form:"merchant_id" json:"merchant_id"`
	OrderID    string `form:"order_id" json:"order_id" binding:"required"`
	PaymentID  string `form:"payment_id" json:"payment_id"`
	StatusCode int    `form:"status_code" json:"status_code"`
	Amount     string `form:"amount" json:"amount"`
	Currency   string `form:"currency" json:"currency"`
	Method     string `form:"method" json:"method"`
	Signature  string `form:"signature" json:"signature"`
}

// Admin

type AdjustAvailabilityRequest struct {
	SeatTypeID int64 `json:"seatTypeId" binding:"required" validate:"required,gt=0"`
	EventDayID int64 `json:"eventDayId" binding:"required" validate:"required,gt=0"`
	Delta      int   `json:"delta" binding:"required" validate:"required,ne=0"`
}

type AdjustAvailabilityResponse struct {
	SeatTypeID int64 `json:"seatTypeId"`
	EventDayID int64 `json:"eventDayId"`
	Quantity   int   `json:"quantity"`
}

type NotificationFilter struct {
	GatewayOrderID   string
	ProcessingStatus ProcessingStatus
	SignatureValid   *bool
	ReceivedBefore   *time.Time
	Limit            int
}

type ReleaseExpiredResponse struct {
	Released int `json:"released"`
}

// Tickets

// SeatTypeBreakdown is one printed line of a group document.
type SeatTypeBreakdown struct {
	SeatTypeID   int64  `json:"seatTypeId"`
	SeatTypeName string `json:"seatTypeName"`
	Quantity     int    `json:"quantity"`
	Subtotal     int64  `json:"subtotal"`
}

// TicketGroup is every confirmed booking of one order for one (shop, event day).
type TicketGroup struct {
	ShopID     int64               `json:"shopId"`
	ShopName   string              `json:"shopName"`
	EventDayID int64               `json:"eventDayId"`
	EventDate  time.Time           `json:"eventDate"`
	OwnerID    int64               `json:"ownerId"`
	Bookings   []BookingLine       `json:"-"`
	Breakdown  []SeatTypeBreakdown `json:"breakdown"`
	Total      int64               `json:"total"`
}

func (g TicketGroup) BookingIDs() []int64 {
	ids := make([]int64, len(g.Bookings))
	for i, b := range g.Bookings {
		ids[i] = b.ID
	}
	return ids
}

// TicketDocument is the structured data handed to the document renderer.
type TicketDocument struct {
	TicketNo  string
	OrderID   string
	Holder    string
	ShopName  string
	EventDate time.Time
	Breakdown []SeatTypeBreakdown
	Total     int64
	Currency  string
}

// Artifact is a rendered document or code: its hosted reference plus the bytes for attachment.
type Artifact struct {
	Ref         string
	FileName    string
	ContentType string
	Content     []byte
}

type TicketAttachment struct {
	TicketNo  string
	ShopName  string
	EventDate time.Time
	Total     int64
	Document  *Artifact
	Code      *Artifact
}

// TicketNotification is one message per order carrying one document per group.
type TicketNotification struct {
	To          string
	Name        string
	OrderID     string
	Currency    string
	Attachments []TicketAttachment
}

type GroupResult struct {
	ShopID         int64   `json:"shopId"`
	EventDayID     int64   `json:"eventDayId"`
	TicketNo       string  `json:"ticketNo"`
	BookingIDs     []int64 `json:"bookingIds"`
	TicketsCreated int     `json:"ticketsCreated"`
	DocumentRef    string  `json:"documentRef,omitempty"`
	CodeRef        string  `json:"codeRef,omitempty"`
	Error          string  `json:"error,omitempty"`
}

func (r GroupResult) OK() bool { return r.Error == "" }

type IssuanceSummary struct {
	OrderID       string        `json:"orderId"`
	AlreadyIssued bool          `json:"alreadyIssued"`
	Groups        []GroupResult `json:"groups"`
	EmailSent     bool          `json:"emailSent"`
	EmailError    string        `json:"emailError,omitempty"`
}

func (s IssuanceSummary) TicketNumbers() []string {
	out := make([]string, 0, len(s.Groups))
	for _, g := range s.Groups {
		out = append(out, g.TicketNo)
	}
	return out
}

type ListTicketsResponse struct {
	Tickets []CustomerTicket `json:"tickets"`
}
