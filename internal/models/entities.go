package models

import (
	"encoding/json"
	"time"
)

// LineKey identifies one cart or booking line of a customer.
type LineKey struct {
	ShopID     int64 `json:"shopId"`
	SeatTypeID int64 `json:"seatTypeId"`
	EventDayID int64 `json:"eventDayId"`
}

// SeatTypeAvailability is the inventory ledger row. Quantity is what is still sellable.
type SeatTypeAvailability struct {
	SeatTypeID int64     `json:"seatTypeId" db:"seat_type_id"`
	EventDayID int64     `json:"eventDayId" db:"event_day_id"`
	Price      int64     `json:"price" db:"price"`
	Quantity   int       `json:"quantity" db:"quantity"`
	Available  bool      `json:"available" db:"available"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// CartItem is a soft hold. PricePerSeat is captured when the line is first added.
type CartItem struct {
	ID           int64     `json:"id" db:"id"`
	CustomerID   int64     `json:"customerId" db:"customer_id"`
	ShopID       int64     `json:"shopId" db:"shop_id"`
	SeatTypeID   int64     `json:"seatTypeId" db:"seat_type_id"`
	EventDayID   int64     `json:"eventDayId" db:"event_day_id"`
	Quantity     int       `json:"quantity" db:"quantity"`
	PricePerSeat int64     `json:"pricePerSeat" db:"price_per_seat"`
	TotalPrice   int64     `json:"totalPrice" db:"total_price"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

func (c CartItem) Line() LineKey {
	return LineKey{ShopID: c.ShopID, SeatTypeID: c.SeatTypeID, EventDayID: c.EventDayID}
}

// CartLine is a cart item joined with catalog names.
type CartLine struct {
	CartItem
	ShopName     string `json:"shopName"`
	SeatTypeName string `json:"seatTypeName"`
}

func (c CartLine) Name() string {
	return c.ShopName + " / " + c.SeatTypeName
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type Booking struct {
	ID         int64         `json:"bookingId" db:"id"`
	CustomerID int64         `json:"customerId" db:"customer_id"`
	ShopID     int64         `json:"shopId" db:"shop_id"`
	SeatTypeID int64         `json:"seatTypeId" db:"seat_type_id"`
	EventDayID int64         `json:"eventDayId" db:"event_day_id"`
	Quantity   int           `json:"quantity" db:"quantity"`
	TotalPrice int64         `json:"totalPrice" db:"total_price"`
	Status     BookingStatus `json:"status" db:"status"`
	ExpiresAt  time.Time     `json:"expiresAt" db:"expires_at"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time     `json:"updatedAt" db:"updated_at"`
}

func (b Booking) Line() LineKey {
	return LineKey{ShopID: b.ShopID, SeatTypeID: b.SeatTypeID, EventDayID: b.EventDayID}
}

// BookingLine is a booking joined with what ticket documents print.
type BookingLine struct {
	Booking
	ShopName     string    `json:"shopName"`
	SeatTypeName string    `json:"seatTypeName"`
	EventDate    time.Time `json:"eventDate"`
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentSuccess  PaymentStatus = "success"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

type Payment struct {
	ID               int64         `json:"paymentId" db:"id"`
	BookingID        int64         `json:"bookingId" db:"booking_id"`
	Amount           int64         `json:"amount" db:"amount"`
	Status           PaymentStatus `json:"status" db:"status"`
	Method           string        `json:"method" db:"method"`
	GatewayOrderID   string        `json:"gatewayOrderId" db:"gateway_order_id"`
	GatewayPaymentID *string       `json:"gatewayPaymentId,omitempty" db:"gateway_payment_id"`
	ExpiresAt        time.Time     `json:"expiresAt" db:"expires_at"`
	CreatedAt        time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time     `json:"updatedAt" db:"updated_at"`
}

type ProcessingStatus string

const (
	ProcessingReceived          ProcessingStatus = "received"
	ProcessingQueued            ProcessingStatus = "queued"
	ProcessingProcessed         ProcessingStatus = "processed"
	ProcessingDuplicate         ProcessingStatus = "duplicate"
	ProcessingRejectedSignature ProcessingStatus = "rejected_signature"
	ProcessingManualReview      ProcessingStatus = "manual_review"
	ProcessingFailed            ProcessingStatus = "failed"
)

// Terminal reports whether no further reconciliation attempt should touch the row.
func (s ProcessingStatus) Terminal() bool {
	switch s {
	case ProcessingProcessed, ProcessingDuplicate, ProcessingRejectedSignature, ProcessingManualReview, ProcessingFailed:
		return true
	}
	return false
}

// PaymentNotification is the append-only record of one gateway callback.
type PaymentNotification struct {
	ID               int64            `json:"id" db:"id"`
	GatewayOrderID   string           `json:"gatewayOrderId" db:"gateway_order_id"`
	GatewayPaymentID string           `json:"gatewayPaymentId" db:"gateway_payment_id"`
	StatusCode       int              `json:"statusCode" db:"status_code"`
	Amount           string           `json:"amount" db:"amount"`
	Currency         string           `json:"currency" db:"currency"`
	Method           string           `json:"method" db:"method"`
	SignatureValid   bool             `json:"signatureValid" db:"signature_valid"`
	ProcessingStatus ProcessingStatus `json:"processingStatus" db:"processing_status"`
	Attempts         int              `json:"attempts" db:"attempts"`
	LastError        *string          `json:"lastError,omitempty" db:"last_error"`
	Payload          json.RawMessage  `json:"payload" db:"payload"`
	ReceivedAt       time.Time        `json:"receivedAt" db:"received_at"`
	ProcessedAt      *time.Time       `json:"processedAt,omitempty" db:"processed_at"`
}

type CustomerTicket struct {
	ID             int64     `json:"ticketId" db:"id"`
	AccountOwnerID int64     `json:"accountOwnerId" db:"account_owner_id"`
	BookingID      int64     `json:"bookingId" db:"booking_id"`
	ShopID         int64     `json:"shopId" db:"shop_id"`
	EventDayID     int64     `json:"eventDayId" db:"event_day_id"`
	TicketNo       string    `json:"ticketNo" db:"ticket_no"`
	DocumentRef    string    `json:"documentRef" db:"document_ref"`
	CodeRef        string    `json:"codeRef" db:"code_ref"`
	Used           bool      `json:"used" db:"used"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

type CustomerContact struct {
	ID       int64  `json:"id" db:"id"`
	Email    string `json:"email" db:"email"`
	FullName string `json:"fullName" db:"full_name"`
}

// HoldSummary feeds the available-quantity formula for one line and requester.
type HoldSummary struct {
	// OthersOutstanding sums other customers' cart quantities not yet covered by their pending bookings.
	OthersOutstanding int
	// OwnPending is the requester's pending booking quantity, already deducted from the ledger.
	OwnPending int
}
