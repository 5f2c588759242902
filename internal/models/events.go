package models

import "time"

// NATS subjects
const (
	SubjectReconcileTask     = "payment.notification.received"
	SubjectPaymentReconciled = "payment.reconciled"
	SubjectBookingExpired    = "booking.expired"
)

// ReconcileTask asks a worker to apply one stored gateway notification.
type ReconcileTask struct {
	NotificationID int64     `json:"notification_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// PaymentReconciledEvent is published after a notification reaches a terminal status.
type PaymentReconciledEvent struct {
	NotificationID   int64            `json:"notification_id"`
	GatewayOrderID   string           `json:"gateway_order_id"`
	StatusCode       int              `json:"status_code"`
	Outcome          string           `json:"outcome"`
	ProcessingStatus ProcessingStatus `json:"processing_status"`
	SignatureValid   bool             `json:"signature_valid"`
	BookingIDs       []int64          `json:"booking_ids"`
	TicketNumbers    []string         `json:"ticket_numbers,omitempty"`
	Error            string           `json:"error,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// BookingExpiredEvent is published for every booking released by the sweeper.
type BookingExpiredEvent struct {
	BookingID  int64     `json:"booking_id"`
	CustomerID int64     `json:"customer_id"`
	SeatTypeID int64     `json:"seat_type_id"`
	EventDayID int64     `json:"event_day_id"`
	Quantity   int       `json:"quantity"`
	Reason     string    `json:"reason"`
	Timestamp  time.Time `json:"timestamp"`
}
