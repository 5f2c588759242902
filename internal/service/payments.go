package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
	"boxoffice/internal/telemetry"
	"boxoffice/internal/validation"

	"github.com/google/uuid"
)

// Outcome is a gateway status code mapped onto what the reconciler does.
type Outcome string

const (
	OutcomePending    Outcome = "pending"
	OutcomeSuccess    Outcome = "success"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeFailed     Outcome = "failed"
	OutcomeChargeback Outcome = "chargeback"
)

func MapGatewayStatus(code int) Outcome {
	switch code {
	case 2:
		return OutcomeSuccess
	case -1:
		return OutcomeCancelled
	case -2:
		return OutcomeFailed
	case -3:
		return OutcomeChargeback
	}
	return OutcomePending
}

// PaymentReconciler owns payment intents and applies gateway notifications.
type PaymentReconciler struct {
	stores  Stores
	queue   TaskQueue
	events  EventPublisher
	replay  ReplayGuard
	gateway Gateway
	ledger  *InventoryLedger
	cart    *CartService
	tickets *TicketIssuer
	opts    Options
}

func NewPaymentReconciler(deps Dependencies, ledger *InventoryLedger, cart *CartService, tickets *TicketIssuer) *PaymentReconciler {
	return &PaymentReconciler{
		stores:  deps.Stores,
		queue:   deps.Queue,
		events:  deps.Events,
		replay:  deps.Replay,
		gateway: deps.Gateway,
		ledger:  ledger,
		cart:    cart,
		tickets: tickets,
		opts:    deps.Options,
	}
}

// CreatePaymentIntent attaches one payment per booking to a fresh gateway
// order and returns the signed initiation payload.
func (s *PaymentReconciler) CreatePaymentIntent(ctx context.Context, p authz.Principal, req models.CreatePaymentIntentRequest) (*models.PaymentIntent, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	ids := uniqueIDs(req.BookingIDs)
	bookings, err := s.stores.Bookings.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}

	byID := make(map[int64]models.Booking, len(bookings))
	for _, b := range bookings {
		byID[b.ID] = b
	}

	var total int64
	var expiresAt time.Time
	for _, id := range ids {
		b, ok := byID[id]
		if !ok {
			return nil, apperrors.NotFound("booking", id)
		}
		if err := authz.Authorize(p, authz.Owned(authz.ResourceBooking, b.CustomerID), authz.ActionPaymentCreate); err != nil {
			return nil, err
		}
		if b.Status != models.BookingPending {
			return nil, apperrors.Conflict(fmt.Sprintf("booking %d is %s", b.ID, b.Status))
		}
		total += b.TotalPrice
		if expiresAt.IsZero() || b.ExpiresAt.Before(expiresAt) {
			expiresAt = b.ExpiresAt
		}
	}

	orderID := uuid.NewString()

	err = s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			b := byID[id]
			payment, err := s.stores.Payments.GetPendingByBooking(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to lock payment of booking %d: %w", id, err)
			}

			if payment != nil {
				payment.Amount = b.TotalPrice
				payment.Method = req.Method
				payment.GatewayOrderID = orderID
				payment.ExpiresAt = b.ExpiresAt
				if err := s.stores.Payments.UpdatePending(ctx, payment); err != nil {
					return fmt.Errorf("failed to update payment %d: %w", payment.ID, err)
				}
				continue
			}

			payment = &models.Payment{
				BookingID:      id,
				Amount:         b.TotalPrice,
				Status:         models.PaymentPending,
				Method:         req.Method,
				GatewayOrderID: orderID,
				ExpiresAt:      b.ExpiresAt,
			}
			if err := s.stores.Payments.Create(ctx, payment); err != nil {
				return fmt.Errorf("failed to create payment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	intent := s.gateway.SignIntent(orderID, total, req.Method)
	intent.BookingIDs = ids
	intent.ExpiresAt = expiresAt

	logger.WithContext(ctx).Info("Payment intent created",
		"order_id", orderID,
		"booking_ids", ids,
		"amount", total)

	return &intent, nil
}

// HandleWebhook persists the callback and hands it to the task queue. It does
// no reconciliation work so the gateway gets its acknowledgement quickly.
func (s *PaymentReconciler) HandleWebhook(ctx context.Context, n models.GatewayNotification) (*models.PaymentNotification, error) {
	valid := s.gateway.VerifyNotification(n)
	metrics.WebhooksTotal.WithLabelValues(signatureLabel(valid)).Inc()

	payload, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification: %w", err)
	}

	rec := &models.PaymentNotification{
		GatewayOrderID:   n.OrderID,
		GatewayPaymentID: n.PaymentID,
		StatusCode:       n.StatusCode,
		Amount:           n.Amount,
		Currency:         n.Currency,
		Method:           n.Method,
		SignatureValid:   valid,
		ProcessingStatus: models.ProcessingReceived,
		Payload:          payload,
	}
	if err := s.stores.Notifications.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	log := logger.WithContext(ctx).With("notification_id", rec.ID, "order_id", rec.GatewayOrderID)
	if !valid {
		log.Warn("Gateway notification failed signature verification", "permissive", s.opts.PermissiveSignatures)
		if !s.opts.PermissiveSignatures {
			if err := s.finish(ctx, rec, MapGatewayStatus(rec.StatusCode), models.ProcessingRejectedSignature, nil, nil, "invalid signature"); err != nil {
				return nil, err
			}
			rec.ProcessingStatus = models.ProcessingRejectedSignature
			return rec, nil
		}
	}

	task := models.ReconcileTask{
		NotificationID: rec.ID,
		GatewayOrderID: rec.GatewayOrderID,
		Attempt:        1,
		EnqueuedAt:     s.opts.now(),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		// The row stays received; RequeueStale picks it up.
		log.Error("Failed to enqueue reconcile task", "error", err)
		return rec, nil
	}

	if err := s.stores.Notifications.MarkQueued(ctx, rec.ID); err != nil {
		log.Error("Failed to mark notification queued", "error", err)
		return rec, nil
	}
	rec.ProcessingStatus = models.ProcessingQueued

	return rec, nil
}

type applyResult struct {
	bookingIDs   []int64
	changed      bool
	manualReview string
}

// Reconcile applies one stored notification. It is safe to call repeatedly:
// terminal notifications are skipped and every state change is guarded by
// the current status, so only rows that actually transition are compensated.
func (s *PaymentReconciler) Reconcile(ctx context.Context, notificationID int64) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "payments.Reconcile")
	start := time.Now()
	defer func() {
		telemetry.End(span, err)
		metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	n, err := s.stores.Notifications.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if n == nil {
		return apperrors.NotFound("notification", notificationID)
	}
	if n.ProcessingStatus.Terminal() {
		return nil
	}

	log := logger.WithContext(ctx).With("notification_id", n.ID, "order_id", n.GatewayOrderID, "status_code", n.StatusCode)
	outcome := MapGatewayStatus(n.StatusCode)

	if !n.SignatureValid && !s.opts.PermissiveSignatures {
		log.Warn("Rejecting notification with invalid signature")
		return s.finish(ctx, n, outcome, models.ProcessingRejectedSignature, nil, nil, "invalid signature")
	}

	if outcome == OutcomePending {
		return s.finish(ctx, n, outcome, models.ProcessingProcessed, nil, nil, "")
	}

	if s.replay != nil {
		seen, err := s.replay.Seen(ctx, n.GatewayOrderID, string(outcome))
		if err != nil {
			log.Warn("Replay guard unavailable", "error", err)
		} else if seen {
			log.Info("Outcome already applied for order", "outcome", outcome)
			return s.finish(ctx, n, outcome, models.ProcessingDuplicate, nil, nil, "")
		}
	}

	var res applyResult
	if outcome == OutcomeSuccess {
		res, err = s.applySuccess(ctx, n)
	} else {
		res, err = s.applyFailure(ctx, n, outcome)
	}
	if err != nil {
		if merr := s.stores.Notifications.MarkStatus(ctx, n.ID, models.ProcessingQueued, err.Error()); merr != nil {
			log.Error("Failed to record reconcile error", "error", merr)
		}
		return err
	}

	// Partially confirmed orders still get tickets for what was confirmed;
	// only the stragglers wait for manual review.
	var ticketNumbers []string
	if outcome == OutcomeSuccess {
		ticketNumbers, err = s.dispatch(ctx, n.GatewayOrderID, res.changed)
		if err != nil {
			if merr := s.stores.Notifications.MarkStatus(ctx, n.ID, models.ProcessingQueued, err.Error()); merr != nil {
				log.Error("Failed to record reconcile error", "error", merr)
			}
			return err
		}
	}

	if s.replay != nil {
		if err := s.replay.Mark(ctx, n.GatewayOrderID, string(outcome)); err != nil {
			log.Warn("Failed to set replay guard", "error", err)
		}
	}

	status := models.ProcessingProcessed
	switch {
	case res.manualReview != "":
		status = models.ProcessingManualReview
		log.Error("Notification needs manual review", "reason", res.manualReview)
	case !res.changed:
		status = models.ProcessingDuplicate
	}

	log.Info("Notification reconciled",
		"outcome", outcome,
		"processing_status", status,
		"booking_ids", res.bookingIDs)

	return s.finish(ctx, n, outcome, status, res.bookingIDs, ticketNumbers, res.manualReview)
}

func (s *PaymentReconciler) applySuccess(ctx context.Context, n *models.PaymentNotification) (applyResult, error) {
	var res applyResult

	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		res = applyResult{}

		payments, err := s.stores.Payments.TransitionOrder(ctx, n.GatewayOrderID,
			[]models.PaymentStatus{models.PaymentPending}, models.PaymentSuccess, n.GatewayPaymentID)
		if err != nil {
			return fmt.Errorf("failed to confirm payments: %w", err)
		}

		if len(payments) == 0 {
			all, err := s.stores.Payments.ListByOrder(ctx, n.GatewayOrderID)
			if err != nil {
				return fmt.Errorf("failed to list order payments: %w", err)
			}
			switch {
			case len(all) == 0:
				res.manualReview = "payment received for unknown order"
			case !anyPayment(all, models.PaymentSuccess):
				res.manualReview = "payment received after the order was released"
			}
			res.bookingIDs = paymentBookingIDs(all)
			return nil
		}

		ids := paymentBookingIDs(payments)
		confirmed, err := s.stores.Bookings.Transition(ctx, ids,
			[]models.BookingStatus{models.BookingPending}, models.BookingConfirmed)
		if err != nil {
			return fmt.Errorf("failed to confirm bookings: %w", err)
		}

		res.bookingIDs = ids
		res.changed = true
		if len(confirmed) < len(ids) {
			res.manualReview = fmt.Sprintf("%d of %d paid bookings were no longer pending", len(ids)-len(confirmed), len(ids))
		}
		return nil
	})

	return res, err
}

func (s *PaymentReconciler) applyFailure(ctx context.Context, n *models.PaymentNotification, outcome Outcome) (applyResult, error) {
	paymentFrom := []models.PaymentStatus{models.PaymentPending}
	bookingFrom := []models.BookingStatus{models.BookingPending}
	if outcome == OutcomeChargeback {
		paymentFrom = append(paymentFrom, models.PaymentSuccess)
		bookingFrom = append(bookingFrom, models.BookingConfirmed)
	}

	var res applyResult
	err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		res = applyResult{}

		payments, err := s.stores.Payments.TransitionOrder(ctx, n.GatewayOrderID, paymentFrom, models.PaymentFailed, n.GatewayPaymentID)
		if err != nil {
			return fmt.Errorf("failed to fail payments: %w", err)
		}
		if len(payments) == 0 {
			return nil
		}

		ids := paymentBookingIDs(payments)
		cancelled, err := s.stores.Bookings.Transition(ctx, ids, bookingFrom, models.BookingCancelled)
		if err != nil {
			return fmt.Errorf("failed to cancel bookings: %w", err)
		}

		for _, b := range cancelled {
			if _, err := s.ledger.Adjust(ctx, b.SeatTypeID, b.EventDayID, b.Quantity); err != nil {
				return fmt.Errorf("failed to return booking %d to inventory: %w", b.ID, err)
			}
		}

		res.bookingIDs = ids
		res.changed = true
		return nil
	})

	return res, err
}

// dispatch issues tickets for the paid order and then clears the cart lines
// the confirmed bookings came from. A replayed success for an order that is
// already issued leaves the cart alone: lines added since belong to a new purchase.
func (s *PaymentReconciler) dispatch(ctx context.Context, orderID string, changed bool) ([]string, error) {
	summary, err := s.tickets.IssueForOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tickets: %w", err)
	}
	if !changed && summary.AlreadyIssued {
		return summary.TicketNumbers(), nil
	}

	lines, err := s.stores.Bookings.ListLinesByOrder(ctx, orderID, models.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed bookings: %w", err)
	}

	byCustomer := make(map[int64][]models.LineKey)
	for _, l := range lines {
		byCustomer[l.CustomerID] = append(byCustomer[l.CustomerID], l.Line())
	}
	for customerID, keys := range byCustomer {
		if err := s.cart.ClearLines(ctx, customerID, keys); err != nil {
			logger.WithContext(ctx).Error("Failed to clear cart after payment", "error", err, "customer_id", customerID)
		}
	}

	return summary.TicketNumbers(), nil
}

func (s *PaymentReconciler) finish(ctx context.Context, n *models.PaymentNotification, outcome Outcome, status models.ProcessingStatus, bookingIDs []int64, ticketNumbers []string, reason string) error {
	if err := s.stores.Notifications.MarkStatus(ctx, n.ID, status, reason); err != nil {
		return fmt.Errorf("failed to mark notification %d: %w", n.ID, err)
	}
	metrics.ReconciliationsTotal.WithLabelValues(string(outcome), string(status)).Inc()

	s.publish(ctx, models.SubjectPaymentReconciled, models.PaymentReconciledEvent{
		NotificationID:   n.ID,
		GatewayOrderID:   n.GatewayOrderID,
		StatusCode:       n.StatusCode,
		Outcome:          string(outcome),
		ProcessingStatus: status,
		SignatureValid:   n.SignatureValid,
		BookingIDs:       bookingIDs,
		TicketNumbers:    ticketNumbers,
		Error:            reason,
		Timestamp:        s.opts.now(),
	})
	return nil
}

// MarkFailed gives up on a notification after the worker exhausted its retries.
func (s *PaymentReconciler) MarkFailed(ctx context.Context, notificationID int64, cause error) error {
	n, err := s.stores.Notifications.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to load notification: %w", err)
	}
	if n == nil || n.ProcessingStatus.Terminal() {
		return nil
	}

	reason := "retries exhausted"
	if cause != nil {
		reason = cause.Error()
	}
	logger.WithContext(ctx).Error("Notification failed permanently",
		"notification_id", n.ID, "order_id", n.GatewayOrderID, "error", reason)

	return s.finish(ctx, n, MapGatewayStatus(n.StatusCode), models.ProcessingFailed, nil, nil, reason)
}

// ReleaseExpired cancels pending bookings past their expiry and returns their
// seats to the ledger, one transaction per booking.
func (s *PaymentReconciler) ReleaseExpired(ctx context.Context, p authz.Principal, limit int) (int, error) {
	if err := authz.Authorize(p, authz.Resource{Kind: authz.ResourceBooking}, authz.ActionBookingExpire); err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = 100
	}

	now := s.opts.now()
	expired, err := s.stores.Bookings.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired bookings: %w", err)
	}

	log := logger.WithContext(ctx)
	released := 0
	for _, b := range expired {
		if s.opts.StatusLookup && s.paidAtGateway(ctx, b) {
			log.Info("Expired booking was paid at the gateway, leaving it for the webhook", "booking_id", b.ID)
			continue
		}

		var cancelled []models.Booking
		err := s.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
			var err error
			cancelled, err = s.stores.Bookings.Transition(ctx, []int64{b.ID},
				[]models.BookingStatus{models.BookingPending}, models.BookingCancelled)
			if err != nil {
				return err
			}
			if len(cancelled) == 0 {
				return nil
			}
			if _, err := s.stores.Payments.FailPendingForBookings(ctx, []int64{b.ID}); err != nil {
				return err
			}
			_, err = s.ledger.Adjust(ctx, b.SeatTypeID, b.EventDayID, b.Quantity)
			return err
		})
		if err != nil {
			log.Error("Failed to release expired booking", "booking_id", b.ID, "error", err)
			continue
		}
		if len(cancelled) == 0 {
			continue
		}

		released++
		s.publish(ctx, models.SubjectBookingExpired, models.BookingExpiredEvent{
			BookingID:  b.ID,
			CustomerID: b.CustomerID,
			SeatTypeID: b.SeatTypeID,
			EventDayID: b.EventDayID,
			Quantity:   b.Quantity,
			Reason:     "expired",
			Timestamp:  now,
		})
	}

	if released > 0 {
		metrics.BookingsReleased.Add(float64(released))
		log.Info("Released expired bookings", "count", released)
	}
	return released, nil
}

func (s *PaymentReconciler) paidAtGateway(ctx context.Context, b models.Booking) bool {
	payments, err := s.stores.Payments.ListByBookings(ctx, []int64{b.ID})
	if err != nil {
		logger.WithContext(ctx).Warn("Failed to load payments for expired booking", "booking_id", b.ID, "error", err)
		return true
	}
	for _, p := range payments {
		if p.Status != models.PaymentPending {
			continue
		}
		code, err := s.gateway.OrderStatus(ctx, p.GatewayOrderID)
		if err != nil {
			// Unknown is treated as paid; the next sweep asks again.
			logger.WithContext(ctx).Warn("Gateway status lookup failed", "order_id", p.GatewayOrderID, "error", err)
			return true
		}
		if MapGatewayStatus(code) == OutcomeSuccess {
			return true
		}
	}
	return false
}

// RequeueStale re-enqueues notifications that never reached a worker.
func (s *PaymentReconciler) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.opts.now().Add(-olderThan)
	requeued := 0

	var stale []models.PaymentNotification
	for _, status := range []models.ProcessingStatus{models.ProcessingReceived, models.ProcessingQueued} {
		found, err := s.stores.Notifications.Find(ctx, models.NotificationFilter{
			ProcessingStatus: status,
			ReceivedBefore:   &cutoff,
			Limit:            200,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to find stale notifications: %w", err)
		}
		stale = append(stale, found...)
	}

	for _, n := range stale {
		task := models.ReconcileTask{
			NotificationID: n.ID,
			GatewayOrderID: n.GatewayOrderID,
			Attempt:        n.Attempts + 1,
			EnqueuedAt:     s.opts.now(),
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			return requeued, fmt.Errorf("failed to requeue notification %d: %w", n.ID, err)
		}
		if err := s.stores.Notifications.MarkQueued(ctx, n.ID); err != nil {
			return requeued, fmt.Errorf("failed to mark notification %d queued: %w", n.ID, err)
		}
		requeued++
	}

	if requeued > 0 {
		logger.WithContext(ctx).Info("Requeued stale notifications", "count", requeued)
	}
	return requeued, nil
}

func (s *PaymentReconciler) ListNotifications(ctx context.Context, p authz.Principal, filter models.NotificationFilter) ([]models.PaymentNotification, error) {
	if err := authz.Authorize(p, authz.Resource{Kind: authz.ResourceAudit}, authz.ActionAuditRead); err != nil {
		return nil, err
	}
	out, err := s.stores.Notifications.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	if out == nil {
		out = []models.PaymentNotification{}
	}
	return out, nil
}

func (s *PaymentReconciler) publish(ctx context.Context, subject string, event interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(subject, event); err != nil {
		// Log error but don't fail the operation
		logger.WithContext(ctx).Error("Failed to publish event", "error", err, "subject", subject)
	}
}

func paymentBookingIDs(payments []models.Payment) []int64 {
	ids := make([]int64, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.BookingID)
	}
	return uniqueIDs(ids)
}

func anyPayment(payments []models.Payment, status models.PaymentStatus) bool {
	for _, p := range payments {
		if p.Status == status {
			return true
		}
	}
	return false
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func signatureLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
