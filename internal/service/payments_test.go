package service_test

import (
	"errors"
	"testing"
	"time"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"
	"boxoffice/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMapGatewayStatus(t *testing.T) {
	tests := []struct {
		code int
		want service.Outcome
	}{
		{2, service.OutcomeSuccess},
		{0, service.OutcomePending},
		{1, service.OutcomePending},
		{-1, service.OutcomeCancelled},
		{-2, service.OutcomeFailed},
		{-3, service.OutcomeChargeback},
		{42, service.OutcomePending},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, service.MapGatewayStatus(tt.code), "code %d", tt.code)
	}
}

func TestHandleWebhookEnqueues(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Payments.HandleWebhook(f.ctx, models.GatewayNotification{
		OrderID: "order-1", PaymentID: "p-1", StatusCode: 2, Amount: "20.00", Currency: "LKR", Signature: "valid",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingQueued, rec.ProcessingStatus)
	assert.True(t, rec.SignatureValid)
	assert.Contains(t, string(rec.Payload), `"order_id":"order-1"`)

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, rec.ID, tasks[0].NotificationID)
	assert.Equal(t, 1, tasks[0].Attempt)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 5)
	f.add(alice, shopHall, seatStalls, dayOne, 2)
	order := f.checkout(alice)

	rec, err := f.svc.Payments.HandleWebhook(f.ctx, models.GatewayNotification{
		OrderID: order.Payment.OrderID, StatusCode: 2, Signature: "forged",
	})
	require.NoError(t, err)
	assert.False(t, rec.SignatureValid)

	require.NoError(t, f.svc.Payments.Reconcile(f.ctx, rec.ID))

	n, _ := f.store.Notification(rec.ID)
	assert.Equal(t, models.ProcessingRejectedSignature, n.ProcessingStatus)
	assert.NotNil(t, n.ProcessedAt)

	booking, _ := f.store.Booking(order.BookingIDs[0])
	assert.Equal(t, models.BookingPending, booking.Status)
	assert.Empty(t, f.store.Tickets())
}

func TestPermissiveSignaturesStillReconcile(t *testing.T) {
	f := newFixture(t, withOptions(func(o *service.Options) { o.PermissiveSignatures = true }))
	f.stock(seatStalls, dayOne, 5)
	f.add(alice, shopHall, seatStalls, dayOne, 2)
	order := f.checkout(alice)

	rec, err := f.svc.Payments.HandleWebhook(f.ctx, models.GatewayNotification{
		OrderID: order.Payment.OrderID, StatusCode: 2, Signature: "",
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Payments.Reconcile(f.ctx, rec.ID))

	booking, _ := f.store.Booking(order.BookingIDs[0])
	assert.Equal(t, models.BookingConfirmed, booking.Status)
}

func TestReconcileSuccessIssuesTicketsAndClearsCart(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.stock(seatBalcony, dayOne, 10)
	f.stock(seatStalls, dayTwo, 10)

	f.add(alice, shopHall, seatStalls, dayOne, 2)
	f.add(alice, shopHall, seatBalcony, dayOne, 1)
	f.add(alice, shopHall, seatStalls, dayTwo, 1)
	f.add(alice, shopGarden, seatStalls, dayOne, 1)
	order := f.checkout(alice)
	require.Len(t, order.BookingIDs, 4)

	n := f.notify(order.Payment.OrderID, 2)
	assert.Equal(t, models.ProcessingProcessed, n.ProcessingStatus)
	assert.Equal(t, 1, n.Attempts)

	for _, id := range order.BookingIDs {
		b, _ := f.store.Booking(id)
		assert.Equal(t, models.BookingConfirmed, b.Status)
	}
	for _, p := range f.store.Payments() {
		assert.Equal(t, models.PaymentSuccess, p.Status)
		require.NotNil(t, p.GatewayPaymentID)
		assert.Equal(t, "pay-"+order.Payment.OrderID, *p.GatewayPaymentID)
	}

	tickets := f.store.Tickets()
	require.Len(t, tickets, 4)
	byGroup := map[[2]int64][]models.CustomerTicket{}
	for _, tk := range tickets {
		key := [2]int64{tk.ShopID, tk.EventDayID}
		byGroup[key] = append(byGroup[key], tk)
		assert.Equal(t, alice.ID, tk.AccountOwnerID)
		assert.Equal(t, "doc://"+tk.TicketNo, tk.DocumentRef)
		assert.Equal(t, "code://"+tk.TicketNo, tk.CodeRef)
	}
	require.Len(t, byGroup, 3)
	hallDayOne := byGroup[[2]int64{shopHall, dayOne}]
	require.Len(t, hallDayOne, 2)
	assert.Equal(t, hallDayOne[0].TicketNo, hallDayOne[1].TicketNo)
	assert.Equal(t, hallDayOne[0].DocumentRef, hallDayOne[1].DocumentRef)
	assert.NotEqual(t, hallDayOne[0].TicketNo, byGroup[[2]int64{shopHall, dayTwo}][0].TicketNo)

	f.notifier.AssertNumberOfCalls(t, "SendTickets", 1)
	f.notifier.AssertCalled(t, "SendTickets", mock.MatchedBy(func(msg models.TicketNotification) bool {
		return msg.To == "alice@example.com" && msg.OrderID == order.Payment.OrderID && len(msg.Attachments) == 3
	}))

	cart, err := f.svc.Cart.ListItems(f.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	event, ok := f.events.Last(models.SubjectPaymentReconciled).(models.PaymentReconciledEvent)
	require.True(t, ok)
	assert.Equal(t, "success", event.Outcome)
	assert.Len(t, event.TicketNumbers, 3)
	assert.ElementsMatch(t, order.BookingIDs, event.BookingIDs)
}

func TestDuplicateSuccessIsIgnored(t *testing.T) {
	tests := []struct {
		name string
		opts []fixtureOption
	}{
		{"replay guard", nil},
		{"guarded transitions only", []fixtureOption{withoutReplayGuard()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts...)
			f.stock(seatStalls, dayOne, 10)
			f.add(alice, shopHall, seatStalls, dayOne, 3)
			order := f.checkout(alice)

			first := f.notify(order.Payment.OrderID, 2)
			assert.Equal(t, models.ProcessingProcessed, first.ProcessingStatus)

			second := f.notify(order.Payment.OrderID, 2)
			assert.Equal(t, models.ProcessingDuplicate, second.ProcessingStatus)

			assert.Equal(t, 7, f.quantity(seatStalls, dayOne))
			assert.Len(t, f.store.Tickets(), 1)
			f.notifier.AssertNumberOfCalls(t, "SendTickets", 1)

			// reconciling a terminal notification again is a no-op
			require.NoError(t, f.svc.Payments.Reconcile(f.ctx, first.ID))
			again, _ := f.store.Notification(first.ID)
			assert.Equal(t, first.Attempts, again.Attempts)
		})
	}
}

func TestDuplicateSuccessKeepsNewCartLines(t *testing.T) {
	f := newFixture(t, withoutReplayGuard())
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 3)
	order := f.checkout(alice)

	first := f.notify(order.Payment.OrderID, 2)
	require.Equal(t, models.ProcessingProcessed, first.ProcessingStatus)

	// same line, new purchase in progress
	f.add(alice, shopHall, seatStalls, dayOne, 2)

	second := f.notify(order.Payment.OrderID, 2)
	assert.Equal(t, models.ProcessingDuplicate, second.ProcessingStatus)

	cart, err := f.svc.Cart.ListItems(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, seatStalls, cart.Items[0].SeatTypeID)

	assert.Len(t, f.store.Tickets(), 1)
	f.notifier.AssertNumberOfCalls(t, "SendTickets", 1)
}

func TestPartialConfirmationIssuesConfirmedBookings(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.stock(seatBalcony, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 2)
	f.add(alice, shopHall, seatBalcony, dayOne, 1)
	order := f.checkout(alice)
	require.Len(t, order.BookingIDs, 2)

	// the balcony booking left pending before the payment landed
	balcony := order.BookingIDs[1]
	b, _ := f.store.Booking(balcony)
	require.Equal(t, seatBalcony, b.SeatTypeID)
	_, err := f.store.Stores().Bookings.Transition(f.ctx, []int64{balcony},
		[]models.BookingStatus{models.BookingPending}, models.BookingCancelled)
	require.NoError(t, err)

	n := f.notify(order.Payment.OrderID, 2)
	assert.Equal(t, models.ProcessingManualReview, n.ProcessingStatus)
	require.NotNil(t, n.LastError)
	assert.Contains(t, *n.LastError, "1 of 2")

	tickets := f.store.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, order.BookingIDs[0], tickets[0].BookingID)
	assert.NotEmpty(t, tickets[0].DocumentRef)
	f.notifier.AssertNumberOfCalls(t, "SendTickets", 1)

	cart, err := f.svc.Cart.ListItems(f.ctx, alice)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, seatBalcony, cart.Items[0].SeatTypeID)

	event, ok := f.events.Last(models.SubjectPaymentReconciled).(models.PaymentReconciledEvent)
	require.True(t, ok)
	assert.Len(t, event.TicketNumbers, 1)
}

func TestChargebackReturnsInventory(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 4)
	order := f.checkout(alice)
	f.notify(order.Payment.OrderID, 2)
	require.Equal(t, 6, f.quantity(seatStalls, dayOne))

	n := f.notify(order.Payment.OrderID, -3)
	assert.Equal(t, models.ProcessingProcessed, n.ProcessingStatus)
	assert.Equal(t, 10, f.quantity(seatStalls, dayOne))

	b, _ := f.store.Booking(order.BookingIDs[0])
	assert.Equal(t, models.BookingCancelled, b.Status)

	// a second chargeback changes nothing
	dup := f.notify(order.Payment.OrderID, -3)
	assert.Equal(t, models.ProcessingDuplicate, dup.ProcessingStatus)
	assert.Equal(t, 10, f.quantity(seatStalls, dayOne))
}

func TestLateFailureAfterSuccessIsIgnored(t *testing.T) {
	f := newFixture(t, withoutReplayGuard())
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 2)
	order := f.checkout(alice)
	f.notify(order.Payment.OrderID, 2)

	n := f.notify(order.Payment.OrderID, -1)
	assert.Equal(t, models.ProcessingDuplicate, n.ProcessingStatus)
	assert.Equal(t, 8, f.quantity(seatStalls, dayOne))

	b, _ := f.store.Booking(order.BookingIDs[0])
	assert.Equal(t, models.BookingConfirmed, b.Status)
}

func TestPendingStatusChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 2)
	order := f.checkout(alice)

	n := f.notify(order.Payment.OrderID, 1)
	assert.Equal(t, models.ProcessingProcessed, n.ProcessingStatus)

	b, _ := f.store.Booking(order.BookingIDs[0])
	assert.Equal(t, models.BookingPending, b.Status)
	assert.Equal(t, 8, f.quantity(seatStalls, dayOne))
}

func TestSuccessForUnknownOrderNeedsReview(t *testing.T) {
	f := newFixture(t)

	n := f.notify("no-such-order", 2)
	assert.Equal(t, models.ProcessingManualReview, n.ProcessingStatus)
	require.NotNil(t, n.LastError)
	assert.Contains(t, *n.LastError, "unknown order")
}

func TestSuccessAfterReleaseNeedsReview(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 2)
	order := f.checkout(alice)

	f.advance(20 * time.Minute)
	released, err := f.svc.Payments.ReleaseExpired(f.ctx, authz.System, 10)
	require.NoError(t, err)
	require.Equal(t, 1, released)

	n := f.notify(order.Payment.OrderID, 2)
	assert.Equal(t, models.ProcessingManualReview, n.ProcessingStatus)
	assert.Equal(t, 10, f.quantity(seatStalls, dayOne))
	assert.Empty(t, f.store.Tickets())
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 3)
	order := f.checkout(alice)
	f.advance(5 * time.Minute)
	f.add(bob, shopHall, seatStalls, dayOne, 2)
	bobOrder := f.checkout(bob)
	require.Equal(t, 5, f.quantity(seatStalls, dayOne))

	_, err := f.svc.Payments.ReleaseExpired(f.ctx, alice, 10)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	f.advance(11 * time.Minute)
	released, err := f.svc.Payments.ReleaseExpired(f.ctx, authz.System, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.Equal(t, 8, f.quantity(seatStalls, dayOne))

	b, _ := f.store.Booking(order.BookingIDs[0])
	assert.Equal(t, models.BookingCancelled, b.Status)
	b, _ = f.store.Booking(bobOrder.BookingIDs[0])
	assert.Equal(t, models.BookingPending, b.Status)

	event, ok := f.events.Last(models.SubjectBookingExpired).(models.BookingExpiredEvent)
	require.True(t, ok)
	assert.Equal(t, order.BookingIDs[0], event.BookingID)
	assert.Equal(t, 3, event.Quantity)

	released, err = f.svc.Payments.ReleaseExpired(f.ctx, authz.System, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, released)
}

func TestReleaseExpiredAsksGatewayFirst(t *testing.T) {
	f := newFixture(t, withOptions(func(o *service.Options) { o.StatusLookup = true }))
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 1)
	paid := f.checkout(alice)
	f.add(bob, shopHall, seatStalls, dayOne, 1)
	unpaid := f.checkout(bob)

	f.gateway.On("OrderStatus", paid.Payment.OrderID).Return(2, nil)
	f.gateway.On("OrderStatus", unpaid.Payment.OrderID).Return(0, nil)

	f.advance(time.Hour)
	released, err := f.svc.Payments.ReleaseExpired(f.ctx, authz.System, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	b, _ := f.store.Booking(paid.BookingIDs[0])
	assert.Equal(t, models.BookingPending, b.Status)
	b, _ = f.store.Booking(unpaid.BookingIDs[0])
	assert.Equal(t, models.BookingCancelled, b.Status)
	f.gateway.AssertExpectations(t)
}

func TestRequeueStale(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("broker down")

	rec, err := f.svc.Payments.HandleWebhook(f.ctx, models.GatewayNotification{OrderID: "order-9", StatusCode: 2, Signature: "valid"})
	require.NoError(t, err)
	assert.Equal(t, models.ProcessingReceived, rec.ProcessingStatus)

	f.queue.err = nil
	requeued, err := f.svc.Payments.RequeueStale(f.ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, requeued, "fresh notifications are left alone")

	f.advance(2 * time.Minute)
	requeued, err = f.svc.Payments.RequeueStale(f.ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	tasks := f.queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, rec.ID, tasks[0].NotificationID)
	n, _ := f.store.Notification(rec.ID)
	assert.Equal(t, models.ProcessingQueued, n.ProcessingStatus)
}

func TestMarkFailed(t *testing.T) {
	f := newFixture(t)

	rec, err := f.svc.Payments.HandleWebhook(f.ctx, models.GatewayNotification{OrderID: "order-3", StatusCode: -2, Signature: "valid"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Payments.MarkFailed(f.ctx, rec.ID, errors.New("database unavailable")))

	n, _ := f.store.Notification(rec.ID)
	assert.Equal(t, models.ProcessingFailed, n.ProcessingStatus)
	require.NotNil(t, n.LastError)
	assert.Equal(t, "database unavailable", *n.LastError)
	assert.Equal(t, 1, f.events.Count(models.SubjectPaymentReconciled))

	require.NoError(t, f.svc.Payments.Reconcile(f.ctx, rec.ID))
	assert.Equal(t, 1, f.events.Count(models.SubjectPaymentReconciled))
}

func TestListNotificationsIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	f.notify("order-a", 1)
	f.notify("order-b", 1)

	_, err := f.svc.Payments.ListNotifications(f.ctx, alice, models.NotificationFilter{})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	list, err := f.svc.Payments.ListNotifications(f.ctx, admin, models.NotificationFilter{GatewayOrderID: "order-b"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "order-b", list[0].GatewayOrderID)
}
