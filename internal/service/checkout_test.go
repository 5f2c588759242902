package service_test

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two customers compete for ten seats; a failed payment returns the first
// customer's seats to the ledger.
func TestCheckoutCompetingCustomers(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)

	f.add(alice, shopHall, seatStalls, dayOne, 6)
	aliceOrder := f.checkout(alice)
	assert.Equal(t, 4, f.quantity(seatStalls, dayOne))

	_, err := f.svc.Cart.AddItem(f.ctx, bob, models.AddCartItemRequest{
		ShopID: shopHall, SeatTypeID: seatStalls, EventDayID: dayOne, Quantity: 5,
	})
	require.Error(t, err)
	items := apperrors.UnavailableItems(err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].AvailableQuantity)

	f.add(bob, shopHall, seatStalls, dayOne, 4)
	f.checkout(bob)
	assert.Equal(t, 0, f.quantity(seatStalls, dayOne))

	n := f.notify(aliceOrder.Payment.OrderID, -2)
	assert.Equal(t, models.ProcessingProcessed, n.ProcessingStatus)
	assert.Equal(t, 6, f.quantity(seatStalls, dayOne))

	booking, ok := f.store.Booking(aliceOrder.BookingIDs[0])
	require.True(t, ok)
	assert.Equal(t, models.BookingCancelled, booking.Status)

	for _, p := range f.store.Payments() {
		if p.BookingID == booking.ID {
			assert.Equal(t, models.PaymentFailed, p.Status)
		}
	}
}

func TestCheckoutIsIdempotentPerLine(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.add(alice, shopHall, seatStalls, dayOne, 2)

	first := f.checkout(alice)
	require.Len(t, first.BookingIDs, 1)
	assert.Equal(t, 8, f.quantity(seatStalls, dayOne))
	assert.Equal(t, f.now.Add(15*time.Minute), first.ExpiresAt)

	f.advance(time.Minute)
	second := f.checkout(alice)
	assert.Equal(t, first.BookingIDs, second.BookingIDs)
	assert.Equal(t, 8, f.quantity(seatStalls, dayOne))
	assert.NotEqual(t, first.Payment.OrderID, second.Payment.OrderID)
	assert.Len(t, f.store.Payments(), 1, "the pending payment is moved onto the new order")

	f.add(alice, shopHall, seatStalls, dayOne, 1)
	third := f.checkout(alice)
	assert.Equal(t, first.BookingIDs, third.BookingIDs)
	assert.Equal(t, 7, f.quantity(seatStalls, dayOne))
	assert.Equal(t, 3*price, third.Total)

	booking, _ := f.store.Booking(first.BookingIDs[0])
	assert.Equal(t, 3, booking.Quantity)
	assert.Equal(t, 3*price, booking.TotalPrice)
	assert.Equal(t, f.now.Add(15*time.Minute), booking.ExpiresAt)

	line := models.UpdateCartItemRequest{ShopID: shopHall, SeatTypeID: seatStalls, EventDayID: dayOne, Quantity: 1}
	_, err := f.svc.Cart.UpdateItem(f.ctx, alice, line)
	require.NoError(t, err)
	f.checkout(alice)
	assert.Equal(t, 9, f.quantity(seatStalls, dayOne), "lowering the cart returns the difference")
}

func TestCheckoutIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 10)
	f.stock(seatBalcony, dayOne, 2)

	f.add(alice, shopHall, seatStalls, dayOne, 3)
	f.add(alice, shopHall, seatBalcony, dayOne, 2)

	// another customer's booking drains the balcony after alice filled her cart
	_, err := f.svc.Ledger.Adjust(f.ctx, seatBalcony, dayOne, -1)
	require.NoError(t, err)

	_, err = f.svc.Checkout.Checkout(f.ctx, alice, models.CheckoutRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	items := apperrors.UnavailableItems(err)
	require.Len(t, items, 1)
	assert.Equal(t, seatBalcony, items[0].SeatTypeID)
	assert.Equal(t, 1, items[0].AvailableQuantity)
	assert.Equal(t, "Grand Hall / Balcony", items[0].Name)

	assert.Equal(t, 10, f.quantity(seatStalls, dayOne))
	assert.Equal(t, 1, f.quantity(seatBalcony, dayOne))
	assert.Empty(t, f.store.Bookings(alice.ID))
}

func TestCheckoutRejectsEmptyCartAndBadMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout.Checkout(f.ctx, alice, models.CheckoutRequest{})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.svc.Checkout.Checkout(f.ctx, alice, models.CheckoutRequest{Method: "cheque"})
	assert.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.svc.Checkout.Checkout(f.ctx, authz.System, models.CheckoutRequest{})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 5)

	const customers = 12
	carts := f.store.Stores().Cart
	for i := 1; i <= customers; i++ {
		require.NoError(t, carts.Save(f.ctx, &models.CartItem{
			CustomerID:   int64(100 + i),
			ShopID:       shopHall,
			SeatTypeID:   seatStalls,
			EventDayID:   dayOne,
			Quantity:     1,
			PricePerSeat: price,
			TotalPrice:   price,
		}))
	}

	var ok, conflicts int32
	var wg sync.WaitGroup
	for i := 1; i <= customers; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			p := authz.Principal{ID: id, Role: authz.RoleCustomer}
			_, err := f.svc.Checkout.Checkout(f.ctx, p, models.CheckoutRequest{})
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case errors.Is(err, apperrors.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("customer %d: unexpected error %v", id, err)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok)
	assert.Equal(t, int32(customers-5), conflicts)
	assert.Equal(t, 0, f.quantity(seatStalls, dayOne))

	reserved := 0
	for i := 1; i <= customers; i++ {
		for _, b := range f.store.Bookings(int64(100 + i)) {
			reserved += b.Quantity
		}
	}
	assert.Equal(t, 5, reserved, fmt.Sprintf("ledger and bookings disagree: %d reserved", reserved))
}

func TestCreatePaymentIntentAccess(t *testing.T) {
	f := newFixture(t)
	f.stock(seatStalls, dayOne, 4)
	f.add(alice, shopHall, seatStalls, dayOne, 1)

	_, err := f.svc.Payments.CreatePaymentIntent(f.ctx, alice, models.CreatePaymentIntentRequest{BookingIDs: []int64{9999}})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	result := f.checkout(alice)
	_, err = f.svc.Payments.CreatePaymentIntent(f.ctx, bob, models.CreatePaymentIntentRequest{BookingIDs: result.BookingIDs})
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	intent, err := f.svc.Payments.CreatePaymentIntent(f.ctx, admin, models.CreatePaymentIntentRequest{BookingIDs: result.BookingIDs, Method: "wallet"})
	require.NoError(t, err)
	assert.Equal(t, "20.00", intent.Amount)
	assert.Equal(t, result.BookingIDs, intent.BookingIDs)
	assert.Equal(t, result.ExpiresAt, intent.ExpiresAt)
}
