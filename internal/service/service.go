package service

import (
	"context"
	"time"

	"boxoffice/internal/database"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

// TxRunner runs fn in one unit of work carried by the context.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AvailabilityStore interface {
	Get(ctx context.Context, seatTypeID, eventDayID int64) (*models.SeatTypeAvailability, error)
	Adjust(ctx context.Context, seatTypeID, eventDayID int64, delta int) (int, bool, error)
	HoldSummary(ctx context.Context, seatTypeID, eventDayID, customerID int64) (models.HoldSummary, error)
	LineName(ctx context.Context, shopID, seatTypeID int64) (string, error)
}

type CartStore interface {
	ListByCustomer(ctx context.Context, customerID int64) ([]models.CartLine, error)
	Get(ctx context.Context, customerID int64, line models.LineKey) (*models.CartItem, error)
	Save(ctx context.Context, item *models.CartItem) error
	Delete(ctx context.Context, customerID int64, line models.LineKey) error
}

type BookingStore interface {
	GetPendingForLine(ctx context.Context, customerID int64, line models.LineKey, forUpdate bool) (*models.Booking, error)
	Create(ctx context.Context, booking *models.Booking) error
	UpdatePending(ctx context.Context, booking *models.Booking) error
	ListByIDs(ctx context.Context, ids []int64) ([]models.Booking, error)
	Transition(ctx context.Context, ids []int64, from []models.BookingStatus, to models.BookingStatus) ([]models.Booking, error)
	ListLinesByOrder(ctx context.Context, orderID string, status models.BookingStatus) ([]models.BookingLine, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Booking, error)
}

type PaymentStore interface {
	GetPendingByBooking(ctx context.Context, bookingID int64) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	UpdatePending(ctx context.Context, payment *models.Payment) error
	ListByOrder(ctx context.Context, orderID string) ([]models.Payment, error)
	ListByBookings(ctx context.Context, bookingIDs []int64) ([]models.Payment, error)
	TransitionOrder(ctx context.Context, orderID string, from []models.PaymentStatus, to models.PaymentStatus, gatewayPaymentID string) ([]models.Payment, error)
	FailPendingForBookings(ctx context.Context, bookingIDs []int64) ([]models.Payment, error)
}

type NotificationStore interface {
	Create(ctx context.Context, n *models.PaymentNotification) error
	GetByID(ctx context.Context, id int64) (*models.PaymentNotification, error)
	MarkStatus(ctx context.Context, id int64, status models.ProcessingStatus, lastErr string) error
	MarkQueued(ctx context.Context, id int64) error
	Find(ctx context.Context, filter models.NotificationFilter) ([]models.PaymentNotification, error)
}

type TicketStore interface {
	CreateIfAbsent(ctx context.Context, t *models.CustomerTicket) (bool, error)
	UpdateRefs(ctx context.Context, ticketNo string, bookingIDs []int64, documentRef, codeRef string) error
	ListByBookings(ctx context.Context, bookingIDs []int64) ([]models.CustomerTicket, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]models.CustomerTicket, error)
}

type ContactStore interface {
	GetContact(ctx context.Context, id int64) (*models.CustomerContact, error)
}

// Stores bundles persistence for every component.
type Stores struct {
	Tx            TxRunner
	Availability  AvailabilityStore
	Cart          CartStore
	Bookings      BookingStore
	Payments      PaymentStore
	Notifications NotificationStore
	Tickets       TicketStore
	Contacts      ContactStore
}

func StoresFromRepositories(db *database.DB, repos *repository.Repositories) Stores {
	return Stores{
		Tx:            db,
		Availability:  repos.Availability,
		Cart:          repos.Cart,
		Bookings:      repos.Bookings,
		Payments:      repos.Payments,
		Notifications: repos.Notifications,
		Tickets:       repos.Tickets,
		Contacts:      repos.Customers,
	}
}

type TaskQueue interface {
	Enqueue(ctx context.Context, task models.ReconcileTask) error
}

type EventPublisher interface {
	Publish(subject string, data interface{}) error
}

// ReplayGuard remembers (order, outcome) pairs that were already applied.
type ReplayGuard interface {
	Seen(ctx context.Context, orderID, outcome string) (bool, error)
	Mark(ctx context.Context, orderID, outcome string) error
}

type Gateway interface {
	SignIntent(orderID string, amount int64, method string) models.PaymentIntent
	VerifyNotification(n models.GatewayNotification) bool
	OrderStatus(ctx context.Context, orderID string) (int, error)
	Currency() string
}

type DocumentRenderer interface {
	RenderDocument(ctx context.Context, doc models.TicketDocument) (*models.Artifact, error)
}

type CodeGenerator interface {
	GenerateCode(ctx context.Context, ticketNo string) (*models.Artifact, error)
}

type Notifier interface {
	SendTickets(ctx context.Context, n models.TicketNotification) error
}

type Options struct {
	BookingTTL           time.Duration
	PermissiveSignatures bool
	StatusLookup         bool
	Now                  func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

type Dependencies struct {
	Stores   Stores
	Queue    TaskQueue
	Events   EventPublisher
	Replay   ReplayGuard
	Gateway  Gateway
	Renderer DocumentRenderer
	Codes    CodeGenerator
	Notifier Notifier
	Options  Options
}

type Services struct {
	Ledger   *InventoryLedger
	Cart     *CartService
	Checkout *CheckoutService
	Payments *PaymentReconciler
	Tickets  *TicketIssuer
}

func NewServices(deps Dependencies) *Services {
	if deps.Options.BookingTTL <= 0 {
		deps.Options.BookingTTL = 15 * time.Minute
	}

	ledger := NewInventoryLedger(deps.Stores.Availability)
	cart := NewCartService(deps.Stores.Cart, ledger)
	tickets := NewTicketIssuer(deps.Stores, deps.Renderer, deps.Codes, deps.Notifier, deps.Gateway.Currency())
	payments := NewPaymentReconciler(deps, ledger, cart, tickets)
	checkout := NewCheckoutService(deps.Stores, ledger, payments, deps.Options)

	return &Services{
		Ledger:   ledger,
		Cart:     cart,
		Checkout: checkout,
		Payments: payments,
		Tickets:  tickets,
	}
}
