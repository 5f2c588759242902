package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"boxoffice/internal/authz"
	"boxoffice/internal/external"
	"boxoffice/internal/models"
	"boxoffice/internal/service"
	"boxoffice/internal/service/memstore"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	shopHall   int64 = 1
	shopGarden int64 = 2

	seatStalls  int64 = 10
	seatBalcony int64 = 11

	dayOne int64 = 100
	dayTwo int64 = 101

	price int64 = 2000
)

var (
	alice = authz.Principal{ID: 1, Role: authz.RoleCustomer}
	bob   = authz.Principal{ID: 2, Role: authz.RoleCustomer}
	admin = authz.Principal{ID: 99, Role: authz.RoleAdmin}
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []models.ReconcileTask
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, task models.ReconcileTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *recordingQueue) Tasks() []models.ReconcileTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.ReconcileTask(nil), q.tasks...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]interface{}
}

func (p *recordingPublisher) Publish(subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]interface{})
	}
	p.events[subject] = append(p.events[subject], data)
	return nil
}

func (p *recordingPublisher) Count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[subject])
}

func (p *recordingPublisher) Last(subject string) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.events[subject]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

type memoryReplay struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *memoryReplay) Seen(ctx context.Context, orderID, outcome string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[orderID+"/"+outcome], nil
}

func (r *memoryReplay) Mark(ctx context.Context, orderID, outcome string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	r.seen[orderID+"/"+outcome] = true
	return nil
}

// gatewayMock signs deterministically and accepts the signature "valid".
type gatewayMock struct {
	mock.Mock
}

func (g *gatewayMock) SignIntent(orderID string, amount int64, method string) models.PaymentIntent {
	return models.PaymentIntent{
		MerchantID: "M-100",
		OrderID:    orderID,
		Amount:     external.FormatAmount(amount),
		Currency:   "LKR",
		Hash:       "hash-" + orderID,
		Method:     method,
	}
}

func (g *gatewayMock) VerifyNotification(n models.GatewayNotification) bool {
	return n.Signature == "valid"
}

func (g *gatewayMock) OrderStatus(ctx context.Context, orderID string) (int, error) {
	args := g.Called(orderID)
	return args.Int(0), args.Error(1)
}

func (g *gatewayMock) Currency() string { return "LKR" }

type artifactsMock struct {
	mock.Mock
	fail map[string]error
}

func (a *artifactsMock) RenderDocument(ctx context.Context, doc models.TicketDocument) (*models.Artifact, error) {
	a.Called("document", doc.TicketNo)
	if err := a.fail[doc.TicketNo]; err != nil {
		return nil, err
	}
	return &models.Artifact{
		Ref:         "doc://" + doc.TicketNo,
		FileName:    doc.TicketNo + ".html",
		ContentType: "text/html",
		Content:     []byte(fmt.Sprintf("%s %d", doc.ShopName, doc.Total)),
	}, nil
}

func (a *artifactsMock) GenerateCode(ctx context.Context, ticketNo string) (*models.Artifact, error) {
	a.Called("code", ticketNo)
	return &models.Artifact{
		Ref:         "code://" + ticketNo,
		FileName:    ticketNo + ".png",
		ContentType: "image/png",
		Content:     []byte(ticketNo),
	}, nil
}

type notifierMock struct {
	mock.Mock
}

func (n *notifierMock) SendTickets(ctx context.Context, msg models.TicketNotification) error {
	args := n.Called(msg)
	return args.Error(0)
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *memstore.Store
	svc       *service.Services
	queue     *recordingQueue
	events    *recordingPublisher
	replay    *memoryReplay
	gateway   *gatewayMock
	artifacts *artifactsMock
	notifier  *notifierMock
	now       time.Time
}

type fixtureOption func(*service.Dependencies)

func withoutReplayGuard() fixtureOption {
	return func(d *service.Dependencies) { d.Replay = nil }
}

func withOptions(fn func(*service.Options)) fixtureOption {
	return func(d *service.Dependencies) { fn(&d.Options) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     memstore.New(),
		queue:     &recordingQueue{},
		events:    &recordingPublisher{},
		replay:    &memoryReplay{},
		gateway:   &gatewayMock{},
		artifacts: &artifactsMock{fail: map[string]error{}},
		notifier:  &notifierMock{},
		now:       time.Date(2025, 2, 20, 10, 0, 0, 0, time.UTC),
	}
	f.store.Now = f.clock
	f.artifacts.On("RenderDocument", mock.Anything, mock.Anything).Maybe()
	f.artifacts.On("GenerateCode", mock.Anything, mock.Anything).Maybe()
	f.notifier.On("SendTickets", mock.Anything).Return(nil).Maybe()

	f.store.AddShop(shopHall, "Grand Hall")
	f.store.AddShop(shopGarden, "Garden Stage")
	f.store.AddSeatType(seatStalls, "Stalls")
	f.store.AddSeatType(seatBalcony, "Balcony")
	f.store.AddEventDay(dayOne, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	f.store.AddEventDay(dayTwo, time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	f.store.AddCustomer(models.CustomerContact{ID: alice.ID, Email: "alice@example.com", FullName: "Alice Perera"})
	f.store.AddCustomer(models.CustomerContact{ID: bob.ID, Email: "bob@example.com", FullName: "Bob Silva"})

	deps := service.Dependencies{
		Stores:   f.store.Stores(),
		Queue:    f.queue,
		Events:   f.events,
		Replay:   f.replay,
		Gateway:  f.gateway,
		Renderer: f.artifacts,
		Codes:    f.artifacts,
		Notifier: f.notifier,
		Options: service.Options{
			BookingTTL: 15 * time.Minute,
			Now:        f.clock,
		},
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = service.NewServices(deps)

	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) stock(seatTypeID, eventDayID int64, quantity int) {
	f.store.SetAvailability(models.SeatTypeAvailability{
		SeatTypeID: seatTypeID,
		EventDayID: eventDayID,
		Price:      price,
		Quantity:   quantity,
		Available:  true,
	})
}

func (f *fixture) quantity(seatTypeID, eventDayID int64) int {
	return f.store.Availability(seatTypeID, eventDayID).Quantity
}

func (f *fixture) add(p authz.Principal, shopID, seatTypeID, eventDayID int64, quantity int) {
	f.t.Helper()
	_, err := f.svc.Cart.AddItem(f.ctx, p, models.AddCartItemRequest{
		ShopID:     shopID,
		SeatTypeID: seatTypeID,
		EventDayID: eventDayID,
		Quantity:   quantity,
	})
	require.NoError(f.t, err)
}

func (f *fixture) checkout(p authz.Principal) *models.CheckoutResult {
	f.t.Helper()
	result, err := f.svc.Checkout.Checkout(f.ctx, p, models.CheckoutRequest{Method: "card"})
	require.NoError(f.t, err)
	require.NotNil(f.t, result.Payment)
	return result
}

// notify delivers a gateway callback and runs the queued reconcile task.
func (f *fixture) notify(orderID string, statusCode int) models.PaymentNotification {
	f.t.Helper()
	rec, err := f.svc.Payments.HandleWebhook(f.ctx, models.GatewayNotification{
		MerchantID: "M-100",
		OrderID:    orderID,
		PaymentID:  "pay-" + orderID,
		StatusCode: statusCode,
		Amount:     "0.00",
		Currency:   "LKR",
		Signature:  "valid",
	})
	require.NoError(f.t, err)
	require.NoError(f.t, f.svc.Payments.Reconcile(f.ctx, rec.ID))

	n, ok := f.store.Notification(rec.ID)
	require.True(f.t, ok)
	return n
}
