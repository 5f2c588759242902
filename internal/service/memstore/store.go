// Package memstore keeps every service store in process memory. It backs the
// service and API tests.
package memstore

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"boxoffice/internal/models"
	"boxoffice/internal/service"
)

type txKey struct{}

type lineKey struct {
	customerID int64
	line       models.LineKey
}

type availKey struct {
	seatTypeID int64
	eventDayID int64
}

type data struct {
	shops         map[int64]string
	seatTypes     map[int64]string
	eventDays     map[int64]time.Time
	customers     map[int64]models.CustomerContact
	availability  map[availKey]models.SeatTypeAvailability
	cart          map[lineKey]models.CartItem
	bookings      map[int64]models.Booking
	payments      map[int64]models.Payment
	notifications map[int64]models.PaymentNotification
	tickets       map[int64]models.CustomerTicket
	seq           int64
}

func newData() data {
	return data{
		shops:         make(map[int64]string),
		seatTypes:     make(map[int64]string),
		eventDays:     make(map[int64]time.Time),
		customers:     make(map[int64]models.CustomerContact),
		availability:  make(map[availKey]models.SeatTypeAvailability),
		cart:          make(map[lineKey]models.CartItem),
		bookings:      make(map[int64]models.Booking),
		payments:      make(map[int64]models.Payment),
		notifications: make(map[int64]models.PaymentNotification),
		tickets:       make(map[int64]models.CustomerTicket),
	}
}

func (d data) clone() data {
	c := newData()
	for k, v := range d.shops {
		c.shops[k] = v
	}
	for k, v := range d.seatTypes {
		c.seatTypes[k] = v
	}
	for k, v := range d.eventDays {
		c.eventDays[k] = v
	}
	for k, v := range d.customers {
		c.customers[k] = v
	}
	for k, v := range d.availability {
		c.availability[k] = v
	}
	for k, v := range d.cart {
		c.cart[k] = v
	}
	for k, v := range d.bookings {
		c.bookings[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.notifications {
		c.notifications[k] = v
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	c.seq = d.seq
	return c
}

// Store serializes every operation behind one lock. A transaction holds the
// lock until it finishes and restores a snapshot when fn fails.
type Store struct {
	mu  sync.Mutex
	d   data
	Now func() time.Time
}

func New() *Store {
	return &Store{d: newData(), Now: time.Now}
}

func (s *Store) Stores() service.Stores {
	return service.Stores{
		Tx:            s,
		Availability:  (*availabilityStore)(s),
		Cart:          (*cartStore)(s),
		Bookings:      (*bookingStore)(s),
		Payments:      (*paymentStore)(s),
		Notifications: (*notificationStore)(s),
		Tickets:       (*ticketStore)(s),
		Contacts:      (*contactStore)(s),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	defer func() {
		if p := recover(); p != nil {
			s.d = snapshot
			panic(p)
		}
		if err != nil {
			s.d = snapshot
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

// lock takes the store lock unless ctx already runs inside this store's transaction.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) nextID() int64 {
	s.d.seq++
	return s.d.seq
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Seeding

func (s *Store) AddShop(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.shops[id] = name
}

func (s *Store) AddSeatType(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.seatTypes[id] = name
}

func (s *Store) AddEventDay(id int64, date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.eventDays[id] = date
}

func (s *Store) AddCustomer(c models.CustomerContact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.customers[c.ID] = c
}

func (s *Store) SetAvailability(row models.SeatTypeAvailability) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.UpdatedAt = s.now()
	s.d.availability[availKey{row.SeatTypeID, row.EventDayID}] = row
}

// Inspection

func (s *Store) Availability(seatTypeID, eventDayID int64) models.SeatTypeAvailability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.availability[availKey{seatTypeID, eventDayID}]
}

func (s *Store) Booking(id int64) (models.Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.d.bookings[id]
	return b, ok
}

func (s *Store) Bookings(customerID int64) []models.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Booking
	for _, b := range s.d.bookings {
		if b.CustomerID == customerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *Store) Payments() []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Payment, 0, len(s.d.payments))
	for _, p := range s.d.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *Store) Tickets() []models.CustomerTicket {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CustomerTicket, 0, len(s.d.tickets))
	for _, t := range s.d.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

func (s *Store) Notification(id int64) (models.PaymentNotification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.d.notifications[id]
	return n, ok
}

// Availability

type availabilityStore Store

func (a *availabilityStore) Get(ctx context.Context, seatTypeID, eventDayID int64) (*models.SeatTypeAvailability, error) {
	s := (*Store)(a)
	defer s.lock(ctx)()
	row, ok := s.d.availability[availKey{seatTypeID, eventDayID}]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (a *availabilityStore) Adjust(ctx context.Context, seatTypeID, eventDayID int64, delta int) (int, bool, error) {
	s := (*Store)(a)
	defer s.lock(ctx)()
	key := availKey{seatTypeID, eventDayID}
	row, ok := s.d.availability[key]
	if !ok || row.Quantity+delta < 0 {
		return 0, false, nil
	}
	row.Quantity += delta
	row.UpdatedAt = s.now()
	s.d.availability[key] = row
	return row.Quantity, true, nil
}

func (a *availabilityStore) HoldSummary(ctx context.Context, seatTypeID, eventDayID, customerID int64) (models.HoldSummary, error) {
	s := (*Store)(a)
	defer s.lock(ctx)()

	var summary models.HoldSummary
	for k, item := range s.d.cart {
		if item.SeatTypeID != seatTypeID || item.EventDayID != eventDayID || k.customerID == customerID {
			continue
		}
		pending := 0
		if b := s.pendingFor(k.customerID, k.line); b != nil {
			pending = b.Quantity
		}
		if outstanding := item.Quantity - pending; outstanding > 0 {
			summary.OthersOutstanding += outstanding
		}
	}
	for _, b := range s.d.bookings {
		if b.CustomerID == customerID && b.SeatTypeID == seatTypeID && b.EventDayID == eventDayID && b.Status == models.BookingPending {
			summary.OwnPending += b.Quantity
		}
	}
	return summary, nil
}

func (a *availabilityStore) LineName(ctx context.Context, shopID, seatTypeID int64) (string, error) {
	s := (*Store)(a)
	defer s.lock(ctx)()
	shop, ok := s.d.shops[shopID]
	if !ok {
		return "", nil
	}
	seat, ok := s.d.seatTypes[seatTypeID]
	if !ok {
		return "", nil
	}
	return shop + " / " + seat, nil
}

// Cart

type cartStore Store

func (c *cartStore) ListByCustomer(ctx context.Context, customerID int64) ([]models.CartLine, error) {
	s := (*Store)(c)
	defer s.lock(ctx)()
	var lines []models.CartLine
	for k, item := range s.d.cart {
		if k.customerID != customerID {
			continue
		}
		lines = append(lines, models.CartLine{
			CartItem:     item,
			ShopName:     s.d.shops[item.ShopID],
			SeatTypeName: s.d.seatTypes[item.SeatTypeID],
		})
	}
	sort.Slice(lines, func(a, b int) bool {
		la, lb := lines[a], lines[b]
		if la.EventDayID != lb.EventDayID {
			return la.EventDayID < lb.EventDayID
		}
		if la.SeatTypeID != lb.SeatTypeID {
			return la.SeatTypeID < lb.SeatTypeID
		}
		return la.ShopID < lb.ShopID
	})
	return lines, nil
}

func (c *cartStore) Get(ctx context.Context, customerID int64, line models.LineKey) (*models.CartItem, error) {
	s := (*Store)(c)
	defer s.lock(ctx)()
	item, ok := s.d.cart[lineKey{customerID, line}]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (c *cartStore) Save(ctx context.Context, item *models.CartItem) error {
	s := (*Store)(c)
	defer s.lock(ctx)()
	key := lineKey{item.CustomerID, item.Line()}
	now := s.now()
	if existing, ok := s.d.cart[key]; ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
	} else {
		item.ID = s.nextID()
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	s.d.cart[key] = *item
	return nil
}

func (c *cartStore) Delete(ctx context.Context, customerID int64, line models.LineKey) error {
	s := (*Store)(c)
	defer s.lock(ctx)()
	delete(s.d.cart, lineKey{customerID, line})
	return nil
}

// Bookings

type bookingStore Store

func (s *Store) pendingFor(customerID int64, line models.LineKey) *models.Booking {
	for _, b := range s.d.bookings {
		if b.CustomerID == customerID && b.Line() == line && b.Status == models.BookingPending {
			return &b
		}
	}
	return nil
}

func (r *bookingStore) GetPendingForLine(ctx context.Context, customerID int64, line models.LineKey, forUpdate bool) (*models.Booking, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	return s.pendingFor(customerID, line), nil
}

func (r *bookingStore) Create(ctx context.Context, booking *models.Booking) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	booking.ID = s.nextID()
	booking.CreatedAt = s.now()
	booking.UpdatedAt = booking.CreatedAt
	s.d.bookings[booking.ID] = *booking
	return nil
}

func (r *bookingStore) UpdatePending(ctx context.Context, booking *models.Booking) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	existing, ok := s.d.bookings[booking.ID]
	if !ok || existing.Status != models.BookingPending {
		return sql.ErrNoRows
	}
	existing.Quantity = booking.Quantity
	existing.TotalPrice = booking.TotalPrice
	existing.ExpiresAt = booking.ExpiresAt
	existing.UpdatedAt = s.now()
	s.d.bookings[booking.ID] = existing
	booking.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r *bookingStore) ListByIDs(ctx context.Context, ids []int64) ([]models.Booking, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	var out []models.Booking
	for _, id := range ids {
		if b, ok := s.d.bookings[id]; ok {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *bookingStore) Transition(ctx context.Context, ids []int64, from []models.BookingStatus, to models.BookingStatus) ([]models.Booking, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	var changed []models.Booking
	for _, id := range ids {
		b, ok := s.d.bookings[id]
		if !ok || !containsStatus(from, b.Status) {
			continue
		}
		b.Status = to
		b.UpdatedAt = s.now()
		s.d.bookings[id] = b
		changed = append(changed, b)
	}
	return changed, nil
}

func (r *bookingStore) ListLinesByOrder(ctx context.Context, orderID string, status models.BookingStatus) ([]models.BookingLine, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()

	inOrder := make(map[int64]bool)
	for _, p := range s.d.payments {
		if p.GatewayOrderID == orderID {
			inOrder[p.BookingID] = true
		}
	}

	var lines []models.BookingLine
	for id := range inOrder {
		b, ok := s.d.bookings[id]
		if !ok || b.Status != status {
			continue
		}
		lines = append(lines, models.BookingLine{
			Booking:      b,
			ShopName:     s.d.shops[b.ShopID],
			SeatTypeName: s.d.seatTypes[b.SeatTypeID],
			EventDate:    s.d.eventDays[b.EventDayID],
		})
	}
	sort.Slice(lines, func(a, b int) bool {
		la, lb := lines[a], lines[b]
		if la.ShopID != lb.ShopID {
			return la.ShopID < lb.ShopID
		}
		if la.EventDayID != lb.EventDayID {
			return la.EventDayID < lb.EventDayID
		}
		if la.SeatTypeID != lb.SeatTypeID {
			return la.SeatTypeID < lb.SeatTypeID
		}
		return la.ID < lb.ID
	})
	return lines, nil
}

func (r *bookingStore) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Booking, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	var out []models.Booking
	for _, b := range s.d.bookings {
		if b.Status == models.BookingPending && b.ExpiresAt.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].ExpiresAt.Equal(out[b].ExpiresAt) {
			return out[a].ExpiresAt.Before(out[b].ExpiresAt)
		}
		return out[a].ID < out[b].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Payments

type paymentStore Store

func (r *paymentStore) GetPendingByBooking(ctx context.Context, bookingID int64) (*models.Payment, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	for _, p := range s.d.payments {
		if p.BookingID == bookingID && p.Status == models.PaymentPending {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *paymentStore) Create(ctx context.Context, payment *models.Payment) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	payment.ID = s.nextID()
	payment.CreatedAt = s.now()
	payment.UpdatedAt = payment.CreatedAt
	s.d.payments[payment.ID] = *payment
	return nil
}

func (r *paymentStore) UpdatePending(ctx context.Context, payment *models.Payment) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	existing, ok := s.d.payments[payment.ID]
	if !ok || existing.Status != models.PaymentPending {
		return sql.ErrNoRows
	}
	existing.Amount = payment.Amount
	existing.Method = payment.Method
	existing.GatewayOrderID = payment.GatewayOrderID
	existing.ExpiresAt = payment.ExpiresAt
	existing.UpdatedAt = s.now()
	s.d.payments[payment.ID] = existing
	return nil
}

func (r *paymentStore) ListByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	return s.filterPayments(func(p models.Payment) bool { return p.GatewayOrderID == orderID }), nil
}

func (r *paymentStore) ListByBookings(ctx context.Context, bookingIDs []int64) ([]models.Payment, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	ids := idSet(bookingIDs)
	return s.filterPayments(func(p models.Payment) bool { return ids[p.BookingID] }), nil
}

func (r *paymentStore) TransitionOrder(ctx context.Context, orderID string, from []models.PaymentStatus, to models.PaymentStatus, gatewayPaymentID string) ([]models.Payment, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	matched := s.filterPayments(func(p models.Payment) bool {
		return p.GatewayOrderID == orderID && containsStatus(from, p.Status)
	})
	for i := range matched {
		matched[i].Status = to
		matched[i].UpdatedAt = s.now()
		if gatewayPaymentID != "" {
			id := gatewayPaymentID
			matched[i].GatewayPaymentID = &id
		}
		s.d.payments[matched[i].ID] = matched[i]
	}
	return matched, nil
}

func (r *paymentStore) FailPendingForBookings(ctx context.Context, bookingIDs []int64) ([]models.Payment, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	ids := idSet(bookingIDs)
	matched := s.filterPayments(func(p models.Payment) bool {
		return ids[p.BookingID] && p.Status == models.PaymentPending
	})
	for i := range matched {
		matched[i].Status = models.PaymentFailed
		matched[i].UpdatedAt = s.now()
		s.d.payments[matched[i].ID] = matched[i]
	}
	return matched, nil
}

func (s *Store) filterPayments(keep func(models.Payment) bool) []models.Payment {
	var out []models.Payment
	for _, p := range s.d.payments {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// Notifications

type notificationStore Store

func (r *notificationStore) Create(ctx context.Context, n *models.PaymentNotification) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	n.ID = s.nextID()
	n.ReceivedAt = s.now()
	s.d.notifications[n.ID] = *n
	return nil
}

func (r *notificationStore) GetByID(ctx context.Context, id int64) (*models.PaymentNotification, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	n, ok := s.d.notifications[id]
	if !ok {
		return nil, nil
	}
	return &n, nil
}

func (r *notificationStore) MarkStatus(ctx context.Context, id int64, status models.ProcessingStatus, lastErr string) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	n, ok := s.d.notifications[id]
	if !ok {
		return nil
	}
	n.ProcessingStatus = status
	n.Attempts++
	if lastErr != "" {
		msg := lastErr
		n.LastError = &msg
	}
	if status.Terminal() {
		at := s.now()
		n.ProcessedAt = &at
	}
	s.d.notifications[id] = n
	return nil
}

func (r *notificationStore) MarkQueued(ctx context.Context, id int64) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	n, ok := s.d.notifications[id]
	if !ok || n.ProcessingStatus.Terminal() {
		return nil
	}
	n.ProcessingStatus = models.ProcessingQueued
	s.d.notifications[id] = n
	return nil
}

func (r *notificationStore) Find(ctx context.Context, filter models.NotificationFilter) ([]models.PaymentNotification, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	var out []models.PaymentNotification
	for _, n := range s.d.notifications {
		if filter.GatewayOrderID != "" && n.GatewayOrderID != filter.GatewayOrderID {
			continue
		}
		if filter.ProcessingStatus != "" && n.ProcessingStatus != filter.ProcessingStatus {
			continue
		}
		if filter.SignatureValid != nil && n.SignatureValid != *filter.SignatureValid {
			continue
		}
		if filter.ReceivedBefore != nil && !n.ReceivedAt.Before(*filter.ReceivedBefore) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].ReceivedAt.Equal(out[b].ReceivedAt) {
			return out[a].ReceivedAt.After(out[b].ReceivedAt)
		}
		return out[a].ID > out[b].ID
	})
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Tickets

type ticketStore Store

func (r *ticketStore) CreateIfAbsent(ctx context.Context, t *models.CustomerTicket) (bool, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	for _, existing := range s.d.tickets {
		if existing.BookingID == t.BookingID {
			return false, nil
		}
	}
	t.ID = s.nextID()
	t.CreatedAt = s.now()
	s.d.tickets[t.ID] = *t
	return true, nil
}

func (r *ticketStore) UpdateRefs(ctx context.Context, ticketNo string, bookingIDs []int64, documentRef, codeRef string) error {
	s := (*Store)(r)
	defer s.lock(ctx)()
	ids := idSet(bookingIDs)
	for id, t := range s.d.tickets {
		if t.TicketNo != ticketNo || !ids[t.BookingID] {
			continue
		}
		if documentRef != "" {
			t.DocumentRef = documentRef
		}
		if codeRef != "" {
			t.CodeRef = codeRef
		}
		s.d.tickets[id] = t
	}
	return nil
}

func (r *ticketStore) ListByBookings(ctx context.Context, bookingIDs []int64) ([]models.CustomerTicket, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	ids := idSet(bookingIDs)
	var out []models.CustomerTicket
	for _, t := range s.d.tickets {
		if ids[t.BookingID] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *ticketStore) ListByOwner(ctx context.Context, ownerID int64) ([]models.CustomerTicket, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	var out []models.CustomerTicket
	for _, t := range s.d.tickets {
		if t.AccountOwnerID == ownerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	return out, nil
}

// Contacts

type contactStore Store

func (r *contactStore) GetContact(ctx context.Context, id int64) (*models.CustomerContact, error) {
	s := (*Store)(r)
	defer s.lock(ctx)()
	c, ok := s.d.customers[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func containsStatus[S ~string](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
