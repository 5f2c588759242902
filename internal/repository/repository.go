package repository

import "boxoffice/internal/database"

type Repositories struct {
	Availability  *AvailabilityRepository
	Cart          *CartRepository
	Bookings      *BookingRepository
	Payments      *PaymentRepository
	Notifications *NotificationRepository
	Tickets       *TicketRepository
	Customers     *CustomerRepository
}

func NewRepositories(db *database.DB) *Repositories {
	return &Repositories{
		Availability:  NewAvailabilityRepository(db),
		Cart:          NewCartRepository(db),
		Bookings:      NewBookingRepository(db),
		Payments:      NewPaymentRepository(db),
		Notifications: NewNotificationRepository(db),
		Tickets:       NewTicketRepository(db),
		Customers:     NewCustomerRepository(db),
	}
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
