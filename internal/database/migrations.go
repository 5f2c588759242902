package database

import (
	"fmt"
	"log/slog"
)

func (db *DB) RunMigrations() error {
	slog.Info("Running database migrations...")

	migrations := []string{
		createCatalogTables,
		createSeatTypeAvailabilityTable,
		createCartItemsTable,
		createBookingsTable,
		createPaymentsTable,
		createPaymentNotificationsTable,
		createCustomerTicketsTable,
	}

	for i, migration := range migrations {
		slog.Info("Running migration", "step", i+1)
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	slog.Info("All migrations completed successfully")
	return nil
}

// Catalog tables are owned by the back-office CRUD; only the columns read here are declared.
const createCatalogTables = `
CREATE TABLE IF NOT EXISTS customers (
    id BIGSERIAL PRIMARY KEY,
    email VARCHAR(255) UNIQUE NOT NULL,
    full_name VARCHAR(255) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS shops (
    id BIGSERIAL PRIMARY KEY,
    name VARCHAR(255) NOT NULL
);

CREATE TABLE IF NOT EXISTS seat_types (
    id BIGSERIAL PRIMARY KEY,
    shop_id BIGINT NOT NULL REFERENCES shops(id),
    name VARCHAR(255) NOT NULL
);

CREATE TABLE IF NOT EXISTS event_days (
    id BIGSERIAL PRIMARY KEY,
    shop_id BIGINT NOT NULL REFERENCES shops(id),
    event_date DATE NOT NULL
);`

const createSeatTypeAvailabilityTable = `
CREATE TABLE IF NOT EXISTS seat_type_availability (
    seat_type_id BIGINT NOT NULL REFERENCES seat_types(id),
    event_day_id BIGINT NOT NULL REFERENCES event_days(id),
    price BIGINT NOT NULL CHECK (price >= 0),
    quantity INTEGER NOT NULL CHECK (quantity >= 0),
    available BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    PRIMARY KEY (seat_type_id, event_day_id)
);`

const createCartItemsTable = `
CREATE TABLE IF NOT EXISTS cart_items (
    id BIGSERIAL PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    shop_id BIGINT NOT NULL REFERENCES shops(id),
    seat_type_id BIGINT NOT NULL REFERENCES seat_types(id),
    event_day_id BIGINT NOT NULL REFERENCES event_days(id),
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    price_per_seat BIGINT NOT NULL,
    total_price BIGINT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
    UNIQUE (customer_id, shop_id, seat_type_id, event_day_id)
);

CREATE INDEX IF NOT EXISTS idx_cart_items_line ON cart_items(seat_type_id, event_day_id);`

const createBookingsTable = `
CREATE TABLE IF NOT EXISTS bookings (
    id BIGSERIAL PRIMARY KEY,
    customer_id BIGINT NOT NULL,
    shop_id BIGINT NOT NULL REFERENCES shops(id),
    seat_type_id BIGINT NOT NULL REFERENCES seat_types(id),
    event_day_id BIGINT NOT NULL REFERENCES event_days(id),
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    total_price BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'confirmed', 'cancelled')),
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bookings_pending_line
    ON bookings(customer_id, shop_id, seat_type_id, event_day_id)
    WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_bookings_expiry ON bookings(expires_at) WHERE status = 'pending';`

const createPaymentsTable = `
CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    booking_id BIGINT NOT NULL REFERENCES bookings(id),
    amount BIGINT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'success', 'failed', 'refunded')),
    method VARCHAR(50) NOT NULL DEFAULT '',
    gateway_order_id VARCHAR(64) NOT NULL,
    gateway_payment_id VARCHAR(128),
    expires_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_payments_pending_booking ON payments(booking_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(gateway_order_id);`

const createPaymentNotificationsTable = `
CREATE TABLE IF NOT EXISTS payment_notifications (
    id BIGSERIAL PRIMARY KEY,
    gateway_order_id VARCHAR(64) NOT NULL,
    gateway_payment_id VARCHAR(128) NOT NULL DEFAULT '',
    status_code INTEGER NOT NULL,
    amount VARCHAR(32) NOT NULL DEFAULT '',
    currency VARCHAR(8) NOT NULL DEFAULT '',
    method VARCHAR(50) NOT NULL DEFAULT '',
    signature_valid BOOLEAN NOT NULL,
    processing_status VARCHAR(32) NOT NULL DEFAULT 'received',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    payload JSONB NOT NULL DEFAULT '{}',
    received_at TIMESTAMP NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_order ON payment_notifications(gateway_order_id);
CREATE INDEX IF NOT EXISTS idx_notifications_status ON payment_notifications(processing_status, received_at);`

const createCustomerTicketsTable = `
CREATE TABLE IF NOT EXISTS customer_tickets (
    id BIGSERIAL PRIMARY KEY,
    account_owner_id BIGINT NOT NULL,
    booking_id BIGINT NOT NULL UNIQUE REFERENCES bookings(id),
    shop_id BIGINT NOT NULL,
    event_day_id BIGINT NOT NULL,
    ticket_no VARCHAR(32) NOT NULL,
    document_ref TEXT NOT NULL DEFAULT '',
    code_ref TEXT NOT NULL DEFAULT '',
    used BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_customer_tickets_owner ON customer_tickets(account_owner_id);
CREATE INDEX IF NOT EXISTS idx_customer_tickets_no ON customer_tickets(ticket_no);`
