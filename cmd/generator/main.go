package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"boxoffice/internal/config"
	"boxoffice/internal/database"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
	"boxoffice/internal/repository"
)

var (
	shopCount   = flag.Int("shops", 3, "Number of shops to create")
	dayCount    = flag.Int("days", 7, "Number of event days per shop")
	startDate   = flag.String("start", "", "First event day, YYYY-MM-DD (default: tomorrow)")
	quantity    = flag.Int("quantity", 0, "Seats per seat type and day (0 = random 50..500)")
	clearSeeded = flag.Bool("clear", false, "Delete existing inventory before generating")
	dryRun      = flag.Bool("dry-run", false, "Show what would be generated without making changes")
)

// seatTiers задают типы мест и базовую цену в минорных единицах
var seatTiers = []struct {
	name  string
	price int64
}{
	{"VIP", 1500000},
	{"Stalls", 750000},
	{"Balcony", 400000},
}

type InventoryGenerator struct {
	db    *database.DB
	repos *repository.Repositories
	rng   *rand.Rand
	first time.Time
}

func main() {
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	first, err := parseStart(*startDate)
	if err != nil {
		logger.Fatal("Invalid start date", "error", err)
	}

	slog.Info("Starting inventory generator...", "shops", *shopCount, "days", *dayCount, "start", first.Format("2006-01-02"))

	if *dryRun {
		for s := 1; s <= *shopCount; s++ {
			slog.Info("[DRY RUN] Would generate shop",
				"shop", shopName(s),
				"seat_types", len(seatTiers),
				"event_days", *dayCount,
				"availability_rows", len(seatTiers)*(*dayCount))
		}
		return
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	generator := &InventoryGenerator{
		db:    db,
		repos: repository.NewRepositories(db),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		first: first,
	}

	ctx := context.Background()
	if *clearSeeded {
		if err := generator.clear(ctx); err != nil {
			logger.Fatal("Failed to clear inventory", "error", err)
		}
	}

	for s := 1; s <= *shopCount; s++ {
		if err := generator.generateShop(ctx, shopName(s)); err != nil {
			slog.Error("Failed to generate shop", "shop", shopName(s), "error", err)
			continue
		}
	}

	slog.Info("Inventory generation completed successfully!")
}

func parseStart(raw string) (time.Time, error) {
	if raw == "" {
		y, m, d := time.Now().AddDate(0, 0, 1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Parse("2006-01-02", raw)
}

func shopName(n int) string {
	return fmt.Sprintf("Hall %d", n)
}

// generateShop создает магазин, типы мест, дни и строки остатков в одной транзакции
func (g *InventoryGenerator) generateShop(ctx context.Context, name string) error {
	rows := 0

	err := g.db.WithinTx(ctx, func(ctx context.Context) error {
		conn := g.db.Conn(ctx)

		var shopID int64
		if err := conn.QueryRowContext(ctx, "INSERT INTO shops (name) VALUES ($1) RETURNING id", name).Scan(&shopID); err != nil {
			return fmt.Errorf("failed to insert shop: %w", err)
		}

		seatTypeIDs := make([]int64, len(seatTiers))
		for i, tier := range seatTiers {
			err := conn.QueryRowContext(ctx,
				"INSERT INTO seat_types (shop_id, name) VALUES ($1, $2) RETURNING id",
				shopID, tier.name,
			).Scan(&seatTypeIDs[i])
			if err != nil {
				return fmt.Errorf("failed to insert seat type %s: %w", tier.name, err)
			}
		}

		for d := 0; d < *dayCount; d++ {
			day := g.first.AddDate(0, 0, d)

			var eventDayID int64
			err := conn.QueryRowContext(ctx,
				"INSERT INTO event_days (shop_id, event_date) VALUES ($1, $2) RETURNING id",
				shopID, day,
			).Scan(&eventDayID)
			if err != nil {
				return fmt.Errorf("failed to insert event day %s: %w", day.Format("2006-01-02"), err)
			}

			for i, tier := range seatTiers {
				row := &models.SeatTypeAvailability{
					SeatTypeID: seatTypeIDs[i],
					EventDayID: eventDayID,
					Price:      g.price(tier.price, day),
					Quantity:   g.quantity(),
					Available:  true,
				}
				if err := g.repos.Availability.Upsert(ctx, row); err != nil {
					return fmt.Errorf("failed to upsert availability: %w", err)
				}
				rows++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("Generated shop", "shop", name, "availability_rows", rows)
	return nil
}

// price поднимает цену на выходные и добавляет разброс до 10%
func (g *InventoryGenerator) price(base int64, day time.Time) int64 {
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		base = base * 120 / 100
	}
	return base + g.rng.Int63n(base/10+1)
}

func (g *InventoryGenerator) quantity() int {
	if *quantity > 0 {
		return *quantity
	}
	return g.rng.Intn(451) + 50
}

// clear удаляет всё, что зависит от остатков, в порядке внешних ключей
func (g *InventoryGenerator) clear(ctx context.Context) error {
	return g.db.WithinTx(ctx, func(ctx context.Context) error {
		conn := g.db.Conn(ctx)
		for _, table := range []string{
			"customer_tickets",
			"payments",
			"bookings",
			"cart_items",
			"seat_type_availability",
			"event_days",
			"seat_types",
			"shops",
		} {
			if _, err := conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		slog.Info("Cleared existing inventory")
		return nil
	})
}
