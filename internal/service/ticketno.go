package service

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"sort"
	"time"

	"boxoffice/internal/models"
)

var ticketEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// TicketNumber derives the identifier shared by every booking of one
// (shop, event day) group in one order. The gateway order id is part of the
// seed, so two orders for the same shop and day never share a number, and the
// same group of one order always gets the same number.
func TicketNumber(shopID, eventDayID int64, eventDate time.Time, orderID string) string {
	seed := fmt.Sprintf("%d|%d|%s|%s", shopID, eventDayID, eventDate.Format("2006-01-02"), orderID)
	sum := sha256.Sum256([]byte(seed))
	return "TK-" + eventDate.Format("20060102") + "-" + ticketEncoding.EncodeToString(sum[:])[:10]
}

type groupKey struct {
	shopID     int64
	eventDayID int64
}

// GroupBookings partitions confirmed booking lines by (shop, event day).
// Groups are ordered by shop then event day; breakdowns by seat type.
func GroupBookings(lines []models.BookingLine) []models.TicketGroup {
	index := make(map[groupKey]int)
	var groups []models.TicketGroup

	for _, line := range lines {
		key := groupKey{shopID: line.ShopID, eventDayID: line.EventDayID}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, models.TicketGroup{
				ShopID:     line.ShopID,
				ShopName:   line.ShopName,
				EventDayID: line.EventDayID,
				EventDate:  line.EventDate,
				OwnerID:    line.CustomerID,
			})
		}
		groups[i].Bookings = append(groups[i].Bookings, line)
	}

	sort.Slice(groups, func(a, b int) bool {
		if groups[a].ShopID != groups[b].ShopID {
			return groups[a].ShopID < groups[b].ShopID
		}
		return groups[a].EventDayID < groups[b].EventDayID
	})

	for i := range groups {
		g := &groups[i]
		sort.Slice(g.Bookings, func(a, b int) bool {
			if g.Bookings[a].SeatTypeID != g.Bookings[b].SeatTypeID {
				return g.Bookings[a].SeatTypeID < g.Bookings[b].SeatTypeID
			}
			return g.Bookings[a].ID < g.Bookings[b].ID
		})

		for _, b := range g.Bookings {
			n := len(g.Breakdown)
			if n > 0 && g.Breakdown[n-1].SeatTypeID == b.SeatTypeID {
				g.Breakdown[n-1].Quantity += b.Quantity
				g.Breakdown[n-1].Subtotal += b.TotalPrice
			} else {
				g.Breakdown = append(g.Breakdown, models.SeatTypeBreakdown{
					SeatTypeID:   b.SeatTypeID,
					SeatTypeName: b.SeatTypeName,
					Quantity:     b.Quantity,
					Subtotal:     b.TotalPrice,
				})
			}
			g.Total += b.TotalPrice
		}
	}

	return groups
}
