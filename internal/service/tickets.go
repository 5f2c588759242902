package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"boxoffice/internal/authz"
	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
	"boxoffice/internal/models"
)

// TicketIssuer turns the confirmed bookings of a paid order into one ticket
// number, document and check-in code per (shop, event day).
type TicketIssuer struct {
	stores   Stores
	renderer DocumentRenderer
	codes    CodeGenerator
	notifier Notifier
	currency string
}

func NewTicketIssuer(stores Stores, renderer DocumentRenderer, codes CodeGenerator, notifier Notifier, currency string) *TicketIssuer {
	return &TicketIssuer{
		stores:   stores,
		renderer: renderer,
		codes:    codes,
		notifier: notifier,
		currency: currency,
	}
}

// IssueForOrder is idempotent: an order whose confirmed bookings all carry
// tickets is reported as already issued and nothing is sent again. Ticket rows
// are claimed in one transaction first, so of two concurrent callers only the
// one that created rows renders and sends.
func (t *TicketIssuer) IssueForOrder(ctx context.Context, orderID string) (*models.IssuanceSummary, error) {
	lines, err := t.stores.Bookings.ListLinesByOrder(ctx, orderID, models.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed bookings: %w", err)
	}
	summary := &models.IssuanceSummary{OrderID: orderID, Groups: []models.GroupResult{}}
	if len(lines) == 0 {
		return summary, nil
	}

	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ID
	}
	existing, err := t.stores.Tickets.ListByBookings(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	if len(existing) >= len(lines) {
		return alreadyIssued(orderID, lines), nil
	}

	claimed, err := t.claim(ctx, orderID, lines)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return alreadyIssued(orderID, lines), nil
	}

	return t.issue(ctx, orderID, lines, claimed)
}

// claim creates the missing ticket rows in booking id order and returns the
// bookings this call created rows for.
func (t *TicketIssuer) claim(ctx context.Context, orderID string, lines []models.BookingLine) (map[int64]bool, error) {
	type pending struct {
		line     models.BookingLine
		ticketNo string
	}
	var rows []pending
	for _, g := range GroupBookings(lines) {
		ticketNo := TicketNumber(g.ShopID, g.EventDayID, g.EventDate, orderID)
		for _, b := range g.Bookings {
			rows = append(rows, pending{line: b, ticketNo: ticketNo})
		}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].line.ID < rows[b].line.ID })

	var claimed map[int64]bool
	err := t.stores.Tx.WithinTx(ctx, func(ctx context.Context) error {
		claimed = make(map[int64]bool)
		for _, r := range rows {
			created, err := t.stores.Tickets.CreateIfAbsent(ctx, &models.CustomerTicket{
				AccountOwnerID: r.line.CustomerID,
				BookingID:      r.line.ID,
				ShopID:         r.line.ShopID,
				EventDayID:     r.line.EventDayID,
				TicketNo:       r.ticketNo,
			})
			if err != nil {
				return fmt.Errorf("failed to create ticket for booking %d: %w", r.line.ID, err)
			}
			if created {
				claimed[r.line.ID] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func alreadyIssued(orderID string, lines []models.BookingLine) *models.IssuanceSummary {
	summary := &models.IssuanceSummary{OrderID: orderID, AlreadyIssued: true, Groups: []models.GroupResult{}}
	for _, g := range GroupBookings(lines) {
		summary.Groups = append(summary.Groups, models.GroupResult{
			ShopID:     g.ShopID,
			EventDayID: g.EventDayID,
			TicketNo:   TicketNumber(g.ShopID, g.EventDayID, g.EventDate, orderID),
			BookingIDs: g.BookingIDs(),
		})
	}
	return summary
}

// Resend re-renders and re-sends the documents of a paid order. Ticket rows
// are not duplicated.
func (t *TicketIssuer) Resend(ctx context.Context, p authz.Principal, orderID string) (*models.IssuanceSummary, error) {
	lines, err := t.stores.Bookings.ListLinesByOrder(ctx, orderID, models.BookingConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to load confirmed bookings: %w", err)
	}
	if len(lines) == 0 {
		return nil, apperrors.NotFound("order", orderID)
	}
	if err := authz.Authorize(p, authz.Owned(authz.ResourceOrder, lines[0].CustomerID), authz.ActionTicketResend); err != nil {
		return nil, err
	}
	return t.issue(ctx, orderID, lines, nil)
}

func (t *TicketIssuer) ListTickets(ctx context.Context, p authz.Principal) (*models.ListTicketsResponse, error) {
	if err := authz.Authorize(p, authz.Owned(authz.ResourceTicket, p.ID), authz.ActionTicketRead); err != nil {
		return nil, err
	}
	tickets, err := t.stores.Tickets.ListByOwner(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	if tickets == nil {
		tickets = []models.CustomerTicket{}
	}
	return &models.ListTicketsResponse{Tickets: tickets}, nil
}

// issue renders and sends every group. claimed holds the bookings whose ticket
// rows were already created by claim; nil means rows are created here.
func (t *TicketIssuer) issue(ctx context.Context, orderID string, lines []models.BookingLine, claimed map[int64]bool) (*models.IssuanceSummary, error) {
	log := logger.WithContext(ctx).With("order_id", orderID)
	summary := &models.IssuanceSummary{OrderID: orderID, Groups: []models.GroupResult{}}

	groups := GroupBookings(lines)
	owner := groups[0].OwnerID

	contact, err := t.stores.Contacts.GetContact(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer contact: %w", err)
	}
	holder := ""
	if contact != nil {
		holder = contact.FullName
	}

	var attachments []models.TicketAttachment
	for _, g := range groups {
		res, attachment := t.issueGroup(ctx, orderID, holder, g, claimed)
		summary.Groups = append(summary.Groups, res)
		if !res.OK() {
			metrics.TicketGroups.WithLabelValues("error").Inc()
			log.Error("Failed to issue ticket group",
				"ticket_no", res.TicketNo,
				"shop_id", g.ShopID,
				"event_day_id", g.EventDayID,
				"error", res.Error)
			continue
		}
		metrics.TicketGroups.WithLabelValues("ok").Inc()
		attachments = append(attachments, attachment)
	}

	if len(attachments) == 0 {
		summary.EmailError = "no documents to send"
		return summary, nil
	}

	err = t.send(ctx, contact, orderID, attachments)
	metrics.EmailsTotal.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		summary.EmailError = err.Error()
		log.Error("Failed to send tickets", "error", err, "customer_id", owner)
	} else {
		summary.EmailSent = true
		log.Info("Tickets sent", "customer_id", owner, "groups", len(attachments))
	}

	return summary, nil
}

func (t *TicketIssuer) issueGroup(ctx context.Context, orderID, holder string, g models.TicketGroup, claimed map[int64]bool) (models.GroupResult, models.TicketAttachment) {
	ticketNo := TicketNumber(g.ShopID, g.EventDayID, g.EventDate, orderID)
	res := models.GroupResult{
		ShopID:     g.ShopID,
		EventDayID: g.EventDayID,
		TicketNo:   ticketNo,
		BookingIDs: g.BookingIDs(),
	}

	for _, b := range g.Bookings {
		if claimed != nil {
			if claimed[b.ID] {
				res.TicketsCreated++
			}
			continue
		}
		created, err := t.stores.Tickets.CreateIfAbsent(ctx, &models.CustomerTicket{
			AccountOwnerID: b.CustomerID,
			BookingID:      b.ID,
			ShopID:         g.ShopID,
			EventDayID:     g.EventDayID,
			TicketNo:       ticketNo,
		})
		if err != nil {
			res.Error = fmt.Sprintf("create ticket for booking %d: %v", b.ID, err)
			return res, models.TicketAttachment{}
		}
		if created {
			res.TicketsCreated++
		}
	}

	doc, err := t.renderer.RenderDocument(ctx, models.TicketDocument{
		TicketNo:  ticketNo,
		OrderID:   orderID,
		Holder:    holder,
		ShopName:  g.ShopName,
		EventDate: g.EventDate,
		Breakdown: g.Breakdown,
		Total:     g.Total,
		Currency:  t.currency,
	})
	if err != nil {
		res.Error = fmt.Sprintf("render document: %v", err)
		return res, models.TicketAttachment{}
	}
	res.DocumentRef = doc.Ref

	code, err := t.codes.GenerateCode(ctx, ticketNo)
	if err != nil {
		res.Error = fmt.Sprintf("generate code: %v", err)
		return res, models.TicketAttachment{}
	}
	res.CodeRef = code.Ref

	if err := t.stores.Tickets.UpdateRefs(ctx, ticketNo, res.BookingIDs, doc.Ref, code.Ref); err != nil {
		res.Error = fmt.Sprintf("store references: %v", err)
		return res, models.TicketAttachment{}
	}

	return res, models.TicketAttachment{
		TicketNo:  ticketNo,
		ShopName:  g.ShopName,
		EventDate: g.EventDate,
		Total:     g.Total,
		Document:  doc,
		Code:      code,
	}
}

func (t *TicketIssuer) send(ctx context.Context, contact *models.CustomerContact, orderID string, attachments []models.TicketAttachment) error {
	if contact == nil || contact.Email == "" {
		return errors.New("customer has no e-mail address")
	}
	if t.notifier == nil {
		return errors.New("mail delivery is not configured")
	}
	return t.notifier.SendTickets(ctx, models.TicketNotification{
		To:          contact.Email,
		Name:        contact.FullName,
		OrderID:     orderID,
		Currency:    t.currency,
		Attachments: attachments,
	})
}
