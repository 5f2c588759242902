package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"boxoffice/internal/app"
	"boxoffice/internal/authz"
	"boxoffice/internal/config"
	"boxoffice/internal/logger"
	"boxoffice/internal/models"
)

func main() {
	var (
		orderID string
		issue   bool
		timeout time.Duration
	)
	flag.StringVar(&orderID, "order", "", "Gateway order ID to resend tickets for")
	flag.BoolVar(&issue, "issue-only", false, "Only issue missing tickets; skip when the order is already issued")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	if orderID == "" {
		fmt.Fprintln(os.Stderr, "usage: resend-tickets -order <gateway order id>")
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Starting ticket resend", "order_id", orderID, "issue_only", issue)

	rt, err := app.New(cfg)
	if err != nil {
		logger.Fatal("Failed to create runtime", "error", err)
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx = logger.ContextWithRequestID(ctx, logger.NewRequestID())

	var summary *models.IssuanceSummary
	if issue {
		summary, err = rt.Services.Tickets.IssueForOrder(ctx, orderID)
	} else {
		summary, err = rt.Services.Tickets.Resend(ctx, authz.System, orderID)
	}
	if err != nil {
		slog.Error("Ticket resend failed", "order_id", orderID, "error", err)
		rt.Close()
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(summary, "", "  ")
	fmt.Println(string(out))

	for _, g := range summary.Groups {
		if !g.OK() {
			slog.Warn("Ticket group failed", "ticket_no", g.TicketNo, "error", g.Error)
		}
	}
	if summary.EmailError != "" {
		slog.Warn("Tickets were not sent", "order_id", orderID, "error", summary.EmailError)
	}

	slog.Info("Ticket resend completed", "order_id", orderID, "email_sent", summary.EmailSent)
}
