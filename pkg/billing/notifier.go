package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/mrz1836/postmark"

	"github.com/prepdeck/prepdeck/pkg/logger"
)

// Notifier receives payment-failure events. Failed invoices never mutate
// entitlement state; they are an observability concern only.
type Notifier interface {
	PaymentFailed(ctx context.Context, ev InvoicePaymentFailed) error
}

type logNotifier struct {
	log *slog.Logger
}

// NewLogNotifier returns a Notifier that only logs. Used in development and
// as the default when no mail transport is configured.
func NewLogNotifier(log *slog.Logger) Notifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &logNotifier{log: log}
}

func (n *logNotifier) PaymentFailed(ctx context.Context, ev InvoicePaymentFailed) error {
	n.log.WarnContext(ctx, "invoice payment failed",
		slog.String("invoice_id", ev.InvoiceID),
		slog.String("customer_id", ev.CustomerID),
		logger.UserID(ev.UserID),
	)
	return nil
}

// EmailNotifierConfig configures the Postmark-backed notifier. Failure notices
// go to the billing operations inbox, not the end user: user email addresses
// belong to the auth layer and the provider already dunns the customer.
type EmailNotifierConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string `env:"BILLING_SENDER_EMAIL"`
	OpsEmail     string `env:"BILLING_OPS_EMAIL"`
}

// Configured reports whether all required fields are present.
func (c EmailNotifierConfig) Configured() bool {
	return c.ServerToken != "" && c.AccountToken != "" && c.SenderEmail != "" && c.OpsEmail != ""
}

type emailNotifier struct {
	client *postmark.Client
	config EmailNotifierConfig
}

// NewEmailNotifier returns a Notifier that emails the billing operations
// inbox through Postmark whenever an invoice payment fails.
func NewEmailNotifier(cfg EmailNotifierConfig) (Notifier, error) {
	if !cfg.Configured() {
		return nil, errors.New("postmark tokens, sender and ops email are required")
	}
	return &emailNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
	}, nil
}

func (n *emailNotifier) PaymentFailed(ctx context.Context, ev InvoicePaymentFailed) error {
	user := ev.UserID.String()
	if ev.UserID == uuid.Nil {
		user = "unknown"
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:    n.config.SenderEmail,
		To:      n.config.OpsEmail,
		Subject: fmt.Sprintf("Payment failed for invoice %s", ev.InvoiceID),
		TextBody: fmt.Sprintf(
			"Invoice %s failed to collect.\n\nProvider customer: %s\nUser: %s\n\nThe provider retries on its own schedule; no entitlement change was made.",
			ev.InvoiceID, ev.CustomerID, user),
		Tag: "billing-payment-failed",
	})
	if err != nil {
		return err
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
