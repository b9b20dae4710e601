package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/hotel-pms-backend/internal/config"
	"github.com/wolfman30/hotel-pms-backend/internal/events"
	"github.com/wolfman30/hotel-pms-backend/internal/notify"
	"github.com/wolfman30/hotel-pms-backend/internal/payments"
	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// ErrFakeGatewayInProduction guards against shipping the local checkout.
var ErrFakeGatewayInProduction = errors.New("bootstrap: fake payment gateway is not allowed in production")

// BuildGateway selects the payment provider named by PAYMENT_GATEWAY.
func BuildGateway(cfg *appconfig.Config, logger *logging.Logger) (payments.Gateway, error) {
	switch cfg.PaymentGateway {
	case "fake":
		if cfg.IsProduction() {
			return nil, ErrFakeGatewayInProduction
		}
		return payments.NewFakeGateway(cfg.PublicBaseURL, logger), nil
	case "stripe", "":
		if strings.TrimSpace(cfg.StripeSecretKey) == "" {
			return nil, fmt.Errorf("bootstrap: STRIPE_SECRET_KEY required for stripe gateway")
		}
		return payments.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeSuccessURL, cfg.StripeCancelURL, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown payment gateway %q", cfg.PaymentGateway)
	}
}

// BuildAlerter prefers SendGrid, then SES, then a sender that only logs.
// Alerts are always logged even when no operator address is configured.
func BuildAlerter(cfg *appconfig.Config, ses *sesv2.Client, logger *logging.Logger) notify.OperatorAlerter {
	if logger == nil {
		logger = logging.Default()
	}
	var sender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		sender = sg
		logger.Info("operator alerts via sendgrid")
	} else if cfg.SESFromEmail != "" && ses != nil {
		sender = notify.NewSESSender(ses, notify.SESConfig{FromEmail: cfg.SESFromEmail}, logger)
		logger.Info("operator alerts via ses")
	} else {
		sender = notify.NewStubEmailSender(logger)
	}
	return notify.NewEmailAlerter(sender, cfg.OperatorEmail, logger)
}

// Publisher is the event sink plus the background loop that drains it, if
// any.
type Publisher struct {
	events.Publisher
	deliverer *events.Deliverer
}

// Start runs the outbox deliverer until ctx is cancelled. It returns
// immediately when events are not persisted.
func (p *Publisher) Start(ctx context.Context) {
	if p == nil || p.deliverer == nil {
		return
	}
	p.deliverer.Start(ctx)
}

// BuildPublisher writes events to the Postgres outbox inside each booking
// transaction and forwards them to SQS when a queue is configured. Without a
// database events stay in memory.
func BuildPublisher(db *Database, sqsClient *sqs.Client, cfg *appconfig.Config, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	if db == nil {
		logger.Warn("events are not persisted without a database")
		return &Publisher{Publisher: events.NewMemoryPublisher()}
	}
	out := &Publisher{Publisher: events.NewOutboxPublisher(logger)}
	if sqsClient == nil || strings.TrimSpace(cfg.EventsQueueURL) == "" {
		logger.Warn("EVENTS_QUEUE_URL not set; events stay in the outbox")
		return out
	}
	out.deliverer = events.NewDeliverer(events.NewOutboxStore(db.Pool), events.NewSQSDeliveryHandler(sqsClient, cfg.EventsQueueURL), logger).
		WithInterval(2 * time.Second)
	return out
}
