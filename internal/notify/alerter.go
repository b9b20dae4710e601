package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/wolfman30/hotel-pms-backend/pkg/logging"
)

// Alert is a message for the operator channel: webhook events that could
// not be applied, captures or voids the gateway refused, and similar.
type Alert struct {
	Kind    string
	Subject string
	Detail  string
	Fields  map[string]string
}

// OperatorAlerter surfaces failures that need a human.
type OperatorAlerter interface {
	Alert(ctx context.Context, a Alert) error
}

// EmailAlerter mails alerts to the configured operator address.
type EmailAlerter struct {
	sender EmailSender
	to     string
	logger *logging.Logger
}

func NewEmailAlerter(sender EmailSender, to string, logger *logging.Logger) *EmailAlerter {
	if sender == nil {
		panic("notify: email sender required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &EmailAlerter{sender: sender, to: strings.TrimSpace(to), logger: logger}
}

func (a *EmailAlerter) Alert(ctx context.Context, alert Alert) error {
	a.logger.Warn("operator alert", "kind", alert.Kind, "subject", alert.Subject, "detail", alert.Detail)
	if a.to == "" {
		return nil
	}
	err := a.sender.Send(ctx, EmailMessage{
		To:       a.to,
		ToName:   "Operations",
		Subject:  fmt.Sprintf("[%s] %s", alert.Kind, alert.Subject),
		Body:     formatAlertBody(alert),
		Category: alert.Kind,
	})
	if err != nil {
		return fmt.Errorf("notify: send alert: %w", err)
	}
	return nil
}

func formatAlertBody(alert Alert) string {
	var b strings.Builder
	b.WriteString(alert.Detail)
	if len(alert.Fields) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(alert.Fields))
	for k := range alert.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("\n\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, alert.Fields[k])
	}
	return b.String()
}

// MemoryAlerter keeps alerts in process for tests.
type MemoryAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryAlerter() *MemoryAlerter {
	return &MemoryAlerter{}
}

func (m *MemoryAlerter) Alert(ctx context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *MemoryAlerter) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}
