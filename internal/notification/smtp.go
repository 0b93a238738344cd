package notification

import (
	"context"
	"fmt"
	"time"

	gomail "github.com/wneessen/go-mail"

	"cashoffer_backend/platform/config"
	"cashoffer_backend/platform/logger"
)

// SMTPSender delivers alerts to the review team mailbox via go-mail.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
}

// NewSMTPSender creates a sender from the alert configuration.
func NewSMTPSender(cfg config.AlertConfig) *SMTPSender {
	return &SMTPSender{
		host:     cfg.GetSMTPHost(),
		port:     cfg.GetSMTPPort(),
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetAlertFromAddress(),
		to:       cfg.GetAlertToAddress(),
	}
}

func (s *SMTPSender) SendEscalationAlert(ctx context.Context, alert EscalationAlert) error {
	subject := fmt.Sprintf(subjectEscalationFmt, alert.Reason)
	content, err := renderAlertTemplate("escalation_alert.html", escalationAlertData{
		baseAlertData: baseAlertData{
			Title:   "Offer escalated",
			Heading: "Offer escalated for review",
		},
		OfferID:         alert.OfferID,
		Reason:          alert.Reason,
		Message:         alert.Message,
		AmountFormatted: formatCurrencyUSD(alert.OfferAmount),
		Category:        alert.Category,
		OccurredAt:      alert.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, subject, content)
}

func (s *SMTPSender) SendStageFailureAlert(ctx context.Context, alert StageFailureAlert) error {
	subject := fmt.Sprintf(subjectStageFailureFmt, alert.Stage)
	content, err := renderAlertTemplate("stage_failure.html", stageFailureAlertData{
		baseAlertData: baseAlertData{
			Title:   "Pipeline stage failed",
			Heading: "Pipeline stage failed",
		},
		OfferID:    alert.OfferID,
		Stage:      alert.Stage,
		Error:      alert.Error,
		OccurredAt: alert.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, subject, content)
}

func (s *SMTPSender) send(ctx context.Context, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.FromFormat("Offer Alerts", s.from); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(s.to); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogSender writes alerts to the application log. Used when alert email
// delivery is disabled.
type LogSender struct {
	log *logger.Logger
}

func NewLogSender(log *logger.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) SendEscalationAlert(_ context.Context, alert EscalationAlert) error {
	s.log.Warn("escalation alert",
		"offer_id", alert.OfferID,
		"reason", alert.Reason,
		"amount", alert.OfferAmount,
	)
	return nil
}

func (s *LogSender) SendStageFailureAlert(_ context.Context, alert StageFailureAlert) error {
	s.log.Warn("stage failure alert",
		"offer_id", alert.OfferID,
		"stage", alert.Stage,
		"error", alert.Error,
	)
	return nil
}

// NewSender returns the SMTP sender when alerts are enabled, otherwise a
// log-only fallback.
func NewSender(cfg config.AlertConfig, log *logger.Logger) Sender {
	if cfg.GetAlertsEnabled() {
		return NewSMTPSender(cfg)
	}
	return NewLogSender(log)
}
