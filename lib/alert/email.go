package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type EmailConfig struct {
	Server       string   `json:"server"`
	Port         int      `json:"port"`
	EmailAddress string   `json:"email_address"`
	Password     string   `json:"password"`
	Recipients   []string `json:"recipients"`
}

func (c EmailConfig) Enabled() bool {
	return c.Server != "" && len(c.Recipients) > 0
}

type Email struct {
	config EmailConfig
}

func NewEmail(config EmailConfig) Email {
	return Email{config: config}
}

func (e Email) Notify(ctx context.Context, alert Alert) error {
	ctx, span := tracer.Start(ctx, "Email.Notify")
	defer span.End()

	span.SetAttributes(attribute.String("subject", alert.Subject))

	body := strings.Builder{}
	body.WriteString(alert.Message)
	if len(alert.Attrs) > 0 {
		body.WriteString("\n\n")
		for _, attr := range alert.Attrs {
			body.WriteString(fmt.Sprintf("%s: %s\n", attr.Key, attr.Value.String()))
		}
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("docharvest <%s>", e.config.EmailAddress)
	mail.To = e.config.Recipients
	mail.Subject = fmt.Sprintf("[docharvest] %s", alert.Subject)
	mail.Text = []byte(body.String())

	addr := fmt.Sprintf("%s:%d", e.config.Server, e.config.Port)
	var auth smtp.Auth
	if e.config.Password != "" {
		auth = smtp.PlainAuth("", e.config.EmailAddress, e.config.Password, e.config.Server)
	}
	err := mail.Send(addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}

	return nil
}
