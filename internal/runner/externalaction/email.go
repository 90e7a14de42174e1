package externalaction

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/models"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// EmailRunner backs EXTERNAL_ACTION.EMAIL, built on wneessen/go-mail the
// same way internal/runner/humanloop.EmailNotifier is: grounded on
// rakunlabs-at/internal/service/workflow/nodes/email.go's client
// construction. Unlike the HUMAN_LOOP notifier this is a full node
// operation in its own right (to/subject/body are all node-configured),
// not a side-channel follow-up message.
type EmailRunner struct {
	cfg SMTPConfig
}

// SMTPConfig mirrors humanloop.SMTPConfig; kept as its own type here so
// this package has no dependency on internal/runner/humanloop.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	From               string
	TLS                bool
	NoTLS              bool
	InsecureSkipVerify bool
}

// NewEmailRunner constructs an EmailRunner against a fixed SMTP server
// configuration (loaded from the environment at bootstrap).
func NewEmailRunner(cfg SMTPConfig) *EmailRunner {
	return &EmailRunner{cfg: cfg}
}

// Validate requires an operation, to address, and body.
func (r *EmailRunner) Validate(config map[string]any) error {
	if v, ok := config["operation"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "EMAIL requires an operation")
	}
	if v, ok := config["to"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "EMAIL requires a to address")
	}
	if v, ok := config["body"].(string); !ok || v == "" {
		return apperr.New(apperr.ValidationError, "EMAIL requires a body")
	}
	return nil
}

// Execute dispatches the configured Email operation. Only "send" is
// currently implemented; other operations return VALIDATION_ERROR.
func (r *EmailRunner) Execute(ctx context.Context, rc *runner.Context) (models.NodeExecutionResult, error) {
	operation, _ := rc.Config["operation"].(string)
	if operation != "send" {
		return models.NodeExecutionResult{}, apperr.New(apperr.ValidationError, "unsupported EMAIL operation: "+operation)
	}

	to, _ := rc.Config["to"].(string)
	subject, _ := rc.Config["subject"].(string)
	if subject == "" {
		subject = "Workflow notification"
	}
	body, _ := rc.Config["body"].(string)

	m := mail.NewMsg()
	if err := m.From(r.cfg.From); err != nil {
		return models.NodeExecutionResult{}, fmt.Errorf("email: set from: %w", err)
	}
	if err := m.To(to); err != nil {
		return models.NodeExecutionResult{}, fmt.Errorf("email: set to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType("text/plain"), body)

	opts := []mail.Option{
		mail.WithPort(r.cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if r.cfg.Username != "" || r.cfg.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(r.cfg.Username), mail.WithPassword(r.cfg.Password))
	}
	if r.cfg.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{ServerName: r.cfg.Host, InsecureSkipVerify: r.cfg.InsecureSkipVerify}))
		if r.cfg.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	c, err := mail.NewClient(r.cfg.Host, opts...)
	if err != nil {
		return models.NodeExecutionResult{}, fmt.Errorf("email: create client: %w", err)
	}
	if err := c.DialAndSend(m); err != nil {
		return errorResult(apperr.Wrap(apperr.NetworkError, "email: send failed", err), rc)
	}

	return models.NodeExecutionResult{
		Status:     models.NodeSuccess,
		OutputData: map[string]any{"sent": true, "to": to},
		OutputPort: "main",
	}, nil
}
