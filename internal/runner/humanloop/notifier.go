package humanloop

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/lyzr/workflow-platform/internal/apperr"
	"github.com/lyzr/workflow-platform/internal/runner"
)

// SlackNotifier posts a message via Slack's chat.postMessage REST
// endpoint, called directly rather than through an SDK (see DESIGN.md).
// channelConfig expects {"channel": "<id>", "actor": "<credential user id>"}
// (when actor is omitted, the credential lookup uses an empty user id).
type SlackNotifier struct {
	client      *http.Client
	credentials runner.CredentialFetcher
}

// NewSlackNotifier constructs a SlackNotifier against credentials broker
// for the "slack" provider's bot token.
func NewSlackNotifier(client *http.Client, credentials runner.CredentialFetcher) *SlackNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SlackNotifier{client: client, credentials: credentials}
}

// Notify posts message to channelConfig["channel"].
func (n *SlackNotifier) Notify(ctx context.Context, channelConfig map[string]any, message string) error {
	channel, _ := channelConfig["channel"].(string)
	if channel == "" {
		return apperr.New(apperr.ValidationError, "SLACK channel_config requires a channel id")
	}
	userID, _ := channelConfig["actor"].(string)

	token, err := n.credentials.AccessToken(ctx, userID, "slack")
	if err != nil {
		return apperr.Wrap(apperr.AuthError, "failed to resolve slack credential", err)
	}

	body, err := json.Marshal(map[string]any{"channel": channel, "text": message})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := n.client.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.NetworkError, "slack request failed", err)
	}
	defer resp.Body.Close()

	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && !out.OK && out.Error != "" {
		return apperr.New(apperr.ResponseError, "slack: "+out.Error)
	}
	return nil
}

// SMTPConfig holds the SMTP server settings an EmailNotifier sends
// through, grounded on rakunlabs-at's emailNode smtpConfig shape.
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

// EmailNotifier sends a HUMAN_LOOP question/follow-up as a plain-text
// email via wneessen/go-mail. channelConfig expects {"to": "a@b.com"}
// (comma-separated for multiple recipients) and optional {"subject": "..."}.
type EmailNotifier struct {
	cfg SMTPConfig
}

// NewEmailNotifier constructs an EmailNotifier against a fixed SMTP
// server configuration (loaded from the environment at bootstrap).
func NewEmailNotifier(cfg SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg}
}

// Notify sends message as the body of a new email to channelConfig["to"].
func (n *EmailNotifier) Notify(ctx context.Context, channelConfig map[string]any, message string) error {
	to, _ := channelConfig["to"].(string)
	if to == "" {
		return apperr.New(apperr.ValidationError, "EMAIL channel_config requires a to address")
	}
	subject, _ := channelConfig["subject"].(string)
	if subject == "" {
		subject = "Workflow approval"
	}

	m := mail.NewMsg()
	if err := m.From(n.cfg.From); err != nil {
		return fmt.Errorf("email: set from: %w", err)
	}
	recipients := strings.Split(to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}
	if err := m.To(recipients...); err != nil {
		return fmt.Errorf("email: set to: %w", err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.ContentType("text/plain"), message)

	opts := []mail.Option{
		mail.WithPort(n.cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	if n.cfg.Username != "" || n.cfg.Password != "" {
		opts = append(opts, mail.WithSMTPAuth(mail.SMTPAuthPlain), mail.WithUsername(n.cfg.Username), mail.WithPassword(n.cfg.Password))
	}
	if n.cfg.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{ServerName: n.cfg.Host, InsecureSkipVerify: n.cfg.InsecureSkipVerify}))
		if n.cfg.TLS {
			opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.TLSMandatory))
		} else {
			opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
		}
	}

	c, err := mail.NewClient(n.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("email: create client: %w", err)
	}
	if err := c.DialAndSend(m); err != nil {
		return apperr.Wrap(apperr.NetworkError, "email: send failed", err)
	}
	return nil
}

// AppNotifier is the no-op channel for HUMAN_LOOP.APP: the interaction
// is surfaced through the Engine's own pending-pause read path rather
// than an outbound push, so Notify is a deliberate no-op.
type AppNotifier struct{}

// NewAppNotifier constructs an AppNotifier.
func NewAppNotifier() *AppNotifier {
	return &AppNotifier{}
}

// Notify does nothing; APP-channel interactions are read, not pushed.
func (n *AppNotifier) Notify(ctx context.Context, channelConfig map[string]any, message string) error {
	return nil
}
