package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	mail "github.com/wneessen/go-mail"

	"github.com/bakkerme/listing-notifier/internal/outputs/email"
)

// Config holds the SMTP connection settings.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
}

type Sender struct {
	cfg Config
}

// NewSender creates an SMTP sender. An empty TLSMode selects port-based defaults.
func NewSender(cfg Config) (*Sender, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg}, nil
}

// TLSMode determines how the SMTP client should negotiate TLS.
type TLSMode string

const (
	// TLSModeAuto uses implicit TLS on 465 and STARTTLS otherwise.
	TLSModeAuto     TLSMode = "auto"
	TLSModeDisabled TLSMode = "disabled"
	TLSModeStartTLS TLSMode = "starttls"
	// TLSModeImplicit is SMTPS, typically on port 465.
	TLSModeImplicit TLSMode = "implicit"
)

func (s *Sender) Send(ctx context.Context, message email.Message) error {
	if message.From == "" {
		message.From = s.cfg.Username
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m, err := buildMsg(message)
	if err != nil {
		return err
	}

	err = s.dialAndSend(ctx, m, s.cfg.Username != "")
	if err == nil {
		return nil
	}

	// Local sinks such as mailpit do not offer SMTP AUTH. Shared credentials
	// from the environment would otherwise break local delivery.
	if s.cfg.Username != "" && isAuthUnsupported(err) && isLocalDevSMTPHost(s.cfg.Host) {
		if retryErr := s.dialAndSend(ctx, m, false); retryErr == nil {
			return nil
		}
	}
	return err
}

func buildMsg(message email.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(message.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", message.From, err)
	}
	if err := m.ToFromString(message.To); err != nil {
		return nil, fmt.Errorf("invalid to address(es) %q: %w", message.To, err)
	}
	if err := m.EnvelopeFrom(message.From); err != nil {
		return nil, fmt.Errorf("invalid envelope from address %q: %w", message.From, err)
	}
	m.Subject(message.Subject)
	if message.TextBody != "" {
		m.SetBodyString(mail.TypeTextPlain, message.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, message.Body)
	} else {
		m.SetBodyString(mail.TypeTextHTML, message.Body)
	}
	return m, nil
}

func (s *Sender) dialAndSend(ctx context.Context, m *mail.Msg, enableAuth bool) error {
	opts, err := s.clientOptions(enableAuth)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *Sender) clientOptions(enableAuth bool) ([]mail.Option, error) {
	mode, err := s.resolveTLSMode()
	if err != nil {
		return nil, err
	}
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         s.cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: s.cfg.InsecureSkipVerify,
		}),
	}
	switch mode {
	case TLSModeDisabled:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case TLSModeStartTLS:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	default:
		return nil, fmt.Errorf("unsupported smtp tls mode %q", mode)
	}
	if enableAuth && s.cfg.Username != "" {
		opts = append(opts,
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts, nil
}

// resolveTLSMode returns the configured TLS behavior, falling back to port defaults.
func (s *Sender) resolveTLSMode() (TLSMode, error) {
	mode, err := ParseTLSMode(s.cfg.TLSMode)
	if err != nil {
		return "", err
	}
	if mode == TLSModeAuto {
		if s.cfg.Port == 465 {
			return TLSModeImplicit, nil
		}
		return TLSModeStartTLS, nil
	}
	return mode, nil
}

// ParseTLSMode normalizes the TLS mode string and validates supported values.
func ParseTLSMode(mode string) (TLSMode, error) {
	normalized := strings.TrimSpace(strings.ToLower(mode))
	switch normalized {
	case "", "auto":
		return TLSModeAuto, nil
	case "disabled", "off", "none", "false":
		return TLSModeDisabled, nil
	case "starttls", "start_tls":
		return TLSModeStartTLS, nil
	case "implicit", "ssl", "smtps", "true":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("invalid smtp tls mode %q (expected: auto, disabled, starttls, implicit)", mode)
	}
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Host) == "" {
		return fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("smtp port must be between 1 and 65535")
	}
	if _, err := ParseTLSMode(cfg.TLSMode); err != nil {
		return err
	}
	return nil
}

func isAuthUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "server does not support SMTP AUTH") ||
		strings.Contains(msg, "SMTP Auth autodiscover was not able to detect a supported authentication mechanism")
}

func isLocalDevSMTPHost(host string) bool {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if host == "localhost" || host == "mailpit" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}
