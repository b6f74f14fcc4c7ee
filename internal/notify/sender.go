package notify

//go:generate mockgen -destination=mock_sender_test.go -package=notify_test github.com/aistatus/aistatus/internal/notify Sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/aistatus/aistatus/internal/probe"
	"github.com/aistatus/aistatus/internal/provider/resilience"
)

// Sender delivers one message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderRegistry maps channels to senders.
type SenderRegistry struct {
	mu      sync.RWMutex
	senders map[Channel]Sender
}

// NewSenderRegistry creates an empty registry.
func NewSenderRegistry() *SenderRegistry {
	return &SenderRegistry{senders: make(map[Channel]Sender)}
}

// Register installs the sender for a channel, replacing any previous one.
func (r *SenderRegistry) Register(channel Channel, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = sender
}

// Get returns the sender for a channel.
func (r *SenderRegistry) Get(channel Channel) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.senders[channel]
	return s, ok
}

// Pacing limits the outbound send rate of one sender.
type Pacing struct {
	// PerSecond is the sustained send rate. Zero disables pacing.
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

func (p Pacing) limiter() *rate.Limiter {
	if p.PerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := p.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(p.PerSecond), burst)
}

// SMTPConfig configures the email sender.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`

	// StartTLS upgrades the connection when the server offers it.
	StartTLS bool   `mapstructure:"starttls"`
	Pacing   Pacing `mapstructure:"pacing"`
}

// EmailSender sends HTML mail over SMTP.
type EmailSender struct {
	cfg     SMTPConfig
	limiter *rate.Limiter
	now     func() time.Time
}

// NewEmailSender creates an SMTP sender.
func NewEmailSender(cfg SMTPConfig) *EmailSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &EmailSender{cfg: cfg, limiter: cfg.Pacing.limiter(), now: time.Now}
}

// Send delivers msg to msg.To. The context bounds the whole SMTP exchange.
func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if s.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
				return fmt.Errorf("smtp starttls: %w", err)
			}
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(s.compose(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data close: %w", err)
	}
	return c.Quit()
}

func (s *EmailSender) compose(msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@%s>\r\n", uuid.NewString(), s.cfg.Host)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.HTML, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// Webhook breaker thresholds.
const (
	webhookTripMinCalls = 20
	webhookTripRatio    = 0.8
)

// WebhookConfig configures the webhook sender.
type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	Pacing  Pacing        `mapstructure:"pacing"`

	// Guard vets webhook destinations. Defaults to the strict probe guard.
	Guard *probe.Guard `mapstructure:"-"`

	Health *resilience.Registry `mapstructure:"-"`
}

// WebhookPayload is the JSON body posted to webhooks.
type WebhookPayload struct {
	NotificationID string        `json:"notificationId"`
	Subject        string        `json:"subject"`
	HTML           string        `json:"html"`
	Data           *TemplateData `json:"data,omitempty"`
}

// WebhookSender posts notifications as JSON.
type WebhookSender struct {
	client  *resilience.Client
	guard   *probe.Guard
	limiter *rate.Limiter
	health  *resilience.Registry
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(cfg WebhookConfig) *WebhookSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	guard := cfg.Guard
	if guard == nil {
		guard = probe.NewGuard()
	}

	transport := &http.Transport{
		Proxy:               nil,
		DialContext:         guard.Dialer(cfg.Timeout).DialContext,
		TLSHandshakeTimeout: cfg.Timeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	clientCfg := resilience.DefaultClientConfig("webhook")
	clientCfg.Timeout = cfg.Timeout
	clientCfg.Retry.MaxAttempts = 2
	clientCfg.HTTPClient = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	clientCfg.IsPermanent = probe.IsBlocked
	// The breaker is shared by every subscriber endpoint, so it trips on the
	// aggregate failure ratio only.
	clientCfg.CircuitBreaker.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.Requests >= webhookTripMinCalls &&
			float64(counts.TotalFailures)/float64(counts.Requests) >= webhookTripRatio
	}

	client := resilience.NewClient(clientCfg)
	if cfg.Health != nil {
		cfg.Health.Register(client)
	}

	return &WebhookSender{
		client:  client,
		guard:   guard,
		limiter: cfg.Pacing.limiter(),
		health:  cfg.Health,
	}
}

// Send posts msg to the webhook URL in msg.To.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	if _, err := s.guard.ValidateURL(msg.To); err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(WebhookPayload{
		NotificationID: msg.NotificationID,
		Subject:        msg.Subject,
		HTML:           msg.HTML,
		Data:           msg.Data,
	})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.To, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aistatus-notifier/1.0")

	resp, err := s.client.DoWithContext(ctx, req)
	if err != nil {
		s.record(err)
		return fmt.Errorf("webhook: %s", probe.SanitizeError(err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d", resp.StatusCode)
		s.record(err)
		return err
	}
	s.record(nil)
	return nil
}

func (s *WebhookSender) record(err error) {
	if s.health == nil {
		return
	}
	if err != nil {
		s.health.RecordFailure(s.client.Name(), probe.SanitizeError(err))
		return
	}
	s.health.RecordSuccess(s.client.Name())
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a log-only sender for development.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs msg.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info().
		Str("notification_id", msg.NotificationID).
		Str("channel", string(msg.Channel)).
		Str("to", maskRecipient(msg.To)).
		Str("subject", msg.Subject).
		Msg("notification delivered to log")
	return nil
}

func maskRecipient(to string) string {
	if at := strings.LastIndex(to, "@"); at > 0 {
		return to[:1] + "***" + to[at:]
	}
	if u, err := url.Parse(to); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host + "/***"
	}
	return "***"
}
