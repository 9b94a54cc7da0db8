package alerts

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
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

// MailSender delivers a composed message through SMTP.
type MailSender func(ctx context.Context, d EmailDestination, message []byte) error

// Dispatcher hands notifications to destinations.
type Dispatcher struct {
	console    io.Writer
	httpClient *http.Client
	sendMail   MailSender
	userAgent  string
	now        func() time.Time
}

type DispatcherOption func(*Dispatcher)

func WithConsole(w io.Writer) DispatcherOption {
	return func(d *Dispatcher) { d.console = w }
}

func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.httpClient = c }
}

func WithMailSender(send MailSender) DispatcherOption {
	return func(d *Dispatcher) { d.sendMail = send }
}

func WithUserAgent(ua string) DispatcherOption {
	return func(d *Dispatcher) { d.userAgent = ua }
}

func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		console:    os.Stdout,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		sendMail:   sendSMTP,
		userAgent:  "SAMWatch/1.0",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Deliver(ctx context.Context, dest Destination, n Notification) error {
	switch dest := dest.(type) {
	case ConsoleDestination:
		return d.renderTable(n)
	case WebhookDestination:
		return d.postWebhook(ctx, dest, n)
	case EmailDestination:
		return d.sendMail(ctx, dest, composeEmail(dest, n, d.now()))
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMethod, dest)
	}
}

func (d *Dispatcher) renderTable(n Notification) error {
	fmt.Fprintf(d.console, "Rule %s: %d new match(es)\n", n.Rule, len(n.Matches))

	w := tabwriter.NewWriter(d.console, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNOTICE\tTITLE\tAGENCY\tPOSTED\tURL")
	for _, e := range n.Matches {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", e.OpportunityID, e.NoticeID, clip(e.Title, 60), clip(e.Agency, 40), e.PostedAt, e.URL)
	}
	return w.Flush()
}

func (d *Dispatcher) postWebhook(ctx context.Context, dest WebhookDestination, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("X-Delivery-ID", uuid.NewString())
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func composeEmail(dest EmailDestination, n Notification, now time.Time) []byte {
	subject := dest.Subject
	if subject == "" {
		subject = fmt.Sprintf("SAMWatch: %d new match(es) for %s", len(n.Matches), n.Rule)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", dest.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(dest.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Rule %s matched %d new opportunit(ies).\r\n", n.Rule, len(n.Matches))
	for _, e := range n.Matches {
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "Title: %s\r\n", e.Title)
		fmt.Fprintf(&b, "Notice ID: %s\r\n", e.NoticeID)
		fmt.Fprintf(&b, "Agency: %s\r\n", e.Agency)
		fmt.Fprintf(&b, "Posted: %s\r\n", e.PostedAt)
		fmt.Fprintf(&b, "Link: %s\r\n", e.URL)
		if len(e.Payload) > 0 {
			if payload, err := json.Marshal(e.Payload); err == nil {
				fmt.Fprintf(&b, "Details: %s\r\n", payload)
			}
		}
	}
	return []byte(b.String())
}

func sendSMTP(ctx context.Context, dest EmailDestination, message []byte) error {
	addr := net.JoinHostPort(dest.Server, strconv.Itoa(dest.Port))

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, dest.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer c.Close()

	if dest.UseTLS {
		if err := c.StartTLS(&tls.Config{ServerName: dest.Server}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if dest.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", dest.Username, dest.Password, dest.Server)); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := c.Mail(dest.Sender); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range dest.Recipients {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to open message body: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return c.Quit()
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
