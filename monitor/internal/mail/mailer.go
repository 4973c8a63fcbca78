// Package mail delivers change notifications over SMTP.
//
// One message per detected change: multipart/alternative with a plain-text
// part and an HTML part, the diff truncated to a bounded preview in both.
// Delivery is best-effort. A mailer without credentials skips the send and
// reports "not delivered"; failures are returned for the caller to log,
// never escalated.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
	"unicode/utf8"
)

// DiffPreviewLimit caps the diff text included in message bodies.
const DiffPreviewLimit = 5000

// Config configures the mailer.
type Config struct {
	Host     string
	Port     int // 465 implies implicit TLS; anything else upgrades via STARTTLS when offered
	Username string
	Password string
	From     string
	To       string
	// DialTimeout bounds connection establishment. Default: 30s.
	DialTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Port <= 0 {
		c.Port = 587
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
}

// Configured reports whether the mailer has credentials to send with.
func (c Config) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// ChangeNotice carries everything the notification message needs.
type ChangeNotice struct {
	RIN      string
	OldBatch string
	NewBatch string
	Diff     string
	OldPath  string
	NewPath  string
	OldURL   string
	NewURL   string
}

// Mailer sends change notifications.
type Mailer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Mailer.
func New(cfg Config, logger *slog.Logger) *Mailer {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailer{cfg: cfg, logger: logger, now: time.Now}
}

// Notify sends one change notification. Returns (false, nil) when the
// mailer has no credentials; the run must not fail because email is
// unconfigured.
func (m *Mailer) Notify(ctx context.Context, n ChangeNotice) (bool, error) {
	if !m.cfg.Configured() {
		m.logger.Info("mail: not configured, skipping notification", "rin", n.RIN)
		return false, nil
	}

	msg, err := m.buildMessage(n)
	if err != nil {
		return false, err
	}
	if err := m.send(ctx, msg); err != nil {
		return false, err
	}
	m.logger.Info("mail: notification sent", "rin", n.RIN, "to", m.cfg.To)
	return true, nil
}

var htmlBody = template.Must(template.New("notice").Parse(`<html>
<body>
  <h2>RegInfo Monitor Alert</h2>
  <h3>RIN: {{.RIN}}</h3>
  <table style="background: #f4f4f4; padding: 15px;">
    <tr><td><strong>Previous:</strong></td><td>{{.OldBatch}}</td></tr>
    <tr><td><strong>Current:</strong></td><td>{{.NewBatch}}</td></tr>
    <tr><td><strong>Time:</strong></td><td>{{.Time}}</td></tr>
  </table>
  <h3>View XML:</h3>
  <ul>
    <li><a href="{{.OldURL}}">Previous ({{.OldBatch}})</a></li>
    <li><a href="{{.NewURL}}">Current ({{.NewBatch}})</a></li>
  </ul>
  <h3>Changes:</h3>
  <pre style="background: #f4f4f4; padding: 10px; font-size: 11px;">{{.Diff}}</pre>
</body>
</html>
`))

type bodyData struct {
	RIN      string
	OldBatch string
	NewBatch string
	Time     string
	OldURL   string
	NewURL   string
	Diff     string
}

// buildMessage renders the full RFC 822 message: headers plus a
// multipart/alternative body with plain and HTML parts.
func (m *Mailer) buildMessage(n ChangeNotice) ([]byte, error) {
	data := bodyData{
		RIN:      n.RIN,
		OldBatch: n.OldBatch,
		NewBatch: n.NewBatch,
		Time:     m.now().Format("2006-01-02 15:04:05"),
		OldURL:   n.OldURL,
		NewURL:   n.NewURL,
		Diff:     truncate(n.Diff, DiffPreviewLimit),
	}

	sep := "--------------------------------------------------"
	plain := fmt.Sprintf(`RegInfo Monitor Alert
=========================

RIN: %s
Change: %s → %s
Time: %s

View XML:
Previous: %s
Current: %s

Changes (first %d chars):
%s
%s
%s

Local files:
Previous: %s
Current: %s
`, data.RIN, data.OldBatch, data.NewBatch, data.Time, data.OldURL, data.NewURL,
		DiffPreviewLimit, sep, data.Diff, sep, n.OldPath, n.NewPath)

	var html bytes.Buffer
	if err := htmlBody.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("mail: render html body: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	subject := fmt.Sprintf("RegInfo RIN %s Change: %s → %s", n.RIN, n.OldBatch, n.NewBatch)
	fmt.Fprintf(&buf, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", m.cfg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	pw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=UTF-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("mail: plain part: %w", err)
	}
	pw.Write([]byte(plain))

	hw, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=UTF-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("mail: html part: %w", err)
	}
	hw.Write(html.Bytes())

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mail: close multipart: %w", err)
	}
	return buf.Bytes(), nil
}

// send speaks SMTP: dial under the context deadline, TLS (implicit on 465,
// STARTTLS elsewhere when offered), AUTH PLAIN, then the envelope and data.
func (m *Mailer) send(ctx context.Context, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	dialer := net.Dialer{Timeout: m.cfg.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(m.cfg.DialTimeout))
	}

	if m.cfg.Port == 465 {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: m.cfg.Host})
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			return fmt.Errorf("mail: tls handshake: %w", err)
		}
		conn = tlsConn
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mail: smtp client: %w", err)
	}
	defer func() {
		client.Quit()
		conn.Close()
	}()

	if m.cfg.Port != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
				return fmt.Errorf("mail: starttls: %w", err)
			}
		}
	}

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("mail: MAIL FROM: %w", err)
	}
	if err := client.Rcpt(m.cfg.To); err != nil {
		return fmt.Errorf("mail: RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mail: DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mail: close body: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
