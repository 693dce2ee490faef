package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/smtp"
	"os"
	"strings"
)

// Notifier delivers a batch report to a human.
type Notifier interface {
	Notify(ctx context.Context, subject string, r *Report) error
}

// Ensure implementations satisfy Notifier.
var (
	_ Notifier = (*EmailNotifier)(nil)
	_ Notifier = (*ConsoleNotifier)(nil)
)

// ConsoleNotifier writes the report as text tables. Used for local runs and
// as the fallback when email is not configured.
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a notifier writing to stdout.
func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: w}
}

// Notify prints the report.
func (c *ConsoleNotifier) Notify(_ context.Context, subject string, r *Report) error {
	fmt.Fprintf(c.out, "=== %s ===\n", subject)
	r.WriteTable(c.out)
	return nil
}

// EmailNotifier delivers the report as an HTML email over SMTP.
type EmailNotifier struct {
	addr     string // host:port
	user     string
	password string
	to       string
	logger   *log.Logger
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates an SMTP notifier.
func NewEmailNotifier(addr, user, password, to string, logger *log.Logger) *EmailNotifier {
	if logger == nil {
		logger = log.New(os.Stderr, "notify: ", log.LstdFlags)
	}
	return &EmailNotifier{
		addr:     addr,
		user:     user,
		password: password,
		to:       to,
		logger:   logger,
		send:     smtp.SendMail,
	}
}

// Notify sends the report. An empty report is skipped.
func (e *EmailNotifier) Notify(_ context.Context, subject string, r *Report) error {
	if r.Empty() {
		e.logger.Printf("Nothing to report, skipping email")
		return nil
	}

	host := e.addr
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	auth := smtp.PlainAuth("", e.user, e.password, host)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.user)
	fmt.Fprintf(&msg, "To: %s\r\n", e.to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(r.HTML())

	if err := e.send(e.addr, auth, e.user, []string{e.to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending report email: %w", err)
	}
	e.logger.Printf("Report emailed to %s", e.to)
	return nil
}
