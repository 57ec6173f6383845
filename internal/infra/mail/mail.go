// Package mail delivers bill notices over SMTP, into an mbox file, or to
// the log only.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"gopkg.in/gomail.v2"

	domainMail "membership_billing/internal/domain/mail"
)

// Config selects and configures the transport. An mbox path wins over SMTP;
// with neither, messages are only logged.
type Config struct {
	MboxPath      string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	RatePerMinute int
}

// New returns the sender described by cfg, throttled to RatePerMinute.
func New(cfg Config, log *logrus.Entry) domainMail.Sender {
	var s domainMail.Sender
	switch {
	case cfg.MboxPath != "":
		log.WithField("path", cfg.MboxPath).Info("Mail goes to mbox file")
		s = NewMboxSender(cfg.MboxPath)
	case cfg.SMTPHost != "":
		log.WithField("host", cfg.SMTPHost).Info("Mail goes to SMTP server")
		s = NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	default:
		log.Warn("No mail transport configured, notices are only logged")
		s = NewLogSender(log)
	}
	if cfg.RatePerMinute > 0 {
		s = NewThrottledSender(s, cfg.RatePerMinute)
	}
	return s
}

func buildMessage(msg domainMail.Message) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	if msg.Cc != "" {
		m.SetHeader("Cc", msg.Cc)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)
	return m
}

// SMTPSender dials the server for every message.
type SMTPSender struct {
	dialer *gomail.Dialer
}

func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{dialer: gomail.NewDialer(host, port, username, password)}
}

func (s *SMTPSender) Send(ctx context.Context, msg domainMail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(buildMessage(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// MboxSender appends messages to an mbox file.
type MboxSender struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewMboxSender(path string) *MboxSender {
	return &MboxSender{path: path, now: time.Now}
}

func (s *MboxSender) Send(_ context.Context, msg domainMail.Message) error {
	var raw bytes.Buffer
	if _, err := buildMessage(msg).WriteTo(&raw); err != nil {
		return fmt.Errorf("render message: %w", err)
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "From %s %s\n", msg.From, s.now().UTC().Format(time.ANSIC))
	for _, line := range strings.Split(strings.ReplaceAll(raw.String(), "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "From ") {
			out.WriteByte('>')
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	out.WriteByte('\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	if _, err := f.Write(out.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write mbox: %w", err)
	}
	return f.Close()
}

// LogSender only logs what would have been sent.
type LogSender struct {
	log *logrus.Entry
}

func NewLogSender(log *logrus.Entry) *LogSender {
	return &LogSender{log: log.WithField("component", "mail")}
}

func (s *LogSender) Send(_ context.Context, msg domainMail.Message) error {
	s.log.WithFields(logrus.Fields{
		"to":      msg.To,
		"cc":      msg.Cc,
		"subject": msg.Subject,
	}).Info("Mail not sent, no transport configured")
	s.log.Debug(msg.Body)
	return nil
}

// ThrottledSender limits the rate of outgoing messages. Waiting respects
// the context.
type ThrottledSender struct {
	next    domainMail.Sender
	limiter *rate.Limiter
}

func NewThrottledSender(next domainMail.Sender, perMinute int) *ThrottledSender {
	return &ThrottledSender{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (s *ThrottledSender) Send(ctx context.Context, msg domainMail.Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail throttle: %w", err)
	}
	return s.next.Send(ctx, msg)
}
