// Package mailer adapts an SMTP endpoint behind a small session interface:
// a staged dial (resolve, connect, greeting, optional STARTTLS, optional
// auth), a NOOP liveness probe, and message submission with one attachment.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	UseSSL   bool // implicit TLS from the first byte
	UseTLS   bool // opportunistic STARTTLS upgrade (ignored when UseSSL)
	Timeout  time.Duration

	// TLSConfig overrides the client TLS configuration for both implicit
	// TLS and STARTTLS. Nil means verify against Host.
	TLSConfig *tls.Config
}

func (o Options) tlsConfig() *tls.Config {
	if o.TLSConfig != nil {
		return o.TLSConfig
	}
	return &tls.Config{ServerName: o.Host}
}

// Session is a transient, single-use SMTP connection. It is bound to one
// job's send phase and never reused after Quit or Close.
type Session interface {
	Noop() error
	Send(msg *Message) error
	Quit() error
	Close() error
}

type session struct {
	c *smtp.Client
}

// Dial establishes an authenticated SMTP session. Each stage fails with a
// distinct error so operators can tell DNS, connect, greeting, TLS upgrade
// and auth problems apart. The password never appears in errors.
func Dial(ctx context.Context, opts Options) (Session, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))

	stage := time.Now()
	if _, err := net.DefaultResolver.LookupHost(ctx, opts.Host); err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	slog.Debug("smtp resolve", "addr", addr, "duration", time.Since(stage).String())

	dialer := &net.Dialer{Timeout: opts.Timeout}
	var (
		conn net.Conn
		err  error
	)
	stage = time.Now()
	if opts.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: opts.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect (ssl) %s: %w", addr, err)
		}
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", addr, err)
		}
	}
	slog.Debug("smtp connect", "addr", addr, "ssl", opts.UseSSL, "duration", time.Since(stage).String())

	var c *smtp.Client
	if opts.UseTLS && !opts.UseSSL {
		// NewClientStartTLS greets, upgrades and re-greets over the
		// encrypted channel in one step.
		stage = time.Now()
		c, err = smtp.NewClientStartTLS(conn, opts.tlsConfig())
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("starttls upgrade: %w", err)
		}
		c.CommandTimeout = opts.Timeout
		c.SubmissionTimeout = opts.Timeout
		slog.Debug("smtp starttls", "addr", addr, "duration", time.Since(stage).String())
	} else {
		c = smtp.NewClient(conn)
		c.CommandTimeout = opts.Timeout
		c.SubmissionTimeout = opts.Timeout

		stage = time.Now()
		if err := c.Hello(localName()); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("greeting: %w", err)
		}
		slog.Debug("smtp greeting", "addr", addr, "duration", time.Since(stage).String())
	}

	if opts.Username != "" {
		stage = time.Now()
		if err := c.Auth(sasl.NewPlainClient("", opts.Username, opts.Password)); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("auth as %s: %w", opts.Username, err)
		}
		slog.Debug("smtp auth", "addr", addr, "user", opts.Username, "duration", time.Since(stage).String())
	}

	return &session{c: c}, nil
}

func (s *session) Noop() error { return s.c.Noop() }

func (s *session) Send(msg *Message) error {
	if err := s.c.Mail(msg.From, nil); err != nil {
		return fmt.Errorf("mail from %s: %w", msg.From, err)
	}
	for _, rcpt := range msg.Recipients() {
		if err := s.c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt %s: %w", rcpt, err)
		}
	}
	wc, err := s.c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if err := msg.Render(wc); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write message: %w", err)
	}
	return wc.Close()
}

func (s *session) Quit() error { return s.c.Quit() }

func (s *session) Close() error { return s.c.Close() }

func localName() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}
