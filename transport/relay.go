package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"gopkg.in/gomail.v2"
)

// relay is the production Mailer. It speaks SMTP over a connection bound
// to the send's context: an expired or canceled ctx aborts the dial and any
// blocked read or write, so a send never outlives its caller.
type relay struct {
	host     string
	addr     string
	username string
	password string
	implicit bool
	tls      *tls.Config
	dialer   net.Dialer
}

func newRelay(cfg SMTPConfig) *relay {
	tc := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	if cfg.InsecureSkipVerify {
		// #nosec G402 -- opt-in for local test relays.
		tc.InsecureSkipVerify = true
	}
	return &relay{
		host:     cfg.Host,
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username: cfg.Username,
		password: cfg.Password,
		implicit: cfg.Port == 465,
		tls:      tc,
	}
}

// Send delivers m in one SMTP session. Once the final DATA reply is in, the
// message counts as delivered even if QUIT fails.
func (r *relay) Send(ctx context.Context, m *gomail.Message) (err error) {
	raw, err := r.dialer.DialContext(ctx, "tcp", r.addr)
	if err != nil {
		return err
	}
	defer raw.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = raw.SetDeadline(time.Unix(1, 0)) })
	defer stop()
	defer func() {
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
	}()

	conn := raw
	if r.implicit {
		conn = tls.Client(raw, r.tls)
	}
	c, err := smtp.NewClient(conn, r.host)
	if err != nil {
		return err
	}
	if ok, _ := c.Extension("STARTTLS"); ok && !r.implicit {
		if err := c.StartTLS(r.tls); err != nil {
			return err
		}
	}
	if r.username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", r.username, r.password, r.host)); err != nil {
				return err
			}
		}
	}

	// gomail flattens sender errors with %v; keep the original so reply
	// codes survive classification.
	var sendErr error
	err = gomail.Send(gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
		sendErr = transact(c, from, to, msg)
		return sendErr
	}), m)
	if sendErr != nil {
		return sendErr
	}
	if err != nil {
		return err
	}
	_ = c.Quit()
	return nil
}

func transact(c *smtp.Client, from string, to []string, msg io.WriterTo) error {
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
