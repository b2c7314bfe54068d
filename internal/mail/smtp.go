package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"

	"go.uber.org/zap"
)

// SMTPConfig configures the SMTP transport. Empty Username disables auth.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPTransport sends through an SMTP relay. 5xx replies are permanent.
type SMTPTransport struct {
	addr     string
	auth     smtp.Auth
	sendMail sendMailFunc
	logger   *zap.Logger
}

// NewSMTPTransport creates a transport for cfg.
func NewSMTPTransport(cfg SMTPConfig, logger *zap.Logger) *SMTPTransport {
	t := &SMTPTransport{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		sendMail: smtp.SendMail,
		logger:   logger,
	}
	if cfg.Username != "" {
		t.auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return t
}

// Send delivers env. net/smtp has no context support, so ctx is only checked
// before dialing.
func (t *SMTPTransport) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := BuildMIME(env)
	if err != nil {
		return Permanent(err)
	}

	if err := t.sendMail(t.addr, t.auth, env.From, env.To, raw); err != nil {
		var reply *textproto.Error
		if errors.As(err, &reply) && reply.Code >= 500 {
			return Permanent(fmt.Errorf("smtp send failed: %w", err))
		}
		return fmt.Errorf("smtp send failed: %w", err)
	}

	t.logger.Info("email sent via SMTP",
		zap.String("addr", t.addr),
		zap.Strings("to", env.To),
	)
	return nil
}
