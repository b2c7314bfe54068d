// Package mail composes and delivers digest emails.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// InlinePart is a resource referenced from the HTML body by "cid:<ContentID>".
type InlinePart struct {
	ContentID   string
	Filename    string
	ContentType string
	Data        []byte
}

// Envelope is a fully rendered email.
type Envelope struct {
	From    string
	To      []string
	Subject string
	HTML    string
	Inline  []InlinePart
}

// Validate checks the fields every transport needs.
func (e Envelope) Validate() error {
	if e.From == "" {
		return errors.New("envelope is missing a sender")
	}
	if len(e.To) == 0 {
		return errors.New("envelope has no recipients")
	}
	for _, to := range e.To {
		if strings.TrimSpace(to) == "" {
			return errors.New("envelope has an empty recipient")
		}
	}
	return nil
}

// Transport delivers envelopes.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// ErrPermanent marks failures that must not be retried.
var ErrPermanent = errors.New("permanent delivery failure")

// Permanent wraps err so IsPermanent reports true.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// sanitizeHeader strips control characters so header values cannot inject
// extra headers.
func sanitizeHeader(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
