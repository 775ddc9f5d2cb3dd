package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"

	"gopkg.in/gomail.v2"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/retry"
)

// SMTPProvider delivers EMAIL notifications directly over SMTP. The
// dispatcher reroutes here, instead of GC_NOTIFY_EMAIL, once total
// attachment size exceeds the configured SMTP threshold.
type SMTPProvider struct {
	dialer             *gomail.Dialer
	from               string
	maxAttachmentBytes int64
}

// NewSMTPProvider builds an adapter bound to a single SMTP relay.
// maxAttachmentBytes is reported via Capabilities only; Send itself does
// not re-enforce it since the ingress/selector boundary already has.
func NewSMTPProvider(host string, port int, username, password, from string, maxAttachmentBytes int64) *SMTPProvider {
	return &SMTPProvider{
		dialer:             gomail.NewDialer(host, port, username, password),
		from:               from,
		maxAttachmentBytes: maxAttachmentBytes,
	}
}

func (p *SMTPProvider) Code() domain.ProviderCode { return domain.ProviderSMTP }

// Capabilities reports SMTP's role as the HTML/large-attachment escape
// hatch: it is the one adapter that accepts both.
func (p *SMTPProvider) Capabilities() Capabilities {
	return Capabilities{SupportsHTML: true, SupportsAttachments: true, MaxAttachmentBytes: p.maxAttachmentBytes}
}

// Send builds a MIME message with gomail, attaching every file in msg,
// and dials the relay synchronously. gomail does not accept a context, so
// Send returns promptly as long as the relay itself is responsive; a
// wedged relay is bounded by the dialer's own network timeouts.
func (p *SMTPProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if len(msg.Recipients) == 0 {
		return nil, retry.NewPermanent(fmt.Errorf("no recipients"))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)

	contentType := "text/plain"
	if msg.IsHTML {
		contentType = "text/html"
	}
	m.SetBody(contentType, msg.Body)

	for _, a := range msg.Attachments {
		attachment := a
		m.Attach(attachment.FileName, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(attachment.FileBytes)
			return err
		}))
	}

	if err := p.dialer.DialAndSend(m); err != nil {
		if isPermanentSMTPError(err) {
			return nil, retry.NewPermanent(fmt.Errorf("smtp send rejected: %w", err))
		}
		return nil, retry.NewTransient(fmt.Errorf("smtp send failed: %w", err))
	}

	return &Result{ResponseID: msg.NotificationID}, nil
}

// isPermanentSMTPError reports whether err is a textproto.Error carrying a
// 5xx reply code (permanent failure per RFC 5321), as opposed to a 4xx or
// connection-level failure, which is worth retrying.
func isPermanentSMTPError(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 500 && protoErr.Code < 600
	}
	return false
}

var _ Provider = (*SMTPProvider)(nil)
