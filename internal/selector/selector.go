// Package selector maps a notification to the provider that should carry
// it. Selection is a pure function of the notification's own fields: no
// I/O, no clock, no randomness, so the same notification always selects
// the same provider and the decision can be unit tested without a
// database.
package selector

import (
	"strings"

	"github.com/notifyhub/notify-core/internal/domain"
)

// Config carries the tunables selection depends on: which RequestBy
// values route to HOUSING, and the attachment-size threshold above which
// an EMAIL notification must go out over SMTP instead of GC Notify.
type Config struct {
	HousingRequesters  map[string]bool
	SMTPThresholdBytes int64
}

// DefaultConfig routes no requester to HOUSING and uses a 6 MiB SMTP
// attachment threshold; call sites should build a Config from environment
// configuration instead of relying on this in production.
func DefaultConfig() Config {
	return Config{HousingRequesters: map[string]bool{}, SMTPThresholdBytes: 6 * 1024 * 1024}
}

// Select applies, in order, the four routing rules from the notification
// delivery policy:
//
//  1. A RequestBy value registered as a HOUSING requester always routes to
//     HOUSING, regardless of Type, HTML, or attachment size.
//  2. An HTML body, or a total attachment size exceeding the SMTP
//     threshold, routes to SMTP — GC Notify cannot render HTML and caps
//     message size.
//  3. A TEXT notification routes to GC_NOTIFY_SMS.
//  4. Otherwise, GC_NOTIFY_EMAIL.
func Select(cfg Config, n domain.Notification) domain.ProviderCode {
	if cfg.HousingRequesters[normalizeRequester(n.RequestBy)] {
		return domain.ProviderHousing
	}

	if n.Content.IsHTML || n.Content.TotalAttachmentBytes() > cfg.SMTPThresholdBytes {
		return domain.ProviderSMTP
	}

	if n.Type == domain.TypeText {
		return domain.ProviderGCNotifySMS
	}

	return domain.ProviderGCNotifyEmail
}

func normalizeRequester(requestBy string) string {
	return strings.ToUpper(strings.TrimSpace(requestBy))
}
