package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/retry"
)

// gcNotifyRequest is the JSON body posted to the GC Notify API.
type gcNotifyRequest struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body"`
}

// gcNotifyResponse maps GC Notify's 202 Accepted response body.
type gcNotifyResponse struct {
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
}

// GCNotifyProvider delivers notifications by POSTing to a GC Notify
// endpoint. The same client shape serves both the EMAIL and SMS variants;
// only the endpoint URL, the reported Code, and the per-call recipient
// shape differ.
type GCNotifyProvider struct {
	code       domain.ProviderCode
	baseURL    string
	apiKey     string
	httpClient *http.Client
	sem        *semaphore.Weighted
}

// NewGCNotifyProvider builds an adapter bound to a specific GC Notify
// channel. maxConcurrent bounds the number of in-flight requests this
// adapter will issue at once, independent of the dispatcher's worker count.
func NewGCNotifyProvider(code domain.ProviderCode, baseURL, apiKey string, timeout time.Duration, maxConcurrent int64) *GCNotifyProvider {
	return &GCNotifyProvider{
		code:       code,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		sem:        semaphore.NewWeighted(maxConcurrent),
	}
}

func (p *GCNotifyProvider) Code() domain.ProviderCode { return p.code }

// Capabilities reports GC Notify's fixed limits: neither channel accepts
// HTML or attachments, and only the SMS code handles text messages.
func (p *GCNotifyProvider) Capabilities() Capabilities {
	return Capabilities{
		SupportsSMS: p.code == domain.ProviderGCNotifySMS,
	}
}

// Send dispatches to the EMAIL or SMS shape depending on which channel
// this adapter was constructed for. The Selector is trusted to have
// routed HTML/oversize messages to SMTP instead; Send still rejects them
// defensively so a routing bug surfaces as a clear PermanentError rather
// than a GC Notify API rejection.
func (p *GCNotifyProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	if p.code == domain.ProviderGCNotifySMS {
		return p.sendSMS(ctx, msg)
	}
	return p.sendEmail(ctx, msg)
}

func (p *GCNotifyProvider) sendEmail(ctx context.Context, msg Message) (*Result, error) {
	if msg.IsHTML {
		return nil, retry.NewPermanent(fmt.Errorf("gc notify email does not support HTML bodies"))
	}
	if len(msg.Attachments) > 0 {
		return nil, retry.NewPermanent(fmt.Errorf("gc notify email does not support attachments"))
	}
	return p.post(ctx, msg.Recipients, msg.Subject, msg.Body)
}

// sendSMS places one call per recipient, since the GC Notify SMS endpoint
// accepts a single destination number. It fails fast: the first error,
// permanent or transient, stops the loop and is returned so the
// dispatcher can classify and — for a transient error — retry the whole
// notification rather than leave some recipients silently unsent.
func (p *GCNotifyProvider) sendSMS(ctx context.Context, msg Message) (*Result, error) {
	if len(msg.Recipients) == 0 {
		return nil, retry.NewPermanent(fmt.Errorf("no recipients"))
	}

	responseIDs := make([]string, 0, len(msg.Recipients))
	for _, recipient := range msg.Recipients {
		res, err := p.post(ctx, []string{recipient}, "", msg.Body)
		if err != nil {
			return nil, err
		}
		responseIDs = append(responseIDs, res.ResponseID)
	}
	return &Result{ResponseID: strings.Join(responseIDs, ",")}, nil
}

// post issues a single GC Notify API call and classifies the response. A
// 202 with a notificationId is Success; 4xx (other than 429) is
// classified Fatal since the request itself is malformed or rejected;
// 429 and 5xx are Retry.
func (p *GCNotifyProvider) post(ctx context.Context, recipients []string, subject, body string) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, retry.NewTransient(fmt.Errorf("acquire send slot: %w", err))
	}
	defer p.sem.Release(1)

	reqBody, err := json.Marshal(gcNotifyRequest{
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
	})
	if err != nil {
		return nil, retry.NewPermanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, retry.NewPermanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, retry.NewTransient(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
		var parsed gcNotifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, retry.NewTransient(fmt.Errorf("decode response: %w", err))
		}
		return &Result{ResponseID: parsed.NotificationID}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.NewTransient(fmt.Errorf("rate limited by provider"))
	case resp.StatusCode >= 500:
		return nil, retry.NewTransient(fmt.Errorf("provider server error: %d", resp.StatusCode))
	default:
		return nil, retry.NewPermanent(fmt.Errorf("provider rejected request: %d", resp.StatusCode))
	}
}

var _ Provider = (*GCNotifyProvider)(nil)
