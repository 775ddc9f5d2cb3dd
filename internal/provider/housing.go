package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/notifyhub/notify-core/internal/domain"
	"github.com/notifyhub/notify-core/internal/retry"
)

// housingRequest is the JSON body posted to the HOUSING service's own
// notification endpoint.
type housingRequest struct {
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body"`
	HTML       bool     `json:"html"`
}

type housingResponse struct {
	MessageID string `json:"messageId"`
}

// HousingProvider delivers notifications routed to HOUSING/STRR by
// calling that service's own endpoint directly, authenticating with an
// OAuth2 client-credentials token rather than a static API key.
type HousingProvider struct {
	baseURL string
	client  *http.Client
}

// NewHousingProvider builds an adapter whose http.Client is backed by an
// OAuth2 client-credentials token source; the token is fetched and
// refreshed transparently by oauth2's RoundTripper.
func NewHousingProvider(baseURL, tokenURL, clientID, clientSecret string, timeout time.Duration) *HousingProvider {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	httpClient := cfg.Client(context.Background())
	httpClient.Timeout = timeout
	return &HousingProvider{baseURL: baseURL, client: httpClient}
}

func (p *HousingProvider) Code() domain.ProviderCode { return domain.ProviderHousing }

// Capabilities reports HOUSING's shape: it carries an HTML flag but has
// no attachment support. The Selector routes HOUSING requesters here
// regardless of attachments, and Send does not transmit attachments.
func (p *HousingProvider) Capabilities() Capabilities {
	return Capabilities{SupportsHTML: true}
}

// Send posts msg to the HOUSING endpoint. Classification: 2xx is success;
// 408 and 429 are transient (request timeout, rate limited); any other
// 4xx is fatal; 5xx is transient.
func (p *HousingProvider) Send(ctx context.Context, msg Message) (*Result, error) {
	body, err := json.Marshal(housingRequest{
		Recipients: msg.Recipients,
		Subject:    msg.Subject,
		Body:       msg.Body,
		HTML:       msg.IsHTML,
	})
	if err != nil {
		return nil, retry.NewPermanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, retry.NewPermanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, retry.NewTransient(fmt.Errorf("send request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var parsed housingResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, retry.NewTransient(fmt.Errorf("decode response: %w", err))
		}
		return &Result{ResponseID: parsed.MessageID}, nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, retry.NewTransient(fmt.Errorf("housing provider unavailable: %d", resp.StatusCode))
	default:
		return nil, retry.NewPermanent(fmt.Errorf("housing provider rejected request: %d", resp.StatusCode))
	}
}

var _ Provider = (*HousingProvider)(nil)
