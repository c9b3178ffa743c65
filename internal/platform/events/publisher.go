package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignPayload returns the hex-encoded HMAC-SHA256 of payload under secret.
// Subscribers recompute it from the raw request body to authenticate the
// sender.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret,
// in constant time.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// Publisher registers subscriptions and delivers change events to them.
type Publisher struct {
	store  Store
	client *http.Client
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithHTTPClient overrides the delivery HTTP client, mainly so tests can
// shorten the timeout.
func WithHTTPClient(c *http.Client) PublisherOption {
	return func(p *Publisher) { p.client = c }
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Subscribe validates and persists a new subscription. An empty secret is
// replaced with a random one, returned exactly once on this response.
func (p *Publisher) Subscribe(ctx context.Context, rawURL, secret, tenantID string, eventTypes []string) (*Subscription, error) {
	if err := checkSubscriberURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		secret = hex.EncodeToString(b)
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Secret:    secret,
		Events:    eventTypes,
		TenantID:  tenantID,
		Status:    SubscriptionActive,
		CreatedAt: time.Now(),
		Metadata:  map[string]string{},
	}
	if err := p.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func checkSubscriberURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
}

// Get returns one subscription.
func (p *Publisher) Get(ctx context.Context, id string) (*Subscription, error) {
	return p.store.GetSubscription(ctx, id)
}

// List returns the tenant's subscriptions with the total count.
func (p *Publisher) List(ctx context.Context, tenantID string, limit, offset int) ([]*Subscription, int, error) {
	return p.store.ListSubscriptions(ctx, tenantID, limit, offset)
}

// Update persists a modified subscription.
func (p *Publisher) Update(ctx context.Context, sub *Subscription) error {
	return p.store.UpdateSubscription(ctx, sub)
}

// Delete removes a subscription. Its delivery log remains.
func (p *Publisher) Delete(ctx context.Context, id string) error {
	return p.store.DeleteSubscription(ctx, id)
}

// setStatus flips a subscription between active and paused.
func (p *Publisher) setStatus(ctx context.Context, id, status string) error {
	sub, err := p.store.GetSubscription(ctx, id)
	if err != nil {
		return err
	}
	sub.Status = status
	return p.store.UpdateSubscription(ctx, sub)
}

// Pause stops deliveries to a subscription without losing it.
func (p *Publisher) Pause(ctx context.Context, id string) error {
	return p.setStatus(ctx, id, SubscriptionPaused)
}

// Resume re-enables a paused subscription.
func (p *Publisher) Resume(ctx context.Context, id string) error {
	return p.setStatus(ctx, id, SubscriptionActive)
}

// matches reports whether a subscription pattern covers an event type.
// Patterns are exact ("reminder.responded"), entity-wide ("reminder.*"),
// or action-wide ("*.responded").
func matches(pattern, eventType string) bool {
	switch {
	case pattern == eventType:
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(eventType, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(eventType, strings.TrimPrefix(pattern, "*"))
	default:
		return false
	}
}

func wantsEvent(sub *Subscription, eventType string) bool {
	for _, pattern := range sub.Events {
		if matches(pattern, eventType) {
			return true
		}
	}
	return false
}

// Publish delivers event to every active, matching subscription of the
// event's tenant. Delivery is synchronous and best-effort; failures land in
// the delivery log, never back in the domain transaction.
func (p *Publisher) Publish(ctx context.Context, event ChangeEvent) []DeliveryResult {
	subs, _, err := p.store.ListSubscriptions(ctx, event.TenantID, 1000, 0)
	if err != nil {
		return nil
	}

	var results []DeliveryResult
	for _, sub := range subs {
		if sub.Status != SubscriptionActive || !wantsEvent(sub, event.Type) {
			continue
		}
		attempt := p.deliver(ctx, sub, event, 1)
		results = append(results, DeliveryResult{
			SubscriptionID: sub.ID,
			Success:        attempt.Status == DeliverySuccess,
			StatusCode:     attempt.StatusCode,
			Error:          attempt.Error,
		})
	}
	return results
}

// deliver signs the payload, POSTs it, and records exactly one log entry.
func (p *Publisher) deliver(ctx context.Context, sub *Subscription, event ChangeEvent, attemptNo int) *DeliveryAttempt {
	payload, _ := json.Marshal(event)
	now := time.Now()

	attempt := &DeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		EventType:      event.Type,
		EventID:        event.ID,
		Payload:        payload,
		Signature:      SignPayload(payload, sub.Secret),
		Attempt:        attemptNo,
		CreatedAt:      now,
	}
	defer p.store.RecordDelivery(ctx, attempt)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		attempt.Status = DeliveryFailed
		attempt.Error = err.Error()
		return attempt
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Signature", "sha256="+attempt.Signature)
	req.Header.Set("X-Subscription-ID", sub.ID)
	req.Header.Set("X-Event-Timestamp", now.UTC().Format(time.RFC3339))

	start := time.Now()
	resp, err := p.client.Do(req)
	attempt.Duration = time.Since(start)
	if err != nil {
		attempt.Status = DeliveryFailed
		attempt.Error = err.Error()
		return attempt
	}
	defer resp.Body.Close()

	attempt.StatusCode = resp.StatusCode
	// Keep at most 1KB of the subscriber's response for the log.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	attempt.ResponseBody = string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		attempt.Status = DeliverySuccess
	} else {
		attempt.Status = DeliveryFailed
		attempt.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
	}
	return attempt
}

// RetryDelivery re-delivers a logged attempt with the original payload and
// a bumped attempt counter. Operator action; the publisher never retries on
// its own.
func (p *Publisher) RetryDelivery(ctx context.Context, deliveryID string) (*DeliveryAttempt, error) {
	original, err := p.store.GetDelivery(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	sub, err := p.store.GetSubscription(ctx, original.SubscriptionID)
	if err != nil {
		return nil, err
	}

	var event ChangeEvent
	if err := json.Unmarshal(original.Payload, &event); err != nil {
		return nil, fmt.Errorf("unmarshal original payload: %w", err)
	}
	return p.deliver(ctx, sub, event, original.Attempt+1), nil
}

// TestSubscription posts a synthetic event so an operator can verify
// connectivity and the subscriber's signature handling.
func (p *Publisher) TestSubscription(ctx context.Context, subscriptionID string) (*DeliveryAttempt, error) {
	sub, err := p.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return p.deliver(ctx, sub, ChangeEvent{
		ID:         uuid.NewString(),
		Type:       "subscription.test",
		EntityKind: "subscription",
		EntityID:   sub.ID,
		TenantID:   sub.TenantID,
		Payload:    json.RawMessage(`{"test":true}`),
		Timestamp:  time.Now(),
	}, 1), nil
}

// DeliveryLog returns the paginated delivery attempts for a subscription.
func (p *Publisher) DeliveryLog(ctx context.Context, subscriptionID string, limit, offset int) ([]*DeliveryAttempt, int, error) {
	return p.store.ListDeliveries(ctx, subscriptionID, limit, offset)
}
