package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func newTestPublisher() *Publisher {
	return NewPublisher(NewMemoryStore(), WithHTTPClient(&http.Client{Timeout: 2 * time.Second}))
}

func subscribe(t *testing.T, p *Publisher, url, tenant string, eventTypes []string) *Subscription {
	t.Helper()
	sub, err := p.Subscribe(context.Background(), url, "shared-secret", tenant, eventTypes)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return sub
}

// receiver collects delivered events together with their signature headers.
type receiver struct {
	mu      sync.Mutex
	bodies  [][]byte
	sigs    []string
	respond int
	server  *httptest.Server
}

func newReceiver(respond int) *receiver {
	r := &receiver{respond: respond}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.sigs = append(r.sigs, req.Header.Get("X-Event-Signature"))
		code := r.respond
		r.mu.Unlock()
		w.WriteHeader(code)
	}))
	return r
}

func (r *receiver) setRespond(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.respond = code
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func escalationEvent(tenant string) ChangeEvent {
	return ChangeEvent{
		ID:         "evt-1",
		Type:       EventEscalationTriggered,
		EntityKind: "escalation",
		EntityID:   "esc-1",
		TenantID:   tenant,
		Payload:    json.RawMessage(`{"level":2}`),
		Timestamp:  time.Now(),
	}
}

// -- Registration --

func TestSubscribe_GeneratesSecretWhenEmpty(t *testing.T) {
	p := newTestPublisher()
	sub, err := p.Subscribe(context.Background(), "https://example.com/hook", "", "clinic_a", []string{"*.triggered"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Secret) != 64 {
		t.Errorf("expected a 32-byte hex secret, got %d chars", len(sub.Secret))
	}
	if sub.Status != SubscriptionActive {
		t.Errorf("status = %q, want active", sub.Status)
	}
}

func TestSubscribe_RejectsBadURLs(t *testing.T) {
	p := newTestPublisher()
	for _, raw := range []string{"", "ftp://example.com/hook", "://broken"} {
		if _, err := p.Subscribe(context.Background(), raw, "s", "clinic_a", nil); err == nil {
			t.Errorf("expected error for url %q", raw)
		}
	}
}

// -- Pattern matching --

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern, eventType string
		want               bool
	}{
		{EventEscalationTriggered, EventEscalationTriggered, true},
		{EventEscalationTriggered, EventEscalationResolved, false},
		{"escalation.*", EventEscalationTriggered, true},
		{"escalation.*", EventFollowupCreated, false},
		{"*.created", EventFollowupCreated, true},
		{"*.created", EventReminderGenerated, false},
		{"*", EventFollowupCreated, false},
	}
	for _, tt := range tests {
		if got := matches(tt.pattern, tt.eventType); got != tt.want {
			t.Errorf("matches(%q, %q) = %v, want %v", tt.pattern, tt.eventType, got, tt.want)
		}
	}
}

// -- Delivery --

func TestPublish_DeliversSignedPayload(t *testing.T) {
	rcv := newReceiver(http.StatusOK)
	defer rcv.server.Close()

	p := newTestPublisher()
	sub := subscribe(t, p, rcv.server.URL, "clinic_a", []string{"escalation.*"})

	results := p.Publish(context.Background(), escalationEvent("clinic_a"))
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("unexpected results: %+v", results)
	}
	if rcv.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", rcv.count())
	}

	sig := rcv.sigs[0]
	if len(sig) < 8 || sig[:7] != "sha256=" {
		t.Fatalf("unexpected signature header %q", sig)
	}
	if !VerifySignature(rcv.bodies[0], sub.Secret, sig[7:]) {
		t.Error("delivered signature does not verify against the raw body")
	}

	var got ChangeEvent
	if err := json.Unmarshal(rcv.bodies[0], &got); err != nil {
		t.Fatalf("decode delivered event: %v", err)
	}
	if got.Type != EventEscalationTriggered || got.TenantID != "clinic_a" {
		t.Errorf("unexpected event on the wire: %+v", got)
	}
}

func TestPublish_SkipsOtherTenantsAndPaused(t *testing.T) {
	rcv := newReceiver(http.StatusOK)
	defer rcv.server.Close()

	p := newTestPublisher()
	subscribe(t, p, rcv.server.URL, "clinic_b", []string{"escalation.*"})
	paused := subscribe(t, p, rcv.server.URL, "clinic_a", []string{"escalation.*"})
	if err := p.Pause(context.Background(), paused.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if results := p.Publish(context.Background(), escalationEvent("clinic_a")); len(results) != 0 {
		t.Fatalf("expected no deliveries, got %+v", results)
	}
	if rcv.count() != 0 {
		t.Errorf("expected receiver untouched, got %d deliveries", rcv.count())
	}

	// Resuming brings the subscriber back.
	if err := p.Resume(context.Background(), paused.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if results := p.Publish(context.Background(), escalationEvent("clinic_a")); len(results) != 1 {
		t.Fatalf("expected 1 delivery after resume, got %+v", results)
	}
}

func TestPublish_NonMatchingEventTypeSkipped(t *testing.T) {
	rcv := newReceiver(http.StatusOK)
	defer rcv.server.Close()

	p := newTestPublisher()
	subscribe(t, p, rcv.server.URL, "clinic_a", []string{EventFollowupCreated})

	if results := p.Publish(context.Background(), escalationEvent("clinic_a")); len(results) != 0 {
		t.Fatalf("expected no deliveries for a non-matching type, got %+v", results)
	}
}

func TestPublish_Non2xxLoggedAsFailed(t *testing.T) {
	rcv := newReceiver(http.StatusBadGateway)
	defer rcv.server.Close()

	p := newTestPublisher()
	sub := subscribe(t, p, rcv.server.URL, "clinic_a", []string{"escalation.*"})

	results := p.Publish(context.Background(), escalationEvent("clinic_a"))
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected a failed result, got %+v", results)
	}

	log, total, err := p.DeliveryLog(context.Background(), sub.ID, 10, 0)
	if err != nil {
		t.Fatalf("delivery log: %v", err)
	}
	if total != 1 || log[0].Status != DeliveryFailed || log[0].StatusCode != http.StatusBadGateway {
		t.Errorf("unexpected log entry: total=%d %+v", total, log[0])
	}
}

func TestRetryDelivery_ReplaysOriginalPayload(t *testing.T) {
	rcv := newReceiver(http.StatusInternalServerError)
	defer rcv.server.Close()

	p := newTestPublisher()
	sub := subscribe(t, p, rcv.server.URL, "clinic_a", []string{"escalation.*"})
	p.Publish(context.Background(), escalationEvent("clinic_a"))

	log, _, _ := p.DeliveryLog(context.Background(), sub.ID, 10, 0)
	if len(log) != 1 {
		t.Fatalf("expected 1 logged attempt, got %d", len(log))
	}

	// Subscriber recovers; the retried attempt carries the same event with
	// a bumped counter.
	rcv.setRespond(http.StatusOK)
	attempt, err := p.RetryDelivery(context.Background(), log[0].ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if attempt.Status != DeliverySuccess || attempt.Attempt != 2 {
		t.Errorf("unexpected retried attempt: %+v", attempt)
	}
	if rcv.count() != 2 {
		t.Fatalf("expected 2 posts total, got %d", rcv.count())
	}
	if string(rcv.bodies[0]) != string(rcv.bodies[1]) {
		t.Error("retried payload differs from the original")
	}
}

func TestTestSubscription_SyntheticEvent(t *testing.T) {
	rcv := newReceiver(http.StatusOK)
	defer rcv.server.Close()

	p := newTestPublisher()
	sub := subscribe(t, p, rcv.server.URL, "clinic_a", []string{EventFollowupCreated})

	attempt, err := p.TestSubscription(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("test subscription: %v", err)
	}
	if attempt.Status != DeliverySuccess || attempt.EventType != "subscription.test" {
		t.Errorf("unexpected attempt: %+v", attempt)
	}
}

func TestPublish_UnreachableSubscriberDoesNotError(t *testing.T) {
	p := newTestPublisher()
	subscribe(t, p, "http://127.0.0.1:1/hook", "clinic_a", []string{"escalation.*"})

	results := p.Publish(context.Background(), escalationEvent("clinic_a"))
	if len(results) != 1 || results[0].Success {
		t.Fatalf("expected a failed result for an unreachable subscriber, got %+v", results)
	}
}

// -- Store --

func TestMemoryStore_DeleteAndPagination(t *testing.T) {
	p := newTestPublisher()
	for i := 0; i < 5; i++ {
		subscribe(t, p, "https://example.com/hook", "clinic_a", []string{"escalation.*"})
	}
	other := subscribe(t, p, "https://example.com/hook", "clinic_b", []string{"escalation.*"})

	subs, total, err := p.List(context.Background(), "clinic_a", 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(subs) != 2 {
		t.Fatalf("expected total 5 page 2, got total=%d page=%d", total, len(subs))
	}

	if err := p.Delete(context.Background(), other.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := p.Get(context.Background(), other.ID); err == nil {
		t.Error("expected deleted subscription to be gone")
	}
	if err := p.Delete(context.Background(), other.ID); err == nil {
		t.Error("expected error deleting twice")
	}
}
