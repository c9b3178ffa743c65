// Package events pushes engine state changes to registered HTTP
// subscribers, so dashboards and upstream collaborators refresh without
// polling. Payloads are HMAC-SHA256 signed and every delivery attempt is
// logged.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	EventReminderGenerated   = "reminder.generated"
	EventReminderResponded   = "reminder.responded"
	EventFollowupCreated     = "followup.created"
	EventFollowupCompleted   = "followup.completed"
	EventEscalationTriggered = "escalation.triggered"
	EventEscalationResolved  = "escalation.resolved"
)

// Subscription statuses.
const (
	SubscriptionActive = "active"
	SubscriptionPaused = "paused"
)

// Delivery attempt statuses.
const (
	DeliverySuccess = "success"
	DeliveryFailed  = "failed"
)

// ChangeEvent is one engine state change on its way to subscribers.
type ChangeEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id"`
	PatientID  string          `json:"patient_id,omitempty"`
	TenantID   string          `json:"tenant_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Subscription is a registered destination for change events.
type Subscription struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Secret    string            `json:"secret,omitempty"`
	Events    []string          `json:"events"`
	TenantID  string            `json:"tenant_id"`
	Status    string            `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// DeliveryAttempt is the log entry for one POST to one subscriber.
type DeliveryAttempt struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	EventType      string        `json:"event_type"`
	EventID        string        `json:"event_id"`
	Payload        []byte        `json:"payload"`
	Signature      string        `json:"signature"`
	StatusCode     int           `json:"status_code"`
	ResponseBody   string        `json:"response_body"`
	Duration       time.Duration `json:"duration_ns"`
	Attempt        int           `json:"attempt"`
	Status         string        `json:"status"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DeliveryResult is the per-subscriber outcome a Publish call reports back
// to the domain caller.
type DeliveryResult struct {
	SubscriptionID string `json:"subscription_id"`
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code"`
	Error          string `json:"error,omitempty"`
}

// Store persists subscriptions and their delivery log.
type Store interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, tenantID string, limit, offset int) ([]*Subscription, int, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	RecordDelivery(ctx context.Context, attempt *DeliveryAttempt) error
	ListDeliveries(ctx context.Context, subscriptionID string, limit, offset int) ([]*DeliveryAttempt, int, error)
	GetDelivery(ctx context.Context, id string) (*DeliveryAttempt, error)
}

// MemoryStore is a Store backed by process memory. Subscriptions do not
// survive a restart; durable subscriber registries can implement Store
// against the database.
type MemoryStore struct {
	mu         sync.RWMutex
	subs       []*Subscription
	deliveries []*DeliveryAttempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return nil
}

func (s *MemoryStore) findSubscription(id string) (int, *Subscription) {
	for i, sub := range s.subs {
		if sub.ID == id {
			return i, sub
		}
	}
	return -1, nil
}

func (s *MemoryStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, sub := s.findSubscription(id); sub != nil {
		return sub, nil
	}
	return nil, fmt.Errorf("subscription %s not found", id)
}

func (s *MemoryStore) ListSubscriptions(_ context.Context, tenantID string, limit, offset int) ([]*Subscription, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Subscription
	for _, sub := range s.subs {
		if tenantID == "" || sub.TenantID == tenantID {
			matched = append(matched, sub)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.findSubscription(sub.ID)
	if found == nil {
		return fmt.Errorf("subscription %s not found", sub.ID)
	}
	s.subs[i] = sub
	return nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, found := s.findSubscription(id)
	if found == nil {
		return fmt.Errorf("subscription %s not found", id)
	}
	s.subs = append(s.subs[:i], s.subs[i+1:]...)
	return nil
}

func (s *MemoryStore) RecordDelivery(_ context.Context, attempt *DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, attempt)
	return nil
}

func (s *MemoryStore) ListDeliveries(_ context.Context, subscriptionID string, limit, offset int) ([]*DeliveryAttempt, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*DeliveryAttempt
	for _, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			matched = append(matched, d)
		}
	}
	return page(matched, limit, offset), len(matched), nil
}

func (s *MemoryStore) GetDelivery(_ context.Context, id string) (*DeliveryAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.deliveries {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("delivery %s not found", id)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
