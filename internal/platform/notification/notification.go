// Package notification is the transport boundary for outbound messages.
// Email and SMS go through sender interfaces, message content comes from
// registered templates, and every send leaves a delivery record. A failed
// send is recorded with its transport error and never propagates into
// domain state transitions; callers log it and move on.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NotificationType is the delivery channel.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
	TypePush  NotificationType = "push"
)

// Delivery record statuses.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is one outbound message and its delivery record.
type Notification struct {
	ID           string            `json:"id"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Priority     string            `json:"priority"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EmailSender delivers email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Manager renders, sends, and records notifications. Delivery records live
// in memory; the record is the operator's view into what went out and what
// bounced, not a durable audit trail (that is the audit log's job).
type Manager struct {
	email EmailSender
	sms   SMSSender
	tpl   *Templates

	mu      sync.RWMutex
	byID    map[string]*Notification
	ordered []string
}

func NewManager(email EmailSender, sms SMSSender, tpl *Templates) *Manager {
	return &Manager{
		email: email,
		sms:   sms,
		tpl:   tpl,
		byID:  make(map[string]*Notification),
	}
}

// dispatch routes the message to the transport matching its type.
func (m *Manager) dispatch(ctx context.Context, n *Notification) error {
	switch n.Type {
	case TypeEmail:
		return m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	case TypeSMS:
		return m.sms.SendSMS(ctx, n.Recipient, n.Body)
	default:
		return fmt.Errorf("no transport for notification type %q", n.Type)
	}
}

// record stores the outcome of a dispatch on the notification.
func (m *Manager) record(n *Notification, sendErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sendErr != nil {
		n.Status = StatusFailed
		n.Error = sendErr.Error()
	} else {
		n.Status = StatusSent
		at := time.Now().UTC()
		n.SentAt = &at
		n.Error = ""
	}
	if _, known := m.byID[n.ID]; !known {
		m.ordered = append(m.ordered, n.ID)
	}
	m.byID[n.ID] = n
}

// Send dispatches n and records the outcome. The returned error is the
// transport error, if any; the record carries it either way, so callers may
// log and discard it.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Priority == "" {
		n.Priority = "normal"
	}
	n.CreatedAt = time.Now().UTC()

	sendErr := m.dispatch(ctx, n)
	m.record(n, sendErr)
	return sendErr
}

// SendFromTemplate fills the template with data and sends the result on the
// template's channel. On a transport failure the recorded notification is
// returned along with the error.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	tpl, ok := m.tpl.Lookup(templateID)
	if !ok {
		return nil, fmt.Errorf("template %q not found", templateID)
	}
	subject, body := tpl.Fill(data)

	n := &Notification{
		Type:         tpl.Type,
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	if err := m.Send(ctx, n); err != nil {
		return n, err
	}
	return n, nil
}

// Get returns the delivery record with the given id.
func (m *Manager) Get(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, nil
}

// ListByRecipient returns the recipient's delivery records, newest first,
// up to limit.
func (m *Manager) ListByRecipient(_ context.Context, recipient string, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*Notification{}
	for i := len(m.ordered) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if n := m.byID[m.ordered[i]]; n != nil && n.Recipient == recipient {
			out = append(out, n)
		}
	}
	return out, nil
}

// Retry re-dispatches a failed notification. This is an operator action;
// the manager never retries on its own.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != StatusFailed {
		return fmt.Errorf("notification %q is %s; only failed sends can be retried", id, n.Status)
	}

	sendErr := m.dispatch(ctx, n)
	m.record(n, sendErr)
	return sendErr
}

// Stats counts delivery records by status.
func (m *Manager) Stats(_ context.Context) map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, n := range m.byID {
		out[n.Status]++
	}
	return out
}
