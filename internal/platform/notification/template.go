package notification

import (
	"strings"
	"sync"
)

// Template is a reusable message with {{key}} placeholders. The channel a
// message goes out on is a property of the template, not the caller.
type Template struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Subject string           `json:"subject"`
	Body    string           `json:"body"`
	Type    NotificationType `json:"type"`
}

// Fill substitutes data into the template's subject and body. Placeholders
// without a matching key are left in place so a half-filled message is
// visible as such.
func (t *Template) Fill(data map[string]string) (subject, body string) {
	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body
}

// Templates holds the registered message templates.
type Templates struct {
	mu  sync.RWMutex
	all map[string]*Template
}

// NewTemplates returns a registry pre-loaded with the engine's built-in
// reminder, escalation, and slip messages.
func NewTemplates() *Templates {
	r := &Templates{all: make(map[string]*Template)}
	for _, t := range builtinTemplates {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a template.
func (r *Templates) Register(t Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[t.ID] = &t
}

// Lookup returns the template with the given id.
func (r *Templates) Lookup(id string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.all[id]
	return t, ok
}

var builtinTemplates = []Template{
	{
		ID:      "reminder-due",
		Name:    "Reminder Due",
		Subject: "Reminder: {{routine_name}}",
		Body:    "Hi {{patient_name}}, {{routine_name}} is scheduled for {{scheduled_time}}.",
		Type:    TypeSMS,
	},
	{
		ID:      "reminder-critical",
		Name:    "Critical Reminder",
		Subject: "Important: {{routine_name}} is due now",
		Body:    "Hi {{patient_name}}, {{routine_name}} is due now ({{scheduled_time}}). Please confirm once done.",
		Type:    TypeSMS,
	},
	{
		ID:      "followup-escalation",
		Name:    "Follow-up Escalation",
		Subject: "Escalation: follow-up for {{patient_name}} needs attention",
		Body:    "The follow-up \"{{description}}\" for {{patient_name}} is still unresolved and has reached escalation level {{level}}. Due: {{due_date}}.",
		Type:    TypeEmail,
	},
	{
		ID:      "followup-slipping",
		Name:    "Follow-up Slipping",
		Subject: "Follow-ups at risk for {{patient_name}}",
		Body:    "{{overdue_count}} of {{open_count}} open follow-ups for {{patient_name}} are past due; {{high_priority_count}} of them are high priority.",
		Type:    TypeEmail,
	},
	{
		ID:      "routine-gate-blocked",
		Name:    "Routine Gate Blocked",
		Subject: "Checklist incomplete for {{routine_name}}",
		Body:    "Hi {{patient_name}}, {{routine_name}} still has required steps open: {{missing_steps}}.",
		Type:    TypeSMS,
	},
}
