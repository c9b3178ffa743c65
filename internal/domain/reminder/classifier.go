package reminder

import (
	"sort"
	"time"

	"github.com/careloop/careloop/internal/domain/routine"
)

// ClassifierConfig carries the per-deployment urgency windows. They are
// explicit parameters, never package constants, because organizations tune
// them.
type ClassifierConfig struct {
	// CriticalWindow widens NOW for critical-priority items: a critical
	// reminder within this much of its scheduled time is already NOW.
	CriticalWindow time.Duration
	// NextWindow bounds the NEXT bucket: (now, now+NextWindow].
	NextWindow time.Duration
	// NextCap limits NEXT to the earliest N items; overflow lands in TODAY.
	NextCap int
}

// Classification partitions a day's live reminder instances by urgency.
type Classification struct {
	Now   []*ReminderInstance `json:"now"`
	Next  []*ReminderInstance `json:"next"`
	Today []*ReminderInstance `json:"today"`
}

// Classify buckets instances into NOW, NEXT, and TODAY at the given instant.
// Pending, sent, snoozed, and escalated instances participate; an escalated
// instance is past its scheduled time by definition, so it keeps surfacing in
// NOW until someone acts on it. A snoozed instance whose snooze_until is
// still in the future is excluded from every bucket until it resurfaces.
// Each participating instance lands in exactly one bucket.
func Classify(instances []*ReminderInstance, now time.Time, cfg ClassifierConfig) Classification {
	var live []*ReminderInstance
	for _, ri := range instances {
		switch ri.Status {
		case StatusPending, StatusSent, StatusEscalated:
		case StatusSnoozed:
			if ri.SnoozeUntil != nil && ri.SnoozeUntil.After(now) {
				continue
			}
		default:
			continue
		}
		live = append(live, ri)
	}

	cl := Classification{
		Now:   []*ReminderInstance{},
		Next:  []*ReminderInstance{},
		Today: []*ReminderInstance{},
	}

	var nextCandidates []*ReminderInstance
	for _, ri := range live {
		switch {
		case isNow(ri, now, cfg.CriticalWindow):
			cl.Now = append(cl.Now, ri)
		case ri.ScheduledAt.After(now) && !ri.ScheduledAt.After(now.Add(cfg.NextWindow)):
			nextCandidates = append(nextCandidates, ri)
		default:
			cl.Today = append(cl.Today, ri)
		}
	}

	// Critical items lead NOW; within a priority tier, earliest first.
	sort.SliceStable(cl.Now, func(i, j int) bool {
		ci := cl.Now[i].Priority == routine.PriorityCritical
		cj := cl.Now[j].Priority == routine.PriorityCritical
		if ci != cj {
			return ci
		}
		return cl.Now[i].ScheduledAt.Before(cl.Now[j].ScheduledAt)
	})

	sort.SliceStable(nextCandidates, func(i, j int) bool {
		return nextCandidates[i].ScheduledAt.Before(nextCandidates[j].ScheduledAt)
	})
	if cfg.NextCap > 0 && len(nextCandidates) > cfg.NextCap {
		cl.Next = nextCandidates[:cfg.NextCap]
		cl.Today = append(cl.Today, nextCandidates[cfg.NextCap:]...)
	} else {
		cl.Next = append(cl.Next, nextCandidates...)
	}

	sort.SliceStable(cl.Today, func(i, j int) bool {
		return cl.Today[i].ScheduledAt.Before(cl.Today[j].ScheduledAt)
	})

	return cl
}

func isNow(ri *ReminderInstance, now time.Time, criticalWindow time.Duration) bool {
	if !ri.ScheduledAt.After(now) {
		return true
	}
	return ri.Priority == routine.PriorityCritical && !ri.ScheduledAt.After(now.Add(criticalWindow))
}
