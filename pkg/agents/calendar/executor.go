// Package calendar implements a deterministic stand-in for
// calendar_agent.schedule_kickoff. Kickoff scheduling has no natural
// hosted-LLM shape — it is a calendar-system integration, out of scope
// per the vendor-connector non-goal — so this executor picks the next
// business day instead of calling out to a real calendar.
package calendar

import (
	"context"
	"time"

	"researchflow/pkg/agentadapter"
	"researchflow/pkg/utils"
)

// Executor always schedules the kickoff meeting leadDays ahead of the
// invocation time, skipping weekends, and always succeeds.
type Executor struct {
	leadDays int
}

// New builds an Executor that schedules leadDays business days out. A
// non-positive leadDays falls back to 2.
func New(leadDays int) *Executor {
	if leadDays <= 0 {
		leadDays = 2
	}
	return &Executor{leadDays: leadDays}
}

// Execute implements agentadapter.Executor.
func (e *Executor) Execute(_ context.Context, _ agentadapter.Task, input map[string]any) (map[string]any, error) {
	scheduledAt := nextBusinessDays(time.Now().UTC(), e.leadDays)

	attendees := []string{"researcher@example.org"}
	if researcher, err := utils.GetMapField[map[string]any](input, "researcher"); err == nil {
		if email := utils.GetMapFieldOr(researcher, "email", ""); email != "" {
			attendees = []string{email}
		}
	}

	return map[string]any{
		"kickoff_meeting": map[string]any{
			"scheduled_at": scheduledAt,
			"attendees":    attendees,
			"agenda":       "Project kickoff: review requirements and phenotype before extraction begins.",
		},
	}, nil
}

func nextBusinessDays(from time.Time, days int) time.Time {
	d := from
	remaining := days
	for remaining > 0 {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			remaining--
		}
	}
	return d
}
