// Package stats derives completion statistics from a principal's tasks.
//
// Every caller that needs a week boundary or a completion rate goes through
// this package, so the server aggregate query and client-side recomputation
// always agree.
package stats

import (
	"time"

	"taskboard/internal/models"
)

type TaskStats struct {
	Total          int64 `json:"total"`
	Completed      int64 `json:"completed"`
	Pending        int64 `json:"pending"`
	CompletionRate int64 `json:"completionRate"`
	ThisWeek       int64 `json:"thisWeek"`
}

// StartOfWeek returns midnight of the most recent Sunday (today if now is a
// Sunday) in now's location.
func StartOfWeek(now time.Time) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return midnight.AddDate(0, 0, -int(now.Weekday()))
}

// CompletionRate is completed/total as a percentage rounded half up, or 0
// for an empty set.
func CompletionRate(completed, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return (completed*200 + total) / (2 * total)
}

// Compute reduces a task list to TaskStats. now must already carry the
// location whose day boundaries define the week.
func Compute(tasks []models.Task, now time.Time) TaskStats {
	weekStart := StartOfWeek(now)

	var s TaskStats
	for i := range tasks {
		s.Total++
		switch tasks[i].Status {
		case models.StatusCompleted:
			s.Completed++
			if !tasks[i].UpdatedAt.Before(weekStart) {
				s.ThisWeek++
			}
		case models.StatusPending:
			s.Pending++
		}
	}
	s.CompletionRate = CompletionRate(s.Completed, s.Total)
	return s
}

// Finalize fills the derived fields of counts produced elsewhere, e.g. by a
// scoped aggregate query.
func Finalize(total, completed, pending, thisWeek int64) TaskStats {
	return TaskStats{
		Total:          total,
		Completed:      completed,
		Pending:        pending,
		CompletionRate: CompletionRate(completed, total),
		ThisWeek:       thisWeek,
	}
}
