package models

import (
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	return s == StatusPending || s == StatusCompleted
}

type Task struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	Owner       string     `json:"owner" gorm:"column:owner_id;not null;index"`
	Title       string     `json:"title" gorm:"not null"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status" gorm:"not null;default:'pending';index"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"autoCreateTime:false;index"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

func (Task) TableName() string {
	return "tasks"
}

func (t *Task) IsCompleted() bool {
	return t.Status == StatusCompleted
}

var ErrInvalidDate = errors.New("due date must be YYYY-MM-DD or RFC 3339")

// ParseDueDate accepts a calendar date or an RFC 3339 timestamp and returns
// midnight UTC of that calendar date.
func ParseDueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return TruncateToDay(t), nil
}

func TruncateToDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
