package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
)

func TestTaskStatusValid(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusCompleted, true},
		{"", false},
		{"done", false},
		{"Pending", false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTaskTableName(t *testing.T) {
	if name := (Task{}).TableName(); name != "tasks" {
		t.Errorf("Expected table name tasks, got %s", name)
	}
}

func TestTaskIsCompleted(t *testing.T) {
	task := &Task{Status: StatusPending}
	if task.IsCompleted() {
		t.Error("Expected pending task not to be completed")
	}

	task.Status = StatusCompleted
	if !task.IsCompleted() {
		t.Error("Expected completed task to be completed")
	}
}

func TestTaskJSONShape(t *testing.T) {
	created := time.Date(2026, 10, 21, 9, 30, 0, 0, time.UTC)
	task := Task{
		ID:        uuid.Must(uuid.FromString("6ba7b810-9dad-11d1-80b4-00c04fd430c8")),
		Owner:     "alice",
		Title:     "Buy milk",
		Status:    StatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Failed to marshal task: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Failed to unmarshal task: %v", err)
	}

	for _, key := range []string{"id", "owner", "title", "description", "status", "createdAt", "updatedAt"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Expected key %q in %s", key, data)
		}
	}
	if _, ok := fields["dueDate"]; ok {
		t.Errorf("Expected dueDate to be omitted when nil, got %s", data)
	}
}

func TestParseDueDate(t *testing.T) {
	want := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"calendar date", "2026-10-25"},
		{"padded", "  2026-10-25 "},
		{"utc timestamp", "2026-10-25T18:45:00Z"},
		{"offset timestamp keeps its calendar date", "2026-10-25T23:30:00-05:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDueDate(tt.input)
			if err != nil {
				t.Fatalf("ParseDueDate(%q) returned error: %v", tt.input, err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseDueDate(%q) = %v, want %v", tt.input, got, want)
			}
		})
	}
}

func TestParseDueDateInvalid(t *testing.T) {
	for _, input := range []string{"", "tomorrow", "25/10/2026", "2026-13-01"} {
		if _, err := ParseDueDate(input); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ParseDueDate(%q) error = %v, want ErrInvalidDate", input, err)
		}
	}
}

func TestTruncateToDay(t *testing.T) {
	in := time.Date(2026, 10, 25, 23, 59, 59, 999, time.FixedZone("UTC+9", 9*3600))
	got := TruncateToDay(in)

	want := time.Date(2026, 10, 25, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("TruncateToDay(%v) = %v, want %v", in, got, want)
	}
}
