package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

type Status string

const (
	StatusActive    Status = "Active"
	StatusCompleted Status = "Completed"
)

var ErrInvalidDueDate = errors.New("invalid due date")

// Date-only due dates are due at the end of their day.
const (
	endOfDayHour   = 23
	endOfDayMinute = 59
)

const dateLayout = "2006-01-02"

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

type Task struct {
	ID             string     `json:"id"`
	Title          string     `json:"title" validate:"required"`
	Description    string     `json:"description,omitempty"`
	Category       string     `json:"category,omitempty"`
	DueDate        string     `json:"due_date,omitempty" validate:"omitempty,duedate"`
	Priority       Priority   `json:"priority" validate:"oneof=Low Medium High"`
	Status         Status     `json:"status" validate:"oneof=Active Completed"`
	ReminderOffset *int       `json:"reminder_offset,omitempty" validate:"omitempty,min=0"` // minutes before due
	EmailReminder  bool       `json:"email_reminder,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func (t *Task) IsActive() bool {
	return t.Status != StatusCompleted
}

func (t *Task) HasDueDate() bool {
	return strings.TrimSpace(t.DueDate) != ""
}

// Offset returns the reminder offset, false when no reminder is set.
func (t *Task) Offset() (time.Duration, bool) {
	if t.ReminderOffset == nil {
		return 0, false
	}
	return time.Duration(*t.ReminderOffset) * time.Minute, true
}

// DueTime resolves the due date in loc. dateOnly is true for YYYY-MM-DD
// values, which resolve to 23:59 of that day.
func (t *Task) DueTime(loc *time.Location) (due time.Time, dateOnly bool, err error) {
	return ParseDueDate(t.DueDate, loc)
}

// DueDay returns the calendar date of the due date at midnight in loc.
func (t *Task) DueDay(loc *time.Location) (time.Time, error) {
	due, _, err := t.DueTime(loc)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := due.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
}

func ParseDueDate(raw string, loc *time.Location) (time.Time, bool, error) {
	if loc == nil {
		loc = time.Local
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false, fmt.Errorf("%w: empty", ErrInvalidDueDate)
	}

	if d, err := time.ParseInLocation(dateLayout, raw, loc); err == nil {
		y, m, day := d.Date()
		return time.Date(y, m, day, endOfDayHour, endOfDayMinute, 0, 0, loc), true, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.In(loc), false, nil
	}
	for _, layout := range dateTimeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, false, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDueDate, raw)
}

func (t *Task) PriorityEmoji() string {
	switch t.Priority {
	case PriorityHigh:
		return "🔴"
	case PriorityMedium:
		return "🟡"
	case PriorityLow:
		return "🟢"
	default:
		return "⚪"
	}
}

// TaskEventKind names a change to the task list.
type TaskEventKind string

const (
	TaskCreated   TaskEventKind = "created"
	TaskUpdated   TaskEventKind = "updated"
	TaskCompleted TaskEventKind = "completed"
	TaskReopened  TaskEventKind = "reopened"
	TaskDeleted   TaskEventKind = "deleted"
	TasksReloaded TaskEventKind = "reloaded"
)

// TaskEvent is emitted by the task store after a mutation has been applied.
// Task is the zero value for TasksReloaded.
type TaskEvent struct {
	Kind TaskEventKind
	Task Task
}

// TaskSuggestion is a task proposed from an actionable email. It is not
// stored until the user creates it.
type TaskSuggestion struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SourceEmail string   `json:"source_email"`
	Priority    Priority `json:"priority"`
	Category    string   `json:"category"`
	DueDate     string   `json:"suggested_due_date"`
}
