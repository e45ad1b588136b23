package caldav

import "time"

// Calendar is one calendar collection on the CalDAV server.
type Calendar struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
}

// Event is a single VEVENT.
type Event struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	AllDay      bool      `json:"all_day"`
	// Reminders are exported as VALARM components.
	Reminders []Reminder `json:"reminders,omitempty"`
}

type Reminder struct {
	MinutesBefore int `json:"minutes_before"`
}
