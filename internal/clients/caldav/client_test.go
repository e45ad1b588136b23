package caldav

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Apple Inc.//iCal//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup-1\r\n" +
	"DTSTAMP:20240601T080000Z\r\n" +
	"SUMMARY:Team stand-up\r\n" +
	"LOCATION:Room 4\r\n" +
	"DTSTART:20240601T090000\r\n" +
	"DTEND:20240601T091500\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const allDayICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Apple Inc.//iCal//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday\r\n" +
	"DTSTAMP:20240601T080000Z\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20240603\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func decode(t *testing.T, raw string) *ical.Calendar {
	t.Helper()
	cal, err := ical.NewDecoder(strings.NewReader(raw)).Decode()
	require.NoError(t, err)
	return cal
}

func TestParseEvent(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)

	ev, err := ParseEvent(decode(t, sampleICS), loc)
	require.NoError(t, err)
	assert.Equal(t, "standup-1", ev.UID)
	assert.Equal(t, "Team stand-up", ev.Summary)
	assert.Equal(t, "Room 4", ev.Location)
	assert.False(t, ev.AllDay)
	assert.True(t, ev.StartTime.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, loc)), "floating time read in the given zone")
	assert.True(t, ev.EndTime.Equal(time.Date(2024, 6, 1, 9, 15, 0, 0, loc)))

	holiday, err := ParseEvent(decode(t, allDayICS), loc)
	require.NoError(t, err)
	assert.True(t, holiday.AllDay)
	assert.True(t, holiday.EndTime.IsZero())
}

func TestParseEvent_NoEvent(t *testing.T) {
	_, err := ParseEvent(ical.NewCalendar(), time.UTC)
	assert.Error(t, err)
}

func TestEventToICS_Alarms(t *testing.T) {
	stamp := time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC)
	cal := EventToICS(Event{
		UID:         "task-1@nikassistant",
		Summary:     "Pay rent",
		Description: "Transfer to landlord",
		StartTime:   time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC),
		Reminders:   []Reminder{{MinutesBefore: 60}, {MinutesBefore: -30}},
	}, stamp)

	data, err := EncodeCalendar(cal)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, "PRODID:"+productID)
	assert.Contains(t, out, "SUMMARY:Pay rent")
	assert.Contains(t, out, "DTSTART:20240601T180000Z")
	assert.Contains(t, out, "BEGIN:VALARM")
	assert.Contains(t, out, "TRIGGER;VALUE=DURATION:-PT60M")
	assert.Contains(t, out, "TRIGGER;VALUE=DURATION:PT30M")

	back, err := ParseEvent(decode(t, out), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "task-1@nikassistant", back.UID)
	assert.Equal(t, "Transfer to landlord", back.Description)
}

func TestEventToICS_AllDay(t *testing.T) {
	cal := EventToICS(Event{
		UID:       "task-2@nikassistant",
		Summary:   "Passport",
		StartTime: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC),
		AllDay:    true,
	}, time.Now())

	data, err := EncodeCalendar(cal)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DTSTART;VALUE=DATE:20240603")
}

func TestClient_Configuration(t *testing.T) {
	c := NewClient("", "", "", "", nil)
	assert.False(t, c.IsConfigured())
	assert.Equal(t, DefaultiCloudURL, c.baseURL)

	c = NewClient("https://dav.example.com", "nik", "app-password", "/calendars/nik/home/", nil)
	assert.True(t, c.IsConfigured())
	assert.Equal(t, "/calendars/nik/home/", c.CalendarPath())

	empty := NewClient("https://dav.example.com", "nik", "pw", "", nil)
	empty.discover = func(context.Context) ([]Calendar, error) { return nil, nil }
	_, err := empty.GetEvents(context.Background(), "", time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrNoCalendar)
	assert.ErrorIs(t, empty.PutEvent(context.Background(), "", Event{UID: "x"}), ErrNoCalendar)
}

func TestClient_ResolveCalendar(t *testing.T) {
	calls := 0
	c := NewClient("https://dav.example.com", "nik", "pw", "", nil)
	c.discover = func(context.Context) ([]Calendar, error) {
		calls++
		return []Calendar{{Path: "/cal/home/"}, {Path: "/cal/work/"}}, nil
	}

	for i := 0; i < 2; i++ {
		path, err := c.resolveCalendar(context.Background(), "")
		require.NoError(t, err)
		assert.Equal(t, "/cal/home/", path)
	}
	assert.Equal(t, 1, calls, "discovered calendar is cached")

	path, err := c.resolveCalendar(context.Background(), "/cal/work/")
	require.NoError(t, err)
	assert.Equal(t, "/cal/work/", path, "explicit path wins")

	configured := NewClient("https://dav.example.com", "nik", "pw", "/cal/fixed/", nil)
	configured.discover = func(context.Context) ([]Calendar, error) {
		t.Fatal("configured calendar needs no discovery")
		return nil, nil
	}
	path, err = configured.resolveCalendar(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "/cal/fixed/", path)

	failing := NewClient("https://dav.example.com", "nik", "pw", "", nil)
	failing.discover = func(context.Context) ([]Calendar, error) { return nil, errors.New("401 unauthorized") }
	_, err = failing.resolveCalendar(context.Background(), "")
	assert.ErrorContains(t, err, "401 unauthorized")
}
