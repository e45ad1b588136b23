package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const (
	// Apple iCloud CalDAV endpoint
	DefaultiCloudURL = "https://caldav.icloud.com"

	productID = "-//NikAssistant//Tasks//EN"
)

// ErrNoCalendar is returned when no calendar is configured and none was discovered.
var ErrNoCalendar = errors.New("no calendar available")

// Client reads and writes events on a CalDAV server with basic auth.
type Client struct {
	baseURL      string
	username     string
	password     string
	calendarPath string
	location     *time.Location
	discover     func(ctx context.Context) ([]Calendar, error)

	mu         sync.Mutex
	client     *caldav.Client
	discovered string
}

// NewClient creates a new CalDAV client. An empty baseURL means iCloud. With
// no calendarPath the first discovered calendar is used.
func NewClient(baseURL, username, password, calendarPath string, loc *time.Location) *Client {
	if baseURL == "" {
		baseURL = DefaultiCloudURL
	}
	if loc == nil {
		loc = time.UTC
	}
	c := &Client{
		baseURL:      baseURL,
		username:     username,
		password:     password,
		calendarPath: calendarPath,
		location:     loc,
	}
	c.discover = c.DiscoverCalendars
	return c
}

// IsConfigured checks if credentials are set
func (c *Client) IsConfigured() bool {
	return c.username != "" && c.password != ""
}

// CalendarPath is the default calendar used when a call passes "".
func (c *Client) CalendarPath() string {
	return c.calendarPath
}

func (c *Client) connect() (*caldav.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	httpClient := &http.Client{
		Transport: &basicAuthTransport{
			username: c.username,
			password: c.password,
		},
		Timeout: 30 * time.Second,
	}

	client, err := caldav.NewClient(httpClient, c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to CalDAV: %w", err)
	}

	c.client = client
	return client, nil
}

type basicAuthTransport struct {
	username string
	password string
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.username, t.password)
	return http.DefaultTransport.RoundTrip(req)
}

// resolveCalendar picks the explicit path, then the configured one, then the
// first discovered calendar. The discovered path is cached.
func (c *Client) resolveCalendar(ctx context.Context, calendarPath string) (string, error) {
	if calendarPath != "" {
		return calendarPath, nil
	}
	if c.calendarPath != "" {
		return c.calendarPath, nil
	}

	c.mu.Lock()
	cached := c.discovered
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	cals, err := c.discover(ctx)
	if err != nil {
		return "", fmt.Errorf("discover calendar: %w", err)
	}
	if len(cals) == 0 || cals[0].Path == "" {
		return "", ErrNoCalendar
	}

	c.mu.Lock()
	c.discovered = cals[0].Path
	c.mu.Unlock()
	return cals[0].Path, nil
}

// DiscoverCalendars lists the calendars in the user's home set.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, fmt.Errorf("find principal: %w", err)
	}

	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("find home set: %w", err)
	}

	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("find calendars: %w", err)
	}

	result := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		result = append(result, Calendar{
			Path:        cal.Path,
			DisplayName: cal.Name,
			Description: cal.Description,
		})
	}
	return result, nil
}

// GetEvents returns the events overlapping [from, to). Objects that cannot
// be parsed are skipped.
func (c *Client) GetEvents(ctx context.Context, calendarPath string, from, to time.Time) ([]Event, error) {
	calendarPath, err := c.resolveCalendar(ctx, calendarPath)
	if err != nil {
		return nil, err
	}
	client, err := c.connect()
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{
				{
					Name:  ical.CompEvent,
					Start: from,
					End:   to,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	events := make([]Event, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		event, err := ParseEvent(obj.Data, c.location)
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// PutEvent creates or replaces the event at <calendar>/<uid>.ics.
func (c *Client) PutEvent(ctx context.Context, calendarPath string, event Event) error {
	if event.UID == "" {
		return fmt.Errorf("event uid is required")
	}
	calendarPath, err := c.resolveCalendar(ctx, calendarPath)
	if err != nil {
		return err
	}
	client, err := c.connect()
	if err != nil {
		return err
	}

	eventPath := strings.TrimSuffix(calendarPath, "/") + "/" + event.UID + ".ics"
	if _, err := client.PutCalendarObject(ctx, eventPath, EventToICS(event, time.Now())); err != nil {
		return fmt.Errorf("put event: %w", err)
	}
	return nil
}

// ParseEvent reads the first VEVENT of cal. Floating times are read in loc.
func ParseEvent(cal *ical.Calendar, loc *time.Location) (Event, error) {
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		var event Event
		if prop := comp.Props.Get(ical.PropUID); prop != nil {
			event.UID = prop.Value
		}
		if prop := comp.Props.Get(ical.PropSummary); prop != nil {
			event.Summary = prop.Value
		}
		if prop := comp.Props.Get(ical.PropDescription); prop != nil {
			event.Description = prop.Value
		}
		if prop := comp.Props.Get(ical.PropLocation); prop != nil {
			event.Location = prop.Value
		}

		prop := comp.Props.Get(ical.PropDateTimeStart)
		if prop == nil {
			return Event{}, fmt.Errorf("event %q has no start", event.UID)
		}
		start, err := prop.DateTime(loc)
		if err != nil {
			return Event{}, fmt.Errorf("event %q start: %w", event.UID, err)
		}
		event.StartTime = start
		event.AllDay = prop.ValueType() == ical.ValueDate

		if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
			if end, err := prop.DateTime(loc); err == nil {
				event.EndTime = end
			}
		}
		return event, nil
	}
	return Event{}, fmt.Errorf("no VEVENT in calendar object")
}

// EventToICS builds a one-event calendar with a VALARM per reminder.
func EventToICS(event Event, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	vevent := ical.NewEvent()
	vevent.Props.SetText(ical.PropUID, event.UID)
	vevent.Props.SetText(ical.PropSummary, event.Summary)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())

	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}

	if event.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, event.StartTime)
		if !event.EndTime.IsZero() {
			vevent.Props.SetDate(ical.PropDateTimeEnd, event.EndTime)
		}
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, event.StartTime.UTC())
		if !event.EndTime.IsZero() {
			vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.EndTime.UTC())
		}
	}

	for _, r := range event.Reminders {
		alarm := ical.NewComponent(ical.CompAlarm)
		alarm.Props.SetText(ical.PropAction, "DISPLAY")
		alarm.Props.SetText(ical.PropDescription, event.Summary)
		trigger := ical.NewProp(ical.PropTrigger)
		trigger.SetValueType(ical.ValueDuration)
		trigger.Value = triggerValue(r.MinutesBefore)
		alarm.Props.Set(trigger)
		vevent.Children = append(vevent.Children, alarm)
	}

	cal.Children = append(cal.Children, vevent.Component)
	return cal
}

// triggerValue is relative to DTSTART; negative minutes fire after the start.
func triggerValue(minutesBefore int) string {
	if minutesBefore < 0 {
		return fmt.Sprintf("PT%dM", -minutesBefore)
	}
	return fmt.Sprintf("-PT%dM", minutesBefore)
}

// EncodeCalendar serializes the calendar as iCalendar text.
func EncodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode calendar: %w", err)
	}
	return buf.Bytes(), nil
}
