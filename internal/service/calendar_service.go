package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tazhate/nikassistant/internal/clients/caldav"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

var ErrCalendarNotConfigured = errors.New("CalDAV not configured")

// EventSource is the CalDAV client as seen by the calendar service.
type EventSource interface {
	IsConfigured() bool
	DiscoverCalendars(ctx context.Context) ([]caldav.Calendar, error)
	GetEvents(ctx context.Context, calendarPath string, from, to time.Time) ([]caldav.Event, error)
	PutEvent(ctx context.Context, calendarPath string, event caldav.Event) error
}

// AlertStore remembers which event occurrences were already announced.
type AlertStore interface {
	MarkCalendarAlerted(uid string, start time.Time) (bool, error)
	PruneCalendarAlerts(before time.Time) error
}

// Notifier queues notifications for the dispatcher.
type Notifier interface {
	Enqueue(title, message string, channels []domain.Channel, opts domain.Options) domain.Notification
}

// CalendarService announces upcoming meetings and exports tasks as events.
type CalendarService struct {
	source        EventSource
	alerts        AlertStore
	notifier      Notifier
	leadTime      time.Duration
	timezone      *time.Location
	mobileEnabled bool
	now           func() time.Time
	logger        *zap.Logger
}

// NewCalendarService creates the calendar service. A nil source leaves it unconfigured.
func NewCalendarService(source EventSource, alerts AlertStore, notifier Notifier, leadTime time.Duration, tz *time.Location, mobileEnabled bool, logger *zap.Logger) *CalendarService {
	if tz == nil {
		tz = time.Local
	}
	if leadTime <= 0 {
		leadTime = 15 * time.Minute
	}
	return &CalendarService{
		source:        source,
		alerts:        alerts,
		notifier:      notifier,
		leadTime:      leadTime,
		timezone:      tz,
		mobileEnabled: mobileEnabled,
		now:           time.Now,
		logger:        logger.Named("calendar"),
	}
}

func (s *CalendarService) IsConfigured() bool {
	return s.source != nil && s.source.IsConfigured()
}

func (s *CalendarService) DiscoverCalendars(ctx context.Context) ([]caldav.Calendar, error) {
	if !s.IsConfigured() {
		return nil, ErrCalendarNotConfigured
	}
	return s.source.DiscoverCalendars(ctx)
}

// CheckUpcoming sends one reminder per event occurrence that starts within
// the lead time. It returns the number of reminders sent.
func (s *CalendarService) CheckUpcoming(ctx context.Context) (int, error) {
	if !s.IsConfigured() {
		return 0, ErrCalendarNotConfigured
	}

	now := s.now()
	events, err := s.source.GetEvents(ctx, "", now, now.Add(s.leadTime))
	if err != nil {
		return 0, fmt.Errorf("get upcoming events: %w", err)
	}

	channels := []domain.Channel{domain.ChannelDesktop}
	if s.mobileEnabled {
		channels = append(channels, domain.ChannelMobile)
	}

	sent := 0
	for _, ev := range events {
		if ev.AllDay || ev.StartTime.Before(now) || ev.StartTime.After(now.Add(s.leadTime)) {
			continue
		}

		fresh, err := s.alerts.MarkCalendarAlerted(ev.UID, ev.StartTime)
		if err != nil {
			s.logger.Warn("Failed to record meeting reminder", zap.String("uid", ev.UID), zap.Error(err))
			continue
		}
		if !fresh {
			continue
		}

		title, message := s.meetingReminder(ev, now)
		s.notifier.Enqueue(title, message, channels, domain.Options{Kind: domain.KindInfo})
		s.logger.Info("Meeting reminder sent", zap.String("uid", ev.UID), zap.String("title", ev.Summary))
		sent++
	}

	if err := s.alerts.PruneCalendarAlerts(now.Add(-24 * time.Hour)); err != nil {
		s.logger.Warn("Failed to prune meeting reminders", zap.Error(err))
	}
	return sent, nil
}

// RunCheck is the scheduler job wrapper around CheckUpcoming.
func (s *CalendarService) RunCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := s.CheckUpcoming(ctx); err != nil {
		s.logger.Warn("Calendar check failed", zap.Error(err))
	}
}

func (s *CalendarService) meetingReminder(ev caldav.Event, now time.Time) (string, string) {
	summary := ev.Summary
	if summary == "" {
		summary = "Meeting"
	}
	location := ev.Location
	if location == "" {
		location = "Not specified"
	}
	mins := int(math.Ceil(ev.StartTime.Sub(now).Minutes()))

	title := fmt.Sprintf("📅 Meeting in %d minutes: %s", mins, summary)
	message := fmt.Sprintf("Upcoming meeting reminder:\n\nEvent: %s\nTime: %s\nLocation: %s",
		summary, ev.StartTime.In(s.timezone).Format("3:04 PM"), location)
	return title, message
}

// TaskToEvent turns a task with a due date into a calendar event. Date-only
// tasks become all-day events.
func (s *CalendarService) TaskToEvent(task domain.Task) (caldav.Event, error) {
	due, dateOnly, err := task.DueTime(s.timezone)
	if err != nil {
		return caldav.Event{}, err
	}

	ev := caldav.Event{
		UID:         task.ID + "@nikassistant",
		Summary:     task.Title,
		Description: task.Description,
	}
	if dateOnly {
		day, _ := task.DueDay(s.timezone)
		ev.AllDay = true
		ev.StartTime = day
		ev.EndTime = day.AddDate(0, 0, 1)
	} else {
		ev.StartTime = due
		ev.EndTime = due.Add(30 * time.Minute)
	}
	if offset, ok := task.Offset(); ok {
		before := int(offset / time.Minute)
		if dateOnly {
			// all-day events start at midnight, the task is due at 23:59
			before -= due.Hour()*60 + due.Minute()
		}
		ev.Reminders = []caldav.Reminder{{MinutesBefore: before}}
	}
	return ev, nil
}

// PushTask writes the task to the configured calendar.
func (s *CalendarService) PushTask(ctx context.Context, task domain.Task) (caldav.Event, error) {
	if !s.IsConfigured() {
		return caldav.Event{}, ErrCalendarNotConfigured
	}
	ev, err := s.TaskToEvent(task)
	if err != nil {
		return caldav.Event{}, fmt.Errorf("task to event: %w", err)
	}
	if err := s.source.PutEvent(ctx, "", ev); err != nil {
		return caldav.Event{}, err
	}
	s.logger.Info("Task pushed to calendar", zap.String("task_id", task.ID), zap.String("uid", ev.UID))
	return ev, nil
}
