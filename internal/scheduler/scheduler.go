package scheduler

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tazhate/nikassistant/config"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

// TaskSource is the read side of the task store.
type TaskSource interface {
	ListActive() []domain.Task
	Get(id string) (domain.Task, bool)
}

// Notifier accepts notifications without blocking.
type Notifier interface {
	Enqueue(title, message string, channels []domain.Channel, opts domain.Options) domain.Notification
}

// Reminder is an installed one-shot task reminder.
type Reminder struct {
	TaskID   string    `json:"task_id"`
	Title    string    `json:"title"`
	FireTime time.Time `json:"fire_time"`
}

type entry struct {
	Reminder
	timer *time.Timer
}

// Scheduler keeps one timer per task with a future reminder and runs the
// periodic sweeps.
type Scheduler struct {
	cron     *cron.Cron
	cfg      *config.Config
	tasks    TaskSource
	notifier Notifier
	logger   *zap.Logger
	location *time.Location
	now      func() time.Time

	emailEnabled  bool
	mobileEnabled bool

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

// New creates a scheduler for the tasks. Call Start to build the reminders and run the jobs.
func New(cfg *config.Config, tasks TaskSource, notifier Notifier, logger *zap.Logger) *Scheduler {
	location := cfg.Timezone
	if location == nil {
		location = time.Local
	}
	logger = logger.Named("scheduler")

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(
		cron.WithLocation(location),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:          c,
		cfg:           cfg,
		tasks:         tasks,
		notifier:      notifier,
		logger:        logger,
		location:      location,
		now:           time.Now,
		emailEnabled:  cfg.EmailChannelEnabled(),
		mobileEnabled: cfg.MobileChannelEnabled(),
		entries:       make(map[string]*entry),
	}
}

// SetClock replaces the time source used to compute delays and sweeps.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// AddJob registers an extra periodic job, e.g. the calendar poll.
func (s *Scheduler) AddJob(spec string, job func()) error {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		return fmt.Errorf("add job %q: %w", spec, err)
	}
	return nil
}

// Start schedules the reminders of every active task, starts the sweeps and
// blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	hour, minute, err := s.cfg.SummaryClock()
	if err != nil {
		return fmt.Errorf("daily summary time: %w", err)
	}

	summarySpec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := s.cron.AddFunc(summarySpec, func() { s.RunDailySummary() }); err != nil {
		return fmt.Errorf("add daily summary: %w", err)
	}

	overdueSpec := "@every " + s.cfg.OverdueSweepInterval.String()
	if _, err := s.cron.AddFunc(overdueSpec, func() { s.RunOverdueSweep() }); err != nil {
		return fmt.Errorf("add overdue sweep: %w", err)
	}

	installed := s.Reload(s.tasks.ListActive())

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("timezone", s.location.String()),
		zap.String("daily_summary", s.cfg.DailySummaryTime),
		zap.Duration("overdue_interval", s.cfg.OverdueSweepInterval),
		zap.Int("reminders", installed),
	)

	<-ctx.Done()
	return nil
}

// Stop waits for running sweeps and cancels every pending reminder.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	s.stopped = true
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.logger.Info("Scheduler stopped")
}

// Register installs the reminder for task, replacing any earlier one. It
// reports whether a timer is pending afterwards. Tasks without a reminder,
// inactive tasks and reminders whose fire time has passed get no timer.
func (s *Scheduler) Register(task domain.Task) bool {
	fireTime, ok := s.fireTime(task)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(task.ID)
	if !ok || s.stopped {
		return false
	}

	delay := fireTime.Sub(s.now())
	if delay <= 0 {
		s.logger.Debug("Reminder time already passed",
			zap.String("task_id", task.ID),
			zap.Time("fire_time", fireTime),
		)
		return false
	}

	e := &entry{Reminder: Reminder{TaskID: task.ID, Title: task.Title, FireTime: fireTime}}
	e.timer = time.AfterFunc(delay, func() { s.fire(e) })
	s.entries[task.ID] = e

	s.logger.Info("Scheduled reminder",
		zap.String("task_id", task.ID),
		zap.String("title", task.Title),
		zap.Time("fire_time", fireTime),
	)
	return true
}

func (s *Scheduler) fireTime(task domain.Task) (time.Time, bool) {
	offset, hasOffset := task.Offset()
	if !task.IsActive() || !task.HasDueDate() || !hasOffset {
		return time.Time{}, false
	}
	due, _, err := task.DueTime(s.location)
	if err != nil {
		s.logger.Warn("Skipping reminder, bad due date",
			zap.String("task_id", task.ID),
			zap.String("title", task.Title),
			zap.Error(err),
		)
		return time.Time{}, false
	}
	return due.Add(-offset), true
}

// Unregister cancels the task's pending reminder, if any.
func (s *Scheduler) Unregister(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(taskID)
}

func (s *Scheduler) cancelLocked(taskID string) {
	if e, ok := s.entries[taskID]; ok {
		e.timer.Stop()
		delete(s.entries, taskID)
	}
}

// Reload drops every pending reminder and registers tasks again. It returns
// the number of reminders installed.
func (s *Scheduler) Reload(tasks []domain.Task) int {
	s.mu.Lock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()

	installed := 0
	for _, t := range tasks {
		if !t.IsActive() {
			continue
		}
		if s.Register(t) {
			installed++
		}
	}
	s.logger.Info("Reminders reloaded", zap.Int("tasks", len(tasks)), zap.Int("installed", installed))
	return installed
}

// Reminders lists the pending reminders ordered by fire time.
func (s *Scheduler) Reminders() []Reminder {
	s.mu.Lock()
	out := make([]Reminder, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Reminder)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].FireTime.Equal(out[j].FireTime) {
			return out[i].TaskID < out[j].TaskID
		}
		return out[i].FireTime.Before(out[j].FireTime)
	})
	return out
}

func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	cur, ok := s.entries[e.TaskID]
	if !ok || cur != e {
		s.mu.Unlock()
		s.logger.Debug("Dropping replaced reminder", zap.String("task_id", e.TaskID))
		return
	}
	delete(s.entries, e.TaskID)
	s.mu.Unlock()

	task, found := s.tasks.Get(e.TaskID)
	if !found || !task.IsActive() {
		s.logger.Debug("Dropping stale reminder",
			zap.String("task_id", e.TaskID),
			zap.String("title", e.Title),
			zap.Bool("found", found),
		)
		return
	}

	// the stored task wins over whatever the timer was built from
	if fireTime, ok := s.fireTime(task); !ok || !fireTime.Equal(e.FireTime) {
		s.logger.Debug("Dropping outdated reminder",
			zap.String("task_id", e.TaskID),
			zap.Time("fire_time", e.FireTime),
		)
		s.Register(task)
		return
	}

	s.notifyTaskDue(task)
}

func (s *Scheduler) notifyTaskDue(task domain.Task) domain.Notification {
	due, _, _ := task.DueTime(s.location)

	channels := []domain.Channel{domain.ChannelDesktop}
	high := task.Priority == domain.PriorityHigh
	if (task.EmailReminder || high) && s.emailEnabled {
		channels = append(channels, domain.ChannelEmail)
	}
	if high && s.mobileEnabled {
		channels = append(channels, domain.ChannelMobile)
	}

	opts := domain.Options{
		Kind:     domain.KindInfo,
		HTMLBody: reminderEmail(task, due),
		Durable:  high,
	}
	if high {
		opts.Kind = domain.KindWarning
	}

	title := fmt.Sprintf("%s Task Due: %s", task.PriorityEmoji(), task.Title)
	message := fmt.Sprintf("Task '%s' is due at %s\n\n%s\nPriority: %s",
		task.Title, due.Format("3:04 PM"), priorityMessage(task.Priority), task.Priority)

	n := s.notifier.Enqueue(title, message, channels, opts)
	s.logger.Info("Reminder fired",
		zap.String("task_id", task.ID),
		zap.String("title", task.Title),
		zap.Any("channels", channels),
	)
	return n
}

func priorityMessage(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return "🔴 High priority task is due!"
	case domain.PriorityLow:
		return "🟢 Task due reminder"
	default:
		return "🟡 Task is due today"
	}
}

func reminderEmail(task domain.Task, due time.Time) string {
	category := task.Category
	if category == "" {
		category = "General"
	}
	var sb strings.Builder
	sb.WriteString("<h2>Task Reminder</h2>\n")
	fmt.Fprintf(&sb, "<p>Your task <strong>%s</strong> is due at %s.</p>\n", html.EscapeString(task.Title), due.Format("3:04 PM"))
	fmt.Fprintf(&sb, "<p>Priority: %s</p>\n", task.Priority)
	fmt.Fprintf(&sb, "<p>Category: %s</p>\n", html.EscapeString(category))
	if task.Description != "" {
		fmt.Fprintf(&sb, "<p>Description: %s</p>\n", html.EscapeString(task.Description))
	}
	sb.WriteString("<hr>\n<p>This is an automated reminder from NikAssistant.</p>")
	return sb.String()
}

// HandleTaskEvent keeps the reminders in step with the task store. Reminders
// are built from the stored task, not from the event payload.
func (s *Scheduler) HandleTaskEvent(ev domain.TaskEvent) {
	switch ev.Kind {
	case domain.TaskCreated, domain.TaskUpdated, domain.TaskReopened:
		s.resync(ev.Task.ID)
	case domain.TaskCompleted:
		s.Unregister(ev.Task.ID)
		s.checkAllDoneToday(ev.Task)
	case domain.TaskDeleted:
		s.Unregister(ev.Task.ID)
	case domain.TasksReloaded:
		s.Reload(s.tasks.ListActive())
	}
}

func (s *Scheduler) resync(taskID string) {
	task, ok := s.tasks.Get(taskID)
	if !ok {
		s.Unregister(taskID)
		return
	}
	s.Register(task)
}

// checkAllDoneToday sends the achievement notification when the last task
// due today has just been completed.
func (s *Scheduler) checkAllDoneToday(completed domain.Task) {
	today := s.today()
	if !s.dueOn(completed, today) {
		return
	}
	for _, t := range s.tasks.ListActive() {
		if s.dueOn(t, today) {
			return
		}
	}

	s.notifier.Enqueue("🏆 Achievement Unlocked!",
		"✅ Awesome! All your tasks for today are complete!",
		[]domain.Channel{domain.ChannelDesktop},
		domain.Options{Kind: domain.KindSuccess},
	)
	s.logger.Info("All tasks for today completed")
}

func (s *Scheduler) today() time.Time {
	y, m, d := s.now().In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location)
}

func (s *Scheduler) dueOn(t domain.Task, day time.Time) bool {
	if !t.HasDueDate() {
		return false
	}
	due, err := t.DueDay(s.location)
	return err == nil && due.Equal(day)
}
