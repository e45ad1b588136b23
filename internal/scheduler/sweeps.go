package scheduler

import (
	"fmt"
	"html"
	"strings"

	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

// RunOverdueSweep sends one aggregate notification for every active task
// whose due time has passed. It returns the number of overdue tasks.
func (s *Scheduler) RunOverdueSweep() int {
	now := s.now()

	var (
		overdue   []domain.Task
		wantEmail bool
	)
	for _, t := range s.tasks.ListActive() {
		if !t.HasDueDate() {
			continue
		}
		due, _, err := t.DueTime(s.location)
		if err != nil {
			s.logger.Warn("Skipping task in overdue sweep, bad due date",
				zap.String("task_id", t.ID),
				zap.String("title", t.Title),
				zap.Error(err),
			)
			continue
		}
		if due.Before(now) {
			overdue = append(overdue, t)
			wantEmail = wantEmail || t.EmailReminder
		}
	}

	if len(overdue) == 0 {
		s.logger.Debug("No overdue tasks")
		return 0
	}

	channels := []domain.Channel{domain.ChannelDesktop}
	if wantEmail && s.emailEnabled {
		channels = append(channels, domain.ChannelEmail)
	}

	title := fmt.Sprintf("You have %d overdue tasks", len(overdue))
	message := "Overdue tasks:\n" + bulletList(overdue)
	s.notifier.Enqueue(title, message, channels, domain.Options{Kind: domain.KindWarning})

	s.logger.Info("Sent overdue notification", zap.Int("count", len(overdue)))
	return len(overdue)
}

// RunDailySummary notifies about active tasks due today and tomorrow. The
// desktop summary is sent when either bucket has tasks; the email summary
// is sent whenever email is configured.
func (s *Scheduler) RunDailySummary() (dueToday, dueTomorrow int) {
	today := s.today()
	tomorrow := today.AddDate(0, 0, 1)

	var todayTasks, tomorrowTasks []domain.Task
	for _, t := range s.tasks.ListActive() {
		if !t.HasDueDate() {
			continue
		}
		day, err := t.DueDay(s.location)
		if err != nil {
			s.logger.Warn("Skipping task in daily summary, bad due date",
				zap.String("task_id", t.ID),
				zap.String("title", t.Title),
				zap.Error(err),
			)
			continue
		}
		switch {
		case day.Equal(today):
			todayTasks = append(todayTasks, t)
		case day.Equal(tomorrow):
			tomorrowTasks = append(tomorrowTasks, t)
		}
	}

	var parts []string
	if len(todayTasks) > 0 {
		parts = append(parts, fmt.Sprintf("Today's tasks (%d):\n%s", len(todayTasks), bulletList(todayTasks)))
	}
	if len(tomorrowTasks) > 0 {
		parts = append(parts, fmt.Sprintf("Tomorrow's tasks (%d):\n%s", len(tomorrowTasks), bulletList(tomorrowTasks)))
	}
	message := strings.Join(parts, "\n\n")

	if len(parts) > 0 {
		s.notifier.Enqueue("Daily Task Summary", message,
			[]domain.Channel{domain.ChannelDesktop}, domain.Options{Kind: domain.KindInfo})
	}

	if s.emailEnabled {
		if message == "" {
			message = "Nothing due today or tomorrow."
		}
		s.notifier.Enqueue("NikAssistant Daily Task Summary", message,
			[]domain.Channel{domain.ChannelEmail},
			domain.Options{Kind: domain.KindInfo, HTMLBody: summaryEmail(todayTasks, tomorrowTasks)})
	}

	s.logger.Info("Sent daily summary",
		zap.Int("due_today", len(todayTasks)),
		zap.Int("due_tomorrow", len(tomorrowTasks)),
		zap.Bool("email", s.emailEnabled),
	)
	return len(todayTasks), len(tomorrowTasks)
}

func bulletList(tasks []domain.Task) string {
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, "- "+t.Title)
	}
	return strings.Join(lines, "\n")
}

func summaryEmail(today, tomorrow []domain.Task) string {
	var sb strings.Builder
	sb.WriteString("<h2>Daily Task Summary</h2>\n")
	writeSection(&sb, "Today's Tasks:", today)
	writeSection(&sb, "Tomorrow's Tasks:", tomorrow)
	sb.WriteString("<hr>\n<p>This is an automated summary from NikAssistant.</p>")
	return sb.String()
}

func writeSection(sb *strings.Builder, heading string, tasks []domain.Task) {
	sb.WriteString("<h3>" + heading + "</h3>\n<ul>\n")
	if len(tasks) == 0 {
		sb.WriteString("<li>None</li>\n")
	}
	for _, t := range tasks {
		fmt.Fprintf(sb, "<li><strong>%s</strong> (%s)</li>\n", html.EscapeString(t.Title), t.Priority)
	}
	sb.WriteString("</ul>\n")
}
