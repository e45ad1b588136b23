package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/nikassistant/internal/domain"
)

func TestRunOverdueSweep(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, tasks, notifier := newTestScheduler(t, testConfig(true), now)

	emailed := activeTask("b", "Renew passport", "2024-06-01T09:00", nil)
	emailed.EmailReminder = true
	done := activeTask("x", "Old and done", "2024-01-01", nil)
	done.Status = domain.StatusCompleted

	tasks.set(
		activeTask("a", "File taxes", "2024-05-30", nil),
		emailed,
		activeTask("c", "Call plumber", "2024-05-31T23:00:00Z", nil),
		activeTask("d", "Due tonight", "2024-06-01", nil),
		activeTask("e", "Someday", "", nil),
		activeTask("f", "Broken", "31/05/2024", nil),
		done,
	)

	assert.Equal(t, 3, s.RunOverdueSweep())

	sent := notifier.all()
	require.Len(t, sent, 1, "one aggregate notification")
	n := sent[0]
	assert.Equal(t, "You have 3 overdue tasks", n.Title)
	assert.Equal(t, "Overdue tasks:\n- File taxes\n- Renew passport\n- Call plumber", n.Message)
	assert.Equal(t, []domain.Channel{domain.ChannelDesktop, domain.ChannelEmail}, n.Channels)
	assert.Equal(t, domain.KindWarning, n.Options.Kind)
}

func TestRunOverdueSweep_NothingOverdue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, tasks, notifier := newTestScheduler(t, testConfig(true), now)

	tasks.set(
		activeTask("a", "Later", "2024-06-02", nil),
		activeTask("b", "Tonight", "2024-06-01", nil),
	)

	assert.Equal(t, 0, s.RunOverdueSweep())
	assert.Empty(t, notifier.all())
}

func TestRunOverdueSweep_DesktopOnlyWithoutEmailFlag(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s, tasks, notifier := newTestScheduler(t, testConfig(true), now)
	tasks.set(activeTask("a", "Late", "2024-05-01", nil))

	assert.Equal(t, 1, s.RunOverdueSweep())
	require.Len(t, notifier.all(), 1)
	assert.Equal(t, []domain.Channel{domain.ChannelDesktop}, notifier.all()[0].Channels)
}

func TestRunDailySummary(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s, tasks, notifier := newTestScheduler(t, testConfig(true), now)

	tasks.set(
		activeTask("a", "Laundry", "2024-06-01", nil),
		activeTask("b", "Dinner with Anna", "2024-06-01T19:30", nil),
		activeTask("c", "Dentist", "2024-06-02T08:00", nil),
		activeTask("d", "Next week", "2024-06-08", nil),
		activeTask("e", "Yesterday", "2024-05-31", nil),
		activeTask("f", "Broken", "June 1st", nil),
	)

	today, tomorrow := s.RunDailySummary()
	assert.Equal(t, 2, today)
	assert.Equal(t, 1, tomorrow)

	sent := notifier.all()
	require.Len(t, sent, 2)

	desktop := sent[0]
	assert.Equal(t, "Daily Task Summary", desktop.Title)
	assert.Equal(t, []domain.Channel{domain.ChannelDesktop}, desktop.Channels)
	assert.Equal(t,
		"Today's tasks (2):\n- Laundry\n- Dinner with Anna\n\nTomorrow's tasks (1):\n- Dentist",
		desktop.Message)

	email := sent[1]
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, email.Channels)
	assert.Contains(t, email.Options.HTMLBody, "<li><strong>Dinner with Anna</strong> (Medium)</li>")
	assert.Contains(t, email.Options.HTMLBody, "<li><strong>Dentist</strong> (Medium)</li>")
}

func TestRunDailySummary_EmptyBuckets(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	s, tasks, notifier := newTestScheduler(t, testConfig(false), now)
	tasks.set(activeTask("a", "Next week", "2024-06-08", nil))
	today, tomorrow := s.RunDailySummary()
	assert.Zero(t, today)
	assert.Zero(t, tomorrow)
	assert.Empty(t, notifier.all(), "no desktop summary without tasks, no email without email")

	s, _, notifier = newTestScheduler(t, testConfig(true), now)
	s.RunDailySummary()
	sent := notifier.all()
	require.Len(t, sent, 1, "email summary is sent whenever email is configured")
	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, sent[0].Channels)
	assert.Contains(t, sent[0].Options.HTMLBody, "<li>None</li>")
}

func TestRunDailySummary_UsesConfiguredTimezone(t *testing.T) {
	tz := time.FixedZone("JST", 9*60*60)

	cfg := testConfig(false)
	cfg.Timezone = tz
	// 2024-06-01 20:00 UTC is already 2024-06-02 in Tokyo.
	s, tasks, _ := newTestScheduler(t, cfg, time.Date(2024, 6, 1, 20, 0, 0, 0, time.UTC))
	tasks.set(
		activeTask("a", "Today in Tokyo", "2024-06-02", nil),
		activeTask("b", "Tomorrow in Tokyo", "2024-06-03", nil),
	)

	today, tomorrow := s.RunDailySummary()
	assert.Equal(t, 1, today)
	assert.Equal(t, 1, tomorrow)
}
