package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/nikassistant/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "db", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStorage_Outbox(t *testing.T) {
	s := newTestStorage(t)

	first := domain.NewNotification("Pay rent", "due soon", []domain.Channel{domain.ChannelDesktop, domain.ChannelEmail},
		domain.Options{Kind: domain.KindWarning, Durable: true, Topic: "@alerts"})
	first.EnqueuedAt = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	second := domain.NewNotification("Call mom", "", []domain.Channel{domain.ChannelMobile}, domain.Options{Durable: true})
	second.EnqueuedAt = first.EnqueuedAt.Add(time.Minute)

	require.NoError(t, s.SaveOutbox(second))
	require.NoError(t, s.SaveOutbox(first))

	pending, err := s.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID, "oldest first")
	assert.Equal(t, first.Channels, pending[0].Channels)
	assert.Equal(t, first.Options, pending[0].Options)
	assert.True(t, first.EnqueuedAt.Equal(pending[0].EnqueuedAt))

	require.NoError(t, s.DeleteOutbox(first.ID))
	pending, err = s.PendingOutbox()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestStorage_Deliveries(t *testing.T) {
	s := newTestStorage(t)

	n := domain.NewNotification("Reminder", "msg", []domain.Channel{domain.ChannelDesktop, domain.ChannelEmail}, domain.Options{})
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordDeliveries([]domain.Delivery{
		{NotificationID: n.ID, Title: n.Title, Channel: domain.ChannelDesktop, Duration: 5 * time.Millisecond, DeliveredAt: at},
		{NotificationID: n.ID, Title: n.Title, Channel: domain.ChannelEmail, Error: "smtp down", DeliveredAt: at.Add(time.Second)},
	}))

	got, err := s.ListDeliveries(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.ChannelEmail, got[0].Channel, "newest first")
	assert.False(t, got[0].Succeeded())
	assert.True(t, got[1].Succeeded())
	assert.Equal(t, n.ID, got[1].NotificationID)
	assert.Equal(t, 5*time.Millisecond, got[1].Duration)
}

func TestStorage_CalendarAlerts(t *testing.T) {
	s := newTestStorage(t)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	inserted, err := s.MarkCalendarAlerted("evt-1", start)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.MarkCalendarAlerted("evt-1", start)
	require.NoError(t, err)
	assert.False(t, inserted, "same occurrence alerts once")

	inserted, err = s.MarkCalendarAlerted("evt-1", start.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.True(t, inserted, "next occurrence is new")

	require.NoError(t, s.PruneCalendarAlerts(start.Add(time.Hour)))
	inserted, err = s.MarkCalendarAlerted("evt-1", start)
	require.NoError(t, err)
	assert.True(t, inserted, "pruned record can be alerted again")
}

func TestStorage_EmailAlerts(t *testing.T) {
	s := newTestStorage(t)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	fresh, err := s.MarkEmailNotified("<invoice-42@billing.example.com>", at)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkEmailNotified("<invoice-42@billing.example.com>", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, fresh, "announced once")

	require.NoError(t, s.PruneEmailAlerts(at.Add(time.Minute)))
	fresh, err = s.MarkEmailNotified("<invoice-42@billing.example.com>", at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestTaskFile_LoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "tasks.json")
	f := NewTaskFile(path)

	tasks, err := f.Load()
	require.NoError(t, err, "missing file is empty")
	assert.Empty(t, tasks)

	offset := 30
	want := []domain.Task{
		{ID: "a", Title: "Pay rent", DueDate: "2024-06-01", Priority: domain.PriorityHigh, Status: domain.StatusActive, ReminderOffset: &offset, EmailReminder: true},
		{ID: "b", Title: "Read", Priority: domain.PriorityLow, Status: domain.StatusCompleted},
	}
	require.NoError(t, f.Save(want))

	got, err := f.Load()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Pay rent", got[0].Title)
	require.NotNil(t, got[0].ReminderOffset)
	assert.Equal(t, 30, *got[0].ReminderOffset)
	assert.Equal(t, domain.StatusCompleted, got[1].Status)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestTaskFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tasks": [`), 0o644))

	_, err := NewTaskFile(path).Load()
	assert.Error(t, err)
}
