package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tazhate/nikassistant/internal/clients/mailbox"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

type fakeMailSource struct {
	configured bool
	messages   []mailbox.Message
	err        error
	since      time.Time
	limit      int
	query      string
}

func (f *fakeMailSource) IsConfigured() bool { return f.configured }

func (f *fakeMailSource) Recent(ctx context.Context, since time.Time, limit int) ([]mailbox.Message, error) {
	f.since, f.limit = since, limit
	return f.messages, f.err
}

func (f *fakeMailSource) Search(ctx context.Context, text string, limit int) ([]mailbox.Message, error) {
	f.query, f.limit = text, limit
	return f.messages, f.err
}

type memoryEmailAlerts struct {
	seen   map[string]bool
	pruned time.Time
}

func (m *memoryEmailAlerts) MarkEmailNotified(id string, at time.Time) (bool, error) {
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

func (m *memoryEmailAlerts) PruneEmailAlerts(before time.Time) error {
	m.pruned = before
	return nil
}

func newTestInboxService(source *fakeMailSource) (*InboxService, *memoryEmailAlerts, *queueRecorder, time.Time) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	alerts := &memoryEmailAlerts{}
	q := &queueRecorder{}
	svc := NewInboxService(source, alerts, q, 7*24*time.Hour, 20, time.UTC, zap.NewNop())
	svc.now = func() time.Time { return now }
	return svc, alerts, q, now
}

func TestAssessImportance(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		sender  string
		body    string
		want    Importance
	}{
		{name: "urgent subject", subject: "URGENT: server down", sender: "ops@example.com", want: ImportanceHigh},
		{name: "keyword in body", subject: "Hello", body: "the invoice is attached", want: ImportanceHigh},
		{name: "high beats bulk sender", subject: "Payment received", sender: "noreply@shop.example.com", want: ImportanceHigh},
		{name: "medium keyword", subject: "Booking confirmation", sender: "hotel@example.com", want: ImportanceMedium},
		{name: "newsletter sender", subject: "This week in Go", sender: "Go Newsletter <newsletter@example.com>", want: ImportanceLow},
		{name: "no-reply sender", subject: "Your receipt", sender: "no-reply@example.com", want: ImportanceLow},
		{name: "default", subject: "Lunch?", sender: "friend@example.com", want: ImportanceMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AssessImportance(tt.subject, tt.sender, tt.body))
		})
	}
}

func TestSuggestTasks(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	emails := []ScoredEmail{
		{Message: mailbox.Message{MessageID: "a@x", Subject: "Please review the draft", Sender: "boss@example.com"}, Importance: ImportanceMedium},
		{Message: mailbox.Message{MessageID: "b@x", Subject: "Photos from the trip", Sender: "mum@example.com"}},
		{Message: mailbox.Message{MessageID: "c@x", Subject: "Invoice", Body: "pay and reply by Monday"}, Importance: ImportanceHigh},
		{Message: mailbox.Message{MessageID: "d@x", Body: "Confirm your subscription", Sender: "newsletter@example.com"}, Importance: ImportanceLow},
	}

	got := SuggestTasks(emails, now)
	require.Len(t, got, 3, "one suggestion per actionable email")

	assert.Equal(t, domain.TaskSuggestion{
		Title:       "Follow up: Please review the draft",
		Description: "Action needed for email from boss@example.com",
		SourceEmail: "a@x",
		Priority:    domain.PriorityMedium,
		Category:    "Email",
		DueDate:     "2024-06-03",
	}, got[0])
	assert.Equal(t, domain.PriorityHigh, got[1].Priority)
	assert.Equal(t, "Action needed for email from Unknown", got[1].Description)
	assert.Equal(t, "Follow up: Email", got[2].Title)
	assert.Equal(t, domain.PriorityLow, got[2].Priority)
}

func TestInboxService_NotConfigured(t *testing.T) {
	svc, _, _, _ := newTestInboxService(&fakeMailSource{})

	_, err := svc.Recent(context.Background())
	assert.ErrorIs(t, err, ErrInboxNotConfigured)
	_, err = svc.Search(context.Background(), "invoice", 0)
	assert.ErrorIs(t, err, ErrInboxNotConfigured)
	_, err = svc.CheckImportant(context.Background())
	assert.ErrorIs(t, err, ErrInboxNotConfigured)
}

func TestInboxService_RecentAndSearch(t *testing.T) {
	source := &fakeMailSource{configured: true, messages: []mailbox.Message{
		{MessageID: "a@x", Subject: "Meeting moved", Sender: "team@example.com"},
	}}
	svc, _, _, now := newTestInboxService(source)

	emails, err := svc.Recent(context.Background())
	require.NoError(t, err)
	require.Len(t, emails, 1)
	assert.Equal(t, ImportanceHigh, emails[0].Importance)
	assert.True(t, source.since.Equal(now.Add(-7*24*time.Hour)))
	assert.Equal(t, 20, source.limit)

	_, err = svc.Search(context.Background(), "meeting", 0)
	require.NoError(t, err)
	assert.Equal(t, "meeting", source.query)
	assert.Equal(t, 10, source.limit, "default search limit")

	source.err = errors.New("connection reset")
	_, err = svc.Search(context.Background(), "meeting", 5)
	assert.ErrorContains(t, err, "connection reset")
}

func TestInboxService_CheckImportant(t *testing.T) {
	source := &fakeMailSource{configured: true, messages: []mailbox.Message{
		{MessageID: "1@x", Subject: "Invoice 42 overdue", Sender: "billing@example.com"},
		{MessageID: "2@x", Subject: "Urgent: sign the contract", Sender: "legal@example.com"},
		{MessageID: "3@x", Subject: "Weekly digest", Sender: "newsletter@example.com"},
		{MessageID: "4@x", Subject: "Deadline tomorrow", Sender: "pm@example.com", Seen: true},
	}}
	svc, alerts, q, now := newTestInboxService(source)

	n, err := svc.CheckImportant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "unread high-importance emails only")
	require.Len(t, q.sent, 1)
	assert.Equal(t, "📧 2 Important Emails", q.sent[0].Title)
	assert.Equal(t, "You have important emails:\n\n• billing@example.com: Invoice 42 overdue\n• legal@example.com: Urgent: sign the contract", q.sent[0].Message)
	assert.Equal(t, []domain.Channel{domain.ChannelDesktop}, q.sent[0].Channels)
	assert.True(t, alerts.pruned.Equal(now.Add(-14*24*time.Hour)))

	n, err = svc.CheckImportant(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, q.sent, 1, "announced emails are not repeated")
}

func TestInboxService_SummaryListsThree(t *testing.T) {
	source := &fakeMailSource{configured: true}
	for i := 1; i <= 5; i++ {
		source.messages = append(source.messages, mailbox.Message{
			MessageID: fmt.Sprintf("%d@x", i),
			Subject:   fmt.Sprintf("Payment %d", i),
		})
	}
	svc, _, q, _ := newTestInboxService(source)

	n, err := svc.CheckImportant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, q.sent, 1)
	assert.Equal(t, "You have important emails:\n\n• Unknown: Payment 1\n• Unknown: Payment 2\n• Unknown: Payment 3\n\n...and 2 more emails", q.sent[0].Message)
}

func TestInboxService_Suggestions(t *testing.T) {
	source := &fakeMailSource{configured: true, messages: []mailbox.Message{
		{MessageID: "a@x", Subject: "Please submit your timesheet", Sender: "hr@example.com"},
	}}
	svc, _, _, _ := newTestInboxService(source)

	got, err := svc.Suggestions(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2024-06-03", got[0].DueDate)
	assert.Equal(t, "a@x", got[0].SourceEmail)
}
