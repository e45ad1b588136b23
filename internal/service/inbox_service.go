package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/nikassistant/internal/clients/mailbox"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

var ErrInboxNotConfigured = errors.New("IMAP inbox not configured")

// MailSource is the IMAP client as seen by the inbox service.
type MailSource interface {
	IsConfigured() bool
	Recent(ctx context.Context, since time.Time, limit int) ([]mailbox.Message, error)
	Search(ctx context.Context, text string, limit int) ([]mailbox.Message, error)
}

// EmailAlertStore remembers which emails were already announced.
type EmailAlertStore interface {
	MarkEmailNotified(messageID string, at time.Time) (bool, error)
	PruneEmailAlerts(before time.Time) error
}

// Importance is the keyword score of an email.
type Importance string

const (
	ImportanceHigh   Importance = "high"
	ImportanceMedium Importance = "medium"
	ImportanceLow    Importance = "low"
)

const (
	defaultSearchLimit = 10
	summaryListed      = 3
)

var (
	highImportanceKeywords = []string{
		"urgent", "asap", "emergency", "critical", "deadline",
		"meeting", "interview", "invoice", "payment", "action required",
	}
	mediumImportanceKeywords = []string{
		"update", "reminder", "notice", "announcement", "schedule",
		"appointment", "confirm", "booking", "reservation",
	}
	bulkSenderMarkers = []string{"noreply", "no-reply", "newsletter"}
	actionKeywords    = []string{
		"review", "respond", "reply", "call", "schedule", "book",
		"confirm", "pay", "submit", "complete", "finish", "send",
	}
)

// ScoredEmail is an inbox message with its importance.
type ScoredEmail struct {
	mailbox.Message
	Importance Importance `json:"importance"`
}

// InboxService watches the mailbox for important email and proposes tasks
// from actionable messages.
type InboxService struct {
	source      MailSource
	alerts      EmailAlertStore
	notifier    Notifier
	lookback    time.Duration
	maxMessages int
	timezone    *time.Location
	now         func() time.Time
	logger      *zap.Logger
}

// NewInboxService creates the inbox service. A nil source leaves it unconfigured.
func NewInboxService(source MailSource, alerts EmailAlertStore, notifier Notifier, lookback time.Duration, maxMessages int, tz *time.Location, logger *zap.Logger) *InboxService {
	if tz == nil {
		tz = time.Local
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	if maxMessages <= 0 {
		maxMessages = 20
	}
	return &InboxService{
		source:      source,
		alerts:      alerts,
		notifier:    notifier,
		lookback:    lookback,
		maxMessages: maxMessages,
		timezone:    tz,
		now:         time.Now,
		logger:      logger.Named("inbox"),
	}
}

func (s *InboxService) IsConfigured() bool {
	return s.source != nil && s.source.IsConfigured()
}

// Recent returns the scored messages of the lookback window, oldest first.
func (s *InboxService) Recent(ctx context.Context) ([]ScoredEmail, error) {
	if !s.IsConfigured() {
		return nil, ErrInboxNotConfigured
	}
	msgs, err := s.source.Recent(ctx, s.now().Add(-s.lookback), s.maxMessages)
	if err != nil {
		return nil, fmt.Errorf("fetch recent emails: %w", err)
	}
	return score(msgs), nil
}

// Search returns up to limit scored messages containing query.
func (s *InboxService) Search(ctx context.Context, query string, limit int) ([]ScoredEmail, error) {
	if !s.IsConfigured() {
		return nil, ErrInboxNotConfigured
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	msgs, err := s.source.Search(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search emails: %w", err)
	}
	return score(msgs), nil
}

// Suggestions proposes one follow-up task per actionable recent email.
func (s *InboxService) Suggestions(ctx context.Context) ([]domain.TaskSuggestion, error) {
	emails, err := s.Recent(ctx)
	if err != nil {
		return nil, err
	}
	return SuggestTasks(emails, s.now().In(s.timezone)), nil
}

// CheckImportant announces unread high-importance emails that were not
// announced before, as one desktop summary. It returns the number of new
// emails in the summary.
func (s *InboxService) CheckImportant(ctx context.Context) (int, error) {
	emails, err := s.Recent(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var fresh []ScoredEmail
	for _, e := range emails {
		if e.Seen || e.Importance != ImportanceHigh {
			continue
		}
		ok, err := s.alerts.MarkEmailNotified(e.Key(), now)
		if err != nil {
			s.logger.Warn("Failed to record email alert", zap.String("message_id", e.Key()), zap.Error(err))
			continue
		}
		if ok {
			fresh = append(fresh, e)
		}
	}

	if len(fresh) > 0 {
		title, message := emailSummary(fresh)
		s.notifier.Enqueue(title, message, []domain.Channel{domain.ChannelDesktop}, domain.Options{Kind: domain.KindInfo})
		s.logger.Info("Important email summary sent", zap.Int("count", len(fresh)))
	}

	if err := s.alerts.PruneEmailAlerts(now.Add(-2 * s.lookback)); err != nil {
		s.logger.Warn("Failed to prune email alerts", zap.Error(err))
	}
	return len(fresh), nil
}

// RunCheck is the scheduler job wrapper around CheckImportant.
func (s *InboxService) RunCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.CheckImportant(ctx); err != nil {
		s.logger.Warn("Inbox check failed", zap.Error(err))
	}
}

// AssessImportance scores an email by keywords in its subject and body,
// then by bulk-mail markers in its sender.
func AssessImportance(subject, sender, body string) Importance {
	content := strings.ToLower(subject + " " + body)
	if containsAny(content, highImportanceKeywords) {
		return ImportanceHigh
	}
	if containsAny(content, mediumImportanceKeywords) {
		return ImportanceMedium
	}
	if containsAny(strings.ToLower(sender), bulkSenderMarkers) {
		return ImportanceLow
	}
	return ImportanceMedium
}

// SuggestTasks proposes a follow-up due two days from now for every email
// that mentions an action.
func SuggestTasks(emails []ScoredEmail, now time.Time) []domain.TaskSuggestion {
	var out []domain.TaskSuggestion
	for _, e := range emails {
		if !containsAny(strings.ToLower(e.Subject+" "+e.Body), actionKeywords) {
			continue
		}
		subject := e.Subject
		if subject == "" {
			subject = "Email"
		}
		sender := e.Sender
		if sender == "" {
			sender = "Unknown"
		}
		out = append(out, domain.TaskSuggestion{
			Title:       "Follow up: " + subject,
			Description: "Action needed for email from " + sender,
			SourceEmail: e.Key(),
			Priority:    suggestionPriority(e.Importance),
			Category:    "Email",
			DueDate:     now.AddDate(0, 0, 2).Format("2006-01-02"),
		})
	}
	return out
}

func suggestionPriority(imp Importance) domain.Priority {
	switch imp {
	case ImportanceHigh:
		return domain.PriorityHigh
	case ImportanceLow:
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}

func emailSummary(emails []ScoredEmail) (string, string) {
	title := fmt.Sprintf("📧 %d Important Emails", len(emails))

	lines := make([]string, 0, summaryListed)
	for i, e := range emails {
		if i == summaryListed {
			break
		}
		sender, subject := e.Sender, e.Subject
		if sender == "" {
			sender = "Unknown"
		}
		if subject == "" {
			subject = "No Subject"
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", sender, subject))
	}

	message := "You have important emails:\n\n" + strings.Join(lines, "\n")
	if len(emails) > summaryListed {
		message += fmt.Sprintf("\n\n...and %d more emails", len(emails)-summaryListed)
	}
	return title, message
}

func score(msgs []mailbox.Message) []ScoredEmail {
	out := make([]ScoredEmail, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ScoredEmail{Message: m, Importance: AssessImportance(m.Subject, m.Sender, m.Body)})
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
