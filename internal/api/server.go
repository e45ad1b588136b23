// Package api is the local HTTP surface used by the web UI.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/tazhate/nikassistant/internal/clients/caldav"
	"github.com/tazhate/nikassistant/internal/domain"
	"github.com/tazhate/nikassistant/internal/scheduler"
	"github.com/tazhate/nikassistant/internal/service"
	"go.uber.org/zap"
)

// Tasks is the task service as seen by the handlers.
type Tasks interface {
	Create(task domain.Task) (domain.Task, error)
	Update(task domain.Task) (domain.Task, error)
	Complete(id string) (domain.Task, error)
	Reopen(id string) (domain.Task, error)
	Delete(id string) error
	Get(id string) (domain.Task, bool)
	List(includeDone bool) []domain.Task
}

type Reminders interface {
	Reminders() []scheduler.Reminder
	RunOverdueSweep() int
	RunDailySummary() (dueToday, dueTomorrow int)
}

type Notifications interface {
	SelfTest() []domain.Notification
	Pending() int
}

type Deliveries interface {
	ListDeliveries(limit int) ([]domain.Delivery, error)
}

type Calendar interface {
	IsConfigured() bool
	TaskToEvent(task domain.Task) (caldav.Event, error)
	PushTask(ctx context.Context, task domain.Task) (caldav.Event, error)
}

// Inbox reads the watched mailbox.
type Inbox interface {
	IsConfigured() bool
	Recent(ctx context.Context) ([]service.ScoredEmail, error)
	Search(ctx context.Context, query string, limit int) ([]service.ScoredEmail, error)
	Suggestions(ctx context.Context) ([]domain.TaskSuggestion, error)
	CheckImportant(ctx context.Context) (int, error)
}

// Deps are the components behind the routes. Deliveries, Calendar and Inbox may be nil.
type Deps struct {
	Tasks         Tasks
	Reminders     Reminders
	Notifications Notifications
	Deliveries    Deliveries
	Calendar      Calendar
	Inbox         Inbox
}

type Server struct {
	deps           Deps
	allowedOrigins []string
	logger         *zap.Logger
	now            func() time.Time
}

// NewServer creates the HTTP API around deps.
func NewServer(deps Deps, allowedOrigins []string, logger *zap.Logger) *Server {
	return &Server{
		deps:           deps,
		allowedOrigins: allowedOrigins,
		logger:         logger.Named("api"),
		now:            time.Now,
	}
}

// Handler returns the router wrapped in CORS, panic recovery and access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(Recover(s.logger))
	r.Use(Logging(s.logger))

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	tasks := api.PathPrefix("/tasks").Subrouter()
	tasks.HandleFunc("", s.listTasks).Methods(http.MethodGet)
	tasks.HandleFunc("", s.createTask).Methods(http.MethodPost)
	tasks.HandleFunc("/{id}", s.getTask).Methods(http.MethodGet)
	tasks.HandleFunc("/{id}", s.updateTask).Methods(http.MethodPut)
	tasks.HandleFunc("/{id}", s.deleteTask).Methods(http.MethodDelete)
	tasks.HandleFunc("/{id}/complete", s.completeTask).Methods(http.MethodPost)
	tasks.HandleFunc("/{id}/reopen", s.reopenTask).Methods(http.MethodPost)
	tasks.HandleFunc("/{id}/ics", s.taskICS).Methods(http.MethodGet)
	tasks.HandleFunc("/{id}/calendar", s.pushTaskToCalendar).Methods(http.MethodPost)

	api.HandleFunc("/reminders", s.listReminders).Methods(http.MethodGet)
	api.HandleFunc("/sweeps/overdue", s.runOverdueSweep).Methods(http.MethodPost)
	api.HandleFunc("/sweeps/summary", s.runDailySummary).Methods(http.MethodPost)
	api.HandleFunc("/sweeps/inbox", s.runInboxCheck).Methods(http.MethodPost)
	api.HandleFunc("/emails", s.listEmails).Methods(http.MethodGet)
	api.HandleFunc("/emails/suggestions", s.emailSuggestions).Methods(http.MethodGet)
	api.HandleFunc("/notifications/test", s.testNotifications).Methods(http.MethodPost)
	api.HandleFunc("/deliveries", s.listDeliveries).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         86400,
	})
	return c.Handler(r)
}
