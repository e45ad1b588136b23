package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/tazhate/nikassistant/internal/clients/caldav"
	"github.com/tazhate/nikassistant/internal/domain"
	"github.com/tazhate/nikassistant/internal/service"
	"go.uber.org/zap"
)

const (
	defaultDeliveryLimit = 50
	maxDeliveryLimit     = 500
	maxEmailSearchLimit  = 50
)

// APIResponse is the envelope of every JSON reply.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: true, Data: data})
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse{Success: false, Error: msg})
}

// taskError maps task service errors to status codes.
func (s *Server) taskError(w http.ResponseWriter, err error) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		jsonError(w, "task not found", http.StatusNotFound)
	case errors.As(err, &verr):
		jsonError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Task operation failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":                "ok",
		"time":                  s.now().Format("2006-01-02T15:04:05Z07:00"),
		"pending_notifications": s.deps.Notifications.Pending(),
		"reminders":             len(s.deps.Reminders.Reminders()),
	})
}

// GET /api/tasks?all=true
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	jsonResponse(w, http.StatusOK, s.deps.Tasks.List(all))
}

// POST /api/tasks
func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	created, err := s.deps.Tasks.Create(task)
	if err != nil {
		s.taskError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, created)
}

// GET /api/tasks/{id}
func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.deps.Tasks.Get(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

// PUT /api/tasks/{id}
func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var task domain.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		jsonError(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	task.ID = mux.Vars(r)["id"]

	updated, err := s.deps.Tasks.Update(task)
	if err != nil {
		s.taskError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// DELETE /api/tasks/{id}
func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Tasks.Delete(mux.Vars(r)["id"]); err != nil {
		s.taskError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, nil)
}

// POST /api/tasks/{id}/complete
func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Complete(mux.Vars(r)["id"])
	if err != nil {
		s.taskError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

// POST /api/tasks/{id}/reopen
func (s *Server) reopenTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.deps.Tasks.Reopen(mux.Vars(r)["id"])
	if err != nil {
		s.taskError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, task)
}

// GET /api/tasks/{id}/ics
func (s *Server) taskICS(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil {
		jsonError(w, "calendar export unavailable", http.StatusServiceUnavailable)
		return
	}
	task, ok := s.deps.Tasks.Get(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}
	if !task.HasDueDate() {
		jsonError(w, "task has no due date", http.StatusUnprocessableEntity)
		return
	}

	ev, err := s.deps.Calendar.TaskToEvent(task)
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	data, err := caldav.EncodeCalendar(caldav.EventToICS(ev, s.now()))
	if err != nil {
		s.logger.Error("Failed to encode task calendar", zap.String("task_id", task.ID), zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+task.ID+`.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// POST /api/tasks/{id}/calendar
func (s *Server) pushTaskToCalendar(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calendar == nil || !s.deps.Calendar.IsConfigured() {
		jsonError(w, service.ErrCalendarNotConfigured.Error(), http.StatusServiceUnavailable)
		return
	}
	task, ok := s.deps.Tasks.Get(mux.Vars(r)["id"])
	if !ok {
		jsonError(w, "task not found", http.StatusNotFound)
		return
	}

	ev, err := s.deps.Calendar.PushTask(r.Context(), task)
	if err != nil {
		s.logger.Warn("Failed to push task to calendar", zap.String("task_id", task.ID), zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, http.StatusOK, ev)
}

// GET /api/reminders
func (s *Server) listReminders(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, s.deps.Reminders.Reminders())
}

// POST /api/sweeps/overdue
func (s *Server) runOverdueSweep(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]int{"overdue": s.deps.Reminders.RunOverdueSweep()})
}

// POST /api/sweeps/summary
func (s *Server) runDailySummary(w http.ResponseWriter, r *http.Request) {
	today, tomorrow := s.deps.Reminders.RunDailySummary()
	jsonResponse(w, http.StatusOK, map[string]int{"due_today": today, "due_tomorrow": tomorrow})
}

// POST /api/notifications/test
func (s *Server) testNotifications(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusAccepted, s.deps.Notifications.SelfTest())
}

// GET /api/deliveries?limit=N
func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request) {
	if s.deps.Deliveries == nil {
		jsonResponse(w, http.StatusOK, []domain.Delivery{})
		return
	}

	limit := defaultDeliveryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxDeliveryLimit)
	}

	deliveries, err := s.deps.Deliveries.ListDeliveries(limit)
	if err != nil {
		s.logger.Error("Failed to list deliveries", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, http.StatusOK, deliveries)
}

func (s *Server) inboxReady(w http.ResponseWriter) bool {
	if s.deps.Inbox == nil || !s.deps.Inbox.IsConfigured() {
		jsonError(w, service.ErrInboxNotConfigured.Error(), http.StatusServiceUnavailable)
		return false
	}
	return true
}

// GET /api/emails?q=text&limit=N
func (s *Server) listEmails(w http.ResponseWriter, r *http.Request) {
	if !s.inboxReady(w) {
		return
	}

	var (
		emails []service.ScoredEmail
		err    error
	)
	if q := strings.TrimSpace(r.URL.Query().Get("q")); q != "" {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, convErr := strconv.Atoi(raw)
			if convErr != nil || n <= 0 {
				jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(n, maxEmailSearchLimit)
		}
		emails, err = s.deps.Inbox.Search(r.Context(), q, limit)
	} else {
		emails, err = s.deps.Inbox.Recent(r.Context())
	}
	if err != nil {
		s.logger.Warn("Failed to read inbox", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if emails == nil {
		emails = []service.ScoredEmail{}
	}
	jsonResponse(w, http.StatusOK, emails)
}

// GET /api/emails/suggestions
func (s *Server) emailSuggestions(w http.ResponseWriter, r *http.Request) {
	if !s.inboxReady(w) {
		return
	}
	suggestions, err := s.deps.Inbox.Suggestions(r.Context())
	if err != nil {
		s.logger.Warn("Failed to build task suggestions", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	if suggestions == nil {
		suggestions = []domain.TaskSuggestion{}
	}
	jsonResponse(w, http.StatusOK, suggestions)
}

// POST /api/sweeps/inbox
func (s *Server) runInboxCheck(w http.ResponseWriter, r *http.Request) {
	if !s.inboxReady(w) {
		return
	}
	n, err := s.deps.Inbox.CheckImportant(r.Context())
	if err != nil {
		s.logger.Warn("Inbox check failed", zap.Error(err))
		jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]int{"important": n})
}
