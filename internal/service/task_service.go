package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tazhate/nikassistant/internal/domain"
	"go.uber.org/zap"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskFile persists the task list as one document.
type TaskFile interface {
	Load() ([]domain.Task, error)
	Save(tasks []domain.Task) error
}

// TaskListener is told about every applied mutation.
type TaskListener interface {
	HandleTaskEvent(ev domain.TaskEvent)
}

// TaskService is the authoritative in-memory task list. Every mutation
// builds a new slice and swaps it under one lock, so readers never see a
// partially applied change.
type TaskService struct {
	mu        sync.RWMutex
	tasks     []domain.Task
	file      TaskFile
	validate  *validator.Validate
	timezone  *time.Location
	now       func() time.Time
	logger    *zap.Logger
	listeners []TaskListener
	lmu       sync.RWMutex

	// emitMu is taken before mu is released and held while listeners run,
	// so events arrive in the order their mutations were applied.
	emitMu sync.Mutex
}

// NewTaskService loads the task document. A missing or corrupt document
// starts the service with an empty list.
func NewTaskService(file TaskFile, tz *time.Location, logger *zap.Logger) *TaskService {
	if tz == nil {
		tz = time.Local
	}
	s := &TaskService{
		file:     file,
		timezone: tz,
		now:      time.Now,
		logger:   logger.Named("tasks"),
		validate: newTaskValidator(tz),
	}

	tasks, err := file.Load()
	if err != nil {
		s.logger.Warn("Task document unreadable, starting empty", zap.Error(err))
		tasks = nil
	}
	s.tasks = tasks
	s.logger.Info("Loaded tasks", zap.Int("count", len(tasks)))
	return s
}

func newTaskValidator(tz *time.Location) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duedate", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		_, _, err := domain.ParseDueDate(fl.Field().String(), tz)
		return err == nil
	})
	return v
}

// Subscribe adds a listener. Listeners are called one event at a time and
// must not mutate the store.
func (s *TaskService) Subscribe(l TaskListener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *TaskService) emit(ev domain.TaskEvent) {
	s.lmu.RLock()
	listeners := append([]TaskListener(nil), s.listeners...)
	s.lmu.RUnlock()

	for _, l := range listeners {
		l.HandleTaskEvent(ev)
	}
}

// Create assigns an id, normalizes and validates the task, then stores it.
func (s *TaskService) Create(task domain.Task) (domain.Task, error) {
	task.ID = uuid.NewString()
	task.Status = domain.StatusActive
	task.CompletedAt = nil
	task.CreatedAt = s.now()
	if err := s.normalize(&task); err != nil {
		return domain.Task{}, err
	}

	err := s.mutate(func(tasks []domain.Task) ([]domain.Task, domain.TaskEvent, error) {
		return append(tasks, task), domain.TaskEvent{Kind: domain.TaskCreated, Task: task}, nil
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Update replaces the editable fields of an existing task. Status and
// bookkeeping fields are kept; use Complete and Reopen for status.
func (s *TaskService) Update(task domain.Task) (domain.Task, error) {
	var updated domain.Task
	err := s.mutate(func(tasks []domain.Task) ([]domain.Task, domain.TaskEvent, error) {
		i := indexOf(tasks, task.ID)
		if i < 0 {
			return nil, domain.TaskEvent{}, ErrTaskNotFound
		}
		cur := tasks[i]
		task.Status = cur.Status
		task.CreatedAt = cur.CreatedAt
		task.CompletedAt = cur.CompletedAt
		if err := s.normalize(&task); err != nil {
			return nil, domain.TaskEvent{}, err
		}
		tasks[i] = task
		updated = task
		return tasks, domain.TaskEvent{Kind: domain.TaskUpdated, Task: task}, nil
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	return updated, nil
}

// Complete marks the task done and cancels its reminder.
func (s *TaskService) Complete(id string) (domain.Task, error) {
	return s.setStatus(id, domain.StatusCompleted, domain.TaskCompleted)
}

// Reopen is the only way a completed task becomes active again.
func (s *TaskService) Reopen(id string) (domain.Task, error) {
	return s.setStatus(id, domain.StatusActive, domain.TaskReopened)
}

func (s *TaskService) setStatus(id string, status domain.Status, kind domain.TaskEventKind) (domain.Task, error) {
	var changed domain.Task
	err := s.mutate(func(tasks []domain.Task) ([]domain.Task, domain.TaskEvent, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return nil, domain.TaskEvent{}, ErrTaskNotFound
		}
		if tasks[i].Status == status {
			changed = tasks[i]
			return nil, domain.TaskEvent{}, nil
		}
		tasks[i].Status = status
		if status == domain.StatusCompleted {
			at := s.now()
			tasks[i].CompletedAt = &at
		} else {
			tasks[i].CompletedAt = nil
		}
		changed = tasks[i]
		return tasks, domain.TaskEvent{Kind: kind, Task: changed}, nil
	})
	if err != nil {
		return domain.Task{}, fmt.Errorf("set task status: %w", err)
	}
	return changed, nil
}

// Delete removes the task.
func (s *TaskService) Delete(id string) error {
	err := s.mutate(func(tasks []domain.Task) ([]domain.Task, domain.TaskEvent, error) {
		i := indexOf(tasks, id)
		if i < 0 {
			return nil, domain.TaskEvent{}, ErrTaskNotFound
		}
		ev := domain.TaskEvent{Kind: domain.TaskDeleted, Task: tasks[i]}
		return append(tasks[:i], tasks[i+1:]...), ev, nil
	})
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// Import replaces the whole list, e.g. from a file import. Tasks that fail
// validation are skipped and logged; the rest are kept.
func (s *TaskService) Import(tasks []domain.Task) (int, error) {
	accepted := make([]domain.Task, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" || seen[t.ID] {
			t.ID = uuid.NewString()
		}
		if t.Status == "" {
			t.Status = domain.StatusActive
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = s.now()
		}
		if err := s.normalize(&t); err != nil {
			s.logger.Warn("Skipping invalid task on import", zap.String("title", t.Title), zap.Error(err))
			continue
		}
		seen[t.ID] = true
		accepted = append(accepted, t)
	}

	err := s.mutate(func([]domain.Task) ([]domain.Task, domain.TaskEvent, error) {
		return accepted, domain.TaskEvent{Kind: domain.TasksReloaded}, nil
	})
	if err != nil {
		return 0, fmt.Errorf("import tasks: %w", err)
	}
	return len(accepted), nil
}

// Get returns a copy of the task.
func (s *TaskService) Get(id string) (domain.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := indexOf(s.tasks, id); i >= 0 {
		return s.tasks[i], true
	}
	return domain.Task{}, false
}

// List returns tasks in stored order. Done tasks are left out unless includeDone.
func (s *TaskService) List(includeDone bool) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if includeDone || t.IsActive() {
			out = append(out, t)
		}
	}
	return out
}

func (s *TaskService) ListActive() []domain.Task {
	return s.List(false)
}

// mutate applies fn to a copy of the list, persists and swaps it in, then
// hands the returned event to listeners outside mu. A nil list with a nil
// error means "nothing changed" and emits nothing.
func (s *TaskService) mutate(fn func([]domain.Task) ([]domain.Task, domain.TaskEvent, error)) error {
	s.mu.Lock()
	next, ev, err := fn(append([]domain.Task(nil), s.tasks...))
	if err != nil || next == nil {
		s.mu.Unlock()
		return err
	}
	if err := s.file.Save(next); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("persist tasks: %w", err)
	}
	s.tasks = next

	s.emitMu.Lock()
	s.mu.Unlock()
	defer s.emitMu.Unlock()

	s.emit(ev)
	return nil
}

func (s *TaskService) normalize(t *domain.Task) error {
	t.Title = strings.TrimSpace(t.Title)
	t.DueDate = strings.TrimSpace(t.DueDate)
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if err := s.validate.Struct(t); err != nil {
		return fmt.Errorf("validate task: %w", err)
	}
	return nil
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *TaskService) FormatTaskList(tasks []domain.Task) string {
	if len(tasks) == 0 {
		return "No tasks"
	}

	var sb strings.Builder
	for _, t := range tasks {
		status := "⬜"
		if !t.IsActive() {
			status = "✅"
		}
		sb.WriteString(fmt.Sprintf("%s %s %s", status, t.PriorityEmoji(), t.Title))
		if t.HasDueDate() {
			sb.WriteString(" (due " + t.DueDate + ")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
