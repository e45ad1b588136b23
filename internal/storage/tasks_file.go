package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tazhate/nikassistant/internal/domain"
)

// TaskFile is the flat JSON document holding the task list.
type TaskFile struct {
	path string
}

type taskDocument struct {
	Tasks []domain.Task `json:"tasks"`
}

// NewTaskFile returns the task document stored at path.
func NewTaskFile(path string) *TaskFile {
	return &TaskFile{path: path}
}

func (f *TaskFile) Path() string {
	return f.path
}

// Load reads the document. A missing file is an empty list, not an error.
func (f *TaskFile) Load() ([]domain.Task, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc taskDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode tasks file: %w", err)
	}
	return doc.Tasks, nil
}

// Save replaces the document atomically.
func (f *TaskFile) Save(tasks []domain.Task) error {
	if tasks == nil {
		tasks = []domain.Task{}
	}
	data, err := json.MarshalIndent(taskDocument{Tasks: tasks}, "", "    ")
	if err != nil {
		return fmt.Errorf("encode tasks: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create tasks dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace tasks file: %w", err)
	}
	return nil
}
