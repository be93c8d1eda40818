package task

// Task Persistence Layer (C5). Generalizes the teacher's
// internal/task/store.go atomic temp-file+rename JSON persistence pattern
// (TaskStore interface, FileTaskStore) against the filter/sort/pagination/
// journal contract of original_source/api/resinkit_api/db/tasks_crud.py
// and db/models.py.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Filters narrows List results (spec.md §4.1).
type Filters struct {
	Status            Status
	TaskType          string
	CreatedBy         string
	ActiveOnly        bool
	TaskNameContains  string
	TagsIncludeAny    []string
	CreatedAfter      *time.Time
	CreatedBefore     *time.Time
}

// SortSpec is a field name plus direction (>0 ascending, <0 descending).
type SortSpec struct {
	Field     string
	Direction int
}

// ListOptions bounds and orders a List call (spec.md §4.1).
type ListOptions struct {
	Filters Filters
	Sort    *SortSpec
	Skip    int
	Limit   int
}

// Page is a result page plus a has_more flag, per the limit+1 probe
// pattern (spec.md §4.1).
type Page struct {
	Tasks   []*Task
	HasMore bool
}

// Store is the durable backing store for tasks and their event journal.
// Every status mutation MUST go through UpdateStatus so the journal write
// is atomic with the mutation (spec.md §4.1 contract).
type Store interface {
	Create(t *Task) error
	Get(taskID string) (*Task, bool)
	List(opts ListOptions) (Page, error)
	UpdateStatus(taskID string, newStatus Status, actor string, fields StatusUpdateFields) (*Task, error)
	Deactivate(taskID string) bool
	GetEvents(taskID string, skip, limit int) []*TaskEvent
	CreateEvent(e *TaskEvent) error
	DeleteEvents(taskID string) int
	HardDelete(taskID string) bool
}

// StatusUpdateFields carries the optional JSON documents an update may
// attach (spec.md §4.1).
type StatusUpdateFields struct {
	ErrorInfo        Document
	ResultSummary    Document
	ExecutionDetails Document
	ProgressDetails  Document
}

// FileStore is a file-backed Store: one JSON file per task under dir/tasks,
// plus one append-only JSON-lines event journal per task under dir/events.
// This generalizes the teacher's atomic-rename single-file pattern
// (internal/task/store.go::FileTaskStore) to a per-entity layout. Every
// task's full document is loaded into memory at startup, and List is
// served from that in-memory map.
type FileStore struct {
	mu    sync.RWMutex
	dir   string
	tasks map[string]*Task
	evts  map[string][]*TaskEvent
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "tasks"), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(dir, "events"), 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{dir: dir, tasks: make(map[string]*Task), evts: make(map[string][]*TaskEvent)}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) loadAll() error {
	taskFiles, err := filepath.Glob(filepath.Join(s.dir, "tasks", "*.json"))
	if err != nil {
		return err
	}
	for _, f := range taskFiles {
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		s.tasks[t.TaskID] = &t
	}

	eventFiles, err := filepath.Glob(filepath.Join(s.dir, "events", "*.jsonl"))
	if err != nil {
		return err
	}
	for _, f := range eventFiles {
		taskID := strings.TrimSuffix(filepath.Base(f), ".jsonl")
		data, err := os.ReadFile(f)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var e TaskEvent
			if err := json.Unmarshal([]byte(line), &e); err != nil {
				continue
			}
			s.evts[taskID] = append(s.evts[taskID], &e)
		}
	}
	return nil
}

func (s *FileStore) taskPath(taskID string) string {
	return filepath.Join(s.dir, "tasks", taskID+".json")
}

func (s *FileStore) eventsPath(taskID string) string {
	return filepath.Join(s.dir, "events", taskID+".jsonl")
}

// atomicWriteFile writes data to path via a temp file + rename, the same
// crash-safety pattern the teacher's FileTaskStore uses.
func atomicWriteFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *FileStore) persistTaskLocked(t *Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	return atomicWriteFile(s.taskPath(t.TaskID), data)
}

func (s *FileStore) Create(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.TaskID]; exists {
		return fmt.Errorf("store: task %s already exists", t.TaskID)
	}
	s.tasks[t.TaskID] = t
	if err := s.persistTaskLocked(t); err != nil {
		delete(s.tasks, t.TaskID)
		return err
	}
	return s.appendEventLocked(&TaskEvent{
		ID:        newEventID(),
		TaskID:    t.TaskID,
		EventType: EventCreated,
		NewStatus: t.Status,
		Timestamp: time.Now().UTC(),
		Actor:     t.CreatedBy,
	})
}

func (s *FileStore) Get(taskID string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *FileStore) List(opts ListOptions) (Page, error) {
	s.mu.RLock()
	all := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t)
	}
	s.mu.RUnlock()

	filtered := all[:0:0]
	for _, t := range all {
		if matchesFilters(t, opts.Filters) {
			filtered = append(filtered, t)
		}
	}

	sortTasks(filtered, opts.Sort)

	limit := opts.Limit
	if limit <= 0 {
		limit = len(filtered)
	}
	skip := opts.Skip
	if skip > len(filtered) {
		skip = len(filtered)
	}
	end := skip + limit + 1 // limit+1 probe for has_more
	if end > len(filtered) {
		end = len(filtered)
	}
	window := filtered[skip:end]

	hasMore := len(window) > limit
	if hasMore {
		window = window[:limit]
	}

	out := make([]*Task, len(window))
	for i, t := range window {
		out[i] = t.Clone()
	}
	return Page{Tasks: out, HasMore: hasMore}, nil
}

func matchesFilters(t *Task, f Filters) bool {
	if f.ActiveOnly && !t.Active {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.TaskType != "" && t.TaskType != f.TaskType {
		return false
	}
	if f.CreatedBy != "" && t.CreatedBy != f.CreatedBy {
		return false
	}
	if f.TaskNameContains != "" && !strings.Contains(strings.ToLower(t.TaskName), strings.ToLower(f.TaskNameContains)) {
		return false
	}
	if f.CreatedAfter != nil && t.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && t.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	if len(f.TagsIncludeAny) > 0 {
		matched := false
		for _, want := range f.TagsIncludeAny {
			for _, have := range t.Tags {
				if want == have {
					matched = true
					break
				}
			}
			if matched {
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func sortTasks(tasks []*Task, spec *SortSpec) {
	if spec == nil {
		sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
		return
	}
	less := func(i, j int) bool {
		a, b := fieldValue(tasks[i], spec.Field), fieldValue(tasks[j], spec.Field)
		if spec.Direction < 0 {
			return a > b
		}
		return a < b
	}
	sort.Slice(tasks, less)
}

func fieldValue(t *Task, field string) string {
	switch field {
	case "task_id":
		return t.TaskID
	case "task_type":
		return t.TaskType
	case "task_name":
		return t.TaskName
	case "status":
		return string(t.Status)
	case "created_by":
		return t.CreatedBy
	case "updated_at":
		return t.UpdatedAt.Format(time.RFC3339Nano)
	default:
		return t.CreatedAt.Format(time.RFC3339Nano)
	}
}

// UpdateStatus loads the row, sets updated_at, sets started_at on first
// RUNNING, sets finished_at on any terminal, writes the new status and any
// provided documents, and appends a STATUS_CHANGE event — all under one
// lock, matching tasks_crud.py::update_task_status's one-transaction
// contract (spec.md §4.1).
func (s *FileStore) UpdateStatus(taskID string, newStatus Status, actor string, fields StatusUpdateFields) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, newNotFound(taskID)
	}

	previous := t.Status
	now := time.Now().UTC()
	t.Status = newStatus
	t.UpdatedAt = now

	if newStatus == StatusRunning && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if newStatus.Terminal() && t.FinishedAt == nil {
		t.FinishedAt = &now
	}

	if fields.ErrorInfo != nil {
		t.ErrorInfo = fields.ErrorInfo
	}
	if fields.ResultSummary != nil {
		t.ResultSummary = fields.ResultSummary
	}
	if fields.ExecutionDetails != nil {
		t.ExecutionDetails = fields.ExecutionDetails
	}
	if fields.ProgressDetails != nil {
		t.ProgressDetails = fields.ProgressDetails
	}

	if err := s.persistTaskLocked(t); err != nil {
		return nil, err
	}

	eventData := Document{}
	if fields.ErrorInfo != nil {
		eventData["error_info"] = fields.ErrorInfo
	}
	if fields.ResultSummary != nil {
		eventData["result_summary"] = fields.ResultSummary
	}
	if len(eventData) == 0 {
		eventData = nil
	}

	if err := s.appendEventLocked(&TaskEvent{
		ID:             newEventID(),
		TaskID:         taskID,
		EventType:      EventStatusChange,
		PreviousStatus: previous,
		NewStatus:      newStatus,
		Timestamp:      now,
		Actor:          actor,
		EventData:      eventData,
	}); err != nil {
		return nil, err
	}

	return t.Clone(), nil
}

func (s *FileStore) Deactivate(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return false
	}
	t.Active = false
	t.UpdatedAt = time.Now().UTC()
	s.persistTaskLocked(t)
	return true
}

func (s *FileStore) appendEventLocked(e *TaskEvent) error {
	s.evts[e.TaskID] = append(s.evts[e.TaskID], e)
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(s.eventsPath(e.TaskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

func (s *FileStore) CreateEvent(e *TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newEventID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return s.appendEventLocked(e)
}

func (s *FileStore) GetEvents(taskID string, skip, limit int) []*TaskEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := append([]*TaskEvent(nil), s.evts[taskID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if skip > len(all) {
		return nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// DeleteEvents permanently deletes all journal entries for taskID,
// returning the count removed.
func (s *FileStore) DeleteEvents(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.evts[taskID])
	delete(s.evts, taskID)
	os.Remove(s.eventsPath(taskID))
	return n
}

// HardDelete permanently removes a task's events then its row, matching
// original_source's permanently_delete_task ordering.
func (s *FileStore) HardDelete(taskID string) bool {
	s.DeleteEvents(taskID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return false
	}
	delete(s.tasks, taskID)
	os.Remove(s.taskPath(taskID))
	return true
}
