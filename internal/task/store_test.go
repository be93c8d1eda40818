package task

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func seedTask(t *testing.T, s *FileStore, id, taskType string, createdAt time.Time) *Task {
	task := &Task{
		TaskID:           id,
		TaskType:         taskType,
		TaskName:         id,
		CreatedAt:        createdAt,
		UpdatedAt:        createdAt,
		Status:           StatusPending,
		SubmittedConfigs: Document{"task_type": taskType},
		Active:           true,
	}
	require.NoError(t, s.Create(task))
	return task
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "flink_sql_aaaaaaaaa", "flink_sql", time.Now().UTC())

	got, ok := s.Get("flink_sql_aaaaaaaaa")
	require.True(t, ok)
	assert.Equal(t, "flink_sql", got.TaskType)
	assert.Equal(t, StatusPending, got.Status)
}

// Property 1 & 2 (spec.md §8): every transition journals a TaskEvent;
// started_at set iff ever RUNNING, finished_at set iff terminal.
func TestStore_UpdateStatus_JournalAndTimestampInvariants(t *testing.T) {
	s := newTestStore(t)
	task := seedTask(t, s, "flink_sql_bbbbbbbbb", "flink_sql", time.Now().UTC())

	updated, err := s.UpdateStatus(task.TaskID, StatusRunning, "system", StatusUpdateFields{})
	require.NoError(t, err)
	assert.NotNil(t, updated.StartedAt)
	assert.Nil(t, updated.FinishedAt)

	updated, err = s.UpdateStatus(task.TaskID, StatusCompleted, "system", StatusUpdateFields{
		ResultSummary: Document{"rows": 1},
	})
	require.NoError(t, err)
	assert.NotNil(t, updated.FinishedAt)
	assert.True(t, updated.StartedAt.Before(*updated.FinishedAt) || updated.StartedAt.Equal(*updated.FinishedAt))

	events := s.GetEvents(task.TaskID, 0, 0)
	require.Len(t, events, 3) // CREATED + RUNNING + COMPLETED
	var sawRunning, sawCompleted bool
	for _, e := range events {
		if e.EventType == EventStatusChange && e.NewStatus == StatusRunning {
			sawRunning = true
		}
		if e.EventType == EventStatusChange && e.NewStatus == StatusCompleted {
			sawCompleted = true
			assert.Equal(t, StatusRunning, e.PreviousStatus)
		}
	}
	assert.True(t, sawRunning)
	assert.True(t, sawCompleted)
}

func TestStore_Deactivate_IsSoftDelete(t *testing.T) {
	s := newTestStore(t)
	task := seedTask(t, s, "flink_sql_ccccccccc", "flink_sql", time.Now().UTC())

	assert.True(t, s.Deactivate(task.TaskID))

	got, ok := s.Get(task.TaskID)
	require.True(t, ok)
	assert.False(t, got.Active)

	page, err := s.List(ListOptions{Filters: Filters{ActiveOnly: true}})
	require.NoError(t, err)
	for _, tk := range page.Tasks {
		assert.NotEqual(t, task.TaskID, tk.TaskID)
	}
}

func TestStore_HardDelete_RemovesTaskAndEvents(t *testing.T) {
	s := newTestStore(t)
	task := seedTask(t, s, "flink_sql_ddddddddd", "flink_sql", time.Now().UTC())
	_, err := s.UpdateStatus(task.TaskID, StatusCompleted, "system", StatusUpdateFields{})
	require.NoError(t, err)

	assert.True(t, s.HardDelete(task.TaskID))

	_, ok := s.Get(task.TaskID)
	assert.False(t, ok)
	assert.Empty(t, s.GetEvents(task.TaskID, 0, 0))
	assert.False(t, s.HardDelete(task.TaskID))
}

// Property 6 (spec.md §8): get_tasks(limit=L) then get_tasks(limit=L,
// offset=prevOffset+L) emits disjoint, ordered-contiguous pages.
func TestStore_List_PaginationIsDisjointAndContiguous(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC().Add(-1 * time.Hour)
	for i := 0; i < 10; i++ {
		seedTask(t, s, taskIDForIndex(i), "flink_sql", base.Add(time.Duration(i)*time.Second))
	}

	sort := &SortSpec{Field: "created_at", Direction: 1}

	page1, err := s.List(ListOptions{Sort: sort, Skip: 0, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, page1.Tasks, 4)
	assert.True(t, page1.HasMore)

	page2, err := s.List(ListOptions{Sort: sort, Skip: 4, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, page2.Tasks, 4)
	assert.True(t, page2.HasMore)

	page3, err := s.List(ListOptions{Sort: sort, Skip: 8, Limit: 4})
	require.NoError(t, err)
	assert.Len(t, page3.Tasks, 2)
	assert.False(t, page3.HasMore)

	seen := make(map[string]bool)
	var ordered []string
	for _, page := range []Page{page1, page2, page3} {
		for _, tk := range page.Tasks {
			assert.False(t, seen[tk.TaskID], "task %s appeared in more than one page", tk.TaskID)
			seen[tk.TaskID] = true
			ordered = append(ordered, tk.TaskID)
		}
	}
	assert.Len(t, seen, 10)
	for i := 0; i < len(ordered); i++ {
		assert.Equal(t, taskIDForIndex(i), ordered[i])
	}
}

func TestStore_List_FiltersByTaskNameContainsAndTags(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	a := seedTask(t, s, "flink_sql_eeeeeeeee", "flink_sql", now)
	a.TaskName = "Nightly ETL"
	a.Tags = []string{"prod"}
	s.persistTaskLocked(a)

	b := seedTask(t, s, "flink_sql_fffffffff", "flink_sql", now)
	b.TaskName = "Ad-hoc query"
	b.Tags = []string{"dev"}
	s.persistTaskLocked(b)

	page, err := s.List(ListOptions{Filters: Filters{TaskNameContains: "nightly"}})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, "flink_sql_eeeeeeeee", page.Tasks[0].TaskID)

	page, err = s.List(ListOptions{Filters: Filters{TagsIncludeAny: []string{"prod", "staging"}}})
	require.NoError(t, err)
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, "flink_sql_eeeeeeeee", page.Tasks[0].TaskID)
}

func taskIDForIndex(i int) string {
	return "flink_sql_" + strings.Repeat(string(rune('a'+i)), 9)
}
