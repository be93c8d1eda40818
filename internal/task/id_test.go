package task

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property 5 (spec.md §8): task-id format matches
// ^<task_type_lower>_[2-9A-HJ-NP-Za-km-z]{9}$.
var taskIDPattern = regexp.MustCompile(`^[a-z0-9_]+_[2-9A-HJ-NP-Za-km-z]{9}$`)

func TestGenerateTaskID_Format(t *testing.T) {
	cases := []string{"flink_cdc_pipeline", "flink_sql", "MixedCaseType"}
	for _, taskType := range cases {
		id, err := GenerateTaskID(taskType)
		require.NoError(t, err)
		assert.Regexp(t, taskIDPattern, id)
		assert.Contains(t, id, "_")
	}
}

func TestGenerateTaskID_NoAmbiguousChars(t *testing.T) {
	for i := 0; i < 50; i++ {
		id, err := GenerateTaskID("flink_sql")
		require.NoError(t, err)
		suffix := id[len("flink_sql_"):]
		assert.Len(t, suffix, taskIDSuffixLen)
		for _, c := range suffix {
			assert.NotContains(t, "0OIl1", string(c))
		}
	}
}

func TestGenerateTaskID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, err := GenerateTaskID("flink_sql")
		require.NoError(t, err)
		assert.False(t, seen[id], "collision detected")
		seen[id] = true
	}
}
