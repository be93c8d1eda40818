package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSqlTask_Statements_SplitsOnTerminatingSemicolon(t *testing.T) {
	task := &SqlTask{SQL: "SELECT 1;\nSELECT 2;"}
	stmts := task.statements()
	assert := assert.New(t)
	assert.Len(stmts, 2)
	assert.Equal("SELECT 1", stmts[0])
	assert.Equal("SELECT 2", stmts[1])
}

func TestSqlTask_Statements_SkipsBlankAndCommentLines(t *testing.T) {
	task := &SqlTask{SQL: "-- a comment\n\nSELECT 1;\n-- another\nSELECT 2;\n"}
	stmts := task.statements()
	assert.Equal(t, []string{"SELECT 1", "SELECT 2"}, stmts)
}

func TestSqlTask_Statements_MultiLineStatement(t *testing.T) {
	task := &SqlTask{SQL: "SELECT *\nFROM t\nWHERE x = 1;"}
	stmts := task.statements()
	assert.Equal(t, []string{"SELECT *\nFROM t\nWHERE x = 1"}, stmts)
}

func TestSqlRunner_ValidateConfig(t *testing.T) {
	r := NewSqlRunner(nil)

	cases := []struct {
		name    string
		cfg     Document
		wantErr bool
	}{
		{
			name: "valid",
			cfg: Document{
				"job": Document{
					"sql":      "SELECT 1;",
					"pipeline": Document{"parallelism": 1},
				},
				"task_timeout_seconds": 60,
			},
			wantErr: false,
		},
		{
			name:    "missing sql",
			cfg:     Document{"job": Document{}},
			wantErr: true,
		},
		{
			name: "zero parallelism",
			cfg: Document{
				"job": Document{"sql": "SELECT 1;", "pipeline": Document{"parallelism": 0}},
			},
			wantErr: true,
		},
		{
			name: "flink_jars entry missing name",
			cfg: Document{
				"job":       Document{"sql": "SELECT 1;"},
				"resources": Document{"flink_jars": []any{map[string]any{"location": "/a.jar"}}},
			},
			wantErr: true,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := r.ValidateConfig(c.cfg)
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
