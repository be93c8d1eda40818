package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Property 4 (spec.md §8): resolution is idempotent on strings containing
// no ${...}.
func TestResolveString_IdempotentWithoutPlaceholders(t *testing.T) {
	vars := map[string]string{"HOST": "db.example"}
	s := "jdbc://plainhost/db"
	once := ResolveString(s, vars)
	twice := ResolveString(once, vars)
	assert.Equal(t, s, once)
	assert.Equal(t, once, twice)
}

// S4 (spec.md §8): per-placeholder substitution — unresolved refs stay
// literal.
func TestResolveString_PerPlaceholder(t *testing.T) {
	vars := map[string]string{"HOST": "db.example", "PASS": "s3cret"}
	in := "jdbc://${HOST}/x?p=${PASS}&unknown=${MISSING}"
	out := ResolveString(in, vars)
	assert.Equal(t, "jdbc://db.example/x?p=s3cret&unknown=${MISSING}", out)
}

func TestResolveString_BareDollarSyntax(t *testing.T) {
	vars := map[string]string{"NAME": "otus"}
	assert.Equal(t, "hello otus!", ResolveString("hello $NAME!", vars))
}

func TestRenderWithVariables_RecursiveWalk(t *testing.T) {
	vars := map[string]string{"HOST": "db.example"}
	doc := Document{
		"job": Document{
			"url":   "jdbc://${HOST}/x",
			"count": 3,
			"tags":  []any{"${HOST}", "static"},
		},
	}
	out, ok := RenderWithVariables(doc, vars).(Document)
	assert := assert.New(t)
	assert.True(ok)
	job := out["job"].(Document)
	assert.Equal("jdbc://db.example/x", job["url"])
	assert.Equal(3, job["count"])
	tags := job["tags"].([]any)
	assert.Equal("db.example", tags[0])
	assert.Equal("static", tags[1])
}

func TestVariableStore_CreateGetDecryptUpdateDelete(t *testing.T) {
	assert := assert.New(t)
	s := NewVariableStore("unit-test-secret")

	_, err := s.Create("HOST", "db.example", "db host", "alice")
	assert.NoError(err)

	plain, ok, err := s.GetDecrypted("HOST")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("db.example", plain)

	newVal := "db2.example"
	_, err = s.Update("HOST", &newVal, nil)
	assert.NoError(err)
	plain, _, _ = s.GetDecrypted("HOST")
	assert.Equal("db2.example", plain)

	assert.True(s.Delete("HOST"))
	_, ok = s.Get("HOST")
	assert.False(ok)
}

func TestVariableStore_AllDecryptedMergesSystemVariables(t *testing.T) {
	s := NewVariableStore("unit-test-secret")
	_, err := s.Create("HOST", "db.example", "", "")
	assert.NoError(t, err)

	all, err := s.AllDecrypted()
	assert.NoError(t, err)
	assert.Equal(t, "db.example", all["HOST"])
	assert.Contains(t, all, "__NOW_TS10__")
	assert.Contains(t, all, "__RANDOM_16BIT__")
	assert.Contains(t, all, "__SUUID_9__")
}
