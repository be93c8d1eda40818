package task

// Variable Store & Resolver (C1).
//
// Grounded on original_source/api/resinkit_api/db/variables_crud.py
// (CRUD + resolve_variables) and utils/misc_utils.py (get_system_variables).
// resolve_variables replaces each ${NAME} occurrence independently —
// SPEC_FULL.md Resolved Open Question 1 follows that semantics rather than
// misc_utils.py's older all-or-nothing string.Template.substitute port.

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
)

var variableRefPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}|\$([A-Za-z0-9_]+)`)

// VariableStore holds encrypted variables in memory only; they are not
// persisted and are lost when the process exits. The CRUD shape mirrors
// variables_crud.py.
type VariableStore struct {
	mu     sync.RWMutex
	vars   map[string]*Variable
	cipher *FernetCipher
}

func NewVariableStore(secret string) *VariableStore {
	return &VariableStore{
		vars:   make(map[string]*Variable),
		cipher: NewFernetCipher(secret),
	}
}

func (s *VariableStore) Create(name, value, description, createdBy string) (*Variable, error) {
	enc, err := s.cipher.Encrypt(value)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	v := &Variable{
		Name:           name,
		EncryptedValue: enc,
		Description:    description,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.mu.Lock()
	s.vars[name] = v
	s.mu.Unlock()
	return v, nil
}

func (s *VariableStore) Get(name string) (*Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vars[name]
	return v, ok
}

// GetDecrypted returns the plaintext value for name.
func (s *VariableStore) GetDecrypted(name string) (string, bool, error) {
	v, ok := s.Get(name)
	if !ok {
		return "", false, nil
	}
	plain, err := s.cipher.Decrypt(v.EncryptedValue)
	if err != nil {
		return "", true, err
	}
	return plain, true, nil
}

func (s *VariableStore) List() []*Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Variable, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, v)
	}
	return out
}

func (s *VariableStore) Update(name string, value, description *string) (*Variable, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vars[name]
	if !ok {
		return nil, nil
	}
	if value != nil {
		enc, err := s.cipher.Encrypt(*value)
		if err != nil {
			return nil, err
		}
		v.EncryptedValue = enc
	}
	if description != nil {
		v.Description = *description
	}
	v.UpdatedAt = time.Now().UTC()
	return v, nil
}

func (s *VariableStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vars[name]; !ok {
		return false
	}
	delete(s.vars, name)
	return true
}

// AllDecrypted returns every stored variable's plaintext value merged with
// the ephemeral system variables, as used before resolving a task payload.
func (s *VariableStore) AllDecrypted() (map[string]string, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.vars))
	for n := range s.vars {
		names = append(names, n)
	}
	s.mu.RUnlock()

	out := make(map[string]string, len(names)+3)
	for _, n := range names {
		plain, ok, err := s.GetDecrypted(n)
		if err != nil {
			return nil, fmt.Errorf("decrypt variable %q: %w", n, err)
		}
		if ok {
			out[n] = plain
		}
	}
	for k, v := range SystemVariables() {
		out[k] = v
	}
	return out, nil
}

// SystemVariables synthesizes the small set of per-resolution ephemeral
// variables documented in spec.md §6: __NOW_TS10__, __RANDOM_16BIT__,
// __SUUID_9__. Never stored.
func SystemVariables() map[string]string {
	out := map[string]string{
		"__NOW_TS10__": fmt.Sprintf("%d", time.Now().UnixMilli()),
	}
	if n, err := rand.Int(rand.Reader, big.NewInt(1<<15)); err == nil {
		out["__RANDOM_16BIT__"] = fmt.Sprintf("%d", n.Int64())
	} else {
		out["__RANDOM_16BIT__"] = "0"
	}
	if s, err := randomBase57(9); err == nil {
		out["__SUUID_9__"] = s
	}
	return out
}

// ResolveString substitutes every ${NAME} / $NAME occurrence in s that has
// a match in vars, leaving unresolved references literal (spec.md §4.4).
func ResolveString(s string, vars map[string]string) string {
	return variableRefPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := variableRefPattern.FindStringSubmatch(match)
		name := groups[1]
		if name == "" {
			name = groups[2]
		}
		if val, ok := vars[name]; ok {
			return val
		}
		return match
	})
}

// RenderWithVariables recursively walks doc, replacing every string leaf via
// ResolveString. Non-string leaves, map keys, and slice structure are left
// untouched. Grounded on task_base.py::render_with_variables.
func RenderWithVariables(doc any, vars map[string]string) any {
	switch v := doc.(type) {
	case string:
		return ResolveString(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = RenderWithVariables(val, vars)
		}
		return out
	case Document:
		out := make(Document, len(v))
		for k, val := range v {
			out[k] = RenderWithVariables(val, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = RenderWithVariables(val, vars)
		}
		return out
	default:
		return v
	}
}

// newEventID returns a fresh identifier for a TaskEvent journal row.
func newEventID() string {
	id, err := uuid.NewV4()
	if err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to a
		// time-seeded identifier rather than panic inside a journal write.
		return fmt.Sprintf("evt-%d", time.Now().UnixNano())
	}
	return id.String()
}
