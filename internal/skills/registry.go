package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nextain/naia-agent/pkg/models"
)

var (
	// ErrDuplicateSkill is returned when a name is registered twice.
	ErrDuplicateSkill = errors.New("skill already registered")

	// ErrMissingPrefix is returned for names that do not start with Prefix.
	ErrMissingPrefix = errors.New("skill name must have " + Prefix + " prefix")
)

// Registry holds skills in registration order.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]*Skill)}
}

// Register adds s.
func (r *Registry) Register(s *Skill) error {
	if !strings.HasPrefix(s.Name, Prefix) || len(s.Name) == len(Prefix) {
		return fmt.Errorf("%w: %q", ErrMissingPrefix, s.Name)
	}
	if s.Handler == nil {
		return fmt.Errorf("skill %s has no handler", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[s.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, s.Name)
	}
	r.skills[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// Get returns the skill registered under name.
func (r *Registry) Get(name string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// List returns all skills in registration order.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}

// Execute runs the named skill. Handler errors become failed results.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, env Env) *models.ToolResult {
	s, ok := r.Get(name)
	if !ok {
		return models.Failed("Unknown skill: " + name)
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := s.Handler(ctx, args, env)
	if err != nil {
		return models.Failed(err.Error())
	}
	if res == nil {
		return models.Failed("skill returned no result")
	}
	return res
}
