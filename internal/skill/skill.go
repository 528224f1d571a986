// Package skill holds the narrow surface the agent framework calls: named
// capabilities with a string-in/string-out invoke.
package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type Skill struct {
	Name        string
	Description string

	// Run executes the skill. The returned string is shown to the agent.
	Run func(ctx context.Context, args map[string]string) (string, error)
}

// Registry is instance-owned so tests and multiple daemons don't share state.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
}

type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func NewRegistry() *Registry {
	return &Registry{skills: make(map[string]Skill)}
}

func (r *Registry) Register(s Skill) error {
	if r == nil {
		return fmt.Errorf("registry is nil")
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("skill name is required")
	}
	if s.Run == nil {
		return fmt.Errorf("skill %q has no run function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.skills[name]; exists {
		return fmt.Errorf("skill %q already registered", name)
	}
	s.Name = name
	r.skills[name] = s
	return nil
}

func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("registry is nil")
	}
	r.mu.RLock()
	s, ok := r.skills[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown skill %q", name)
	}
	return s.Run(ctx, args)
}

// List returns registered skills sorted by name.
func (r *Registry) List() []Info {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Info, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, Info{Name: s.Name, Description: s.Description})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
