// Package presets holds named sets of standard-source values: a handful of
// built-ins for common bench setups plus user presets persisted to disk.
package presets

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	pkgerrors "github.com/pkg/errors"

	"github.com/junwei-lu/metercal/pkg/params"
)

// Preset is one named bench setup.
type Preset struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	Standards   params.StandardValues `json:"standards"`
	// Tolerance overrides the session default when positive (percent).
	Tolerance float64 `json:"tolerance,omitempty"`
	Builtin   bool    `json:"builtin,omitempty"`
}

// Builtins returns the shipped presets. They are copies; callers can edit
// freely without affecting later calls.
func Builtins() []Preset {
	return []Preset{
		{
			Name:        "default-220v-1a",
			Description: "single-phase 220 V, 1 A, unity power factor",
			Standards:   params.StandardValues{Voltage: 220, Current: 1, PowerFactor: 1, Frequency: 50, Phase: 0, SmallCurrentThreshold: 0.1},
			Builtin:     true,
		},
		{
			Name:        "low-current",
			Description: "small-signal check at 0.25 A",
			Standards:   params.StandardValues{Voltage: 220, Current: 0.25, PowerFactor: 1, Frequency: 50, Phase: 0, SmallCurrentThreshold: 0.05},
			Builtin:     true,
		},
		{
			Name:        "high-current",
			Description: "load check at 10 A",
			Standards:   params.StandardValues{Voltage: 220, Current: 10, PowerFactor: 1, Frequency: 50, Phase: 0, SmallCurrentThreshold: 0.1},
			Builtin:     true,
		},
		{
			Name:        "inductive-load",
			Description: "0.5L power factor, 60° phase shift",
			Standards:   params.StandardValues{Voltage: 220, Current: 5, PowerFactor: 0.5, Frequency: 50, Phase: 60, SmallCurrentThreshold: 0.1},
			Builtin:     true,
		},
		{
			Name:        "precision",
			Description: "tight 0.2% tolerance acceptance run",
			Standards:   params.StandardValues{Voltage: 220, Current: 1, PowerFactor: 1, Frequency: 50, Phase: 0, SmallCurrentThreshold: 0.1},
			Tolerance:   0.2,
			Builtin:     true,
		},
		{
			Name:        "production-line",
			Description: "relaxed 2% tolerance for first-pass line calibration",
			Standards:   params.StandardValues{Voltage: 220, Current: 1, PowerFactor: 1, Frequency: 50, Phase: 0, SmallCurrentThreshold: 0.1},
			Tolerance:   2.0,
			Builtin:     true,
		},
	}
}

// Store manages user presets in a JSON file, layered over the built-ins.
// Safe for concurrent use; the daemon serves it from parallel requests.
type Store struct {
	path string

	mu   sync.RWMutex
	user map[string]Preset
}

// NewStore loads the user preset file. A missing file is an empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, user: map[string]Preset{}}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read preset file %s", path)
	}

	var list []Preset
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to parse preset file %s", path)
	}
	for _, p := range list {
		p.Builtin = false
		s.user[p.Name] = p
	}
	return s, nil
}

// List returns built-ins in their shipped order followed by user presets
// sorted by name. A user preset shadows a built-in of the same name.
func (s *Store) List() []Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shadowed := func(name string) bool {
		_, ok := s.user[name]
		return ok
	}

	var out []Preset
	for _, p := range Builtins() {
		if !shadowed(p.Name) {
			out = append(out, p)
		}
	}
	users := make([]Preset, 0, len(s.user))
	for _, p := range s.user {
		users = append(users, p)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return append(out, users...)
}

// Get finds a preset by name, user presets first.
func (s *Store) Get(name string) (Preset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.user[name]; ok {
		return p, true
	}
	for _, p := range Builtins() {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// Save validates and persists a user preset. Built-in names are reserved.
func (s *Store) Save(p Preset) error {
	if p.Name == "" {
		return pkgerrors.New("preset name must not be empty")
	}
	for _, b := range Builtins() {
		if b.Name == p.Name {
			return pkgerrors.Errorf("preset %q is built in and cannot be overwritten", p.Name)
		}
	}
	if err := p.Standards.Validate(); err != nil {
		return pkgerrors.Wrapf(err, "preset %q has invalid standards", p.Name)
	}
	if p.Tolerance < 0 {
		return pkgerrors.Errorf("preset %q has negative tolerance", p.Name)
	}

	p.Builtin = false
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user[p.Name] = p
	return s.flush()
}

// Delete removes a user preset. Built-ins cannot be deleted.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.user[name]; !ok {
		return pkgerrors.Errorf("no user preset named %q", name)
	}
	delete(s.user, name)
	return s.flush()
}

// flush writes the user presets to disk. Callers hold s.mu.
func (s *Store) flush() error {
	list := make([]Preset, 0, len(s.user))
	for _, p := range s.user {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return pkgerrors.Wrap(err, "failed to encode presets")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return pkgerrors.Wrapf(err, "failed to create preset directory for %s", s.path)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write preset file %s", s.path)
	}
	return nil
}
