package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Registry holds every schedule definition known to the engine. It is
// populated once at startup and read-only afterwards, so lookups need no
// locking.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry builds a registry from already-validated definitions. Used by
// tests and by callers that construct definitions in code.
func NewRegistry(defs ...*Definition) (*Registry, error) {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		if err := r.add(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(d *Definition) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, dup := r.defs[d.Name]; dup {
		return fmt.Errorf("%w: schedule %q defined twice", ErrInvalidScheduleState, d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// LoadDir reads every *.json file in dir as a schedule definition and
// validates it. A malformed definition fails the whole load: a schedule
// that silently never fires is worse than a startup error.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schedule directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	r := &Registry{defs: make(map[string]*Definition, len(names))}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read schedule file %s: %w", name, err)
		}
		var d Definition
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidScheduleState, name, err)
		}
		if err := r.add(&d); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return r, nil
}

// Get returns the named definition or ErrUnknownSchedule.
func (r *Registry) Get(name string) (*Definition, error) {
	d, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchedule, name)
	}
	return d, nil
}

// Names lists the registered schedule names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for n := range r.defs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
