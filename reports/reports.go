// Package reports holds the fixed SQL reports served by the API.
//
// Every report is a single read-only query whose result rows are returned
// as-is. The built-in reports can be complemented, or their SQL replaced,
// from the [[reports]] tables of the configuration file.
package reports

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lememe/leme/config"
	"github.com/lememe/leme/consts"
)

// Report is a named query with an optional route of its own.
type Report struct {
	Name        string `json:"name"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description,omitempty"`
	SQL         string `json:"-"`
}

// reservedPaths are routes owned by the API itself.
var reservedPaths = map[string]bool{
	"/":        true,
	"/status":  true,
	"/reports": true,
	"/metrics": true,
}

// Registry is the set of reports, indexed by name and path.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Report
	byPath map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Report),
		byPath: make(map[string]string),
	}
}

// NewDefaultRegistry returns the built-in reports with the configured ones
// applied on top. A configured report whose name matches a built-in
// replaces its SQL, and its path or description when those are set.
func NewDefaultRegistry(configured []config.ReportConfig) (*Registry, error) {
	r := NewRegistry()
	for _, rep := range Builtin() {
		if err := r.Register(rep); err != nil {
			return nil, err
		}
	}

	for _, rc := range configured {
		existing, err := r.Lookup(rc.Name)
		if err != nil {
			if err := r.Register(Report{Name: rc.Name, Path: rc.Path, Description: rc.Description, SQL: rc.SQL}); err != nil {
				return nil, err
			}
			continue
		}
		existing.SQL = rc.SQL
		if rc.Path != "" {
			existing.Path = rc.Path
		}
		if rc.Description != "" {
			existing.Description = rc.Description
		}
		if err := r.Replace(existing); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func validate(rep Report) error {
	if rep.Name == "" {
		return fmt.Errorf("report name is required")
	}
	if strings.TrimSpace(rep.SQL) == "" {
		return fmt.Errorf("report %q: sql is required", rep.Name)
	}
	if rep.Path != "" {
		if !strings.HasPrefix(rep.Path, "/") {
			return fmt.Errorf("report %q: path %q must start with '/'", rep.Name, rep.Path)
		}
		if reservedPaths[rep.Path] || strings.HasPrefix(rep.Path, "/reports/") {
			return fmt.Errorf("report %q: path %q is reserved", rep.Name, rep.Path)
		}
	}
	return nil
}

// Register adds a new report. Names and paths must be unique.
func (r *Registry) Register(rep Report) error {
	if err := validate(rep); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[rep.Name]; ok {
		return fmt.Errorf("report %q is already registered", rep.Name)
	}
	if owner, ok := r.byPath[rep.Path]; ok && rep.Path != "" {
		return fmt.Errorf("report %q: path %q is already used by %q", rep.Name, rep.Path, owner)
	}
	r.byName[rep.Name] = rep
	if rep.Path != "" {
		r.byPath[rep.Path] = rep.Name
	}
	return nil
}

// Replace swaps an existing report for rep, matched by name.
func (r *Registry) Replace(rep Report) error {
	if err := validate(rep); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.byName[rep.Name]
	if !ok {
		return fmt.Errorf("%w: %s", consts.ErrReportNotFound, rep.Name)
	}
	if owner, ok := r.byPath[rep.Path]; ok && rep.Path != "" && owner != rep.Name {
		return fmt.Errorf("report %q: path %q is already used by %q", rep.Name, rep.Path, owner)
	}
	if old.Path != "" {
		delete(r.byPath, old.Path)
	}
	r.byName[rep.Name] = rep
	if rep.Path != "" {
		r.byPath[rep.Path] = rep.Name
	}
	return nil
}

// Lookup returns the report called name.
func (r *Registry) Lookup(name string) (Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep, ok := r.byName[name]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", consts.ErrReportNotFound, name)
	}
	return rep, nil
}

// LookupPath returns the report routed at path.
func (r *Registry) LookupPath(path string) (Report, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byPath[path]
	if !ok {
		return Report{}, fmt.Errorf("%w: %s", consts.ErrReportNotFound, path)
	}
	return r.byName[name], nil
}

// All returns every report sorted by name.
func (r *Registry) All() []Report {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Report, 0, len(r.byName))
	for _, rep := range r.byName {
		all = append(all, rep)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}
