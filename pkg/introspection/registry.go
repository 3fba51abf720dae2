// Copyright 2025 Philipp Hossner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package introspection serves named debug variables as JSON over HTTP.
//
// Variables live in an instance-scoped Registry. A request may narrow the
// returned value with a kubectl-style JSONPath expression:
//
//	GET /debug/vars                        list variable paths
//	GET /debug/vars/all                    every variable
//	GET /debug/vars/summary                one variable
//	GET /debug/vars/nodes?field={[*].name} one field of a variable
package introspection

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned for a path with no published variable.
var ErrNotFound = errors.New("variable not found")

// Var is a debug variable. Get must be safe for concurrent use and return a
// JSON-serializable value.
type Var interface {
	Get() (any, error)
}

// Func adapts a function to Var.
type Func func() (any, error)

// Get calls f.
func (f Func) Get() (any, error) {
	return f()
}

// Registry holds published variables by path.
type Registry struct {
	mu   sync.RWMutex
	vars map[string]Var
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		vars: make(map[string]Var),
	}
}

// Publish registers v under path, replacing any earlier variable.
// Panics on an empty path or nil Var.
func (r *Registry) Publish(path string, v Var) {
	if path == "" {
		panic("introspection: empty path not allowed")
	}
	if v == nil {
		panic("introspection: nil Var not allowed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.vars[path] = v
}

// Get returns the current value of the variable at path.
func (r *Registry) Get(path string) (any, error) {
	r.mu.RLock()
	v, ok := r.vars[path]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, path)
	}

	return v.Get()
}

// GetWithField returns the variable at path narrowed by a JSONPath expression.
// An empty field returns the whole value.
func (r *Registry) GetWithField(path, field string) (any, error) {
	value, err := r.Get(path)
	if err != nil {
		return nil, err
	}
	return ExtractField(value, field)
}

// All returns the current value of every variable keyed by path.
func (r *Registry) All() (map[string]any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]any, len(r.vars))
	for path, v := range r.vars {
		value, err := v.Get()
		if err != nil {
			return nil, fmt.Errorf("failed to get variable %q: %w", path, err)
		}
		result[path] = value
	}
	return result, nil
}

// Paths returns the published paths in sorted order.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	paths := make([]string, 0, len(r.vars))
	for path := range r.vars {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
