/*
Copyright © 2017 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package table

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/ctessum/requestcache"
)

// DefaultCapacity is the default maximum number of tables in a Registry.
const DefaultCapacity = 30

// ErrCapacityExceeded is returned when loading more tables than the
// registry can hold.
var ErrCapacityExceeded = errors.New("table: too many tables loaded")

// Registry holds the tables loaded in a session. Each table id is
// loaded only once.
type Registry struct {
	capacity int

	cacheInit sync.Once
	cache     *requestcache.Cache

	mu     sync.Mutex
	tables []*Table
	byID   map[string]int

	// Loader reads a table file. It defaults to Load.
	Loader func(path string) (*Table, error)
}

// NewRegistry returns a registry that can hold up to capacity tables.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		byID:     make(map[string]int),
		Loader:   Load,
	}
}

// Load loads the table at path and returns its index in the registry.
// If a table with the same id is already loaded, its index is returned
// and the new file is discarded.
func (r *Registry) Load(ctx context.Context, path string) (int, *Table, error) {
	r.cacheInit.Do(func() {
		r.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			return r.Loader(request.(string))
		}, runtime.GOMAXPROCS(-1),
			requestcache.Deduplicate(), requestcache.Memory(r.capacity))
	})
	key := filepath.Clean(path)
	res, err := r.cache.NewRequest(ctx, path, key).Result()
	if err != nil {
		return -1, nil, err
	}
	t := res.(*Table)

	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[t.ID]; ok {
		return i, r.tables[i], nil
	}
	if len(r.tables) >= r.capacity {
		return -1, nil, fmt.Errorf("%w: loading %s (maximum %d)", ErrCapacityExceeded, path, r.capacity)
	}
	r.tables = append(r.tables, t)
	r.byID[t.ID] = len(r.tables) - 1
	return len(r.tables) - 1, t, nil
}

// Add registers an already parsed table.
func (r *Registry) Add(t *Table) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byID[t.ID]; ok {
		return i, nil
	}
	if len(r.tables) >= r.capacity {
		return -1, fmt.Errorf("%w: adding %s (maximum %d)", ErrCapacityExceeded, t.ID, r.capacity)
	}
	r.tables = append(r.tables, t)
	r.byID[t.ID] = len(r.tables) - 1
	return len(r.tables) - 1, nil
}

// Get returns the table at index i.
func (r *Registry) Get(i int) (*Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= len(r.tables) {
		return nil, fmt.Errorf("table: invalid table index %d (%d tables loaded)", i, len(r.tables))
	}
	return r.tables[i], nil
}

// Lookup returns the index of the table with the given id.
func (r *Registry) Lookup(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	return i, ok
}

// Len returns the number of loaded tables.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}
