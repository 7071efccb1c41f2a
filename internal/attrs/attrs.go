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

// Package attrs holds ordered, name-unique attribute sets with a bounded
// capacity.
package attrs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingRequired is returned when a required attribute is set to
	// an empty value.
	ErrMissingRequired = errors.New("attrs: missing required attribute")

	// ErrUnknown is returned when an attribute that has not been
	// set is requested.
	ErrUnknown = errors.New("attrs: unknown attribute")

	// ErrCapacityExceeded is returned when a new attribute would exceed the
	// capacity of the Store.
	ErrCapacityExceeded = errors.New("attrs: capacity exceeded")
)

// DefaultCapacity is the number of attributes a Store created with
// capacity <= 0 can hold.
const DefaultCapacity = 100

// Store is an ordered set of attribute names and values.
// Names are unique; setting an existing name moves it to the end.
type Store struct {
	keys     []string
	vals     map[string]string
	capacity int
}

// New returns an empty Store that can hold at most capacity attributes.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		vals:     make(map[string]string),
		capacity: capacity,
	}
}

// Set sets attribute name to value. Leading and trailing white space is
// removed from both. Setting an optional attribute to an empty value
// does nothing.
func (s *Store) Set(name, value string, required bool) error {
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return fmt.Errorf("%w: %s", ErrMissingRequired, name)
		}
		return nil
	}
	if _, ok := s.vals[name]; ok {
		s.remove(name)
	} else if len(s.keys) >= s.capacity {
		return fmt.Errorf("%w: cannot add %s (capacity %d)", ErrCapacityExceeded, name, s.capacity)
	}
	s.keys = append(s.keys, name)
	s.vals[name] = value
	return nil
}

func (s *Store) remove(name string) {
	for i, k := range s.keys {
		if k == name {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
	delete(s.vals, name)
}

// Delete removes name from the Store, if present.
func (s *Store) Delete(name string) {
	if _, ok := s.vals[name]; ok {
		s.remove(name)
	}
}

// Get returns the value of name.
func (s *Store) Get(name string) (string, error) {
	v, ok := s.vals[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return v, nil
}

// Value returns the value of name or "" if it is not set.
func (s *Store) Value(name string) string { return s.vals[name] }

// Has returns whether name has been set.
func (s *Store) Has(name string) bool {
	_, ok := s.vals[name]
	return ok
}

// Keys returns the attribute names in insertion order.
func (s *Store) Keys() []string {
	o := make([]string, len(s.keys))
	copy(o, s.keys)
	return o
}

// Len returns the number of attributes.
func (s *Store) Len() int { return len(s.keys) }

// Capacity returns the maximum number of attributes.
func (s *Store) Capacity() int { return s.capacity }

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	o := New(s.capacity)
	o.keys = s.Keys()
	for k, v := range s.vals {
		o.vals[k] = v
	}
	return o
}

// Reset removes all attributes.
func (s *Store) Reset() {
	s.keys = s.keys[:0]
	s.vals = make(map[string]string)
}
