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

package attrs

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := New(10)
	require.NoError(t, s.Set(" a ", " 1 ", false))
	require.NoError(t, s.Set("b", "2", true))
	require.NoError(t, s.Set("c", "", false))
	assert.Equal(t, []string{"a", "b"}, s.Keys())

	v, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	t.Run("required empty", func(t *testing.T) {
		err := s.Set("d", "  ", true)
		if !errors.Is(err, ErrMissingRequired) {
			t.Errorf("err = %v, want ErrMissingRequired", err)
		}
		assert.False(t, s.Has("d"))
	})

	t.Run("reset moves last", func(t *testing.T) {
		require.NoError(t, s.Set("a", "3", false))
		want := []string{"b", "a"}
		if !reflect.DeepEqual(s.Keys(), want) {
			t.Errorf("keys = %v, want %v", s.Keys(), want)
		}
		assert.Equal(t, "3", s.Value("a"))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := s.Get("zz")
		assert.True(t, errors.Is(err, ErrUnknown))
		assert.False(t, s.Has("zz"))
	})
}

func TestStoreCapacity(t *testing.T) {
	s := New(3)
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, s.Set(n, n, false))
	}
	err := s.Set("d", "d", false)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("err = %v, want ErrCapacityExceeded", err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
	assert.False(t, s.Has("d"))

	// Replacing an existing attribute does not grow the store.
	require.NoError(t, s.Set("a", "x", false))
	assert.Equal(t, 3, s.Len())
}

func TestStoreClone(t *testing.T) {
	s := New(0)
	require.NoError(t, s.Set("a", "1", false))
	c := s.Clone()
	require.NoError(t, c.Set("b", "2", false))
	assert.False(t, s.Has("b"))
	assert.Equal(t, DefaultCapacity, c.Capacity())
	s.Delete("a")
	assert.True(t, c.Has("a"))
	assert.Equal(t, 0, s.Len())
}
