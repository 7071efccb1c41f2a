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

package cmor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjahns/cmor/ncfile"
)

func TestDefineAxisErrors(t *testing.T) {
	tests := []struct {
		name string
		spec AxisSpec
	}{
		{"unknown axis", AxisSpec{Name: "depth"}},
		{"missing bounds", AxisSpec{Name: "latitude", Values: []float64{0}}},
		{"bad bounds", AxisSpec{Name: "latitude", Values: []float64{0, 10}, Bounds: []float64{1, 2, 3, 4, 5}}},
		{"out of range", AxisSpec{Name: "latitude", Values: []float64{0, 100}, Bounds: []float64{-5, 5, 105}}},
		{"not monotonic", AxisSpec{Name: "longitude", Values: []float64{0, 10, 5}, Bounds: []float64{0, 1, 2, 3}}},
		{"missing requested level", AxisSpec{Name: "plev3", Units: "Pa", Values: []float64{85000, 50000}}},
		{"bad units", AxisSpec{Name: "plev3", Units: "m", Values: []float64{85000, 50000, 25000}}},
		{"bad time units", AxisSpec{Name: "time", Units: "fortnights"}},
		{"time not increasing", AxisSpec{Name: "time", Units: "days since 2000-01-01", Values: []float64{2, 1}, Bounds: []float64{3, 2, 1}}},
		{"mixed values", AxisSpec{Name: "basin", Values: []float64{1}, CValues: []string{"a"}}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s := newTestSession(t, Replace)
			_, err := s.DefineAxis(test.spec)
			require.Error(t, err)
			assert.True(t, IsCritical(err))
		})
	}
}

func TestRequestedLevels(t *testing.T) {
	s := newTestSession(t, Replace)
	id, err := s.DefineAxis(AxisSpec{Name: "plev3", Units: "hPa", Values: []float64{250, 500, 850.0001}})
	require.NoError(t, err)
	a, err := s.Axis(id)
	require.NoError(t, err)
	// Converted to Pa and reversed to the stored direction.
	assert.InDeltaSlice(t, []float64{85000.01, 50000, 25000}, a.Values, 1e-6)
	assert.True(t, a.Reverted)
	assert.Equal(t, "plev", a.Name())
}

func TestReversedLatitude(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, err := s.DefineAxis(AxisSpec{
		Name:   "latitude",
		Values: []float64{45, -45},
		Bounds: []float64{90, 0, -90},
	})
	require.NoError(t, err)
	_, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	a, err := s.Axis(lat)
	require.NoError(t, err)
	assert.Equal(t, []float64{-45, 45}, a.Values)
	assert.True(t, a.Reverted)

	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	// Rows from north to south.
	require.NoError(t, s.Write(id, []float64{290, 291, 280, 281}, WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	data, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	assert.Equal(t, []float64{280, 281, 290, 291}, data)
}

func TestSingletonAxis(t *testing.T) {
	s := newTestSession(t, Replace)
	id, err := s.DefineAxis(AxisSpec{Name: "height2m"})
	require.NoError(t, err)
	a, err := s.Axis(id)
	require.NoError(t, err)
	assert.True(t, a.IsSingleton)
	assert.Equal(t, []float64{2}, a.Values)

	require.NoError(t, s.SetAxisAttribute(id, "comment", "screen height"))
	assert.Equal(t, "screen height", a.Attrs.Value("comment"))
}
