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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjahns/cmor/ncfile"
)

func defineXY(t *testing.T, s *Session) (x, y AxisID) {
	t.Helper()
	x, err := s.DefineAxis(AxisSpec{Name: "x", Units: "km", Values: []float64{0, 100}})
	require.NoError(t, err)
	y, err = s.DefineAxis(AxisSpec{Name: "y", Units: "m", Values: []float64{0, 100000}})
	require.NoError(t, err)
	return x, y
}

func TestProjectedGrid(t *testing.T) {
	s := newTestSession(t, Replace)
	x, y := defineXY(t, s)
	ya, err := s.Axis(y)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 100}, ya.Values, 1e-9, "converted to km")

	_, err = s.DefineGrid(GridSpec{Axes: []AxisID{y, x}, Latitude: []float64{40, 40}, Longitude: []float64{250, 251}})
	assert.True(t, IsCritical(err), "too few coordinates")
	_, err = s.DefineGrid(GridSpec{Axes: []AxisID{y, x}, Latitude: []float64{40, 40, 41, 95}, Longitude: []float64{250, 251, 250, 251}})
	assert.True(t, IsCritical(err), "latitude out of range")

	g, err := s.DefineGrid(GridSpec{
		Axes:      []AxisID{y, x},
		Latitude:  []float64{40, 40, 41, 41},
		Longitude: []float64{250, 251, 250, 251},
	})
	require.NoError(t, err)
	assert.NotEqual(t, NoGrid, g)

	err = s.SetGridMapping(g, "lambert_conformal_conic", map[string]float64{"not_a_parameter": 1}, nil)
	assert.True(t, IsCritical(err))
	err = s.SetGridMapping(g, "no_such_mapping", nil, nil)
	assert.True(t, IsCritical(err))
	require.NoError(t, s.SetGridMapping(g, "lambert_conformal_conic", map[string]float64{
		"standard_parallel":             33,
		"longitude_of_central_meridian": -97,
		"latitude_of_projection_origin": 40,
		"false_easting":                 0,
		"false_northing":                0,
		"semi_major_axis":               6370000,
	}, map[string]string{"false_easting": "km"}))

	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, y, x}, Grid: g})
	require.NoError(t, err)
	require.NoError(t, s.Write(id, []float64{280, 281, 282, 283}, WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"time", "y", "x"}, f.VariableDimensions("tas"))
	assert.Equal(t, []string{"y", "x"}, f.VariableDimensions("lat"))
	lat, err := f.ReadFloat64("lat")
	require.NoError(t, err)
	assert.Equal(t, []float64{40, 40, 41, 41}, lat)
	gm, ok := f.Attribute("tas", "grid_mapping")
	require.True(t, ok)
	assert.Equal(t, "lambert_conformal_conic", gm)
	coords, ok := f.Attribute("tas", "coordinates")
	require.True(t, ok)
	assert.True(t, strings.Contains(coords.(string), "lat lon"))
	assert.True(t, f.HasVariable("lambert_conformal_conic"))
	u, ok := f.Attribute("lambert_conformal_conic", "false_easting_units")
	require.True(t, ok)
	assert.Equal(t, "km", u)
}

func TestTimeVaryingGrid(t *testing.T) {
	s := newTestSession(t, Replace)
	x, y := defineXY(t, s)
	tm := defineMonths(t, s, 0, 2)

	_, err := s.DefineGrid(GridSpec{Axes: []AxisID{tm, y, x}, Latitude: fill(4, 40), Longitude: fill(4, 250)})
	assert.True(t, IsCritical(err))

	g, err := s.DefineGrid(GridSpec{Axes: []AxisID{tm, y, x}})
	require.NoError(t, err)
	grid, err := s.Grid(g)
	require.NoError(t, err)
	assert.True(t, grid.TimeVarying())

	_, err = s.DefineTimeVaryingGridCoordinate(g, "vertices_latitude", "degrees_north", 1e20)
	assert.True(t, IsCritical(err), "no vertices")
	_, err = s.DefineTimeVaryingGridCoordinate(g, "height", "m", 1e20)
	assert.True(t, IsCritical(err))

	latID, err := s.DefineTimeVaryingGridCoordinate(g, "latitude", "degrees_north", 1e20)
	require.NoError(t, err)
	lonID, err := s.DefineTimeVaryingGridCoordinate(g, "longitude", "degrees_east", 1e20)
	require.NoError(t, err)
	got, ok := grid.Coordinate(GridLatitude)
	require.True(t, ok)
	assert.Equal(t, latID, got)

	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, y, x}, Grid: g})
	require.NoError(t, err)
	require.NoError(t, s.Write(id, fill(8, 280), WriteOptions{}))
	require.NoError(t, s.Write(latID, []float64{40, 40, 41, 41, 40.5, 40.5, 41.5, 41.5}, WriteOptions{RefVar: &id}))
	require.NoError(t, s.Write(lonID, fill(4, 250), WriteOptions{RefVar: &id, NumSteps: 1}))

	_, err = s.Close(id, false)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "has a time varying grid"), err.Error())
	assert.True(t, strings.Contains(err.Error(), "(longitude) has 1 times written"), err.Error())
}

// appendTimeVaryingGrid writes 5 steps of tas on a time-varying grid,
// closes it and appends 3 more steps. Longitudes are only written for
// the appended steps if writeLon is set.
func appendTimeVaryingGrid(t *testing.T, writeLon bool) (string, error) {
	t.Helper()
	s := newTestSession(t, Replace)
	x, y := defineXY(t, s)
	tm, err := s.DefineAxis(AxisSpec{Name: "time", Units: "days since 2000-01-01"})
	require.NoError(t, err)
	g, err := s.DefineGrid(GridSpec{Axes: []AxisID{tm, y, x}})
	require.NoError(t, err)
	latID, err := s.DefineTimeVaryingGridCoordinate(g, "latitude", "degrees_north", 1e20)
	require.NoError(t, err)
	lonID, err := s.DefineTimeVaryingGridCoordinate(g, "longitude", "degrees_east", 1e20)
	require.NoError(t, err)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, y, x}, Grid: g})
	require.NoError(t, err)

	require.NoError(t, s.Write(id, fill(5*4, 280), WriteOptions{
		TimeValues: monthMidpoints(0, 5),
		TimeBounds: noleapMonths[0:6],
	}))
	require.NoError(t, s.Write(latID, fill(5*4, 40), WriteOptions{RefVar: &id}))
	require.NoError(t, s.Write(lonID, fill(5*4, 250), WriteOptions{RefVar: &id}))
	first, err := s.Close(id, true)
	require.NoError(t, err)

	s.Mode = Append
	require.NoError(t, s.Write(id, fill(3*4, 281), WriteOptions{
		Suffix:     first,
		TimeValues: monthMidpoints(5, 8),
		TimeBounds: noleapMonths[5:9],
	}))
	v, err := s.Variable(id)
	require.NoError(t, err)
	assert.Equal(t, 8, v.StepsWritten())
	assert.Equal(t, 5, v.assocSteps[latID], "seeded from the existing file")
	assert.Equal(t, 5, v.assocSteps[lonID], "seeded from the existing file")

	require.NoError(t, s.Write(latID, fill(3*4, 41), WriteOptions{RefVar: &id}))
	if writeLon {
		require.NoError(t, s.Write(lonID, fill(3*4, 251), WriteOptions{RefVar: &id}))
	}
	return s.Close(id, false)
}

func TestTimeVaryingGridAppend(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		path, err := appendTimeVaryingGrid(t, true)
		require.NoError(t, err)
		f, err := (&ncfile.CDF{}).Open(path, false)
		require.NoError(t, err)
		defer f.Close()
		lat, err := f.ReadFloat64("lat")
		require.NoError(t, err)
		assert.Equal(t, append(fill(5*4, 40), fill(3*4, 41)...), lat)
		lon, err := f.ReadFloat64("lon")
		require.NoError(t, err)
		assert.Equal(t, append(fill(5*4, 250), fill(3*4, 251)...), lon)
	})
	t.Run("missing longitudes", func(t *testing.T) {
		_, err := appendTimeVaryingGrid(t, false)
		require.Error(t, err)
		assert.True(t, IsCritical(err))
		assert.True(t, strings.Contains(err.Error(), "you wrote 8 time steps for the variable"), err.Error())
		assert.True(t, strings.Contains(err.Error(), "(longitude) has 5 times written"), err.Error())
	})
}
