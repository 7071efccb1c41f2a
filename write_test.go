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
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjahns/cmor/ncfile"
)

func TestWriteMonthly(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 12)
	id, err := s.DefineVariable(VariableSpec{
		Name:  "tas",
		Units: "K",
		Axes:  []AxisID{tm, lat, lon},
	})
	require.NoError(t, err)

	v, err := s.Variable(id)
	require.NoError(t, err)
	require.Len(t, v.Singletons, 1)
	assert.Equal(t, "height2m", s.axes[v.Singletons[0]].Def.ID)
	assert.Equal(t, Fresh, v.State())

	require.NoError(t, s.Write(id, fill(12*4, 280), WriteOptions{}))
	assert.Equal(t, Open, v.State())
	assert.Equal(t, 12, v.StepsWritten())

	path, err := s.Close(id, false)
	require.NoError(t, err)
	assert.Equal(t, "tas_Amon_MODEL-1_hist_r1i1p1f1_gn_200001-200012.nc", filepath.Base(path))
	assert.Equal(t, Closed, v.State())

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	n, err := f.DimensionLength("time")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	data, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	assert.Equal(t, fill(48, 280), data)
	times, err := f.ReadFloat64("time")
	require.NoError(t, err)
	assert.Equal(t, monthMidpoints(0, 12), times)
	assert.True(t, f.HasVariable("time_bnds"))
	assert.True(t, f.HasVariable("height"))
	exp, ok := f.Attribute("", "experiment_id")
	require.True(t, ok)
	assert.Equal(t, "hist", exp)

	err = s.Write(id, fill(4, 280), WriteOptions{})
	assert.True(t, IsCritical(err), "writing to a closed variable")
}

func TestWriteUnitConversionAndOrder(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	// Data is passed longitude first.
	id, err := s.DefineVariable(VariableSpec{
		Name:  "tas",
		Units: "degC",
		Axes:  []AxisID{tm, lon, lat},
	})
	require.NoError(t, err)
	v, err := s.Variable(id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 1}, v.perm)

	// [lon][lat]: (90,-45)=0 (90,45)=1 (270,-45)=2 (270,45)=3
	require.NoError(t, s.Write(id, []float64{0, 1, 2, 3}, WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	data, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	// Stored as [lat][lon].
	want := []float64{273.15, 275.15, 274.15, 276.15}
	require.Len(t, data, 4)
	for i := range want {
		assert.InDelta(t, want[i], data[i], 1e-3)
	}
}

func TestWriteMissingValues(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{
		Name:         "tas",
		Units:        "K",
		Axes:         []AxisID{tm, lat, lon},
		MissingValue: float32(-999),
	})
	require.NoError(t, err)
	w0, _ := s.Counts()
	require.NoError(t, s.Write(id, []float64{280, -999, 281, 282}, WriteOptions{}))
	w, _ := s.Counts()
	assert.Equal(t, w0+1, w, "missing value type differs from the data type")

	path, err := s.Close(id, false)
	require.NoError(t, err)
	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	data, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	assert.InDelta(t, 1e20, data[1], 1e14)
	assert.Equal(t, 280.0, data[0])
}

func TestWriteShapeMismatch(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 2)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	err = s.Write(id, fill(4, 280), WriteOptions{NumSteps: 2})
	assert.True(t, IsCritical(err))
}

func TestRequiredVariableAttribute(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	id, err := s.DefineVariable(VariableSpec{Name: "orog", Units: "m", Axes: []AxisID{lat, lon}})
	require.NoError(t, err)

	err = s.Write(id, fill(4, 100), WriteOptions{})
	require.Error(t, err)
	assert.True(t, IsCritical(err))
	assert.True(t, errors.Is(err, ErrMissingRequiredAttribute))

	require.NoError(t, s.SetVariableAttribute(id, "comment", "smoothed model orography"))
	c, err := s.VariableAttribute(id, "comment")
	require.NoError(t, err)
	assert.Equal(t, "smoothed model orography", c)
	require.NoError(t, s.Write(id, fill(4, 100), WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)
	assert.Equal(t, "orog_Amon_MODEL-1_hist_r1i1p1f1_gn.nc", filepath.Base(path))
}

func TestWriteAfterFailedDefine(t *testing.T) {
	s := newTestSession(t, Preserve)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	require.NoError(t, s.SetVariableAttribute(id, "flag_values", "0 one"))

	err = s.Write(id, fill(4, 280), WriteOptions{})
	assert.True(t, IsCritical(err))
	v, err := s.Variable(id)
	require.NoError(t, err)
	assert.Equal(t, Fresh, v.State())
	matches, err := filepath.Glob(filepath.Join(s.Dataset().OutPath, "*.nc"))
	require.NoError(t, err)
	assert.Empty(t, matches, "the partly defined file is removed")

	require.NoError(t, s.SetVariableAttribute(id, "flag_values", "0 1"))
	require.NoError(t, s.Write(id, fill(4, 280), WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	_, ok := f.Attribute("tas", "flag_values")
	assert.True(t, ok)
	data, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	assert.Equal(t, fill(4, 280), data)
}

func TestVariableAttributeCapacity(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	v, err := s.Variable(id)
	require.NoError(t, err)

	for i := v.Attrs.Len(); i < v.Attrs.Capacity(); i++ {
		require.NoError(t, s.SetVariableAttribute(id, "attr"+string(rune('a'+i%26))+string(rune('a'+i/26)), "x"))
	}
	err = s.SetVariableAttribute(id, "one_too_many", "x")
	require.Error(t, err)
	assert.False(t, IsCritical(err))
	// Existing attributes can still be replaced.
	require.NoError(t, s.SetVariableAttribute(id, "cell_methods", "time: point"))
}

func TestPositive(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)

	_, err := s.DefineVariable(VariableSpec{Name: "rlut", Axes: []AxisID{tm, lat, lon}})
	assert.True(t, IsCritical(err), "positive is required")
	_, err = s.DefineVariable(VariableSpec{Name: "rlut", Axes: []AxisID{tm, lat, lon}, Positive: "sideways"})
	assert.True(t, IsCritical(err))

	id, err := s.DefineVariable(VariableSpec{Name: "rlut", Units: "W m-2", Axes: []AxisID{tm, lat, lon}, Positive: "down"})
	require.NoError(t, err)
	require.NoError(t, s.Write(id, []float64{-240, -250, -260, -270}, WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)
	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	data, err := f.ReadFloat64("rlut")
	require.NoError(t, err)
	assert.Equal(t, []float64{240, 250, 260, 270}, data)
}

func TestCharacterAxis(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, _ := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)

	_, err := s.DefineAxis(AxisSpec{Name: "basin", CValues: []string{"atlantic_arctic_ocean"}})
	assert.True(t, IsCritical(err), "requested basins are missing")

	basin, err := s.DefineAxis(AxisSpec{Name: "basin"})
	require.NoError(t, err)
	a, err := s.Axis(basin)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())

	id, err := s.DefineVariable(VariableSpec{Name: "hfbasin", Units: "W", Axes: []AxisID{tm, basin, lat}})
	require.NoError(t, err)
	require.NoError(t, s.Write(id, fill(6, 1e15), WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"time", "basin", "lat"}, f.VariableDimensions("hfbasin"))
	assert.Equal(t, []string{"basin", "strlen"}, f.VariableDimensions("basin"))
}

func TestWriteTimesFromOptions(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm, err := s.DefineAxis(AxisSpec{Name: "time", Units: "hours since 2000-01-01"})
	require.NoError(t, err)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)

	err = s.Write(id, fill(4, 280), WriteOptions{TimeValues: []float64{12}})
	assert.True(t, IsCritical(err), "time bounds are required")

	require.NoError(t, s.Write(id, fill(8, 280), WriteOptions{
		TimeValues: []float64{12, 36},
		TimeBounds: []float64{0, 24, 48},
	}))
	v, err := s.Variable(id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v.firstTime)
	assert.Equal(t, 1.5, v.lastTime)
	assert.Equal(t, 2.0, v.lastBound)
}
