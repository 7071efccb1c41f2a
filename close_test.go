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
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjahns/cmor/calendar"
	"github.com/tjahns/cmor/ncfile"
)

func TestFormatDate(t *testing.T) {
	d := calendar.Date{Year: 850, Month: 3, Day: 7, Hour: 6, Minute: 30, Second: 15}
	tests := []struct {
		interval float64
		want     string
	}{
		{interval: 365 * 86400, want: "0850"},
		{interval: 30 * 86400, want: "085003"},
		{interval: 86400, want: "08500307"},
		{interval: 6 * 3600, want: "0850030706"},
		{interval: 3600, want: "085003070630"},
		{interval: 60, want: "08500307063015"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, formatDate(d, test.interval), "interval %g", test.interval)
	}
}

func TestAppend(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm, err := s.DefineAxis(AxisSpec{Name: "time", Units: "days since 2000-01-01"})
	require.NoError(t, err)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)

	require.NoError(t, s.Write(id, fill(5*4, 280), WriteOptions{
		TimeValues: monthMidpoints(0, 5),
		TimeBounds: noleapMonths[0:6],
	}))
	first, err := s.Close(id, true)
	require.NoError(t, err)
	assert.Equal(t, "tas_Amon_MODEL-1_hist_r1i1p1f1_gn_200001-200005.nc", filepath.Base(first))

	s.Mode = Append
	require.NoError(t, s.Write(id, fill(3*4, 281), WriteOptions{
		Suffix:     first,
		TimeValues: monthMidpoints(5, 8),
		TimeBounds: noleapMonths[5:9],
	}))
	v, err := s.Variable(id)
	require.NoError(t, err)
	assert.Equal(t, 8, v.StepsWritten())
	assert.NoFileExists(t, first)

	final, err := s.Close(id, false)
	require.NoError(t, err)
	assert.Equal(t, "tas_Amon_MODEL-1_hist_r1i1p1f1_gn_200001-200008.nc", filepath.Base(final))

	f, err := (&ncfile.CDF{}).Open(final, false)
	require.NoError(t, err)
	defer f.Close()
	n, err := f.DimensionLength("time")
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	times, err := f.ReadFloat64("time")
	require.NoError(t, err)
	assert.Equal(t, monthMidpoints(0, 8), times)
	data, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	assert.Equal(t, append(fill(20, 280), fill(12, 281)...), data)
}

func TestAppendMissingFile(t *testing.T) {
	s := newTestSession(t, Append)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	err = s.Write(id, fill(4, 280), WriteOptions{Suffix: "nothere"})
	assert.True(t, IsCritical(err))
}

func TestPreserveCopy(t *testing.T) {
	s := newTestSession(t, Preserve)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)

	require.NoError(t, s.Write(id, fill(4, 280), WriteOptions{}))
	first, err := s.Close(id, true)
	require.NoError(t, err)

	require.NoError(t, s.Write(id, fill(4, 281), WriteOptions{}))
	second, err := s.Close(id, true)
	assert.True(t, IsCritical(err))
	assert.Equal(t, first+".copy", second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}

func TestClimatology(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	_, err := s.DefineAxis(AxisSpec{Name: "time2", Units: "days since 2000-01-01", Values: []float64{15.5}})
	assert.True(t, IsCritical(err), "climatologies need bounds")

	tm, err := s.DefineAxis(AxisSpec{
		Name:   "time2",
		Units:  "days since 2000-01-01",
		Values: []float64{15.5},
		Bounds: []float64{0, 31},
	})
	require.NoError(t, err)
	id, err := s.DefineVariable(VariableSpec{Name: "tasclim", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	require.NoError(t, s.Write(id, fill(4, 280), WriteOptions{}))
	path, err := s.Close(id, false)
	require.NoError(t, err)
	assert.Equal(t, "tasclim_Amon_MODEL-1_hist_r1i1p1f1_gn_200001-200001-clim.nc", filepath.Base(path))

	f, err := (&ncfile.CDF{}).Open(path, false)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, f.HasVariable("climatology_bnds"))
	att, ok := f.Attribute("time", "climatology")
	require.True(t, ok)
	assert.Equal(t, "climatology_bnds", att)
}

func TestCloseErrors(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	id, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)

	_, err = s.Close(id, false)
	require.Error(t, err, "nothing written")
	assert.False(t, IsCritical(err))

	_, err = s.Close(VarID(42), false)
	assert.Error(t, err)
}

func TestCloseAll(t *testing.T) {
	s := newTestSession(t, Replace)
	lat, lon := defineLatLon(t, s)
	tm := defineMonths(t, s, 0, 1)
	tas, err := s.DefineVariable(VariableSpec{Name: "tas", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	_, err = s.DefineVariable(VariableSpec{Name: "pr", Units: "kg m-2 s-1", Axes: []AxisID{tm, lat, lon}})
	require.NoError(t, err)
	require.NoError(t, s.Write(tas, fill(4, 280), WriteOptions{}))

	w0, _ := s.Counts()
	require.NoError(t, s.CloseAll())
	w, _ := s.Counts()
	assert.Equal(t, w0+1, w, "pr was never written")

	v, err := s.Variable(tas)
	require.NoError(t, err)
	assert.Equal(t, Closed, v.State())
	matches, err := filepath.Glob(filepath.Join(s.Dataset().OutPath, "tas_*.nc"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, strings.HasSuffix(matches[0], "_200001-200001.nc"))
}
