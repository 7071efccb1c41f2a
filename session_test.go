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
	"context"
	"errors"
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "table/testdata/CMIP6_Amon.json"

// noleapMonths are the month edges of the year 2000 in a 365 day
// calendar, in days since 2000-01-01.
var noleapMonths = []float64{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365}

// monthMidpoints returns the midpoints of months [from, to).
func monthMidpoints(from, to int) []float64 {
	o := make([]float64, 0, to-from)
	for i := from; i < to; i++ {
		o = append(o, (noleapMonths[i]+noleapMonths[i+1])/2)
	}
	return o
}

func testDatasetSpec(dir string) DatasetSpec {
	return DatasetSpec{
		OutPath:      dir,
		ExperimentID: "historical",
		Institution:  "Test Institute, Somewhere",
		Source:       "MODEL-1 (2020): atmosphere",
		Calendar:     "noleap",
		Realization:  1,
		ForcingIndex: 1,
		Attributes: map[string]string{
			"activity_id":    "CMIP",
			"institution_id": "TI",
			"source_id":      "MODEL-1",
			"grid_label":     "gn",
		},
	}
}

// newTestSession returns a session writing to a temporary directory
// with the test table loaded and the dataset set up.
func newTestSession(t *testing.T, mode Mode) *Session {
	t.Helper()
	log := logrus.New()
	log.Out = ioutil.Discard
	s := NewSession(Config{Mode: mode, Log: log})
	s.SetExit(func(code int) {
		t.Fatalf("session exited with code %d", code)
	})
	_, err := s.LoadTable(context.Background(), testTable)
	require.NoError(t, err)
	require.NoError(t, s.SetDataset(testDatasetSpec(t.TempDir())))
	return s
}

// defineLatLon defines a 2x2 global latitude-longitude grid.
func defineLatLon(t *testing.T, s *Session) (lat, lon AxisID) {
	t.Helper()
	lat, err := s.DefineAxis(AxisSpec{
		Name:   "latitude",
		Units:  "degrees_north",
		Values: []float64{-45, 45},
		Bounds: []float64{-90, 0, 90},
	})
	require.NoError(t, err)
	lon, err = s.DefineAxis(AxisSpec{
		Name:   "longitude",
		Units:  "degrees_east",
		Values: []float64{90, 270},
		Bounds: []float64{0, 180, 360},
	})
	require.NoError(t, err)
	return lat, lon
}

// defineMonths defines a monthly time axis covering months [from, to)
// of the year 2000.
func defineMonths(t *testing.T, s *Session, from, to int) AxisID {
	t.Helper()
	id, err := s.DefineAxis(AxisSpec{
		Name:   "time",
		Units:  "days since 2000-01-01",
		Values: monthMidpoints(from, to),
		Bounds: noleapMonths[from : to+1],
	})
	require.NoError(t, err)
	return id
}

func fill(n int, v float64) []float64 {
	o := make([]float64, n)
	for i := range o {
		o[i] = v
	}
	return o
}

func TestNotSetUp(t *testing.T) {
	s := NewSession(Config{Log: logrus.New()})
	_, err := s.DefineAxis(AxisSpec{Name: "latitude"})
	require.Error(t, err)
	assert.True(t, IsCritical(err))
	assert.True(t, errors.Is(err, ErrNotSetUp))
}

func TestExitOnCritical(t *testing.T) {
	log := logrus.New()
	log.Out = ioutil.Discard
	s := NewSession(Config{Log: log, ExitOnCritical: true})
	code := -1
	s.SetExit(func(c int) { code = c })
	_, err := s.DefineAxis(AxisSpec{Name: "latitude"})
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestSetDataset(t *testing.T) {
	s := newTestSession(t, Replace)

	v, err := s.DatasetAttribute("institution")
	require.NoError(t, err)
	assert.Equal(t, "Test Institute, Somewhere", v)
	v, err = s.DatasetAttribute("physics_index")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, s.Dataset().Realization)

	err = s.SetDatasetAttribute("calendar", "360_day")
	assert.True(t, errors.Is(err, ErrReservedName))
	require.NoError(t, s.SetDatasetAttribute("further_info_url", "http://example.org"))
	assert.True(t, s.HasDatasetAttribute("further_info_url"))

	_, err = s.DatasetAttribute("not_there")
	assert.Error(t, err)
	assert.False(t, IsCritical(err))
}

func TestSetDatasetErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*DatasetSpec)
	}{
		{"missing institution", func(d *DatasetSpec) { d.Institution = "" }},
		{"missing source", func(d *DatasetSpec) { d.Source = " " }},
		{"unknown calendar", func(d *DatasetSpec) { d.Calendar = "Gregorian" }},
		{"custom calendar", func(d *DatasetSpec) { d.Calendar = "mine"; d.MonthLengths = []int{30, 30} }},
		{"negative realization", func(d *DatasetSpec) { d.Realization = -1 }},
		{"missing directory", func(d *DatasetSpec) { d.OutPath = d.OutPath + "/not/there" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			log := logrus.New()
			log.Out = ioutil.Discard
			s := NewSession(Config{Log: log})
			spec := testDatasetSpec(t.TempDir())
			test.modify(&spec)
			err := s.SetDataset(spec)
			require.Error(t, err)
			assert.True(t, IsCritical(err))
		})
	}
}

func TestCounts(t *testing.T) {
	s := newTestSession(t, Replace)
	w0, e0 := s.Counts()
	s.report(Warning, "a warning")
	err := s.report(Normal, "an error")
	assert.Error(t, err)
	assert.False(t, IsCritical(err))
	w, e := s.Counts()
	assert.Equal(t, w0+1, w)
	assert.Equal(t, e0+1, e)
}

func TestTraceback(t *testing.T) {
	s := newTestSession(t, Replace)
	func() {
		defer s.enter("Outer")()
		func() {
			defer s.enter("Inner")()
			err := s.report(Normal, "failure")
			var e *Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, []string{"Inner", "Outer"}, e.Trace)
		}()
	}()
	assert.Empty(t, s.traceback())
}
