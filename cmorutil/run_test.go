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

package cmorutil

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjahns/cmor"
	"github.com/tjahns/cmor/ncfile"
)

const testTable = "../table/testdata/CMIP6_Amon.json"

// writeInput writes two months of temperatures on a 2x2 grid.
func writeInput(t *testing.T, path string) {
	t.Helper()
	f, err := (&ncfile.CDF{}).Create(path, true)
	require.NoError(t, err)
	require.NoError(t, f.DefineDimension("time", 0))
	require.NoError(t, f.DefineDimension("lat", 2))
	require.NoError(t, f.DefineDimension("lon", 2))
	require.NoError(t, f.DefineDimension("bnds", 2))
	require.NoError(t, f.DefineVariable("time", ncfile.Double, []string{"time"}))
	require.NoError(t, f.DefineVariable("time_bnds", ncfile.Double, []string{"time", "bnds"}))
	require.NoError(t, f.DefineVariable("temp", ncfile.Float, []string{"time", "lat", "lon"}))
	require.NoError(t, f.SetAttribute("time", "units", "days since 2000-01-01"))
	require.NoError(t, f.SetAttribute("temp", "units", "K"))
	require.NoError(t, f.SetAttribute("temp", "missing_value", 1e20))
	require.NoError(t, f.EndDefine())

	times := []float64{15.5, 45}
	bounds := []float64{0, 31, 31, 59}
	for i := 0; i < 2; i++ {
		require.NoError(t, f.WriteSlab("time", []int{i}, times[i:i+1]))
		require.NoError(t, f.WriteSlab("time_bnds", []int{i, 0}, bounds[2*i:2*i+2]))
		row := float64(280 + 4*i)
		require.NoError(t, f.WriteSlab("temp", []int{i, 0, 0}, []float64{row, row + 1, row + 2, row + 3}))
	}
	require.NoError(t, f.Close())
}

const testJob = `
InputFile = "input.nc"
Tables = [%q]

[Dataset]
OutPath = "out"
ExperimentID = "historical"
Institution = "Test Institute"
Source = "MODEL-1 (2020): atmosphere"
Calendar = "noleap"
Realization = 1
ForcingIndex = 1

[Dataset.Attributes]
activity_id = "CMIP"
institution_id = "TI"
source_id = "MODEL-1"
grid_label = "gn"

[[Axis]]
Name = "time"
Values = "time"
Bounds = "time_bnds"

[[Axis]]
Key = "lat"
Name = "latitude"
Units = "degrees_north"
Values = [-45, 45]
Bounds = [-90, 0, 90]

[[Axis]]
Key = "lon"
Name = "longitude"
Units = "degrees_east"
Values = [90.0, 270.0]
Bounds = [0, 180, 360]

[[Variable]]
Name = "tas"
OriginalName = "temp"
Axes = ["time", "lat", "lon"]

[Variable.Attributes]
references = "none"

[[Variable]]
Name = "orog"
Units = "m"
Comment = "flat"
Axes = ["lat", "lon"]
Values = [1, 2, 3, 4]
`

func writeJob(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	table, err := filepath.Abs(testTable)
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "out"), 0755))
	writeInput(t, filepath.Join(dir, "input.nc"))
	path := filepath.Join(dir, "job.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(fmt.Sprintf(testJob, table)), 0644))
	return path
}

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.Out = ioutil.Discard
	return log
}

func TestRun(t *testing.T) {
	path := writeJob(t)
	job, err := ReadJob(path)
	require.NoError(t, err)
	require.Len(t, job.Axis, 3)
	assert.Equal(t, "time", job.Axis[0].Key)

	paths, err := Run(context.Background(), job, RunConfig{Log: quietLog()})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	out := filepath.Join(filepath.Dir(path), "out")
	assert.Equal(t, filepath.Join(out, "tas_Amon_MODEL-1_hist_r1i1p1f1_gn_200001-200002.nc"), paths[0])
	assert.Equal(t, filepath.Join(out, "orog_Amon_MODEL-1_hist_r1i1p1f1_gn.nc"), paths[1])

	f, err := (&ncfile.CDF{}).Open(paths[0], false)
	require.NoError(t, err)
	defer f.Close()
	tas, err := f.ReadFloat64("tas")
	require.NoError(t, err)
	assert.Equal(t, []float64{280, 281, 282, 283, 284, 285, 286, 287}, tas)
	times, err := f.ReadFloat64("time")
	require.NoError(t, err)
	assert.Equal(t, []float64{15.5, 45}, times)
	ref, ok := f.Attribute("tas", "references")
	require.True(t, ok)
	assert.Equal(t, "none", ref)
	name, ok := f.Attribute("tas", "original_name")
	require.True(t, ok)
	assert.Equal(t, "temp", name)
}

func TestRunOverrides(t *testing.T) {
	path := writeJob(t)
	job, err := ReadJob(path)
	require.NoError(t, err)
	job.Variable = job.Variable[1:]
	out := t.TempDir()

	paths, err := Run(context.Background(), job, RunConfig{
		Log:        quietLog(),
		OutputPath: out,
		Attributes: map[string]string{"grid_label": "gr"},
	})
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, filepath.Join(out, "orog_Amon_MODEL-1_hist_r1i1p1f1_gr.nc"), paths[0])
}

func TestRunErrors(t *testing.T) {
	t.Run("no input file", func(t *testing.T) {
		path := writeJob(t)
		job, err := ReadJob(path)
		require.NoError(t, err)
		job.InputFile = ""
		_, err = Run(context.Background(), job, RunConfig{Log: quietLog()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "has no InputFile")
	})
	t.Run("missing input variable", func(t *testing.T) {
		path := writeJob(t)
		job, err := ReadJob(path)
		require.NoError(t, err)
		job.Variable[0].OriginalName = "precip"
		_, err = Run(context.Background(), job, RunConfig{Log: quietLog()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no variable precip")
	})
	t.Run("invalid experiment", func(t *testing.T) {
		path := writeJob(t)
		job, err := ReadJob(path)
		require.NoError(t, err)
		job.Dataset.ExperimentID = "bogus"
		_, err = Run(context.Background(), job, RunConfig{Log: quietLog()})
		require.Error(t, err)
		assert.False(t, cmor.IsCritical(err))
		assert.True(t, errors.Is(err, cmor.ErrInvalidExperimentID), err.Error())
	})
}

func TestReadJobErrors(t *testing.T) {
	tests := []struct {
		name, job, want string
	}{
		{"no tables", `[[Variable]]
Name = "tas"`, "at least one table"},
		{"unknown key", `Tables = ["a.json"]
Colour = "blue"`, "unknown keys: Colour"},
		{"unknown axis", `Tables = ["a.json"]
[[Variable]]
Name = "tas"
Axes = ["time"]`, "unknown axis time"},
		{"duplicate axis", `Tables = ["a.json"]
[[Axis]]
Name = "time"
[[Axis]]
Name = "time"`, "defined twice"},
		{"unknown grid", `Tables = ["a.json"]
[[Variable]]
Name = "tas"
Grid = "g"`, "unknown grid g"},
		{"no variables", `Tables = ["a.json"]`, "no variables"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "job.toml")
			require.NoError(t, ioutil.WriteFile(path, []byte(test.job), 0644))
			_, err := ReadJob(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.want)
		})
	}
}

func TestFloats(t *testing.T) {
	f, err := floats([]interface{}{int64(1), 2.5, "3"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, 3}, f)
	f, err = floats(int64(7))
	require.NoError(t, err)
	assert.Equal(t, []float64{7}, f)
	_, err = floats([]interface{}{"x"})
	assert.Error(t, err)
}
