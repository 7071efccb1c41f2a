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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cast"
)

// Job describes a rewriting job. Array values in the job (axis values,
// bounds, grid coordinates and data) may either be given inline or as
// the name of a variable in InputFile.
type Job struct {
	// InputFile is a NetCDF classic file holding the data to rewrite.
	InputFile string
	// Tables are the paths of the tables to load. The last one is the
	// default table of axes and variables that do not name one.
	Tables []string

	Dataset  DatasetJob
	Axis     []AxisJob
	Grid     []GridJob
	ZFactor  []ZFactorJob
	Variable []VariableJob

	// dir is the directory of the job file. Relative paths in the job
	// are resolved against it.
	dir string
}

// DatasetJob holds the dataset settings of a job.
type DatasetJob struct {
	OutPath      string
	ExperimentID string
	Institution  string
	Source       string
	Calendar     string
	Realization  int

	Contact, History, Comment, References string

	ModelID              string
	Forcing              string
	InitializationMethod int
	PhysicsIndex         int
	ForcingIndex         int
	InstituteID          string
	ParentExperimentID   string
	ParentExperimentRIP  string
	// BranchTime is a number. It is left unset for experiments
	// without a parent.
	BranchTime interface{}

	PathTemplate, FileTemplate string

	Attributes map[string]interface{}
}

// AxisJob describes an axis.
type AxisJob struct {
	// Key is the name grids and variables use to refer to the axis.
	// It defaults to Name.
	Key     string
	Table   string
	Name    string
	Units   string
	Values  interface{}
	Bounds  interface{}
	CValues []string
	// Interval is the sampling interval, e.g. "30 minutes".
	Interval   string
	Attributes map[string]interface{}
}

// GridJob describes a grid.
type GridJob struct {
	Key  string
	Axes []string

	Latitude, Longitude                 interface{}
	VerticesLatitude, VerticesLongitude interface{}
	NVertices                           int

	// Mapping is the name of the grid mapping, e.g.
	// "lambert_conformal_conic".
	Mapping        string
	Parameters     map[string]interface{}
	ParameterUnits map[string]string

	// TimeVarying lists the coordinates ("latitude", "longitude",
	// "vertices_latitude", "vertices_longitude") that change with time.
	// They are read from the input variables named by the matching
	// fields above and written with each variable on the grid.
	TimeVarying []string
}

// ZFactorJob describes a term of a vertical coordinate formula.
type ZFactorJob struct {
	ZAxis  string
	Name   string
	Units  string
	Axes   []string
	Values interface{}
	Bounds interface{}
}

// VariableJob describes a variable to rewrite.
type VariableJob struct {
	Table string
	Name  string
	Units string
	Axes  []string
	Grid  string
	Type  string
	// Values are the data. If they are not given, the input variable
	// named OriginalName, or Name, is read.
	Values       interface{}
	MissingValue interface{}
	Positive     string
	OriginalName string
	History      string
	Comment      string
	// Suffix names the file to append to in append mode.
	Suffix     string
	Attributes map[string]interface{}
}

// ReadJob reads a job file.
func ReadJob(path string) (*Job, error) {
	j := new(Job)
	md, err := toml.DecodeFile(path, j)
	if err != nil {
		return nil, fmt.Errorf("cmor: reading job %s: %v", path, err)
	}
	if u := md.Undecoded(); len(u) > 0 {
		keys := make([]string, len(u))
		for i, k := range u {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("cmor: job %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	j.dir = filepath.Dir(path)
	for i, a := range j.Axis {
		if a.Key == "" {
			j.Axis[i].Key = a.Name
		}
	}
	return j, j.check()
}

// check makes sure that the job is complete and that all references
// between its parts can be resolved.
func (j *Job) check() error {
	if len(j.Tables) == 0 {
		return fmt.Errorf("cmor: the job needs at least one table")
	}
	axes := make(map[string]bool)
	for _, a := range j.Axis {
		if a.Name == "" {
			return fmt.Errorf("cmor: job axis without a name")
		}
		if axes[a.Key] {
			return fmt.Errorf("cmor: job axis %s is defined twice", a.Key)
		}
		axes[a.Key] = true
	}
	refs := func(what string, keys []string) error {
		for _, k := range keys {
			if !axes[k] {
				return fmt.Errorf("cmor: %s refers to unknown axis %s", what, k)
			}
		}
		return nil
	}
	grids := make(map[string]bool)
	for _, g := range j.Grid {
		if g.Key == "" {
			return fmt.Errorf("cmor: job grid without a key")
		}
		if err := refs("grid "+g.Key, g.Axes); err != nil {
			return err
		}
		grids[g.Key] = true
	}
	for _, z := range j.ZFactor {
		if err := refs("zfactor "+z.Name, append([]string{z.ZAxis}, z.Axes...)); err != nil {
			return err
		}
	}
	if len(j.Variable) == 0 {
		return fmt.Errorf("cmor: the job has no variables")
	}
	for _, v := range j.Variable {
		if err := refs("variable "+v.Name, v.Axes); err != nil {
			return err
		}
		if v.Grid != "" && !grids[v.Grid] {
			return fmt.Errorf("cmor: variable %s refers to unknown grid %s", v.Name, v.Grid)
		}
	}
	return nil
}

// path resolves a path in the job.
func (j *Job) path(p string) string {
	p = os.ExpandEnv(p)
	if p == "" || filepath.IsAbs(p) || j.dir == "" {
		return p
	}
	return filepath.Join(j.dir, p)
}

// floats converts an inline job array to float64 values.
func floats(v interface{}) ([]float64, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return t, nil
	case []interface{}:
		o := make([]float64, len(t))
		for i, x := range t {
			f, err := cast.ToFloat64E(x)
			if err != nil {
				return nil, fmt.Errorf("element %d: %v", i, err)
			}
			o[i] = f
		}
		return o, nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, err
	}
	return []float64{f}, nil
}

// stringMap converts a job attribute table to strings.
func stringMap(m map[string]interface{}) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	return cast.ToStringMapStringE(m)
}

// floatMap converts a job parameter table to numbers.
func floatMap(m map[string]interface{}) (map[string]float64, error) {
	if m == nil {
		return nil, nil
	}
	o := make(map[string]float64, len(m))
	for k, v := range m {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %v", k, err)
		}
		o[k] = f
	}
	return o, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
