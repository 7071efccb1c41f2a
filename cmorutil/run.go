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
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/tjahns/cmor"
	"github.com/tjahns/cmor/ncfile"
)

// RunConfig holds the settings of a job run.
type RunConfig struct {
	// TablePath is the directory that relative table paths are looked
	// up in when they are not found next to the job.
	TablePath string
	// OutputPath overrides the output directory of the job.
	OutputPath           string
	Mode                 cmor.Mode
	Quiet                bool
	ExitOnWarning        bool
	ExitOnCritical       bool
	CreateSubdirectories bool
	// Attributes override dataset attributes of the job.
	Attributes map[string]string
	Log        logrus.FieldLogger
}

// runner holds the state of a job run.
type runner struct {
	job   *Job
	s     *cmor.Session
	input ncfile.File
	log   logrus.FieldLogger

	axes  map[string]cmor.AxisID
	grids map[string]cmor.GridID
	// timeVarying holds the time-varying z-factors and grid
	// coordinates, which are written after each data variable that
	// uses their vertical axis or grid.
	zfactors  map[cmor.AxisID][]pending
	gridCoord map[cmor.GridID][]pending
}

// pending is a time-varying variable whose data are written along with
// a data variable.
type pending struct {
	id     cmor.VarID
	name   string
	values interface{}
}

// Run rewrites the variables of job and returns the paths of the files
// it wrote.
func Run(ctx context.Context, job *Job, cfg RunConfig) ([]string, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := cmor.NewSession(cmor.Config{
		TablePath:            cfg.TablePath,
		Mode:                 cfg.Mode,
		Quiet:                cfg.Quiet,
		ExitOnWarning:        cfg.ExitOnWarning,
		ExitOnCritical:       cfg.ExitOnCritical,
		CreateSubdirectories: cfg.CreateSubdirectories,
		Log:                  log,
	})
	r := &runner{
		job:       job,
		s:         s,
		log:       log,
		axes:      make(map[string]cmor.AxisID),
		grids:     make(map[string]cmor.GridID),
		zfactors:  make(map[cmor.AxisID][]pending),
		gridCoord: make(map[cmor.GridID][]pending),
	}
	if job.InputFile != "" {
		f, err := s.Engine.Open(job.path(job.InputFile), false)
		if err != nil {
			return nil, fmt.Errorf("cmor: opening input file: %v", err)
		}
		defer f.Close()
		r.input = f
	}

	for _, t := range job.Tables {
		p := job.path(t)
		if !fileExists(p) {
			p = t
		}
		if _, err := s.LoadTable(ctx, p); err != nil {
			return nil, err
		}
	}
	if err := r.setDataset(cfg); err != nil {
		return nil, err
	}
	for _, a := range job.Axis {
		if err := r.defineAxis(a); err != nil {
			return nil, err
		}
	}
	for _, g := range job.Grid {
		if err := r.defineGrid(g); err != nil {
			return nil, err
		}
	}
	for _, z := range job.ZFactor {
		if err := r.defineZFactor(z); err != nil {
			return nil, err
		}
	}

	var paths []string
	for _, v := range job.Variable {
		path, err := r.rewrite(v)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, s.CloseAll()
}

func (r *runner) setDataset(cfg RunConfig) error {
	d := r.job.Dataset
	spec := cmor.DatasetSpec{
		OutPath:              r.job.path(d.OutPath),
		ExperimentID:         d.ExperimentID,
		Institution:          d.Institution,
		Source:               d.Source,
		Calendar:             d.Calendar,
		Realization:          d.Realization,
		Contact:              d.Contact,
		History:              d.History,
		Comment:              d.Comment,
		References:           d.References,
		ModelID:              d.ModelID,
		Forcing:              d.Forcing,
		InitializationMethod: d.InitializationMethod,
		PhysicsIndex:         d.PhysicsIndex,
		ForcingIndex:         d.ForcingIndex,
		InstituteID:          d.InstituteID,
		ParentExperimentID:   d.ParentExperimentID,
		ParentExperimentRIP:  d.ParentExperimentRIP,
		PathTemplate:         d.PathTemplate,
		FileTemplate:         d.FileTemplate,
	}
	if cfg.OutputPath != "" {
		spec.OutPath = cfg.OutputPath
	}
	if d.BranchTime != nil {
		bt, err := cast.ToFloat64E(d.BranchTime)
		if err != nil {
			return fmt.Errorf("cmor: reading Dataset.BranchTime: %v", err)
		}
		spec.BranchTime = &bt
	}
	attrs, err := stringMap(d.Attributes)
	if err != nil {
		return fmt.Errorf("cmor: reading Dataset.Attributes: %v", err)
	}
	if len(cfg.Attributes) > 0 && attrs == nil {
		attrs = make(map[string]string)
	}
	for k, v := range cfg.Attributes {
		attrs[k] = v
	}
	spec.Attributes = attrs
	return r.s.SetDataset(spec)
}

// values returns the values of a job array: inline values or the
// name of an input variable.
func (r *runner) values(what string, v interface{}) ([]float64, error) {
	name, ok := v.(string)
	if !ok {
		f, err := floats(v)
		if err != nil {
			return nil, fmt.Errorf("cmor: %s: %v", what, err)
		}
		return f, nil
	}
	if r.input == nil {
		return nil, fmt.Errorf("cmor: %s refers to input variable %s but the job has no InputFile", what, name)
	}
	if !r.input.HasVariable(name) {
		return nil, fmt.Errorf("cmor: %s: input file has no variable %s", what, name)
	}
	f, err := r.input.ReadFloat64(name)
	if err != nil {
		return nil, fmt.Errorf("cmor: %s: %v", what, err)
	}
	return f, nil
}

// inputAttribute returns an attribute of the input variable that v
// names, if any.
func (r *runner) inputAttribute(v interface{}, attr string) (interface{}, bool) {
	name, ok := v.(string)
	if !ok || r.input == nil {
		return nil, false
	}
	return r.input.Attribute(name, attr)
}

func (r *runner) defineAxis(a AxisJob) error {
	what := "axis " + a.Key
	vals, err := r.values(what, a.Values)
	if err != nil {
		return err
	}
	bnds, err := r.values(what+" bounds", a.Bounds)
	if err != nil {
		return err
	}
	units := a.Units
	if units == "" {
		if u, ok := r.inputAttribute(a.Values, "units"); ok {
			units = cast.ToString(u)
		}
	}
	id, err := r.s.DefineAxis(cmor.AxisSpec{
		Table:    a.Table,
		Name:     a.Name,
		Units:    units,
		Values:   vals,
		CValues:  a.CValues,
		Bounds:   bnds,
		Interval: a.Interval,
	})
	if err != nil {
		return err
	}
	attrs, err := stringMap(a.Attributes)
	if err != nil {
		return fmt.Errorf("cmor: %s attributes: %v", what, err)
	}
	for k, v := range attrs {
		if err := r.s.SetAxisAttribute(id, k, v); err != nil {
			return err
		}
	}
	r.axes[a.Key] = id
	return nil
}

func (r *runner) axisIDs(keys []string) []cmor.AxisID {
	o := make([]cmor.AxisID, len(keys))
	for i, k := range keys {
		o[i] = r.axes[k]
	}
	return o
}

var gridCoordUnits = map[string]string{
	"latitude":           "degrees_north",
	"longitude":          "degrees_east",
	"vertices_latitude":  "degrees_north",
	"vertices_longitude": "degrees_east",
}

func (r *runner) defineGrid(g GridJob) error {
	what := "grid " + g.Key
	spec := cmor.GridSpec{Axes: r.axisIDs(g.Axes), NVertices: g.NVertices}
	if len(g.TimeVarying) == 0 {
		var err error
		if spec.Latitude, err = r.values(what+" latitude", g.Latitude); err != nil {
			return err
		}
		if spec.Longitude, err = r.values(what+" longitude", g.Longitude); err != nil {
			return err
		}
		if spec.BoundsLatitude, err = r.values(what+" vertices_latitude", g.VerticesLatitude); err != nil {
			return err
		}
		if spec.BoundsLongitude, err = r.values(what+" vertices_longitude", g.VerticesLongitude); err != nil {
			return err
		}
	}
	id, err := r.s.DefineGrid(spec)
	if err != nil {
		return err
	}
	if g.Mapping != "" {
		params, err := floatMap(g.Parameters)
		if err != nil {
			return fmt.Errorf("cmor: %s mapping: %v", what, err)
		}
		if err := r.s.SetGridMapping(id, g.Mapping, params, g.ParameterUnits); err != nil {
			return err
		}
	}
	src := map[string]interface{}{
		"latitude":           g.Latitude,
		"longitude":          g.Longitude,
		"vertices_latitude":  g.VerticesLatitude,
		"vertices_longitude": g.VerticesLongitude,
	}
	for _, name := range g.TimeVarying {
		units, ok := gridCoordUnits[name]
		if !ok {
			return fmt.Errorf("cmor: %s: unknown time-varying coordinate %s", what, name)
		}
		missing := cmor.DefaultMissingValue
		if m, ok := r.missingValue(nil, src[name]); ok {
			missing = m
		}
		vid, err := r.s.DefineTimeVaryingGridCoordinate(id, name, units, missing)
		if err != nil {
			return err
		}
		r.gridCoord[id] = append(r.gridCoord[id], pending{id: vid, name: name, values: src[name]})
	}
	r.grids[g.Key] = id
	return nil
}

func (r *runner) defineZFactor(z ZFactorJob) error {
	what := "zfactor " + z.Name
	axes := r.axisIDs(z.Axes)
	timeVarying := false
	for _, id := range axes {
		a, err := r.s.Axis(id)
		if err != nil {
			return err
		}
		if a.IsTime {
			timeVarying = true
		}
	}
	spec := cmor.ZFactorSpec{
		ZAxis: r.axes[z.ZAxis],
		Name:  z.Name,
		Units: z.Units,
		Axes:  axes,
	}
	if !timeVarying {
		var err error
		if spec.Values, err = r.values(what, z.Values); err != nil {
			return err
		}
		if spec.Bounds, err = r.values(what+" bounds", z.Bounds); err != nil {
			return err
		}
	}
	if spec.Units == "" {
		if u, ok := r.inputAttribute(z.Values, "units"); ok {
			spec.Units = cast.ToString(u)
		}
	}
	id, err := r.s.DefineZFactor(spec)
	if err != nil {
		return err
	}
	if timeVarying {
		r.zfactors[spec.ZAxis] = append(r.zfactors[spec.ZAxis], pending{id: id, name: z.Name, values: z.Values})
	}
	return nil
}

// missingValue returns the missing value of a variable: the configured
// one, or the _FillValue or missing_value attribute of its input
// variable.
func (r *runner) missingValue(configured, values interface{}) (float64, bool) {
	if configured != nil {
		f, err := cast.ToFloat64E(configured)
		return f, err == nil
	}
	for _, attr := range []string{"_FillValue", "missing_value"} {
		if v, ok := r.inputAttribute(values, attr); ok {
			if f, ok := firstFloat(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// firstFloat returns the first number in an attribute value.
func firstFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case []float64:
		if len(t) > 0 {
			return t[0], true
		}
	case []float32:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	case []int32:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	case []int16:
		if len(t) > 0 {
			return float64(t[0]), true
		}
	default:
		f, err := cast.ToFloat64E(v)
		return f, err == nil
	}
	return 0, false
}

// rewrite defines, writes and closes one variable along with its
// time-varying z-factors and grid coordinates.
func (r *runner) rewrite(v VariableJob) (string, error) {
	src := v.Values
	if src == nil {
		src = v.OriginalName
		if v.OriginalName == "" {
			src = v.Name
		}
	}
	what := "variable " + v.Name
	data, err := r.values(what, src)
	if err != nil {
		return "", err
	}
	units := v.Units
	if units == "" {
		if u, ok := r.inputAttribute(src, "units"); ok {
			units = cast.ToString(u)
		}
	}
	spec := cmor.VariableSpec{
		Table:        v.Table,
		Name:         v.Name,
		Units:        units,
		Axes:         r.axisIDs(v.Axes),
		Type:         v.Type,
		Positive:     v.Positive,
		OriginalName: v.OriginalName,
		History:      v.History,
		Comment:      v.Comment,
	}
	if v.Grid != "" {
		spec.Grid = r.grids[v.Grid]
	}
	if m, ok := r.missingValue(v.MissingValue, src); ok {
		spec.MissingValue = m
	}
	id, err := r.s.DefineVariable(spec)
	if err != nil {
		return "", err
	}
	attrs, err := stringMap(v.Attributes)
	if err != nil {
		return "", fmt.Errorf("cmor: %s attributes: %v", what, err)
	}
	for k, val := range attrs {
		if err := r.s.SetVariableAttribute(id, k, val); err != nil {
			return "", err
		}
	}
	if err := r.s.Write(id, data, cmor.WriteOptions{Suffix: v.Suffix}); err != nil {
		return "", err
	}

	var assoc []pending
	for _, a := range spec.Axes {
		assoc = append(assoc, r.zfactors[a]...)
	}
	if spec.Grid != cmor.NoGrid {
		assoc = append(assoc, r.gridCoord[spec.Grid]...)
	}
	for _, p := range assoc {
		vals, err := r.values(what+" "+p.name, p.values)
		if err != nil {
			return "", err
		}
		ref := id
		if err := r.s.Write(p.id, vals, cmor.WriteOptions{RefVar: &ref}); err != nil {
			return "", err
		}
	}

	path, err := r.s.Close(id, false)
	if err != nil {
		return path, err
	}
	r.log.WithFields(logrus.Fields{"variable": v.Name, "path": path}).Info("rewrote variable")
	return path, nil
}
