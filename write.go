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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
)

// WriteOptions are the optional arguments of Write.
type WriteOptions struct {
	// Suffix names an existing file to append to in Append mode.
	// Tables older than version 3 use it as a file name suffix.
	Suffix string
	// NumSteps is the number of time steps in the data. It is derived
	// from the data length if it is 0.
	NumSteps int
	// TimeValues and TimeBounds are the times of the data in the units
	// of the time axis. They are taken from the time axis if nil.
	TimeValues []float64
	TimeBounds []float64
	// RefVar is the data variable in whose file an associated variable
	// (a time-varying z-factor or grid coordinate) is written.
	RefVar *VarID
}

// timeAxis returns the time axis of v, or nil.
func (s *Session) timeAxis(v *Variable) *Axis {
	for _, id := range v.Axes {
		if a := s.axes[id]; a.IsTime {
			return a
		}
	}
	return nil
}

// numSteps returns the number of time steps in n values of v.
func (s *Session) numSteps(v *Variable, n, given int) int {
	if given > 0 || s.timeAxis(v) == nil {
		return given
	}
	per := product(s.userShape(v, 1))
	if per == 0 {
		return 0
	}
	return n / per
}

// Write writes data for variable id. Data is a slice of float64,
// float32, int32, int16 or int values in the order of the axes passed
// to DefineVariable, the last axis varying fastest.
func (s *Session) Write(id VarID, data interface{}, opts WriteOptions) error {
	defer s.enter("Write")()
	if err := s.checkSetup(); err != nil {
		return err
	}
	v, err := s.variable(id)
	if err != nil {
		return err
	}
	if opts.RefVar != nil {
		return s.writeAssociated(v, data, opts)
	}
	if v.Kind != Data {
		return s.report(Critical, "variable %s is written in the file of its data variable, pass that variable as RefVar", v.Name)
	}
	if v.closed {
		return s.report(Critical, "variable %s (table %s) has been closed", v.Name, v.Table.ID)
	}
	t := v.Table
	if err := s.ValidateActivity(t); err != nil {
		return err
	}
	if err := s.checkRequiredVarAttrs(v); err != nil {
		return err
	}
	raw, typ, ok := toFloat64s(data)
	if !ok {
		return s.report(Critical, "variable %s (table %s): unsupported data type %T", v.Name, t.ID, data)
	}
	if v.hasMissing && v.missingType != typ {
		s.report(Warning, "you defined variable %s (table %s) with a missing value of type %s, but you are now writing data of type %s, this may lead to some spurious handling of the missing values",
			v.Name, t.ID, v.missingType, typ)
	}
	ntime := s.numSteps(v, len(raw), opts.NumSteps)

	if v.file == nil {
		if err := s.openFile(v, opts.Suffix); err != nil {
			return err
		}
	}
	out, err := s.transform(v, raw, ntime)
	if err != nil {
		return err
	}
	ta := s.timeAxis(v)
	if ta == nil {
		if err := v.file.WriteSlab(v.OutName(), nil, out); err != nil {
			return s.ncError(err, v)
		}
		v.written = true
		return nil
	}
	times, bounds, err := s.timeValues(v, ta, ntime, opts)
	if err != nil {
		return err
	}
	start := make([]int, len(v.Axes))
	start[0] = v.stepsWritten
	if err := v.file.WriteSlab(v.OutName(), start, out); err != nil {
		return s.ncError(err, v)
	}
	if err := v.file.WriteSlab(ta.Name(), []int{v.stepsWritten}, times); err != nil {
		return s.ncError(err, v)
	}
	if len(bounds) > 0 {
		if err := v.file.WriteSlab(ta.BoundsName(), []int{v.stepsWritten, 0}, bounds); err != nil {
			return s.ncError(err, v)
		}
	}
	if v.stepsWritten == 0 {
		v.firstTime = times[0]
		if len(bounds) > 0 {
			v.firstBound = bounds[0]
		}
	}
	v.lastTime = times[len(times)-1]
	if len(bounds) > 0 {
		v.lastBound = bounds[len(bounds)-1]
	}
	v.stepsWritten += ntime
	v.written = true
	s.Log.WithFields(logrus.Fields{"variable": v.Name, "steps": v.stepsWritten}).Debug("wrote data")
	return nil
}

// timeValues returns the ntime time values and bounds of the next
// write of v, converted to the units of the time axis.
func (s *Session) timeValues(v *Variable, ta *Axis, ntime int, opts WriteOptions) (times, bounds []float64, err error) {
	if ntime <= 0 {
		return nil, nil, s.report(Critical, "variable %s (table %s): no time steps to write", v.Name, v.Table.ID)
	}
	if opts.TimeValues != nil {
		if len(opts.TimeValues) != ntime {
			return nil, nil, s.report(Critical, "variable %s (table %s): %d time values for %d time steps", v.Name, v.Table.ID, len(opts.TimeValues), ntime)
		}
		conv, err := s.timeConverter(ta)
		if err != nil {
			return nil, nil, err
		}
		times = make([]float64, ntime)
		for i, x := range opts.TimeValues {
			times[i] = conv(x)
		}
		if len(opts.TimeBounds) > 0 {
			if bounds, err = s.normalizeBounds(ta.Def, ntime, opts.TimeBounds); err != nil {
				return nil, nil, err
			}
			for i, x := range bounds {
				bounds[i] = conv(x)
			}
		}
	} else {
		k := v.stepsWritten - v.appendBase
		if len(ta.Values) < k+ntime {
			return nil, nil, s.report(Critical, "variable %s (table %s): time axis %s has %d values, you are writing steps %d to %d; pass the time values to Write",
				v.Name, v.Table.ID, ta.Def.ID, len(ta.Values), k, k+ntime)
		}
		times = append([]float64{}, ta.Values[k:k+ntime]...)
		if len(ta.Bounds) >= 2*(k+ntime) {
			bounds = append([]float64{}, ta.Bounds[2*k:2*(k+ntime)]...)
		}
	}
	if len(bounds) == 0 && hasTimeBounds(ta) {
		return nil, nil, s.report(Critical, "time axis %s (table %s) must have bounds, you did not pass any when writing variable %s",
			ta.Def.ID, v.Table.ID, v.Name)
	}
	prev := v.lastTime
	for i, x := range times {
		if (i > 0 || v.stepsWritten > 0) && x <= prev {
			s.report(Warning, "variable %s (table %s): time values are not increasing (%g follows %g)", v.Name, v.Table.ID, x, prev)
			break
		}
		prev = x
	}
	return times, bounds, nil
}

// writeAssociated writes a time-varying z-factor or grid coordinate v
// into the file of the reference variable, at the time steps last
// written to it.
func (s *Session) writeAssociated(v *Variable, data interface{}, opts WriteOptions) error {
	ref, err := s.variable(*opts.RefVar)
	if err != nil {
		return err
	}
	if st := ref.State(); st != Open && st != Defining {
		return s.report(Critical, "variable %s: you are trying to write it as an associated variable of %s (table %s), which has not been written; write the associated variable first",
			v.Name, ref.Name, ref.Table.ID)
	}
	found := false
	for _, id := range ref.associated {
		found = found || id == v.ID
	}
	if !found {
		return s.report(Critical, "variable %s is not associated with variable %s (table %s)", v.Name, ref.Name, ref.Table.ID)
	}
	raw, _, ok := toFloat64s(data)
	if !ok {
		return s.report(Critical, "variable %s: unsupported data type %T", v.Name, data)
	}
	ntime := s.numSteps(v, len(raw), opts.NumSteps)
	off := ref.stepsWritten - ntime
	if off < 0 {
		return s.report(Critical, "variable %s: writing %d time steps but %s only has %d", v.Name, ntime, ref.Name, ref.stepsWritten)
	}
	out, err := s.transform(v, raw, ntime)
	if err != nil {
		return err
	}
	start := make([]int, len(ref.file.VariableDimensions(v.OutName())))
	start[0] = off
	if err := ref.file.WriteSlab(v.OutName(), start, out); err != nil {
		return s.ncError(err, ref)
	}
	ref.assocSteps[v.ID] += ntime
	v.written = true
	return nil
}

// fileExists returns whether path names an existing file.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// rename renames from to to, retrying on failure.
func (s *Session) rename(from, to string) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Second
	return backoff.RetryNotify(func() error {
		return os.Rename(from, to)
	}, b, func(err error, d time.Duration) {
		s.Log.WithFields(logrus.Fields{"from": from, "to": to}).Warnf("renaming failed, retrying in %v: %v", d, err)
	})
}

// openFile runs the first-write checks for v, resolves its output
// path and creates or reopens the file.
func (s *Session) openFile(v *Variable, suffix string) error {
	t := v.Table
	if strings.Contains(suffix, "_") && !(s.Mode == Append && fileExists(suffix)) {
		return s.report(Critical, "suffix (%s) for variable %s (table %s) contains '_', which is not allowed", suffix, v.Name, t.ID)
	}
	if err := s.CheckForcing(t, s.datasetValue("forcing")); err != nil {
		return err
	}
	if t.Product != "" {
		s.setInternal("product", t.Product, false)
	}
	if _, err := s.CheckExperimentID(s.datasetValue("experiment_id"), t); err != nil {
		return err
	}
	if err := s.checkParent(t); IsCritical(err) {
		return err
	}
	if err := s.CheckRequiredGlobals(t); err != nil {
		return err
	}
	if err := s.checkSource(t); err != nil {
		return err
	}
	if strings.ContainsAny(v.OutName(), "_-") {
		return s.report(Critical, "var_id cannot contain '_' or '-' (variable %s, table %s)", v.OutName(), t.ID)
	}
	s.setInternal("variable_id", v.OutName(), false)
	if !s.HasDatasetAttribute("version") {
		if err := s.AddVersion(); err != nil {
			return err
		}
	}
	dir, base, err := s.CreateFromTemplate(v)
	if err != nil {
		return err
	}
	v.basePath = filepath.Join(dir, base)
	tmp := fmt.Sprintf("%s_%d.nc", v.basePath, s.pid)
	log := s.Log.WithFields(logrus.Fields{"variable": v.Name, "table": t.ID, "file": tmp})

	appendTo := ""
	switch {
	case suffix == "":
	case s.Mode == Append && fileExists(suffix):
		appendTo = suffix
	case s.Mode == Append && t.CMORVersion >= 3:
		return s.report(Critical, "You passed '%s' as file_suffix, but this file does not exist. Were you trying to append to a non-existing file?", suffix)
	case t.CMORVersion >= 3:
		return s.report(Critical, "Suffix are not allowed in CMOR 3.0 and greater, you passed '%s' for variable %s (table %s)", suffix, v.Name, t.ID)
	default:
		v.suffix = suffix
	}

	if appendTo != "" {
		if err := s.rename(appendTo, tmp); err != nil {
			return s.reportErr(Critical, err, "cannot rename %s to %s: %v", appendTo, tmp, err)
		}
		log.Infof("Appended to original file: %s", appendTo)
		if err := s.reopen(v, tmp); err != nil {
			s.discard(v, false)
			if rerr := s.rename(tmp, appendTo); rerr != nil {
				log.Errorf("cannot move %s back to %s: %v", tmp, appendTo, rerr)
			}
			return err
		}
		return nil
	}
	switch s.Mode {
	case Preserve:
		if fileExists(tmp) {
			return s.report(Critical, "file %s already exists, remove it or use Replace or Append mode", tmp)
		}
	case Append:
		if fileExists(tmp) {
			if err := s.reopen(v, tmp); err != nil {
				s.discard(v, false)
				return err
			}
			return nil
		}
	}
	f, err := s.Engine.Create(tmp, s.Mode != Preserve)
	if err != nil {
		return s.ncError(err, v)
	}
	v.file = f
	v.path = tmp
	v.defining = true
	v.appendBase = 0
	log.Debug("created file")
	if err := s.defineFile(v, f); err != nil {
		s.discard(v, true)
		return err
	}
	return nil
}

// discard closes the file of v after it failed to open or define, so
// that the next write starts over. New files are removed.
func (s *Session) discard(v *Variable, remove bool) {
	if v.file != nil {
		if err := v.file.Close(); err != nil {
			s.Log.WithField("file", v.path).Debugf("closing discarded file: %v", err)
		}
	}
	if remove && v.path != "" {
		os.Remove(v.path)
	}
	v.reset()
}

// reopen opens the existing file path of v for appending and restores
// the time range and step counters from it.
func (s *Session) reopen(v *Variable, path string) error {
	f, err := s.Engine.Open(path, true)
	if err != nil {
		return s.ncError(err, v)
	}
	v.file = f
	v.path = path
	if !f.HasVariable(v.OutName()) {
		return s.report(Critical, "file %s does not contain variable %s", path, v.OutName())
	}
	prepared, err := s.prepareZFactors(v)
	if err != nil {
		return err
	}
	s.reopenZFactors(v, f, prepared)
	if v.Grid != NoGrid {
		g := s.grids[v.Grid-1]
		for _, id := range g.coords {
			if id >= 0 && f.HasVariable(s.variables[id].OutName()) {
				v.addAssociated(id)
			}
		}
	}
	ta := s.timeAxis(v)
	if ta == nil {
		return nil
	}
	n, err := f.DimensionLength(ta.Name())
	if err != nil {
		return s.ncError(err, v)
	}
	v.stepsWritten = n
	v.appendBase = n
	for _, id := range v.associated {
		v.assocSteps[id] = n
	}
	if n == 0 {
		return nil
	}
	times, err := f.ReadFloat64(ta.Name())
	if err != nil {
		return s.ncError(err, v)
	}
	v.firstTime, v.lastTime = times[0], times[len(times)-1]
	if !f.HasVariable(ta.BoundsName()) {
		s.report(Warning, "could not find %s in file %s, the time range of the file name will not use bounds", ta.BoundsName(), path)
		return nil
	}
	b, err := f.ReadFloat64(ta.BoundsName())
	if err != nil {
		return s.ncError(err, v)
	}
	if len(b) > 0 {
		v.firstBound, v.lastBound = b[0], b[len(b)-1]
	}
	return nil
}
