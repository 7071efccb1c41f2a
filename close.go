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
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tjahns/cmor/calendar"
)

// maxFileSize is the size above which closed files are reported as
// too large for some archives.
const maxFileSize = 4 << 30

// Interval thresholds, in seconds, below which the time range of a
// file name includes the next finer date component.
var rangeThresholds = []float64{29e6, 2e6, 86000, 21000, 3000}

// formatDate formats d with the components needed to resolve
// intervals of the given length.
func formatDate(d calendar.Date, interval float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%04d", d.Year)
	parts := []int{d.Month, d.Day, d.Hour, d.Minute, int(d.Second)}
	for i, th := range rangeThresholds {
		if interval >= th {
			break
		}
		fmt.Fprintf(&b, "%02d", parts[i])
	}
	return b.String()
}

// timeRange returns the "<start>-<end>" part of the file name of v, or
// an empty string if v has no time axis.
func (s *Session) timeRange(v *Variable) (string, error) {
	ta := s.timeAxis(v)
	if ta == nil || v.stepsWritten == 0 {
		return "", nil
	}
	cal := s.datasetValue("calendar")
	interval, err := v.Table.IntervalSeconds(ta.Def.Units)
	if err != nil {
		return "", s.reportErr(Critical, err, "variable %s (table %s): %v", v.Name, v.Table.ID, err)
	}
	first, last := v.firstTime, v.lastTime
	climatology := ta.Def.Climatology
	if climatology {
		u, err := calendar.ParseUnits(ta.Units)
		if err != nil {
			return "", s.reportErr(Critical, err, "variable %s (table %s): invalid time units %s: %v", v.Name, v.Table.ID, ta.Units, err)
		}
		first = v.firstBound
		last = v.lastBound - 1/u.Seconds
	}
	d0, err := calendar.ToDate(cal, ta.Units, first)
	if err != nil {
		return "", s.reportErr(Critical, err, "variable %s (table %s): cannot convert time %g: %v", v.Name, v.Table.ID, first, err)
	}
	d1, err := calendar.ToDate(cal, ta.Units, last)
	if err != nil {
		return "", s.reportErr(Critical, err, "variable %s (table %s): cannot convert time %g: %v", v.Name, v.Table.ID, last, err)
	}
	r := formatDate(d0, interval) + "-" + formatDate(d1, interval)
	if climatology {
		r += "-clim"
	}
	return r, nil
}

// checkAssociated checks that every time-varying variable written
// with v has as many time steps as v.
func (s *Session) checkAssociated(v *Variable) error {
	for _, id := range v.associated {
		z := s.variables[id]
		if n := v.assocSteps[id]; n != v.stepsWritten {
			what := "associated variable"
			if z.Kind == GridCoordinate {
				what = "grid"
			}
			return s.report(Critical, "while closing variable %d (%s, table %s) we noticed it has a time varying %s, you wrote %d time steps for the variable, but its associated variable %d (%s) has %d times written",
				v.ID, v.Name, v.Table.ID, what, v.stepsWritten, z.ID, z.Name, n)
		}
	}
	return nil
}

// Close closes the file of variable id and moves it to its final name,
// which it returns. If preserve is true the variable can be written
// again to a new file.
func (s *Session) Close(id VarID, preserve bool) (string, error) {
	defer s.enter("Close")()
	v, err := s.variable(id)
	if err != nil {
		return "", err
	}
	if v.closed {
		return "", s.report(Normal, "variable %s (table %s) has already been closed", v.Name, v.Table.ID)
	}
	if v.file == nil {
		return "", s.report(Normal, "variable %s (table %s) has not been written, there is nothing to close", v.Name, v.Table.ID)
	}
	log := s.Log.WithFields(logrus.Fields{"variable": v.Name, "table": v.Table.ID})

	assocErr := s.checkAssociated(v)
	if err := v.file.Close(); err != nil {
		v.reset()
		return "", s.ncError(err, v)
	}
	if assocErr != nil {
		v.reset()
		return "", assocErr
	}
	r, err := s.timeRange(v)
	if err != nil {
		v.reset()
		return "", err
	}
	final := v.basePath
	if r != "" {
		final += "_" + r
	}
	if v.suffix != "" {
		final += "_" + v.suffix
	}
	final += ".nc"

	var closeErr error
	if s.Mode == Preserve && fileExists(final) {
		closeErr = s.report(Critical, "Output file ( %s ) already exists, remove file or use CMOR_REPLACE or CMOR_APPEND for CMOR_NETCDF_MODE value in cmor_setup; the new file was saved as %s.copy", final, final)
		final += ".copy"
	}
	if err := s.rename(v.path, final); err != nil {
		v.reset()
		return "", s.reportErr(Critical, err, "cannot rename temporary file %s to %s: %v", v.path, final, err)
	}
	if fi, err := os.Stat(final); err == nil && fi.Size() > maxFileSize {
		s.report(Warning, "file %s is larger than 4 GiB (%d bytes)", final, fi.Size())
	}
	log.WithField("file", final).Info("closed file")

	v.reset()
	if preserve {
		v.Attrs.Delete("cell_methods")
		if v.Def != nil && v.Def.CellMethods != "" {
			v.Attrs.Set("cell_methods", v.Def.CellMethods, false)
		}
	} else {
		v.closed = true
	}
	return final, closeErr
}

// CloseAll closes the files of all open variables, reports variables
// that were defined but never written and logs a summary of the
// diagnostics of the session. It returns the first critical error.
func (s *Session) CloseAll() error {
	defer s.enter("CloseAll")()
	var first error
	for _, v := range s.variables {
		if v.Kind != Data {
			continue
		}
		if v.file != nil {
			if _, err := s.Close(v.ID, false); IsCritical(err) && first == nil {
				first = err
			}
			continue
		}
		if !v.written && !v.closed {
			s.report(Warning, "variable %s (table %s) was defined but never written", v.Name, v.Table.ID)
		}
	}
	warnings, errors := s.Counts()
	s.Log.WithFields(logrus.Fields{"warnings": warnings, "errors": errors}).Info(s.summary(warnings, errors))
	return first
}

func (s *Session) summary(warnings, errors int) string {
	line := strings.Repeat("-", 42)
	return fmt.Sprintf("\n%s\nCMOR is now closed.\n\nWe encountered %d Warnings and %d Errors.\n%s\n", line, warnings, errors, line)
}
