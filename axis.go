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
	"math"
	"strings"

	"github.com/tjahns/cmor/calendar"
	"github.com/tjahns/cmor/internal/attrs"
	"github.com/tjahns/cmor/table"
	"github.com/tjahns/cmor/units"
)

// HybridKind is the kind of a hybrid vertical axis.
type HybridKind int

// Hybrid axis kinds.
const (
	NotHybrid HybridKind = iota
	StdHybridSigma
	AltHybridSigma
	StdSigma
)

func hybridKind(def *table.AxisDef) HybridKind {
	switch def.ID {
	case "standard_hybrid_sigma":
		return StdHybridSigma
	case "alternate_hybrid_sigma":
		return AltHybridSigma
	case "standard_sigma":
		return StdSigma
	}
	return NotHybrid
}

// Axis is a coordinate axis defined in a session.
type Axis struct {
	ID    AxisID
	Table *table.Table
	Def   *table.AxisDef

	// Units are the units of the stored values.
	Units string
	// Values holds the coordinate values in Units. CValues holds the
	// values of character axes. At most one of them is set.
	Values  []float64
	CValues []string
	// Bounds holds the cell bounds as (lower, upper) pairs.
	Bounds []float64

	IsTime      bool
	IsSingleton bool
	Hybrid      HybridKind
	// Reverted reports whether the axis order was reversed to match
	// the stored direction of the table.
	Reverted bool
	Interval string
	Attrs    *attrs.Store

	// userUnits are the units of time values passed to Write.
	userUnits string
}

// Name returns the name of the axis in output files.
func (a *Axis) Name() string { return a.Def.Name() }

// Len returns the number of coordinate values.
func (a *Axis) Len() int {
	if a.CValues != nil {
		return len(a.CValues)
	}
	return len(a.Values)
}

// BoundsName returns the name of the bounds variable.
func (a *Axis) BoundsName() string {
	if a.Def.Climatology {
		return "climatology_bnds"
	}
	return a.Name() + "_bnds"
}

// AxisSpec describes an axis.
type AxisSpec struct {
	// Table is the id of the table holding the axis entry. The
	// current table is used if it is empty.
	Table string
	// Name is the axis entry id.
	Name  string
	Units string
	// Values are the coordinate values. Time axes may leave them
	// empty and pass the times to Write instead.
	Values  []float64
	CValues []string
	// Bounds are either N+1 contiguous edges or N (lower, upper)
	// pairs.
	Bounds []float64
	// Interval is the sampling interval, e.g. "30 minutes", which is
	// added to the cell methods of variables using the axis.
	Interval string
}

// DefineAxis defines an axis and returns its handle.
func (s *Session) DefineAxis(spec AxisSpec) (AxisID, error) {
	defer s.enter("DefineAxis")()
	if err := s.checkSetup(); err != nil {
		return -1, err
	}
	t, err := s.table(spec.Table)
	if err != nil {
		return -1, err
	}
	def, ok := t.Axis(spec.Name)
	if !ok {
		return -1, s.report(Critical, "Could not find a matching axis entry for %s in table %s", spec.Name, t.ID)
	}
	a := &Axis{
		Table:    t,
		Def:      def,
		Units:    def.Units,
		IsTime:   def.IsTime(),
		Hybrid:   hybridKind(def),
		Interval: strings.TrimSpace(spec.Interval),
		Attrs:    attrs.New(attrs.DefaultCapacity),
	}
	if len(spec.Values) > 0 && len(spec.CValues) > 0 {
		return -1, s.report(Critical, "axis %s (table %s): you passed both numeric and character values", def.ID, t.ID)
	}

	if def.IsCharacter() {
		if err := s.defineCharacterAxis(a, spec); err != nil {
			return -1, err
		}
		return s.addAxis(a)
	}
	if len(spec.CValues) > 0 {
		return -1, s.report(Critical, "axis %s (table %s) is numeric but you passed character values", def.ID, t.ID)
	}

	values := append([]float64{}, spec.Values...)
	bounds, err := s.normalizeBounds(def, len(values), spec.Bounds)
	if err != nil {
		return -1, err
	}
	if len(values) == 0 && def.HasValue {
		values = []float64{def.Value}
		if len(def.BoundsValues) == 2 {
			bounds = append([]float64{}, def.BoundsValues...)
		}
		spec.Units = def.Units
	}
	a.IsSingleton = def.HasValue && len(values) == 1

	if a.IsTime {
		if err := s.convertTimeAxis(a, spec.Units, values, bounds); err != nil {
			return -1, err
		}
	} else {
		if err := s.convertAxisUnits(a, spec.Units, values, bounds); err != nil {
			return -1, err
		}
		if len(values) == 0 {
			return -1, s.report(Critical, "axis %s (table %s): no values given", def.ID, t.ID)
		}
		if len(bounds) == 0 && def.MustHaveBounds && !a.IsSingleton {
			return -1, s.report(Critical, "axis %s (table %s) must have bounds, you did not pass any when defining it", def.ID, t.ID)
		}
		if err := s.checkAxisValues(a); err != nil {
			return -1, err
		}
	}
	if a.IsTime && def.Climatology && len(a.Values) > 0 && len(a.Bounds) == 0 {
		return -1, s.report(Critical, "climatology axis %s (table %s) must have bounds", def.ID, t.ID)
	}
	return s.addAxis(a)
}

func (s *Session) defineCharacterAxis(a *Axis, spec AxisSpec) error {
	c := spec.CValues
	if len(c) == 0 {
		c = a.Def.RequestedNames
	}
	if len(c) == 0 {
		return s.report(Critical, "character axis %s (table %s): no values given", a.Def.ID, a.Table.ID)
	}
	a.CValues = make([]string, len(c))
	for i, v := range c {
		a.CValues[i] = strings.TrimSpace(v)
	}
	for _, r := range a.Def.RequestedNames {
		found := false
		for _, v := range a.CValues {
			if v == r {
				found = true
				break
			}
		}
		if !found {
			return s.report(Critical, "character axis %s (table %s): requested value '%s' is missing", a.Def.ID, a.Table.ID, r)
		}
	}
	a.Units = ""
	return nil
}

// normalizeBounds converts contiguous bounds to (lower, upper) pairs.
func (s *Session) normalizeBounds(def *table.AxisDef, n int, b []float64) ([]float64, error) {
	switch {
	case len(b) == 0:
		return nil, nil
	case len(b) == 2*n:
		return append([]float64{}, b...), nil
	case len(b) == n+1:
		o := make([]float64, 2*n)
		for i := 0; i < n; i++ {
			o[2*i], o[2*i+1] = b[i], b[i+1]
		}
		return o, nil
	}
	return nil, s.report(Critical, "axis %s: %d bounds values for %d coordinate values, expected %d or %d",
		def.ID, len(b), n, n+1, 2*n)
}

// timeConverter returns a function converting time values from units
// from to units to.
func timeConverter(cal, from, to string) (func(float64) float64, error) {
	fu, err := calendar.ParseUnits(from)
	if err != nil {
		return nil, err
	}
	tu, err := calendar.ParseUnits(to)
	if err != nil {
		return nil, err
	}
	scale := fu.Seconds / tu.Seconds
	var offset float64
	if fu.Reference != tu.Reference {
		if offset, err = calendar.ToValue(cal, to, fu.Reference); err != nil {
			return nil, err
		}
	}
	return func(v float64) float64 { return v*scale + offset }, nil
}

// outputTimeUnits returns the units of a time axis in output files. A
// "?" in the table units is replaced with the user's reference date.
func outputTimeUnits(tableUnits, userUnits string) string {
	if tableUnits == "" {
		return userUnits
	}
	parts := strings.SplitN(userUnits, " since ", 2)
	if len(parts) != 2 {
		return tableUnits
	}
	return strings.Replace(tableUnits, "?", strings.TrimSpace(parts[1]), 1)
}

func (s *Session) convertTimeAxis(a *Axis, userUnits string, values, bounds []float64) error {
	if _, err := calendar.ParseUnits(userUnits); err != nil {
		return s.reportErr(Critical, err, "axis %s (table %s): invalid time units '%s': %v", a.Def.ID, a.Table.ID, userUnits, err)
	}
	a.userUnits = userUnits
	a.Units = outputTimeUnits(a.Def.Units, userUnits)
	if len(values) == 0 {
		return nil
	}
	conv, err := s.timeConverter(a)
	if err != nil {
		return err
	}
	for i, v := range values {
		values[i] = conv(v)
	}
	for i, v := range bounds {
		bounds[i] = conv(v)
	}
	for i := 1; i < len(values); i++ {
		if values[i] <= values[i-1] {
			return s.report(Critical, "time axis %s (table %s): values are not strictly increasing at index %d", a.Def.ID, a.Table.ID, i)
		}
	}
	a.Values, a.Bounds = values, bounds
	return nil
}

func (s *Session) timeConverter(a *Axis) (func(float64) float64, error) {
	cal := s.datasetValue("calendar")
	conv, err := timeConverter(cal, a.userUnits, a.Units)
	if err != nil {
		return nil, s.reportErr(Critical, err, "axis %s (table %s): cannot convert time units %s to %s: %v",
			a.Def.ID, a.Table.ID, a.userUnits, a.Units, err)
	}
	return conv, nil
}

func (s *Session) convertAxisUnits(a *Axis, userUnits string, values, bounds []float64) error {
	a.Values, a.Bounds = values, bounds
	userUnits = strings.TrimSpace(userUnits)
	if a.Def.Units == "" {
		a.Units = userUnits
		return nil
	}
	if userUnits == a.Def.Units || userUnits == "" {
		return nil
	}
	conv, err := units.ConvertString(userUnits, a.Def.Units)
	if err != nil {
		return s.reportErr(Critical, err, "axis %s (table %s): cannot convert units %s to %s: %v",
			a.Def.ID, a.Table.ID, userUnits, a.Def.Units, err)
	}
	for i, v := range values {
		values[i] = conv(v)
	}
	for i, v := range bounds {
		bounds[i] = conv(v)
	}
	return nil
}

// checkAxisValues checks monotonicity, the valid range and the
// requested values, and reverses the axis if needed.
func (s *Session) checkAxisValues(a *Axis) error {
	def := a.Def
	v := a.Values
	for i, x := range v {
		if def.HasValidMin && x < def.ValidMin {
			return s.report(Critical, "axis %s (table %s): value %d (%g) is less than valid_min (%g)", def.ID, a.Table.ID, i, x, def.ValidMin)
		}
		if def.HasValidMax && x > def.ValidMax {
			return s.report(Critical, "axis %s (table %s): value %d (%g) is greater than valid_max (%g)", def.ID, a.Table.ID, i, x, def.ValidMax)
		}
	}
	if len(v) > 1 {
		inc := v[1] > v[0]
		for i := 1; i < len(v); i++ {
			if (v[i] > v[i-1]) != inc || v[i] == v[i-1] {
				return s.report(Critical, "axis %s (table %s): values are not monotonic at index %d", def.ID, a.Table.ID, i)
			}
		}
	}
	tol := def.Tolerance
	if tol == 0 {
		tol = 1e-3
	}
	for _, r := range def.Requested {
		found := false
		for _, x := range v {
			if math.Abs(x-r) <= tol*math.Max(math.Abs(r), 1) {
				found = true
				break
			}
		}
		if !found {
			return s.report(Critical, "axis %s (table %s): requested value %g is missing", def.ID, a.Table.ID, r)
		}
	}
	// Hybrid axes are reordered together with their coefficients
	// when the variable is written.
	if a.Hybrid == NotHybrid && needsFlip(def.StoredDirection, v) {
		reverse(a.Values)
		reverse(a.Bounds)
		a.Reverted = true
	}
	return nil
}

// needsFlip returns whether values are stored against direction.
func needsFlip(direction string, values []float64) bool {
	if len(values) < 2 {
		return false
	}
	switch direction {
	case "increasing":
		return values[1] < values[0]
	case "decreasing":
		return values[1] > values[0]
	}
	return false
}

func reverse(v []float64) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}

// SetAxisAttribute sets an attribute written with the axis coordinate
// variable.
func (s *Session) SetAxisAttribute(id AxisID, name, value string) error {
	defer s.enter("SetAxisAttribute")()
	a, err := s.axis(id)
	if err != nil {
		return err
	}
	if err := a.Attrs.Set(name, value, false); err != nil {
		return s.reportErr(Normal, err, "axis %s: %v", a.Def.ID, err)
	}
	return nil
}

func (a *Axis) String() string {
	return fmt.Sprintf("axis %s (%d values, table %s)", a.Def.ID, a.Len(), a.Table.ID)
}
