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
	"strings"

	"github.com/spf13/cast"
	"github.com/tjahns/cmor/internal/attrs"
	"github.com/tjahns/cmor/ncfile"
	"github.com/tjahns/cmor/table"
)

// Variable defaults.
const (
	DefaultMissingValue = 1e20
	DefaultTolerance    = 1e-4
)

// VarKind is the role of a variable.
type VarKind int

// Variable kinds.
const (
	// Data is a variable described by a table variable entry.
	Data VarKind = iota
	// ZFactor is a term of a vertical coordinate formula.
	ZFactor
	// GridCoordinate is a coordinate of a time-varying grid.
	GridCoordinate
)

// State is the write state of a variable.
type State int

// Variable states.
const (
	Fresh State = iota
	Defining
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Defining:
		return "defining"
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Variable is a variable defined in a session.
type Variable struct {
	ID    VarID
	Name  string
	Table *table.Table
	Def   *table.VarDef
	Kind  VarKind

	// Units are the units of the data passed to Write.
	Units string
	// Axes are the non-singleton axes in output order.
	Axes []AxisID
	// Singletons are the scalar axes of the variable.
	Singletons []AxisID
	// userAxes are the axes in the order of the data passed to Write
	// and perm maps output dimensions to positions in userAxes.
	userAxes []AxisID
	perm     []int
	Grid     GridID

	Type         ncfile.Type
	MissingValue float64
	hasMissing   bool
	// missingType is the type of the missing value given by the
	// caller, compared with the type of the data on write.
	missingType string
	Tolerance   float64
	Positive    string
	flipSign    bool

	Shuffle, Deflate bool
	DeflateLevel     int

	Attrs *attrs.Store

	// ZAxis is the axis a z-factor belongs to, or -1.
	ZAxis AxisID
	// Values and Bounds are the static values of z-factors.
	Values   []float64
	isBounds bool
	gridSlot int

	file         ncfile.File
	defining     bool
	stepsWritten int
	assocSteps   map[VarID]int
	associated   []VarID
	basePath     string
	path         string
	suffix       string
	firstTime    float64
	lastTime     float64
	firstBound   float64
	lastBound    float64
	closed       bool
	written      bool

	// appendBase is the number of steps found in a reopened file.
	appendBase int
	// defined records the names of the variables defined in the
	// current file.
	defined map[string]bool
	history []string
}

// State returns the write state of the variable.
func (v *Variable) State() State {
	switch {
	case v.closed:
		return Closed
	case v.file != nil && v.defining:
		return Defining
	case v.file != nil:
		return Open
	}
	return Fresh
}

// StepsWritten returns the number of time steps written to the current
// file.
func (v *Variable) StepsWritten() int { return v.stepsWritten }

// OutName returns the name of the variable in output files.
func (v *Variable) OutName() string {
	if v.Def != nil {
		return v.Def.Name()
	}
	return v.Name
}

// reset sets the write state to its defaults.
func (v *Variable) reset() {
	v.file = nil
	v.defining = false
	v.stepsWritten = 0
	v.appendBase = 0
	v.assocSteps = make(map[VarID]int)
	v.associated = nil
	v.basePath, v.path, v.suffix = "", "", ""
	v.firstTime, v.lastTime = -999, -999
	v.firstBound, v.lastBound = 1e20, 1e20
	v.defined = make(map[string]bool)
}

// VariableSpec describes a variable.
type VariableSpec struct {
	// Table is the id of the table holding the variable entry. The
	// current table is used if it is empty.
	Table string
	// Name is the variable entry id.
	Name  string
	Units string
	// Axes are the axes of the data in data order. Grid variables
	// list the grid axes in place of latitude and longitude.
	Axes []AxisID
	Grid GridID
	// Type overrides the storage type of the table entry.
	Type string
	// MissingValue is the missing value of the data. It may be any
	// numeric type. Nil means the default missing value.
	MissingValue interface{}
	Tolerance    float64
	Positive     string
	OriginalName string
	History      string
	Comment      string
}

// DefineVariable defines a variable and returns its handle.
func (s *Session) DefineVariable(spec VariableSpec) (VarID, error) {
	defer s.enter("DefineVariable")()
	if err := s.checkSetup(); err != nil {
		return -1, err
	}
	t, err := s.table(spec.Table)
	if err != nil {
		return -1, err
	}
	def, ok := t.Variable(spec.Name)
	if !ok {
		return -1, s.report(Critical, "Could not find a matching variable entry for %s in table %s", spec.Name, t.ID)
	}
	log := s.Log.WithField("variable", spec.Name).WithField("table", t.ID)
	v := &Variable{
		Name:         def.ID,
		Table:        t,
		Def:          def,
		Kind:         Data,
		Units:        strings.TrimSpace(spec.Units),
		Grid:         spec.Grid,
		Type:         ncfile.TypeFromTable(def.Type),
		MissingValue: DefaultMissingValue,
		Tolerance:    DefaultTolerance,
		Positive:     strings.TrimSpace(spec.Positive),
		Shuffle:      def.Shuffle,
		Deflate:      def.Deflate,
		DeflateLevel: def.DeflateLevel,
		Attrs:        attrs.New(attrs.DefaultCapacity),
		ZAxis:        -1,
	}
	if v.Units == "" {
		v.Units = def.Units
	}
	if spec.Type != "" {
		v.Type = ncfile.TypeFromTable(spec.Type)
	}
	if spec.Tolerance > 0 {
		v.Tolerance = spec.Tolerance
	}
	if t.MissingValue != 0 {
		v.MissingValue = t.MissingValue
	}
	if spec.MissingValue != nil {
		mv, err := cast.ToFloat64E(spec.MissingValue)
		if err != nil {
			return -1, s.reportErr(Critical, err, "variable %s (table %s): invalid missing value %v", def.ID, t.ID, spec.MissingValue)
		}
		v.MissingValue = mv
		v.hasMissing = true
		v.missingType = fmt.Sprintf("%T", spec.MissingValue)
	}
	if v.Positive != "" || def.Positive != "" {
		switch {
		case v.Positive == "":
			return -1, s.report(Critical, "variable %s (table %s) must have a positive direction (%s) defined", def.ID, t.ID, def.Positive)
		case v.Positive != "up" && v.Positive != "down":
			return -1, s.report(Critical, "variable %s (table %s): positive must be 'up' or 'down', got '%s'", def.ID, t.ID, v.Positive)
		case def.Positive == "":
			s.report(Warning, "variable %s (table %s) does not have a positive direction, ignoring '%s'", def.ID, t.ID, v.Positive)
			v.Positive = ""
		case v.Positive != def.Positive:
			v.flipSign = true
			v.Positive = def.Positive
		}
	}
	if err := s.resolveAxes(v, spec.Axes); err != nil {
		return -1, err
	}
	v.Attrs.Set("original_name", spec.OriginalName, false)
	v.Attrs.Set("history", spec.History, false)
	v.Attrs.Set("comment", spec.Comment, false)
	if def.CellMethods != "" {
		v.Attrs.Set("cell_methods", def.CellMethods, false)
	}
	v.reset()
	id, err := s.addVariable(v)
	if err != nil {
		return -1, err
	}
	log.WithField("id", id).Debug("defined variable")
	return id, nil
}

// resolveAxes matches the user axes to the table dimensions of v and
// computes the output order. Table dimensions are listed fastest
// varying first, so the output order is their reverse.
func (s *Session) resolveAxes(v *Variable, user []AxisID) error {
	def, t := v.Def, v.Table
	var g *Grid
	if v.Grid != NoGrid {
		var err error
		if g, err = s.grid(v.Grid); err != nil {
			return err
		}
	}
	used := make(map[AxisID]bool)
	find := func(dim string) (AxisID, bool) {
		for _, id := range user {
			a := s.axes[id]
			if used[id] {
				continue
			}
			if a.Def.ID == dim || (a.Def.GenericLevelName != "" && a.Def.GenericLevelName == dim && t.IsGenericLevel(dim)) {
				return id, true
			}
		}
		return -1, false
	}
	for _, id := range user {
		if _, err := s.axis(id); err != nil {
			return err
		}
	}
	gridDone := false
	for i := len(def.Dimensions) - 1; i >= 0; i-- {
		dim := def.Dimensions[i]
		if g != nil && (dim == "latitude" || dim == "longitude") {
			if gridDone {
				continue
			}
			gridDone = true
			for _, id := range g.Axes {
				if !contains(user, id) {
					return s.report(Critical, "variable %s (table %s): grid axis %s was not passed",
						v.Name, t.ID, s.axes[id].Def.ID)
				}
				used[id] = true
				v.Axes = append(v.Axes, id)
			}
			continue
		}
		if id, ok := find(dim); ok {
			used[id] = true
			if s.axes[id].IsSingleton {
				v.Singletons = append(v.Singletons, id)
			} else {
				v.Axes = append(v.Axes, id)
			}
			continue
		}
		if ad, ok := t.Axis(dim); ok && ad.HasValue {
			id, err := s.DefineAxis(AxisSpec{Table: t.ID, Name: dim})
			if err != nil {
				return err
			}
			v.Singletons = append(v.Singletons, id)
			continue
		}
		return s.report(Critical, "variable %s (table %s) needs axis %s, which was not passed", v.Name, t.ID, dim)
	}
	for _, id := range user {
		if !used[id] {
			return s.report(Critical, "variable %s (table %s): axis %s is not a dimension of the variable",
				v.Name, t.ID, s.axes[id].Def.ID)
		}
	}
	for i, id := range v.Axes {
		if s.axes[id].IsTime && i != 0 {
			return s.report(Critical, "variable %s (table %s): the time axis must be the slowest varying dimension", v.Name, t.ID)
		}
	}
	for _, id := range user {
		if !s.axes[id].IsSingleton {
			v.userAxes = append(v.userAxes, id)
		}
	}
	v.perm = make([]int, len(v.Axes))
	for i, id := range v.Axes {
		for j, u := range v.userAxes {
			if u == id {
				v.perm[i] = j
			}
		}
	}
	return nil
}

func contains(ids []AxisID, id AxisID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func identity(n int) []int {
	o := make([]int, n)
	for i := range o {
		o[i] = i
	}
	return o
}

// SetVariableAttribute sets an attribute of a variable.
func (s *Session) SetVariableAttribute(id VarID, name, value string) error {
	defer s.enter("SetVariableAttribute")()
	v, err := s.variable(id)
	if err != nil {
		return err
	}
	if err := v.Attrs.Set(name, value, false); err != nil {
		return s.reportErr(Normal, err, "variable %s: %v", v.Name, err)
	}
	return nil
}

// VariableAttribute returns an attribute of a variable.
func (s *Session) VariableAttribute(id VarID, name string) (string, error) {
	defer s.enter("VariableAttribute")()
	v, err := s.variable(id)
	if err != nil {
		return "", err
	}
	val, err := v.Attrs.Get(name)
	if err != nil {
		return "", s.reportErr(Normal, err, "variable %s does not have attribute %s", v.Name, name)
	}
	return val, nil
}

// ZFactorSpec describes a term of a vertical coordinate formula.
type ZFactorSpec struct {
	// ZAxis is the vertical axis the term belongs to.
	ZAxis AxisID
	// Name is the term name, e.g. "a" or "ps".
	Name  string
	Units string
	// Axes are the axes of the term in data order. Scalar terms have
	// no axes.
	Axes []AxisID
	// Values are the values of terms without a time axis.
	Values []float64
	// Bounds are the bounds of terms on the vertical axis, as N+1
	// edges or N pairs. They define the "<name>_bnds" term.
	Bounds []float64
}

// DefineZFactor defines a z-factor and returns its handle. Time-varying
// z-factors are written with Write using the data variable as
// reference.
func (s *Session) DefineZFactor(spec ZFactorSpec) (VarID, error) {
	defer s.enter("DefineZFactor")()
	if err := s.checkSetup(); err != nil {
		return -1, err
	}
	za, err := s.axis(spec.ZAxis)
	if err != nil {
		return -1, err
	}
	t := za.Table
	def, ok := t.FormulaTerm(spec.Name)
	if !ok {
		return -1, s.report(Critical, "could not find a formula entry for z-factor %s in table %s", spec.Name, t.ID)
	}
	v := &Variable{
		Name:         spec.Name,
		Table:        t,
		Def:          def,
		Kind:         ZFactor,
		Units:        strings.TrimSpace(spec.Units),
		Type:         ncfile.Double,
		MissingValue: DefaultMissingValue,
		Tolerance:    DefaultTolerance,
		Attrs:        attrs.New(attrs.DefaultCapacity),
		ZAxis:        spec.ZAxis,
		Values:       append([]float64{}, spec.Values...),
	}
	if v.Units == "" {
		v.Units = def.Units
	}
	hasTime := false
	for _, id := range spec.Axes {
		a, err := s.axis(id)
		if err != nil {
			return -1, err
		}
		if a.IsSingleton {
			v.Singletons = append(v.Singletons, id)
			continue
		}
		hasTime = hasTime || a.IsTime
		v.Axes = append(v.Axes, id)
	}
	v.userAxes = v.Axes
	v.perm = identity(len(v.Axes))
	n := 1
	for _, id := range v.Axes {
		n *= s.axes[id].Len()
	}
	if !hasTime && len(v.Values) != n {
		return -1, s.report(Critical, "z-factor %s: got %d values, expected %d", spec.Name, len(v.Values), n)
	}
	if err := s.convertZFactor(v, v.Values); err != nil {
		return -1, err
	}
	v.reset()
	id, err := s.addVariable(v)
	if err != nil {
		return -1, err
	}
	if len(spec.Bounds) == 0 {
		return id, nil
	}

	bdef, ok := t.FormulaTerm(spec.Name + "_bnds")
	if !ok {
		bdef = &table.VarDef{ID: spec.Name + "_bnds", Units: def.Units, LongName: def.LongName}
	}
	if len(v.Axes) != 1 || v.Axes[0] != spec.ZAxis {
		return -1, s.report(Critical, "z-factor %s: bounds are only allowed for terms on the vertical axis", spec.Name)
	}
	bounds, err := s.normalizeBounds(za.Def, za.Len(), spec.Bounds)
	if err != nil {
		return -1, err
	}
	b := &Variable{
		Name:         bdef.ID,
		Table:        t,
		Def:          bdef,
		Kind:         ZFactor,
		Units:        v.Units,
		Axes:         v.Axes,
		userAxes:     v.Axes,
		perm:         v.perm,
		Type:         ncfile.Double,
		MissingValue: DefaultMissingValue,
		Tolerance:    DefaultTolerance,
		Attrs:        attrs.New(attrs.DefaultCapacity),
		ZAxis:        spec.ZAxis,
		Values:       bounds,
		isBounds:     true,
	}
	if err := s.convertZFactor(b, b.Values); err != nil {
		return -1, err
	}
	b.reset()
	if _, err := s.addVariable(b); err != nil {
		return -1, err
	}
	return id, nil
}
