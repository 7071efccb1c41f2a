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

// Package table holds the read-only schema tables that describe the
// variables, axes, experiments and global attributes allowed in a
// rewritten dataset.
package table

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tjahns/cmor/units"
)

// Experiment is a valid (long, short) experiment name pair.
type Experiment struct {
	Long, Short string
}

// AxisDef describes an axis entry of a table.
type AxisDef struct {
	ID               string
	OutName          string
	StandardName     string
	LongName         string
	Units            string
	Axis             string // "X", "Y", "Z", "T" or "".
	StoredDirection  string // "increasing", "decreasing" or "".
	Type             string
	Positive         string
	Formula          string
	ZFactors         string
	ZBoundsFactors   string
	GenericLevelName string
	Climatology      bool
	MustHaveBounds   bool
	Tolerance        float64

	ValidMin, ValidMax       float64
	HasValidMin, HasValidMax bool

	// Requested holds the requested coordinate values, if any.
	Requested []float64
	// RequestedNames holds the requested values of character axes.
	RequestedNames []string
	// RequestedBounds holds the requested bounds, if any.
	RequestedBounds []float64

	// Value is the coordinate value of a singleton axis and
	// HasValue reports whether it is set.
	Value        float64
	HasValue     bool
	BoundsValues []float64

	// Attrs holds the raw entry.
	Attrs map[string]string
}

// IsCharacter returns whether the axis has string coordinate values.
func (a *AxisDef) IsCharacter() bool { return a.Type == "character" }

// IsTime returns whether the axis is a time axis.
func (a *AxisDef) IsTime() bool { return a.Axis == "T" }

// Name returns the name under which the axis is written.
func (a *AxisDef) Name() string {
	if a.OutName != "" {
		return a.OutName
	}
	return a.ID
}

// VarDef describes a variable entry of a table.
type VarDef struct {
	ID           string
	OutName      string
	StandardName string
	LongName     string
	Units        string
	CellMethods  string
	CellMeasures string
	Comment      string
	Positive     string
	Type         string
	Realm        string
	Frequency    string
	Dimensions   []string

	ValidMin, ValidMax               float64
	HasValidMin, HasValidMax         bool
	OkMinMeanAbs, OkMaxMeanAbs       float64
	HasOkMinMeanAbs, HasOkMaxMeanAbs bool

	// Required lists variable attributes that must be set.
	Required []string

	Shuffle      bool
	Deflate      bool
	DeflateLevel int

	Attrs map[string]string
}

// Name returns the name under which the variable is written.
func (v *VarDef) Name() string {
	if v.OutName != "" {
		return v.OutName
	}
	return v.ID
}

// Table is a loaded schema table.
type Table struct {
	// ID is the short table id, e.g. "Amon".
	ID             string
	CMORVersion    float64
	CFVersion      float64
	MIPEra         string
	ActivityID     string
	Realm          string
	Frequency      string
	Product        string
	Date           string
	URL            string
	TrackingPrefix string
	// ApproxInterval is the approximate interval between time
	// samples, in days.
	ApproxInterval float64
	MissingValue   float64
	IntMissing     int

	// RequiredGlobalAttributes is the unparsed list of required
	// global attributes.
	RequiredGlobalAttributes string
	Forcings                 []string
	Experiments              []Experiment

	Axes      map[string]*AxisDef
	Variables map[string]*VarDef
	// Formula holds the entries describing the terms of vertical
	// coordinate formulas (z-factors).
	Formula map[string]*VarDef
	// GenericLevels lists dimension names that stand for any vertical
	// axis with the same generic level name.
	GenericLevels []string

	// Header holds every header entry as a string.
	Header map[string]string

	Checksum string
	Path     string
}

// Attr returns a header attribute of the table. The names "table"
// and "table_id" return the short table id.
func (t *Table) Attr(name string) (string, bool) {
	switch name {
	case "table", "table_id":
		return t.ID, t.ID != ""
	case "activity_id":
		return t.ActivityID, t.ActivityID != ""
	}
	v, ok := t.Header[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// HasAttr returns whether the table has a non-empty header attribute.
func (t *Table) HasAttr(name string) bool {
	_, ok := t.Attr(name)
	return ok
}

// IntervalSeconds returns the approximate interval between time
// samples in seconds. The interval is given in the units of the time
// axis, axisUnits, or in days when they are empty.
func (t *Table) IntervalSeconds(axisUnits string) (float64, error) {
	if strings.TrimSpace(axisUnits) == "" {
		axisUnits = "days"
	}
	conv, err := units.ConvertString(axisUnits, "s")
	if err != nil {
		return 0, fmt.Errorf("table %s: converting approx_interval from %s: %v", t.ID, axisUnits, err)
	}
	return conv(t.ApproxInterval), nil
}

// Axis returns the axis definition with the given id.
func (t *Table) Axis(id string) (*AxisDef, bool) {
	a, ok := t.Axes[id]
	return a, ok
}

// Variable returns the variable definition with the given id.
func (t *Table) Variable(id string) (*VarDef, bool) {
	v, ok := t.Variables[id]
	return v, ok
}

// Experiment returns the experiment matching id either by its long or
// short name.
func (t *Table) Experiment(id string) (Experiment, bool) {
	for _, e := range t.Experiments {
		if e.Long == id || e.Short == id {
			return e, true
		}
	}
	return Experiment{}, false
}

// FormulaTerm returns the definition of the z-factor term name,
// looking at the formula entries first and then at the variables.
func (t *Table) FormulaTerm(name string) (*VarDef, bool) {
	if v, ok := t.Formula[name]; ok {
		return v, true
	}
	v, ok := t.Variables[name]
	return v, ok
}

// IsGenericLevel returns whether dim is a generic level name.
func (t *Table) IsGenericLevel(dim string) bool {
	for _, g := range t.GenericLevels {
		if g == dim {
			return true
		}
	}
	return false
}

// AxisIDs returns the sorted axis ids.
func (t *Table) AxisIDs() []string {
	o := make([]string, 0, len(t.Axes))
	for k := range t.Axes {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// VariableIDs returns the sorted variable ids.
func (t *Table) VariableIDs() []string {
	o := make([]string, 0, len(t.Variables))
	for k := range t.Variables {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
