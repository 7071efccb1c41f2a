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
	"math"

	"github.com/tjahns/cmor/ncfile"
	"github.com/tjahns/cmor/units"
	"gonum.org/v1/gonum/floats"
)

// toFloat64s copies numeric data to a float64 slice and returns the
// element type name.
func toFloat64s(data interface{}) ([]float64, string, bool) {
	switch d := data.(type) {
	case []float64:
		return append([]float64{}, d...), "float64", true
	case []float32:
		o := make([]float64, len(d))
		for i, x := range d {
			o[i] = float64(x)
		}
		return o, "float32", true
	case []int32:
		o := make([]float64, len(d))
		for i, x := range d {
			o[i] = float64(x)
		}
		return o, "int32", true
	case []int16:
		o := make([]float64, len(d))
		for i, x := range d {
			o[i] = float64(x)
		}
		return o, "int16", true
	case []int:
		o := make([]float64, len(d))
		for i, x := range d {
			o[i] = float64(x)
		}
		return o, "int", true
	}
	return nil, "", false
}

// outMissing returns the missing value written to files.
func (v *Variable) outMissing() float64 {
	switch v.Type {
	case ncfile.Int, ncfile.Short, ncfile.Byte:
		if v.Table != nil {
			return float64(v.Table.IntMissing)
		}
	}
	if v.Table != nil && v.Table.MissingValue != 0 {
		return v.Table.MissingValue
	}
	return DefaultMissingValue
}

// isMissing returns whether x matches the missing value of v within
// the relative tolerance.
func (v *Variable) isMissing(x float64) bool {
	mv := v.MissingValue
	if mv == 0 {
		return x == 0
	}
	return math.Abs(x-mv) <= v.Tolerance*math.Abs(mv)
}

// converter returns the unit conversion from the user units of v to
// the table units, or nil if none is needed.
func (s *Session) converter(v *Variable) (func(float64) float64, error) {
	if v.Def == nil || v.Def.Units == "" || v.Units == "" || v.Units == v.Def.Units {
		return nil, nil
	}
	conv, err := units.ConvertString(v.Units, v.Def.Units)
	if err != nil {
		tid := ""
		if v.Table != nil {
			tid = v.Table.ID
		}
		return nil, s.reportErr(Critical, err, "variable %s (table %s): cannot convert units from %s to %s: %v",
			v.Name, tid, v.Units, v.Def.Units, err)
	}
	return conv, nil
}

// convertZFactor converts static z-factor values to the table units.
func (s *Session) convertZFactor(v *Variable, values []float64) error {
	conv, err := s.converter(v)
	if err != nil || conv == nil {
		return err
	}
	for i, x := range values {
		values[i] = conv(x)
	}
	return nil
}

// userShape returns the lengths of the user dimensions of v, with
// ntime time steps.
func (s *Session) userShape(v *Variable, ntime int) []int {
	o := make([]int, len(v.userAxes))
	for i, id := range v.userAxes {
		a := s.axes[id]
		if a.IsTime {
			o[i] = ntime
		} else {
			o[i] = a.Len()
		}
	}
	if v.Kind == GridCoordinate && v.gridSlot >= GridVerticesLatitude {
		o = append(o, s.grids[v.Grid-1].NVertices)
	}
	return o
}

func product(shape []int) int {
	n := 1
	for _, l := range shape {
		n *= l
	}
	return n
}

// transform converts user data to the stored form: unit conversion,
// sign flip, missing value replacement, then axis reversal and
// permutation to output order.
func (s *Session) transform(v *Variable, raw []float64, ntime int) ([]float64, error) {
	shape := s.userShape(v, ntime)
	if n := product(shape); n != len(raw) {
		return nil, s.report(Critical, "variable %s: got %d values, expected %d for shape %v", v.Name, len(raw), n, shape)
	}
	conv, err := s.converter(v)
	if err != nil {
		return nil, err
	}
	out := v.outMissing()
	valid := make([]float64, 0, len(raw))
	for i, x := range raw {
		if v.isMissing(x) || math.IsNaN(x) {
			raw[i] = out
			continue
		}
		if conv != nil {
			x = conv(x)
		}
		if v.flipSign {
			x = -x
		}
		raw[i] = x
		valid = append(valid, x)
	}
	s.checkRange(v, valid)
	return s.permute(v, raw, shape), nil
}

// checkRange warns about values outside of the valid range and mean
// absolute values outside of the expected range.
func (s *Session) checkRange(v *Variable, valid []float64) {
	def := v.Def
	if def == nil || v.Table == nil || len(valid) == 0 {
		return
	}
	tid := v.Table.ID
	if lo := floats.Min(valid); def.HasValidMin && lo < def.ValidMin {
		s.report(Warning, "Invalid value(s) detected for variable '%s' (table: %s): minimum %g is less than valid minimum %g",
			v.Name, tid, lo, def.ValidMin)
	}
	if hi := floats.Max(valid); def.HasValidMax && hi > def.ValidMax {
		s.report(Warning, "Invalid value(s) detected for variable '%s' (table: %s): maximum %g is greater than valid maximum %g",
			v.Name, tid, hi, def.ValidMax)
	}
	mean := floats.Norm(valid, 1) / float64(len(valid))
	if def.HasOkMinMeanAbs && mean < def.OkMinMeanAbs {
		s.report(Warning, "variable %s (table %s): the mean absolute value (%g) is lower than the expected minimum (%g)",
			v.Name, tid, mean, def.OkMinMeanAbs)
	}
	if def.HasOkMaxMeanAbs && mean > def.OkMaxMeanAbs {
		s.report(Warning, "variable %s (table %s): the mean absolute value (%g) is greater than the expected maximum (%g)",
			v.Name, tid, mean, def.OkMaxMeanAbs)
	}
}

// permute reorders data from the user dimension order to the output
// order, reversing reverted axes.
func (s *Session) permute(v *Variable, data []float64, shape []int) []float64 {
	nd := len(v.perm)
	if nd == 0 || nd != len(shape) {
		return data
	}
	ustride := make([]int, len(shape))
	st := 1
	for i := len(shape) - 1; i >= 0; i-- {
		ustride[i] = st
		st *= shape[i]
	}
	oshape := make([]int, nd)
	rev := make([]bool, nd)
	trivial := true
	for i, p := range v.perm {
		oshape[i] = shape[p]
		a := s.axes[v.Axes[i]]
		rev[i] = a.Reverted && !a.IsTime
		if p != i || rev[i] {
			trivial = false
		}
	}
	if trivial {
		return data
	}
	o := make([]float64, len(data))
	idx := make([]int, nd)
	for k := range o {
		u := 0
		for i := 0; i < nd; i++ {
			j := idx[i]
			if rev[i] {
				j = oshape[i] - 1 - j
			}
			u += j * ustride[v.perm[i]]
		}
		o[k] = data[u]
		for i := nd - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < oshape[i] {
				break
			}
			idx[i] = 0
		}
	}
	return o
}
