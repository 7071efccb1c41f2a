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

	"github.com/Knetic/govaluate"
	"github.com/spf13/cast"
	"github.com/tjahns/cmor/ncfile"
)

// hybridFormulas are the expressions giving the nondimensional
// coordinate values of hybrid axes from their formula terms.
var hybridFormulas = map[HybridKind]string{
	StdHybridSigma: "a + b",
	AltHybridSigma: "ap / p0 + b",
	StdSigma:       "sigma",
}

// defaultP0 is the reference pressure used when no p0 term is defined.
const defaultP0 = 1e5

// termRef is a resolved formula term. Exactly one of variable and
// axis is set.
type termRef struct {
	term, name string
	variable   *Variable
	axis       *Axis
	bounds     bool
}

// parseFormulaTerms splits "a: x b: y" into (term, name) pairs.
func parseFormulaTerms(s string) [][2]string {
	var o [][2]string
	f := strings.Fields(s)
	for i := 0; i+1 < len(f); i += 2 {
		o = append(o, [2]string{strings.TrimSuffix(f[i], ":"), f[i+1]})
	}
	return o
}

// zfactorTerms resolves the formula terms in list for axis a of
// variable v. A term matches a registered z-factor whose axes are all
// axes of v, then an axis of v or its bounds.
func (s *Session) zfactorTerms(v *Variable, a *Axis, list string) ([]termRef, error) {
	var axes []AxisID
	axes = append(axes, v.Axes...)
	axes = append(axes, v.Singletons...)
	var o []termRef
	for _, p := range parseFormulaTerms(list) {
		r := termRef{term: p[0], name: p[1]}
		for _, z := range s.variables {
			if z.Kind != ZFactor || z.Name != p[1] {
				continue
			}
			ok := true
			for _, id := range z.Axes {
				ok = ok && contains(axes, id)
			}
			for _, id := range z.Singletons {
				ok = ok && contains(axes, id)
			}
			if ok {
				r.variable = z
				break
			}
		}
		if r.variable == nil {
			for _, id := range v.Axes {
				ax := s.axes[id]
				switch p[1] {
				case ax.Def.ID, ax.Name():
					r.axis = ax
				case ax.Def.ID + "_bnds", ax.Name() + "_bnds":
					r.axis, r.bounds = ax, true
				}
				if r.axis != nil {
					break
				}
			}
		}
		if r.variable == nil && r.axis == nil {
			return nil, s.report(Critical, "could not find the zfactor variable: %s, please define it first, while defining zfactors for variable %s (table %s)",
				p[1], v.Name, v.Table.ID)
		}
		o = append(o, r)
	}
	return o, nil
}

// termValues returns the static values of term r, or nil if the term
// varies in time.
func (s *Session) termValues(r termRef) []float64 {
	switch {
	case r.axis != nil && r.bounds:
		return r.axis.Bounds
	case r.axis != nil:
		return r.axis.Values
	}
	for _, id := range r.variable.Axes {
		if s.axes[id].IsTime {
			return nil
		}
	}
	return r.variable.Values
}

// recomputeHybrid sets the values and bounds of hybrid axis a from its
// formula terms. Axes whose terms are not all static are left as they
// are.
func (s *Session) recomputeHybrid(a *Axis, terms, bterms []termRef) error {
	expr, ok := hybridFormulas[a.Hybrid]
	if !ok {
		return nil
	}
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return s.reportErr(Critical, err, "axis %s: invalid formula %s: %v", a.Def.ID, expr, err)
	}
	eval := func(refs []termRef, n int) ([]float64, bool, error) {
		vals := make(map[string][]float64)
		for _, r := range refs {
			if v := s.termValues(r); len(v) > 0 {
				vals[r.term] = v
			}
		}
		if _, ok := vals["p0"]; !ok {
			vals["p0"] = []float64{defaultP0}
		}
		for _, name := range e.Vars() {
			v, ok := vals[name]
			if !ok || (len(v) != 1 && len(v) != n) {
				return nil, false, nil
			}
		}
		o := make([]float64, n)
		params := make(map[string]interface{}, len(vals))
		for i := range o {
			for name, v := range vals {
				if len(v) == 1 {
					params[name] = v[0]
				} else if len(v) == n {
					params[name] = v[i]
				}
			}
			r, err := e.Evaluate(params)
			if err != nil {
				return nil, false, err
			}
			if o[i], err = cast.ToFloat64E(r); err != nil {
				return nil, false, err
			}
		}
		return o, true, nil
	}
	vals, ok, err := eval(terms, len(a.Values))
	if err != nil {
		return s.reportErr(Critical, err, "axis %s: evaluating %s: %v", a.Def.ID, expr, err)
	}
	if ok {
		a.Values = vals
	}
	if len(a.Bounds) > 0 && len(bterms) > 0 {
		b, ok, err := eval(bterms, len(a.Bounds))
		if err != nil {
			return s.reportErr(Critical, err, "axis %s: evaluating bounds %s: %v", a.Def.ID, expr, err)
		}
		if ok {
			a.Bounds = b
		}
	}
	return nil
}

// flipHybrid reverses hybrid axis a, its bounds and the coefficients
// defined on it when the values run against the stored direction of
// the table. The reversal is recorded once in the history of v.
func (s *Session) flipHybrid(v *Variable, a *Axis) {
	if !needsFlip(a.Def.StoredDirection, a.Values) {
		return
	}
	reverse(a.Values)
	reverse(a.Bounds)
	for _, z := range s.variables {
		if z.Kind == ZFactor && len(z.Axes) == 1 && z.Axes[0] == a.ID {
			reverse(z.Values)
		}
	}
	a.Reverted = !a.Reverted
	v.addHistory(fmt.Sprintf("Inverted axis: %s", a.Def.ID))
}

// addHistory appends entry to the history of v unless it is already
// there.
func (v *Variable) addHistory(entry string) {
	for _, h := range v.history {
		if h == entry {
			return
		}
	}
	v.history = append(v.history, entry)
}

// axisTerms holds the resolved formula terms of an axis.
type axisTerms struct {
	axis          *Axis
	terms, bterms []termRef
}

// prepareZFactors resolves the formula terms of the axes of v,
// recomputes the hybrid axes from them and flips the hybrid axes to
// the stored direction.
func (s *Session) prepareZFactors(v *Variable) ([]axisTerms, error) {
	var o []axisTerms
	for _, id := range v.Axes {
		a := s.axes[id]
		if a.Def.ZFactors == "" {
			continue
		}
		terms, err := s.zfactorTerms(v, a, a.Def.ZFactors)
		if err != nil {
			return nil, err
		}
		var bterms []termRef
		if len(a.Bounds) > 0 && a.Def.ZBoundsFactors != "" {
			if bterms, err = s.zfactorTerms(v, a, a.Def.ZBoundsFactors); err != nil {
				return nil, err
			}
		}
		if a.Hybrid != NotHybrid {
			if err := s.recomputeHybrid(a, terms, bterms); err != nil {
				return nil, err
			}
			s.flipHybrid(v, a)
		}
		o = append(o, axisTerms{axis: a, terms: terms, bterms: bterms})
	}
	return o, nil
}

// defineZFactors defines the formula term variables in file f and sets
// the formula_terms attributes of the axes.
func (s *Session) defineZFactors(v *Variable, f ncfile.File, prepared []axisTerms) error {
	for _, p := range prepared {
		if err := f.SetAttribute(p.axis.Name(), "formula_terms", p.axis.Def.ZFactors); err != nil {
			return s.ncError(err, v)
		}
		if len(p.bterms) > 0 {
			if err := f.SetAttribute(p.axis.BoundsName(), "formula_terms", p.axis.Def.ZBoundsFactors); err != nil {
				return s.ncError(err, v)
			}
		}
		for _, r := range append(p.terms, p.bterms...) {
			if r.variable == nil || v.defined[r.variable.Name] {
				continue
			}
			if err := s.defineTerm(v, r.variable, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// reopenZFactors registers the time-varying terms of an existing file
// as associated variables of v.
func (s *Session) reopenZFactors(v *Variable, f ncfile.File, prepared []axisTerms) {
	for _, p := range prepared {
		for _, r := range append(p.terms, p.bterms...) {
			if r.variable == nil || !f.HasVariable(r.variable.OutName()) {
				continue
			}
			v.defined[r.variable.Name] = true
			if s.termValues(r) == nil {
				v.addAssociated(r.variable.ID)
			}
		}
	}
}

// defineTerm defines the z-factor z in file f.
func (s *Session) defineTerm(v, z *Variable, f ncfile.File) error {
	dims := make([]string, 0, len(z.Axes)+1)
	timeVarying := false
	for _, id := range z.Axes {
		a := s.axes[id]
		timeVarying = timeVarying || a.IsTime
		dims = append(dims, a.Name())
	}
	if z.isBounds {
		dims = append(dims, "bnds")
	}
	name := z.OutName()
	if err := f.DefineVariable(name, z.Type, dims); err != nil {
		return s.ncError(err, v)
	}
	for _, at := range []struct{ name, value string }{
		{"long_name", z.Def.LongName},
		{"standard_name", z.Def.StandardName},
		{"units", z.Def.Units},
	} {
		if at.value == "" {
			continue
		}
		if err := f.SetAttribute(name, at.name, at.value); err != nil {
			return s.ncError(err, v)
		}
	}
	if timeVarying {
		if err := f.SetAttribute(name, "missing_value", z.outMissing()); err != nil {
			return s.ncError(err, v)
		}
		if err := f.SetAttribute(name, "_FillValue", z.outMissing()); err != nil {
			return s.ncError(err, v)
		}
		v.addAssociated(z.ID)
	}
	v.defined[z.Name] = true
	return nil
}

// addAssociated records z as a time-varying variable written with v.
func (v *Variable) addAssociated(z VarID) {
	for _, id := range v.associated {
		if id == z {
			return
		}
	}
	v.associated = append(v.associated, z)
}

// writeStaticTerms writes the values of the static z-factors defined
// in the file of v.
func (s *Session) writeStaticTerms(v *Variable) error {
	for _, z := range s.variables {
		if z.Kind != ZFactor || !v.defined[z.Name] || s.termValues(termRef{variable: z}) == nil {
			continue
		}
		if err := v.file.WriteSlab(z.OutName(), nil, z.Values); err != nil {
			return s.ncError(err, v)
		}
	}
	return nil
}
