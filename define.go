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
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/tjahns/cmor/ncfile"
)

// ncError reports an error of the file engine as critical.
func (s *Session) ncError(err error, v *Variable) error {
	code := 0
	var ne *ncfile.Error
	if errors.As(err, &ne) {
		code = ne.Code
	}
	tid := ""
	if v.Table != nil {
		tid = v.Table.ID
	}
	return s.reportErr(Critical, err, "NetCDF Error (%d: %v) for variable %s (table: %s)", code, err, v.Name, tid)
}

// intGlobals and floatGlobals are written as numbers.
var (
	intGlobals   = map[string]bool{"initialization_method": true, "physics_index": true, "forcing_index": true, "initialization_index": true}
	floatGlobals = map[string]bool{"branch_time": true}
)

// setGlobals sets the dataset attributes that are computed for each
// file: tracking id, creation date, conventions, history, table id and
// title.
func (s *Session) setGlobals(v *Variable) {
	t := v.Table
	now := s.Now().UTC().Format("2006-01-02T15:04:05Z")
	id := uuid.New().String()
	if t.TrackingPrefix != "" {
		id = t.TrackingPrefix + "/" + id
	}
	s.setInternal("tracking_id", id, false)
	s.setInternal("creation_date", now, false)
	cf := t.CFVersion
	if cf == 0 {
		cf = CFVersion
	}
	s.setInternal("Conventions", fmt.Sprintf("CF-%.1f", cf), false)
	activity := t.ActivityID
	if d := s.dataset; !d.historyDone {
		h := fmt.Sprintf("%s CMOR rewrote data to comply with CF standards and %s requirements.", now, activity)
		if user := s.datasetValue("history"); user != "" {
			h = user + " " + h
		}
		s.setInternal("history", h, false)
		d.historyDone = true
	}
	s.setInternal("table_id", strings.TrimSpace(fmt.Sprintf("Table %s (%s) %s", t.ID, t.Date, t.Checksum)), false)
	model := s.datasetValue("model_id")
	if model == "" {
		model = s.datasetValue("source_id")
	}
	exp := s.datasetValue("experiment")
	if exp == "" {
		exp = s.datasetValue("experiment_id")
	}
	s.setInternal("title", fmt.Sprintf("%s model output prepared for %s %s", model, activity, exp), false)
	s.setInternal("variant_label", s.variantLabel(), false)
	realm := v.Def.Realm
	if realm == "" {
		realm = t.Realm
	}
	s.setInternal("modeling_realm", realm, false)
	freq := v.Def.Frequency
	if freq == "" {
		freq = t.Frequency
	}
	s.setInternal("frequency", freq, false)
	if t.MIPEra != "" {
		s.setInternal("mip_era", t.MIPEra, false)
	}
	s.setInternal("cmor_version", Version, false)
}

// writeGlobals writes the dataset attributes to f. Names starting
// with "_" and the calendar are not written.
func (s *Session) writeGlobals(v *Variable, f ncfile.File) error {
	set := func(name string, value interface{}) error {
		if err := f.SetAttribute("", name, value); err != nil {
			return s.ncError(err, v)
		}
		return nil
	}
	for _, k := range s.dataset.attrs.Keys() {
		if k == "calendar" || strings.HasPrefix(k, "_") {
			continue
		}
		val := s.dataset.attrs.Value(k)
		var out interface{} = val
		switch {
		case intGlobals[k]:
			if i, err := cast.ToIntE(val); err == nil {
				out = i
			}
		case floatGlobals[k]:
			if x, err := cast.ToFloat64E(val); err == nil {
				out = x
			}
		}
		if err := set(k, out); err != nil {
			return err
		}
	}
	if r := s.dataset.Realization; r > 0 {
		return set("realization_index", r)
	}
	return nil
}

// axisAttrs writes the attributes of the coordinate variable of a.
func (s *Session) axisAttrs(v *Variable, f ncfile.File, a *Axis, name string) error {
	def := a.Def
	for _, at := range []struct{ name, value string }{
		{"standard_name", def.StandardName},
		{"long_name", def.LongName},
		{"units", a.Units},
		{"axis", def.Axis},
		{"positive", def.Positive},
		{"formula", def.Formula},
	} {
		if at.value == "" || (at.name == "units" && def.IsCharacter()) {
			continue
		}
		if err := f.SetAttribute(name, at.name, at.value); err != nil {
			return s.ncError(err, v)
		}
	}
	if a.IsTime {
		if err := f.SetAttribute(name, "calendar", s.datasetValue("calendar")); err != nil {
			return s.ncError(err, v)
		}
	}
	for _, k := range a.Attrs.Keys() {
		if err := f.SetAttribute(name, k, a.Attrs.Value(k)); err != nil {
			return s.ncError(err, v)
		}
	}
	return nil
}

// hasTimeBounds returns whether time bounds are written for axis a.
func hasTimeBounds(a *Axis) bool {
	return a.Def.MustHaveBounds || a.Def.Climatology || len(a.Bounds) > 0
}

// maxLen returns the length of the longest string in c.
func maxLen(c []string) int {
	n := 1
	for _, s := range c {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}

// defineFile defines the dimensions, coordinates, z-factors, grid
// variables and the data variable of v in f and leaves define mode.
func (s *Session) defineFile(v *Variable, f ncfile.File) error {
	t := v.Table
	log := s.Log.WithFields(logrus.Fields{"variable": v.Name, "table": t.ID, "file": f.Path()})
	s.setGlobals(v)
	s.checkCFVersion(t, v)
	if err := s.writeGlobals(v, f); err != nil {
		return err
	}
	prepared, err := s.prepareZFactors(v)
	if err != nil {
		return err
	}

	var g *Grid
	if v.Grid != NoGrid {
		g = s.grids[v.Grid-1]
	}
	needBnds, strlen := false, 0
	dims := make([]string, len(v.Axes))
	for i, id := range v.Axes {
		a := s.axes[id]
		dims[i] = a.Name()
		n := a.Len()
		if a.IsTime && i == 0 {
			n = 0
		}
		if err := f.DefineDimension(a.Name(), n); err != nil {
			return s.ncError(err, v)
		}
		if a.CValues != nil && maxLen(a.CValues) > strlen {
			strlen = maxLen(a.CValues)
		}
		if len(a.Bounds) > 0 || (a.IsTime && hasTimeBounds(a)) {
			needBnds = true
		}
	}
	for _, id := range v.Singletons {
		if len(s.axes[id].Bounds) > 0 {
			needBnds = true
		}
	}
	for _, p := range prepared {
		if len(p.bterms) > 0 {
			needBnds = true
		}
	}
	if needBnds {
		if err := f.DefineDimension("bnds", 2); err != nil {
			return s.ncError(err, v)
		}
	}
	if strlen > 0 {
		if err := f.DefineDimension("strlen", strlen); err != nil {
			return s.ncError(err, v)
		}
	}
	if g != nil && g.NVertices > 0 {
		if err := f.DefineDimension("vertices", g.NVertices); err != nil {
			return s.ncError(err, v)
		}
	}

	var coords []string
	for _, id := range v.Axes {
		a := s.axes[id]
		name := a.Name()
		if a.CValues != nil {
			if err := f.DefineVariable(name, ncfile.Char, []string{name, "strlen"}); err != nil {
				return s.ncError(err, v)
			}
			coords = append(coords, name)
		} else if err := f.DefineVariable(name, ncfile.Double, []string{name}); err != nil {
			return s.ncError(err, v)
		}
		if err := s.axisAttrs(v, f, a, name); err != nil {
			return err
		}
		if len(a.Bounds) > 0 || (a.IsTime && hasTimeBounds(a)) {
			bname := a.BoundsName()
			if err := f.DefineVariable(bname, ncfile.Double, []string{name, "bnds"}); err != nil {
				return s.ncError(err, v)
			}
			key := "bounds"
			if a.Def.Climatology {
				key = "climatology"
			}
			if err := f.SetAttribute(name, key, bname); err != nil {
				return s.ncError(err, v)
			}
			if a.IsTime {
				if err := f.SetAttribute(bname, "units", a.Units); err != nil {
					return s.ncError(err, v)
				}
			}
		}
	}
	if err := s.defineZFactors(v, f, prepared); err != nil {
		return err
	}
	gridCoords, err := s.defineGridVariables(v, f, g)
	if err != nil {
		return err
	}
	coords = append(coords, gridCoords...)
	for _, id := range v.Singletons {
		a := s.axes[id]
		name := a.Name()
		if err := f.DefineVariable(name, ncfile.Double, nil); err != nil {
			return s.ncError(err, v)
		}
		if err := s.axisAttrs(v, f, a, name); err != nil {
			return err
		}
		if len(a.Bounds) == 2 {
			if err := f.DefineVariable(a.BoundsName(), ncfile.Double, []string{"bnds"}); err != nil {
				return s.ncError(err, v)
			}
			if err := f.SetAttribute(name, "bounds", a.BoundsName()); err != nil {
				return s.ncError(err, v)
			}
		}
		coords = append(coords, name)
	}

	if err := s.defineDataVariable(v, f, dims, coords, g); err != nil {
		return err
	}
	if err := f.EndDefine(); err != nil {
		return s.ncError(err, v)
	}
	v.defining = false
	log.Debug("defined file")
	return s.writeStatic(v, g)
}

// defineGridVariables defines the latitude, longitude and vertex
// variables and the grid mapping of grid g and returns the names to
// add to the coordinates attribute.
func (s *Session) defineGridVariables(v *Variable, f ncfile.File, g *Grid) ([]string, error) {
	if g == nil {
		return nil, nil
	}
	var gdims []string
	for _, id := range g.Axes {
		gdims = append(gdims, s.axes[id].Name())
	}
	type coord struct {
		slot int
		dims []string
	}
	var defs []coord
	if g.TimeVarying() {
		tdims := append([]string{s.axes[g.TimeAxis].Name()}, gdims...)
		for slot, id := range g.coords {
			if id < 0 {
				continue
			}
			d := tdims
			if slot >= GridVerticesLatitude {
				d = append(append([]string{}, tdims...), "vertices")
			}
			defs = append(defs, coord{slot, d})
			v.addAssociated(id)
		}
	} else {
		defs = append(defs, coord{GridLatitude, gdims}, coord{GridLongitude, gdims})
		if len(g.BoundsLatitude) > 0 {
			vd := append(append([]string{}, gdims...), "vertices")
			defs = append(defs, coord{GridVerticesLatitude, vd}, coord{GridVerticesLongitude, vd})
		}
	}
	for _, c := range defs {
		name := gridCoordOutNames[c.slot]
		if err := f.DefineVariable(name, ncfile.Double, c.dims); err != nil {
			return nil, s.ncError(err, v)
		}
		units := "degrees_north"
		if c.slot == GridLongitude || c.slot == GridVerticesLongitude {
			units = "degrees_east"
		}
		atts := [][2]string{{"units", units}}
		if c.slot <= GridLongitude {
			atts = append(atts, [2]string{"standard_name", gridCoordNames[c.slot]}, [2]string{"long_name", gridCoordNames[c.slot]})
			if g.NVertices > 0 {
				atts = append(atts, [2]string{"bounds", gridCoordOutNames[c.slot+2]})
			}
		}
		for _, at := range atts {
			if err := f.SetAttribute(name, at[0], at[1]); err != nil {
				return nil, s.ncError(err, v)
			}
		}
		if g.TimeVarying() {
			if err := f.SetAttribute(name, "missing_value", DefaultMissingValue); err != nil {
				return nil, s.ncError(err, v)
			}
			v.defined[name] = true
		}
	}
	if g.Mapping != "" {
		if err := f.DefineVariable(g.Mapping, ncfile.Int, nil); err != nil {
			return nil, s.ncError(err, v)
		}
		if err := f.SetAttribute(g.Mapping, "grid_mapping_name", g.Mapping); err != nil {
			return nil, s.ncError(err, v)
		}
		for _, p := range g.mappingParamNames() {
			if err := f.SetAttribute(g.Mapping, p, g.MappingParams[p]); err != nil {
				return nil, s.ncError(err, v)
			}
			if u := g.MappingUnits[p]; u != "" {
				if err := f.SetAttribute(g.Mapping, p+"_units", u); err != nil {
					return nil, s.ncError(err, v)
				}
			}
		}
	}
	return []string{"lat", "lon"}, nil
}

// cellMethods returns the cell methods of v with the sampling
// intervals of its axes merged in, e.g. "time: mean (interval: 30
// minutes)".
func (s *Session) cellMethods(v *Variable) string {
	cm := v.Attrs.Value("cell_methods")
	for _, id := range v.Axes {
		a := s.axes[id]
		if a.Interval == "" {
			continue
		}
		key := a.Name() + ": "
		if a.IsTime {
			key = "time: "
		}
		i := strings.Index(cm, key)
		if i < 0 {
			continue
		}
		rest := cm[i+len(key):]
		j := strings.IndexAny(rest, " ")
		if j < 0 {
			j = len(rest)
		}
		if strings.HasPrefix(strings.TrimSpace(rest[j:]), "(interval:") {
			continue
		}
		cm = cm[:i+len(key)+j] + fmt.Sprintf(" (interval: %s)", a.Interval) + rest[j:]
	}
	return cm
}

// typedMissing returns the missing value of v in its storage type.
func typedMissing(v *Variable) interface{} {
	mv := v.outMissing()
	switch v.Type {
	case ncfile.Float:
		return float32(mv)
	case ncfile.Int:
		return int32(mv)
	case ncfile.Short:
		return int16(mv)
	}
	return mv
}

// handledVarAttrs are written by defineDataVariable itself.
var handledVarAttrs = map[string]bool{
	"cell_methods": true, "history": true, "flag_values": true, "missing_value": true, "_FillValue": true,
}

func (s *Session) defineDataVariable(v *Variable, f ncfile.File, dims, coords []string, g *Grid) error {
	name := v.OutName()
	def := v.Def
	if err := f.DefineVariable(name, v.Type, dims); err != nil {
		return s.ncError(err, v)
	}
	set := func(k string, val interface{}) error {
		if err := f.SetAttribute(name, k, val); err != nil {
			return s.ncError(err, v)
		}
		return nil
	}
	for _, at := range [][2]string{
		{"standard_name", def.StandardName},
		{"long_name", def.LongName},
		{"comment", def.Comment},
		{"units", def.Units},
		{"cell_methods", s.cellMethods(v)},
		{"cell_measures", def.CellMeasures},
		{"positive", v.Positive},
	} {
		if at[1] == "" || (at[0] == "comment" && v.Attrs.Has("comment")) {
			continue
		}
		if err := set(at[0], at[1]); err != nil {
			return err
		}
	}
	mv := typedMissing(v)
	if err := set("missing_value", mv); err != nil {
		return err
	}
	if err := set("_FillValue", mv); err != nil {
		return err
	}
	hist := v.Attrs.Value("history")
	for _, h := range v.history {
		if hist != "" {
			hist += "; "
		}
		hist += h
	}
	if hist != "" {
		if err := set("history", hist); err != nil {
			return err
		}
	}
	if fv := v.Attrs.Value("flag_values"); fv != "" {
		var flags []int
		for _, x := range strings.Fields(fv) {
			i, err := cast.ToIntE(x)
			if err != nil {
				return s.reportErr(Critical, err, "variable %s (table %s): invalid flag value %s", v.Name, v.Table.ID, x)
			}
			flags = append(flags, i)
		}
		if err := set("flag_values", flags); err != nil {
			return err
		}
	}
	if len(coords) > 0 {
		if err := set("coordinates", strings.Join(coords, " ")); err != nil {
			return err
		}
	}
	if g != nil && g.Mapping != "" {
		if err := set("grid_mapping", g.Mapping); err != nil {
			return err
		}
	}
	for _, k := range v.Attrs.Keys() {
		if handledVarAttrs[k] {
			continue
		}
		if err := set(k, v.Attrs.Value(k)); err != nil {
			return err
		}
	}
	if len(dims) == 0 {
		return nil
	}
	if err := f.SetCompression(name, ncfile.Compression{Shuffle: v.Shuffle, Deflate: v.Deflate, Level: v.DeflateLevel}); err != nil {
		return s.ncError(err, v)
	}
	chunks := make([]int, len(v.Axes))
	for i, id := range v.Axes {
		a := s.axes[id]
		chunks[i] = 1
		if a.Def.Axis == "X" || a.Def.Axis == "Y" || (g != nil && contains(g.Axes, id)) {
			chunks[i] = a.Len()
		}
	}
	if err := f.SetChunking(name, chunks); err != nil {
		return s.ncError(err, v)
	}
	return nil
}

// charValues packs c into a string of len(c) fixed-width entries.
func charValues(c []string, width int) string {
	var b strings.Builder
	for _, x := range c {
		b.WriteString(x)
		b.WriteString(strings.Repeat("\x00", width-len(x)))
	}
	return b.String()
}

// writeStatic writes the coordinates that do not vary in time.
func (s *Session) writeStatic(v *Variable, g *Grid) error {
	f := v.file
	write := func(name string, data interface{}) error {
		if err := f.WriteSlab(name, nil, data); err != nil {
			return s.ncError(err, v)
		}
		return nil
	}
	for _, id := range append(append([]AxisID{}, v.Axes...), v.Singletons...) {
		a := s.axes[id]
		if a.IsTime {
			continue
		}
		if a.CValues != nil {
			w, err := f.DimensionLength("strlen")
			if err != nil {
				return s.ncError(err, v)
			}
			if err := write(a.Name(), charValues(a.CValues, w)); err != nil {
				return err
			}
			continue
		}
		if err := write(a.Name(), a.Values); err != nil {
			return err
		}
		if len(a.Bounds) > 0 {
			if err := write(a.BoundsName(), a.Bounds); err != nil {
				return err
			}
		}
	}
	if err := s.writeStaticTerms(v); err != nil {
		return err
	}
	if g != nil && !g.TimeVarying() {
		for name, vals := range map[string][]float64{
			"lat":                g.Latitude,
			"lon":                g.Longitude,
			"vertices_latitude":  g.BoundsLatitude,
			"vertices_longitude": g.BoundsLongitude,
		} {
			if len(vals) == 0 {
				continue
			}
			if err := write(name, vals); err != nil {
				return err
			}
		}
	}
	return nil
}
