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

package table

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cast"
	"github.com/tjahns/cmor/internal/hash"
)

// Default header values for tables that do not set them.
const (
	DefaultCMORVersion  = 3.0
	DefaultCFVersion    = 1.7
	DefaultMissingValue = 1e20
)

var (
	headerPath     = jp.MustParseString("$.Header")
	axisPath       = jp.MustParseString("$.axis_entry")
	variablePath   = jp.MustParseString("$.variable_entry")
	experimentPath = jp.MustParseString("$.experiment_id")
	formulaPath    = jp.MustParseString("$.formula_entry")
)

// Load reads and parses the table at path.
func Load(path string) (*Table, error) {
	b, err := ioutil.ReadFile(os.ExpandEnv(path))
	if err != nil {
		return nil, fmt.Errorf("table: reading %s: %v", path, err)
	}
	t, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("table: %s: %v", path, err)
	}
	t.Path = path
	return t, nil
}

// first returns the first match of x in root as a map, or nil.
func first(x jp.Expr, root interface{}) map[string]interface{} {
	for _, r := range x.Get(root) {
		if m, ok := r.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// Parse parses a JSON table with "Header", "axis_entry",
// "variable_entry" and, optionally, "experiment_id" sections.
func Parse(b []byte) (*Table, error) {
	root, err := oj.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("table: parsing JSON: %v", err)
	}
	hdr := first(headerPath, root)
	if hdr == nil {
		return nil, fmt.Errorf("table: missing Header section")
	}

	t := &Table{
		CMORVersion:  DefaultCMORVersion,
		CFVersion:    DefaultCFVersion,
		MissingValue: DefaultMissingValue,
		IntMissing:   -999,
		Header:       make(map[string]string),
		Axes:         make(map[string]*AxisDef),
		Variables:    make(map[string]*VarDef),
		Formula:      make(map[string]*VarDef),
		Checksum:     hash.Hash(root),
	}
	if err := t.parseHeader(hdr); err != nil {
		return nil, err
	}
	for id, e := range first(axisPath, root) {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("table %s: axis_entry %s is not an object", t.ID, id)
		}
		a, err := parseAxis(id, m)
		if err != nil {
			return nil, fmt.Errorf("table %s: axis %s: %v", t.ID, id, err)
		}
		t.Axes[id] = a
	}
	for id, e := range first(variablePath, root) {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("table %s: variable_entry %s is not an object", t.ID, id)
		}
		v, err := parseVariable(id, m)
		if err != nil {
			return nil, fmt.Errorf("table %s: variable %s: %v", t.ID, id, err)
		}
		if v.Realm == "" {
			v.Realm = t.Realm
		}
		if v.Frequency == "" {
			v.Frequency = t.Frequency
		}
		t.Variables[id] = v
	}
	for id, e := range first(formulaPath, root) {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("table %s: formula_entry %s is not an object", t.ID, id)
		}
		v, err := parseVariable(id, m)
		if err != nil {
			return nil, fmt.Errorf("table %s: formula term %s: %v", t.ID, id, err)
		}
		t.Formula[id] = v
	}
	expts := first(experimentPath, root)
	shorts := make([]string, 0, len(expts))
	for short := range expts {
		shorts = append(shorts, short)
	}
	sort.Strings(shorts)
	for _, short := range shorts {
		e := expts[short]
		long := short
		switch x := e.(type) {
		case string:
			long = x
		case map[string]interface{}:
			if s := str(x["experiment"]); s != "" {
				long = s
			}
		}
		t.Experiments = append(t.Experiments, Experiment{Long: long, Short: short})
	}
	return t, nil
}

func (t *Table) parseHeader(hdr map[string]interface{}) error {
	for k, v := range hdr {
		switch x := v.(type) {
		case []interface{}:
			parts := make([]string, 0, len(x))
			for _, p := range x {
				parts = append(parts, str(p))
			}
			t.Header[k] = strings.Join(parts, " ")
		default:
			t.Header[k] = str(v)
		}
	}
	t.ID = strings.TrimSpace(strings.TrimPrefix(t.Header["table_id"], "Table "))
	if t.ID == "" {
		return fmt.Errorf("table: Header has no table_id")
	}
	var err error
	num := func(key string, dst *float64) {
		if err != nil {
			return
		}
		s := t.Header[key]
		if s == "" {
			return
		}
		var f float64
		if f, err = cast.ToFloat64E(s); err != nil {
			err = fmt.Errorf("table %s: header %s: %v", t.ID, key, err)
			return
		}
		*dst = f
	}
	num("cmor_version", &t.CMORVersion)
	num("cf_version", &t.CFVersion)
	num("approx_interval", &t.ApproxInterval)
	num("missing_value", &t.MissingValue)
	if s := t.Header["int_missing_value"]; s != "" && err == nil {
		if t.IntMissing, err = cast.ToIntE(s); err != nil {
			err = fmt.Errorf("table %s: header int_missing_value: %v", t.ID, err)
		}
	}
	if err != nil {
		return err
	}
	if strings.HasPrefix(t.Header["Conventions"], "CF-") && t.Header["cf_version"] == "" {
		// e.g. "CF-1.7 CMIP-6.2"
		f := strings.Fields(strings.TrimPrefix(t.Header["Conventions"], "CF-"))
		if len(f) > 0 {
			if v, err := cast.ToFloat64E(f[0]); err == nil {
				t.CFVersion = v
			}
		}
	}
	t.MIPEra = t.Header["mip_era"]
	t.ActivityID = t.Header["activity_id"]
	if t.ActivityID == "" {
		t.ActivityID = t.Header["project_id"]
	}
	t.Realm = t.Header["realm"]
	t.Frequency = t.Header["frequency"]
	t.Product = t.Header["product"]
	t.Date = t.Header["table_date"]
	t.URL = t.Header["table_url"]
	t.TrackingPrefix = t.Header["tracking_prefix"]
	t.RequiredGlobalAttributes = t.Header["required_global_attributes"]
	t.GenericLevels = strings.Fields(t.Header["generic_levels"])
	t.Forcings = strings.Fields(strings.Replace(t.Header["forcings"], ",", " ", -1))

	if pairs, ok := hdr["expt_id_ok"].([]interface{}); ok {
		for _, p := range pairs {
			pair, ok := p.([]interface{})
			if !ok || len(pair) == 0 {
				return fmt.Errorf("table %s: expt_id_ok entries must be [long, short] lists", t.ID)
			}
			e := Experiment{Long: str(pair[0]), Short: str(pair[0])}
			if len(pair) > 1 {
				e.Short = str(pair[1])
			}
			t.Experiments = append(t.Experiments, e)
		}
	}
	return nil
}

// str converts a JSON value to a trimmed string.
func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(cast.ToString(v))
}

func yes(v interface{}) bool {
	switch strings.ToLower(str(v)) {
	case "yes", "true", "1", "y":
		return true
	}
	return false
}

// optFloat parses an optional number, reporting whether it was set.
func optFloat(v interface{}) (float64, bool, error) {
	s := str(v)
	if s == "" {
		return 0, false, nil
	}
	f, err := cast.ToFloat64E(s)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

// floats parses a list of numbers given either as a JSON array or a
// white-space separated string.
func floats(v interface{}) ([]float64, error) {
	var items []interface{}
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		items = x
	default:
		for _, f := range strings.Fields(str(x)) {
			items = append(items, f)
		}
	}
	var o []float64
	for _, it := range items {
		s := str(it)
		if s == "" {
			continue
		}
		f, err := cast.ToFloat64E(s)
		if err != nil {
			return nil, err
		}
		o = append(o, f)
	}
	return o, nil
}

func rawAttrs(m map[string]interface{}) map[string]string {
	o := make(map[string]string, len(m))
	for k, v := range m {
		if l, ok := v.([]interface{}); ok {
			parts := make([]string, len(l))
			for i, p := range l {
				parts[i] = str(p)
			}
			o[k] = strings.Join(parts, " ")
			continue
		}
		o[k] = str(v)
	}
	return o
}

func parseAxis(id string, m map[string]interface{}) (*AxisDef, error) {
	a := &AxisDef{
		ID:               id,
		OutName:          str(m["out_name"]),
		StandardName:     str(m["standard_name"]),
		LongName:         str(m["long_name"]),
		Units:            str(m["units"]),
		Axis:             str(m["axis"]),
		StoredDirection:  str(m["stored_direction"]),
		Type:             str(m["type"]),
		Positive:         str(m["positive"]),
		Formula:          str(m["formula"]),
		ZFactors:         str(m["z_factors"]),
		ZBoundsFactors:   str(m["z_bounds_factors"]),
		GenericLevelName: str(m["generic_level_name"]),
		Climatology:      yes(m["climatology"]),
		MustHaveBounds:   yes(m["must_have_bounds"]),
		Attrs:            rawAttrs(m),
	}
	var err error
	if a.Tolerance, _, err = optFloat(m["tolerance"]); err != nil {
		return nil, fmt.Errorf("tolerance: %v", err)
	}
	if a.ValidMin, a.HasValidMin, err = optFloat(m["valid_min"]); err != nil {
		return nil, fmt.Errorf("valid_min: %v", err)
	}
	if a.ValidMax, a.HasValidMax, err = optFloat(m["valid_max"]); err != nil {
		return nil, fmt.Errorf("valid_max: %v", err)
	}
	if a.Value, a.HasValue, err = optFloat(m["value"]); err != nil {
		return nil, fmt.Errorf("value: %v", err)
	}
	if a.BoundsValues, err = floats(m["bounds_values"]); err != nil {
		return nil, fmt.Errorf("bounds_values: %v", err)
	}
	if a.IsCharacter() {
		a.RequestedNames = strings.Fields(a.Attrs["requested"])
	} else if a.Requested, err = floats(m["requested"]); err != nil {
		return nil, fmt.Errorf("requested: %v", err)
	}
	if a.RequestedBounds, err = floats(m["requested_bounds"]); err != nil {
		return nil, fmt.Errorf("requested_bounds: %v", err)
	}
	return a, nil
}

func parseVariable(id string, m map[string]interface{}) (*VarDef, error) {
	v := &VarDef{
		ID:           id,
		OutName:      str(m["out_name"]),
		StandardName: str(m["standard_name"]),
		LongName:     str(m["long_name"]),
		Units:        str(m["units"]),
		CellMethods:  str(m["cell_methods"]),
		CellMeasures: str(m["cell_measures"]),
		Comment:      str(m["comment"]),
		Positive:     str(m["positive"]),
		Type:         str(m["type"]),
		Realm:        str(m["modeling_realm"]),
		Frequency:    str(m["frequency"]),
		Shuffle:      yes(m["shuffle"]),
		Deflate:      true,
		DeflateLevel: 1,
		Attrs:        rawAttrs(m),
	}
	v.Dimensions = strings.Fields(v.Attrs["dimensions"])
	v.Required = strings.Fields(strings.Replace(v.Attrs["required"], ",", " ", -1))
	if s := str(m["deflate"]); s != "" {
		v.Deflate = yes(s)
	}
	if s := str(m["deflate_level"]); s != "" {
		l, err := cast.ToIntE(s)
		if err != nil {
			return nil, fmt.Errorf("deflate_level: %v", err)
		}
		v.DeflateLevel = l
	}
	var err error
	if v.ValidMin, v.HasValidMin, err = optFloat(m["valid_min"]); err != nil {
		return nil, fmt.Errorf("valid_min: %v", err)
	}
	if v.ValidMax, v.HasValidMax, err = optFloat(m["valid_max"]); err != nil {
		return nil, fmt.Errorf("valid_max: %v", err)
	}
	if v.OkMinMeanAbs, v.HasOkMinMeanAbs, err = optFloat(m["ok_min_mean_abs"]); err != nil {
		return nil, fmt.Errorf("ok_min_mean_abs: %v", err)
	}
	if v.OkMaxMeanAbs, v.HasOkMaxMeanAbs, err = optFloat(m["ok_max_mean_abs"]); err != nil {
		return nil, fmt.Errorf("ok_max_mean_abs: %v", err)
	}
	return v, nil
}
