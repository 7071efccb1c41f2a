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

// Package units parses UDUNITS-style unit strings (e.g., "kg m-2 s-1",
// "W/m2", "degC", "days since 1850-01-01") and converts values between
// compatible units.
package units

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/ctessum/unit"
)

// MoleDim is the dimension representing amount of substance.
var MoleDim = unit.NewDimension("mole")

// Unit is a parsed unit: a scale factor and dimensions relative to SI
// base units, plus an additive offset for temperature scales.
type Unit struct {
	u      *unit.Unit
	offset float64
	text   string
}

// Scale returns the factor that converts a value in u to SI units
// (ignoring any offset).
func (u *Unit) Scale() float64 { return u.u.Value() }

// Offset returns the amount added after scaling to reach SI units.
func (u *Unit) Offset() float64 { return u.offset }

// Dimensions returns the SI dimensions of u.
func (u *Unit) Dimensions() unit.Dimensions { return u.u.Dimensions() }

func (u *Unit) String() string { return u.text }

type base struct {
	scale  float64
	offset float64
	dims   unit.Dimensions
}

var (
	length      = unit.Meter
	mass        = unit.Kilogram
	timeDim     = unit.Second
	temperature = unit.Kelvin
	angle       = unit.Dimensions{unit.AngleDim: 1}
	mole        = unit.Dimensions{MoleDim: 1}
	force       = unit.Dimensions{unit.MassDim: 1, unit.LengthDim: 1, unit.TimeDim: -2}
	volume      = unit.Dimensions{unit.LengthDim: 3}
)

const (
	day  = 86400.
	year = 365 * day
)

// bases holds the unit symbols that are recognized, with and without
// SI prefixes.
var bases = map[string]base{
	"1":       {scale: 1, dims: unit.Dimless},
	"%":       {scale: 0.01, dims: unit.Dimless},
	"percent": {scale: 0.01, dims: unit.Dimless},
	"ppm":     {scale: 1e-6, dims: unit.Dimless},
	"ppmv":    {scale: 1e-6, dims: unit.Dimless},
	"ppb":     {scale: 1e-9, dims: unit.Dimless},
	"ppbv":    {scale: 1e-9, dims: unit.Dimless},
	"psu":     {scale: 1e-3, dims: unit.Dimless},
	"dB":      {scale: 1, dims: unit.Dimless},
	"level":   {scale: 1, dims: unit.Dimless},
	"sr":      {scale: 1, dims: unit.Dimless},

	"m":      {scale: 1, dims: length},
	"meter":  {scale: 1, dims: length},
	"metre":  {scale: 1, dims: length},
	"g":      {scale: 1e-3, dims: mass},
	"gram":   {scale: 1e-3, dims: mass},
	"t":      {scale: 1e3, dims: mass},
	"s":      {scale: 1, dims: timeDim},
	"sec":    {scale: 1, dims: timeDim},
	"min":    {scale: 60, dims: timeDim},
	"h":      {scale: 3600, dims: timeDim},
	"hr":     {scale: 3600, dims: timeDim},
	"d":      {scale: day, dims: timeDim},
	"day":    {scale: day, dims: timeDim},
	"yr":     {scale: year, dims: timeDim},
	"year":   {scale: year, dims: timeDim},
	"a":      {scale: year, dims: timeDim},
	"mol":    {scale: 1, dims: mole},
	"mole":   {scale: 1, dims: mole},
	"A":      {scale: 1, dims: unit.Dimensions{unit.CurrentDim: 1}},
	"rad":    {scale: 1, dims: angle},
	"radian": {scale: 1, dims: angle},

	"K":       {scale: 1, dims: temperature},
	"kelvin":  {scale: 1, dims: temperature},
	"degC":    {scale: 1, offset: 273.15, dims: temperature},
	"celsius": {scale: 1, offset: 273.15, dims: temperature},
	"degF":    {scale: 5. / 9., offset: 273.15 - 32*5./9., dims: temperature},

	"degree":        {scale: math.Pi / 180, dims: angle},
	"degrees":       {scale: math.Pi / 180, dims: angle},
	"degree_north":  {scale: math.Pi / 180, dims: angle},
	"degrees_north": {scale: math.Pi / 180, dims: angle},
	"degree_N":      {scale: math.Pi / 180, dims: angle},
	"degrees_N":     {scale: math.Pi / 180, dims: angle},
	"degree_east":   {scale: math.Pi / 180, dims: angle},
	"degrees_east":  {scale: math.Pi / 180, dims: angle},
	"degree_E":      {scale: math.Pi / 180, dims: angle},
	"degrees_E":     {scale: math.Pi / 180, dims: angle},
	"degrees_west":  {scale: -math.Pi / 180, dims: angle},
	"degrees_south": {scale: -math.Pi / 180, dims: angle},

	"N":     {scale: 1, dims: force},
	"Pa":    {scale: 1, dims: unit.Pascal},
	"bar":   {scale: 1e5, dims: unit.Pascal},
	"atm":   {scale: 101325, dims: unit.Pascal},
	"J":     {scale: 1, dims: unit.Joule},
	"W":     {scale: 1, dims: unit.Watt},
	"Hz":    {scale: 1, dims: unit.Herz},
	"L":     {scale: 1e-3, dims: volume},
	"l":     {scale: 1e-3, dims: volume},
	"liter": {scale: 1e-3, dims: volume},
	"Sv":    {scale: 1e6, dims: unit.Dimensions{unit.LengthDim: 3, unit.TimeDim: -1}},
}

// plural forms that are accepted in addition to the symbols above.
var plurals = map[string]string{
	"meters": "meter", "metres": "metre", "grams": "gram",
	"seconds": "s", "second": "s", "secs": "s",
	"minutes": "min", "minute": "min", "mins": "min",
	"hours": "h", "hour": "h", "hrs": "h",
	"days": "day", "years": "year", "yrs": "yr",
	"moles": "mole", "radians": "radian", "liters": "liter",
	"common_year": "year", "common_years": "year",
}

var prefixes = []struct {
	symbol string
	factor float64
}{
	{"da", 1e1}, // two-character prefix must be tried first.
	{"Y", 1e24}, {"Z", 1e21}, {"E", 1e18}, {"P", 1e15}, {"T", 1e12},
	{"G", 1e9}, {"M", 1e6}, {"k", 1e3}, {"h", 1e2}, {"d", 1e-1},
	{"c", 1e-2}, {"m", 1e-3}, {"u", 1e-6}, {"μ", 1e-6}, {"n", 1e-9},
	{"p", 1e-12}, {"f", 1e-15},
}

func lookup(sym string) (base, bool) {
	if p, ok := plurals[sym]; ok {
		sym = p
	}
	if b, ok := bases[sym]; ok {
		return b, true
	}
	for _, p := range prefixes {
		if !strings.HasPrefix(sym, p.symbol) || len(sym) == len(p.symbol) {
			continue
		}
		rest := sym[len(p.symbol):]
		if pp, ok := plurals[rest]; ok {
			rest = pp
		}
		if b, ok := bases[rest]; ok && b.offset == 0 {
			b.scale *= p.factor
			return b, true
		}
	}
	return base{}, false
}

// Parse parses a unit string. A time reference ("days since
// 1850-01-01") is parsed as the unit preceding "since".
func Parse(s string) (*Unit, error) {
	text := strings.TrimSpace(s)
	expr := text
	if i := strings.Index(expr, " since "); i >= 0 {
		expr = expr[:i]
	}
	if expr == "" {
		return nil, fmt.Errorf("units: empty unit string")
	}
	expr = strings.Replace(expr, "**", "^", -1)
	expr = strings.Replace(expr, "/", " / ", -1)
	expr = strings.Replace(expr, "*", " ", -1)

	u := unit.New(1, unit.Dimless)
	var offset float64
	divide := false
	nTerms := 0
	for _, tok := range strings.Fields(expr) {
		if tok == "/" {
			divide = true
			continue
		}
		terms := []string{tok}
		if _, err := strconv.ParseFloat(tok, 64); err != nil {
			terms = strings.Split(tok, ".")
		}
		for _, term := range terms {
			if term == "" {
				continue
			}
			tu, off, err := parseTerm(term)
			if err != nil {
				return nil, fmt.Errorf("units: parsing %q: %v", s, err)
			}
			if off != 0 {
				offset = off
			}
			if divide {
				u.Div(tu)
				divide = false
			} else {
				u.Mul(tu)
			}
			nTerms++
		}
	}
	if divide {
		return nil, fmt.Errorf("units: parsing %q: dangling '/'", s)
	}
	if nTerms > 1 {
		// Offsets only make sense for a lone temperature unit.
		offset = 0
	}
	return &Unit{u: u, offset: offset, text: text}, nil
}

// parseTerm parses a single symbol with an optional integer exponent,
// e.g., "m", "m2", "s-1", "km^2", or a numeric factor such as "1e3".
func parseTerm(term string) (*unit.Unit, float64, error) {
	if f, err := strconv.ParseFloat(term, 64); err == nil && term != "1" {
		return unit.New(f, unit.Dimless), 0, nil
	}
	sym, exp := term, 1
	if i := strings.IndexRune(term, '^'); i >= 0 {
		e, err := strconv.Atoi(term[i+1:])
		if err != nil {
			return nil, 0, fmt.Errorf("invalid exponent in %q", term)
		}
		sym, exp = term[:i], e
	} else if i := exponentStart(term); i > 0 {
		e, err := strconv.Atoi(term[i:])
		if err != nil {
			return nil, 0, fmt.Errorf("invalid exponent in %q", term)
		}
		sym, exp = term[:i], e
	}
	b, ok := lookup(sym)
	if !ok {
		return nil, 0, fmt.Errorf("unknown unit %q", sym)
	}
	dims := make(unit.Dimensions, len(b.dims))
	for d, p := range b.dims {
		dims[d] = p * exp
	}
	offset := b.offset
	if exp != 1 {
		offset = 0
	}
	return unit.New(math.Pow(b.scale, float64(exp)), dims), offset, nil
}

// exponentStart returns the index where a trailing signed integer
// exponent starts, or -1 if there is none.
func exponentStart(term string) int {
	i := len(term)
	for i > 0 && unicode.IsDigit(rune(term[i-1])) {
		i--
	}
	if i == len(term) {
		return -1
	}
	if i > 0 && (term[i-1] == '-' || term[i-1] == '+') {
		i--
	}
	if i == 0 {
		return -1
	}
	return i
}

// Convertible returns whether values in a can be converted to b.
func Convertible(a, b *Unit) bool {
	return unit.DimensionsMatch(a.u, b.u)
}

// Converter returns a function that converts values in unit from to
// unit to.
func Converter(from, to *Unit) (func(float64) float64, error) {
	if !Convertible(from, to) {
		return nil, fmt.Errorf("units: cannot convert %q (%s) to %q (%s)",
			from.text, from.u.Dimensions(), to.text, to.u.Dimensions())
	}
	fs, fo := from.u.Value(), from.offset
	ts, tOff := to.u.Value(), to.offset
	if fs == ts && fo == tOff {
		return func(v float64) float64 { return v }, nil
	}
	return func(v float64) float64 {
		return (v*fs + fo - tOff) / ts
	}, nil
}

// ConvertString is a convenience wrapper that parses both unit strings
// and returns the converter between them.
func ConvertString(from, to string) (func(float64) float64, error) {
	f, err := Parse(from)
	if err != nil {
		return nil, err
	}
	t, err := Parse(to)
	if err != nil {
		return nil, err
	}
	return Converter(f, t)
}
