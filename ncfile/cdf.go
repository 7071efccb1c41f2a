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

package ncfile

import (
	"fmt"
	"io"
	"os"

	"github.com/ctessum/cdf"
	"github.com/sirupsen/logrus"
)

// CDF is an Engine that writes NetCDF classic files.
type CDF struct {
	// Log receives debugging messages. If nil, the standard logger
	// is used.
	Log logrus.FieldLogger
}

func (e *CDF) log() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

// Create implements Engine.
func (e *CDF) Create(path string, clobber bool) (File, error) {
	if !clobber {
		if _, err := os.Stat(path); err == nil {
			return nil, errorf(CodeExist, "file %s already exists", path)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errorf(CodeIO, "creating %s: %v", path, err)
	}
	return &cdfFile{
		path:        path,
		f:           f,
		defining:    true,
		writable:    true,
		varIndex:    make(map[string]int),
		compression: make(map[string]Compression),
		chunking:    make(map[string][]int),
		log:         e.log().WithField("file", path),
	}, nil
}

// Open implements Engine.
func (e *CDF) Open(path string, writable bool) (File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, errorf(CodeIO, "opening %s: %v", path, err)
	}
	cf, err := cdf.Open(f)
	if err != nil {
		f.Close()
		return nil, errorf(CodeIO, "reading header of %s: %v", path, err)
	}
	return &cdfFile{
		path:        path,
		f:           f,
		cf:          cf,
		writable:    writable,
		varIndex:    make(map[string]int),
		compression: make(map[string]Compression),
		chunking:    make(map[string][]int),
		log:         e.log().WithField("file", path),
	}, nil
}

type dimDef struct {
	name   string
	length int
}

type varDef struct {
	name string
	t    Type
	dims []string
}

type attDef struct {
	variable, name string
	value          interface{}
}

type cdfFile struct {
	path     string
	f        *os.File
	cf       *cdf.File
	defining bool
	writable bool

	dims     []dimDef
	vars     []varDef
	varIndex map[string]int
	atts     []attDef

	compression map[string]Compression
	chunking    map[string][]int

	log logrus.FieldLogger
}

func (f *cdfFile) Path() string { return f.path }

func (f *cdfFile) DefineDimension(name string, length int) error {
	if !f.defining {
		return errorf(CodeNotInDefine, "defining dimension %s: not in define mode", name)
	}
	if length < 0 {
		return errorf(CodeBadDim, "dimension %s has negative length %d", name, length)
	}
	for _, d := range f.dims {
		if d.name == name {
			return errorf(CodeNameInUse, "dimension %s already defined", name)
		}
		if length == 0 && d.length == 0 {
			return errorf(CodeUnlimit, "dimension %s: file already has unlimited dimension %s", name, d.name)
		}
	}
	f.dims = append(f.dims, dimDef{name: name, length: length})
	return nil
}

func (f *cdfFile) dimLength(name string) (int, bool) {
	for _, d := range f.dims {
		if d.name == name {
			return d.length, true
		}
	}
	return 0, false
}

func (f *cdfFile) DefineVariable(name string, t Type, dims []string) error {
	if !f.defining {
		return errorf(CodeNotInDefine, "defining variable %s: not in define mode", name)
	}
	if _, ok := f.varIndex[name]; ok {
		return errorf(CodeNameInUse, "variable %s already defined", name)
	}
	if t < Byte || t > Double {
		return errorf(CodeBadType, "variable %s: invalid type %v", name, t)
	}
	for i, d := range dims {
		l, ok := f.dimLength(d)
		if !ok {
			return errorf(CodeBadDim, "variable %s: undefined dimension %s", name, d)
		}
		if l == 0 && i != 0 {
			return errorf(CodeUnlimPos, "variable %s: unlimited dimension %s must be first", name, d)
		}
	}
	f.varIndex[name] = len(f.vars)
	f.vars = append(f.vars, varDef{name: name, t: t, dims: append([]string{}, dims...)})
	return nil
}

// attValue converts v to one of the types supported by the
// underlying library.
func attValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return t, nil
	case float64:
		return []float64{t}, nil
	case []float64:
		return t, nil
	case float32:
		return []float32{t}, nil
	case []float32:
		return t, nil
	case int:
		return []int32{int32(t)}, nil
	case []int:
		o := make([]int32, len(t))
		for i, x := range t {
			o[i] = int32(x)
		}
		return o, nil
	case int32:
		return []int32{t}, nil
	case []int32:
		return t, nil
	case int16:
		return []int16{t}, nil
	case []int16:
		return t, nil
	}
	return nil, fmt.Errorf("unsupported attribute type %T", v)
}

func (f *cdfFile) SetAttribute(variable, name string, value interface{}) error {
	if !f.defining {
		return errorf(CodeNotInDefine, "setting attribute %s:%s: not in define mode", variable, name)
	}
	if variable != "" {
		if _, ok := f.varIndex[variable]; !ok {
			return errorf(CodeNotVar, "setting attribute %s: no variable %s", name, variable)
		}
	}
	v, err := attValue(value)
	if err != nil {
		return errorf(CodeBadType, "attribute %s:%s: %v", variable, name, err)
	}
	for i, a := range f.atts {
		if a.variable == variable && a.name == name {
			f.atts[i].value = v
			return nil
		}
	}
	f.atts = append(f.atts, attDef{variable: variable, name: name, value: v})
	return nil
}

// SetCompression records the compression settings. NetCDF classic
// files cannot store compressed variables, so the settings are kept
// for reference only.
func (f *cdfFile) SetCompression(variable string, c Compression) error {
	if _, ok := f.varIndex[variable]; !ok {
		return errorf(CodeNotVar, "setting compression: no variable %s", variable)
	}
	f.compression[variable] = c
	f.log.WithFields(logrus.Fields{
		"variable": variable,
		"shuffle":  c.Shuffle,
		"deflate":  c.Deflate,
		"level":    c.Level,
	}).Debug("compression is not supported by the classic format; storing uncompressed")
	return nil
}

// SetChunking records the chunk sizes, which the classic format
// ignores.
func (f *cdfFile) SetChunking(variable string, chunks []int) error {
	i, ok := f.varIndex[variable]
	if !ok {
		return errorf(CodeNotVar, "setting chunking: no variable %s", variable)
	}
	if len(chunks) != len(f.vars[i].dims) {
		return errorf(CodeInvalCoords, "variable %s: %d chunk sizes for %d dimensions",
			variable, len(chunks), len(f.vars[i].dims))
	}
	f.chunking[variable] = append([]int{}, chunks...)
	return nil
}

func zeroValue(t Type) interface{} {
	switch t {
	case Byte:
		return []uint8{0}
	case Char:
		return ""
	case Short:
		return []int16{0}
	case Int:
		return []int32{0}
	case Float:
		return []float32{0}
	default:
		return []float64{0}
	}
}

func (f *cdfFile) EndDefine() error {
	if !f.defining {
		return errorf(CodeNotInDefine, "not in define mode")
	}
	names := make([]string, len(f.dims))
	lengths := make([]int, len(f.dims))
	for i, d := range f.dims {
		names[i], lengths[i] = d.name, d.length
	}
	h := cdf.NewHeader(names, lengths)
	for _, v := range f.vars {
		h.AddVariable(v.name, v.dims, zeroValue(v.t))
	}
	for _, a := range f.atts {
		h.AddAttribute(a.variable, a.name, a.value)
	}
	h.Define()
	for _, err := range h.Check() {
		return errorf(CodeCannotDefine, "invalid header: %v", err)
	}
	cf, err := cdf.Create(f.f, h)
	if err != nil {
		return errorf(CodeIO, "writing header: %v", err)
	}
	f.cf = cf
	f.defining = false
	return nil
}

// varType returns the storage type of an existing variable.
func (f *cdfFile) varType(name string) (Type, error) {
	switch f.cf.Header.ZeroValue(name, 1).(type) {
	case []uint8:
		return Byte, nil
	case string:
		return Char, nil
	case []int16:
		return Short, nil
	case []int32:
		return Int, nil
	case []float32:
		return Float, nil
	case []float64:
		return Double, nil
	}
	return 0, errorf(CodeNotVar, "no variable %s", name)
}

// convert converts numeric data to the storage type t.
func convert(data interface{}, t Type) (interface{}, int, error) {
	if s, ok := data.(string); ok {
		if t != Char {
			return nil, 0, fmt.Errorf("cannot store string in %v variable", t)
		}
		return s, len(s), nil
	}
	var vals []float64
	switch d := data.(type) {
	case []float64:
		vals = d
	case []float32:
		if t == Float {
			return d, len(d), nil
		}
		vals = make([]float64, len(d))
		for i, x := range d {
			vals[i] = float64(x)
		}
	case []int32:
		if t == Int {
			return d, len(d), nil
		}
		vals = make([]float64, len(d))
		for i, x := range d {
			vals[i] = float64(x)
		}
	case []int:
		vals = make([]float64, len(d))
		for i, x := range d {
			vals[i] = float64(x)
		}
	case []byte:
		if t == Byte || t == Char {
			return d, len(d), nil
		}
		return nil, 0, fmt.Errorf("cannot store bytes in %v variable", t)
	default:
		return nil, 0, fmt.Errorf("unsupported data type %T", data)
	}
	switch t {
	case Double:
		return vals, len(vals), nil
	case Float:
		o := make([]float32, len(vals))
		for i, x := range vals {
			o[i] = float32(x)
		}
		return o, len(o), nil
	case Int:
		o := make([]int32, len(vals))
		for i, x := range vals {
			o[i] = int32(x)
		}
		return o, len(o), nil
	case Short:
		o := make([]int16, len(vals))
		for i, x := range vals {
			o[i] = int16(x)
		}
		return o, len(o), nil
	case Byte:
		o := make([]uint8, len(vals))
		for i, x := range vals {
			o[i] = uint8(x)
		}
		return o, len(o), nil
	}
	return nil, 0, fmt.Errorf("cannot store numbers in %v variable", t)
}

func (f *cdfFile) WriteSlab(variable string, start []int, data interface{}) error {
	if f.defining {
		return errorf(CodeInDefine, "writing %s: still in define mode", variable)
	}
	if !f.writable {
		return errorf(CodeIO, "writing %s: file is read only", variable)
	}
	t, err := f.varType(variable)
	if err != nil {
		return err
	}
	vals, n, err := convert(data, t)
	if err != nil {
		return errorf(CodeBadType, "writing %s: %v", variable, err)
	}
	if n == 0 {
		return nil
	}
	lengths := f.cf.Header.Lengths(variable)
	if start == nil {
		start = make([]int, len(lengths))
	}
	if len(start) != len(lengths) {
		return errorf(CodeInvalCoords, "writing %s: start has %d indices for %d dimensions",
			variable, len(start), len(lengths))
	}
	var end []int
	if !f.cf.Header.IsRecordVariable(variable) {
		// The end corner lies past the last element so that the whole
		// slab can be written.
		end = lengths
	}
	w := f.cf.Writer(variable, start, end)
	nw, err := w.Write(vals)
	if err == io.EOF && nw == n {
		err = nil
	}
	if err != nil {
		return errorf(CodeIO, "writing %s: %v", variable, err)
	}
	return nil
}

func (f *cdfFile) numRecs() (int, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return 0, err
	}
	return int(f.cf.Header.NumRecs(fi.Size())), nil
}

func (f *cdfFile) ReadFloat64(variable string) ([]float64, error) {
	if f.defining {
		return nil, errorf(CodeInDefine, "reading %s: still in define mode", variable)
	}
	if _, err := f.varType(variable); err != nil {
		return nil, err
	}
	lengths := append([]int{}, f.cf.Header.Lengths(variable)...)
	if f.cf.Header.IsRecordVariable(variable) {
		nr, err := f.numRecs()
		if err != nil {
			return nil, errorf(CodeIO, "reading %s: %v", variable, err)
		}
		lengths[0] = nr
	}
	n := 1
	end := make([]int, len(lengths))
	for i, l := range lengths {
		n *= l
		end[i] = l - 1
	}
	if n == 0 {
		return []float64{}, nil
	}
	r := f.cf.Reader(variable, nil, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil && err != io.EOF {
		return nil, errorf(CodeIO, "reading %s: %v", variable, err)
	}
	out := make([]float64, n)
	switch b := buf.(type) {
	case []float64:
		copy(out, b)
	case []float32:
		for i, v := range b {
			out[i] = float64(v)
		}
	case []int32:
		for i, v := range b {
			out[i] = float64(v)
		}
	case []int16:
		for i, v := range b {
			out[i] = float64(v)
		}
	case []uint8:
		for i, v := range b {
			out[i] = float64(v)
		}
	default:
		return nil, errorf(CodeBadType, "reading %s: unsupported type %T", variable, buf)
	}
	return out, nil
}

func (f *cdfFile) DimensionLength(name string) (int, error) {
	if f.defining {
		if l, ok := f.dimLength(name); ok {
			return l, nil
		}
		return 0, errorf(CodeBadDim, "no dimension %s", name)
	}
	names := f.cf.Header.Dimensions("")
	lengths := f.cf.Header.Lengths("")
	for i, n := range names {
		if n != name {
			continue
		}
		if lengths[i] == 0 {
			nr, err := f.numRecs()
			if err != nil {
				return 0, errorf(CodeIO, "dimension %s: %v", name, err)
			}
			return nr, nil
		}
		return lengths[i], nil
	}
	return 0, errorf(CodeBadDim, "no dimension %s", name)
}

func (f *cdfFile) HasVariable(name string) bool {
	if f.defining {
		_, ok := f.varIndex[name]
		return ok
	}
	for _, v := range f.cf.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

func (f *cdfFile) Attribute(variable, name string) (interface{}, bool) {
	if f.defining {
		for _, a := range f.atts {
			if a.variable == variable && a.name == name {
				return a.value, true
			}
		}
		return nil, false
	}
	v := f.cf.Header.GetAttribute(variable, name)
	return v, v != nil
}

func (f *cdfFile) Variables() []string {
	if f.defining {
		o := make([]string, len(f.vars))
		for i, v := range f.vars {
			o[i] = v.name
		}
		return o
	}
	return f.cf.Header.Variables()
}

func (f *cdfFile) VariableDimensions(name string) []string {
	if f.defining {
		if i, ok := f.varIndex[name]; ok {
			return append([]string{}, f.vars[i].dims...)
		}
		return nil
	}
	return f.cf.Header.Dimensions(name)
}

// Close ends define mode if necessary, updates the record count and
// closes the file.
func (f *cdfFile) Close() error {
	if f.f == nil {
		return nil
	}
	if f.defining {
		if err := f.EndDefine(); err != nil {
			f.f.Close()
			f.f = nil
			return err
		}
	}
	if f.writable {
		if err := cdf.UpdateNumRecs(f.f); err != nil {
			f.f.Close()
			f.f = nil
			return errorf(CodeIO, "updating record count of %s: %v", f.path, err)
		}
	}
	err := f.f.Close()
	f.f = nil
	if err != nil {
		return errorf(CodeIO, "closing %s: %v", f.path, err)
	}
	return nil
}
