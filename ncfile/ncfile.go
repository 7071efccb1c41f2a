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

// Package ncfile is the archival file engine used to write rewritten
// variables. Files are NetCDF classic format.
package ncfile

import "fmt"

// Type is the storage type of a variable.
type Type int

// Storage types.
const (
	Byte Type = iota + 1
	Char
	Short
	Int
	Float
	Double
)

func (t Type) String() string {
	switch t {
	case Byte:
		return "byte"
	case Char:
		return "char"
	case Short:
		return "short"
	case Int:
		return "int"
	case Float:
		return "float"
	case Double:
		return "double"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// TypeFromTable returns the storage type for a one-letter table type
// code ('d', 'f', 'i', 'l', 'c'). Unknown codes map to Double.
func TypeFromTable(code string) Type {
	switch code {
	case "f", "real", "float":
		return Float
	case "i", "l", "integer", "int", "long":
		return Int
	case "s", "short":
		return Short
	case "c", "character", "char":
		return Char
	default:
		return Double
	}
}

// Error codes, following the numbering of the reference NetCDF library.
const (
	CodeExist        = -35
	CodeNotInDefine  = -38
	CodeInDefine     = -39
	CodeInvalCoords  = -40
	CodeNameInUse    = -42
	CodeNotAtt       = -43
	CodeBadType      = -45
	CodeBadDim       = -46
	CodeUnlimPos     = -47
	CodeNotVar       = -49
	CodeUnlimit      = -54
	CodeIO           = -68
	CodeCannotDefine = -60
)

// Error is an error reported by the file engine.
type Error struct {
	Code int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ncfile: %s (code %d)", e.Msg, e.Code)
}

func errorf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Compression holds compression settings for a variable.
type Compression struct {
	Shuffle bool
	Deflate bool
	Level   int
}

// Engine creates and opens archival files.
type Engine interface {
	// Create creates a new file in define mode. If clobber is false
	// and the file exists an error with CodeExist is returned.
	Create(path string, clobber bool) (File, error)

	// Open opens an existing file in data mode.
	Open(path string, writable bool) (File, error)
}

// File is an archival file handle.
type File interface {
	// DefineDimension defines a dimension. A length of 0 defines the
	// unlimited (record) dimension.
	DefineDimension(name string, length int) error

	// DefineVariable defines a variable with the named dimensions.
	DefineVariable(name string, t Type, dims []string) error

	// SetAttribute sets an attribute of variable, or a global
	// attribute if variable is "". Values may be strings or numbers
	// or slices of numbers.
	SetAttribute(variable, name string, value interface{}) error

	SetCompression(variable string, c Compression) error
	SetChunking(variable string, chunks []int) error

	// EndDefine leaves define mode and writes the header.
	EndDefine() error

	// WriteSlab writes data starting at the corner start. For
	// record variables the slab may extend the record dimension.
	WriteSlab(variable string, start []int, data interface{}) error

	// ReadFloat64 reads all values of variable.
	ReadFloat64(variable string) ([]float64, error)

	// DimensionLength returns the current length of a dimension.
	DimensionLength(name string) (int, error)

	HasVariable(name string) bool

	// Attribute returns an attribute of variable, or a global
	// attribute if variable is "".
	Attribute(variable, name string) (interface{}, bool)

	// Variables returns the names of the defined variables.
	Variables() []string

	// VariableDimensions returns the dimension names of a variable.
	VariableDimensions(name string) []string

	// Path returns the location of the file.
	Path() string

	Close() error
}
