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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tjahns/cmor/internal/pathtmpl"
)

// hyphenated lists the dataset attributes whose values are cleaned
// with hyphenate before being used in paths.
var hyphenated = map[string]bool{
	"model_id":     true,
	"institute_id": true,
}

// resolver returns the template resolver for variable v.
func (s *Session) resolver(v *Variable) pathtmpl.Resolver {
	return pathtmpl.ResolverFunc(func(tok string) (string, bool) {
		if s.dataset.attrs.Has(tok) {
			val := s.dataset.attrs.Value(tok)
			if hyphenated[tok] {
				val = s.hyphenate(tok, val)
			}
			return val, true
		}
		if v != nil && v.Table != nil {
			if val, ok := v.Table.Attr(tok); ok {
				return val, true
			}
		}
		switch tok {
		case "ripf":
			return s.variantLabel(), true
		case "varid":
			if v != nil {
				return v.OutName(), true
			}
		}
		if s.dataset.attrs.Has("_" + tok) {
			return s.dataset.attrs.Value("_" + tok), true
		}
		return "", false
	})
}

// variantLabel returns the "r<n>i<n>p<n>f<n>" variant string. The
// realization is always present. The other components come from the
// initialization_index, physics_index and forcing_index attributes and
// are left out when unset or not an integer.
func (s *Session) variantLabel() string {
	var b strings.Builder
	fmt.Fprintf(&b, "r%d", s.dataset.Realization)
	for _, p := range []struct{ prefix, name string }{
		{"i", "initialization_index"},
		{"p", "physics_index"},
		{"f", "forcing_index"},
	} {
		val := s.datasetValue(p.name)
		if val == "" {
			continue
		}
		i, err := strconv.ParseInt(val, 0, 64)
		if err != nil {
			s.report(Warning, "dataset attribute %s (%s) is not an integer, it is left out of the variant label", p.name, val)
			continue
		}
		fmt.Fprintf(&b, "%s%d", p.prefix, i)
	}
	return b.String()
}

// Expand expands template for variable id, joining the resolved
// segments with sep.
func (s *Session) Expand(template string, id VarID, sep string) (string, error) {
	defer s.enter("Expand")()
	if err := s.checkSetup(); err != nil {
		return "", err
	}
	v, err := s.variable(id)
	if err != nil {
		return "", err
	}
	return pathtmpl.Join(template, s.resolver(v), sep), nil
}

// CreateFromTemplate returns the output directory and the base file
// name of variable v. The directory is created segment by segment when
// the session creates subdirectories.
func (s *Session) CreateFromTemplate(v *Variable) (dir, base string, err error) {
	d := s.dataset
	dir = d.OutPath
	r := s.resolver(v)
	if s.CreateSubdirectories {
		dir = filepath.Join(dir, pathtmpl.Join(d.PathTemplate, r, string(filepath.Separator)))
		if err := s.MakeDirs(dir); err != nil {
			return "", "", err
		}
	}
	base = pathtmpl.Join(d.FileTemplate, r, "_")
	return dir, base, nil
}

// MakeDirs creates path one segment at a time. Errors creating
// intermediate segments are ignored. An error creating the last
// segment is critical unless the directory already exists.
func (s *Session) MakeDirs(path string) error {
	segs := strings.Split(filepath.Clean(path), string(filepath.Separator))
	cur := ""
	if filepath.IsAbs(path) {
		cur = string(filepath.Separator)
	}
	var last error
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		cur = filepath.Join(cur, seg)
		last = os.Mkdir(cur, 0755)
		if last != nil && os.IsExist(last) {
			last = nil
		}
	}
	if last != nil {
		return s.reportErr(Critical, last, "creating directory %s: %v", path, last)
	}
	return nil
}
