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

package cmorutil

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/tjahns/cmor/table"
)

// CheckTable loads the table at path, writes a summary of it to w and
// checks that every variable dimension is an axis of the table or a
// generic level. If dump is true the parsed table is printed as well.
func CheckTable(ctx context.Context, path string, w io.Writer, dump bool) error {
	r := table.NewRegistry(1)
	_, t, err := r.Load(ctx, path)
	if err != nil {
		return err
	}
	version := t.Header["data_specs_version"]
	if version == "" {
		version = fmt.Sprintf("%g", t.CMORVersion)
	}
	fmt.Fprintf(w, "table:     %s\n", t.ID)
	fmt.Fprintf(w, "version:   %s\n", version)
	fmt.Fprintf(w, "axes:      %d\n", len(t.Axes))
	fmt.Fprintf(w, "variables: %d\n", len(t.Variables))
	fmt.Fprintf(w, "checksum:  %s\n", t.Checksum)
	if dump {
		spew.Fdump(w, t)
	}

	var bad []string
	for _, id := range t.VariableIDs() {
		for _, dim := range t.Variables[id].Dimensions {
			if _, ok := t.Axis(dim); ok || t.IsGenericLevel(dim) {
				continue
			}
			bad = append(bad, fmt.Sprintf("%s (%s)", id, dim))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("cmor: table %s: variables with undefined dimensions: %s",
			t.ID, strings.Join(bad, ", "))
	}
	fmt.Fprintln(w, "ok")
	return nil
}
