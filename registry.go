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

import "sort"

// AxisID is a handle to an axis defined in a Session.
type AxisID int

// GridID is a handle to a grid defined in a Session. The zero GridID
// means no grid.
type GridID int

// VarID is a handle to a variable defined in a Session.
type VarID int

// NoGrid is the GridID of variables that are not on a grid.
const NoGrid GridID = 0

func (s *Session) addAxis(a *Axis) (AxisID, error) {
	if len(s.axes) >= s.maxAxes {
		return -1, s.reportErr(Critical, ErrCapacityExceeded,
			"Too many axes defined (maximum %d), cannot define axis %s", s.maxAxes, a.Def.ID)
	}
	a.ID = AxisID(len(s.axes))
	s.axes = append(s.axes, a)
	return a.ID, nil
}

func (s *Session) axis(id AxisID) (*Axis, error) {
	if id < 0 || int(id) >= len(s.axes) {
		return nil, s.reportErr(Critical, ErrInvalidHandle,
			"Invalid axis id %d (%d axes defined)", id, len(s.axes))
	}
	return s.axes[id], nil
}

func (s *Session) addGrid(g *Grid) (GridID, error) {
	if len(s.grids) >= s.maxGrids {
		return NoGrid, s.reportErr(Critical, ErrCapacityExceeded,
			"Too many grids defined (maximum %d)", s.maxGrids)
	}
	s.grids = append(s.grids, g)
	g.ID = GridID(len(s.grids))
	return g.ID, nil
}

func (s *Session) grid(id GridID) (*Grid, error) {
	if id <= NoGrid || int(id) > len(s.grids) {
		return nil, s.reportErr(Critical, ErrInvalidHandle,
			"Invalid grid id %d (%d grids defined)", id, len(s.grids))
	}
	return s.grids[id-1], nil
}

func (s *Session) addVariable(v *Variable) (VarID, error) {
	if len(s.variables) >= s.maxVars {
		return -1, s.reportErr(Critical, ErrCapacityExceeded,
			"Too many variables defined (maximum %d), cannot define variable %s", s.maxVars, v.Name)
	}
	v.ID = VarID(len(s.variables))
	s.variables = append(s.variables, v)
	return v.ID, nil
}

func (s *Session) variable(id VarID) (*Variable, error) {
	if id < 0 || int(id) >= len(s.variables) {
		return nil, s.reportErr(Critical, ErrInvalidHandle,
			"You attempted to use variable id %d which was not initialized (%d variables defined)", id, len(s.variables))
	}
	return s.variables[id], nil
}

// Axis returns the axis with handle id.
func (s *Session) Axis(id AxisID) (*Axis, error) {
	defer s.enter("Axis")()
	return s.axis(id)
}

// Grid returns the grid with handle id.
func (s *Session) Grid(id GridID) (*Grid, error) {
	defer s.enter("Grid")()
	return s.grid(id)
}

// Variable returns the variable with handle id.
func (s *Session) Variable(id VarID) (*Variable, error) {
	defer s.enter("Variable")()
	return s.variable(id)
}

func sortedKeys(m map[string]string) []string {
	o := make([]string, 0, len(m))
	for k := range m {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}
