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
	"sort"
	"strings"

	"github.com/tjahns/cmor/internal/attrs"
	"github.com/tjahns/cmor/ncfile"
	"github.com/tjahns/cmor/table"
)

// Grid coordinate slots.
const (
	GridLatitude = iota
	GridLongitude
	GridVerticesLatitude
	GridVerticesLongitude
)

var gridCoordNames = [4]string{"latitude", "longitude", "vertices_latitude", "vertices_longitude"}
var gridCoordOutNames = [4]string{"lat", "lon", "vertices_latitude", "vertices_longitude"}

// Grid is a set of index or projection axes together with the
// two-dimensional latitudes and longitudes of its cells.
type Grid struct {
	ID GridID
	// Axes are the spatial axes of the grid in data order.
	Axes []AxisID
	// TimeAxis is the time axis of a time-varying grid, or -1.
	TimeAxis AxisID

	Latitude, Longitude             []float64
	BoundsLatitude, BoundsLongitude []float64
	NVertices                       int

	Mapping       string
	MappingParams map[string]float64
	MappingUnits  map[string]string

	// coords holds the time-varying coordinate variables, or -1.
	coords [4]VarID
}

// TimeVarying returns whether the grid coordinates change in time.
func (g *Grid) TimeVarying() bool { return g.TimeAxis >= 0 }

// Coordinate returns the time-varying coordinate variable in slot i,
// if it is defined.
func (g *Grid) Coordinate(i int) (VarID, bool) {
	return g.coords[i], g.coords[i] >= 0
}

// GridSpec describes a grid.
type GridSpec struct {
	// Axes are the axes of the grid in data order. Time-varying grids
	// include a time axis.
	Axes []AxisID
	// Latitude and Longitude hold one value per grid cell. They are
	// empty for time-varying grids.
	Latitude, Longitude []float64
	// BoundsLatitude and BoundsLongitude hold NVertices values per
	// grid cell.
	BoundsLatitude, BoundsLongitude []float64
	NVertices                       int
}

// DefineGrid defines a grid and returns its handle.
func (s *Session) DefineGrid(spec GridSpec) (GridID, error) {
	defer s.enter("DefineGrid")()
	if err := s.checkSetup(); err != nil {
		return NoGrid, err
	}
	g := &Grid{
		TimeAxis:        -1,
		Latitude:        spec.Latitude,
		Longitude:       spec.Longitude,
		BoundsLatitude:  spec.BoundsLatitude,
		BoundsLongitude: spec.BoundsLongitude,
		NVertices:       spec.NVertices,
		coords:          [4]VarID{-1, -1, -1, -1},
	}
	if len(spec.Axes) == 0 {
		return NoGrid, s.report(Critical, "a grid needs at least one axis")
	}
	n := 1
	for _, id := range spec.Axes {
		a, err := s.axis(id)
		if err != nil {
			return NoGrid, err
		}
		if a.IsTime {
			if g.TimeAxis >= 0 {
				return NoGrid, s.report(Critical, "a grid can only have one time axis")
			}
			g.TimeAxis = id
			continue
		}
		g.Axes = append(g.Axes, id)
		n *= a.Len()
	}
	if g.TimeVarying() {
		if len(spec.Latitude) > 0 || len(spec.Longitude) > 0 {
			return NoGrid, s.report(Critical, "time-varying grids get their coordinates from DefineTimeVaryingGridCoordinate")
		}
		return s.addGrid(g)
	}
	if len(spec.Latitude) != n || len(spec.Longitude) != n {
		return NoGrid, s.report(Critical, "grid with %d cells: got %d latitudes and %d longitudes",
			n, len(spec.Latitude), len(spec.Longitude))
	}
	if len(spec.BoundsLatitude) > 0 || len(spec.BoundsLongitude) > 0 {
		if spec.NVertices <= 0 {
			return NoGrid, s.report(Critical, "grid bounds given without the number of vertices")
		}
		if len(spec.BoundsLatitude) != n*spec.NVertices || len(spec.BoundsLongitude) != n*spec.NVertices {
			return NoGrid, s.report(Critical, "grid with %d cells and %d vertices: got %d latitude and %d longitude bounds",
				n, spec.NVertices, len(spec.BoundsLatitude), len(spec.BoundsLongitude))
		}
	}
	for i, v := range spec.Latitude {
		if v < -90 || v > 90 {
			return NoGrid, s.report(Critical, "grid latitude %d (%g) is outside of [-90, 90]", i, v)
		}
	}
	return s.addGrid(g)
}

// gridMappings lists the CF grid mappings and their parameters.
var gridMappings = map[string][]string{
	"albers_conical_equal_area":      {"standard_parallel", "longitude_of_central_meridian", "latitude_of_projection_origin", "false_easting", "false_northing"},
	"azimuthal_equidistant":          {"longitude_of_projection_origin", "latitude_of_projection_origin", "false_easting", "false_northing"},
	"lambert_azimuthal_equal_area":   {"longitude_of_projection_origin", "latitude_of_projection_origin", "false_easting", "false_northing"},
	"lambert_conformal_conic":        {"standard_parallel", "longitude_of_central_meridian", "latitude_of_projection_origin", "false_easting", "false_northing"},
	"lambert_cylindrical_equal_area": {"longitude_of_central_meridian", "standard_parallel", "scale_factor_at_projection_origin", "false_easting", "false_northing"},
	"latitude_longitude":             {},
	"mercator":                       {"longitude_of_projection_origin", "standard_parallel", "scale_factor_at_projection_origin", "false_easting", "false_northing"},
	"orthographic":                   {"longitude_of_projection_origin", "latitude_of_projection_origin", "false_easting", "false_northing"},
	"polar_stereographic":            {"straight_vertical_longitude_from_pole", "latitude_of_projection_origin", "standard_parallel", "scale_factor_at_projection_origin", "false_easting", "false_northing"},
	"rotated_latitude_longitude":     {"grid_north_pole_latitude", "grid_north_pole_longitude", "north_pole_grid_longitude"},
	"stereographic":                  {"longitude_of_projection_origin", "latitude_of_projection_origin", "scale_factor_at_projection_origin", "false_easting", "false_northing"},
	"transverse_mercator":            {"scale_factor_at_central_meridian", "longitude_of_central_meridian", "latitude_of_projection_origin", "false_easting", "false_northing"},
	"vertical_perspective":           {"latitude_of_projection_origin", "longitude_of_projection_origin", "perspective_point_height", "false_easting", "false_northing"},
}

// ellipsoidParams may be set for any grid mapping.
var ellipsoidParams = []string{"semi_major_axis", "semi_minor_axis", "inverse_flattening", "earth_radius"}

// SetGridMapping sets the grid mapping of a grid. Parameter units are
// optional and written as "<name>_units" attributes.
func (s *Session) SetGridMapping(id GridID, name string, params map[string]float64, units map[string]string) error {
	defer s.enter("SetGridMapping")()
	g, err := s.grid(id)
	if err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	allowed, ok := gridMappings[name]
	if !ok {
		return s.report(Critical, "unknown grid mapping: %s", name)
	}
	valid := func(p string) bool {
		for _, a := range append(allowed, ellipsoidParams...) {
			if a == p {
				return true
			}
		}
		return false
	}
	for p := range params {
		if !valid(p) {
			return s.report(Critical, "grid mapping %s does not have a parameter %s, valid parameters are: %s",
				name, p, strings.Join(allowed, " "))
		}
	}
	g.Mapping = name
	g.MappingParams = params
	g.MappingUnits = units
	return nil
}

// mappingParamNames returns the parameter names in a stable order.
func (g *Grid) mappingParamNames() []string {
	o := make([]string, 0, len(g.MappingParams))
	for k := range g.MappingParams {
		o = append(o, k)
	}
	sort.Strings(o)
	return o
}

// DefineTimeVaryingGridCoordinate defines one of the coordinate
// variables of a time-varying grid: "latitude", "longitude",
// "vertices_latitude" or "vertices_longitude". The values are written
// with Write using the data variable as reference.
func (s *Session) DefineTimeVaryingGridCoordinate(id GridID, name, units string, missing float64) (VarID, error) {
	defer s.enter("DefineTimeVaryingGridCoordinate")()
	g, err := s.grid(id)
	if err != nil {
		return -1, err
	}
	if !g.TimeVarying() {
		return -1, s.report(Critical, "grid %d does not have a time axis", id)
	}
	slot := -1
	for i, n := range gridCoordNames {
		if n == name {
			slot = i
		}
	}
	if slot < 0 {
		return -1, s.report(Critical, "unknown grid coordinate %s, expected one of: %s", name, strings.Join(gridCoordNames[:], " "))
	}
	if slot >= GridVerticesLatitude && g.NVertices <= 0 {
		return -1, s.report(Critical, "grid %d: define the number of vertices before defining %s", id, name)
	}
	def := &table.VarDef{
		ID:      name,
		OutName: gridCoordOutNames[slot],
		Units:   "degrees_north",
		Type:    "d",
	}
	switch slot {
	case GridLatitude:
		def.StandardName, def.LongName = "latitude", "latitude"
	case GridLongitude:
		def.StandardName, def.LongName, def.Units = "longitude", "longitude", "degrees_east"
	case GridVerticesLongitude:
		def.Units = "degrees_east"
	}
	axes := append([]AxisID{g.TimeAxis}, g.Axes...)
	v := &Variable{
		Name:         name,
		Def:          def,
		Kind:         GridCoordinate,
		Units:        units,
		Axes:         axes,
		userAxes:     axes,
		perm:         identity(len(axes)),
		Grid:         id,
		Type:         ncfile.Double,
		MissingValue: missing,
		hasMissing:   true,
		Tolerance:    DefaultTolerance,
		Attrs:        attrs.New(attrs.DefaultCapacity),
		ZAxis:        -1,
		gridSlot:     slot,
	}
	v.reset()
	vid, err := s.addVariable(v)
	if err != nil {
		return -1, err
	}
	g.coords[slot] = vid
	return vid, nil
}
