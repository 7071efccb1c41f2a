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
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/tjahns/cmor/calendar"
	"github.com/tjahns/cmor/internal/attrs"
)

// Default output templates.
const (
	DefaultPathTemplate = "<mip_era><activity_id><institution_id><source_id><experiment_id><ripf><table><variable_id><grid_label><version>"
	DefaultFileTemplate = "<variable_id><table><source_id><experiment_id><ripf><grid_label>"
)

// NotSpecified is the placeholder value of unset descriptive
// attributes.
const NotSpecified = "not specified"

// reserved lists the dataset attributes that can only be set through
// SetDataset or internally.
var reserved = map[string]bool{
	"tracking_id":           true,
	"product":               true,
	"creation_date":         true,
	"table_id":              true,
	"modeling_realm":        true,
	"experiment_id":         true,
	"institution":           true,
	"source":                true,
	"calendar":              true,
	"realization_index":     true,
	"contact":               true,
	"history":               true,
	"comment":               true,
	"references":            true,
	"model_id":              true,
	"forcing_index":         true,
	"initialization_method": true,
	"physics_index":         true,
	"institute_id":          true,
	"parent_experiment_id":  true,
	"branch_time":           true,
	"parent_experiment_rip": true,
	"parent_experiment":     true,
}

// Dataset holds the global attributes and output settings shared by
// all files written in a session.
type Dataset struct {
	attrs        *attrs.Store
	initiated    bool
	OutPath      string
	PathTemplate string
	FileTemplate string
	Realization  int
	// historyDone records whether the history attribute has been
	// composed.
	historyDone bool
}

// DatasetSpec describes a dataset.
type DatasetSpec struct {
	OutPath      string
	ExperimentID string
	Institution  string
	Source       string
	Calendar     string
	// Realization is the realization number. 0 means ignored.
	Realization int

	Contact, History, Comment, References string

	ModelID              string
	Forcing              string
	InitializationMethod int
	PhysicsIndex         int
	ForcingIndex         int
	InstituteID          string
	ParentExperimentID   string
	// BranchTime is the branch time in the parent experiment, if any.
	BranchTime          *float64
	ParentExperimentRIP string

	// MonthLengths, LeapYear and LeapMonth define a non-standard
	// calendar, which is not supported.
	MonthLengths        []int
	LeapYear, LeapMonth int

	// PathTemplate and FileTemplate override the default output
	// templates.
	PathTemplate, FileTemplate string

	// Attributes are additional dataset attributes. Names starting
	// with "_" are kept out of the written files.
	Attributes map[string]string
}

// Dataset returns the session dataset, or nil if it has not been set.
func (s *Session) Dataset() *Dataset { return s.dataset }

// SetDataset sets up the dataset. It must be called before any axes or
// variables are defined.
func (s *Session) SetDataset(spec DatasetSpec) error {
	defer s.enter("SetDataset")()
	d := &Dataset{
		attrs:        attrs.New(attrs.DefaultCapacity),
		OutPath:      os.ExpandEnv(spec.OutPath),
		PathTemplate: DefaultPathTemplate,
		FileTemplate: DefaultFileTemplate,
	}
	if spec.PathTemplate != "" {
		d.PathTemplate = spec.PathTemplate
	}
	if spec.FileTemplate != "" {
		d.FileTemplate = spec.FileTemplate
	}
	s.dataset = d

	if err := s.setInternal("institution", spec.Institution, true); err != nil {
		return err
	}
	if err := s.checkOutPath(d.OutPath); err != nil {
		return err
	}
	inst := strings.TrimSpace(spec.InstituteID)
	if inst == "" {
		inst = NotSpecified
	}
	s.setInternal("institute_id", inst, false)
	s.setInternal("experiment_id", spec.ExperimentID, false)
	if err := s.setInternal("source", spec.Source, true); err != nil {
		return err
	}
	if err := s.setInternal("calendar", spec.Calendar, true); err != nil {
		return err
	}
	s.setInternal("model_id", spec.ModelID, false)
	s.setInternal("forcing", spec.Forcing, false)
	s.setInternal("parent_experiment_id", spec.ParentExperimentID, false)
	s.setInternal("parent_experiment_rip", spec.ParentExperimentRIP, false)
	if spec.BranchTime == nil {
		if t, err := s.Tables.Get(s.currentTable); err == nil && requiredGlobal(t.RequiredGlobalAttributes, "branch_time") {
			return s.report(Critical, "You did not provide required attribute: branch_time")
		}
	} else {
		s.setInternal("branch_time", strconv.FormatFloat(*spec.BranchTime, 'f', -1, 64), false)
	}

	cal := strings.TrimSpace(spec.Calendar)
	known := calendar.Valid(cal)
	if len(spec.MonthLengths) > 0 || spec.LeapYear != 0 || spec.LeapMonth != 0 {
		if known {
			s.report(Warning, "You passed calendar: %s therefore we will ignore any user defined value you also set for month_lengths and leap_months", cal)
		} else {
			return s.report(Critical, "You defined a non-standard calendar, which is not supported")
		}
	} else if !known {
		return s.report(Critical, "Unknown calendar: %s (calendar are case sensitive)", cal)
	}

	s.setInternal("contact", spec.Contact, false)
	s.setInternal("history", spec.History, false)
	s.setInternal("comment", spec.Comment, false)
	s.setInternal("references", spec.References, false)
	if spec.Realization < 0 {
		return s.report(Critical, "Error realization number is negative, expected a positive number or 0 (i.e. ignored)")
	}
	d.Realization = spec.Realization
	im := "1"
	if spec.InitializationMethod > 0 {
		im = strconv.Itoa(spec.InitializationMethod)
	}
	s.setInternal("initialization_method", im, true)
	s.setInternal("initialization_index", im, true)
	pi := "1"
	if spec.PhysicsIndex > 0 {
		pi = strconv.Itoa(spec.PhysicsIndex)
	}
	s.setInternal("physics_index", pi, true)
	if spec.ForcingIndex > 0 {
		s.setInternal("forcing_index", strconv.Itoa(spec.ForcingIndex), false)
	}

	for _, k := range sortedKeys(spec.Attributes) {
		s.setInternal(k, spec.Attributes[k], false)
	}
	d.initiated = true
	return nil
}

// checkOutPath checks that path is a writable directory.
func (s *Session) checkOutPath(path string) error {
	if path == "" {
		path = "."
		s.dataset.OutPath = path
	}
	fi, err := os.Stat(path)
	if err != nil {
		return s.report(Critical, "You defined your output directory to be: '%s', but this directory does not exist. CMOR will not create it for you", path)
	}
	if !fi.IsDir() {
		return s.report(Critical, "You defined your output directory to be: '%s', but it is not a directory", path)
	}
	f, err := ioutil.TempFile(path, ".cmor_writable")
	if err != nil {
		return s.report(Critical, "You defined your output directory to be: '%s', but you do not have write permissions on it", path)
	}
	f.Close()
	os.Remove(f.Name())
	return nil
}

// requiredGlobal returns whether name is in the list of required
// global attributes.
func requiredGlobal(list, name string) bool {
	for _, n := range parseAttrList(list) {
		if n == name {
			return true
		}
	}
	return false
}

// parseAttrList splits a list such as `[ "a", "b" ]` or "a b".
func parseAttrList(list string) []string {
	return strings.FieldsFunc(list, func(r rune) bool {
		switch r {
		case '[', ']', '"', '\'', ',', ' ', '\t', '\n':
			return true
		}
		return false
	})
}

// setInternal sets a dataset attribute without checking reserved
// names. Failures are reported but only required attributes are
// treated as critical.
func (s *Session) setInternal(name, value string, required bool) error {
	err := s.dataset.attrs.Set(name, value, required)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, attrs.ErrMissingRequired):
		return s.reportErr(Critical, ErrMissingRequiredAttribute,
			"CMOR Dataset error, required attribute %s was not passed or blanked", name)
	case errors.Is(err, attrs.ErrCapacityExceeded):
		return s.reportErr(Normal, ErrCapacityExceeded,
			"Setting dataset attribute: %s, we already have %d elements set which is the max, this element won't be set",
			name, s.dataset.attrs.Capacity())
	}
	return s.reportErr(Normal, err, "%v", err)
}

// SetDatasetAttribute sets a dataset attribute. Attributes that are
// set through SetDataset or internally cannot be set.
func (s *Session) SetDatasetAttribute(name, value string) error {
	defer s.enter("SetDatasetAttribute")()
	if err := s.checkSetup(); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if reserved[name] {
		return s.reportErr(Normal, ErrReservedName,
			"you are trying to set dataset attribute: %s this must be set via a call to SetDataset or is set internally via the tables", name)
	}
	return s.setInternal(name, value, false)
}

// DatasetAttribute returns a dataset attribute.
func (s *Session) DatasetAttribute(name string) (string, error) {
	defer s.enter("DatasetAttribute")()
	if err := s.checkSetup(); err != nil {
		return "", err
	}
	v, err := s.dataset.attrs.Get(name)
	if err != nil {
		return "", s.reportErr(Normal, err, "CMOR Dataset: current dataset does not have attribute : %s", name)
	}
	return v, nil
}

// HasDatasetAttribute returns whether the dataset has attribute name.
func (s *Session) HasDatasetAttribute(name string) bool {
	return s.dataset != nil && s.dataset.attrs.Has(name)
}

// datasetValue returns a dataset attribute or "".
func (s *Session) datasetValue(name string) string {
	if s.dataset == nil {
		return ""
	}
	return s.dataset.attrs.Value(name)
}

// hyphenChars are replaced in values used in file and directory names.
const hyphenChars = " _().;,[]:/*?<>\"'{}&"

// hyphenate replaces characters that are not allowed in file names
// with hyphens and removes trailing hyphens. Each replacement is
// reported as a warning.
func (s *Session) hyphenate(name, value string) string {
	b := []byte(value)
	for i, c := range b {
		if strings.IndexByte(hyphenChars, c) >= 0 {
			s.report(Warning, "global attribute %s (%s) contains the character '%c' it will be replaced with a hyphen in output directories", name, value, c)
			b[i] = '-'
		}
	}
	o := string(b)
	for len(o) > 1 && strings.HasSuffix(o, "-") {
		o = o[:len(o)-1]
	}
	return o
}

// AddVersion sets the version attribute to the current date,
// "vYYYYMMDD".
func (s *Session) AddVersion() error {
	defer s.enter("AddVersion")()
	if err := s.checkSetup(); err != nil {
		return err
	}
	return s.setInternal("version", fmt.Sprintf("v%s", s.Now().UTC().Format("20060102")), false)
}
