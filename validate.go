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
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"github.com/tjahns/cmor/table"
)

// NotApplicable is the parent experiment of experiments without a
// parent.
const NotApplicable = "N/A"

// CheckExperimentID checks id against the experiments of table t. On
// success the dataset "experiment" and "experiment_id" attributes are
// set to the long and short names and the short name is returned.
func (s *Session) CheckExperimentID(id string, t *table.Table) (string, error) {
	defer s.enter("CheckExperimentID")()
	if err := s.checkSetup(); err != nil {
		return "", err
	}
	e, ok := t.Experiment(strings.TrimSpace(id))
	if !ok {
		return "", s.reportErr(Normal, ErrInvalidExperimentID,
			"Invalid dataset experiment id: %s, check against table: %s", id, t.ID)
	}
	s.setInternal("experiment", e.Long, false)
	s.setInternal("experiment_id", e.Short, false)
	return e.Short, nil
}

// CheckRequiredGlobals checks that the global attributes required by
// table t are set. The first missing attribute is reported.
func (s *Session) CheckRequiredGlobals(t *table.Table) error {
	defer s.enter("CheckRequiredGlobals")()
	for _, name := range parseAttrList(t.RequiredGlobalAttributes) {
		v := s.datasetValue(name)
		if v == "" || v == NotSpecified {
			return s.reportErr(Critical, ErrMissingRequiredAttribute,
				"Your table (%s) requires the global attribute: %s, which is not set", t.ID, name)
		}
	}
	return nil
}

// ValidateActivity compares the dataset activity with the activity of
// table t. Only the part before the first '-' is compared. On a match
// the table activity is replaced with the dataset value.
func (s *Session) ValidateActivity(t *table.Table) error {
	defer s.enter("ValidateActivity")()
	act := s.datasetValue("activity_id")
	if act == "" {
		s.report(Warning, "You did not define an activity_id, the activity of table %s (%s) is used", t.ID, t.ActivityID)
		return nil
	}
	if t.ActivityID == "" {
		s.report(Warning, "Your table (%s) does not define an activity_id, your activity_id (%s) is used", t.ID, act)
		t.ActivityID = act
		return nil
	}
	first := func(a string) string { return strings.SplitN(a, "-", 2)[0] }
	if first(act) != first(t.ActivityID) {
		return s.report(Critical, "Your activity_id (%s) does not match the activity of table %s (%s); only the part before the first '-' is compared (%s vs %s)",
			act, t.ID, t.ActivityID, first(act), first(t.ActivityID))
	}
	t.ActivityID = act
	return nil
}

// CheckForcing checks that every element of the forcing list value is
// in the forcing vocabulary of table t. Text from the first '(' on is
// ignored.
func (s *Session) CheckForcing(t *table.Table, value string) error {
	defer s.enter("CheckForcing")()
	if len(t.Forcings) == 0 {
		return nil
	}
	if i := strings.Index(value, "("); i >= 0 {
		value = value[:i]
	}
	for _, f := range strings.Fields(strings.Replace(value, ",", " ", -1)) {
		ok := false
		for _, v := range t.Forcings {
			if v == f {
				ok = true
				break
			}
		}
		if !ok {
			return s.report(Critical, "forcing %s is not valid for table %s, valid values are: %s",
				f, t.ID, strings.Join(t.Forcings, " "))
		}
	}
	return nil
}

// checkParent checks the parent experiment attributes.
func (s *Session) checkParent(t *table.Table) error {
	parent := s.datasetValue("parent_experiment_id")
	if parent == "" {
		return nil
	}
	if parent == NotApplicable {
		if bt := s.datasetValue("branch_time"); bt != "" {
			if v, err := strconv.ParseFloat(bt, 64); err == nil && v != 0 {
				s.report(Warning, "when dataset attribute parent_experiment_id is set to N/A, branch_time must be 0., you passed: %s, we are resetting to 0. for variable %s (table: %s)",
					bt, s.datasetValue("variable_id"), t.ID)
				s.setInternal("branch_time", "0", false)
			}
		}
		s.setInternal("parent_experiment", NotApplicable, false)
		return nil
	}
	exp := s.datasetValue("experiment_id")
	long := s.datasetValue("experiment")
	if parent == exp || (long != "" && parent == long) {
		return s.report(Normal, "You defined your experiment_id and parent_experiment_id to be the same: %s", parent)
	}
	e, ok := t.Experiment(parent)
	if !ok {
		return s.reportErr(Normal, ErrInvalidExperimentID, "Invalid dataset parent experiment id: %s, check against table: %s", parent, t.ID)
	}
	s.setInternal("parent_experiment_id", e.Short, false)
	s.setInternal("parent_experiment", e.Long, false)
	return nil
}

// checkSource checks that the source attribute starts with the model
// id for CMIP6 tables.
func (s *Session) checkSource(t *table.Table) error {
	if t.MIPEra != "CMIP6" {
		return nil
	}
	model := s.datasetValue("model_id")
	if model == "" {
		model = s.datasetValue("source_id")
	}
	if model == "" {
		return nil
	}
	if !strings.HasPrefix(s.datasetValue("source"), model) {
		return s.report(Critical, "source attribute (%s) must start with the model id (%s)", s.datasetValue("source"), model)
	}
	return nil
}

// checkCFVersion warns when table t enforces a newer CF version than
// the library supports.
func (s *Session) checkCFVersion(t *table.Table, v *Variable) {
	if t.CFVersion > CFVersion {
		s.report(Warning, "You are using cmor version: %s, these tables require CF version: %s, cmor supports CF up to: %s (variable %s, table %s)",
			Version, cast.ToString(t.CFVersion), cast.ToString(CFVersion), v.Name, t.ID)
	}
}

// checkRequiredVarAttrs checks the variable attributes required by the
// table entry.
func (s *Session) checkRequiredVarAttrs(v *Variable) error {
	if v.Def == nil {
		return nil
	}
	for _, name := range v.Def.Required {
		if !v.Attrs.Has(name) && v.Def.Attrs[name] == "" {
			return s.reportErr(Critical, ErrMissingRequiredAttribute,
				"variable %s (table %s) does not have required attribute: %s", v.Name, v.Table.ID, name)
		}
	}
	return nil
}
