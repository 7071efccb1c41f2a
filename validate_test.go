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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckExperimentID(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)

	short, err := s.CheckExperimentID("historical", tbl)
	require.NoError(t, err)
	assert.Equal(t, "hist", short)
	v, err := s.DatasetAttribute("experiment")
	require.NoError(t, err)
	assert.Equal(t, "historical", v)
	v, err = s.DatasetAttribute("experiment_id")
	require.NoError(t, err)
	assert.Equal(t, "hist", v)

	_, err = s.CheckExperimentID("bogus", tbl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidExperimentID))
	v, err = s.DatasetAttribute("experiment_id")
	require.NoError(t, err)
	assert.Equal(t, "hist", v, "a failed check leaves the attributes alone")
}

func TestValidateActivity(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)

	require.NoError(t, s.SetDatasetAttribute("activity_id", "CMIP-extra"))
	require.NoError(t, s.ValidateActivity(tbl))
	assert.Equal(t, "CMIP-extra", tbl.ActivityID)

	require.NoError(t, s.SetDatasetAttribute("activity_id", "ScenarioMIP"))
	assert.True(t, IsCritical(s.ValidateActivity(tbl)))
}

func TestValidateActivityUnset(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)
	act := tbl.ActivityID
	require.NotEmpty(t, act)

	s.dataset.attrs.Delete("activity_id")
	w0, _ := s.Counts()
	require.NoError(t, s.ValidateActivity(tbl))
	w, _ := s.Counts()
	assert.Equal(t, w0+1, w, "missing dataset activity")
	assert.Equal(t, act, tbl.ActivityID)

	require.NoError(t, s.SetDatasetAttribute("activity_id", "CMIP"))
	tbl.ActivityID = ""
	require.NoError(t, s.ValidateActivity(tbl))
	w0 = w
	w, _ = s.Counts()
	assert.Equal(t, w0+1, w, "missing table activity")
	assert.Equal(t, "CMIP", tbl.ActivityID)
}

func TestCheckForcing(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)
	assert.NoError(t, s.CheckForcing(tbl, "GHG, SD, Oz (with extras, maybe)"))
	assert.NoError(t, s.CheckForcing(tbl, ""))
	assert.True(t, IsCritical(s.CheckForcing(tbl, "GHG, Unicorns")))
}

func TestCheckRequiredGlobals(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)
	require.NoError(t, s.CheckRequiredGlobals(tbl))

	s.dataset.attrs.Delete("institution_id")
	err = s.CheckRequiredGlobals(tbl)
	assert.True(t, IsCritical(err))
	assert.True(t, errors.Is(err, ErrMissingRequiredAttribute))
}

func TestCheckParent(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)
	_, err = s.CheckExperimentID("historical", tbl)
	require.NoError(t, err)

	s.setInternal("parent_experiment_id", NotApplicable, false)
	s.setInternal("branch_time", "10", false)
	require.NoError(t, s.checkParent(tbl))
	assert.Equal(t, "0", s.datasetValue("branch_time"))
	assert.Equal(t, NotApplicable, s.datasetValue("parent_experiment"))

	s.setInternal("parent_experiment_id", "pre-industrial control", false)
	require.NoError(t, s.checkParent(tbl))
	assert.Equal(t, "piControl", s.datasetValue("parent_experiment_id"))

	s.setInternal("parent_experiment_id", "hist", false)
	assert.Error(t, s.checkParent(tbl))
}

func TestCheckSource(t *testing.T) {
	s := newTestSession(t, Replace)
	tbl, err := s.table("")
	require.NoError(t, err)
	require.NoError(t, s.checkSource(tbl))
	s.setInternal("source", "OTHER-MODEL", true)
	assert.True(t, IsCritical(s.checkSource(tbl)))
}
