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
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tjahns/cmor"
)

func TestVersion(t *testing.T) {
	buf := new(bytes.Buffer)
	Root.SetOutput(buf)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"version"})
	require.NoError(t, Root.Execute())
	assert.Equal(t, "CMOR v"+cmor.Version+" (CF-1.7)\n", buf.String())
}

func TestTableCheckCommand(t *testing.T) {
	buf := new(bytes.Buffer)
	Root.SetOutput(buf)
	defer Root.SetOutput(nil)
	Root.SetArgs([]string{"table", "check", "--TablePath=" + testTable})
	require.NoError(t, Root.Execute())
	out := buf.String()
	assert.Contains(t, out, "table:     Amon\n")
	assert.Contains(t, out, "version:   01.00.33\n")
	assert.Contains(t, out, "axes:      12\n")
	assert.Contains(t, out, "variables: 9\n")
	assert.True(t, strings.HasSuffix(out, "ok\n"), out)
}

func TestCheckTable(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, CheckTable(context.Background(), testTable, buf, true))
	assert.Contains(t, buf.String(), "GenericLevels")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, ioutil.WriteFile(bad, []byte(`{
	"Header": {"table_id": "Table bad", "generic_levels": "alevel"},
	"axis_entry": {"latitude": {"units": "degrees_north", "axis": "Y"}},
	"variable_entry": {
		"foo": {"units": "1", "dimensions": "latitude alevel depth"},
		"bar": {"units": "1", "dimensions": "latitude"}
	}
}`), 0644))
	err := CheckTable(context.Background(), bad, ioutil.Discard, false)
	require.Error(t, err)
	assert.Equal(t, "cmor: table bad: variables with undefined dimensions: foo (depth)", err.Error())

	err = CheckTable(context.Background(), filepath.Join(t.TempDir(), "missing.json"), ioutil.Discard, false)
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   interface{}
		want cmor.Mode
		err  bool
	}{
		{in: "", want: cmor.Replace},
		{in: "replace", want: cmor.Replace},
		{in: "preserve", want: cmor.Preserve},
		{in: "append", want: cmor.Append},
		{in: "clobber", err: true},
	}
	for _, test := range tests {
		m, err := parseMode(test.in)
		if test.err {
			assert.Error(t, err, "%v", test.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, test.want, m)
	}
}

func TestGetStringMapString(t *testing.T) {
	cfg := viper.New()
	cfg.Set("json", `{"institution_id": "XYZ"}`)
	cfg.Set("table", map[string]interface{}{"grid_label": "gr", "realization_index": 2})
	cfg.Set("empty", "")
	cfg.Set("bad", "{")

	m, err := getStringMapString("json", cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"institution_id": "XYZ"}, m)
	m, err = getStringMapString("table", cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"grid_label": "gr", "realization_index": "2"}, m)
	m, err = getStringMapString("empty", cfg)
	require.NoError(t, err)
	assert.Nil(t, m)
	_, err = getStringMapString("bad", cfg)
	assert.Error(t, err)
}

func TestSetLogging(t *testing.T) {
	log := logrus.New()
	file := filepath.Join(t.TempDir(), "cmor.log")
	require.NoError(t, setLogging(log, "debug", file))
	assert.Equal(t, logrus.DebugLevel, log.Level)
	log.Out = ioutil.Discard
	require.NoError(t, setLogging(log, "quiet", ""))
	assert.Equal(t, logrus.ErrorLevel, log.Level)
	assert.Nil(t, logFile)
	assert.FileExists(t, file)
	assert.Error(t, setLogging(log, "loud", ""))
}
