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

// Package cmor rewrites in-memory climate model output arrays to
// CF-compliant archival files whose metadata are checked against
// externally supplied tables.
//
// A Session is not safe for concurrent use.
package cmor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tjahns/cmor/ncfile"
	"github.com/tjahns/cmor/table"
)

// Version is the library version written to the cmor_version
// attribute.
const Version = "3.5.0"

// CFVersion is the newest CF convention version the library supports.
const CFVersion = 1.7

// Mode is the file creation mode.
type Mode int

// File creation modes.
const (
	// Replace overwrites existing files.
	Replace Mode = iota
	// Preserve fails if a file already exists.
	Preserve
	// Append appends to existing files and creates missing ones.
	Append
)

func (m Mode) String() string {
	switch m {
	case Replace:
		return "replace"
	case Preserve:
		return "preserve"
	case Append:
		return "append"
	}
	return "unknown"
}

// Default arena sizes.
const (
	MaxAxes      = 500
	MaxGrids     = 100
	MaxVariables = 500
	MaxTables    = 30
)

// Config holds the settings of a Session.
type Config struct {
	// TablePath is the directory that relative table paths are
	// resolved against.
	TablePath string
	Mode      Mode

	// Quiet suppresses warning output. Warnings are still counted.
	Quiet         bool
	ExitOnWarning bool
	// ExitOnCritical terminates the process on critical errors
	// instead of returning them.
	ExitOnCritical bool

	// CreateSubdirectories creates the directory structure given by
	// the output path template.
	CreateSubdirectories bool

	Log    logrus.FieldLogger
	Engine ncfile.Engine

	MaxAxes, MaxGrids, MaxVariables, MaxTables int
}

// Session holds the state of a rewriting session: the dataset, the
// loaded tables and the defined axes, grids and variables.
type Session struct {
	Log    logrus.FieldLogger
	Engine ncfile.Engine
	Tables *table.Registry

	TablePath            string
	Mode                 Mode
	Quiet                bool
	ExitOnWarning        bool
	ExitOnCritical       bool
	CreateSubdirectories bool

	// Now returns the current time. It is used for creation dates
	// and version tags.
	Now func() time.Time
	// exit terminates the process.
	exit func(int)
	pid  int

	dataset      *Dataset
	currentTable int

	axes      []*Axis
	grids     []*Grid
	variables []*Variable
	maxAxes   int
	maxGrids  int
	maxVars   int

	stack            []string
	warnings, errors int
}

// NewSession sets up a session.
func NewSession(cfg Config) *Session {
	s := &Session{
		Log:                  cfg.Log,
		Engine:               cfg.Engine,
		Tables:               table.NewRegistry(cfg.MaxTables),
		TablePath:            cfg.TablePath,
		Mode:                 cfg.Mode,
		Quiet:                cfg.Quiet,
		ExitOnWarning:        cfg.ExitOnWarning,
		ExitOnCritical:       cfg.ExitOnCritical,
		CreateSubdirectories: cfg.CreateSubdirectories,
		Now:                  time.Now,
		exit:                 os.Exit,
		pid:                  os.Getpid(),
		currentTable:         -1,
		maxAxes:              cfg.MaxAxes,
		maxGrids:             cfg.MaxGrids,
		maxVars:              cfg.MaxVariables,
	}
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
	if s.Engine == nil {
		s.Engine = &ncfile.CDF{Log: s.Log}
	}
	if s.maxAxes <= 0 {
		s.maxAxes = MaxAxes
	}
	if s.maxGrids <= 0 {
		s.maxGrids = MaxGrids
	}
	if s.maxVars <= 0 {
		s.maxVars = MaxVariables
	}
	return s
}

// SetExit replaces the function used to terminate the process.
func (s *Session) SetExit(exit func(code int)) { s.exit = exit }

func (s *Session) checkSetup() error {
	if s.dataset == nil || !s.dataset.initiated {
		return s.reportErr(Critical, ErrNotSetUp,
			"You need to initialize the dataset (SetDataset) before calling this function")
	}
	return nil
}

// LoadTable loads the table at path and makes it the current table.
// Relative paths that do not exist are looked up in the session's
// table directory. It returns the table index.
func (s *Session) LoadTable(ctx context.Context, path string) (int, error) {
	defer s.enter("LoadTable")()
	p := os.ExpandEnv(path)
	if _, err := os.Stat(p); err != nil && !filepath.IsAbs(p) && s.TablePath != "" {
		p = filepath.Join(os.ExpandEnv(s.TablePath), p)
	}
	i, t, err := s.Tables.Load(ctx, p)
	if err != nil {
		return -1, s.reportErr(Critical, err, "Could not load table %s: %v", path, err)
	}
	if t.URL == "" {
		s.report(Warning, "Your table (%s) does not have a URL (table_url) defined", t.ID)
	}
	s.currentTable = i
	s.Log.WithFields(logrus.Fields{"table": t.ID, "path": p}).Debug("loaded table")
	return i, nil
}

// AddTable registers an already parsed table and makes it current.
func (s *Session) AddTable(t *table.Table) (int, error) {
	defer s.enter("AddTable")()
	i, err := s.Tables.Add(t)
	if err != nil {
		return -1, s.reportErr(Critical, err, "%v", err)
	}
	s.currentTable = i
	return i, nil
}

// SetTable makes the table with index i current.
func (s *Session) SetTable(i int) error {
	defer s.enter("SetTable")()
	if _, err := s.Tables.Get(i); err != nil {
		return s.reportErr(Normal, ErrInvalidHandle, "%v", err)
	}
	s.currentTable = i
	return nil
}

// table returns the table with the given id, or the current table if
// id is empty.
func (s *Session) table(id string) (*table.Table, error) {
	if id == "" {
		t, err := s.Tables.Get(s.currentTable)
		if err != nil {
			return nil, s.reportErr(Critical, ErrInvalidHandle, "No table loaded: %v", err)
		}
		return t, nil
	}
	i, ok := s.Tables.Lookup(id)
	if !ok {
		return nil, s.reportErr(Critical, ErrInvalidHandle, "Table %s is not loaded", id)
	}
	t, _ := s.Tables.Get(i)
	return t, nil
}
