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
	"strings"

	"github.com/sirupsen/logrus"
)

// Severity is the severity of a diagnostic.
type Severity int

// Diagnostic severities.
const (
	Warning Severity = iota + 1
	Normal
	Critical
)

func (s Severity) String() string {
	switch s {
	case Warning:
		return "Warning"
	case Normal:
		return "Error"
	case Critical:
		return "C Traceback"
	}
	return fmt.Sprintf("Severity(%d)", int(s))
}

// Sentinel causes that callers can test for with errors.Is.
var (
	ErrInvalidExperimentID      = errors.New("cmor: invalid experiment id")
	ErrMissingRequiredAttribute = errors.New("cmor: missing required attribute")
	ErrCapacityExceeded         = errors.New("cmor: capacity exceeded")
	ErrInvalidHandle            = errors.New("cmor: invalid handle")
	ErrReservedName             = errors.New("cmor: reserved attribute name")
	ErrNotSetUp                 = errors.New("cmor: session is not set up")
)

// Error is a diagnostic returned by a Session.
type Error struct {
	Severity Severity
	Msg      string
	// Trace holds the names of the entry points that were active
	// when the error occurred, innermost first.
	Trace []string
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Severity == Critical {
		return "cmor: critical: " + e.Msg
	}
	return "cmor: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsCritical returns whether err is a critical Session error.
func IsCritical(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Severity == Critical
}

// enter pushes name on the traceback stack. The returned function pops
// it and must be deferred.
func (s *Session) enter(name string) func() {
	s.stack = append(s.stack, name)
	n := len(s.stack)
	return func() {
		s.stack = s.stack[:n-1]
	}
}

// traceback returns the active entry points, innermost first.
func (s *Session) traceback() []string {
	o := make([]string, len(s.stack))
	for i, f := range s.stack {
		o[len(s.stack)-1-i] = f
	}
	return o
}

func (s *Session) box(sev Severity, msg string, trace []string) string {
	var b strings.Builder
	bang := strings.Repeat("!", 25)
	b.WriteString("\n\n")
	b.WriteString(bang)
	b.WriteString("\n!\n")
	if len(trace) > 0 {
		fmt.Fprintf(&b, "! %s: In function: %s\n", sev, trace[0])
		for _, t := range trace[1:] {
			fmt.Fprintf(&b, "! called from: %s\n", t)
		}
		b.WriteString("!\n")
	}
	fmt.Fprintf(&b, "! %s\n!\n", msg)
	b.WriteString(bang)
	b.WriteString("\n")
	return b.String()
}

// report logs a diagnostic, updates the counters and, depending on the
// session settings, terminates the process. It returns nil for
// warnings and an *Error otherwise.
func (s *Session) report(sev Severity, format string, args ...interface{}) error {
	return s.reportErr(sev, nil, format, args...)
}

// reportErr is like report but records cause as the wrapped error.
func (s *Session) reportErr(sev Severity, cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	trace := s.traceback()
	log := s.Log.WithFields(logrus.Fields{"severity": sev.String()})
	if len(trace) > 0 {
		log = log.WithField("function", trace[0])
	}
	if sev == Warning {
		s.warnings++
		if !s.Quiet {
			log.Warn(s.box(sev, msg, trace))
		}
		if s.ExitOnWarning {
			s.exit(1)
		}
		return nil
	}
	s.errors++
	log.Error(s.box(sev, msg, trace))
	if sev == Critical && s.ExitOnCritical {
		s.exit(1)
	}
	return &Error{Severity: sev, Msg: msg, Trace: trace, Err: cause}
}

// Counts returns the number of warnings and errors reported so far.
func (s *Session) Counts() (warnings, errors int) {
	return s.warnings, s.errors
}
