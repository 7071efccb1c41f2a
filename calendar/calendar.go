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

// Package calendar converts between numeric time values such as
// "days since 1850-01-01" and calendar dates for the CF calendars.
package calendar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Names of the supported calendars.
const (
	Gregorian          = "gregorian"
	Standard           = "standard"
	ProlepticGregorian = "proleptic_gregorian"
	NoLeap             = "noleap"
	Days365            = "365_day"
	AllLeap            = "all_leap"
	Days366            = "366_day"
	Days360            = "360_day"
	Julian             = "julian"
	None               = "none"
)

// Valid returns whether name is a calendar accepted in dataset
// metadata.
func Valid(name string) bool {
	switch name {
	case Gregorian, Standard, ProlepticGregorian, NoLeap, Days365,
		Days360, Julian, None:
		return true
	}
	return false
}

// Date is a calendar date and time of day.
type Date struct {
	Year, Month, Day int
	Hour, Minute     int
	Second           float64
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%06.3f",
		d.Year, d.Month, d.Day, d.Hour, d.Minute, d.Second)
}

var cumDays = [2][13]int{
	{0, 31, 59, 90, 120, 151, 181, 212, 243, 273, 304, 334, 365},
	{0, 31, 60, 91, 121, 152, 182, 213, 244, 274, 305, 335, 366},
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// dayNumber returns the number of days from an arbitrary,
// calendar-specific epoch to the given date.
func dayNumber(cal string, y, m, d int) (int, error) {
	switch cal {
	case NoLeap, Days365:
		return y*365 + cumDays[0][m-1] + d - 1, nil
	case AllLeap, Days366:
		return y*366 + cumDays[1][m-1] + d - 1, nil
	case Days360:
		return y*360 + (m-1)*30 + d - 1, nil
	case Julian:
		return julianJDN(y, m, d), nil
	case ProlepticGregorian:
		return gregorianJDN(y, m, d), nil
	case Gregorian, Standard:
		if y < 1582 || (y == 1582 && (m < 10 || (m == 10 && d < 15))) {
			return julianJDN(y, m, d), nil
		}
		return gregorianJDN(y, m, d), nil
	case None:
		return 0, fmt.Errorf("calendar: cannot convert times for calendar %q", cal)
	}
	return 0, fmt.Errorf("calendar: unknown calendar %q", cal)
}

func fromDayNumber(cal string, n int) (y, m, d int, err error) {
	switch cal {
	case NoLeap, Days365, AllLeap, Days366:
		leap, length := 0, 365
		if cal == AllLeap || cal == Days366 {
			leap, length = 1, 366
		}
		y = floorDiv(n, length)
		doy := n - y*length
		m = 1
		for m < 12 && doy >= cumDays[leap][m] {
			m++
		}
		d = doy - cumDays[leap][m-1] + 1
		return y, m, d, nil
	case Days360:
		y = floorDiv(n, 360)
		doy := n - y*360
		return y, doy/30 + 1, doy%30 + 1, nil
	case Julian:
		y, m, d = fromJulianJDN(n)
		return y, m, d, nil
	case ProlepticGregorian:
		y, m, d = fromGregorianJDN(n)
		return y, m, d, nil
	case Gregorian, Standard:
		if n < gregorianReform {
			y, m, d = fromJulianJDN(n)
		} else {
			y, m, d = fromGregorianJDN(n)
		}
		return y, m, d, nil
	case None:
		return 0, 0, 0, fmt.Errorf("calendar: cannot convert times for calendar %q", cal)
	}
	return 0, 0, 0, fmt.Errorf("calendar: unknown calendar %q", cal)
}

// gregorianReform is the Julian day number of 1582-10-15.
const gregorianReform = 2299161

func gregorianJDN(y, m, d int) int {
	a := (14 - m) / 12
	yy := y + 4800 - a
	mm := m + 12*a - 3
	return d + (153*mm+2)/5 + 365*yy + yy/4 - yy/100 + yy/400 - 32045
}

func julianJDN(y, m, d int) int {
	a := (14 - m) / 12
	yy := y + 4800 - a
	mm := m + 12*a - 3
	return d + (153*mm+2)/5 + 365*yy + yy/4 - 32083
}

func fromGregorianJDN(j int) (y, m, d int) {
	a := j + 32044
	b := (4*a + 3) / 146097
	c := a - 146097*b/4
	dd := (4*c + 3) / 1461
	e := c - 1461*dd/4
	mm := (5*e + 2) / 153
	d = e - (153*mm+2)/5 + 1
	m = mm + 3 - 12*(mm/10)
	y = 100*b + dd - 4800 + mm/10
	return
}

func fromJulianJDN(j int) (y, m, d int) {
	c := j + 32082
	dd := (4*c + 3) / 1461
	e := c - 1461*dd/4
	mm := (5*e + 2) / 153
	d = e - (153*mm+2)/5 + 1
	m = mm + 3 - 12*(mm/10)
	y = dd - 4800 + mm/10
	return
}

// toSeconds returns the seconds since the calendar epoch.
func toSeconds(cal string, d Date) (float64, error) {
	if d.Month < 1 || d.Month > 12 {
		return 0, fmt.Errorf("calendar: invalid month %d", d.Month)
	}
	n, err := dayNumber(cal, d.Year, d.Month, d.Day)
	if err != nil {
		return 0, err
	}
	return float64(n)*86400 + float64(d.Hour)*3600 + float64(d.Minute)*60 + d.Second, nil
}

func fromSeconds(cal string, s float64) (Date, error) {
	days := math.Floor(s / 86400)
	rem := s - days*86400
	y, m, d, err := fromDayNumber(cal, int(days))
	if err != nil {
		return Date{}, err
	}
	// Round to the millisecond to absorb floating point noise.
	rem = math.Round(rem*1000) / 1000
	if rem >= 86400 {
		return fromSeconds(cal, (days+1)*86400)
	}
	hour := int(rem / 3600)
	rem -= float64(hour) * 3600
	minute := int(rem / 60)
	rem -= float64(minute) * 60
	return Date{Year: y, Month: m, Day: d, Hour: hour, Minute: minute, Second: rem}, nil
}

// AddSeconds returns the date that is seconds after d in calendar cal.
func AddSeconds(d Date, seconds float64, cal string) (Date, error) {
	s, err := toSeconds(cal, d)
	if err != nil {
		return Date{}, err
	}
	return fromSeconds(cal, s+seconds)
}

// Units holds a parsed "<interval> since <reference>" time unit.
type Units struct {
	// Seconds is the length of one interval in seconds.
	Seconds   float64
	Reference Date
}

var intervals = map[string]float64{
	"second": 1, "seconds": 1, "sec": 1, "secs": 1, "s": 1,
	"minute": 60, "minutes": 60, "min": 60, "mins": 60,
	"hour": 3600, "hours": 3600, "hr": 3600, "hrs": 3600, "h": 3600,
	"day": 86400, "days": 86400, "d": 86400,
}

// ParseUnits parses a time unit such as "days since 1850-01-01 00:00:00".
func ParseUnits(units string) (Units, error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return Units{}, fmt.Errorf("calendar: time units %q do not have the form '<interval> since <date>'", units)
	}
	sec, ok := intervals[strings.ToLower(strings.TrimSpace(parts[0]))]
	if !ok {
		return Units{}, fmt.Errorf("calendar: unsupported time interval %q in %q", parts[0], units)
	}
	ref, err := ParseDate(parts[1])
	if err != nil {
		return Units{}, err
	}
	return Units{Seconds: sec, Reference: ref}, nil
}

// ParseDate parses dates of the form "YYYY-M-D", "YYYY-MM-DD hh:mm:ss"
// or "YYYY-MM-DDThh:mm:ssZ". A trailing time zone is ignored.
func ParseDate(s string) (Date, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == ' ' || r == 'T'
	})
	if len(fields) == 0 {
		return Date{}, fmt.Errorf("calendar: empty date")
	}
	var d Date
	ymd := strings.Split(fields[0], "-")
	if len(ymd) != 3 {
		return Date{}, fmt.Errorf("calendar: invalid date %q", s)
	}
	var err error
	for i, p := range []*int{&d.Year, &d.Month, &d.Day} {
		if *p, err = strconv.Atoi(ymd[i]); err != nil {
			return Date{}, fmt.Errorf("calendar: invalid date %q: %v", s, err)
		}
	}
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return Date{}, fmt.Errorf("calendar: invalid date %q", s)
	}
	if len(fields) > 1 {
		hms := strings.Split(strings.TrimSuffix(fields[1], "Z"), ":")
		if d.Hour, err = strconv.Atoi(hms[0]); err != nil {
			return Date{}, fmt.Errorf("calendar: invalid time in %q: %v", s, err)
		}
		if len(hms) > 1 {
			if d.Minute, err = strconv.Atoi(hms[1]); err != nil {
				return Date{}, fmt.Errorf("calendar: invalid time in %q: %v", s, err)
			}
		}
		if len(hms) > 2 {
			if d.Second, err = strconv.ParseFloat(hms[2], 64); err != nil {
				return Date{}, fmt.Errorf("calendar: invalid time in %q: %v", s, err)
			}
		}
	}
	return d, nil
}

// ToDate converts value, expressed in units (e.g., "days since
// 2000-01-01"), to a date in calendar cal.
func ToDate(cal, units string, value float64) (Date, error) {
	u, err := ParseUnits(units)
	if err != nil {
		return Date{}, err
	}
	return AddSeconds(u.Reference, value*u.Seconds, cal)
}

// ToValue converts d to a numeric value in units for calendar cal.
// It is the inverse of ToDate.
func ToValue(cal, units string, d Date) (float64, error) {
	u, err := ParseUnits(units)
	if err != nil {
		return 0, err
	}
	ref, err := toSeconds(cal, u.Reference)
	if err != nil {
		return 0, err
	}
	s, err := toSeconds(cal, d)
	if err != nil {
		return 0, err
	}
	return (s - ref) / u.Seconds, nil
}
