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

package pathtmpl

import (
	"reflect"
	"testing"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "<a><b>", want: []string{"a", "b"}},
		{in: "<a>><<b>", want: []string{"a", "b"}},
		{in: "", want: []string{}},
		{in: "x<a>", want: []string{"x", "a"}},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			got := Tokens(test.in)
			if len(got) == 0 && len(test.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, test.want) {
				t.Errorf("Tokens(%q) = %v, want %v", test.in, got, test.want)
			}
		})
	}
}

func TestExpand(t *testing.T) {
	vals := map[string]string{"a": "A", "b": "B"}
	r := ResolverFunc(func(tok string) (string, bool) {
		v, ok := vals[tok]
		return v, ok
	})
	if got := Expand("<a><missing><b>", r, "/"); got != "A/B/" {
		t.Errorf("Expand = %q", got)
	}
	if got := Join("<a><missing><b>", r, "_"); got != "A_B" {
		t.Errorf("Join = %q", got)
	}
	if got := Expand("<missing>", r, "/"); got != "" {
		t.Errorf("Expand unresolved = %q", got)
	}
}
