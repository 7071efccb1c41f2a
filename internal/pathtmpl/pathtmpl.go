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

// Package pathtmpl expands bracketed templates such as
// "<mip_era><activity_id><source_id>" into path or file name segments.
package pathtmpl

import "strings"

// A Resolver returns the value of a template token and whether it
// could be resolved.
type Resolver interface {
	Resolve(token string) (string, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(token string) (string, bool)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(token string) (string, bool) { return f(token) }

// Tokens splits template on the '<' and '>' delimiters, dropping empty
// tokens. Text outside of brackets is returned as tokens as well.
func Tokens(template string) []string {
	return strings.FieldsFunc(template, func(r rune) bool {
		return r == '<' || r == '>'
	})
}

// Expand resolves each token of template using r and joins the resolved
// values, each followed by sep. Tokens that cannot be resolved are
// skipped. The result ends with sep unless no token was resolved.
func Expand(template string, r Resolver, sep string) string {
	var b strings.Builder
	for _, tok := range Tokens(template) {
		v, ok := r.Resolve(tok)
		if !ok {
			continue
		}
		b.WriteString(v)
		b.WriteString(sep)
	}
	return b.String()
}

// Join is like Expand but without a trailing separator.
func Join(template string, r Resolver, sep string) string {
	return strings.TrimSuffix(Expand(template, r, sep), sep)
}
