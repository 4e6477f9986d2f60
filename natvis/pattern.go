// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package natvis

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPattern is returned for a malformed type name or pattern.
var ErrPattern = errors.New("natvis: malformed type pattern")

// wildcard matches any single template argument.
const wildcard = "*"

// Pattern is a parsed generic type pattern such as
// "std::collections::hash::map::HashMap<*,*,*>".
type Pattern struct {
	base string
	args []string
}

// ParsePattern parses a type pattern. Template arguments are separated by
// top-level commas and may themselves be generic.
func ParsePattern(s string) (Pattern, error) {
	base, args, err := splitType(s)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{base: base, args: args}, nil
}

// String returns the pattern in the form accepted by ParsePattern.
func (p Pattern) String() string {
	if p.args == nil {
		return p.base
	}
	return p.base + "<" + strings.Join(p.args, ",") + ">"
}

// Match reports whether typeName is an instance of the pattern. On a match
// it returns the arguments bound to the wildcards, in order, which the rule
// refers to as $T1, $T2 and so on.
func (p Pattern) Match(typeName string) ([]string, bool) {
	base, args, err := splitType(typeName)
	if err != nil || base != p.base || len(args) != len(p.args) {
		return nil, false
	}
	var bound []string
	for i, a := range p.args {
		switch {
		case a == wildcard:
			bound = append(bound, args[i])
		case a != args[i]:
			return nil, false
		}
	}
	return bound, true
}

// splitType splits "base<a, b<c, d>>" into "base" and ["a", "b<c, d>"]. A
// name without template arguments yields nil args.
func splitType(s string) (base string, args []string, err error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '<')
	if open < 0 {
		if strings.ContainsAny(s, ">,") || s == "" {
			return "", nil, fmt.Errorf("%w: %q", ErrPattern, s)
		}
		return s, nil, nil
	}
	if !strings.HasSuffix(s, ">") || open == 0 {
		return "", nil, fmt.Errorf("%w: %q", ErrPattern, s)
	}
	base = s[:open]
	inner := s[open+1 : len(s)-1]

	depth, start := 0, 0
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '<', '(', '[':
			depth++
		case '>', ')', ']':
			depth--
			if depth < 0 {
				return "", nil, fmt.Errorf("%w: %q", ErrPattern, s)
			}
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(inner[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return "", nil, fmt.Errorf("%w: %q", ErrPattern, s)
	}
	args = append(args, strings.TrimSpace(inner[start:]))
	for _, a := range args {
		if a == "" {
			return "", nil, fmt.Errorf("%w: empty argument in %q", ErrPattern, s)
		}
	}
	return base, args, nil
}
