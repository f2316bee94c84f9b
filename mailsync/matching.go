// GOMailSync
// Copyright (C) 2014 Simone Gotti <simone.gotti@gmail.com>
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package mailsync

import (
	"fmt"
	"regexp"
	"strings"
)

type RegexpPattern struct {
	not bool
	re  *regexp.Regexp
}

func RegexpFromPattern(pattern string) (rp *RegexpPattern, err error) {
	if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "!/") {
		return nil, fmt.Errorf("pattern doesn't starts with \"/\" or \"!/\"")
	}

	if len(strings.TrimPrefix(pattern, "!")) < 2 || !strings.HasSuffix(pattern, "/") {
		return nil, fmt.Errorf("pattern doesn't ends with \"/\"")
	}

	res := pattern
	not := false
	if strings.HasPrefix(res, "!") {
		not = true
		res = strings.TrimPrefix(res, "!")
	}
	res = strings.TrimSuffix(strings.TrimPrefix(res, "/"), "/")

	re, err := regexp.Compile(res)
	if err != nil {
		return nil, fmt.Errorf("re: \"%s\" wrong regexp: %s", res, err)
	}

	rp = &RegexpPattern{not: not, re: re}

	return rp, nil
}

// FolderFilter decides which folders of a repository are synchronized.
// Patterns are evaluated in order and the last matching one wins. An
// include pattern makes every folder it doesn't match excluded by default.
type FolderFilter struct {
	patterns []*RegexpPattern
}

func NewFolderFilter(patterns []string) (*FolderFilter, error) {
	f := &FolderFilter{}
	for _, p := range patterns {
		rp, err := RegexpFromPattern(p)
		if err != nil {
			return nil, err
		}
		f.patterns = append(f.patterns, rp)
	}
	return f, nil
}

func (f *FolderFilter) Match(name string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	included := true
	for _, p := range f.patterns {
		if !p.not {
			included = false
			break
		}
	}
	for _, p := range f.patterns {
		if p.re.MatchString(name) {
			included = !p.not
		}
	}
	return included
}
