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

package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// ApplyOverrides applies command line overrides of the form
// [section:]option=value. Section is "general" (the default),
// "account <name>" or "repository <name>". The value is a TOML literal;
// a bare word is taken as a string.
func ApplyOverrides(conf *Config, overrides []string) error {
	for _, o := range overrides {
		if err := applyOverride(conf, o); err != nil {
			return fmt.Errorf("override %q: %s", o, err)
		}
	}
	return nil
}

func applyOverride(conf *Config, o string) error {
	section := "general"
	assignment := o
	if i := strings.Index(o, ":"); i >= 0 && i < strings.Index(o, "=") {
		section = strings.TrimSpace(o[:i])
		assignment = o[i+1:]
	}
	i := strings.Index(assignment, "=")
	if i <= 0 {
		return fmt.Errorf("expected option=value")
	}
	option := strings.TrimSpace(assignment[:i])
	value := strings.TrimSpace(assignment[i+1:])

	var target interface{}
	switch {
	case section == "general":
		target = conf
	case strings.HasPrefix(section, "account "):
		name := strings.TrimSpace(strings.TrimPrefix(section, "account "))
		a := conf.Account(name)
		if a == nil {
			return fmt.Errorf("unknown account %q", name)
		}
		target = a
	case strings.HasPrefix(section, "repository "):
		name := strings.TrimSpace(strings.TrimPrefix(section, "repository "))
		r := conf.Repository(name)
		if r == nil {
			return fmt.Errorf("unknown repository %q", name)
		}
		target = r
	default:
		return fmt.Errorf("unknown section %q", section)
	}

	md, err := toml.Decode(option+" = "+value, target)
	if err != nil {
		md, err = toml.Decode(option+" = "+strconv.Quote(value), target)
		if err != nil {
			return err
		}
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown option %q", option)
	}
	return nil
}
