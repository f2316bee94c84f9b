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
	"sort"
	"strings"
)

// Flags is a set of synchronized flags as sorted maildir flag letters.
// Only D (draft), F (flagged), R (replied) and S (seen) are synchronized.
// T (trashed) marks a deleted message and never appears in Flags.
type Flags string

const syncedFlags = "DFRS"

type runeSlice []rune

func (s runeSlice) Len() int           { return len(s) }
func (s runeSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s runeSlice) Less(i, j int) bool { return s[i] < s[j] }

// CleanFlags returns the sorted and deduplicated letters of flags.
func CleanFlags(flags string) string {
	flagsmap := make(map[rune]bool)
	for _, flag := range flags {
		flagsmap[flag] = true
	}

	var outflags runeSlice
	for flag := range flagsmap {
		outflags = append(outflags, flag)
	}

	sort.Sort(outflags)
	return string(outflags)
}

// ParseFlags keeps the synchronized letters of a maildir flag string.
func ParseFlags(s string) Flags {
	var b strings.Builder
	for _, r := range CleanFlags(s) {
		if strings.ContainsRune(syncedFlags, r) {
			b.WriteRune(r)
		}
	}
	return Flags(b.String())
}

func (f Flags) Has(flag rune) bool {
	return strings.ContainsRune(string(f), flag)
}

func (f Flags) Union(o Flags) Flags {
	return ParseFlags(string(f) + string(o))
}

// Apply returns f with add set and remove cleared.
func (f Flags) Apply(add, remove Flags) Flags {
	var b strings.Builder
	for _, c := range f.Union(add) {
		if !remove.Has(c) {
			b.WriteRune(c)
		}
	}
	return Flags(b.String())
}

// Diff returns the flags to add and to remove to go from f to o.
func (f Flags) Diff(o Flags) (add Flags, remove Flags) {
	var a, r strings.Builder
	for _, c := range o {
		if !f.Has(c) {
			a.WriteRune(c)
		}
	}
	for _, c := range f {
		if !o.Has(c) {
			r.WriteRune(c)
		}
	}
	return Flags(a.String()), Flags(r.String())
}

func (f Flags) String() string {
	if f == "" {
		return "-"
	}
	return string(f)
}

// unsyncedFlags returns the letters of flags that are not synchronized,
// T excluded.
func unsyncedFlags(flags string) string {
	var b strings.Builder
	for _, r := range CleanFlags(flags) {
		if r != 'T' && !strings.ContainsRune(syncedFlags, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

type uint32Slice []uint32

func (p uint32Slice) Len() int           { return len(p) }
func (p uint32Slice) Less(i, j int) bool { return p[i] < p[j] }
func (p uint32Slice) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }

// sortedUIDs returns the uids of messages in ascending order.
func sortedUIDs(messages map[uint32]*MessageInfo) []uint32 {
	uids := make([]uint32, 0, len(messages))
	for uid := range messages {
		uids = append(uids, uid)
	}
	sort.Sort(uint32Slice(uids))
	return uids
}
