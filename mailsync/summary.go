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
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/rs/xid"

	"github.com/Ronald1962/offlineimap3/errors"
)

type AccountState int

const (
	Idle AccountState = iota
	Listing
	SyncingFolders
	Error
)

func (s AccountState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listing:
		return "listing"
	case SyncingFolders:
		return "syncing"
	case Error:
		return "error"
	}
	return "unknown"
}

type FolderResult struct {
	Remote         string
	Folder         string
	RemoteFolder   string
	Reset          bool
	CopiedToLocal  int
	CopiedToRemote int
	DeletedLocal   int
	DeletedRemote  int
	FlagsLocal     int
	FlagsRemote    int
	Linked         int
	Bytes          int64
	Planned        []Op
	Conflicts      []Conflict
	Err            error
}

type AccountResult struct {
	Name     string
	State    AccountState
	Err      error
	Folders  []*FolderResult
	Duration time.Duration
}

// FailedFolders returns the number of folders that ended with an error.
func (a *AccountResult) FailedFolders() int {
	n := 0
	for _, f := range a.Folders {
		if f.Err != nil {
			n++
		}
	}
	return n
}

type PassResult struct {
	ID       xid.ID
	Start    time.Time
	Duration time.Duration
	DryRun   bool
	Accounts []*AccountResult
}

func newPassResult(dryrun bool) *PassResult {
	return &PassResult{ID: xid.New(), Start: time.Now(), DryRun: dryrun}
}

// Failed reports whether an account ended the pass in Error.
func (p *PassResult) Failed() bool {
	for _, a := range p.Accounts {
		if a.State == Error {
			return true
		}
	}
	return false
}

func (p *PassResult) WriteSummary(w io.Writer) {
	mode := ""
	if p.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "Pass %s%s, %s, %s\n", p.ID, mode, humanize.Time(p.Start), p.Duration.Round(time.Millisecond))
	for _, a := range p.Accounts {
		fmt.Fprintf(w, "Account %s: %s", a.Name, a.State)
		if a.Err != nil {
			fmt.Fprintf(w, " (%s: %s)", errors.KindOf(a.Err), a.Err)
		}
		fmt.Fprintf(w, ", %d folders, %d failed\n", len(a.Folders), a.FailedFolders())
		for _, f := range a.Folders {
			fmt.Fprintf(w, "\t%s %s <-> %s:", f.Remote, f.Folder, f.RemoteFolder)
			if p.DryRun {
				fmt.Fprintf(w, " %d planned", len(f.Planned))
			}
			fmt.Fprintf(w, " copied %d/%d, deleted %d/%d, flags %d/%d, linked %d, %s",
				f.CopiedToLocal, f.CopiedToRemote, f.DeletedLocal, f.DeletedRemote,
				f.FlagsLocal, f.FlagsRemote, f.Linked, humanize.Bytes(uint64(f.Bytes)))
			if len(f.Conflicts) > 0 {
				fmt.Fprintf(w, ", %s", english.Plural(len(f.Conflicts), "conflict", "conflicts"))
			}
			if f.Reset {
				fmt.Fprintf(w, ", uid validity reset")
			}
			if f.Err != nil {
				fmt.Fprintf(w, ", error: %s", f.Err)
			}
			fmt.Fprintln(w)
		}
	}
}
