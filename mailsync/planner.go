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

	"github.com/Ronald1962/offlineimap3/config"
)

type OpKind int

const (
	CopyToLocal OpKind = iota
	CopyToRemote
	DeleteLocal
	DeleteRemote
	UpdateFlagsLocal
	UpdateFlagsRemote
	// Link records a checkpoint for two messages already in sync.
	Link
)

var opKindNames = map[OpKind]string{
	CopyToLocal:       "copy-to-local",
	CopyToRemote:      "copy-to-remote",
	DeleteLocal:       "delete-local",
	DeleteRemote:      "delete-remote",
	UpdateFlagsLocal:  "flags-local",
	UpdateFlagsRemote: "flags-remote",
	Link:              "link",
}

func (k OpKind) String() string {
	if s, ok := opKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(k))
}

// Op is one planned operation. Retire is the checkpoint removed before
// applying it, Record asks to store the resulting pair. A Delta flag update
// only applies the change from Base to Flags, for sides listed without
// flags.
type Op struct {
	Kind      OpKind
	LocalUID  uint32
	RemoteUID uint32
	Flags     Flags
	Base      Flags
	Delta     bool
	Size      int64
	Retire    *StatusEntry
	Record    bool
}

func (o Op) String() string {
	s := fmt.Sprintf("%s local %d remote %d", o.Kind, o.LocalUID, o.RemoteUID)
	if o.Kind == UpdateFlagsLocal || o.Kind == UpdateFlagsRemote || o.Kind == Link {
		s += " flags " + o.Flags.String()
	}
	if o.Delta {
		s += " from " + o.Base.String()
	}
	return s
}

type Policy struct {
	FlagConflict   string
	DeleteConflict string
}

func PolicyFromConfig(conf *config.AccountConfig) Policy {
	return Policy{FlagConflict: conf.FlagConflict, DeleteConflict: conf.DeleteConflict}
}

// Conflict describes a disagreement the planner resolved by policy.
type Conflict struct {
	LocalUID   uint32
	RemoteUID  uint32
	Resolution string
}

func (c Conflict) String() string {
	return fmt.Sprintf("local %d remote %d: %s", c.LocalUID, c.RemoteUID, c.Resolution)
}

// Plan turns a delta into operations: deletions first, then copies, flag
// updates and links.
func Plan(delta *Delta, localFlagsKnown, remoteFlagsKnown bool, policy Policy) ([]Op, []Conflict) {
	var deletes, copies, flags, links []Op
	var conflicts []Conflict

	for _, d := range delta.DeletedOnLocal {
		e := d.Entry
		if d.Modified(remoteFlagsKnown) {
			if policy.DeleteConflict == config.DeleteConflictResurrect {
				copies = append(copies, Op{Kind: CopyToLocal, RemoteUID: e.RemoteUID, Size: d.Survivor.Size, Retire: e, Record: true})
				conflicts = append(conflicts, Conflict{e.LocalUID, e.RemoteUID, "deleted locally and changed remotely, resurrected"})
				continue
			}
			conflicts = append(conflicts, Conflict{e.LocalUID, e.RemoteUID, "deleted locally and changed remotely, deleted"})
		}
		deletes = append(deletes, Op{Kind: DeleteRemote, LocalUID: e.LocalUID, RemoteUID: e.RemoteUID, Retire: e})
	}
	for _, d := range delta.DeletedOnRemote {
		e := d.Entry
		if d.Modified(localFlagsKnown) {
			if policy.DeleteConflict == config.DeleteConflictResurrect {
				copies = append(copies, Op{Kind: CopyToRemote, LocalUID: e.LocalUID, Size: d.Survivor.Size, Retire: e, Record: true})
				conflicts = append(conflicts, Conflict{e.LocalUID, e.RemoteUID, "deleted remotely and changed locally, resurrected"})
				continue
			}
			conflicts = append(conflicts, Conflict{e.LocalUID, e.RemoteUID, "deleted remotely and changed locally, deleted"})
		}
		deletes = append(deletes, Op{Kind: DeleteLocal, LocalUID: e.LocalUID, RemoteUID: e.RemoteUID, Retire: e})
	}
	for _, e := range delta.DeletedOnBoth {
		// Nothing left to delete, the checkpoint is retired.
		deletes = append(deletes, Op{Kind: DeleteRemote, LocalUID: e.LocalUID, RemoteUID: e.RemoteUID, Retire: e})
	}

	for _, m := range delta.NewOnRemote {
		copies = append(copies, Op{Kind: CopyToLocal, RemoteUID: m.UID, Size: m.Size, Record: true})
	}
	for _, m := range delta.NewOnLocal {
		copies = append(copies, Op{Kind: CopyToRemote, LocalUID: m.UID, Size: m.Size, Record: true})
	}

	for _, fc := range delta.FlagChanges {
		lu, ru := fc.Entry.LocalUID, fc.Entry.RemoteUID
		switch {
		case fc.LocalChanged && !fc.RemoteChanged:
			flags = append(flags, Op{Kind: UpdateFlagsRemote, LocalUID: lu, RemoteUID: ru, Flags: fc.Local.Flags,
				Base: fc.Entry.Flags, Delta: !remoteFlagsKnown, Record: true})
		case fc.RemoteChanged && !fc.LocalChanged:
			flags = append(flags, Op{Kind: UpdateFlagsLocal, LocalUID: lu, RemoteUID: ru, Flags: fc.Remote.Flags,
				Base: fc.Entry.Flags, Delta: !localFlagsKnown, Record: true})
		case fc.Local.Flags == fc.Remote.Flags:
			links = append(links, Op{Kind: Link, LocalUID: lu, RemoteUID: ru, Flags: fc.Local.Flags})
		default:
			ops, resolution := resolveFlags(lu, ru, fc.Local.Flags, fc.Remote.Flags, policy, true)
			flags = append(flags, ops...)
			conflicts = append(conflicts, Conflict{lu, ru, resolution})
		}
	}

	for _, p := range delta.Identical {
		target := p.LocalFlags
		if p.LocalFlags != p.RemoteFlags {
			var ops []Op
			var resolution string
			ops, resolution = resolveFlags(p.LocalUID, p.RemoteUID, p.LocalFlags, p.RemoteFlags, policy, false)
			flags = append(flags, ops...)
			target = ops[len(ops)-1].Flags
			conflicts = append(conflicts, Conflict{p.LocalUID, p.RemoteUID, "identical messages, " + resolution})
		}
		links = append(links, Op{Kind: Link, LocalUID: p.LocalUID, RemoteUID: p.RemoteUID, Flags: target})
	}

	ops := make([]Op, 0, len(deletes)+len(copies)+len(flags)+len(links))
	ops = append(ops, deletes...)
	ops = append(ops, copies...)
	ops = append(ops, flags...)
	ops = append(ops, links...)
	return ops, conflicts
}

// resolveFlags returns the updates making both sides carry the flags
// chosen by policy. When record is true the last update records the pair.
func resolveFlags(lu, ru uint32, local, remote Flags, policy Policy, record bool) ([]Op, string) {
	switch policy.FlagConflict {
	case config.FlagConflictLocalWins:
		return []Op{{Kind: UpdateFlagsRemote, LocalUID: lu, RemoteUID: ru, Flags: local, Record: record}},
			fmt.Sprintf("flags %s kept, remote %s replaced", local, remote)
	case config.FlagConflictUnion:
		u := local.Union(remote)
		var ops []Op
		if local != u {
			ops = append(ops, Op{Kind: UpdateFlagsLocal, LocalUID: lu, RemoteUID: ru, Flags: u})
		}
		if remote != u {
			ops = append(ops, Op{Kind: UpdateFlagsRemote, LocalUID: lu, RemoteUID: ru, Flags: u})
		}
		ops[len(ops)-1].Record = record
		return ops, fmt.Sprintf("flags %s and %s merged into %s", local, remote, u)
	}
	return []Op{{Kind: UpdateFlagsLocal, LocalUID: lu, RemoteUID: ru, Flags: remote, Record: record}},
		fmt.Sprintf("remote flags %s kept, local %s replaced", remote, local)
}
