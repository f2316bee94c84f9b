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
	"context"
	"testing"
)

func snapshotOf(flagsKnown bool, messages ...*MessageInfo) *Snapshot {
	s := newSnapshot(flagsKnown)
	for _, m := range messages {
		s.Messages[m.UID] = m
	}
	return s
}

func uidsOf(messages []*MessageInfo) []uint32 {
	uids := make([]uint32, 0, len(messages))
	for _, m := range messages {
		uids = append(uids, m.UID)
	}
	return uids
}

func TestDetectChanges(t *testing.T) {
	baseline := &Baseline{
		LocalValidity:  "lv",
		RemoteValidity: "rv",
		Recorded:       true,
		Entries: []*StatusEntry{
			{LocalUID: 1, RemoteUID: 10, Flags: "S"},
			{LocalUID: 2, RemoteUID: 20, Flags: ""},
			{LocalUID: 3, RemoteUID: 30, Flags: "S"},
			{LocalUID: 4, RemoteUID: 40, Flags: ""},
			{LocalUID: 5, RemoteUID: 50, Flags: "F"},
		},
	}
	local := snapshotOf(true,
		&MessageInfo{UID: 1, Flags: "S"},
		&MessageInfo{UID: 3, Flags: "FS"},
		&MessageInfo{UID: 4},
		&MessageInfo{UID: 6, Size: 100},
		&MessageInfo{UID: 7, Ignore: true},
	)
	remote := snapshotOf(true,
		&MessageInfo{UID: 10, Flags: "S"},
		&MessageInfo{UID: 20, Flags: "S"},
		&MessageInfo{UID: 30, Flags: "S"},
		&MessageInfo{UID: 60, Size: 200},
		&MessageInfo{UID: 61, Size: 300},
	)

	delta := DetectChanges(local, remote, baseline, "lv", "rv")
	if delta.Reset {
		t.Fatalf("unexpected reset")
	}
	if uids := uidsOf(delta.NewOnLocal); len(uids) != 1 || uids[0] != 6 {
		t.Fatalf("expected new on local [6], found %v", uids)
	}
	if uids := uidsOf(delta.NewOnRemote); len(uids) != 2 || uids[0] != 60 || uids[1] != 61 {
		t.Fatalf("expected new on remote [60 61], found %v", uids)
	}
	if len(delta.DeletedOnLocal) != 1 || delta.DeletedOnLocal[0].Entry.LocalUID != 2 {
		t.Fatalf("expected local 2 deleted on local, found %v", delta.DeletedOnLocal)
	}
	if !delta.DeletedOnLocal[0].Modified(true) {
		t.Fatalf("expected survivor with changed flags")
	}
	if delta.DeletedOnLocal[0].Modified(false) {
		t.Fatalf("expected unknown flags not to count as modified")
	}
	if len(delta.DeletedOnRemote) != 1 || delta.DeletedOnRemote[0].Entry.LocalUID != 4 {
		t.Fatalf("expected local 4 deleted on remote, found %v", delta.DeletedOnRemote)
	}
	if delta.DeletedOnRemote[0].Modified(true) {
		t.Fatalf("expected unmodified survivor")
	}
	if len(delta.DeletedOnBoth) != 1 || delta.DeletedOnBoth[0].LocalUID != 5 {
		t.Fatalf("expected local 5 deleted on both sides, found %v", delta.DeletedOnBoth)
	}
	if len(delta.FlagChanges) != 1 {
		t.Fatalf("expected one flag change, found %d", len(delta.FlagChanges))
	}
	fc := delta.FlagChanges[0]
	if fc.Entry.LocalUID != 3 || !fc.LocalChanged || fc.RemoteChanged {
		t.Fatalf("unexpected flag change %#v", fc)
	}
}

func TestDetectChangesUnknownFlags(t *testing.T) {
	baseline := &Baseline{
		LocalValidity:  "lv",
		RemoteValidity: "rv",
		Recorded:       true,
		Entries:        []*StatusEntry{{LocalUID: 1, RemoteUID: 10, Flags: "S"}},
	}
	local := snapshotOf(true, &MessageInfo{UID: 1, Flags: "S"})
	// A quick listing carries no flags.
	remote := snapshotOf(false, &MessageInfo{UID: 10})

	delta := DetectChanges(local, remote, baseline, "lv", "rv")
	if !delta.Empty() {
		t.Fatalf("expected an empty delta, found %#v", delta)
	}
}

func TestDetectChangesValidityReset(t *testing.T) {
	baseline := &Baseline{
		LocalValidity:  "lv",
		RemoteValidity: "rv",
		Recorded:       true,
		Entries:        []*StatusEntry{{LocalUID: 1, RemoteUID: 10, Flags: "S"}},
	}
	local := snapshotOf(true, &MessageInfo{UID: 1, Flags: "S"})
	remote := snapshotOf(true, &MessageInfo{UID: 1, Flags: "S"})

	delta := DetectChanges(local, remote, baseline, "lv", "rv2")
	if !delta.Reset {
		t.Fatalf("expected a reset")
	}
	if len(delta.NewOnLocal) != 1 || len(delta.NewOnRemote) != 1 {
		t.Fatalf("expected every message new, found %d local and %d remote", len(delta.NewOnLocal), len(delta.NewOnRemote))
	}
	if len(delta.DeletedOnLocal)+len(delta.DeletedOnRemote)+len(delta.DeletedOnBoth)+len(delta.FlagChanges) != 0 {
		t.Fatalf("expected no deletions nor flag changes, found %#v", delta)
	}

	// A folder pair never synchronized has nothing to reset.
	delta = DetectChanges(local, remote, &Baseline{}, "lv", "rv")
	if delta.Reset {
		t.Fatalf("unexpected reset")
	}
}

func TestMatchIdentical(t *testing.T) {
	ctx := context.Background()
	lf := newMemFolder("INBOX")
	rf := newMemFolder("INBOX")

	lsame := lf.add("same message", "S")
	lonly := lf.add("only local", "")
	rf.add("diff message", "")
	rsame := rf.add("same message", "")
	rother := rf.add("a remote message of another size", "F")

	lsnap, _ := lf.ListMessages(ctx, false)
	rsnap, _ := rf.ListMessages(ctx, true)
	delta := DetectChanges(lsnap, rsnap, &Baseline{}, "1", "1")
	if err := MatchIdentical(ctx, lf, rf, delta); err != nil {
		t.Fatal(err)
	}

	if len(delta.Identical) != 1 {
		t.Fatalf("expected one identical pair, found %v", delta.Identical)
	}
	p := delta.Identical[0]
	if p.LocalUID != lsame || p.RemoteUID != rsame || p.LocalFlags != "S" || p.RemoteFlags != "" {
		t.Fatalf("unexpected identical pair %#v", p)
	}
	if uids := uidsOf(delta.NewOnLocal); len(uids) != 1 || uids[0] != lonly {
		t.Fatalf("expected new on local [%d], found %v", lonly, uids)
	}
	if uids := uidsOf(delta.NewOnRemote); len(uids) != 2 || uids[1] != rother {
		t.Fatalf("expected two new on remote ending with %d, found %v", rother, uids)
	}
}
