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
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/Ronald1962/offlineimap3/errors"
)

// Baseline is the checkpoint of a folder pair as read from its partition.
type Baseline struct {
	LocalValidity  string
	RemoteValidity string
	// Recorded is false when the folder pair was never synchronized.
	Recorded bool
	Entries  []*StatusEntry
}

// DeletedMessage is a linked message gone from one side. Survivor is the
// message still present on the other side.
type DeletedMessage struct {
	Entry    *StatusEntry
	Survivor *MessageInfo
}

type FlagChange struct {
	Entry         *StatusEntry
	Local         *MessageInfo
	Remote        *MessageInfo
	LocalChanged  bool
	RemoteChanged bool
}

// IdenticalPair is a local and a remote message, both unlinked, with the
// same content. Flags are the ones read while comparing them.
type IdenticalPair struct {
	LocalUID    uint32
	RemoteUID   uint32
	LocalFlags  Flags
	RemoteFlags Flags
}

// Delta is the difference between the two sides of a folder pair and its
// checkpoint.
type Delta struct {
	// Reset is true when a uid validity changed and the checkpoint was
	// discarded.
	Reset           bool
	NewOnLocal      []*MessageInfo
	NewOnRemote     []*MessageInfo
	DeletedOnLocal  []DeletedMessage
	DeletedOnRemote []DeletedMessage
	DeletedOnBoth   []*StatusEntry
	FlagChanges     []FlagChange
	Identical       []IdenticalPair
}

func (d *Delta) Empty() bool {
	return len(d.NewOnLocal) == 0 && len(d.NewOnRemote) == 0 &&
		len(d.DeletedOnLocal) == 0 && len(d.DeletedOnRemote) == 0 &&
		len(d.DeletedOnBoth) == 0 && len(d.FlagChanges) == 0 && len(d.Identical) == 0
}

// DetectChanges compares the listings of both sides with the checkpoint.
// When a validity token differs from the recorded one every message is new.
func DetectChanges(local, remote *Snapshot, baseline *Baseline, localValidity, remoteValidity string) *Delta {
	delta := &Delta{}
	entries := baseline.Entries
	if baseline.Recorded && (baseline.LocalValidity != localValidity || baseline.RemoteValidity != remoteValidity) {
		delta.Reset = true
		entries = nil
	}

	linkedLocal := make(map[uint32]bool, len(entries))
	linkedRemote := make(map[uint32]bool, len(entries))
	for _, e := range entries {
		if linkedLocal[e.LocalUID] || linkedRemote[e.RemoteUID] {
			continue
		}
		linkedLocal[e.LocalUID] = true
		linkedRemote[e.RemoteUID] = true

		lm, lok := local.Messages[e.LocalUID]
		rm, rok := remote.Messages[e.RemoteUID]
		if (lok && lm.Ignore) || (rok && rm.Ignore) {
			continue
		}
		switch {
		case !lok && !rok:
			delta.DeletedOnBoth = append(delta.DeletedOnBoth, e)
		case !lok:
			delta.DeletedOnLocal = append(delta.DeletedOnLocal, DeletedMessage{Entry: e, Survivor: rm})
		case !rok:
			delta.DeletedOnRemote = append(delta.DeletedOnRemote, DeletedMessage{Entry: e, Survivor: lm})
		default:
			fc := FlagChange{
				Entry:         e,
				Local:         lm,
				Remote:        rm,
				LocalChanged:  local.FlagsKnown && lm.Flags != e.Flags,
				RemoteChanged: remote.FlagsKnown && rm.Flags != e.Flags,
			}
			if fc.LocalChanged || fc.RemoteChanged {
				delta.FlagChanges = append(delta.FlagChanges, fc)
			}
		}
	}

	for _, uid := range sortedUIDs(local.Messages) {
		if m := local.Messages[uid]; !linkedLocal[uid] && !m.Ignore {
			delta.NewOnLocal = append(delta.NewOnLocal, m)
		}
	}
	for _, uid := range sortedUIDs(remote.Messages) {
		if m := remote.Messages[uid]; !linkedRemote[uid] && !m.Ignore {
			delta.NewOnRemote = append(delta.NewOnRemote, m)
		}
	}
	return delta
}

// Modified reports whether the survivor of a deletion changed its flags
// since the last synchronization.
func (d DeletedMessage) Modified(flagsKnown bool) bool {
	return flagsKnown && d.Survivor.Flags != d.Entry.Flags
}

type hashedMessage struct {
	uid   uint32
	hash  uint64
	flags Flags
}

func hashMessages(ctx context.Context, folder Folder, messages []*MessageInfo) ([]hashedMessage, error) {
	hashed := make([]hashedMessage, 0, len(messages))
	for _, m := range messages {
		body, flags, err := folder.Fetch(ctx, m.UID)
		if errors.Is(err, ErrMessageNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		hashed = append(hashed, hashedMessage{uid: m.UID, hash: xxhash.Sum64(body), flags: flags})
	}
	return hashed, nil
}

// MatchIdentical moves the messages new on both sides that have the same
// content from the new lists to delta.Identical. Only messages with a
// size found on both sides are fetched.
func MatchIdentical(ctx context.Context, local, remote Folder, delta *Delta) error {
	if len(delta.NewOnLocal) == 0 || len(delta.NewOnRemote) == 0 {
		return nil
	}
	localBySize := make(map[int64][]*MessageInfo)
	for _, m := range delta.NewOnLocal {
		localBySize[m.Size] = append(localBySize[m.Size], m)
	}
	remoteBySize := make(map[int64][]*MessageInfo)
	for _, m := range delta.NewOnRemote {
		if _, ok := localBySize[m.Size]; ok {
			remoteBySize[m.Size] = append(remoteBySize[m.Size], m)
		}
	}
	if len(remoteBySize) == 0 {
		return nil
	}

	sizes := make([]int64, 0, len(remoteBySize))
	for size := range remoteBySize {
		sizes = append(sizes, size)
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })

	pairedLocal := make(map[uint32]bool)
	pairedRemote := make(map[uint32]bool)
	for _, size := range sizes {
		if err := ctx.Err(); err != nil {
			return err
		}
		lh, err := hashMessages(ctx, local, localBySize[size])
		if err != nil {
			return err
		}
		rh, err := hashMessages(ctx, remote, remoteBySize[size])
		if err != nil {
			return err
		}
		for _, r := range rh {
			for _, l := range lh {
				if pairedLocal[l.uid] || l.hash != r.hash {
					continue
				}
				pairedLocal[l.uid] = true
				pairedRemote[r.uid] = true
				delta.Identical = append(delta.Identical, IdenticalPair{
					LocalUID:    l.uid,
					RemoteUID:   r.uid,
					LocalFlags:  l.flags,
					RemoteFlags: r.flags,
				})
				break
			}
		}
	}
	if len(delta.Identical) == 0 {
		return nil
	}

	delta.NewOnLocal = removePaired(delta.NewOnLocal, pairedLocal)
	delta.NewOnRemote = removePaired(delta.NewOnRemote, pairedRemote)
	sort.Slice(delta.Identical, func(i, j int) bool { return delta.Identical[i].LocalUID < delta.Identical[j].LocalUID })
	return nil
}

func removePaired(messages []*MessageInfo, paired map[uint32]bool) []*MessageInfo {
	out := messages[:0]
	for _, m := range messages {
		if !paired[m.UID] {
			out = append(out, m)
		}
	}
	return out
}
