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
	"fmt"
)

// memFolder is an in memory Folder. Mutating calls fail once failAfter
// reaches zero. With lossy set a failing Store still stores the message,
// like an append whose answer was lost.
type memFolder struct {
	name      string
	validity  string
	nextUID   uint32
	bodies    map[uint32][]byte
	flags     map[uint32]Flags
	failAfter int
	lossy     bool
	calls     int
}

func newMemFolder(name string) *memFolder {
	return &memFolder{
		name:      name,
		validity:  "1",
		nextUID:   1,
		bodies:    make(map[uint32][]byte),
		flags:     make(map[uint32]Flags),
		failAfter: -1,
	}
}

func (f *memFolder) add(body string, flags Flags) uint32 {
	uid := f.nextUID
	f.nextUID++
	f.bodies[uid] = []byte(body)
	f.flags[uid] = flags
	return uid
}

func (f *memFolder) mutate() error {
	f.calls++
	if f.failAfter == 0 {
		return fmt.Errorf("connection lost")
	}
	if f.failAfter > 0 {
		f.failAfter--
	}
	return nil
}

func (f *memFolder) Name() string { return f.name }

func (f *memFolder) UIDValidity(ctx context.Context) (string, error) { return f.validity, nil }

func (f *memFolder) ListMessages(ctx context.Context, quick bool) (*Snapshot, error) {
	s := newSnapshot(!quick)
	for uid, body := range f.bodies {
		m := &MessageInfo{UID: uid, Size: int64(len(body))}
		if !quick {
			m.Flags = f.flags[uid]
		}
		s.Messages[uid] = m
	}
	return s, nil
}

func (f *memFolder) Fetch(ctx context.Context, uid uint32) ([]byte, Flags, error) {
	body, ok := f.bodies[uid]
	if !ok {
		return nil, "", fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}
	return body, f.flags[uid], nil
}

func (f *memFolder) Store(ctx context.Context, body []byte, flags Flags) (uint32, error) {
	if err := f.mutate(); err != nil {
		if f.lossy {
			f.add(string(body), flags)
		}
		return 0, err
	}
	return f.add(string(body), flags), nil
}

func (f *memFolder) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	if err := f.mutate(); err != nil {
		return err
	}
	if _, ok := f.bodies[uid]; !ok {
		return fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}
	f.flags[uid] = flags
	return nil
}

func (f *memFolder) UpdateFlags(ctx context.Context, uid uint32, add, remove Flags) error {
	if err := f.mutate(); err != nil {
		return err
	}
	if _, ok := f.bodies[uid]; !ok {
		return fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound)
	}
	f.flags[uid] = f.flags[uid].Apply(add, remove)
	return nil
}

func (f *memFolder) Delete(ctx context.Context, uid uint32) error {
	if err := f.mutate(); err != nil {
		return err
	}
	delete(f.bodies, uid)
	delete(f.flags, uid)
	return nil
}

func (f *memFolder) Close() error { return nil }

// contents returns the folder messages as body -> flags.
func (f *memFolder) contents() map[string]Flags {
	c := make(map[string]Flags)
	for uid, body := range f.bodies {
		c[string(body)] = f.flags[uid]
	}
	return c
}
