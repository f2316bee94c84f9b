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

// ErrMessageNotFound is returned by Fetch when the UID is no longer present.
var ErrMessageNotFound = fmt.Errorf("message not found")

// MessageInfo describes one message as listed by a folder.
type MessageInfo struct {
	UID   uint32
	Size  int64
	Flags Flags
	// Ignore marks messages the sync algorithm must leave alone, like
	// maildir files sharing the same uid.
	Ignore bool
}

// Snapshot is the content of a folder at listing time. When FlagsKnown is
// false the listing skipped flags and every Flags field is empty.
type Snapshot struct {
	Messages   map[uint32]*MessageInfo
	FlagsKnown bool
}

func newSnapshot(flagsKnown bool) *Snapshot {
	return &Snapshot{Messages: make(map[uint32]*MessageInfo), FlagsKnown: flagsKnown}
}

func (s *Snapshot) Has(uid uint32) bool {
	_, ok := s.Messages[uid]
	return ok
}

// Repository is a mail store holding folders.
type Repository interface {
	Name() string
	// Separator is the folder hierarchy separator used in folder names.
	Separator() rune
	ListFolders(ctx context.Context) ([]string, error)
	HasFolder(name string) bool
	CreateFolder(ctx context.Context, name string) error
	DeleteFolder(ctx context.Context, name string) error
	OpenFolder(ctx context.Context, name string, readonly bool) (Folder, error)
	Close() error
}

// Folder is an opened folder of a Repository. A Folder is used by one
// goroutine at a time.
type Folder interface {
	Name() string
	// UIDValidity returns an opaque token that changes when the folder
	// uids are invalidated.
	UIDValidity(ctx context.Context) (string, error)
	ListMessages(ctx context.Context, quick bool) (*Snapshot, error)
	Fetch(ctx context.Context, uid uint32) ([]byte, Flags, error)
	Store(ctx context.Context, body []byte, flags Flags) (uint32, error)
	SetFlags(ctx context.Context, uid uint32, flags Flags) error
	// UpdateFlags adds and removes flags without reading the current ones,
	// leaving the other flags of the message as they are.
	UpdateFlags(ctx context.Context, uid uint32, add, remove Flags) error
	Delete(ctx context.Context, uid uint32) error
	Close() error
}

// UIDAssigner is implemented by folders handing out provisional uids to
// messages they cannot identify yet. AssignUID gives the message a
// permanent uid and returns it. Permanent uids are returned unchanged.
type UIDAssigner interface {
	AssignUID(ctx context.Context, uid uint32) (uint32, error)
}

// emptyFolder stands for a folder that doesn't exist yet during a dry run.
type emptyFolder struct {
	name string
}

func (f *emptyFolder) Name() string { return f.name }

func (f *emptyFolder) UIDValidity(ctx context.Context) (string, error) { return "", nil }

func (f *emptyFolder) ListMessages(ctx context.Context, quick bool) (*Snapshot, error) {
	return newSnapshot(!quick), nil
}

func (f *emptyFolder) Fetch(ctx context.Context, uid uint32) ([]byte, Flags, error) {
	return nil, "", ErrMessageNotFound
}

func (f *emptyFolder) Store(ctx context.Context, body []byte, flags Flags) (uint32, error) {
	return 0, fmt.Errorf("folder %s doesn't exist", f.name)
}

func (f *emptyFolder) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	return fmt.Errorf("folder %s doesn't exist", f.name)
}

func (f *emptyFolder) UpdateFlags(ctx context.Context, uid uint32, add, remove Flags) error {
	return fmt.Errorf("folder %s doesn't exist", f.name)
}

func (f *emptyFolder) Delete(ctx context.Context, uid uint32) error { return nil }

func (f *emptyFolder) Close() error { return nil }
