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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Ronald1962/offlineimap3/config"
)

// StatusEntry links a local message to a remote one with the flags they
// had when last synchronized.
type StatusEntry struct {
	LocalUID  uint32
	RemoteUID uint32
	Flags     Flags
}

func (e *StatusEntry) String() string {
	return fmt.Sprintf("%d<->%d %s", e.LocalUID, e.RemoteUID, e.Flags)
}

type PartitionKey struct {
	Remote string
	Folder string
}

// StatusStore holds the checkpoints of one account, partitioned by remote
// repository and remote folder. A partition is used by one worker at a
// time.
type StatusStore interface {
	Partition(remote, folder string) (Partition, error)
	Partitions() ([]PartitionKey, error)
	DropPartition(remote, folder string) error
	Close() error
}

// Partition is the checkpoint set of one folder pair. Every write is
// durable when it returns.
type Partition interface {
	// Validity returns the uid validity tokens the entries refer to. ok is
	// false when the folder pair was never synchronized.
	Validity() (local, remote string, ok bool, err error)
	Entries() ([]*StatusEntry, error)
	// Put records e, replacing the entries using its local or remote uid.
	Put(e *StatusEntry) error
	Delete(e *StatusEntry) error
	// Reset discards every entry and records new validity tokens.
	Reset(localValidity, remoteValidity string) error
}

func statusPath(globalconfig *config.Config, account string, ext string) string {
	name := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(account)
	return filepath.Join(globalconfig.Metadatadir, "status", name+ext)
}

// OpenStatusStore opens the checkpoint store of account with the configured
// backend. A read only store of an account without one is kept in memory.
func OpenStatusStore(globalconfig *config.Config, account string, readonly bool) (StatusStore, error) {
	var path string
	switch globalconfig.StatusBackend {
	case config.StatusBackendBolt:
		path = statusPath(globalconfig, account, ".bolt")
	default:
		path = statusPath(globalconfig, account, ".db")
	}
	if readonly {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return newMemStatus(), nil
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, maildirError(err)
		}
	}

	switch globalconfig.StatusBackend {
	case config.StatusBackendBolt:
		return newBoltStatus(globalconfig, account, path, readonly)
	default:
		return newSqliteStatus(globalconfig, account, path, readonly)
	}
}

type memStatus struct {
	sync.Mutex
	partitions map[PartitionKey]*memPartition
}

func newMemStatus() *memStatus {
	return &memStatus{partitions: make(map[PartitionKey]*memPartition)}
}

func (s *memStatus) Partition(remote, folder string) (Partition, error) {
	s.Lock()
	defer s.Unlock()
	key := PartitionKey{remote, folder}
	p, ok := s.partitions[key]
	if !ok {
		p = &memPartition{entries: make(map[uint32]StatusEntry)}
		s.partitions[key] = p
	}
	return p, nil
}

func (s *memStatus) Partitions() ([]PartitionKey, error) {
	s.Lock()
	defer s.Unlock()
	keys := make([]PartitionKey, 0, len(s.partitions))
	for k, p := range s.partitions {
		if p.ok || len(p.entries) > 0 {
			keys = append(keys, k)
		}
	}
	sortPartitionKeys(keys)
	return keys, nil
}

func (s *memStatus) DropPartition(remote, folder string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.partitions, PartitionKey{remote, folder})
	return nil
}

func (s *memStatus) Close() error {
	return nil
}

type memPartition struct {
	localValidity  string
	remoteValidity string
	ok             bool
	// keyed by local uid
	entries map[uint32]StatusEntry
}

func (p *memPartition) Validity() (string, string, bool, error) {
	return p.localValidity, p.remoteValidity, p.ok, nil
}

func (p *memPartition) Entries() ([]*StatusEntry, error) {
	entries := make([]*StatusEntry, 0, len(p.entries))
	for _, e := range p.entries {
		e := e
		entries = append(entries, &e)
	}
	sortEntries(entries)
	return entries, nil
}

func (p *memPartition) Put(e *StatusEntry) error {
	for luid, o := range p.entries {
		if o.RemoteUID == e.RemoteUID {
			delete(p.entries, luid)
		}
	}
	p.entries[e.LocalUID] = *e
	return nil
}

func (p *memPartition) Delete(e *StatusEntry) error {
	if o, ok := p.entries[e.LocalUID]; ok && o.RemoteUID == e.RemoteUID {
		delete(p.entries, e.LocalUID)
	}
	return nil
}

func (p *memPartition) Reset(localValidity, remoteValidity string) error {
	p.entries = make(map[uint32]StatusEntry)
	p.localValidity = localValidity
	p.remoteValidity = remoteValidity
	p.ok = true
	return nil
}

func sortEntries(entries []*StatusEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].LocalUID < entries[j].LocalUID })
}

func sortPartitionKeys(keys []PartitionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Remote != keys[j].Remote {
			return keys[i].Remote < keys[j].Remote
		}
		return keys[i].Folder < keys[j].Folder
	})
}
