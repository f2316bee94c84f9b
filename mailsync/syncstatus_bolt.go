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
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

const boltOpenTimeout = 5 * time.Second

var (
	boltValidityKey  = []byte("validity")
	boltLocalBucket  = []byte("local")
	boltRemoteBucket = []byte("remote")
)

// boltStatus keeps a bucket per remote repository holding a bucket per
// folder. A folder bucket maps local uids to remote uids and flags, with
// the reverse index in a second bucket.
type boltStatus struct {
	db       *bolt.DB
	readonly bool
	logger   *log.Logger
	e        *errors.Error
}

func boltError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, bolt.ErrInvalid), errors.Is(err, bolt.ErrChecksum), errors.Is(err, bolt.ErrVersionMismatch):
		return errors.Repository(err, true)
	}
	return errors.Repository(err, false)
}

func newBoltStatus(globalconfig *config.Config, account string, path string, readonly bool) (*boltStatus, error) {
	logprefix := fmt.Sprintf("status: %s", account)
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(logprefix)

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: boltOpenTimeout, ReadOnly: readonly})
	if err != nil {
		return nil, e.E(boltError(err))
	}
	logger.Debugf("opened %s", path)
	return &boltStatus{db: db, readonly: readonly, logger: logger, e: e}, nil
}

func uidKey(uid uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uid)
	return b
}

func (s *boltStatus) Partition(remote, folder string) (Partition, error) {
	return &boltPartition{s: s, remote: []byte(remote), folder: []byte(folder)}, nil
}

func (s *boltStatus) Partitions() ([]PartitionKey, error) {
	keys := make([]PartitionKey, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(remote []byte, rb *bolt.Bucket) error {
			return rb.ForEach(func(folder []byte, v []byte) error {
				if v == nil {
					keys = append(keys, PartitionKey{Remote: string(remote), Folder: string(folder)})
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, s.e.E(boltError(err))
	}
	sortPartitionKeys(keys)
	return keys, nil
}

func (s *boltStatus) DropPartition(remote, folder string) error {
	return s.update(func(tx *bolt.Tx) error {
		rb := tx.Bucket([]byte(remote))
		if rb == nil || rb.Bucket([]byte(folder)) == nil {
			return nil
		}
		return rb.DeleteBucket([]byte(folder))
	})
}

func (s *boltStatus) Close() error {
	return s.e.E(boltError(s.db.Close()))
}

func (s *boltStatus) update(fn func(tx *bolt.Tx) error) error {
	if s.readonly {
		return s.e.Errorf("status opened read only")
	}
	return s.e.E(boltError(s.db.Update(fn)))
}

type boltPartition struct {
	s      *boltStatus
	remote []byte
	folder []byte
}

func (p *boltPartition) bucket(tx *bolt.Tx) *bolt.Bucket {
	rb := tx.Bucket(p.remote)
	if rb == nil {
		return nil
	}
	return rb.Bucket(p.folder)
}

func (p *boltPartition) createBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	rb, err := tx.CreateBucketIfNotExists(p.remote)
	if err != nil {
		return nil, err
	}
	fb, err := rb.CreateBucketIfNotExists(p.folder)
	if err != nil {
		return nil, err
	}
	if _, err := fb.CreateBucketIfNotExists(boltLocalBucket); err != nil {
		return nil, err
	}
	if _, err := fb.CreateBucketIfNotExists(boltRemoteBucket); err != nil {
		return nil, err
	}
	return fb, nil
}

func (p *boltPartition) Validity() (local, remote string, ok bool, err error) {
	err = p.s.db.View(func(tx *bolt.Tx) error {
		fb := p.bucket(tx)
		if fb == nil {
			return nil
		}
		v := fb.Get(boltValidityKey)
		if v == nil {
			return nil
		}
		parts := bytes.SplitN(v, []byte{0}, 2)
		if len(parts) != 2 {
			return errors.Repository(fmt.Errorf("corrupted validity record %q", v), true)
		}
		local, remote, ok = string(parts[0]), string(parts[1]), true
		return nil
	})
	if err != nil {
		return "", "", false, p.s.e.E(boltError(err))
	}
	return
}

func (p *boltPartition) Entries() ([]*StatusEntry, error) {
	entries := make([]*StatusEntry, 0)
	err := p.s.db.View(func(tx *bolt.Tx) error {
		fb := p.bucket(tx)
		if fb == nil {
			return nil
		}
		lb := fb.Bucket(boltLocalBucket)
		if lb == nil {
			return nil
		}
		return lb.ForEach(func(k, v []byte) error {
			if len(k) != 4 || len(v) < 4 {
				return errors.Repository(fmt.Errorf("corrupted status entry %x: %x", k, v), true)
			}
			entries = append(entries, &StatusEntry{
				LocalUID:  binary.BigEndian.Uint32(k),
				RemoteUID: binary.BigEndian.Uint32(v[:4]),
				Flags:     ParseFlags(string(v[4:])),
			})
			return nil
		})
	})
	if err != nil {
		return nil, p.s.e.E(boltError(err))
	}
	return entries, nil
}

func (p *boltPartition) Put(e *StatusEntry) error {
	return p.s.update(func(tx *bolt.Tx) error {
		fb, err := p.createBucket(tx)
		if err != nil {
			return err
		}
		lb := fb.Bucket(boltLocalBucket)
		rb := fb.Bucket(boltRemoteBucket)

		lkey, rkey := uidKey(e.LocalUID), uidKey(e.RemoteUID)
		if v := lb.Get(lkey); len(v) >= 4 {
			if err := rb.Delete(append([]byte(nil), v[:4]...)); err != nil {
				return err
			}
		}
		if v := rb.Get(rkey); len(v) == 4 {
			if err := lb.Delete(append([]byte(nil), v...)); err != nil {
				return err
			}
		}
		value := append(uidKey(e.RemoteUID), []byte(e.Flags)...)
		if err := lb.Put(lkey, value); err != nil {
			return err
		}
		return rb.Put(rkey, lkey)
	})
}

func (p *boltPartition) Delete(e *StatusEntry) error {
	return p.s.update(func(tx *bolt.Tx) error {
		fb := p.bucket(tx)
		if fb == nil {
			return nil
		}
		lb := fb.Bucket(boltLocalBucket)
		rb := fb.Bucket(boltRemoteBucket)
		lkey := uidKey(e.LocalUID)
		v := lb.Get(lkey)
		if len(v) < 4 || binary.BigEndian.Uint32(v[:4]) != e.RemoteUID {
			return nil
		}
		if err := lb.Delete(lkey); err != nil {
			return err
		}
		return rb.Delete(uidKey(e.RemoteUID))
	})
}

func (p *boltPartition) Reset(localValidity, remoteValidity string) error {
	return p.s.update(func(tx *bolt.Tx) error {
		rb, err := tx.CreateBucketIfNotExists(p.remote)
		if err != nil {
			return err
		}
		if rb.Bucket(p.folder) != nil {
			if err := rb.DeleteBucket(p.folder); err != nil {
				return err
			}
		}
		fb, err := p.createBucket(tx)
		if err != nil {
			return err
		}
		return fb.Put(boltValidityKey, []byte(localValidity+"\x00"+remoteValidity))
	})
}
