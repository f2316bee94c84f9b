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
	"database/sql"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

const sqliteSchema = `
create table if not exists folders (remote text not null, folder text not null, localvalidity text not null, remotevalidity text not null, primary key (remote, folder));
create table if not exists status (remote text not null, folder text not null, localuid integer not null, remoteuid integer not null, flags text not null, primary key (remote, folder, localuid));
create unique index if not exists status_remoteuid on status (remote, folder, remoteuid);
`

type sqliteStatus struct {
	db       *sql.DB
	readonly bool
	logger   *log.Logger
	e        *errors.Error
}

// sqliteError classifies a status database error. A corrupted or full
// database is fatal, contention is retried on the next pass.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrFull:
			return errors.Repository(err, true)
		}
	}
	return errors.Repository(err, false)
}

func newSqliteStatus(globalconfig *config.Config, account string, path string, readonly bool) (*sqliteStatus, error) {
	logprefix := fmt.Sprintf("status: %s", account)
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(logprefix)

	dsn := path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	if readonly {
		dsn = "file:" + path + "?mode=ro&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, e.E(sqliteError(err))
	}
	// Writes of all the folder workers go through one connection.
	db.SetMaxOpenConns(1)

	if !readonly {
		if _, err = db.Exec(sqliteSchema); err != nil {
			logger.Errorf("%q: %s", err, sqliteSchema)
			db.Close()
			return nil, e.E(sqliteError(err))
		}
	}
	logger.Debugf("opened %s", path)
	return &sqliteStatus{db: db, readonly: readonly, logger: logger, e: e}, nil
}

func (s *sqliteStatus) Partition(remote, folder string) (Partition, error) {
	return &sqlitePartition{s: s, remote: remote, folder: folder}, nil
}

func (s *sqliteStatus) Partitions() ([]PartitionKey, error) {
	rows, err := s.db.Query(`select remote, folder from folders union select distinct remote, folder from status`)
	if err != nil {
		if s.readonly && isNoSuchTable(err) {
			return nil, nil
		}
		return nil, s.e.E(sqliteError(err))
	}
	defer rows.Close()
	keys := make([]PartitionKey, 0)
	for rows.Next() {
		var k PartitionKey
		if err := rows.Scan(&k.Remote, &k.Folder); err != nil {
			return nil, s.e.E(sqliteError(err))
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, s.e.E(sqliteError(err))
	}
	sortPartitionKeys(keys)
	return keys, nil
}

func (s *sqliteStatus) DropPartition(remote, folder string) error {
	return s.tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`delete from status where remote = ? and folder = ?`, remote, folder); err != nil {
			return err
		}
		_, err := tx.Exec(`delete from folders where remote = ? and folder = ?`, remote, folder)
		return err
	})
}

func (s *sqliteStatus) Close() error {
	return s.e.E(sqliteError(s.db.Close()))
}

func (s *sqliteStatus) tx(fn func(tx *sql.Tx) error) error {
	if s.readonly {
		return s.e.Errorf("status opened read only")
	}
	tx, err := s.db.Begin()
	if err != nil {
		return s.e.E(sqliteError(err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return s.e.E(sqliteError(err))
	}
	return s.e.E(sqliteError(tx.Commit()))
}

// isNoSuchTable reports a read only database created by an older run that
// never got the schema.
func isNoSuchTable(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrError
}

type sqlitePartition struct {
	s      *sqliteStatus
	remote string
	folder string
}

func (p *sqlitePartition) Validity() (local, remote string, ok bool, err error) {
	row := p.s.db.QueryRow(`select localvalidity, remotevalidity from folders where remote = ? and folder = ?`, p.remote, p.folder)
	err = row.Scan(&local, &remote)
	if err == sql.ErrNoRows || (err != nil && p.s.readonly && isNoSuchTable(err)) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, p.s.e.E(sqliteError(err))
	}
	return local, remote, true, nil
}

func (p *sqlitePartition) Entries() ([]*StatusEntry, error) {
	rows, err := p.s.db.Query(`select localuid, remoteuid, flags from status where remote = ? and folder = ? order by localuid`, p.remote, p.folder)
	if err != nil {
		if p.s.readonly && isNoSuchTable(err) {
			return nil, nil
		}
		return nil, p.s.e.E(sqliteError(err))
	}
	defer rows.Close()
	entries := make([]*StatusEntry, 0)
	for rows.Next() {
		var localuid, remoteuid int64
		var flags string
		if err := rows.Scan(&localuid, &remoteuid, &flags); err != nil {
			return nil, p.s.e.E(sqliteError(err))
		}
		if localuid <= 0 || remoteuid <= 0 || localuid > 1<<32-1 || remoteuid > 1<<32-1 {
			err := fmt.Errorf("corrupted status entry %d<->%d in %s %s", localuid, remoteuid, p.remote, p.folder)
			return nil, p.s.e.E(errors.Repository(err, true))
		}
		entries = append(entries, &StatusEntry{LocalUID: uint32(localuid), RemoteUID: uint32(remoteuid), Flags: ParseFlags(flags)})
	}
	if err := rows.Err(); err != nil {
		return nil, p.s.e.E(sqliteError(err))
	}
	return entries, nil
}

func (p *sqlitePartition) Put(e *StatusEntry) error {
	return p.s.tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`delete from status where remote = ? and folder = ? and (localuid = ? or remoteuid = ?)`, p.remote, p.folder, e.LocalUID, e.RemoteUID); err != nil {
			return err
		}
		_, err := tx.Exec(`insert into status (remote, folder, localuid, remoteuid, flags) values (?, ?, ?, ?, ?)`, p.remote, p.folder, e.LocalUID, e.RemoteUID, string(e.Flags))
		return err
	})
}

func (p *sqlitePartition) Delete(e *StatusEntry) error {
	return p.s.tx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`delete from status where remote = ? and folder = ? and localuid = ? and remoteuid = ?`, p.remote, p.folder, e.LocalUID, e.RemoteUID)
		return err
	})
}

func (p *sqlitePartition) Reset(localValidity, remoteValidity string) error {
	return p.s.tx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`delete from status where remote = ? and folder = ?`, p.remote, p.folder); err != nil {
			return err
		}
		_, err := tx.Exec(`insert or replace into folders (remote, folder, localvalidity, remotevalidity) values (?, ?, ?, ?)`, p.remote, p.folder, localValidity, remoteValidity)
		return err
	})
}
