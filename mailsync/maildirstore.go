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
	"bufio"
	"context"
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

const (
	uidValidityFile = ".offlineimap-uidvalidity"
	uidNextFile     = ".offlineimap-uidnext"
)

var maildirSubdirs = []string{"cur", "new", "tmp"}

type MaildirStore struct {
	globalconfig *config.Config
	config       *config.RepositoryConfig
	name         string
	maildir      string
	separator    rune
	deletemode   string
	logger       *log.Logger
	e            *errors.Error
	dryrun       bool
}

func NewMaildirStore(globalconfig *config.Config, config *config.RepositoryConfig, deletemode string, dryrun bool) (m *MaildirStore, err error) {
	name := config.Name
	logprefix := fmt.Sprintf("maildirstore: %s", name)
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(logprefix)

	m = &MaildirStore{
		globalconfig: globalconfig,
		config:       config,
		name:         name,
		maildir:      config.Maildir,
		separator:    config.SeparatorRune(),
		deletemode:   deletemode,
		logger:       logger,
		e:            e,
		dryrun:       dryrun,
	}

	if !dryrun {
		if err := os.MkdirAll(m.maildir, 0700); err != nil {
			return nil, m.e.E(maildirError(err))
		}
	}
	return m, nil
}

// maildirError classifies a local I/O error. Out of space and read only
// filesystems are fatal, everything else is retried on the next pass.
func maildirError(err error) error {
	if err == nil {
		return nil
	}
	fatal := errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EROFS) || errors.Is(err, syscall.EDQUOT)
	return errors.Repository(err, fatal)
}

func (m *MaildirStore) Name() string {
	return m.name
}

func (m *MaildirStore) Separator() rune {
	return m.separator
}

func (m *MaildirStore) deleteMode() string {
	return m.deletemode
}

func (m *MaildirStore) isInbox(relpath string) bool {
	return filepath.Clean(relpath) == filepath.Clean(m.config.InboxPath)
}

// folderPath returns the directory of the named folder.
func (m *MaildirStore) folderPath(name string) (string, error) {
	if name == "INBOX" {
		return filepath.Join(m.maildir, filepath.Clean(m.config.InboxPath)), nil
	}
	if m.separator != '/' && strings.ContainsRune(name, '/') {
		return "", errors.Configurationf("folder name %q contains \"/\" but the maildir separator is %q", name, m.separator)
	}
	for _, c := range strings.Split(name, "/") {
		if c == "" || c == "." || c == ".." {
			return "", errors.Configurationf("invalid folder name %q", name)
		}
	}
	return filepath.Join(m.maildir, filepath.FromSlash(name)), nil
}

func isMaildir(path string) bool {
	for _, d := range maildirSubdirs {
		fi, err := os.Stat(filepath.Join(path, d))
		if err != nil || !fi.IsDir() {
			return false
		}
	}
	return true
}

func (m *MaildirStore) ListFolders(ctx context.Context) ([]string, error) {
	folders := make([]string, 0)
	if _, err := os.Stat(m.maildir); os.IsNotExist(err) {
		return folders, nil
	}
	err := filepath.Walk(m.maildir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if StringInSlice(info.Name(), maildirSubdirs) && isMaildir(filepath.Dir(path)) {
			return filepath.SkipDir
		}
		if !isMaildir(path) {
			return nil
		}
		relpath, err := filepath.Rel(m.maildir, path)
		if err != nil {
			return err
		}
		if relpath == "." {
			return nil
		}

		// A directory named inbox must be the configured inbox.
		if strings.ToLower(filepath.Clean(relpath)) == "inbox" && !m.isInbox(relpath) {
			return fmt.Errorf("directory with name \"%s\", doesn't match configured inbox path \"%s\"", filepath.Clean(relpath), m.config.InboxPath)
		}
		name := filepath.ToSlash(relpath)
		if m.isInbox(relpath) {
			name = "INBOX"
		} else if m.separator != '/' && strings.Contains(name, "/") {
			m.logger.Debugf("ignoring nested maildir %s", name)
			return nil
		}
		folders = append(folders, name)
		m.logger.Debug("maildir folder: ", name)
		return nil
	})
	if err != nil {
		return nil, m.e.E(maildirError(err))
	}
	sort.Strings(folders)
	return folders, nil
}

func (m *MaildirStore) HasFolder(name string) bool {
	path, err := m.folderPath(name)
	if err != nil {
		return false
	}
	return isMaildir(path)
}

func (m *MaildirStore) CreateFolder(ctx context.Context, name string) error {
	if m.dryrun {
		m.logger.Infof("would create folder %s", name)
		return nil
	}
	path, err := m.folderPath(name)
	if err != nil {
		return m.e.E(err)
	}
	for _, d := range maildirSubdirs {
		if err := os.MkdirAll(filepath.Join(path, d), 0700); err != nil {
			return m.e.E(maildirError(err))
		}
	}
	if _, err := m.folderUID(path, true); err != nil {
		return m.e.E(err)
	}
	m.logger.Infof("created folder %s", name)
	return nil
}

// DeleteFolder removes the maildir of a folder. Directories of child
// folders are kept.
func (m *MaildirStore) DeleteFolder(ctx context.Context, name string) error {
	path, err := m.folderPath(name)
	if err != nil {
		return m.e.E(err)
	}
	if !isMaildir(path) {
		return nil
	}
	if m.dryrun {
		m.logger.Infof("would delete folder %s", name)
		return nil
	}
	for _, d := range maildirSubdirs {
		if err := os.RemoveAll(filepath.Join(path, d)); err != nil {
			return m.e.E(maildirError(err))
		}
	}
	for _, f := range []string{uidValidityFile, uidNextFile} {
		if err := os.Remove(filepath.Join(path, f)); err != nil && !os.IsNotExist(err) {
			return m.e.E(maildirError(err))
		}
	}
	// Fails when child folders live inside.
	os.Remove(path)
	m.logger.Infof("deleted folder %s", name)
	return nil
}

func (m *MaildirStore) OpenFolder(ctx context.Context, name string, readonly bool) (Folder, error) {
	path, err := m.folderPath(name)
	if err != nil {
		return nil, m.e.E(err)
	}
	if !isMaildir(path) {
		if readonly || m.dryrun {
			return &emptyFolder{name: name}, nil
		}
		if err := m.CreateFolder(ctx, name); err != nil {
			return nil, err
		}
	}

	folderUID, err := m.folderUID(path, !readonly && !m.dryrun)
	if err != nil {
		return nil, m.e.E(err)
	}
	return NewMaildirFolder(m, name, path, folderUID, readonly || m.dryrun)
}

func (m *MaildirStore) Close() error {
	return nil
}

func readFolderUID(path string) (folderUID string, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Scan()
	folderUID = scanner.Text()

	if len(folderUID) != 32 {
		err := fmt.Errorf("Wrong folderUID: \"%s\" in %s", folderUID, path)
		return "", errors.Repository(err, true)
	}
	return folderUID, nil
}

// folderUID returns the folder id stored in the maildir, creating it when
// missing and create is true.
func (m *MaildirStore) folderUID(folderpath string, create bool) (string, error) {
	path := filepath.Join(folderpath, uidValidityFile)
	folderUID, err := readFolderUID(path)
	if err != nil {
		return "", maildirError(err)
	}
	if folderUID != "" || !create {
		return folderUID, nil
	}

	folderUID, err = generateFolderUID()
	if err != nil {
		return "", err
	}
	if err := writeFileSync(path, []byte(folderUID)); err != nil {
		return "", maildirError(err)
	}
	m.logger.Debugf("new folderUID %s for %s", folderUID, folderpath)
	return folderUID, nil
}

func generateFolderUID() (folderUID string, err error) {
	b := make([]byte, 16)
	if _, err = rand.Read(b); err != nil {
		return "", err
	}
	h := md5.New()
	h.Write(b)
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// writeFileSync atomically replaces path with data.
func writeFileSync(path string, data []byte) (err error) {
	tmp := path + ".tmp"
	fo, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	w := bufio.NewWriter(fo)
	if _, err = w.Write(data); err != nil {
		fo.Close()
		return err
	}
	if err = w.Flush(); err != nil {
		fo.Close()
		return err
	}
	if err = fo.Sync(); err != nil {
		fo.Close()
		return err
	}
	if err = fo.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
