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
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

var maildirUIDRegexp = regexp.MustCompile(`,u=(\d+),f=([A-Za-z0-9]+)`)

type MaildirFolder struct {
	store         *MaildirStore
	name          string
	maildir       string
	folderUID     string
	messages      map[uint32]*maildirMessage
	nextTempUID   uint32
	maxUID        uint32
	lastTime      int64
	lastTimeSeq   uint32
	infoSeparator rune
	deleteMode    string
	readonly      bool
	logger        *log.Logger
	e             *errors.Error
}

type maildirMessage struct {
	MessageInfo

	// Filename without separator + flags
	Filename string
	Subdir   string // cur or new
	// Flag letters kept on disk but not synchronized
	Extra     string
	Temporary bool
}

func NewMaildirFolder(store *MaildirStore, name string, maildir string, folderUID string, readonly bool) (m *MaildirFolder, err error) {
	logprefix := fmt.Sprintf("maildirstore: %s, folder: %s", store.Name(), name)
	logger := log.GetLogger(logprefix, store.globalconfig.LogLevel)
	e := errors.New(logprefix)

	m = &MaildirFolder{
		store:         store,
		name:          name,
		maildir:       maildir,
		folderUID:     folderUID,
		messages:      make(map[uint32]*maildirMessage),
		nextTempUID:   math.MaxUint32,
		infoSeparator: ':',
		deleteMode:    store.deleteMode(),
		readonly:      readonly,
		logger:        logger,
		e:             e,
	}
	return m, nil
}

func (m *MaildirFolder) Name() string {
	return m.name
}

func (m *MaildirFolder) UIDValidity(ctx context.Context) (string, error) {
	return m.folderUID, nil
}

func (m *MaildirFolder) getTimeSeq() (int64, uint32) {
	curtime := time.Now().Unix()

	if curtime == m.lastTime {
		m.lastTimeSeq++
	} else {
		m.lastTime = curtime
		m.lastTimeSeq = 0
	}

	return curtime, m.lastTimeSeq
}

func (m *MaildirFolder) getNextTempUID() uint32 {
	defer func() { m.nextTempUID -= 1 }()
	return m.nextTempUID
}

func (m *MaildirFolder) generateFilename(uid uint32) (string, error) {
	time, timeseq := m.getTimeSeq()
	hostname, err := os.Hostname()
	if err != nil {
		return "", err
	}
	// Both separators would break the filename format.
	hostname = strings.NewReplacer("/", `\057`, ":", `\072`).Replace(hostname)
	filename := fmt.Sprintf("%d_%d.%d.%s,u=%d,f=%s", time, timeseq, os.Getpid(), hostname, uid, m.folderUID)
	return filename, nil
}

func (m *MaildirFolder) fullFilename(filename string, flags Flags, extra string) string {
	return filename + string(m.infoSeparator) + "2," + CleanFlags(string(flags)+extra)
}

// Return filename and ordered flags
func (m *MaildirFolder) splitFilename(fullfilename string) (string, string, error) {
	i := strings.LastIndexByte(fullfilename, byte(m.infoSeparator))
	if i < 0 {
		return "", "", fmt.Errorf("Wrong filename format: %s", fullfilename)
	}
	info := fullfilename[i+1:]
	if !strings.HasPrefix(info, "2,") {
		return "", "", fmt.Errorf("Wrong filename format: %s", fullfilename)
	}
	return fullfilename[:i], CleanFlags(strings.TrimPrefix(info, "2,")), nil
}

// allocUID returns a never used permanent uid. The counter is persisted
// so uids of deleted messages are not handed out again.
func (m *MaildirFolder) allocUID() (uint32, error) {
	path := filepath.Join(m.maildir, uidNextFile)
	next := m.maxUID + 1
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		scanner.Scan()
		f.Close()
		if n, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 32); err == nil && uint32(n) > next {
			next = uint32(n)
		}
	} else if !os.IsNotExist(err) {
		return 0, maildirError(err)
	}
	if next >= m.nextTempUID {
		return 0, errors.Repository(fmt.Errorf("uid space exhausted"), true)
	}
	if err := writeFileSync(path, []byte(strconv.FormatUint(uint64(next)+1, 10))); err != nil {
		return 0, maildirError(err)
	}
	m.maxUID = next
	return next, nil
}

func (m *MaildirFolder) registerMessage(msg *maildirMessage) {
	m.messages[msg.UID] = msg
	m.logger.Debugf("Registering message. uid: %d, filename: %s/%s, flags: %s", msg.UID, msg.Subdir, msg.Filename, msg.Flags)
}

// findFilepath returns the current path of a message, looking it up on
// disk again when a mail client renamed it.
func (m *MaildirFolder) findFilepath(msg *maildirMessage) (messagepath string, err error) {
	var dupfilenames []string
	for _, d := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(m.maildir, d))
		if err != nil {
			return "", maildirError(err)
		}
		for _, entry := range entries {
			n := entry.Name()
			filename, _, err := m.splitFilename(n)
			if err != nil {
				filename = n
			}
			if filename != msg.Filename {
				continue
			}
			if messagepath != "" {
				dupfilenames = append(dupfilenames, n)
				continue
			}
			messagepath = filepath.Join(m.maildir, d, n)
		}
	}
	if len(dupfilenames) > 0 {
		return "", fmt.Errorf("Duplicate files with same filename (%s): %v", msg.Filename, dupfilenames)
	}
	return messagepath, nil
}

func (m *MaildirFolder) ListMessages(ctx context.Context, quick bool) (*Snapshot, error) {
	m.messages = make(map[uint32]*maildirMessage)
	m.nextTempUID = math.MaxUint32
	m.maxUID = 0

	for _, d := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(m.maildir, d))
		if err != nil {
			return nil, m.e.E(maildirError(err))
		}

		for _, entry := range entries {
			n := entry.Name()
			if entry.IsDir() || strings.HasPrefix(n, ".") {
				continue
			}
			filename, flags, err := m.splitFilename(n)
			if err != nil {
				if d != "new" {
					m.logger.Debugf("Split error: %s. Ignoring message filename: %s/%s", err, d, n)
					continue
				}
				filename = n
			}
			fi, err := entry.Info()
			if err != nil {
				// Renamed by someone else while listing.
				continue
			}

			msg := &maildirMessage{
				MessageInfo: MessageInfo{Size: fi.Size(), Flags: ParseFlags(flags)},
				Filename:    filename,
				Subdir:      d,
				Extra:       unsyncedFlags(flags),
			}
			trashed := strings.ContainsRune(flags, 'T')

			match := maildirUIDRegexp.FindStringSubmatch(filename)
			if len(match) < 3 || match[2] != m.folderUID {
				if trashed {
					continue
				}
				m.logger.Debugf("Assuming as new message: %s", filename)
				msg.UID = m.getNextTempUID()
				msg.Temporary = true
				m.registerMessage(msg)
				continue
			}

			uid64, err := strconv.ParseUint(match[1], 10, 32)
			if err != nil || uid64 == 0 {
				m.logger.Debugf("Ignoring message with invalid uid: %s", filename)
				continue
			}
			uid := uint32(uid64)
			if uid > m.maxUID {
				m.maxUID = uid
			}
			if trashed {
				continue
			}
			if prev, ok := m.messages[uid]; ok {
				m.logger.Warningf("Message with filename \"%s\" containing uid %d already existent! Setting this uid to be ignored by sync alghoritm.", filename, uid)
				prev.Filename = ""
				prev.Subdir = ""
				prev.Ignore = true
				continue
			}
			msg.UID = uid
			m.registerMessage(msg)
		}
	}

	snapshot := newSnapshot(true)
	for uid, msg := range m.messages {
		info := msg.MessageInfo
		snapshot.Messages[uid] = &info
	}
	return snapshot, nil
}

func (m *MaildirFolder) message(uid uint32) (*maildirMessage, error) {
	msg, ok := m.messages[uid]
	if !ok || msg.Ignore {
		return nil, m.e.E(fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
	}
	return msg, nil
}

func (m *MaildirFolder) Fetch(ctx context.Context, uid uint32) ([]byte, Flags, error) {
	msg, err := m.message(uid)
	if err != nil {
		return nil, "", err
	}
	path, err := m.findFilepath(msg)
	if err != nil {
		return nil, "", m.e.E(err)
	}
	if path == "" {
		return nil, "", m.e.E(fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", m.e.E(fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
		}
		return nil, "", m.e.E(maildirError(err))
	}
	return body, msg.Flags, nil
}

// Store delivers a message through tmp/ into cur/. The tmp file is
// removed when delivery fails.
func (m *MaildirFolder) Store(ctx context.Context, body []byte, flags Flags) (uid uint32, err error) {
	if m.readonly {
		return 0, m.e.E(fmt.Errorf("folder opened read only"))
	}
	uid, err = m.allocUID()
	if err != nil {
		return 0, m.e.E(err)
	}
	filename, err := m.generateFilename(uid)
	if err != nil {
		return 0, m.e.E(err)
	}
	fullfilename := m.fullFilename(filename, flags, "")
	tmpfilepath := filepath.Join(m.maildir, "tmp", fullfilename)
	dstfilepath := filepath.Join(m.maildir, "cur", fullfilename)

	if err := writeMessage(tmpfilepath, body); err != nil {
		os.Remove(tmpfilepath)
		return 0, m.e.E(maildirError(err))
	}
	if err := os.Rename(tmpfilepath, dstfilepath); err != nil {
		os.Remove(tmpfilepath)
		return 0, m.e.E(maildirError(err))
	}

	m.registerMessage(&maildirMessage{
		MessageInfo: MessageInfo{UID: uid, Size: int64(len(body)), Flags: flags},
		Filename:    filename,
		Subdir:      "cur",
	})
	return uid, nil
}

func writeMessage(path string, body []byte) error {
	fo, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(fo)
	if _, err := w.Write(body); err != nil {
		fo.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		fo.Close()
		return err
	}
	if err := fo.Sync(); err != nil {
		fo.Close()
		return err
	}
	return fo.Close()
}

func (m *MaildirFolder) rename(msg *maildirMessage, filename string, flags Flags, extra string) error {
	srcfilepath, err := m.findFilepath(msg)
	if err != nil {
		return err
	}
	if srcfilepath == "" {
		return fmt.Errorf("uid %d: %w", msg.UID, ErrMessageNotFound)
	}
	// A file with flags cannot live in new.
	dstfilepath := filepath.Join(m.maildir, "cur", m.fullFilename(filename, flags, extra))
	if err := os.Rename(srcfilepath, dstfilepath); err != nil {
		return maildirError(err)
	}
	msg.Filename = filename
	msg.Subdir = "cur"
	msg.Flags = flags
	msg.Extra = extra
	return nil
}

func (m *MaildirFolder) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	msg, err := m.message(uid)
	if err != nil {
		return err
	}
	if msg.Flags == flags {
		return nil
	}
	if m.readonly {
		return m.e.E(fmt.Errorf("folder opened read only"))
	}
	return m.e.E(m.rename(msg, msg.Filename, flags, msg.Extra))
}

func (m *MaildirFolder) UpdateFlags(ctx context.Context, uid uint32, add, remove Flags) error {
	msg, err := m.message(uid)
	if err != nil {
		return err
	}
	return m.SetFlags(ctx, uid, msg.Flags.Apply(add, remove))
}

func (m *MaildirFolder) Delete(ctx context.Context, uid uint32) error {
	msg, ok := m.messages[uid]
	if !ok {
		return nil
	}
	if m.readonly {
		return m.e.E(fmt.Errorf("folder opened read only"))
	}

	if m.deleteMode == config.DeleteModeFlag {
		err := m.rename(msg, msg.Filename, msg.Flags, CleanFlags(msg.Extra+"T"))
		if err != nil && !errors.Is(err, ErrMessageNotFound) {
			return m.e.E(err)
		}
		delete(m.messages, uid)
		return nil
	}

	path, err := m.findFilepath(msg)
	if err != nil {
		return m.e.E(err)
	}
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return m.e.E(maildirError(err))
		}
	}
	delete(m.messages, uid)
	return nil
}

// AssignUID renames a message carrying a provisional uid so that its
// filename holds a permanent one.
func (m *MaildirFolder) AssignUID(ctx context.Context, uid uint32) (uint32, error) {
	msg, err := m.message(uid)
	if err != nil {
		return 0, err
	}
	if !msg.Temporary {
		return uid, nil
	}
	if m.readonly {
		return 0, m.e.E(fmt.Errorf("folder opened read only"))
	}

	newuid, err := m.allocUID()
	if err != nil {
		return 0, m.e.E(err)
	}
	filename, err := m.generateFilename(newuid)
	if err != nil {
		return 0, m.e.E(err)
	}
	if err := m.rename(msg, filename, msg.Flags, msg.Extra); err != nil {
		return 0, m.e.E(err)
	}
	delete(m.messages, uid)
	msg.UID = newuid
	msg.Temporary = false
	m.registerMessage(msg)
	return newuid, nil
}

func (m *MaildirFolder) Close() (err error) {
	return
}
