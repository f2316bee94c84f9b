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
	"sort"
	"strconv"
	"strings"

	"github.com/mxk/go-imap/imap"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

type ImapFolder struct {
	store    *ImapStore
	name     string
	client   *imap.Client
	readonly bool
	expunge  bool
	deleted  bool
	// Flags of the listed messages, nil entries when listed without flags.
	messages map[uint32]*Flags
	lastUID  uint32
	logger   *log.Logger
	e        *errors.Error
}

var (
	ImapFlagsMap = [][]string{
		{`\Seen`, "S"},
		{`\Answered`, "R"},
		{`\Deleted`, "T"},
		{`\Draft`, "D"},
		{`\Flagged`, "F"},
	}
)

func ImapFlagsToString(flagset imap.FlagSet) string {
	var flags string

	for _, v := range ImapFlagsMap {
		if _, ok := flagset[v[0]]; ok {
			flags += v[1]
		}
	}
	rs := runeSlice(flags)
	sort.Sort(rs)

	return string(rs)
}

func StringToImapFlags(flags string) imap.FlagSet {
	flagset := imap.NewFlagSet()

	for _, v := range ImapFlagsMap {
		if strings.Contains(flags, v[1]) {
			flagset[v[0]] = true
		}
	}
	return flagset
}

func NewImapFolder(ctx context.Context, store *ImapStore, name string, readonly bool) (m *ImapFolder, err error) {
	logprefix := fmt.Sprintf("imapstore: %s, folder: %s", store.Name(), name)
	logger := log.GetLogger(logprefix, store.globalconfig.LogLevel)
	e := errors.New(logprefix)

	m = &ImapFolder{
		store:    store,
		name:     name,
		readonly: readonly,
		expunge:  store.deletemode == config.DeleteModeExpunge,
		messages: make(map[uint32]*Flags),
		logger:   logger,
		e:        e,
	}

	client, err := store.newImapClient(ctx)
	if err != nil {
		return nil, m.e.E(err)
	}
	m.client = client

	// EXAMINE when read only.
	if _, err = client.Select(name, readonly); err != nil {
		client.Logout(0)
		return nil, m.e.E(errors.Transport(err))
	}
	client.Data = nil
	m.logger.Debugf("selected: uidvalidity %d, uidnext %d, messages %d", client.Mailbox.UIDValidity, client.Mailbox.UIDNext, client.Mailbox.Messages)
	return m, nil
}

func (m *ImapFolder) Name() string {
	return m.name
}

func (m *ImapFolder) UIDValidity(ctx context.Context) (string, error) {
	if m.client.Mailbox == nil {
		return "", m.e.E(errors.Transport(fmt.Errorf("no mailbox selected")))
	}
	return strconv.FormatUint(uint64(m.client.Mailbox.UIDValidity), 10), nil
}

// fetch runs a UID FETCH and calls fn for every returned message.
func (m *ImapFolder) fetch(ctx context.Context, seq string, items string, fn func(attrs imap.FieldMap)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set, err := imap.NewSeqSet(seq)
	if err != nil {
		return err
	}
	cmd, err := m.client.Send("UID FETCH", set, items)
	if err != nil {
		return errors.Transport(err)
	}

	// Process responses while the command is running
	for cmd.InProgress() {
		// Wait for the next response (no timeout)
		if err := m.client.Recv(-1); err != nil {
			return errors.Transport(err)
		}
		for _, rsp := range cmd.Data {
			if info := rsp.MessageInfo(); info != nil {
				fn(info.Attrs)
			}
		}
		cmd.Data = nil

		// Process unilateral server data
		for _, rsp := range m.client.Data {
			m.logger.Debug("Server data: ", rsp)
		}
		m.client.Data = nil
	}

	// Check command completion status
	if rsp, err := cmd.Result(imap.OK); err != nil {
		if err == imap.ErrAborted {
			m.logger.Debug("Fetch command aborted")
		} else if rsp != nil {
			m.logger.Debug("Fetch error: ", rsp.Info)
		}
		return errors.Transport(err)
	}
	return nil
}

func (m *ImapFolder) ListMessages(ctx context.Context, quick bool) (*Snapshot, error) {
	snapshot := newSnapshot(!quick)
	m.messages = make(map[uint32]*Flags)

	if m.client.Mailbox == nil || m.client.Mailbox.Messages == 0 {
		return snapshot, nil
	}

	items := "(UID FLAGS RFC822.SIZE)"
	if quick {
		items = "(UID RFC822.SIZE)"
	}
	err := m.fetch(ctx, "1:*", items, func(attrs imap.FieldMap) {
		uid := imap.AsNumber(attrs["UID"])
		if uid == 0 {
			return
		}
		if uid > m.lastUID {
			m.lastUID = uid
		}
		info := &MessageInfo{UID: uid, Size: int64(imap.AsNumber(attrs["RFC822.SIZE"]))}
		if quick {
			m.messages[uid] = nil
		} else {
			imapflags := ImapFlagsToString(imap.AsFlagSet(attrs["FLAGS"]))
			if strings.Contains(imapflags, "T") {
				return
			}
			info.Flags = ParseFlags(imapflags)
			flags := info.Flags
			m.messages[uid] = &flags
		}
		snapshot.Messages[uid] = info
	})
	if err != nil {
		return nil, m.e.E(err)
	}
	return snapshot, nil
}

func (m *ImapFolder) Fetch(ctx context.Context, uid uint32) ([]byte, Flags, error) {
	var body []byte
	var flags Flags
	found := false
	err := m.fetch(ctx, strconv.FormatUint(uint64(uid), 10), "(UID FLAGS BODY.PEEK[])", func(attrs imap.FieldMap) {
		if imap.AsNumber(attrs["UID"]) != uid {
			return
		}
		found = true
		body = imap.AsBytes(attrs["BODY[]"])
		flags = ParseFlags(ImapFlagsToString(imap.AsFlagSet(attrs["FLAGS"])))
	})
	if err != nil {
		return nil, "", m.e.E(err)
	}
	if !found {
		return nil, "", m.e.E(fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
	}
	return body, flags, nil
}

// Store appends a message. Without UIDPLUS the new uid is looked up among
// the messages above the last known uid with the same size.
func (m *ImapFolder) Store(ctx context.Context, body []byte, flags Flags) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if m.readonly {
		return 0, m.e.E(fmt.Errorf("folder opened read only"))
	}

	literal := imap.NewLiteral(body)
	cmd, err := imap.Wait(m.client.Append(m.name, StringToImapFlags(string(flags)), nil, literal))
	if err != nil {
		return 0, m.e.E(errors.Transport(err))
	}
	m.client.Data = nil

	var newuid uint32
	rsp, _ := cmd.Result(imap.OK)
	if rsp != nil && rsp.Label == "APPENDUID" && len(rsp.Fields) >= 3 {
		newuid = imap.AsNumber(rsp.Fields[2])
	}
	if newuid == 0 {
		newuid, err = m.findAppended(ctx, int64(len(body)))
		if err != nil {
			return 0, m.e.E(err)
		}
	}
	if newuid > m.lastUID {
		m.lastUID = newuid
	}
	f := flags
	m.messages[newuid] = &f
	m.logger.Debugf("Registering message. uid: %d, flags: %s", newuid, flags)
	return newuid, nil
}

func (m *ImapFolder) findAppended(ctx context.Context, size int64) (uint32, error) {
	var found uint32
	err := m.fetch(ctx, fmt.Sprintf("%d:*", m.lastUID+1), "(UID RFC822.SIZE)", func(attrs imap.FieldMap) {
		uid := imap.AsNumber(attrs["UID"])
		if uid > m.lastUID && int64(imap.AsNumber(attrs["RFC822.SIZE"])) == size && uid > found {
			found = uid
		}
	})
	if err != nil {
		return 0, err
	}
	if found == 0 {
		return 0, errors.Transport(fmt.Errorf("cannot find the uid of the appended message"))
	}
	return found, nil
}

func (m *ImapFolder) currentFlags(ctx context.Context, uid uint32) (*Flags, error) {
	if flags, ok := m.messages[uid]; ok && flags != nil {
		return flags, nil
	}
	var flags *Flags
	err := m.fetch(ctx, strconv.FormatUint(uint64(uid), 10), "(UID FLAGS)", func(attrs imap.FieldMap) {
		if imap.AsNumber(attrs["UID"]) != uid {
			return
		}
		imapflags := ImapFlagsToString(imap.AsFlagSet(attrs["FLAGS"]))
		if strings.Contains(imapflags, "T") {
			return
		}
		f := ParseFlags(imapflags)
		flags = &f
	})
	if err != nil {
		return nil, err
	}
	return flags, nil
}

func (m *ImapFolder) uidStore(ctx context.Context, uid uint32, item string, flags imap.FlagSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set, _ := imap.NewSeqSet(strconv.FormatUint(uint64(uid), 10))
	cmd, err := imap.Wait(m.client.UIDStore(set, item, flags.String()))
	if err != nil {
		if cmd != nil {
			if rsp, _ := cmd.Result(imap.OK); rsp != nil {
				m.logger.Debug("UIDStore error: ", rsp.Info)
			}
		}
		return errors.Transport(err)
	}
	m.client.Data = nil
	return nil
}

// SetFlags changes only the synchronized flags, keywords set by other
// clients are kept.
func (m *ImapFolder) SetFlags(ctx context.Context, uid uint32, flags Flags) error {
	if m.readonly {
		return m.e.E(fmt.Errorf("folder opened read only"))
	}
	current, err := m.currentFlags(ctx, uid)
	if err != nil {
		return m.e.E(err)
	}
	if current == nil {
		return m.e.E(fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
	}
	add, remove := current.Diff(flags)
	if add != "" {
		if err := m.uidStore(ctx, uid, "+FLAGS.SILENT", StringToImapFlags(string(add))); err != nil {
			return m.e.E(err)
		}
	}
	if remove != "" {
		if err := m.uidStore(ctx, uid, "-FLAGS.SILENT", StringToImapFlags(string(remove))); err != nil {
			return m.e.E(err)
		}
	}
	f := flags
	m.messages[uid] = &f
	return nil
}

// UpdateFlags stores only the changes, flags set meanwhile by other clients
// are kept.
func (m *ImapFolder) UpdateFlags(ctx context.Context, uid uint32, add, remove Flags) error {
	current, ok := m.messages[uid]
	if !ok {
		return m.e.E(fmt.Errorf("uid %d: %w", uid, ErrMessageNotFound))
	}
	if m.readonly {
		return m.e.E(fmt.Errorf("folder opened read only"))
	}
	if add != "" {
		if err := m.uidStore(ctx, uid, "+FLAGS.SILENT", StringToImapFlags(string(add))); err != nil {
			return m.e.E(err)
		}
	}
	if remove != "" {
		if err := m.uidStore(ctx, uid, "-FLAGS.SILENT", StringToImapFlags(string(remove))); err != nil {
			return m.e.E(err)
		}
	}
	if current != nil {
		f := current.Apply(add, remove)
		m.messages[uid] = &f
	}
	return nil
}

// Delete sets \Deleted. The message is expunged when the folder is closed
// if deletemode is expunge.
func (m *ImapFolder) Delete(ctx context.Context, uid uint32) error {
	if _, ok := m.messages[uid]; !ok {
		return nil
	}
	if m.readonly {
		return m.e.E(fmt.Errorf("folder opened read only"))
	}
	if err := m.uidStore(ctx, uid, "+FLAGS.SILENT", imap.NewFlagSet(`\Deleted`)); err != nil {
		return m.e.E(err)
	}
	m.deleted = true
	delete(m.messages, uid)
	return nil
}

func (m *ImapFolder) Close() (err error) {
	if m.client == nil {
		return
	}

	expunge := m.expunge && m.deleted && !m.readonly
	if _, err = m.client.Close(expunge); err != nil {
		m.logger.Debugf("close: %s", err)
		err = m.e.E(errors.Transport(err))
	}
	m.client.Logout(imapLogoutTimeout)
	m.client = nil
	return
}
