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
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mxk/go-imap/imap"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

const imapLogoutTimeout = 5 * time.Second

type ImapStore struct {
	globalconfig *config.Config
	config       *config.RepositoryConfig
	name         string
	account      string
	deletemode   string
	creds        CredentialProvider
	client       *imap.Client
	separator    rune
	folders      []string
	logger       *log.Logger
	e            *errors.Error
	dryrun       bool
	sync.Mutex
}

func NewImapStore(globalconfig *config.Config, config *config.RepositoryConfig, account string, deletemode string, creds CredentialProvider, dryrun bool) (m *ImapStore, err error) {
	name := config.Name
	logprefix := fmt.Sprintf("imapstore: %s", name)
	logger := log.GetLogger(logprefix, globalconfig.LogLevel)
	e := errors.New(logprefix)

	m = &ImapStore{
		globalconfig: globalconfig,
		config:       config,
		name:         name,
		account:      account,
		deletemode:   deletemode,
		creds:        creds,
		logger:       logger,
		e:            e,
		dryrun:       dryrun,
	}
	return m, nil
}

func (m *ImapStore) address() string {
	port := m.config.Port
	if port == 0 {
		if m.config.TLS {
			port = 993
		} else {
			port = 143
		}
	}
	return net.JoinHostPort(m.config.Host, strconv.FormatUint(uint64(port), 10))
}

// newImapClient opens an authenticated connection. Every failure is a
// transport error except a missing secret, which is a configuration one.
func (m *ImapStore) newImapClient(ctx context.Context) (*imap.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tlsconfig := &tls.Config{
		ServerName:         m.config.Host,
		InsecureSkipVerify: m.config.InsecureSkipVerify,
	}
	var (
		client *imap.Client
		err    error
	)
	addr := m.address()
	if m.config.TLS {
		client, err = imap.DialTLS(addr, tlsconfig)
	} else {
		client, err = imap.Dial(addr)
	}
	if err != nil {
		return nil, errors.Transport(err)
	}
	if err := m.setupImapClient(ctx, client, tlsconfig); err != nil {
		client.Logout(0)
		return nil, err
	}
	return client, nil
}

// setupImapClient upgrades the connection when configured and logs in,
// unless the server greeted with PREAUTH.
func (m *ImapStore) setupImapClient(ctx context.Context, client *imap.Client, tlsconfig *tls.Config) error {
	if m.globalconfig.LogLevel == "debug" && m.globalconfig.DebugImap {
		client.SetLogMask(imap.LogAll)
	}

	// Print server greeting (first response in the unilateral server data queue)
	if len(client.Data) > 0 {
		m.logger.Debug("Server says hello: ", client.Data[0].Info)
	}
	client.Data = nil

	if m.config.StartTLS {
		if !client.Caps["STARTTLS"] {
			return errors.Transport(fmt.Errorf("Server doesn't support STARTTLS"))
		}
		if _, err := client.StartTLS(tlsconfig); err != nil {
			return errors.Transport(err)
		}
	}

	if client.State() != imap.Login {
		return nil
	}
	secret, err := m.creds.Secret(ctx, m.account, m.name)
	if err != nil {
		return err
	}
	if _, err := client.Login(m.config.Username, secret); err != nil {
		return errors.Transport(err)
	}
	return nil
}

func (m *ImapStore) getImapClient(ctx context.Context) (*imap.Client, error) {
	if m.client != nil && m.client.State() != imap.Closed {
		return m.client, nil
	}

	client, err := m.newImapClient(ctx)
	if err != nil {
		return nil, err
	}
	m.client = client
	return client, nil
}

func (m *ImapStore) Name() string {
	return m.name
}

func (m *ImapStore) Separator() rune {
	m.Lock()
	defer m.Unlock()
	if m.separator == 0 {
		return '.'
	}
	return m.separator
}

func (m *ImapStore) ListFolders(ctx context.Context) ([]string, error) {
	m.Lock()
	defer m.Unlock()

	client, err := m.getImapClient(ctx)
	if err != nil {
		return nil, m.e.E(err)
	}

	cmd, err := imap.Wait(client.List("", "*"))
	if err != nil {
		return nil, m.e.E(errors.Transport(err))
	}
	client.Data = nil

	folders := make([]string, 0)
	m.logger.Debug("Folders:")
	for _, rsp := range cmd.Data {
		info := rsp.MailboxInfo()
		if info == nil {
			continue
		}
		if m.separator == 0 && info.Delim != "" {
			m.separator, _ = utf8.DecodeRuneInString(info.Delim)
		}
		// Ignore \Noselect folders
		if info.Attrs[`\Noselect`] {
			continue
		}
		folders = append(folders, info.Name)
		m.logger.Debugf("%v", info)
	}
	sort.Strings(folders)
	m.folders = folders
	return folders, nil
}

func (m *ImapStore) HasFolder(name string) bool {
	m.Lock()
	defer m.Unlock()
	return StringInSlice(name, m.folders)
}

func (m *ImapStore) CreateFolder(ctx context.Context, name string) error {
	m.Lock()
	defer m.Unlock()
	return m.createFolder(ctx, name)
}

func (m *ImapStore) createFolder(ctx context.Context, name string) error {
	if m.dryrun {
		m.logger.Infof("would create folder %s", name)
		return nil
	}
	client, err := m.getImapClient(ctx)
	if err != nil {
		return m.e.E(err)
	}
	if _, err = imap.Wait(client.Create(name)); err != nil {
		return m.e.E(errors.Transport(err))
	}
	client.Data = nil
	m.folders = append(m.folders, name)
	m.logger.Infof("created folder %s", name)
	return nil
}

func (m *ImapStore) DeleteFolder(ctx context.Context, name string) error {
	m.Lock()
	defer m.Unlock()

	if !StringInSlice(name, m.folders) {
		return nil
	}
	if m.dryrun {
		m.logger.Infof("would delete folder %s", name)
		return nil
	}
	client, err := m.getImapClient(ctx)
	if err != nil {
		return m.e.E(err)
	}
	if _, err = imap.Wait(client.Delete(name)); err != nil {
		return m.e.E(errors.Transport(err))
	}
	client.Data = nil
	folders := m.folders[:0]
	for _, f := range m.folders {
		if f != name {
			folders = append(folders, f)
		}
	}
	m.folders = folders
	m.logger.Infof("deleted folder %s", name)
	return nil
}

func (m *ImapStore) OpenFolder(ctx context.Context, name string, readonly bool) (Folder, error) {
	m.Lock()
	if !StringInSlice(name, m.folders) {
		if readonly || m.dryrun {
			m.Unlock()
			return &emptyFolder{name: name}, nil
		}
		if err := m.createFolder(ctx, name); err != nil {
			m.Unlock()
			return nil, err
		}
	}
	m.Unlock()

	return NewImapFolder(ctx, m, name, readonly || m.dryrun)
}

func (m *ImapStore) Close() error {
	m.Lock()
	defer m.Unlock()
	if m.client == nil {
		return nil
	}
	_, err := m.client.Logout(imapLogoutTimeout)
	m.client = nil
	if err != nil {
		m.logger.Debugf("logout: %s", err)
	}
	return nil
}
