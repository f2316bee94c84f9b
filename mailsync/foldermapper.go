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
	stderrors "errors"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
)

// errOutsidePrefix is returned for remote folders not below the configured
// prefix. They are not synchronized.
var errOutsidePrefix = stderrors.New("folder outside prefix")

// FolderPair is a local folder and the remote folder it is synchronized
// with, as named by each repository.
type FolderPair struct {
	Local    string
	Remote   string
	OnLocal  bool
	OnRemote bool
}

// FolderMapper translates folder names between a remote repository and the
// local one of an account.
type FolderMapper struct {
	account      string
	prefix       string
	subs         []config.Substitution
	localSep     rune
	remoteSep    rune
	localFilter  *FolderFilter
	remoteFilter *FolderFilter
}

func NewFolderMapper(account string, localconf, remoteconf *config.RepositoryConfig, localSep, remoteSep rune) (*FolderMapper, error) {
	localFilter, err := NewFolderFilter(localconf.FolderFilter)
	if err != nil {
		return nil, errors.Configurationf("[Account: %s] repository %s: %s", account, localconf.Name, err)
	}
	remoteFilter, err := NewFolderFilter(remoteconf.FolderFilter)
	if err != nil {
		return nil, errors.Configurationf("[Account: %s] repository %s: %s", account, remoteconf.Name, err)
	}
	return &FolderMapper{
		account:      account,
		prefix:       remoteconf.Prefix,
		subs:         remoteconf.Substitute,
		localSep:     localSep,
		remoteSep:    remoteSep,
		localFilter:  localFilter,
		remoteFilter: remoteFilter,
	}, nil
}

func isInboxName(name string) bool {
	return strings.EqualFold(name, "INBOX")
}

// RemoteToLocal maps a remote folder name to its local name.
func (f *FolderMapper) RemoteToLocal(name string) (string, error) {
	if isInboxName(name) {
		return "INBOX", nil
	}
	if f.prefix != "" {
		if !strings.HasPrefix(name, f.prefix) || name == f.prefix {
			return "", errOutsidePrefix
		}
		name = strings.TrimPrefix(name, f.prefix)
	}
	components := strings.Split(name, string(f.remoteSep))
	for i, c := range components {
		for _, s := range f.subs {
			c = strings.ReplaceAll(c, s.From, s.To)
		}
		c = norm.NFC.String(c)
		if c == "" || strings.ContainsRune(c, f.localSep) || strings.ContainsRune(c, '/') {
			return "", errors.Configurationf("[Account: %s] remote folder %q maps to an invalid local name component %q", f.account, name, c)
		}
		components[i] = c
	}
	return strings.Join(components, string(f.localSep)), nil
}

// LocalToRemote maps a local folder name to its remote name.
func (f *FolderMapper) LocalToRemote(name string) (string, error) {
	if isInboxName(name) {
		return "INBOX", nil
	}
	components := strings.Split(name, string(f.localSep))
	for i, c := range components {
		for j := len(f.subs) - 1; j >= 0; j-- {
			if f.subs[j].To == "" {
				continue
			}
			c = strings.ReplaceAll(c, f.subs[j].To, f.subs[j].From)
		}
		if c == "" || strings.ContainsRune(c, f.remoteSep) {
			return "", errors.Configurationf("[Account: %s] local folder %q maps to an invalid remote name component %q", f.account, name, c)
		}
		components[i] = c
	}
	return f.prefix + strings.Join(components, string(f.remoteSep)), nil
}

func (f *FolderMapper) checkRemote(remote string) (string, error) {
	if isInboxName(remote) {
		return "INBOX", nil
	}
	local, err := f.RemoteToLocal(remote)
	if err != nil {
		return "", err
	}
	back, err := f.LocalToRemote(local)
	if err != nil {
		return "", err
	}
	if norm.NFC.String(back) != norm.NFC.String(remote) {
		return "", errors.Configurationf("[Account: %s] remote folder %q maps to local %q which maps back to %q", f.account, remote, local, back)
	}
	return local, nil
}

func (f *FolderMapper) checkLocal(local string) (string, error) {
	remote, err := f.LocalToRemote(local)
	if err != nil {
		return "", err
	}
	back, err := f.RemoteToLocal(remote)
	if err != nil {
		if err == errOutsidePrefix {
			return "", errors.Configurationf("[Account: %s] local folder %q maps outside the remote prefix", f.account, local)
		}
		return "", err
	}
	if back != norm.NFC.String(local) {
		return "", errors.Configurationf("[Account: %s] local folder %q maps to remote %q which maps back to %q", f.account, local, remote, back)
	}
	return remote, nil
}

// FoldersToSync pairs the remote and local folder listings. A folder is
// synchronized when both its names pass their repository filter and, if
// subset is not empty, one of them is in subset. Two folders mapping to
// the same name are a configuration error.
func (f *FolderMapper) FoldersToSync(remoteFolders, localFolders []string, subset []string) ([]FolderPair, error) {
	pairs := make(map[string]*FolderPair)
	remotes := make(map[string]string)

	for _, remote := range remoteFolders {
		local, err := f.checkRemote(remote)
		if err == errOutsidePrefix {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !f.remoteFilter.Match(remote) || !f.localFilter.Match(local) {
			continue
		}
		if p, ok := pairs[local]; ok {
			return nil, errors.Configurationf("[Account: %s] remote folders %q and %q both map to local folder %q", f.account, p.Remote, remote, local)
		}
		pairs[local] = &FolderPair{Local: local, Remote: remote, OnRemote: true}
		remotes[norm.NFC.String(remote)] = local
	}

	for _, local := range localFolders {
		remote, err := f.checkLocal(local)
		if err != nil {
			return nil, err
		}
		if !f.localFilter.Match(local) || !f.remoteFilter.Match(remote) {
			continue
		}
		key := norm.NFC.String(local)
		p, ok := pairs[key]
		if !ok {
			if other, ok := remotes[norm.NFC.String(remote)]; ok {
				return nil, errors.Configurationf("[Account: %s] local folders %q and %q both map to remote folder %q", f.account, other, local, remote)
			}
			p = &FolderPair{Remote: remote}
			pairs[key] = p
			remotes[norm.NFC.String(remote)] = local
		} else if p.OnLocal {
			return nil, errors.Configurationf("[Account: %s] local folders %q and %q have the same normalized name", f.account, p.Local, local)
		}
		p.Local = local
		p.OnLocal = true
	}

	folders := make([]FolderPair, 0, len(pairs))
	for _, p := range pairs {
		if len(subset) > 0 && !StringInSlice(p.Local, subset) && !StringInSlice(p.Remote, subset) {
			continue
		}
		folders = append(folders, *p)
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].Local < folders[j].Local })
	return folders, nil
}
