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

	"github.com/Ronald1962/offlineimap3/config"
)

// NewRepository opens the repository described by repoconf for account.
// Messages deleted in it follow deletemode.
func NewRepository(globalconfig *config.Config, repoconf *config.RepositoryConfig, account string, deletemode string, creds CredentialProvider, dryrun bool) (Repository, error) {
	switch repoconf.Type {
	case config.RepositoryMaildir:
		return NewMaildirStore(globalconfig, repoconf, deletemode, dryrun)
	case config.RepositoryIMAP:
		return NewImapStore(globalconfig, repoconf, account, deletemode, creds, dryrun)
	}
	return nil, fmt.Errorf("[Repository: %s] unknown repository type %q", repoconf.Name, repoconf.Type)
}
