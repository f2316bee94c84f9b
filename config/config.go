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

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	RepositoryMaildir = "Maildir"
	RepositoryIMAP    = "IMAP"

	SyncModeQuick = "quick"
	SyncModeFull  = "full"

	DeleteModeExpunge = "expunge"
	DeleteModeFlag    = "flag"

	FlagConflictRemoteWins = "remote-wins"
	FlagConflictLocalWins  = "local-wins"
	FlagConflictUnion      = "union"

	DeleteConflictDeleteWins = "delete-wins"
	DeleteConflictResurrect  = "resurrect"

	StatusBackendSQLite = "sqlite"
	StatusBackendBolt   = "bolt"
)

type Config struct {
	Accounts        []*AccountConfig    `toml:"account"`
	Repositories    []*RepositoryConfig `toml:"repository"`
	Metadatadir     string              `toml:"metadatadir"`
	LogLevel        string              `toml:"loglevel"`
	DebugImap       bool                `toml:"debugimap"`
	MaxSyncAccounts int                 `toml:"maxsyncaccounts"`
	StatusBackend   string              `toml:"statusbackend"`
	// Accounts to run when none are selected on the command line.
	// Empty means all enabled accounts.
	DefaultAccounts []string `toml:"accounts"`
}

type AccountConfig struct {
	Name               string   `toml:"name"`
	LocalRepository    string   `toml:"localrepository"`
	RemoteRepositories []string `toml:"remoterepositories"`
	SyncMode           string   `toml:"syncmode"`
	// Number of quick passes between two full passes when autorefreshing.
	QuickPasses      int      `toml:"quickpasses"`
	Autorefresh      Duration `toml:"autorefresh"`
	MaxFolderWorkers int      `toml:"maxfolderworkers"`
	DeleteMode       string   `toml:"deletemode"`
	FlagConflict     string   `toml:"flagconflict"`
	DeleteConflict   string   `toml:"deleteconflict"`
	Disabled         bool     `toml:"disabled"`
}

type Substitution struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

type RepositoryConfig struct {
	Name string `toml:"name"`
	Type string `toml:"type"`

	// Folders Patterns matching.
	// The format is:
	// /pattern/
	// !/pattern/
	FolderFilter []string `toml:"folderfilter"`

	// Name translation. Prefix is stripped from remote folder names,
	// substitutions are applied to every name component.
	Prefix     string         `toml:"prefix"`
	Substitute []Substitution `toml:"substitute"`

	// Imap specific config options
	Host               string `toml:"host"`
	Port               uint16 `toml:"port"`
	Username           string `toml:"username"`
	PasswordEnv        string `toml:"passwordenv"`
	PasswordCommand    string `toml:"passwordcommand"`
	StartTLS           bool   `toml:"starttls"`
	TLS                bool   `toml:"tls"`
	InsecureSkipVerify bool   `toml:"insecureskipverify"`

	// Maildir specific config options
	Maildir   string `toml:"maildir"`
	InboxPath string `toml:"inboxpath"`
	Separator string `toml:"separator"`
}

// SeparatorRune returns the maildir hierarchy separator.
func (c *RepositoryConfig) SeparatorRune() rune {
	for _, r := range c.Separator {
		return r
	}
	return '.'
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func ParseConfig(conffilepath string) (conf *Config, err error) {
	conf = &Config{}
	md, err := toml.DecodeFile(conffilepath, conf)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration keys: %v", undecoded)
	}
	if err := SetDefaults(conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// SetDefaults fills the options left empty by the configuration file.
func SetDefaults(conf *Config) error {
	if conf.Metadatadir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		conf.Metadatadir = filepath.Join(home, ".offlineimap")
	}
	conf.Metadatadir = expandHome(conf.Metadatadir)
	if conf.LogLevel == "" {
		conf.LogLevel = "info"
	}
	if conf.MaxSyncAccounts == 0 {
		conf.MaxSyncAccounts = 1
	}
	if conf.StatusBackend == "" {
		conf.StatusBackend = StatusBackendSQLite
	}
	for _, a := range conf.Accounts {
		if a.SyncMode == "" {
			a.SyncMode = SyncModeFull
		}
		if a.MaxFolderWorkers == 0 {
			a.MaxFolderWorkers = 1
		}
		if a.DeleteMode == "" {
			a.DeleteMode = DeleteModeExpunge
		}
		if a.FlagConflict == "" {
			a.FlagConflict = FlagConflictRemoteWins
		}
		if a.DeleteConflict == "" {
			a.DeleteConflict = DeleteConflictDeleteWins
		}
	}
	for _, r := range conf.Repositories {
		if r.Type == RepositoryMaildir {
			if r.Separator == "" {
				r.Separator = "."
			}
			if r.InboxPath == "" {
				r.InboxPath = "INBOX"
			}
			r.Maildir = expandHome(r.Maildir)
		}
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func (c *Config) Account(name string) *AccountConfig {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a
		}
	}
	return nil
}

func (c *Config) Repository(name string) *RepositoryConfig {
	for _, r := range c.Repositories {
		if r.Name == name {
			return r
		}
	}
	return nil
}
