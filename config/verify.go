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
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

func VerifyConfig(config *Config) (err error) {
	validloglevels := []string{"error", "info", "debug"}
	if !StringInSlice(config.LogLevel, validloglevels) {
		return fmt.Errorf("Wrong log level: \"%s\". Valid levels are: %s", config.LogLevel, validloglevels)
	}
	validbackends := []string{StatusBackendSQLite, StatusBackendBolt}
	if !StringInSlice(config.StatusBackend, validbackends) {
		return fmt.Errorf("Wrong status backend: \"%s\". Valid backends are: %s", config.StatusBackend, validbackends)
	}
	if config.MaxSyncAccounts < 1 {
		return fmt.Errorf("maxsyncaccounts must be at least 1")
	}

	names := make(map[string]bool)
	for _, repoconf := range config.Repositories {
		if err = VerifyRepositoryConfig(repoconf); err != nil {
			return err
		}
		if names[repoconf.Name] {
			return fmt.Errorf("[Repository: %s] defined more than once", repoconf.Name)
		}
		names[repoconf.Name] = true
	}

	names = make(map[string]bool)
	for _, accountconf := range config.Accounts {
		if err = VerifyAccountConfig(config, accountconf); err != nil {
			return err
		}
		if names[accountconf.Name] {
			return fmt.Errorf("[Account: %s] defined more than once", accountconf.Name)
		}
		names[accountconf.Name] = true
	}
	if err = verifyMaildirOwners(config); err != nil {
		return err
	}
	for _, name := range config.DefaultAccounts {
		if !names[name] {
			return fmt.Errorf("accounts: unknown account \"%s\"", name)
		}
	}
	return nil
}

// verifyMaildirOwners checks that every maildir is used by one account
// only. Accounts run concurrently and don't share folder locks.
func verifyMaildirOwners(config *Config) error {
	owners := make(map[string]string)
	for _, accountconf := range config.Accounts {
		repos := append([]string{accountconf.LocalRepository}, accountconf.RemoteRepositories...)
		for _, name := range repos {
			repoconf := config.Repository(name)
			if repoconf == nil || repoconf.Type != RepositoryMaildir {
				continue
			}
			path := filepath.Clean(expandHome(repoconf.Maildir))
			if owner, ok := owners[path]; ok && owner != accountconf.Name {
				return fmt.Errorf("[Account: %s] maildir %s of repository %s is already used by account %s", accountconf.Name, repoconf.Maildir, name, owner)
			}
			owners[path] = accountconf.Name
		}
	}
	return nil
}

func VerifyRepositoryConfig(config *RepositoryConfig) (err error) {
	if config.Name == "" {
		return fmt.Errorf("Repository name is empty")
	}
	errprefix := fmt.Sprintf("[Repository: %s] ", config.Name)
	validtypes := []string{RepositoryIMAP, RepositoryMaildir}
	if !StringInSlice(config.Type, validtypes) {
		return fmt.Errorf(errprefix+"Wrong repository type: \"%s\". Valid types are: %s", config.Type, validtypes)
	}
	for _, p := range config.FolderFilter {
		if err := ValidatePattern(p); err != nil {
			return fmt.Errorf(errprefix+"folderfilter %q: %s", p, err)
		}
	}
	for _, s := range config.Substitute {
		if s.From == "" {
			return fmt.Errorf(errprefix + "substitute with empty from")
		}
	}

	switch config.Type {
	case RepositoryIMAP:
		if config.Host == "" {
			return fmt.Errorf(errprefix + "host option is empty")
		}
		if config.TLS && config.StartTLS {
			return fmt.Errorf(errprefix + "Both tls and starttls enabled. Only one of them is permitted.")
		}
		if config.PasswordEnv != "" && config.PasswordCommand != "" {
			return fmt.Errorf(errprefix + "Both passwordenv and passwordcommand set. Only one of them is permitted.")
		}
	case RepositoryMaildir:
		if config.Maildir == "" {
			return fmt.Errorf(errprefix + "maildir option is empty")
		}
		if utf8.RuneCountInString(config.Separator) != 1 {
			return fmt.Errorf(errprefix+"Wrong separator: \"%s\". Valid separators are: . /", config.Separator)
		}
		validseparators := []rune{'.', '/'}
		if !RuneInSlice(config.SeparatorRune(), validseparators) {
			return fmt.Errorf(errprefix+"Wrong separator: \"%s\". Valid separators are: . /", config.Separator)
		}
	}
	return
}

func VerifyAccountConfig(globalconfig *Config, config *AccountConfig) (err error) {
	if config.Name == "" {
		return fmt.Errorf("Account name is empty")
	}
	errprefix := fmt.Sprintf("[Account: %s] ", config.Name)

	local := globalconfig.Repository(config.LocalRepository)
	if local == nil {
		return fmt.Errorf(errprefix+"Missing repository definition for localrepository \"%s\"", config.LocalRepository)
	}
	if local.Type != RepositoryMaildir {
		return fmt.Errorf(errprefix+"localrepository \"%s\" must be of type %s", local.Name, RepositoryMaildir)
	}
	if len(config.RemoteRepositories) == 0 {
		return fmt.Errorf(errprefix + "no remoterepositories")
	}
	for _, name := range config.RemoteRepositories {
		if name == config.LocalRepository {
			return fmt.Errorf(errprefix+"repository \"%s\" is both local and remote", name)
		}
		if globalconfig.Repository(name) == nil {
			return fmt.Errorf(errprefix+"Missing repository definition for remoterepository \"%s\"", name)
		}
	}

	if !StringInSlice(config.SyncMode, []string{SyncModeQuick, SyncModeFull}) {
		return fmt.Errorf(errprefix+"Wrong syncmode: \"%s\"", config.SyncMode)
	}
	validdeletemodes := []string{DeleteModeExpunge, DeleteModeFlag}
	if !StringInSlice(config.DeleteMode, validdeletemodes) {
		return fmt.Errorf(errprefix+"Wrong deletemode: \"%s\". Valid modes are: %s", config.DeleteMode, validdeletemodes)
	}
	validflagconflicts := []string{FlagConflictRemoteWins, FlagConflictLocalWins, FlagConflictUnion}
	if !StringInSlice(config.FlagConflict, validflagconflicts) {
		return fmt.Errorf(errprefix+"Wrong flagconflict: \"%s\". Valid policies are: %s", config.FlagConflict, validflagconflicts)
	}
	validdeleteconflicts := []string{DeleteConflictDeleteWins, DeleteConflictResurrect}
	if !StringInSlice(config.DeleteConflict, validdeleteconflicts) {
		return fmt.Errorf(errprefix+"Wrong deleteconflict: \"%s\". Valid policies are: %s", config.DeleteConflict, validdeleteconflicts)
	}
	if config.MaxFolderWorkers < 1 {
		return fmt.Errorf(errprefix + "maxfolderworkers must be at least 1")
	}
	if config.QuickPasses < 0 {
		return fmt.Errorf(errprefix + "quickpasses must be positive.")
	}

	// verify duration
	if int64(config.Autorefresh.Duration) < 0 {
		return fmt.Errorf(errprefix + "autorefresh must be positive.")
	}
	return
}

// ValidatePattern checks a folder filter pattern: /regexp/ includes,
// !/regexp/ excludes.
func ValidatePattern(pattern string) error {
	if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "!/") {
		return fmt.Errorf("pattern doesn't starts with \"/\" or \"!/\"")
	}
	if len(strings.TrimPrefix(pattern, "!")) < 2 || !strings.HasSuffix(pattern, "/") {
		return fmt.Errorf("pattern doesn't ends with \"/\"")
	}
	res := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(pattern, "!"), "/"), "/")
	if _, err := regexp.Compile(res); err != nil {
		return fmt.Errorf("wrong regexp: %s", err)
	}
	return nil
}

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}

func RuneInSlice(a rune, list []rune) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}
