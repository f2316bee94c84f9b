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
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
)

// CredentialProvider supplies the secret used to log in to a remote
// repository.
type CredentialProvider interface {
	Secret(ctx context.Context, account string, repository string) (string, error)
}

// EnvCredentials reads the secret of each repository from an environment
// variable.
type EnvCredentials map[string]string

func (c EnvCredentials) Secret(ctx context.Context, account string, repository string) (string, error) {
	name, ok := c[repository]
	if !ok || name == "" {
		return "", errors.Configurationf("[Account: %s] no password environment variable for repository %s", account, repository)
	}
	secret, ok := os.LookupEnv(name)
	if !ok {
		return "", errors.Configurationf("[Account: %s] environment variable %s for repository %s is not set", account, name, repository)
	}
	return secret, nil
}

// CommandCredentials runs a shell command per repository and uses the
// first line of its output as secret.
type CommandCredentials map[string]string

func (c CommandCredentials) Secret(ctx context.Context, account string, repository string) (string, error) {
	command, ok := c[repository]
	if !ok || command == "" {
		return "", errors.Configurationf("[Account: %s] no password command for repository %s", account, repository)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Configurationf("[Account: %s] password command for repository %s failed: %s: %s", account, repository, err, strings.TrimSpace(stderr.String()))
	}
	scanner := bufio.NewScanner(&stdout)
	if !scanner.Scan() || scanner.Text() == "" {
		return "", errors.Configurationf("[Account: %s] password command for repository %s returned nothing", account, repository)
	}
	return scanner.Text(), nil
}

// StaticCredentials holds secrets keyed by repository name.
type StaticCredentials map[string]string

func (c StaticCredentials) Secret(ctx context.Context, account string, repository string) (string, error) {
	secret, ok := c[repository]
	if !ok {
		return "", errors.Configurationf("[Account: %s] no secret for repository %s", account, repository)
	}
	return secret, nil
}

// RepositoryCredentials picks the provider configured on each repository.
type RepositoryCredentials struct {
	conf *config.Config
}

func NewRepositoryCredentials(conf *config.Config) *RepositoryCredentials {
	return &RepositoryCredentials{conf: conf}
}

func (c *RepositoryCredentials) Secret(ctx context.Context, account string, repository string) (string, error) {
	repoconf := c.conf.Repository(repository)
	if repoconf == nil {
		return "", errors.Configurationf("[Account: %s] unknown repository %s", account, repository)
	}
	switch {
	case repoconf.PasswordEnv != "":
		return EnvCredentials{repository: repoconf.PasswordEnv}.Secret(ctx, account, repository)
	case repoconf.PasswordCommand != "":
		return CommandCredentials{repository: repoconf.PasswordCommand}.Secret(ctx, account, repository)
	}
	return "", errors.Configurationf("[Account: %s] repository %s has neither passwordenv nor passwordcommand", account, repository)
}
