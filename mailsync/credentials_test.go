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
	"testing"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
)

func TestEnvCredentials(t *testing.T) {
	ctx := context.Background()
	t.Setenv("OFFLINEIMAP_TEST_SECRET", "s3cret")

	c := EnvCredentials{"remote1": "OFFLINEIMAP_TEST_SECRET", "remote2": "OFFLINEIMAP_TEST_UNSET"}
	secret, err := c.Secret(ctx, "account1", "remote1")
	if err != nil {
		t.Fatal(err)
	}
	if secret != "s3cret" {
		t.Fatalf("expected s3cret, found %q", secret)
	}
	for _, repo := range []string{"remote2", "remote3"} {
		if _, err := c.Secret(ctx, "account1", repo); errors.KindOf(err) != errors.KindConfiguration {
			t.Fatalf("%s: expected a configuration error, found %v", repo, err)
		}
	}
}

func TestCommandCredentials(t *testing.T) {
	ctx := context.Background()
	c := CommandCredentials{
		"remote1": "printf 'first\\nsecond\\n'",
		"remote2": "exit 3",
		"remote3": "true",
	}
	secret, err := c.Secret(ctx, "account1", "remote1")
	if err != nil {
		t.Fatal(err)
	}
	if secret != "first" {
		t.Fatalf("expected the first output line, found %q", secret)
	}
	for _, repo := range []string{"remote2", "remote3", "remote4"} {
		if _, err := c.Secret(ctx, "account1", repo); errors.KindOf(err) != errors.KindConfiguration {
			t.Fatalf("%s: expected a configuration error, found %v", repo, err)
		}
	}
}

func TestRepositoryCredentials(t *testing.T) {
	ctx := context.Background()
	t.Setenv("OFFLINEIMAP_TEST_SECRET", "fromenv")
	conf := &config.Config{
		Repositories: []*config.RepositoryConfig{
			{Name: "env", Type: config.RepositoryIMAP, PasswordEnv: "OFFLINEIMAP_TEST_SECRET"},
			{Name: "command", Type: config.RepositoryIMAP, PasswordCommand: "echo fromcommand"},
			{Name: "none", Type: config.RepositoryIMAP},
		},
	}
	c := NewRepositoryCredentials(conf)

	tests := map[string]string{"env": "fromenv", "command": "fromcommand"}
	for repo, expected := range tests {
		secret, err := c.Secret(ctx, "account1", repo)
		if err != nil {
			t.Fatal(err)
		}
		if secret != expected {
			t.Fatalf("%s: expected %q, found %q", repo, expected, secret)
		}
	}
	for _, repo := range []string{"none", "unknown"} {
		if _, err := c.Secret(ctx, "account1", repo); errors.KindOf(err) != errors.KindConfiguration {
			t.Fatalf("%s: expected a configuration error, found %v", repo, err)
		}
	}
}
