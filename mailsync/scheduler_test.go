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
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/Ronald1962/offlineimap3/config"
)

type schedulerTest struct {
	dir    string
	conf   *config.Config
	local  string
	remote string
}

func newSchedulerTest(t *testing.T, backend string) *schedulerTest {
	dir := t.TempDir()
	st := &schedulerTest{
		dir:    dir,
		local:  filepath.Join(dir, "local1"),
		remote: filepath.Join(dir, "remote1"),
	}
	st.conf = &config.Config{
		Metadatadir:   filepath.Join(dir, "metadatadir"),
		LogLevel:      "debug",
		StatusBackend: backend,
		Repositories: []*config.RepositoryConfig{
			{Name: "local1", Type: config.RepositoryMaildir, Maildir: st.local},
			{Name: "remote1", Type: config.RepositoryMaildir, Maildir: st.remote},
		},
		Accounts: []*config.AccountConfig{
			{Name: "account1", LocalRepository: "local1", RemoteRepositories: []string{"remote1"}},
		},
	}
	if err := config.SetDefaults(st.conf); err != nil {
		t.Fatal(err)
	}
	return st
}

// deliver drops a message in the new directory of a maildir folder, like
// a delivery agent.
func deliver(t *testing.T, root, folder, name, body string) {
	dir := filepath.Join(root, folder)
	for _, d := range maildirSubdirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0700); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "new", name), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

// folderBodies returns the sorted bodies of the messages of a maildir
// folder, trashed ones excluded.
func folderBodies(t *testing.T, root, folder string) []string {
	bodies := make([]string, 0)
	for _, d := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(root, folder, d))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			t.Fatal(err)
		}
		for _, entry := range entries {
			if i := strings.LastIndex(entry.Name(), ":2,"); i >= 0 && strings.ContainsRune(entry.Name()[i:], 'T') {
				continue
			}
			data, err := os.ReadFile(filepath.Join(root, folder, d, entry.Name()))
			if err != nil {
				t.Fatal(err)
			}
			bodies = append(bodies, string(data))
		}
	}
	sort.Strings(bodies)
	return bodies
}

// removeMessage deletes the message with the given body from a maildir
// folder.
func removeMessage(t *testing.T, root, folder, body string) {
	for _, d := range []string{"cur", "new"} {
		entries, err := os.ReadDir(filepath.Join(root, folder, d))
		if err != nil {
			t.Fatal(err)
		}
		for _, entry := range entries {
			path := filepath.Join(root, folder, d, entry.Name())
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) == body {
				if err := os.Remove(path); err != nil {
					t.Fatal(err)
				}
				return
			}
		}
	}
	t.Fatalf("message %q not found in %s", body, folder)
}

// tree returns every file below dir with its content.
func tree(t *testing.T, dir string) map[string]string {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			files[path+"/"] = ""
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[path] = string(data)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return files
}

func (st *schedulerTest) runPass(t *testing.T, s *Scheduler, opts Options) *PassResult {
	t.Helper()
	pass, err := s.RunPass(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range pass.Accounts {
		if a.Err != nil {
			t.Fatalf("account %s: %s", a.Name, a.Err)
		}
		for _, f := range a.Folders {
			if f.Err != nil {
				t.Fatalf("account %s folder %s: %s", a.Name, f.Folder, f.Err)
			}
		}
	}
	return pass
}

func (st *schedulerTest) entries(t *testing.T, folder string) []*StatusEntry {
	t.Helper()
	status, err := OpenStatusStore(st.conf, "account1", true)
	if err != nil {
		t.Fatal(err)
	}
	defer status.Close()
	p, err := status.Partition("remote1", folder)
	if err != nil {
		t.Fatal(err)
	}
	entries, err := p.Entries()
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func plannedOps(pass *PassResult) int {
	n := 0
	for _, a := range pass.Accounts {
		for _, f := range a.Folders {
			n += len(f.Planned)
		}
	}
	return n
}

func TestSchedulerRunPass(t *testing.T) {
	for _, backend := range []string{config.StatusBackendSQLite, config.StatusBackendBolt} {
		st := newSchedulerTest(t, backend)
		deliver(t, st.local, "INBOX", "1397565555.M1P1.host", "A")
		deliver(t, st.remote, "INBOX", "1397565556.M1P1.host", "B")
		deliver(t, st.remote, "Sent", "1397565557.M1P1.host", "C")

		s := NewScheduler(st.conf, StaticCredentials{})
		pass := st.runPass(t, s, Options{})
		if pass.Failed() || len(pass.Accounts) != 1 || pass.Accounts[0].State != Idle {
			t.Fatalf("%s: unexpected pass result %#v", backend, pass.Accounts)
		}
		if len(pass.Accounts[0].Folders) != 2 {
			t.Fatalf("%s: expected two folders, found %d", backend, len(pass.Accounts[0].Folders))
		}

		for _, root := range []string{st.local, st.remote} {
			if b := folderBodies(t, root, "INBOX"); !reflect.DeepEqual(b, []string{"A", "B"}) {
				t.Fatalf("%s: expected INBOX [A B] in %s, found %v", backend, root, b)
			}
			if b := folderBodies(t, root, "Sent"); !reflect.DeepEqual(b, []string{"C"}) {
				t.Fatalf("%s: expected Sent [C] in %s, found %v", backend, root, b)
			}
		}
		if entries := st.entries(t, "INBOX"); len(entries) != 2 {
			t.Fatalf("%s: expected two checkpoint entries, found %v", backend, entries)
		}

		pass = st.runPass(t, s, Options{})
		if n := plannedOps(pass); n != 0 {
			t.Fatalf("%s: expected no operations on the second pass, found %d", backend, n)
		}

		removeMessage(t, st.local, "INBOX", "A")
		st.runPass(t, s, Options{})
		for _, root := range []string{st.local, st.remote} {
			if b := folderBodies(t, root, "INBOX"); !reflect.DeepEqual(b, []string{"B"}) {
				t.Fatalf("%s: expected INBOX [B] in %s, found %v", backend, root, b)
			}
		}
		if entries := st.entries(t, "INBOX"); len(entries) != 1 {
			t.Fatalf("%s: expected one checkpoint entry, found %v", backend, entries)
		}
	}
}

func TestSchedulerFolderSubset(t *testing.T) {
	st := newSchedulerTest(t, config.StatusBackendSQLite)
	deliver(t, st.remote, "INBOX", "1397565556.M1P1.host", "B")
	deliver(t, st.remote, "Sent", "1397565557.M1P1.host", "C")

	s := NewScheduler(st.conf, StaticCredentials{})
	pass := st.runPass(t, s, Options{Folders: []string{"Sent"}, SingleThreaded: true})
	if len(pass.Accounts[0].Folders) != 1 || pass.Accounts[0].Folders[0].Folder != "Sent" {
		t.Fatalf("expected only Sent, found %v", pass.Accounts[0].Folders)
	}
	if b := folderBodies(t, st.local, "INBOX"); len(b) != 0 {
		t.Fatalf("expected local INBOX untouched, found %v", b)
	}
}

func TestSchedulerDryRun(t *testing.T) {
	st := newSchedulerTest(t, config.StatusBackendBolt)
	deliver(t, st.local, "INBOX", "1397565555.M1P1.host", "A")
	deliver(t, st.remote, "INBOX", "1397565556.M1P1.host", "B")

	s := NewScheduler(st.conf, StaticCredentials{})
	st.runPass(t, s, Options{})

	deliver(t, st.local, "INBOX", "1397565558.M1P1.host", "D")
	deliver(t, st.remote, "Archive", "1397565559.M1P1.host", "E")
	removeMessage(t, st.remote, "INBOX", "A")

	before := tree(t, st.dir)
	pass := st.runPass(t, s, Options{DryRun: true})
	if !pass.DryRun {
		t.Fatalf("expected a dry run pass")
	}
	if n := plannedOps(pass); n != 3 {
		t.Fatalf("expected 3 planned operations, found %d", n)
	}
	if after := tree(t, st.dir); !reflect.DeepEqual(before, after) {
		t.Fatalf("dry run changed files:\nbefore: %v\nafter: %v", before, after)
	}

	pass = st.runPass(t, s, Options{})
	if n := plannedOps(pass); n != 3 {
		t.Fatalf("expected 3 operations, found %d", n)
	}
	if b := folderBodies(t, st.remote, "INBOX"); !reflect.DeepEqual(b, []string{"B", "D"}) {
		t.Fatalf("expected remote INBOX [B D], found %v", b)
	}
	if b := folderBodies(t, st.local, "Archive"); !reflect.DeepEqual(b, []string{"E"}) {
		t.Fatalf("expected local Archive [E], found %v", b)
	}
}

func TestSchedulerAccountError(t *testing.T) {
	st := newSchedulerTest(t, config.StatusBackendSQLite)
	remote2 := filepath.Join(st.dir, "remote2")
	st.conf.Repositories = append(st.conf.Repositories,
		&config.RepositoryConfig{Name: "local2", Type: config.RepositoryMaildir, Maildir: filepath.Join(st.dir, "local2")},
		&config.RepositoryConfig{
			Name:       "remote2",
			Type:       config.RepositoryMaildir,
			Maildir:    remote2,
			Substitute: []config.Substitution{{From: " ", To: "_"}},
		},
	)
	st.conf.Accounts = append(st.conf.Accounts,
		&config.AccountConfig{Name: "account2", LocalRepository: "local2", RemoteRepositories: []string{"remote2"}},
	)
	if err := config.SetDefaults(st.conf); err != nil {
		t.Fatal(err)
	}
	// Both map to the local folder Foo_Bar.
	deliver(t, remote2, "Foo Bar", "1397565555.M1P1.host", "X")
	deliver(t, remote2, "Foo_Bar", "1397565556.M1P1.host", "Y")
	deliver(t, st.remote, "INBOX", "1397565557.M1P1.host", "B")

	s := NewScheduler(st.conf, StaticCredentials{})
	pass, err := s.RunPass(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !pass.Failed() {
		t.Fatalf("expected the pass to fail")
	}
	states := make(map[string]AccountState)
	for _, a := range pass.Accounts {
		states[a.Name] = a.State
	}
	if states["account1"] != Idle || states["account2"] != Error {
		t.Fatalf("unexpected account states %v", states)
	}
	if b := folderBodies(t, st.local, "INBOX"); !reflect.DeepEqual(b, []string{"B"}) {
		t.Fatalf("expected account1 to be synchronized, found %v", b)
	}

	// Failed accounts are skipped by the next passes.
	pass, err = s.RunPass(context.Background(), Options{Accounts: []string{"account2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(pass.Accounts) != 1 || pass.Accounts[0].State != Error || pass.Accounts[0].Err == nil {
		t.Fatalf("expected account2 skipped in error, found %#v", pass.Accounts)
	}

	if _, err := s.RunPass(context.Background(), Options{Accounts: []string{"unknown"}}); err == nil {
		t.Fatalf("expected an error for an unknown account")
	}
}

func TestSchedulerDeleteFolder(t *testing.T) {
	st := newSchedulerTest(t, config.StatusBackendSQLite)
	deliver(t, st.remote, "INBOX", "1397565556.M1P1.host", "B")
	deliver(t, st.remote, "Sent", "1397565557.M1P1.host", "C")

	s := NewScheduler(st.conf, StaticCredentials{})
	st.runPass(t, s, Options{})

	if err := s.DeleteFolder(context.Background(), "account1", "Sent", true); err != nil {
		t.Fatal(err)
	}
	if !isMaildir(filepath.Join(st.remote, "Sent")) {
		t.Fatalf("dry run deleted the folder")
	}

	if err := s.DeleteFolder(context.Background(), "account1", "Sent", false); err != nil {
		t.Fatal(err)
	}
	if isMaildir(filepath.Join(st.remote, "Sent")) {
		t.Fatalf("expected remote folder Sent to be deleted")
	}
	if entries := st.entries(t, "Sent"); len(entries) != 0 {
		t.Fatalf("expected Sent checkpoints to be dropped, found %v", entries)
	}
	if err := s.DeleteFolder(context.Background(), "account1", "Missing", false); err == nil {
		t.Fatalf("expected an error deleting a missing folder")
	}
}

func TestSchedulerPruneStatus(t *testing.T) {
	st := newSchedulerTest(t, config.StatusBackendSQLite)
	deliver(t, st.remote, "INBOX", "1397565556.M1P1.host", "B")
	deliver(t, st.remote, "Sent", "1397565557.M1P1.host", "C")

	s := NewScheduler(st.conf, StaticCredentials{})
	st.runPass(t, s, Options{})

	for _, root := range []string{st.local, st.remote} {
		if err := os.RemoveAll(filepath.Join(root, "Sent")); err != nil {
			t.Fatal(err)
		}
	}

	expected := []PartitionKey{{Remote: "remote1", Folder: "Sent"}}
	pruned, err := s.PruneStatus(context.Background(), "account1", true)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pruned, expected) {
		t.Fatalf("expected %v, found %v", expected, pruned)
	}
	if entries := st.entries(t, "Sent"); len(entries) != 1 {
		t.Fatalf("dry run dropped checkpoints, found %v", entries)
	}

	pruned, err = s.PruneStatus(context.Background(), "account1", false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(pruned, expected) {
		t.Fatalf("expected %v, found %v", expected, pruned)
	}
	if entries := st.entries(t, "Sent"); len(entries) != 0 {
		t.Fatalf("expected Sent checkpoints to be dropped, found %v", entries)
	}
}
