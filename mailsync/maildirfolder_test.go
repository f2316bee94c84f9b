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
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
)

func newTestMaildirStore(t *testing.T, deletemode string, dryrun bool) *MaildirStore {
	testdir := t.TempDir()
	globalconfig := &config.Config{
		Metadatadir: filepath.Join(testdir, "metadatadir"),
		LogLevel:    "debug",
	}
	repoconf := &config.RepositoryConfig{
		Name:      "local",
		Type:      config.RepositoryMaildir,
		Maildir:   filepath.Join(testdir, "maildir"),
		Separator: ".",
		InboxPath: "INBOX",
	}
	store, err := NewMaildirStore(globalconfig, repoconf, deletemode, dryrun)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func openTestMaildirFolder(t *testing.T, store *MaildirStore, name string) *MaildirFolder {
	f, err := store.OpenFolder(context.Background(), name, false)
	if err != nil {
		t.Fatal(err)
	}
	mf, ok := f.(*MaildirFolder)
	if !ok {
		t.Fatalf("expected a *MaildirFolder, got %T", f)
	}
	return mf
}

func listTestMaildirFolder(t *testing.T, f Folder) *Snapshot {
	snapshot, err := f.ListMessages(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	return snapshot
}

func addMessage(t *testing.T, f *MaildirFolder, filename string, subdir string, body string) {
	if err := os.WriteFile(filepath.Join(f.maildir, subdir, filename), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestSplitFilename(t *testing.T) {
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)
	fm1 := openTestMaildirFolder(t, store, "INBOX")

	tests := []struct {
		fullfilename string
		filename     string
		flags        string
		err          bool
	}{
		{
			fullfilename: "1397565555_19.22053.localhost.localdomain,u=19,f=35745cb548222dd3d38d87c3deb395c2:2,SRF",
			filename:     "1397565555_19.22053.localhost.localdomain,u=19,f=35745cb548222dd3d38d87c3deb395c2",
			flags:        "FRS",
		},
		{
			fullfilename: "1397565555_19.22053.localhost.localdomain,u=19,f=35745cb548222dd3d38d87c3deb395c2:2,",
			filename:     "1397565555_19.22053.localhost.localdomain,u=19,f=35745cb548222dd3d38d87c3deb395c2",
			flags:        "",
		},
		{
			fullfilename: "abcdefghijklmnopqrstuvwxyz:2,SSa",
			filename:     "abcdefghijklmnopqrstuvwxyz",
			flags:        "Sa",
		},
		{fullfilename: "abcdefghijklmnopqrstuvwxyz:123456OA", err: true},
		{fullfilename: "abcdefghijklmnopqrstuvwxyz", err: true},
	}

	for _, tt := range tests {
		filename, flags, err := fm1.splitFilename(tt.fullfilename)
		if tt.err {
			if err == nil {
				t.Errorf("%s: expected an error, found filename %q, flags %q", tt.fullfilename, filename, flags)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: unexpected error: %s", tt.fullfilename, err)
			continue
		}
		if filename != tt.filename || flags != tt.flags {
			t.Errorf("%s: expected filename %q flags %q, found filename %q flags %q", tt.fullfilename, tt.filename, tt.flags, filename, flags)
		}
	}
}

func TestMaildirFolderStoreAndList(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)
	fm1 := openTestMaildirFolder(t, store, "INBOX")

	bodies := []string{"message one", "message two", "message three"}
	for i, body := range bodies {
		uid, err := fm1.Store(ctx, []byte(body), Flags("S"))
		if err != nil {
			t.Fatal(err)
		}
		if uid != uint32(i+1) {
			t.Fatalf("expected uid %d, found %d", i+1, uid)
		}
	}

	entries, err := os.ReadDir(filepath.Join(fm1.maildir, "tmp"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected tmp to be empty, found %d files", len(entries))
	}

	// A new folder object only knows what is on disk.
	fm2 := openTestMaildirFolder(t, store, "INBOX")
	snapshot := listTestMaildirFolder(t, fm2)
	if len(snapshot.Messages) != len(bodies) {
		t.Fatalf("expected %d messages, found %d", len(bodies), len(snapshot.Messages))
	}
	for i, body := range bodies {
		uid := uint32(i + 1)
		msg, ok := snapshot.Messages[uid]
		if !ok {
			t.Fatalf("uid %d not listed", uid)
		}
		if msg.Flags != "S" || msg.Size != int64(len(body)) {
			t.Errorf("uid %d: unexpected message info %#v", uid, msg)
		}
		data, flags, err := fm2.Fetch(ctx, uid)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != body || flags != "S" {
			t.Errorf("uid %d: expected body %q flags S, found %q flags %q", uid, body, data, flags)
		}
	}

	if _, _, err := fm2.Fetch(ctx, 42); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, found %v", err)
	}
}

func TestMaildirFolderUIDsNeverReused(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)
	fm1 := openTestMaildirFolder(t, store, "INBOX")

	for _, body := range []string{"a", "b"} {
		if _, err := fm1.Store(ctx, []byte(body), ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := fm1.Delete(ctx, 2); err != nil {
		t.Fatal(err)
	}
	uid, err := fm1.Store(ctx, []byte("c"), "")
	if err != nil {
		t.Fatal(err)
	}
	if uid != 3 {
		t.Fatalf("expected uid 3, found %d", uid)
	}

	if err := fm1.Delete(ctx, 3); err != nil {
		t.Fatal(err)
	}
	fm2 := openTestMaildirFolder(t, store, "INBOX")
	snapshot := listTestMaildirFolder(t, fm2)
	if len(snapshot.Messages) != 1 || !snapshot.Has(1) {
		t.Fatalf("expected only uid 1, found %v", sortedUIDs(snapshot.Messages))
	}
	uid, err = fm2.Store(ctx, []byte("d"), "")
	if err != nil {
		t.Fatal(err)
	}
	if uid != 4 {
		t.Fatalf("expected uid 4, found %d", uid)
	}
}

func TestMaildirFolderProvisionalUID(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)
	fm1 := openTestMaildirFolder(t, store, "INBOX")

	addMessage(t, fm1, "1397565555.M1P2.otherclient", "new", "delivered by another client")
	addMessage(t, fm1, "1397565556.M1P2.otherclient:2,S", "cur", "read by another client")
	// Not a maildir filename, only accepted in new.
	addMessage(t, fm1, "file03:wrongwrong", "cur", "garbage")

	snapshot := listTestMaildirFolder(t, fm1)
	if len(snapshot.Messages) != 2 {
		t.Fatalf("expected 2 messages, found %d", len(snapshot.Messages))
	}
	for uid := range snapshot.Messages {
		if uid < math.MaxUint32-1 {
			t.Fatalf("expected provisional uids, found %d", uid)
		}
	}

	newuid, err := fm1.AssignUID(ctx, math.MaxUint32)
	if err != nil {
		t.Fatal(err)
	}
	if newuid != 1 {
		t.Fatalf("expected uid 1, found %d", newuid)
	}
	// Permanent uids are returned unchanged.
	if uid, err := fm1.AssignUID(ctx, newuid); err != nil || uid != newuid {
		t.Fatalf("expected uid %d unchanged, found %d (err: %v)", newuid, uid, err)
	}

	fm2 := openTestMaildirFolder(t, store, "INBOX")
	snapshot = listTestMaildirFolder(t, fm2)
	if !snapshot.Has(1) {
		t.Fatalf("expected uid 1 after reload, found %v", sortedUIDs(snapshot.Messages))
	}
	if snapshot.Has(math.MaxUint32) && snapshot.Has(math.MaxUint32-1) {
		t.Fatalf("expected only one provisional uid left, found %v", sortedUIDs(snapshot.Messages))
	}
	data, _, err := fm2.Fetch(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "delivered by another client" && string(data) != "read by another client" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestMaildirFolderDuplicateUID(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)
	fm1 := openTestMaildirFolder(t, store, "INBOX")

	if _, err := fm1.Store(ctx, []byte("original"), "S"); err != nil {
		t.Fatal(err)
	}
	copyname := "copy" + fm1.messages[1].Filename
	addMessage(t, fm1, fm1.fullFilename(copyname, "S", ""), "cur", "original")

	snapshot := listTestMaildirFolder(t, fm1)
	msg, ok := snapshot.Messages[1]
	if !ok {
		t.Fatalf("uid 1 not listed")
	}
	if !msg.Ignore {
		t.Fatalf("expected uid 1 to be ignored, found %#v", msg)
	}
	if _, _, err := fm1.Fetch(ctx, 1); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, found %v", err)
	}
}

func TestMaildirFolderSetFlags(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)
	fm1 := openTestMaildirFolder(t, store, "INBOX")

	// Unsynchronized letters survive flag updates.
	addMessage(t, fm1, "1397565555.M1P2.otherclient:2,Sa", "cur", "keyword")
	snapshot := listTestMaildirFolder(t, fm1)
	if len(snapshot.Messages) != 1 {
		t.Fatalf("expected 1 message, found %d", len(snapshot.Messages))
	}
	uid, err := fm1.AssignUID(ctx, math.MaxUint32)
	if err != nil {
		t.Fatal(err)
	}
	if err := fm1.SetFlags(ctx, uid, "FS"); err != nil {
		t.Fatal(err)
	}
	if err := fm1.SetFlags(ctx, 99, "S"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, found %v", err)
	}

	fm2 := openTestMaildirFolder(t, store, "INBOX")
	snapshot = listTestMaildirFolder(t, fm2)
	if msg := snapshot.Messages[uid]; msg == nil || msg.Flags != "FS" {
		t.Fatalf("expected uid %d with flags FS, found %#v", uid, msg)
	}
	entries, err := os.ReadDir(filepath.Join(fm2.maildir, "cur"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ":2,FSa") {
		t.Fatalf("expected one file with flags FSa, found %v", entries)
	}
}

func TestMaildirFolderDelete(t *testing.T) {
	ctx := context.Background()

	for _, deletemode := range []string{config.DeleteModeExpunge, config.DeleteModeFlag} {
		store := newTestMaildirStore(t, deletemode, false)
		fm1 := openTestMaildirFolder(t, store, "INBOX")
		for _, body := range []string{"a", "b"} {
			if _, err := fm1.Store(ctx, []byte(body), "S"); err != nil {
				t.Fatal(err)
			}
		}
		if err := fm1.Delete(ctx, 1); err != nil {
			t.Fatal(err)
		}
		// Unknown uids are already gone.
		if err := fm1.Delete(ctx, 1); err != nil {
			t.Fatal(err)
		}

		fm2 := openTestMaildirFolder(t, store, "INBOX")
		snapshot := listTestMaildirFolder(t, fm2)
		if len(snapshot.Messages) != 1 || !snapshot.Has(2) {
			t.Fatalf("%s: expected only uid 2, found %v", deletemode, sortedUIDs(snapshot.Messages))
		}

		entries, err := os.ReadDir(filepath.Join(fm2.maildir, "cur"))
		if err != nil {
			t.Fatal(err)
		}
		expected := 1
		if deletemode == config.DeleteModeFlag {
			expected = 2
		}
		if len(entries) != expected {
			t.Fatalf("%s: expected %d files in cur, found %d", deletemode, expected, len(entries))
		}
		if deletemode == config.DeleteModeFlag {
			trashed := 0
			for _, entry := range entries {
				if strings.HasSuffix(entry.Name(), ":2,ST") {
					trashed++
				}
			}
			if trashed != 1 {
				t.Fatalf("expected one trashed file, found %d", trashed)
			}
		}
	}
}

func TestMaildirStoreListFolders(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, false)

	for _, name := range []string{"INBOX", "Sent", "Work.Projects"} {
		if err := store.CreateFolder(ctx, name); err != nil {
			t.Fatal(err)
		}
	}
	folders, err := store.ListFolders(ctx)
	if err != nil {
		t.Fatal(err)
	}
	expected := []string{"INBOX", "Sent", "Work.Projects"}
	if strings.Join(folders, ",") != strings.Join(expected, ",") {
		t.Fatalf("expected folders %v, found %v", expected, folders)
	}

	if err := store.DeleteFolder(ctx, "Sent"); err != nil {
		t.Fatal(err)
	}
	if store.HasFolder("Sent") {
		t.Fatalf("expected folder Sent to be deleted")
	}

	if err := store.CreateFolder(ctx, "../escape"); errors.KindOf(err) != errors.KindConfiguration {
		t.Fatalf("expected a configuration error, found %v", err)
	}
}

func TestMaildirStoreDryRun(t *testing.T) {
	ctx := context.Background()
	store := newTestMaildirStore(t, config.DeleteModeExpunge, true)

	f, err := store.OpenFolder(ctx, "INBOX", false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := f.(*emptyFolder); !ok {
		t.Fatalf("expected an empty folder, found %T", f)
	}
	if _, err := os.Stat(store.maildir); !os.IsNotExist(err) {
		t.Fatalf("expected maildir %s not to be created, found err %v", store.maildir, err)
	}
	snapshot := listTestMaildirFolder(t, f)
	if len(snapshot.Messages) != 0 {
		t.Fatalf("expected no messages, found %d", len(snapshot.Messages))
	}
}
