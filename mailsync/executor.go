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

	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

// Executor applies the operations of one folder pair, recording every
// completed operation in the partition before starting the next one.
type Executor struct {
	local      Folder
	remote     Folder
	localSnap  *Snapshot
	remoteSnap *Snapshot
	status     Partition
	dryrun     bool
	logger     *log.Logger
	result     *FolderResult
}

func NewExecutor(local, remote Folder, localSnap, remoteSnap *Snapshot, status Partition, dryrun bool, logger *log.Logger, result *FolderResult) *Executor {
	return &Executor{
		local:      local,
		remote:     remote,
		localSnap:  localSnap,
		remoteSnap: remoteSnap,
		status:     status,
		dryrun:     dryrun,
		logger:     logger,
		result:     result,
	}
}

// Apply runs ops in order. It stops at the first failure and, when ctx is
// canceled, before the next operation. Operations on messages that
// vanished meanwhile are skipped.
func (x *Executor) Apply(ctx context.Context, ops []Op) error {
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if x.dryrun {
			x.logger.Infof("would %s", op)
			continue
		}
		err := x.apply(ctx, op)
		if errors.Is(err, ErrMessageNotFound) {
			x.logger.Infof("%s: message vanished, skipped", op)
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		metricOperations.WithLabelValues(op.Kind.String()).Inc()
	}
	return nil
}

func assignUID(ctx context.Context, folder Folder, uid uint32) (uint32, error) {
	if a, ok := folder.(UIDAssigner); ok {
		return a.AssignUID(ctx, uid)
	}
	return uid, nil
}

// updateFlags applies the change of a Delta operation to the folder whose
// flags were not listed. The checkpoint records op.Flags, so flags changed
// meanwhile on that folder are picked up by the next full listing.
func updateFlags(ctx context.Context, folder Folder, op Op) error {
	uid := op.RemoteUID
	if op.Kind == UpdateFlagsLocal {
		uid = op.LocalUID
	}
	add, remove := op.Base.Diff(op.Flags)
	return folder.UpdateFlags(ctx, uid, add, remove)
}

func (x *Executor) retire(op Op) error {
	if op.Retire == nil {
		return nil
	}
	return x.status.Delete(op.Retire)
}

func (x *Executor) record(op Op, e *StatusEntry) error {
	if !op.Record {
		return nil
	}
	return x.status.Put(e)
}

func (x *Executor) apply(ctx context.Context, op Op) error {
	switch op.Kind {
	case CopyToLocal:
		body, flags, err := x.remote.Fetch(ctx, op.RemoteUID)
		if err != nil {
			return err
		}
		if err := x.retire(op); err != nil {
			return err
		}
		ru, err := assignUID(ctx, x.remote, op.RemoteUID)
		if err != nil {
			return err
		}
		lu, err := x.local.Store(ctx, body, flags)
		if err != nil {
			return err
		}
		x.result.CopiedToLocal++
		x.result.Bytes += int64(len(body))
		metricBytes.WithLabelValues("local").Add(float64(len(body)))
		x.logger.Debugf("copied remote %d to local %d", ru, lu)
		return x.record(op, &StatusEntry{LocalUID: lu, RemoteUID: ru, Flags: flags})

	case CopyToRemote:
		body, flags, err := x.local.Fetch(ctx, op.LocalUID)
		if err != nil {
			return err
		}
		if err := x.retire(op); err != nil {
			return err
		}
		lu, err := assignUID(ctx, x.local, op.LocalUID)
		if err != nil {
			return err
		}
		ru, err := x.remote.Store(ctx, body, flags)
		if err != nil {
			return err
		}
		x.result.CopiedToRemote++
		x.result.Bytes += int64(len(body))
		metricBytes.WithLabelValues("remote").Add(float64(len(body)))
		x.logger.Debugf("copied local %d to remote %d", lu, ru)
		return x.record(op, &StatusEntry{LocalUID: lu, RemoteUID: ru, Flags: flags})

	case DeleteLocal:
		if x.localSnap.Has(op.LocalUID) {
			if err := x.local.Delete(ctx, op.LocalUID); err != nil {
				return err
			}
			delete(x.localSnap.Messages, op.LocalUID)
			x.result.DeletedLocal++
		}
		return x.retire(op)

	case DeleteRemote:
		if x.remoteSnap.Has(op.RemoteUID) {
			if err := x.remote.Delete(ctx, op.RemoteUID); err != nil {
				return err
			}
			delete(x.remoteSnap.Messages, op.RemoteUID)
			x.result.DeletedRemote++
		}
		return x.retire(op)

	case UpdateFlagsLocal:
		if op.Delta {
			if err := updateFlags(ctx, x.local, op); err != nil {
				return err
			}
			x.result.FlagsLocal++
			return x.record(op, &StatusEntry{LocalUID: op.LocalUID, RemoteUID: op.RemoteUID, Flags: op.Flags})
		}
		if m, ok := x.localSnap.Messages[op.LocalUID]; !ok || !x.localSnap.FlagsKnown || m.Flags != op.Flags {
			if err := x.local.SetFlags(ctx, op.LocalUID, op.Flags); err != nil {
				return err
			}
			if ok {
				m.Flags = op.Flags
			}
			x.result.FlagsLocal++
		}
		return x.record(op, &StatusEntry{LocalUID: op.LocalUID, RemoteUID: op.RemoteUID, Flags: op.Flags})

	case UpdateFlagsRemote:
		if op.Delta {
			if err := updateFlags(ctx, x.remote, op); err != nil {
				return err
			}
			x.result.FlagsRemote++
			return x.record(op, &StatusEntry{LocalUID: op.LocalUID, RemoteUID: op.RemoteUID, Flags: op.Flags})
		}
		if m, ok := x.remoteSnap.Messages[op.RemoteUID]; !ok || !x.remoteSnap.FlagsKnown || m.Flags != op.Flags {
			if err := x.remote.SetFlags(ctx, op.RemoteUID, op.Flags); err != nil {
				return err
			}
			if ok {
				m.Flags = op.Flags
			}
			x.result.FlagsRemote++
		}
		return x.record(op, &StatusEntry{LocalUID: op.LocalUID, RemoteUID: op.RemoteUID, Flags: op.Flags})

	case Link:
		lu, err := assignUID(ctx, x.local, op.LocalUID)
		if err != nil {
			return err
		}
		ru, err := assignUID(ctx, x.remote, op.RemoteUID)
		if err != nil {
			return err
		}
		if err := x.retire(op); err != nil {
			return err
		}
		x.result.Linked++
		return x.status.Put(&StatusEntry{LocalUID: lu, RemoteUID: ru, Flags: op.Flags})
	}
	return fmt.Errorf("unknown operation %s", op.Kind)
}
