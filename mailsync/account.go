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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/errors"
	"github.com/Ronald1962/offlineimap3/log"
)

// Options select what a pass does.
type Options struct {
	Quick  bool
	DryRun bool
	// SingleThreaded runs one account and one folder at a time.
	SingleThreaded bool
	// Folders restricts the pass to these folders, by local or remote name.
	Folders  []string
	Accounts []string
	// Pass is the index of the pass in an autorefresh loop.
	Pass int
}

// Account synchronizes the local repository of an account with each of its
// remote repositories.
type Account struct {
	globalconfig *config.Config
	config       *config.AccountConfig
	name         string
	creds        CredentialProvider

	stateLock sync.Mutex
	state     AccountState

	folderLocksLock sync.Mutex
	folderLocks     map[string]*sync.Mutex

	logger *log.Logger
	e      *errors.Error
}

func NewAccount(globalconfig *config.Config, conf *config.AccountConfig, creds CredentialProvider) *Account {
	logprefix := fmt.Sprintf("account: %s", conf.Name)
	return &Account{
		globalconfig: globalconfig,
		config:       conf,
		name:         conf.Name,
		creds:        creds,
		folderLocks:  make(map[string]*sync.Mutex),
		logger:       log.GetLogger(logprefix, globalconfig.LogLevel),
		e:            errors.New(logprefix),
	}
}

func (a *Account) Name() string {
	return a.name
}

func (a *Account) State() AccountState {
	a.stateLock.Lock()
	defer a.stateLock.Unlock()
	return a.state
}

func (a *Account) setState(state AccountState) {
	a.stateLock.Lock()
	defer a.stateLock.Unlock()
	a.logger.Debugf("state %s -> %s", a.state, state)
	a.state = state
}

// lockFolder serializes the workers using the same local folder.
func (a *Account) lockFolder(name string) func() {
	a.folderLocksLock.Lock()
	l, ok := a.folderLocks[name]
	if !ok {
		l = &sync.Mutex{}
		a.folderLocks[name] = l
	}
	a.folderLocksLock.Unlock()
	l.Lock()
	return l.Unlock
}

// quick reports whether the pass skips remote flags.
func (a *Account) quick(opts Options) bool {
	if opts.Quick || a.config.SyncMode == config.SyncModeQuick {
		return true
	}
	return a.config.QuickPasses > 0 && opts.Pass%(a.config.QuickPasses+1) != 0
}

type remoteRepository struct {
	name   string
	repo   Repository
	mapper *FolderMapper
	pairs  []FolderPair
}

// repositories opens the local repository and every remote one, and lists
// the folder pairs to synchronize.
func (a *Account) repositories(ctx context.Context, opts Options) (Repository, []*remoteRepository, error) {
	localconf := a.globalconfig.Repository(a.config.LocalRepository)
	local, err := NewRepository(a.globalconfig, localconf, a.name, a.config.DeleteMode, a.creds, opts.DryRun)
	if err != nil {
		return nil, nil, err
	}
	localFolders, err := local.ListFolders(ctx)
	if err != nil {
		local.Close()
		return nil, nil, err
	}

	remotes := make([]*remoteRepository, 0, len(a.config.RemoteRepositories))
	closeAll := func() {
		for _, r := range remotes {
			r.repo.Close()
		}
		local.Close()
	}
	for _, name := range a.config.RemoteRepositories {
		remoteconf := a.globalconfig.Repository(name)
		repo, err := NewRepository(a.globalconfig, remoteconf, a.name, a.config.DeleteMode, a.creds, opts.DryRun)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		r := &remoteRepository{name: name, repo: repo}
		remotes = append(remotes, r)

		remoteFolders, err := repo.ListFolders(ctx)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		r.mapper, err = NewFolderMapper(a.name, localconf, remoteconf, local.Separator(), repo.Separator())
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		r.pairs, err = r.mapper.FoldersToSync(remoteFolders, localFolders, opts.Folders)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
	}
	return local, remotes, nil
}

// Describe returns the folder pairs to synchronize, by remote repository.
func (a *Account) Describe(ctx context.Context, opts Options) (map[string][]FolderPair, error) {
	opts.DryRun = true
	local, remotes, err := a.repositories(ctx, opts)
	if err != nil {
		return nil, a.e.E(err)
	}
	defer local.Close()
	pairs := make(map[string][]FolderPair)
	for _, r := range remotes {
		pairs[r.name] = r.pairs
		r.repo.Close()
	}
	return pairs, nil
}

// Sync runs one pass over the account. Folder failures are reported in the
// result; configuration errors and fatal repository errors put the account
// in Error.
func (a *Account) Sync(ctx context.Context, opts Options) *AccountResult {
	start := time.Now()
	result := &AccountResult{Name: a.name}
	defer func() {
		result.State = a.State()
		result.Duration = time.Since(start)
	}()

	fail := func(err error) *AccountResult {
		result.Err = a.e.E(err)
		metricErrors.WithLabelValues(errors.KindOf(err).String()).Inc()
		if errors.KindOf(err) == errors.KindConfiguration || errors.IsFatal(err) {
			a.logger.Errorf("account failed: %s", err)
			a.setState(Error)
		} else {
			a.logger.Errorf("pass failed: %s", err)
			a.setState(Idle)
		}
		return result
	}

	a.setState(Listing)
	status, err := OpenStatusStore(a.globalconfig, a.name, opts.DryRun)
	if err != nil {
		return fail(err)
	}
	defer status.Close()

	local, remotes, err := a.repositories(ctx, opts)
	if err != nil {
		return fail(err)
	}
	defer func() {
		for _, r := range remotes {
			r.repo.Close()
		}
		local.Close()
	}()

	a.setState(SyncingFolders)
	workers := a.config.MaxFolderWorkers
	if opts.SingleThreaded {
		workers = 1
	}
	quick := a.quick(opts)
	a.logger.Infof("syncing, quick: %t, dry run: %t", quick, opts.DryRun)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var resultsLock sync.Mutex
	for _, r := range remotes {
		for _, pair := range r.pairs {
			r, pair := r, pair
			fr := &FolderResult{Remote: r.name, Folder: pair.Local, RemoteFolder: pair.Remote}
			resultsLock.Lock()
			result.Folders = append(result.Folders, fr)
			resultsLock.Unlock()
			g.Go(func() error {
				err := a.syncFolder(gctx, local, r, pair, status, quick, opts.DryRun, fr)
				if err == nil {
					return nil
				}
				fr.Err = err
				metricErrors.WithLabelValues(errors.KindOf(err).String()).Inc()
				if errors.KindOf(err) == errors.KindConfiguration || errors.IsFatal(err) {
					// Stops the other folders of the account.
					return err
				}
				a.logger.Errorf("folder %s of %s failed: %s", pair.Local, r.name, err)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	a.setState(Idle)
	return result
}

func (a *Account) syncFolder(ctx context.Context, local Repository, r *remoteRepository, pair FolderPair, status StatusStore, quick bool, dryrun bool, result *FolderResult) (err error) {
	logprefix := fmt.Sprintf("account: %s %s %s", a.name, r.name, pair.Local)
	logger := log.GetLogger(logprefix, a.globalconfig.LogLevel)
	e := errors.New(logprefix)

	unlock := a.lockFolder(pair.Local)
	defer unlock()

	partition, err := status.Partition(r.name, pair.Remote)
	if err != nil {
		return e.E(err)
	}

	lf, err := local.OpenFolder(ctx, pair.Local, dryrun)
	if err != nil {
		return e.E(err)
	}
	defer func() {
		if cerr := lf.Close(); cerr != nil && err == nil {
			err = e.E(cerr)
		}
	}()
	rf, err := r.repo.OpenFolder(ctx, pair.Remote, dryrun)
	if err != nil {
		return e.E(err)
	}
	defer func() {
		if cerr := rf.Close(); cerr != nil && err == nil {
			err = e.E(cerr)
		}
	}()

	return e.E(synchronize(ctx, lf, rf, partition, quick, dryrun, PolicyFromConfig(a.config), logger, result))
}

// synchronize runs change detection, planning and execution over two
// opened folders and the partition holding their checkpoint.
func synchronize(ctx context.Context, lf, rf Folder, partition Partition, quick bool, dryrun bool, policy Policy, logger *log.Logger, result *FolderResult) error {
	lv, err := lf.UIDValidity(ctx)
	if err != nil {
		return err
	}
	rv, err := rf.UIDValidity(ctx)
	if err != nil {
		return err
	}
	lsnap, err := lf.ListMessages(ctx, false)
	if err != nil {
		return err
	}
	rsnap, err := rf.ListMessages(ctx, quick)
	if err != nil {
		return err
	}

	baseline := &Baseline{}
	baseline.LocalValidity, baseline.RemoteValidity, baseline.Recorded, err = partition.Validity()
	if err != nil {
		return err
	}
	if baseline.Recorded {
		if baseline.Entries, err = partition.Entries(); err != nil {
			return err
		}
	}

	delta := DetectChanges(lsnap, rsnap, baseline, lv, rv)
	if delta.Reset {
		logger.Warningf("uid validity changed (local %s -> %s, remote %s -> %s), resynchronizing", baseline.LocalValidity, lv, baseline.RemoteValidity, rv)
		result.Reset = true
	}
	if err := MatchIdentical(ctx, lf, rf, delta); err != nil {
		return err
	}
	if (delta.Reset || !baseline.Recorded) && !dryrun {
		if err := partition.Reset(lv, rv); err != nil {
			return err
		}
	}

	ops, conflicts := Plan(delta, lsnap.FlagsKnown, rsnap.FlagsKnown, policy)
	result.Planned = ops
	result.Conflicts = conflicts
	for _, c := range conflicts {
		metricConflicts.Inc()
		logger.Warningf("%s", errors.Conflictf("%s", c))
	}
	logger.Infof("%d local and %d remote messages, %d operations", len(lsnap.Messages), len(rsnap.Messages), len(ops))

	x := NewExecutor(lf, rf, lsnap, rsnap, partition, dryrun, logger, result)
	return x.Apply(ctx, ops)
}
