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

// Scheduler runs sync passes over the configured accounts.
type Scheduler struct {
	globalconfig *config.Config
	creds        CredentialProvider
	accounts     map[string]*Account

	// Passes hold it for reading, administrative operations for writing.
	runLock sync.RWMutex

	failedLock sync.Mutex
	failed     map[string]error

	logger *log.Logger
	e      *errors.Error
}

func NewScheduler(globalconfig *config.Config, creds CredentialProvider) *Scheduler {
	logprefix := "scheduler"
	s := &Scheduler{
		globalconfig: globalconfig,
		creds:        creds,
		accounts:     make(map[string]*Account),
		failed:       make(map[string]error),
		logger:       log.GetLogger(logprefix, globalconfig.LogLevel),
		e:            errors.New(logprefix),
	}
	for _, conf := range globalconfig.Accounts {
		s.accounts[conf.Name] = NewAccount(globalconfig, conf, creds)
	}
	return s
}

// selectAccounts returns the accounts named in names or, if empty, the
// default ones. Disabled accounts are skipped unless named.
func (s *Scheduler) selectAccounts(names []string) ([]*Account, error) {
	explicit := len(names) > 0
	if !explicit {
		names = s.globalconfig.DefaultAccounts
	}
	if len(names) == 0 {
		for _, conf := range s.globalconfig.Accounts {
			names = append(names, conf.Name)
		}
	}
	accounts := make([]*Account, 0, len(names))
	for _, name := range names {
		a, ok := s.accounts[name]
		if !ok {
			return nil, errors.Configurationf("unknown account %q", name)
		}
		if a.config.Disabled && !explicit {
			s.logger.Debugf("account %s is disabled", name)
			continue
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (s *Scheduler) account(name string) (*Account, error) {
	a, ok := s.accounts[name]
	if !ok {
		return nil, errors.Configurationf("unknown account %q", name)
	}
	return a, nil
}

// RunPass synchronizes the selected accounts once. Accounts that ended a
// previous pass in Error are not run again.
func (s *Scheduler) RunPass(ctx context.Context, opts Options) (*PassResult, error) {
	accounts, err := s.selectAccounts(opts.Accounts)
	if err != nil {
		return nil, s.e.E(err)
	}

	s.runLock.RLock()
	defer s.runLock.RUnlock()

	pass := newPassResult(opts.DryRun)
	logger := s.logger.With("pass", pass.ID.String())
	logger.Infof("starting pass over %d accounts", len(accounts))

	workers := s.globalconfig.MaxSyncAccounts
	if opts.SingleThreaded {
		workers = 1
	}
	var g errgroup.Group
	g.SetLimit(workers)
	results := make([]*AccountResult, len(accounts))
	for i, a := range accounts {
		i, a := i, a
		s.failedLock.Lock()
		ferr, failed := s.failed[a.name]
		s.failedLock.Unlock()
		if failed {
			logger.Errorf("account %s skipped after error: %s", a.name, ferr)
			results[i] = &AccountResult{Name: a.name, State: Error, Err: ferr}
			continue
		}
		g.Go(func() error {
			r := a.Sync(ctx, opts)
			if r.State == Error {
				s.failedLock.Lock()
				s.failed[a.name] = r.Err
				s.failedLock.Unlock()
			}
			results[i] = r
			return nil
		})
	}
	g.Wait()

	pass.Accounts = results
	pass.Duration = time.Since(pass.Start)
	metricPassDuration.Observe(pass.Duration.Seconds())
	logger.Infof("pass done in %s", pass.Duration)
	return pass, nil
}

// Run repeats passes on the smallest autorefresh interval of the selected
// accounts until ctx is canceled. Without autorefresh it runs one pass.
// report is called after every pass.
func (s *Scheduler) Run(ctx context.Context, opts Options, report func(*PassResult)) error {
	accounts, err := s.selectAccounts(opts.Accounts)
	if err != nil {
		return s.e.E(err)
	}
	var interval time.Duration
	for _, a := range accounts {
		d := a.config.Autorefresh.Duration
		if d > 0 && (interval == 0 || d < interval) {
			interval = d
		}
	}

	for n := 0; ; n++ {
		opts.Pass = n
		pass, err := s.RunPass(ctx, opts)
		if err != nil {
			return err
		}
		if report != nil {
			report(pass)
		}
		if interval == 0 || s.allFailed(accounts) {
			return nil
		}
		s.logger.Infof("next pass in %s", interval)
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Scheduler) allFailed(accounts []*Account) bool {
	s.failedLock.Lock()
	defer s.failedLock.Unlock()
	for _, a := range accounts {
		if _, ok := s.failed[a.name]; !ok {
			return false
		}
	}
	return true
}

// Describe returns the folder pairs of an account, by remote repository.
func (s *Scheduler) Describe(ctx context.Context, account string, folders []string) (map[string][]FolderPair, error) {
	a, err := s.account(account)
	if err != nil {
		return nil, s.e.E(err)
	}
	s.runLock.RLock()
	defer s.runLock.RUnlock()
	return a.Describe(ctx, Options{Folders: folders})
}

// DeleteFolder deletes a folder, by remote name or by the local name it
// maps to, from the remote repositories of account and drops its
// checkpoints.
func (s *Scheduler) DeleteFolder(ctx context.Context, account string, folder string, dryrun bool) error {
	a, err := s.account(account)
	if err != nil {
		return s.e.E(err)
	}
	s.runLock.Lock()
	defer s.runLock.Unlock()

	status, err := OpenStatusStore(s.globalconfig, a.name, dryrun)
	if err != nil {
		return s.e.E(err)
	}
	defer status.Close()

	local, remotes, err := a.repositories(ctx, Options{DryRun: dryrun})
	if err != nil {
		return s.e.E(err)
	}
	defer func() {
		for _, r := range remotes {
			r.repo.Close()
		}
		local.Close()
	}()

	found := false
	for _, r := range remotes {
		name := folder
		if !r.repo.HasFolder(name) {
			if name, err = r.mapper.LocalToRemote(folder); err != nil || !r.repo.HasFolder(name) {
				continue
			}
		}
		found = true
		if err := r.repo.DeleteFolder(ctx, name); err != nil {
			return s.e.E(err)
		}
		if dryrun {
			continue
		}
		if err := status.DropPartition(r.name, name); err != nil {
			return s.e.E(err)
		}
		a.logger.Infof("deleted folder %s from %s", name, r.name)
	}
	if !found {
		return s.e.E(fmt.Errorf("folder %q not found in the remote repositories of account %s", folder, account))
	}
	return nil
}

// PruneStatus drops the checkpoints of folders no longer synchronized by
// account and returns them.
func (s *Scheduler) PruneStatus(ctx context.Context, account string, dryrun bool) ([]PartitionKey, error) {
	a, err := s.account(account)
	if err != nil {
		return nil, s.e.E(err)
	}
	s.runLock.Lock()
	defer s.runLock.Unlock()

	status, err := OpenStatusStore(s.globalconfig, a.name, dryrun)
	if err != nil {
		return nil, s.e.E(err)
	}
	defer status.Close()

	local, remotes, err := a.repositories(ctx, Options{DryRun: true})
	if err != nil {
		return nil, s.e.E(err)
	}
	defer func() {
		for _, r := range remotes {
			r.repo.Close()
		}
		local.Close()
	}()

	keep := make(map[PartitionKey]bool)
	for _, r := range remotes {
		for _, p := range r.pairs {
			keep[PartitionKey{Remote: r.name, Folder: p.Remote}] = true
		}
	}
	keys, err := status.Partitions()
	if err != nil {
		return nil, s.e.E(err)
	}
	pruned := make([]PartitionKey, 0)
	for _, k := range keys {
		if keep[k] {
			continue
		}
		pruned = append(pruned, k)
		if dryrun {
			a.logger.Infof("would drop status of %s %s", k.Remote, k.Folder)
			continue
		}
		if err := status.DropPartition(k.Remote, k.Folder); err != nil {
			return nil, s.e.E(err)
		}
		a.logger.Infof("dropped status of %s %s", k.Remote, k.Folder)
	}
	return pruned, nil
}
