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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ronald1962/offlineimap3/config"
	"github.com/Ronald1962/offlineimap3/log"
	"github.com/Ronald1962/offlineimap3/mailsync"
)

var opts struct {
	Configfile     string   `short:"c" long:"config" description:"Config file location. Default: ~/.offlineimaprc"`
	Debug          bool     `short:"d" long:"debug" description:"Enable full debug logs. Overrides log levels in configuration file"`
	DryRun         bool     `short:"n" long:"dry-run" description:"Do not execute sync actions but just log what will be done"`
	Info           bool     `long:"info" description:"Print the folders that would be synchronized and then exit"`
	SingleThreaded bool     `short:"1" description:"Synchronize one account and one folder at a time"`
	Accounts       []string `short:"a" long:"account" description:"Limit the accounts to the specified. Use this option multiple times to specify multiple accounts."`
	Folders        []string `short:"f" long:"folder" description:"Only synchronize the specified folder. Use this option multiple times to specify multiple folders."`
	Quick          bool     `short:"q" long:"quick" description:"Run a quick synchronization, skipping remote flag changes"`
	OneTime        bool     `short:"o" long:"onetime" description:"Run a single pass, ignoring autorefresh"`
	Overrides      []string `short:"k" long:"override" description:"Override a configuration option: [section:]option=value"`
	DeleteFolder   string   `long:"delete-folder" description:"Delete a remote folder and its status, then exit"`
	PruneStatus    bool     `long:"prune-status" description:"Drop the status of folders no longer synchronized, then exit"`
	MetricsAddress string   `long:"metrics-address" description:"Serve prometheus metrics on this address"`
}

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.GetLogger("main", "info")

	var parser = flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return 1
	}

	if opts.Configfile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Errorf("Cannot determine home directory: %s", err)
			return 1
		}
		opts.Configfile = filepath.Join(home, ".offlineimaprc")
	}

	globalconfig, err := config.ParseConfig(opts.Configfile)
	if err != nil {
		logger.Errorf("Error parsing config file: %s", err)
		return 1
	}
	if err := config.ApplyOverrides(globalconfig, opts.Overrides); err != nil {
		logger.Errorf("Error applying overrides: %s", err)
		return 1
	}
	if opts.Debug {
		globalconfig.LogLevel = "debug"
		globalconfig.DebugImap = true
	}
	if err := config.VerifyConfig(globalconfig); err != nil {
		logger.Errorf("Error verifying config file: %s", err)
		return 1
	}
	logger = log.GetLogger("main", globalconfig.LogLevel)

	if opts.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(opts.MetricsAddress, mux); err != nil {
				logger.Errorf("metrics server: %s", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := mailsync.NewScheduler(globalconfig, mailsync.NewRepositoryCredentials(globalconfig))
	runopts := mailsync.Options{
		Quick:          opts.Quick,
		DryRun:         opts.DryRun,
		SingleThreaded: opts.SingleThreaded,
		Folders:        opts.Folders,
		Accounts:       opts.Accounts,
	}

	accounts := opts.Accounts
	if len(accounts) == 0 {
		accounts = globalconfig.DefaultAccounts
	}
	if len(accounts) == 0 {
		for _, a := range globalconfig.Accounts {
			accounts = append(accounts, a.Name)
		}
	}

	switch {
	case opts.Info:
		for _, account := range accounts {
			pairs, err := scheduler.Describe(ctx, account, opts.Folders)
			if err != nil {
				logger.Errorf("%s", err)
				return 1
			}
			fmt.Printf("Account: %s\n", account)
			for remote, folders := range pairs {
				fmt.Printf("\tRemote repository: %s\n", remote)
				for _, p := range folders {
					fmt.Printf("\t\t%s <-> %s\n", p.Local, p.Remote)
				}
			}
		}
		return 0

	case opts.DeleteFolder != "":
		if len(accounts) != 1 {
			logger.Errorf("--delete-folder needs exactly one account")
			return 1
		}
		if err := scheduler.DeleteFolder(ctx, accounts[0], opts.DeleteFolder, opts.DryRun); err != nil {
			logger.Errorf("%s", err)
			return 1
		}
		return 0

	case opts.PruneStatus:
		for _, account := range accounts {
			pruned, err := scheduler.PruneStatus(ctx, account, opts.DryRun)
			if err != nil {
				logger.Errorf("%s", err)
				return 1
			}
			for _, k := range pruned {
				fmt.Printf("%s: %s %s\n", account, k.Remote, k.Folder)
			}
		}
		return 0
	}

	failed := false
	report := func(pass *mailsync.PassResult) {
		pass.WriteSummary(os.Stdout)
		failed = pass.Failed()
	}
	if opts.OneTime {
		pass, err := scheduler.RunPass(ctx, runopts)
		if err != nil {
			logger.Errorf("%s", err)
			return 1
		}
		report(pass)
	} else if err := scheduler.Run(ctx, runopts, report); err != nil {
		logger.Errorf("%s", err)
		return 1
	}
	if failed {
		return 1
	}
	return 0
}
