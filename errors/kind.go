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

package errors

import (
	stderrors "errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration errors are fatal for the affected account only.
	KindConfiguration
	// KindTransport errors (network, auth, protocol) are retried on the next pass.
	KindTransport
	// KindRepository errors are local storage faults. Fatal ones put the
	// account in error until an operator intervenes.
	KindRepository
	// KindConflict is not a failure: it marks a conflict that the planner
	// resolved by policy.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindRepository:
		return "repository"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

type kindError struct {
	kind  Kind
	fatal bool
	err   error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%s error: %s", e.kind, e.err.Error())
}

func (e *kindError) Unwrap() error {
	return e.err
}

func classify(kind Kind, fatal bool, err error) error {
	if err == nil {
		return nil
	}
	var ke *kindError
	if stderrors.As(err, &ke) {
		// Already classified.
		return err
	}
	return &kindError{kind: kind, fatal: fatal, err: err}
}

func Configurationf(format string, args ...interface{}) error {
	return &kindError{kind: KindConfiguration, fatal: true, err: fmt.Errorf(format, args...)}
}

func AsConfiguration(err error) error {
	return classify(KindConfiguration, true, err)
}

func Transport(err error) error {
	return classify(KindTransport, false, err)
}

func Repository(err error, fatal bool) error {
	return classify(KindRepository, fatal, err)
}

func Conflictf(format string, args ...interface{}) error {
	return &kindError{kind: KindConflict, err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
// classify never wraps an already classified error, so there is only one.
func KindOf(err error) Kind {
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	return KindUnknown
}

// IsFatal reports whether err must stop the account instead of only the
// current folder.
func IsFatal(err error) bool {
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.fatal
	}
	return false
}
