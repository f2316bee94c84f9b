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

	"github.com/satori/go.uuid"
)

// Error is a prefix scope. Errors passing through E are prefixed with the
// scope name once, also when they cross the same scope several times.
type Error struct {
	prefix string
	uuid   uuid.UUID
}

type errorError struct {
	prefix string
	err    error
	uuid   uuid.UUID
}

func New(prefix string) *Error {
	return &Error{prefix, uuid.Must(uuid.NewV1())}
}

func (e *Error) E(err error) error {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*errorError); ok {
		if ee.uuid == e.uuid {
			return ee
		}
	}
	return &errorError{e.prefix, err, e.uuid}
}

// Errorf formats a new error and wraps it in the scope.
func (e *Error) Errorf(format string, args ...interface{}) error {
	return e.E(fmt.Errorf(format, args...))
}

func (e *errorError) Error() string {
	return fmt.Sprintf("[%s] %s", e.prefix, e.err.Error())
}

func (e *errorError) Unwrap() error {
	return e.err
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
