// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the build-time errors of the model builder.
package model

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicate       = errors.New("duplicate name")
	ErrInvalidName     = errors.New("invalid identifier")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrUnknownProperty = errors.New("unknown property")
	ErrInvalidKind     = errors.New("invalid event kind")
	ErrUnassigned      = errors.New("new instance property not assigned")
	ErrInvalid         = errors.New("invalid construct")
)

// Error reports which construct failed validation.
type Error struct {
	Construct string
	Name      string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Construct, e.Name, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(construct, name string, err error) *Error {
	return &Error{Construct: construct, Name: name, Err: err}
}
