package evidence

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrEvidenceUnavailable is returned when a source could not be read, e.g., missing file or permission denied.
	ErrEvidenceUnavailable = errors.New("evidence unavailable")
	// ErrSuspendFailed is returned when the OS declined or failed to suspend.
	ErrSuspendFailed = errors.New("suspend failed")
	// ErrNoKernelLog is returned when no kernel log provider could be opened at all.
	ErrNoKernelLog = errors.New("no kernel log source available")
)

// UnavailableError describes a source that could not be read.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is reports UnavailableError as ErrEvidenceUnavailable.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrEvidenceUnavailable
}

func unavailable(source string, err error) error {
	return errors.WithStack(&UnavailableError{Source: source, Err: err})
}

func suspendFailed(err error, format string, args ...any) error {
	if err == nil {
		return errors.Wrapf(ErrSuspendFailed, format, args...)
	}
	return errors.Wrapf(&suspendError{cause: err}, format, args...)
}

type suspendError struct {
	cause error
}

func (e *suspendError) Error() string {
	return e.cause.Error()
}

func (e *suspendError) Unwrap() error {
	return e.cause
}

func (e *suspendError) Is(target error) bool {
	return target == ErrSuspendFailed
}
