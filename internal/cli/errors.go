// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
)

// ExitError carries a process exit code. Silent errors have already been
// reported to the user and are not printed again.
type ExitError struct {
	Code   int
	Err    error
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// errTurnFailed is returned after a failed reply has been printed.
var errTurnFailed = &ExitError{Code: 1, Err: errors.New("reply failed"), Silent: true}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *ExitError
	if errors.As(err, &e) {
		return e.Code
	}
	return 1
}

// ShouldPrint reports whether main should print err.
func ShouldPrint(err error) bool {
	var e *ExitError
	return err != nil && !(errors.As(err, &e) && e.Silent)
}
