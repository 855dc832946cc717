// Package chk is a shorthand error check-and-log. The usual form is
//
//	if chk.E(err) { return }
//
// which logs the error at error level, with its code location, and yields
// true when err is not nil.
package chk

import (
	"nwcly.dev/pkg/utils/log"
)

// E logs a non-nil error at error level and reports whether it was non-nil.
func E(err error) bool { return log.E.Chk(err) }

// W logs a non-nil error at warn level and reports whether it was non-nil.
func W(err error) bool { return log.W.Chk(err) }

// I logs a non-nil error at info level and reports whether it was non-nil.
func I(err error) bool { return log.I.Chk(err) }

// D logs a non-nil error at debug level and reports whether it was non-nil.
func D(err error) bool { return log.D.Chk(err) }

// T logs a non-nil error at trace level and reports whether it was non-nil.
func T(err error) bool { return log.T.Chk(err) }

// F logs a non-nil error and exits the process.
func F(err error) bool { return log.F.Chk(err) }
