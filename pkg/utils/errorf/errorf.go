// Package errorf creates errors that are logged at the site of their
// creation, in the same format as fmt.Errorf.
package errorf

import (
	"nwcly.dev/pkg/utils/log"
)

// E creates an error and logs it at error level.
func E(format string, a ...any) error { return log.E.Err(format, a...) }

// W creates an error and logs it at warn level.
func W(format string, a ...any) error { return log.W.Err(format, a...) }

// D creates an error and logs it at debug level.
func D(format string, a ...any) error { return log.D.Err(format, a...) }

// T creates an error and logs it at trace level.
func T(format string, a ...any) error { return log.T.Err(format, a...) }
