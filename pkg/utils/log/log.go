// Package log is a tiny leveled logger with code location printing, used via
// the one-letter level printers F, E, W, I, D and T.
//
// The level is read from the NWCLY_LOG_LEVEL environment variable (fatal,
// error, warn, info, debug, trace); the default is info. Output goes to
// stderr. Level letters are colorized when stderr is a terminal.
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fatih/color"
	"go.uber.org/atomic"
)

// Level of a log printer; messages above the configured level are dropped.
type Level int32

const (
	Fatal Level = iota
	Error
	Warn
	Info
	Debug
	Trace
)

var level atomic.Int32

func init() {
	level.Store(int32(Info))
	switch strings.ToLower(os.Getenv("NWCLY_LOG_LEVEL")) {
	case "fatal":
		level.Store(int32(Fatal))
	case "error":
		level.Store(int32(Error))
	case "warn":
		level.Store(int32(Warn))
	case "info":
		level.Store(int32(Info))
	case "debug":
		level.Store(int32(Debug))
	case "trace":
		level.Store(int32(Trace))
	}
}

// SetLevel changes the log level at runtime.
func SetLevel(l Level) { level.Store(int32(l)) }

// GetLevel returns the current log level.
func GetLevel() Level { return Level(level.Load()) }

// P is a level printer. Use the package variables F, E, W, I, D and T.
type P struct {
	l     Level
	label string
	paint func(a ...any) string
}

var (
	// F prints and then exits the process.
	F = &P{Fatal, "F", color.New(color.FgRed, color.Bold).SprintFunc()}
	// E prints at error level.
	E = &P{Error, "E", color.New(color.FgRed).SprintFunc()}
	// W prints at warning level.
	W = &P{Warn, "W", color.New(color.FgYellow).SprintFunc()}
	// I prints at info level.
	I = &P{Info, "I", color.New(color.FgGreen).SprintFunc()}
	// D prints at debug level.
	D = &P{Debug, "D", color.New(color.FgBlue).SprintFunc()}
	// T prints at trace level.
	T = &P{Trace, "T", color.New(color.FgMagenta).SprintFunc()}
)

func (p *P) enabled() bool { return int32(p.l) <= level.Load() }

func (p *P) emit(skip int, msg string) {
	_, file, line, _ := runtime.Caller(skip)
	loc := fmt.Sprintf(
		"%s:%d", filepath.Join(
			filepath.Base(filepath.Dir(file)), filepath.Base(file),
		), line,
	)
	fmt.Fprintf(
		os.Stderr, "%s %s %s %s\n",
		time.Now().Format("15:04:05.000000"),
		p.paint(p.label), strings.TrimRight(msg, "\n"), loc,
	)
	if p.l == Fatal {
		os.Exit(1)
	}
}

// Ln prints the operands in the manner of fmt.Sprintln.
func (p *P) Ln(a ...any) {
	if !p.enabled() {
		return
	}
	p.emit(2, strings.TrimRight(fmt.Sprintln(a...), "\n"))
}

// F prints a formatted message in the manner of fmt.Sprintf.
func (p *P) F(format string, a ...any) {
	if !p.enabled() {
		return
	}
	p.emit(2, fmt.Sprintf(format, a...))
}

// S spews the operands in the manner of fmt.Sprint, which puts spaces only
// between operands when neither is a string.
func (p *P) S(a ...any) {
	if !p.enabled() {
		return
	}
	p.emit(2, fmt.Sprint(a...))
}

// C calls the closure to generate the message only if the level is enabled,
// for messages that are expensive to construct.
func (p *P) C(f func() string) {
	if !p.enabled() {
		return
	}
	p.emit(2, f())
}

// Chk prints the error if it is not nil and reports whether it was. This is
// the back end of the chk package.
func (p *P) Chk(err error) bool {
	if err == nil {
		return false
	}
	if p.enabled() {
		p.emit(3, err.Error())
	}
	return true
}

// Err prints a formatted message and returns it as an error. This is the back
// end of the errorf package.
func (p *P) Err(format string, a ...any) error {
	err := fmt.Errorf(format, a...)
	if p.enabled() {
		p.emit(3, err.Error())
	}
	return err
}
