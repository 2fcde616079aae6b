// Package log provides the module-scoped logger used throughout the
// block-graph core: every package gets its own logger tagged with a
// module name, and Crit-level entries carry a caller frame for
// postmortem debugging.
package log

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// ModuleName tags every log line with the subsystem that produced it.
type ModuleName string

const (
	Common     ModuleName = "COMMON"
	Graph      ModuleName = "GRAPH"
	Admission  ModuleName = "ADMISSION"
	Validator  ModuleName = "VALIDATOR"
	Maintainer ModuleName = "MAINTAINER"
	Ledger     ModuleName = "LEDGER"
	Pruner     ModuleName = "PRUNER"
	Bootstrap  ModuleName = "BOOTSTRAP"
	Store      ModuleName = "STORE"
)

type Level int

const (
	LvlCrit Level = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

var levelNames = map[Level]string{
	LvlCrit:  "CRIT",
	LvlError: "ERROR",
	LvlWarn:  "WARN",
	LvlInfo:  "INFO",
	LvlDebug: "DEBUG",
	LvlTrace: "TRACE",
}

var levelColors = map[Level]*color.Color{
	LvlCrit:  color.New(color.FgWhite, color.BgRed, color.Bold),
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgMagenta),
}

var (
	mu        sync.Mutex
	out       io.Writer = colorable.NewColorableStdout()
	verbosity           = LvlInfo
)

// SetOutput redirects all logger output; used by tests to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetVerbosity bounds which levels are actually written.
func SetVerbosity(lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	verbosity = lvl
}

// Logger is a module-scoped leveled logger with key/value context.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type moduleLogger struct {
	module ModuleName
}

// NewModuleLogger returns a logger tagged with module.
func NewModuleLogger(module ModuleName) Logger {
	return &moduleLogger{module: module}
}

func (l *moduleLogger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *moduleLogger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *moduleLogger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *moduleLogger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *moduleLogger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

// Crit additionally records the caller's stack frame; reserved for
// container-inconsistency and fatal-commit paths that must never be
// silently swallowed.
func (l *moduleLogger) Crit(msg string, ctx ...interface{}) {
	ctx = append(ctx, "at", stack.Caller(1))
	l.write(LvlCrit, msg, ctx)
}

func (l *moduleLogger) write(lvl Level, msg string, ctx []interface{}) {
	mu.Lock()
	defer mu.Unlock()
	if lvl > verbosity {
		return
	}
	c := levelColors[lvl]
	prefix := c.Sprintf("[%s]", levelNames[lvl])
	fmt.Fprintf(out, "%s %s %-10s %s%s\n", time.Now().Format("2006-01-02T15:04:05.000"), prefix, l.module, msg, formatCtx(ctx))
}

func formatCtx(ctx []interface{}) string {
	if len(ctx) == 0 {
		return ""
	}
	s := ""
	for i := 0; i+1 < len(ctx); i += 2 {
		s += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		s += fmt.Sprintf(" %v=<missing>", ctx[len(ctx)-1])
	}
	return s
}

// Root returns a Common-tagged logger for one-off use.
func Root() Logger { return NewModuleLogger(Common) }
