// Package log is a small structured, leveled logger in the style this
// codebase's call sites expect (log.New("database", "in-memory"),
// log.Info("Apply migration", "name", v.Name)): every record carries a
// module name plus an even list of key/value pairs.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is the severity of a log record.
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

var levelColors = map[Level]color.Attribute{
	LvlCrit:  color.FgRed,
	LvlError: color.FgRed,
	LvlWarn:  color.FgYellow,
	LvlInfo:  color.FgGreen,
	LvlDebug: color.FgCyan,
	LvlTrace: color.FgMagenta,
}

// Logger writes leveled, structured records tagged with a module name.
type Logger struct {
	module string
	ctx    []interface{}
}

var (
	mu        sync.Mutex
	out       io.Writer = colorable.NewColorableStdout()
	useColor            = isatty.IsTerminal(os.Stdout.Fd())
	threshold           = LvlInfo
)

// SetOutput redirects every Logger's output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel sets the minimum level that is actually written.
func SetLevel(lvl Level) {
	mu.Lock()
	defer mu.Unlock()
	threshold = lvl
}

// New returns a Logger tagged with module and an optional initial
// key/value context, e.g. log.New("database", "in-memory").
func New(ctx ...interface{}) *Logger {
	module := ""
	if len(ctx) > 0 {
		if s, ok := ctx[0].(string); ok {
			module = s
			ctx = ctx[1:]
		}
	}
	return &Logger{module: module, ctx: ctx}
}

// New derives a child Logger carrying additional context.
func (l *Logger) New(ctx ...interface{}) *Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &Logger{module: l.module, ctx: merged}
}

func (l *Logger) write(lvl Level, msg string, ctx []interface{}) {
	if lvl > threshold {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	ts := time.Now().Format("2006-01-02T15:04:05.000")
	name := levelNames[lvl]
	if useColor {
		name = color.New(levelColors[lvl]).Sprint(name)
	}
	line := fmt.Sprintf("%s [%s]", ts, name)
	if l.module != "" {
		line += " " + l.module
	}
	line += " " + msg

	all := make([]interface{}, 0, len(l.ctx)+len(ctx))
	all = append(all, l.ctx...)
	all = append(all, ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(out, line)

	if lvl == LvlCrit {
		fmt.Fprintln(out, stack.Trace().String())
	}
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *Logger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

var root = New()

// Package-level helpers delegate to an unnamed root logger, matching the
// bare log.Info(...) call sites used outside any particular component.
func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.Crit(msg, ctx...) }
