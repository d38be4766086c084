// Copyright 2026 The stacks-signer Authors
// This file is part of stacks-signer.
//
// stacks-signer is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// stacks-signer is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with stacks-signer.  If not, see <http://www.gnu.org/licenses/>.

// Package log provides the structured, leveled logger used throughout
// this module. It has its own Handler pipeline, with levels on the
// log/slog scale and a NewSlog adapter for stdlib callers: a
// GlogHandler with Vmodule-style per-file verbosity overrides, and a
// terminal handler that colorizes output when attached to a tty.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level mirrors slog.Level but adds Trace and Crit bookends.
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	LevelCrit  Level = 12
)

func (l Level) slog() slog.Level { return slog.Level(l) }

func (l Level) String() string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "ERROR"
	default:
		return "CRIT"
	}
}

// Logger is the interface every package in this module takes a
// dependency on instead of the concrete type, so tests can swap in a
// buffering logger.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	handler Handler
	attrs   []any
}

// NewLogger builds a Logger on top of the given Handler.
func NewLogger(h Handler) Logger { return &logger{handler: h} }

func (l *logger) log(lvl Level, msg string, ctx ...any) {
	all := append(append([]any{}, l.attrs...), ctx...)
	_ = l.handler.Log(Record{Time: time.Now(), Level: lvl, Msg: msg, Ctx: all})
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx...) }
func (l *logger) Crit(msg string, ctx ...any)  { l.log(LevelCrit, msg, ctx...) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{handler: l.handler, attrs: append(append([]any{}, l.attrs...), ctx...)}
}

// Record is one log event.
type Record struct {
	Time  time.Time
	Level Level
	Msg   string
	Ctx   []any
	File  string
}

// Handler is the sink a Logger writes Records to.
type Handler interface {
	Log(r Record) error
}

// slogHandler adapts a Handler onto a slog.Logger, so downstream code
// that wants a stdlib *slog.Logger (for libraries that only accept
// one) can still flow through the same terminal/glog pipeline.
type slogHandler struct{ h Handler }

func (s slogHandler) Handle(_ context.Context, r slog.Record) error {
	var ctx []any
	r.Attrs(func(a slog.Attr) bool {
		ctx = append(ctx, a.Key, a.Value.Any())
		return true
	})
	return s.h.Log(Record{Time: r.Time, Level: Level(r.Level), Msg: r.Message, Ctx: ctx})
}
func (s slogHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (s slogHandler) WithAttrs([]slog.Attr) slog.Handler        { return s }
func (s slogHandler) WithGroup(string) slog.Handler             { return s }

// NewSlog returns a stdlib *slog.Logger backed by h.
func NewSlog(h Handler) *slog.Logger { return slog.New(slogHandler{h: h}) }

// terminalHandler renders records as single lines, colorized when the
// writer is a terminal.
type terminalHandler struct {
	mu       sync.Mutex
	out      io.Writer
	level    Level
	useColor bool
	attrs    []any
}

// NewTerminalHandlerWithLevel returns a Handler that writes
// human-readable lines to w, filtering anything below level.
func NewTerminalHandlerWithLevel(w io.Writer, level Level, useColor bool) Handler {
	return &terminalHandler{out: w, level: level, useColor: useColor}
}

// NewTerminalHandler auto-detects color support from the destination
// file descriptor.
func NewTerminalHandler(w io.Writer, level Level) Handler {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
		if useColor {
			w = colorable.NewColorable(f)
		}
	}
	return NewTerminalHandlerWithLevel(w, level, useColor)
}

func (h *terminalHandler) WithAttrs(attrs []any) Handler {
	return &terminalHandler{out: h.out, level: h.level, useColor: h.useColor, attrs: append(append([]any{}, h.attrs...), attrs...)}
}

var levelColor = map[Level]int{
	LevelTrace: 36, LevelDebug: 34, LevelInfo: 32, LevelWarn: 33, LevelError: 31, LevelCrit: 35,
}

func (h *terminalHandler) Log(r Record) error {
	if r.Level < h.level {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := r.Time.Format("01-02|15:04:05.000")
	lvl := r.Level.String()
	if h.useColor {
		lvl = fmt.Sprintf("\x1b[%dm%-5s\x1b[0m", levelColor[r.Level], lvl)
	} else {
		lvl = fmt.Sprintf("%-5s", lvl)
	}
	fmt.Fprintf(h.out, "%s [%s] %-40s", lvl, ts, r.Msg)
	all := append(append([]any{}, h.attrs...), r.Ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(h.out, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(h.out)
	return nil
}

// GlogHandler adds glog-style -vmodule=file=level overrides on top of
// an underlying Handler.
type GlogHandler struct {
	mu        sync.RWMutex
	next      Handler
	verbosity Level
	patterns  []vmodulePattern
}

type vmodulePattern struct {
	re    *regexp.Regexp
	level Level
}

// NewGlogHandler wraps next with vmodule support.
func NewGlogHandler(next Handler) *GlogHandler {
	return &GlogHandler{next: next, verbosity: LevelInfo}
}

// Verbosity sets the default level for files with no matching vmodule
// pattern.
func (g *GlogHandler) Verbosity(lvl Level) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verbosity = lvl
}

// Vmodule parses a comma-separated file=level list, e.g.
// "runloop.go=5,coordinator*.go=9".
func (g *GlogHandler) Vmodule(spec string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns = nil
	if spec == "" {
		return nil
	}
	for _, part := range splitComma(spec) {
		kv := splitEq(part)
		if len(kv) != 2 {
			continue
		}
		pat := "^" + regexp.QuoteMeta(kv[0]) + "$"
		pat = regexpGlobToRegex(kv[0])
		re, err := regexp.Compile(pat)
		if err != nil {
			return err
		}
		var lvl int
		fmt.Sscanf(kv[1], "%d", &lvl)
		g.patterns = append(g.patterns, vmodulePattern{re: re, level: Level(lvl)})
	}
	return nil
}

func (g *GlogHandler) Log(r Record) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	threshold := g.verbosity
	for _, p := range g.patterns {
		if p.re.MatchString(r.File) {
			threshold = p.level
			break
		}
	}
	if r.Level < threshold {
		return nil
	}
	return g.next.Log(r)
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func splitEq(s string) []string {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return []string{s}
}

func regexpGlobToRegex(glob string) string {
	out := "^"
	for _, c := range glob {
		switch c {
		case '*':
			out += ".*"
		case '.':
			out += `\.`
		default:
			out += regexp.QuoteMeta(string(c))
		}
	}
	return out + "$"
}

var (
	rootMu     sync.RWMutex
	rootLogger Logger = NewLogger(NewTerminalHandler(os.Stderr, LevelInfo))
)

// Root returns the package-level default Logger.
func Root() Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return rootLogger
}

// SetDefault replaces the package-level default Logger.
func SetDefault(l Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	rootLogger = l
}

func Trace(msg string, ctx ...any) { Root().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { Root().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { Root().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { Root().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { Root().Error(msg, ctx...) }
func Crit(msg string, ctx ...any)  { Root().Crit(msg, ctx...) }
