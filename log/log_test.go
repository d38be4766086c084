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

package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestTerminalHandlerWritesContext(t *testing.T) {
	out := new(bytes.Buffer)
	h := NewTerminalHandlerWithLevel(out, LevelTrace, false)
	logger := NewLogger(h)
	logger.Info("hello", "foo", "bar")
	have := out.String()
	if !strings.Contains(have, "hello") || !strings.Contains(have, "foo=bar") {
		t.Fatalf("unexpected output: %q", have)
	}
}

func TestGlogHandlerVerbosityFilters(t *testing.T) {
	out := new(bytes.Buffer)
	glog := NewGlogHandler(NewTerminalHandlerWithLevel(out, LevelTrace, false))
	glog.Verbosity(LevelWarn)
	logger := NewLogger(glog)
	logger.Info("should be dropped")
	logger.Warn("should appear")
	have := out.String()
	if strings.Contains(have, "should be dropped") {
		t.Fatalf("info line leaked through warn verbosity: %q", have)
	}
	if !strings.Contains(have, "should appear") {
		t.Fatalf("warn line missing: %q", have)
	}
}

func TestGlogHandlerVmoduleOverride(t *testing.T) {
	out := new(bytes.Buffer)
	glog := NewGlogHandler(NewTerminalHandlerWithLevel(out, LevelTrace, false))
	glog.Verbosity(LevelCrit)
	if err := glog.Vmodule("runloop.go=-8"); err != nil {
		t.Fatalf("Vmodule: %v", err)
	}
	_ = glog.Log(Record{Msg: "from runloop", File: "runloop.go", Level: LevelTrace})
	_ = glog.Log(Record{Msg: "from elsewhere", File: "other.go", Level: LevelTrace})
	have := out.String()
	if !strings.Contains(have, "from runloop") {
		t.Fatalf("vmodule override did not let trace line through: %q", have)
	}
	if strings.Contains(have, "from elsewhere") {
		t.Fatalf("non-matching file should stay at crit verbosity: %q", have)
	}
}

func TestWithAddsPersistentContext(t *testing.T) {
	out := new(bytes.Buffer)
	logger := NewLogger(NewTerminalHandlerWithLevel(out, LevelTrace, false)).With("round", "7")
	logger.Info("tick")
	if !strings.Contains(out.String(), "round=7") {
		t.Fatalf("persistent context missing: %q", out.String())
	}
}
