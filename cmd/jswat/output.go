package main

import (
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/debug/session"
)

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func yesNo(b bool) string {
	if b {
		return color.GreenString("yes")
	}
	return color.HiBlackString("no")
}

func stateString(s session.State) string {
	switch s {
	case session.StateRunning:
		return color.GreenString(s.String())
	case session.StateSuspended:
		return color.YellowString(s.String())
	case session.StateClosed:
		return color.RedString(s.String())
	}
	return color.HiBlackString(s.String())
}

func resolutionString(s breakpoint.ResolutionState) string {
	switch s {
	case breakpoint.Resolved:
		return color.GreenString(s.String())
	case breakpoint.PendingPrepare:
		return color.YellowString(s.String())
	}
	return color.HiBlackString(s.String())
}

// groupName returns "" for the root group.
func groupName(b *breakpoint.Breakpoint) string {
	g := b.Group()
	if g == nil {
		return ""
	}
	return g.Path()
}

// syncWriter serializes writes coming from listener goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
