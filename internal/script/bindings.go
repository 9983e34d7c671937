package script

import (
	"fmt"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/jdi"
)

func eventTable(ev *jdi.Event) map[string]any {
	t := map[string]any{}
	if ev == nil {
		return t
	}
	t["kind"] = ev.Kind.String()
	if ev.Thread != nil {
		t["thread"] = ev.Thread.Name()
	}
	if ev.Location != nil {
		if dt := ev.Location.DeclaringType(); dt != nil {
			t["class"] = dt.Name()
		}
		t["method"] = ev.Location.MethodName()
		t["line"] = ev.Location.LineNumber()
	}
	if ev.ExceptionType != nil {
		t["exception"] = ev.ExceptionType.Name()
		t["caught"] = ev.CatchLocation != nil
	}
	if ev.Field != nil {
		t["field"] = ev.Field.Name()
	}
	if ev.Type != nil {
		t["type"] = ev.Type.Name()
	}
	if ev.ClassName != "" {
		t["classname"] = ev.ClassName
	}
	return t
}

func breakpointTable(b *breakpoint.Breakpoint) map[string]any {
	t := map[string]any{
		"number":      b.Number(),
		"kind":        b.Kind().String(),
		"hits":        b.HitCount(),
		"description": b.Description(),
	}
	if g := b.Group(); g != nil {
		t["group"] = g.Name()
	}
	return t
}

// stackList renders the thread's frames, top first.
func stackList(thread jdi.ThreadReference) ([]string, error) {
	n, err := thread.FrameCount()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		f, err := thread.Frame(i)
		if err != nil {
			return nil, err
		}
		loc := f.Location()
		if loc == nil {
			out = append(out, "?")
			continue
		}
		out = append(out, fmt.Sprintf("%s.%s:%d", loc.DeclaringType().Name(), loc.MethodName(), loc.LineNumber()))
	}
	return out, nil
}
