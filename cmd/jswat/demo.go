package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/debug/session"
	"github.com/dshills/jswat/internal/jdi/jditest"
	"github.com/dshills/jswat/internal/persist"
	"github.com/dshills/jswat/internal/script"
)

const (
	demoClass  = "demo.Main"
	demoMethod = "run"
	demoLine   = 12
	demoWait   = 2 * time.Second
)

type demoOptions struct {
	hits      int
	condition string
	monitor   string
	save      bool
}

func demoCmd(c *cli) *cobra.Command {
	var opts demoOptions

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a session against an in-memory virtual machine",
		Long: `Run a session against an in-memory virtual machine.

The demo launches a debuggee, sets a line breakpoint on demo.Main:12 and
makes the main thread run over that line a number of times. Conditions
and monitors are Lua scripts that see the event and the breakpoint:

  event.thread  event.class  event.method  event.line  event.kind
  bp.number     bp.hits      bp.kind       bp.description

A monitor also gets 'stack', the event thread's frames.

Examples:
  jswat demo --hits 5 --condition 'bp.hits % 2 == 0'
  jswat demo --monitor 'print(bp.hits, stack[1])'
  jswat demo --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDemo(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVarP(&opts.hits, "hits", "n", 3, "Times the main thread runs over the breakpoint line")
	cmd.Flags().StringVar(&opts.condition, "condition", "", "Lua condition for the breakpoint")
	cmd.Flags().StringVar(&opts.monitor, "monitor", "", "Lua monitor run at every stop")
	cmd.Flags().BoolVar(&opts.save, "save", false, "Add the demo session to the session store")
	return cmd
}

func (c *cli) runDemo(ctx context.Context, out io.Writer, opts demoOptions) error {
	log := c.log.WithComponent("demo")
	w := &syncWriter{w: out}

	m := session.NewManager(c.sessionOptions()...)
	defer func() {
		if err := m.CloseAll(); err != nil {
			log.Warn("closing sessions", zap.Error(err))
		}
	}()
	s, err := m.Create()
	if err != nil {
		return err
	}
	s.SetProperty(session.PropName, "Demo")
	s.SetProperty(session.PropClassName, demoClass)

	rt := script.NewRuntime(script.WithLogger(c.log))
	defer rt.Close()

	b, err := c.demoBreakpoint(rt, opts)
	if err != nil {
		return err
	}
	reg := s.Breakpoints()
	if err := reg.Add(b, nil); err != nil {
		return err
	}
	if c.cfg.Breakpoints.DefaultUncaught {
		if _, err := reg.EnsureDefaultUncaught(); err != nil {
			return err
		}
	}

	removeBP := reg.AddListener(breakpoint.ListenerFunc(func(e breakpoint.Event) {
		if e.Type == breakpoint.EventError {
			fmt.Fprintf(w, "%s breakpoint %d: %v\n", color.RedString("error"), e.Breakpoint.Number(), e.Err)
			return
		}
		fmt.Fprintf(w, "breakpoint %d %s\n", e.Breakpoint.Number(), e.Type)
	}))
	defer removeBP()
	removeSession := s.AddListener(session.ListenerFunc(func(e session.Event) {
		fmt.Fprintf(w, "session %s %s\n", s.ID(), color.CyanString(e.Type.String()))
	}))
	defer removeSession()

	vm := jditest.NewVM("demo")
	main := vm.AddThread("main")
	cls := jditest.NewClass(demoClass, jditest.Source("Main.java"), jditest.Lines(demoMethod, 10, 11, demoLine, 13))

	defer func() {
		if s.IsConnected() {
			if err := s.Disconnect(true); err != nil && !errors.Is(err, session.ErrNotConnected) {
				log.Warn("disconnecting", zap.Error(err))
			}
		}
	}()
	if err := c.launch(ctx, s, vm, main); err != nil {
		return err
	}

	if vm.LoadClass(cls) != nil && !vm.WaitIdle(demoWait) {
		return errors.New("class prepare was not handled")
	}
	fmt.Fprintf(w, "breakpoint %d is %s\n", b.Number(), resolutionString(b.State()))

	stops := 0
	for i := 0; i < opts.hits; i++ {
		main.SetFrames(cls.Location(demoLine), cls.Location(10))
		set := vm.HitLine(main, cls, demoLine)
		if set == nil {
			return fmt.Errorf("no request for %s:%d", demoClass, demoLine)
		}
		if !vm.WaitIdle(demoWait) {
			return errors.New("breakpoint event was not handled")
		}
		if set.Resumed() {
			continue
		}
		stops++
		if loc := s.Context().Location(); loc != nil {
			fmt.Fprintf(w, "stopped in %s at %s.%s:%d\n", s.Context().Thread().Name(),
				loc.DeclaringType().Name(), loc.MethodName(), loc.LineNumber())
		}
		if err := s.ResumeVM(); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "%d hits, %d stops\n", b.HitCount(), stops)

	if err := s.Disconnect(true); err != nil {
		return err
	}
	if exited, code := vm.Exited(); exited {
		fmt.Fprintf(w, "debuggee exited with status %d\n", code)
	}

	if opts.save {
		if err := c.saveDemo(w, s); err != nil {
			return err
		}
	}
	if c.registry != nil {
		c.renderMetrics(w)
	}
	return nil
}

func (c *cli) demoBreakpoint(rt *script.Runtime, opts demoOptions) (*breakpoint.Breakpoint, error) {
	var bpOpts []breakpoint.BreakpointOption
	if opts.condition != "" {
		cond, err := script.NewCondition(rt, opts.condition)
		if err != nil {
			return nil, err
		}
		bpOpts = append(bpOpts, breakpoint.WithCondition(cond))
	}
	if opts.monitor != "" {
		mon, err := script.NewMonitor(rt, opts.monitor, true)
		if err != nil {
			return nil, err
		}
		bpOpts = append(bpOpts, breakpoint.WithMonitor(mon))
	}
	return c.factory().NewLine(demoClass, demoLine, bpOpts...)
}

// launch connects s to vm the way a launched debuggee is connected: the
// VM reports its start with every thread suspended, and the session is
// resumed once the start has been handled.
func (c *cli) launch(ctx context.Context, s *session.Session, vm *jditest.VM, main *jditest.Thread) error {
	if d := c.cfg.Session.StartTimeout.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- s.Connect(ctx, jditest.NewConnection(vm, false)) }()
	vm.Start(main)
	if err := <-done; err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	if !vm.WaitIdle(demoWait) {
		return errors.New("start event was not handled")
	}
	return s.ResumeVM()
}

// saveDemo adds the demo session to the configured store. Sessions
// already in the store are kept.
func (c *cli) saveDemo(w io.Writer, s *session.Session) error {
	m, store, err := c.loadManager()
	if err != nil {
		return err
	}

	var watcher *persist.Watcher
	if c.cfg.Persist.Watch {
		changed := make(chan persist.Event, 1)
		watcher, err = persist.Watch(store.Path(), func(ev persist.Event) {
			select {
			case changed <- ev:
			default:
			}
		}, persist.WithWatcherLogger(c.log))
		if err != nil {
			return err
		}
		defer func() {
			select {
			case ev := <-changed:
				fmt.Fprintf(w, "store %s: %s\n", ev.Op, ev.Path)
			case <-time.After(demoWait):
			}
			watcher.Close()
		}()
	}

	saved, err := m.Copy(s, s.Name())
	if err != nil {
		return err
	}
	for _, b := range s.Breakpoints().Breakpoints() {
		restored, err := c.factory().FromProperties(b.WriteProperties())
		if err != nil {
			return err
		}
		if err := saved.Breakpoints().Add(restored, nil); err != nil {
			return err
		}
	}
	if err := m.SaveTo(store); err != nil {
		return err
	}
	fmt.Fprintf(w, "saved as %s in %s\n", saved.ID(), store.Path())
	return nil
}

// renderMetrics prints the collected series.
func (c *cli) renderMetrics(w io.Writer) {
	families, err := c.registry.Gather()
	if err != nil {
		c.log.Warn("gathering metrics", zap.Error(err))
		return
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	t := newTable(w, "Metric", "Labels", "Value")
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			labels := ""
			for i, l := range metric.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += l.GetName() + "=" + l.GetValue()
			}
			var value any
			switch {
			case metric.GetCounter() != nil:
				value = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				value = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				value = fmt.Sprintf("%d samples", metric.GetHistogram().GetSampleCount())
			default:
				continue
			}
			t.AppendRow(table.Row{f.GetName(), labels, value})
		}
	}
	t.Render()
}
