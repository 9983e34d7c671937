package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/jswat/internal/debug/session"
	"github.com/dshills/jswat/internal/persist"
)

func sessionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List and edit stored sessions",
		Long: `List and edit stored sessions.

Without a subcommand every stored session is listed; the current one is
marked with '*'.

Examples:
  jswat sessions
  jswat sessions create "Order service"
  jswat sessions use SID_2
  jswat sessions copy SID_2 "Order service (tests)"
  jswat sessions remove SID_1
  jswat sessions watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := c.loadManager()
			if err != nil {
				return err
			}
			renderSessions(cmd.OutOrStdout(), m)
			return nil
		},
	}

	cmd.AddCommand(
		sessionsCreateCmd(c),
		sessionsUseCmd(c),
		sessionsCopyCmd(c),
		sessionsRemoveCmd(c),
		sessionsWatchCmd(c),
	)
	return cmd
}

func sessionsCreateCmd(c *cli) *cobra.Command {
	var props map[string]string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, store, err := c.loadManager()
			if err != nil {
				return err
			}
			s, err := m.Create()
			if err != nil {
				return err
			}
			for k, v := range props {
				s.SetProperty(k, v)
			}
			if len(args) == 1 {
				s.SetProperty(session.PropName, args[0])
			}
			if err := m.SaveTo(store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s created: %s\n", s.ID(), s.Name())
			return nil
		},
	}
	cmd.Flags().StringToStringVarP(&props, "property", "p", nil, "Session property, e.g. -p ClassName=com.example.Main")
	return cmd
}

func sessionsUseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Make a session current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, store, err := c.loadManager()
			if err != nil {
				return err
			}
			s, err := pickSession(m, args[0])
			if err != nil {
				return err
			}
			if err := m.SetCurrent(s); err != nil {
				return err
			}
			return m.SaveTo(store)
		},
	}
}

func sessionsCopyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "copy <id> <name>",
		Short: "Copy a session's properties into a new session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, store, err := c.loadManager()
			if err != nil {
				return err
			}
			src, err := pickSession(m, args[0])
			if err != nil {
				return err
			}
			s, err := m.Copy(src, args[1])
			if err != nil {
				return err
			}
			if err := m.SaveTo(store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s created: %s\n", s.ID(), s.Name())
			return nil
		},
	}
}

func sessionsRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a session that is not current",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, store, err := c.loadManager()
			if err != nil {
				return err
			}
			s, err := pickSession(m, args[0])
			if err != nil {
				return err
			}
			if err := m.Remove(s); err != nil {
				return err
			}
			return m.SaveTo(store)
		},
	}
}

func sessionsWatchCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "List the sessions again whenever the store changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.watchSessions(ctx, cmd.OutOrStdout())
		},
	}
}

// watchSessions renders the stored sessions, then renders them again on
// every change of the store until ctx is done.
func (c *cli) watchSessions(ctx context.Context, out io.Writer) error {
	store, err := c.cfg.Store()
	if err != nil {
		return err
	}
	w := &syncWriter{w: out}

	render := func() {
		m, _, err := c.loadManager()
		if err != nil {
			fmt.Fprintf(w, "%s %v\n", color.RedString("error:"), err)
			return
		}
		renderSessions(w, m)
	}
	render()

	watcher, err := persist.Watch(store.Path(), func(ev persist.Event) {
		c.log.Debug("session store changed", zap.String("op", ev.Op.String()))
		if ev.Op == persist.OpRemove {
			fmt.Fprintf(w, "%s %s\n", color.YellowString("removed:"), ev.Path)
			return
		}
		render()
	}, persist.WithWatcherLogger(c.log))
	if err != nil {
		return err
	}
	defer watcher.Close()

	<-ctx.Done()
	return nil
}

func renderSessions(w io.Writer, m *session.Manager) {
	current := m.Current()
	t := newTable(w, "", "ID", "Name", "Breakpoints", "State")
	for _, s := range m.Sessions() {
		marker := ""
		id := s.ID()
		if s == current {
			marker = "*"
			id = color.New(color.Bold, color.FgGreen).Sprint(id)
		}
		t.AppendRow(table.Row{marker, id, s.Name(), len(s.Breakpoints().Breakpoints()), stateString(s.State())})
	}
	t.Render()
}
