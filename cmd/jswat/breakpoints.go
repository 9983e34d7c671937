package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/dshills/jswat/internal/debug/breakpoint"
	"github.com/dshills/jswat/internal/debug/session"
	"github.com/dshills/jswat/internal/jdi"
)

var errNoSession = errors.New("no session")

func breakpointsCmd(c *cli) *cobra.Command {
	var (
		sessionID string
		all       bool
	)

	cmd := &cobra.Command{
		Use:     "breakpoints",
		Aliases: []string{"bp"},
		Short:   "List and edit the breakpoints of stored sessions",
		Long: `List and edit the breakpoints of stored sessions.

Without a subcommand the breakpoints of the current session are listed.

Examples:
  jswat breakpoints                        # current session
  jswat breakpoints --all                  # every session
  jswat breakpoints add com.example.Main:42 --skip 3
  jswat breakpoints add 'com.example.Main.run(String)' --group io
  jswat breakpoints remove 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := c.loadManager()
			if err != nil {
				return err
			}
			sessions := m.Sessions()
			if !all {
				s, err := pickSession(m, sessionID)
				if err != nil {
					return err
				}
				sessions = []*session.Session{s}
			}
			renderBreakpoints(cmd.OutOrStdout(), sessions)
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&sessionID, "session", "s", "", "Session identifier (default: current session)")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "List the breakpoints of every session")

	cmd.AddCommand(
		breakpointsAddCmd(c, &sessionID),
		breakpointsRemoveCmd(c, &sessionID),
	)
	return cmd
}

func breakpointsAddCmd(c *cli, sessionID *string) *cobra.Command {
	var (
		group    string
		skip     int
		expire   int
		thread   string
		policy   string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "add <spec>",
		Short: "Add a line or method breakpoint",
		Long: `Add a line or method breakpoint to a stored session.

The spec is one of:
  pkg.Class:42                   line
  pkg.Class.method               method, any overload
  pkg.Class.method(int,String)   method with exact parameter types

A session is created when the store holds none.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, store, err := c.loadManager()
			if err != nil {
				return err
			}

			s, err := pickSession(m, *sessionID)
			if errors.Is(err, errNoSession) && *sessionID == "" {
				s, err = m.Create()
			}
			if err != nil {
				return err
			}

			var opts []breakpoint.BreakpointOption
			if skip > 0 {
				opts = append(opts, breakpoint.WithSkipCount(skip))
			}
			if expire > 0 {
				opts = append(opts, breakpoint.WithExpireCount(expire))
			}
			if thread != "" {
				opts = append(opts, breakpoint.WithThreadFilter(thread))
			}
			if policy != "" {
				p, err := jdi.ParseSuspendPolicy(policy)
				if err != nil {
					return err
				}
				opts = append(opts, breakpoint.WithSuspendPolicy(p))
			}
			if disabled {
				opts = append(opts, breakpoint.Disabled())
			}

			b, err := c.factory().Parse(args[0], opts...)
			if err != nil {
				return err
			}
			reg := s.Breakpoints()
			g := reg.Root()
			if group != "" {
				if g, err = groupByPath(reg, group); err != nil {
					return err
				}
			}
			if err := reg.Add(b, g); err != nil {
				return err
			}
			if err := m.SaveTo(store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "breakpoint %d added to %s: %s\n", b.Number(), s.ID(), b.Description())
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group path to add the breakpoint to, such as io/net")
	cmd.Flags().IntVar(&skip, "skip", 0, "Number of hits to ignore")
	cmd.Flags().IntVar(&expire, "expire", 0, "Number of hits after which the breakpoint expires")
	cmd.Flags().StringVar(&thread, "thread", "", "Stop only in the named thread")
	cmd.Flags().StringVar(&policy, "policy", "", "Suspend policy (all, thread, none)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Add the breakpoint disabled")
	return cmd
}

func breakpointsRemoveCmd(c *cli, sessionID *string) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <number>",
		Aliases: []string{"rm"},
		Short:   "Remove a breakpoint by number",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid breakpoint number %q", args[0])
			}
			m, store, err := c.loadManager()
			if err != nil {
				return err
			}
			s, err := pickSession(m, *sessionID)
			if err != nil {
				return err
			}
			b, ok := s.Breakpoints().Lookup(n)
			if !ok {
				return fmt.Errorf("session %s has no breakpoint %d", s.ID(), n)
			}
			if err := s.Breakpoints().Remove(b); err != nil {
				return err
			}
			if err := m.SaveTo(store); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "breakpoint %d removed from %s\n", n, s.ID())
			return nil
		},
	}
}

// pickSession returns the session with the given identifier, or the
// current session for an empty identifier.
func pickSession(m *session.Manager, id string) (*session.Session, error) {
	if id == "" {
		if s := m.Current(); s != nil {
			return s, nil
		}
		return nil, errNoSession
	}
	s, ok := m.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
	}
	return s, nil
}

// groupByPath finds the group at a slash-separated path, creating any
// group along it that does not exist yet.
func groupByPath(reg *breakpoint.Registry, path string) (*breakpoint.Group, error) {
	g := reg.Root()
next:
	for _, name := range strings.Split(path, breakpoint.GroupPathSeparator) {
		for _, child := range g.Groups() {
			if child.Name() == name {
				g = child
				continue next
			}
		}
		child, err := reg.AddGroup(name, g)
		if err != nil {
			return nil, err
		}
		g = child
	}
	return g, nil
}

func renderBreakpoints(w io.Writer, sessions []*session.Session) {
	t := newTable(w, "Session", "#", "Kind", "Breakpoint", "Group", "Enabled", "Policy", "Skip", "State")
	for _, s := range sessions {
		for _, b := range s.Breakpoints().Breakpoints() {
			t.AppendRow(table.Row{
				s.ID(),
				b.Number(),
				b.Kind(),
				b.Description(),
				groupName(b),
				yesNo(b.Enabled()),
				b.SuspendPolicy(),
				b.SkipCount(),
				resolutionString(b.State()),
			})
		}
	}
	t.Render()
}
