package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tools.zach/dev/psnwatch/internal/config"
	"tools.zach/dev/psnwatch/internal/console"
	"tools.zach/dev/psnwatch/internal/control"
	"tools.zach/dev/psnwatch/internal/humanize"
	"tools.zach/dev/psnwatch/internal/monitor"
	"tools.zach/dev/psnwatch/internal/notify"
	"tools.zach/dev/psnwatch/internal/paths"
)

// ctlOptions are shared by every ctl subcommand.
type ctlOptions struct {
	dataDir *string
	user    string
	address string
}

// client resolves the daemon's control endpoint. An explicit --address wins
// over the config file.
func (o *ctlOptions) client() (*control.Client, *config.Config, error) {
	cfg, err := config.Load(*o.dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	address := cfg.Control.Address
	if o.address != "" {
		address = o.address
	}
	ep, err := control.ResolveEndpoint(address, paths.DataDir{Root: *o.dataDir}, o.user)
	if err != nil {
		return nil, nil, err
	}
	return control.NewClient(ep), cfg, nil
}

func newCtlCmd(dataDir *string) *cobra.Command {
	opts := &ctlOptions{dataDir: dataDir}
	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Query or adjust a running psnwatch daemon",
		Long: `ctl talks to the control endpoint of a running daemon. By default this is a
socket (named pipe on Windows) in the data directory, one per monitored user.`,
	}
	cmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "PSN ID the daemon is monitoring")
	cmd.PersistentFlags().StringVar(&opts.address, "address", "", "Control address (overrides control.address)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(
		newCtlStatusCmd(opts),
		newCtlToggleCmd(opts),
		newCtlIntervalCmd(opts),
		newCtlLogCmd(opts),
		newCtlEventsCmd(opts),
	)
	return cmd
}

// ///////////////////////////////////////////////
// status
// ///////////////////////////////////////////////

func newCtlStatusCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the tracked session, toggles and intervals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			st, err := client.Status(ctx)
			if err != nil {
				return err
			}
			toggles, err := client.Toggles(ctx)
			if err != nil {
				return err
			}
			iv, err := client.Intervals(ctx)
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			return console.Render(cmd.OutOrStdout(), statusSections(st, toggles, iv, time.Now(), loc)...)
		},
	}
}

// statusSections lays out a daemon status for the terminal.
func statusSections(st monitor.Status, toggles notify.Settings, iv control.Intervals, now time.Time, loc *time.Location) []console.Section {
	s := st.State
	date := func(t time.Time) string {
		if t.IsZero() {
			return "n/a"
		}
		return humanize.Date(t.In(loc))
	}

	session := console.Section{
		{Label: "Playstation ID", Value: st.Profile.OnlineID},
		{Label: "Status", Value: s.Status.Upper()},
		{Label: "Since", Value: date(s.StatusSince)},
	}
	if !s.StatusSince.IsZero() {
		session = append(session, console.Field{
			Label: "For",
			Value: humanize.Span(now.In(loc), s.StatusSince.In(loc), humanize.SpanOptions{HideSeconds: true}),
		})
	}
	if s.Status.Active() {
		session = append(session,
			console.Field{Label: "Session", Value: s.SessionID},
			console.Field{Label: "Session start", Value: date(s.SessionStart)},
			console.Field{Label: "Games played", Value: fmt.Sprintf("%d (%s)", s.GamesCount, humanize.Duration(s.GameTotal, 2))},
		)
	}
	if s.GameName != "" {
		session = append(session, console.Field{Label: "In game", Value: fmt.Sprintf("%s (%s)", s.GameName, s.GamePlatform)})
	}

	loop := console.Section{
		{Label: "Last check", Value: date(st.LastCheck)},
		{Label: "Next check in", Value: humanize.Duration(st.NextCheckIn, 2)},
	}
	if st.LastError != "" {
		loop = append(loop,
			console.Field{Label: "Last error", Value: st.LastError},
			console.Field{Label: "Failures", Value: fmt.Sprintf("%d", st.Failures)},
		)
	}

	settings := console.Section{
		{Label: "Intervals", Value: fmt.Sprintf("offline %s, active %s, step %s",
			humanize.Seconds(iv.OfflineSeconds, 2), humanize.Seconds(iv.OnlineSeconds, 2), humanize.Seconds(iv.StepSeconds, 2))},
	}
	for _, t := range notify.AllToggles {
		settings = append(settings, console.Field{Label: "Notify " + string(t), Value: onOff(toggles.Get(t))})
	}
	return []console.Section{session, loop, settings}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// ///////////////////////////////////////////////
// toggle
// ///////////////////////////////////////////////

func newCtlToggleCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <name> [on|off]",
		Short: "Flip or set a notification toggle (status, game_change, active_inactive, errors)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := notify.ParseToggle(args[0])
			if err != nil {
				return err
			}
			var enabled *bool
			if len(args) == 2 {
				v, err := parseOnOff(args[1])
				if err != nil {
					return err
				}
				enabled = &v
			}
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			res, err := client.SetToggle(cmd.Context(), name, enabled)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", res.Name, onOff(res.Enabled))
			return err
		},
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid value %q: want on or off", s)
}

// ///////////////////////////////////////////////
// interval
// ///////////////////////////////////////////////

func newCtlIntervalCmd(opts *ctlOptions) *cobra.Command {
	var (
		offline, online, step int64
		adjust                int
	)
	cmd := &cobra.Command{
		Use:   "interval",
		Short: "Show or change the poll intervals",
		Long: `Without flags, interval prints the current poll intervals. --offline, --online and
--step replace values (in seconds); --adjust moves the online interval by a number
of steps, like SIGTRAP (+1) and SIGABRT (-1).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			f := cmd.Flags()

			var iv control.Intervals
			switch {
			case f.Changed("adjust"):
				if f.Changed("offline") || f.Changed("online") || f.Changed("step") {
					return errors.New("--adjust cannot be combined with --offline, --online or --step")
				}
				iv, err = client.AdjustOnline(ctx, adjust)
			case f.Changed("offline") || f.Changed("online") || f.Changed("step"):
				iv, err = client.Intervals(ctx)
				if err != nil {
					return err
				}
				if f.Changed("offline") {
					iv.OfflineSeconds = offline
				}
				if f.Changed("online") {
					iv.OnlineSeconds = online
				}
				if f.Changed("step") {
					iv.StepSeconds = step
				}
				iv, err = client.SetIntervals(ctx, iv)
			default:
				iv, err = client.Intervals(ctx)
			}
			if err != nil {
				return err
			}
			return printIntervals(cmd.OutOrStdout(), iv)
		},
	}
	cmd.Flags().Int64Var(&offline, "offline", 0, "Seconds between checks while offline")
	cmd.Flags().Int64Var(&online, "online", 0, "Seconds between checks while online")
	cmd.Flags().Int64Var(&step, "step", 0, "Seconds added or removed per --adjust step")
	cmd.Flags().IntVar(&adjust, "adjust", 0, "Move the online interval by this many steps")
	return cmd
}

func printIntervals(w io.Writer, iv control.Intervals) error {
	return console.Render(w, console.Section{
		{Label: "Offline", Value: humanize.Seconds(iv.OfflineSeconds, 2)},
		{Label: "Active", Value: humanize.Seconds(iv.OnlineSeconds, 2)},
		{Label: "Step", Value: humanize.Seconds(iv.StepSeconds, 2)},
	})
}

// ///////////////////////////////////////////////
// log
// ///////////////////////////////////////////////

func newCtlLogCmd(opts *ctlOptions) *cobra.Command {
	var lines int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Print the last lines of the daemon's log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			tail, err := client.Log(cmd.Context(), lines)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), tail)
			return err
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines")
	return cmd
}

// ///////////////////////////////////////////////
// events
// ///////////////////////////////////////////////

func newCtlEventsCmd(opts *ctlOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow status and game changes as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := opts.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return client.Events(cmd.Context(), func(msg json.RawMessage) error {
				_, err := fmt.Fprintf(out, "%s\n", msg)
				return err
			})
		},
	}
}
