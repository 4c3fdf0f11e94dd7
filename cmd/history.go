package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MatteoGuarna/packet-sniffer/internal/config"
	"github.com/MatteoGuarna/packet-sniffer/internal/report"
	"github.com/MatteoGuarna/packet-sniffer/pkg/query"
	"github.com/MatteoGuarna/packet-sniffer/session"
	"github.com/MatteoGuarna/packet-sniffer/stats"
)

// history command flags
var (
	historyDB string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query snapshots stored with --sqlite",
	Long: `Inspect the snapshots a capture stored in its SQLite database: list
the recorded sessions, print a stored connection table, or rank addresses by
traffic.`,
	GroupID: "info",
}

// show subcommand flags
var (
	historySession   string
	historyAddr      string
	historyPort      string
	historyTransport string
	historyMinBytes  int64
	historySort      string
	historyLimit     int
	historyFormat    string
)

var historySessionsCmd = &cobra.Command{
	Use:     "sessions",
	Short:   "List stored sessions",
	Example: `  packet-sniffer history sessions --db snapshots.db`,
	Args:    cobra.NoArgs,
	RunE:    runHistorySessions,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [snapshot-id]",
	Short: "Print a stored connection table",
	Long: `Print the connections of a stored snapshot. Without an ID the latest
snapshot is shown, of --session when given.`,
	Example: `  packet-sniffer history show --db snapshots.db
  packet-sniffer history show 12 --db snapshots.db --transport tcp --sort bytes
  packet-sniffer history show --session 0b7c... --addr 10.0.0.2 --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistoryShow,
}

var historyTalkersCmd = &cobra.Command{
	Use:     "talkers [snapshot-id]",
	Short:   "Rank addresses by bytes in a stored snapshot",
	Example: `  packet-sniffer history talkers --db snapshots.db --limit 5`,
	Args:    cobra.MaximumNArgs(1),
	RunE:    runHistoryTalkers,
}

func init() {
	historyCmd.PersistentFlags().StringVar(&historyDB, "db", "",
		"Snapshot database (default: output.sqlite from the configuration)")
	historyCmd.PersistentFlags().StringVar(&historySession, "session", "",
		"Session ID used to pick the latest snapshot")
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 0,
		"Maximum number of rows (0 = unlimited)")

	historyShowCmd.Flags().StringVar(&historyAddr, "addr", "",
		"Only connections with this address on either side")
	historyShowCmd.Flags().StringVar(&historyPort, "port", "",
		"Only connections with this port on either side")
	historyShowCmd.Flags().StringVar(&historyTransport, "transport", "",
		"Only tcp or udp connections")
	historyShowCmd.Flags().Int64Var(&historyMinBytes, "min-bytes", 0,
		"Only connections with at least this many bytes")
	historyShowCmd.Flags().StringVar(&historySort, "sort", "",
		"Sort by: seq, bytes, start, duration (bytes and duration sort descending)")
	historyShowCmd.Flags().StringVar(&historyFormat, "format", config.FormatText,
		"Output format: text, json")

	historyCmd.AddCommand(historySessionsCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyTalkersCmd)
}

// openHistory opens the snapshot database named by --db or the configuration.
func openHistory() (*query.SQLiteEngine, error) {
	path := historyDB
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Output.SQLite
	}
	if path == "" {
		return nil, fmt.Errorf("no snapshot database: use --db or set output.sqlite")
	}
	return query.Open(path)
}

// snapshotArg resolves the snapshot ID argument, defaulting to the latest.
func snapshotArg(ctx context.Context, e query.Engine, args []string) (int64, error) {
	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid snapshot id %q: %w", args[0], err)
		}
		return id, nil
	}
	return e.LatestSnapshot(ctx, historySession)
}

// runHistorySessions lists the stored sessions
func runHistorySessions(cmd *cobra.Command, args []string) error {
	e, err := openHistory()
	if err != nil {
		return err
	}
	defer e.Close()

	sessions, err := e.Sessions(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-36s  %-16s  %9s  %-6s  %s\n", "Session", "Device", "Snapshots", "Last", "Taken")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for i, s := range sessions {
		if historyLimit > 0 && i >= historyLimit {
			break
		}
		fmt.Fprintf(out, "%-36s  %-16s  %9d  %-6s  %s .. %s\n",
			s.SessionID, stats.Truncate(s.Device, 16), s.Snapshots, s.LastReason,
			s.FirstAt.Format("2006-01-02 15:04:05"), s.LastAt.Format("15:04:05"))
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions stored.")
	}
	return nil
}

// runHistoryShow prints a stored connection table through the regular reporters
func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openHistory()
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := snapshotArg(ctx, e, args)
	if err != nil {
		return err
	}
	meta, err := e.Snapshot(ctx, id)
	if err != nil {
		return err
	}

	filter := query.ConnectionFilter{
		SnapshotID: id,
		Limit:      historyLimit,
		Addr:       historyAddr,
		Port:       historyPort,
		Transport:  historyTransport,
		MinBytes:   historyMinBytes,
		SortBy:     historySort,
	}
	if historySort == "bytes" || historySort == "duration" {
		filter.SortOrder = "desc"
	}
	records, err := e.Connections(ctx, filter)
	if err != nil {
		return err
	}

	out, err := report.OpenOutput("-")
	if err != nil {
		return err
	}
	var rep report.Reporter
	switch historyFormat {
	case config.FormatJSON:
		rep = report.NewJSON(out)
	case config.FormatText:
		rep = report.NewText(out, report.TextOptions{})
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", historyFormat)
	}
	defer rep.Close()

	return rep.Render(ctx, session.Snapshot{
		SessionID:   meta.SessionID,
		Device:      meta.Device,
		Reason:      session.Reason(meta.Reason),
		TakenAt:     meta.TakenAt,
		Remaining:   meta.Remaining,
		Connections: records,
		Counters:    meta.Counters,
	})
}

// runHistoryTalkers ranks addresses by bytes
func runHistoryTalkers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openHistory()
	if err != nil {
		return err
	}
	defer e.Close()

	id, err := snapshotArg(ctx, e, args)
	if err != nil {
		return err
	}
	talkers, err := e.TopTalkers(ctx, id, historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Top talkers in snapshot %d\n", id)
	fmt.Fprintf(out, "%-40s  %10s  %11s\n", "Address", "Bytes", "Connections")
	fmt.Fprintln(out, strings.Repeat("-", 65))
	for _, t := range talkers {
		fmt.Fprintf(out, "%-40s  %10s  %11d\n", t.Addr, stats.FormatBytes(t.Bytes), t.Connections)
	}
	return nil
}
