package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/MatteoGuarna/packet-sniffer/internal/app"
	"github.com/MatteoGuarna/packet-sniffer/internal/config"
	"github.com/MatteoGuarna/packet-sniffer/session"
)

// session flags shared by capture and replay
var (
	sessionDuration    int
	sessionOutput      string
	sessionFormat      string
	sessionDisplay     string
	sessionSave        string
	sessionPausePolicy string
	sessionSQLite      string
	sessionNATSURL     string
	sessionNATSSubject string
	sessionHTTP        string
	sessionServices    bool
	sessionColor       string
)

// capture command flags
var (
	captureIndex       int
	captureBPFFilter   string
	captureNoPromisc   bool
	captureSnapLen     int
	capturePollTimeout string
)

var captureCmd = &cobra.Command{
	Use:   "capture [interface]",
	Short: "Capture live traffic for a fixed duration",
	Long: `Capture packets on a network interface and aggregate them into a
connection table. Without an interface name the first enumerated interface
is used, or the one selected with --index.

Type "p" and Enter to pause (the table is printed), "r" and Enter to resume.
Requires root privileges on most systems.`,
	Example: `  sudo packet-sniffer capture eth0
  sudo packet-sniffer capture -n 2 -t 60
  sudo packet-sniffer capture en0 -f "tcp port 443" -o report.txt
  sudo packet-sniffer capture eth0 --sqlite snapshots.db --http :8080`,
	Args:    cobra.MaximumNArgs(1),
	GroupID: "input",
	RunE:    runCapture,
}

func init() {
	addSessionFlags(captureCmd.Flags())

	captureCmd.Flags().IntVarP(&captureIndex, "index", "n", 0,
		"Capture on the n-th interface (see 'list interfaces')")
	captureCmd.Flags().StringVarP(&captureBPFFilter, "bpf", "f", "",
		"BPF filter expression")
	captureCmd.Flags().BoolVar(&captureNoPromisc, "no-promisc", false,
		"Do not put the interface in promiscuous mode")
	captureCmd.Flags().IntVar(&captureSnapLen, "snaplen", 0,
		"Snapshot length in bytes (0 = configured default)")
	captureCmd.Flags().StringVar(&capturePollTimeout, "poll-timeout", "",
		"How long a read waits for a frame, e.g. 500ms")
}

// addSessionFlags registers the flags that tune the session and its reporters.
func addSessionFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&sessionDuration, "duration", "t", 0,
		"Capture duration in seconds")
	fs.StringVarP(&sessionOutput, "output", "o", "",
		"Write reports to this file ('-' = stdout)")
	fs.StringVar(&sessionFormat, "format", "",
		"Report format: text, json")
	fs.StringVarP(&sessionDisplay, "filter", "Y", "",
		"Display filter applied to printed tables")
	fs.StringVarP(&sessionSave, "save", "w", "",
		"Record raw frames to a pcapng file ('auto' = timestamped name)")
	fs.StringVar(&sessionPausePolicy, "pause-policy", "",
		"What to do with frames captured while paused: keep, drop")
	fs.StringVar(&sessionSQLite, "sqlite", "",
		"Store every snapshot in this SQLite database")
	fs.StringVar(&sessionNATSURL, "nats-url", "",
		"Publish snapshots to this NATS server")
	fs.StringVar(&sessionNATSSubject, "nats-subject", "",
		"NATS subject for snapshots")
	fs.StringVar(&sessionHTTP, "http", "",
		"Serve the latest snapshot over HTTP on this address")
	fs.BoolVar(&sessionServices, "services", false,
		"Show well-known service names next to ports")
	fs.StringVar(&sessionColor, "color", "",
		"Colorize text output: auto, always, never")
}

// applySessionFlags copies explicitly set session flags over cfg.
func applySessionFlags(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("duration") {
		cfg.Session.DurationSeconds = sessionDuration
	}
	if fs.Changed("output") {
		cfg.Output.Path = sessionOutput
	}
	if fs.Changed("format") {
		cfg.Output.Format = sessionFormat
	}
	if fs.Changed("filter") {
		cfg.Output.DisplayFilter = sessionDisplay
	}
	if fs.Changed("save") {
		cfg.Output.SaveFrames = sessionSave
	}
	if fs.Changed("pause-policy") {
		cfg.Session.PausePolicy = sessionPausePolicy
	}
	if fs.Changed("sqlite") {
		cfg.Output.SQLite = sessionSQLite
	}
	if fs.Changed("nats-url") {
		cfg.NATS.URL = sessionNATSURL
	}
	if fs.Changed("nats-subject") {
		cfg.NATS.Subject = sessionNATSSubject
	}
	if fs.Changed("http") {
		cfg.Output.HTTPListen = sessionHTTP
	}
	if fs.Changed("services") {
		cfg.Output.Services = sessionServices
	}
	if fs.Changed("color") {
		cfg.Output.Color = sessionColor
	}
}

// runCapture runs a live capture session.
func runCapture(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Capture.File = ""

	fs := cmd.Flags()
	applySessionFlags(fs, cfg)
	if len(args) == 1 {
		cfg.Capture.Device = args[0]
		cfg.Capture.DeviceIndex = nil
	}
	if fs.Changed("index") {
		cfg.Capture.Device = ""
		cfg.Capture.DeviceIndex = &captureIndex
	}
	if fs.Changed("bpf") {
		cfg.Capture.Filter = captureBPFFilter
	}
	if captureNoPromisc {
		cfg.Capture.Promiscuous = false
	}
	if fs.Changed("snaplen") {
		cfg.Capture.SnapLen = captureSnapLen
	}
	if fs.Changed("poll-timeout") {
		cfg.Capture.PollTimeout = capturePollTimeout
	}

	return runSession(cfg, true)
}

// runSession establishes the session described by cfg and runs it until
// the countdown expires or the process is interrupted. Interactive sessions
// read pause and resume commands from stdin.
func runSession(cfg *config.Config, interactive bool) error {
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	rt, err := app.Setup(cfg, log)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if interactive {
		fmt.Fprintf(os.Stderr, "Capturing on %s for %s. Type %q to pause, %q to resume, Ctrl+C to stop.\n",
			rt.Device, cfg.Duration(), session.CommandPause, session.CommandResume)
		session.NewListener(os.Stdin, rt.Session.Clock(), log).Start()
	}

	err = rt.Session.Run(ctx)
	rt.LogSourceStats(log)
	if err != nil {
		return err
	}
	if rt.Recorder != nil {
		log.Info("%d frames written to %s", rt.Recorder.Count(), rt.Recorder.Filename())
	}
	return nil
}
