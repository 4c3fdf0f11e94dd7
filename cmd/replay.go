package cmd

import (
	"github.com/spf13/cobra"
)

var replayBPFFilter string

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Aggregate a pcap/pcapng file into a connection table",
	Long: `Read frames from a capture file through the same session as a live
capture. The countdown still applies: once the file is exhausted the session
waits for it to expire and then prints the final table.`,
	Example: `  packet-sniffer replay trace.pcap -t 1
  packet-sniffer replay trace.pcapng -f "udp port 53" --format json
  packet-sniffer replay trace.pcap -Y 'bytes > 1000' --sqlite snapshots.db`,
	Args:    cobra.ExactArgs(1),
	GroupID: "input",
	RunE:    runReplay,
}

func init() {
	addSessionFlags(replayCmd.Flags())

	replayCmd.Flags().StringVarP(&replayBPFFilter, "bpf", "f", "",
		"BPF filter expression")
}

// runReplay runs a non-interactive session over a capture file.
func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fs := cmd.Flags()
	applySessionFlags(fs, cfg)
	cfg.Capture.File = args[0]
	cfg.Capture.Device = ""
	cfg.Capture.DeviceIndex = nil
	if fs.Changed("bpf") {
		cfg.Capture.Filter = replayBPFFilter
	}

	return runSession(cfg, false)
}
