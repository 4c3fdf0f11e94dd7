// Package app provides application-level orchestration for the sniffer:
// it turns a validated configuration into a ready-to-run capture session.
package app

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/google/gopacket/pcap"

	"github.com/MatteoGuarna/packet-sniffer/capture"
	"github.com/MatteoGuarna/packet-sniffer/capture/device"
	"github.com/MatteoGuarna/packet-sniffer/decode"
	"github.com/MatteoGuarna/packet-sniffer/filter"
	"github.com/MatteoGuarna/packet-sniffer/internal/config"
	"github.com/MatteoGuarna/packet-sniffer/internal/logger"
	"github.com/MatteoGuarna/packet-sniffer/internal/report"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store/sqlite"
	"github.com/MatteoGuarna/packet-sniffer/session"
)

// Runtime holds everything a session needs. Close releases it all.
type Runtime struct {
	Session  *session.Session
	Source   capture.Source
	Reporter report.Reporter
	Recorder *capture.Recorder
	// Device is the interface name or the capture file path.
	Device string

	closers []io.Closer
}

// Close releases the source, the recorder and the reporters.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// statsSource is a source that can report kernel receive and drop counters.
type statsSource interface {
	Name() string
	Stats() (*pcap.Stats, error)
}

// LogSourceStats logs the kernel counters of a live source. Capture files
// have none and are skipped.
func (r *Runtime) LogSourceStats(log *logger.Logger) {
	src, ok := r.Source.(statsSource)
	if !ok {
		return
	}
	st, err := src.Stats()
	if err != nil {
		log.Warn("%s: reading capture stats: %v", src.Name(), err)
		return
	}
	log.Info("%s: %d packets received, %d dropped by kernel, %d dropped by interface",
		src.Name(), st.PacketsReceived, st.PacketsDropped, st.PacketsIfDropped)
}

// Setup establishes a session from cfg. Any failure here is a
// session-establishment error and nothing is left open.
func Setup(cfg *config.Config, log *logger.Logger) (_ *Runtime, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	rt := &Runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	src, name, err := OpenSource(cfg.Capture)
	if err != nil {
		return nil, err
	}
	rt.Source, rt.Device = src, name
	rt.closers = append(rt.closers, src)

	if cfg.Output.SaveFrames != "" {
		path := cfg.Output.SaveFrames
		if path == "auto" {
			path = capture.GenerateFilename("session")
		}
		rec, err := capture.NewRecorder(path, src.LinkType(), uint32(cfg.Capture.SnapLen))
		if err != nil {
			return nil, fmt.Errorf("error creating output file: %w", err)
		}
		rt.Recorder = rec
		rt.closers = append(rt.closers, rec)
		log.Info("recording frames to %s", path)
	}

	rep, err := BuildReporter(cfg, log)
	if err != nil {
		return nil, err
	}
	rt.Reporter = rep
	rt.closers = append(rt.closers, rep)

	policy, err := session.ParsePausePolicy(cfg.Session.PausePolicy)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{session.WithLogger(log)}
	if rt.Recorder != nil {
		opts = append(opts, session.WithRecorder(rt.Recorder))
	}
	rt.Session, err = session.New(session.Config{
		Duration:    cfg.Duration(),
		PausePolicy: policy,
		Device:      name,
	}, src, decode.NewDecoder(), rep, opts...)
	if err != nil {
		return nil, err
	}

	return rt, nil
}

// OpenSource opens a capture file when one is configured, otherwise a live
// interface chosen by name or by index (the first interface by default).
func OpenSource(cfg config.CaptureConfig) (capture.Source, string, error) {
	if cfg.File != "" {
		fs, err := capture.OpenFile(cfg.File)
		if err != nil {
			return nil, "", fmt.Errorf("error opening source: %w", err)
		}
		if cfg.Filter == "" {
			return fs, cfg.File, nil
		}
		filtered, err := device.NewBPFSource(fs, cfg.Filter, cfg.SnapLen)
		if err != nil {
			fs.Close()
			return nil, "", err
		}
		return filtered, cfg.File, nil
	}

	name := cfg.Device
	if name == "" {
		index := 0
		if cfg.DeviceIndex != nil {
			index = *cfg.DeviceIndex
		}
		var err error
		if name, err = device.ByIndex(index); err != nil {
			return nil, "", err
		}
	}

	poll, err := (&config.Config{Capture: cfg}).PollTimeout()
	if err != nil {
		return nil, "", err
	}
	live, err := device.Open(name, device.Options{
		Promiscuous: cfg.Promiscuous,
		SnapLen:     int32(cfg.SnapLen),
		PollTimeout: poll,
		Filter:      cfg.Filter,
	})
	if err != nil {
		return nil, "", err
	}
	return live, name, nil
}

// BuildReporter assembles the primary text or JSON reporter, narrowed by
// the display filter, plus the configured SQLite, NATS and HTTP sinks.
func BuildReporter(cfg *config.Config, log *logger.Logger) (rep report.Reporter, err error) {
	var reporters []report.Reporter
	defer func() {
		if err != nil {
			for _, r := range reporters {
				r.Close()
			}
		}
	}()

	out, err := report.OpenOutput(cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("error opening output: %w", err)
	}

	var primary report.Reporter
	switch cfg.Output.Format {
	case config.FormatJSON:
		primary = report.NewJSON(out)
	default:
		primary = report.NewText(out, report.TextOptions{
			Color:    useColor(cfg.Output),
			Services: cfg.Output.Services,
		})
	}
	reporters = append(reporters, primary)

	if expr := cfg.Output.DisplayFilter; expr != "" {
		match, err := filter.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("error compiling display filter: %w", err)
		}
		reporters[0] = report.NewFiltered(primary, match)
	}

	if cfg.Output.SQLite != "" {
		st, err := sqlite.New(sqlite.Config{DBPath: cfg.Output.SQLite, WAL: true})
		if err != nil {
			return nil, fmt.Errorf("error opening snapshot database: %w", err)
		}
		reporters = append(reporters, report.NewSQLite(st))
		log.Info("storing snapshots in %s", cfg.Output.SQLite)
	}

	if cfg.NATS.URL != "" {
		nr, err := report.NewNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, err
		}
		reporters = append(reporters, nr)
		log.Info("publishing snapshots to %s on %s", cfg.NATS.URL, nr.Subject())
	}

	if cfg.Output.HTTPListen != "" {
		hr := report.NewHTTP(log)
		if err := hr.Start(cfg.Output.HTTPListen); err != nil {
			return nil, fmt.Errorf("error starting snapshot API: %w", err)
		}
		reporters = append(reporters, hr)
	}

	if len(reporters) == 1 {
		return reporters[0], nil
	}
	return report.NewMulti(reporters...), nil
}

func useColor(out config.OutputConfig) bool {
	switch out.Color {
	case "always":
		return true
	case "never":
		return false
	default:
		return (out.Path == "" || out.Path == "-") && !color.NoColor
	}
}
