// Package stats provides per-session capture counters and the byte and
// duration formatting shared by the reporters.
package stats

import (
	"fmt"
	"time"
)

// Counters tracks what happened to every frame pulled from the capture
// source during a session.
type Counters struct {
	Frames        uint64 `json:"frames"`
	Decoded       uint64 `json:"decoded"`
	Bytes         uint64 `json:"bytes"`
	Malformed     uint64 `json:"malformed"`
	NoNetwork     uint64 `json:"no_network"`
	Unsupported   uint64 `json:"unsupported"`
	DroppedPaused uint64 `json:"dropped_paused"`
	SourceErrors  uint64 `json:"source_errors"`
}

// Skipped returns the number of frames that never reached the connection
// table.
func (c Counters) Skipped() uint64 {
	return c.Malformed + c.NoNetwork + c.Unsupported + c.DroppedPaused
}

// String renders the counters on one line.
func (c Counters) String() string {
	return fmt.Sprintf("frames=%d decoded=%d bytes=%s skipped=%d (malformed=%d no_ip=%d unsupported=%d paused=%d) source_errors=%d",
		c.Frames, c.Decoded, FormatBytes(int64(c.Bytes)), c.Skipped(),
		c.Malformed, c.NoNetwork, c.Unsupported, c.DroppedPaused, c.SourceErrors)
}

// FormatBytes renders a byte count with binary units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration with a unit suited to its magnitude.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// Truncate shortens s to maxLen, marking the cut with an ellipsis.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
