package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MatteoGuarna/packet-sniffer/connection"
	"github.com/MatteoGuarna/packet-sniffer/internal/config"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store"
	"github.com/MatteoGuarna/packet-sniffer/pkg/store/sqlite"
)

func TestApplySessionFlagsOnlyChanged(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addSessionFlags(fs)
	require.NoError(t, fs.Parse([]string{"-t", "3", "--pause-policy", "drop", "-Y", "tcp"}))

	cfg := config.Default()
	cfg.Output.SQLite = "from-config.db"
	applySessionFlags(fs, cfg)

	assert.Equal(t, 3, cfg.Session.DurationSeconds)
	assert.Equal(t, "drop", cfg.Session.PausePolicy)
	assert.Equal(t, "tcp", cfg.Output.DisplayFilter)
	assert.Equal(t, "from-config.db", cfg.Output.SQLite, "unset flags keep configured values")
	assert.Equal(t, config.FormatText, cfg.Output.Format)
}

func seedHistory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	st, err := sqlite.New(sqlite.Config{DBPath: path})
	require.NoError(t, err)
	defer st.Close()

	ts := time.Unix(1700000000, 0)
	require.NoError(t, st.BeginBatch())
	id, err := st.InsertSnapshot(&store.SnapshotMeta{
		SessionID: "sess-1", Device: "eth0", Reason: "final", TakenAt: ts,
	})
	require.NoError(t, err)
	require.NoError(t, st.InsertConnections(id, []connection.Record{
		connection.NewRecord(connection.IPv4, connection.TCP,
			connection.Endpoint{Addr: "10.0.0.1", Port: "5000"},
			connection.Endpoint{Addr: "10.0.0.2", Port: "80"}, ts, 2048),
	}))
	require.NoError(t, st.CommitBatch())
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		historyDB, historyLimit = "", 0
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHistorySessions(t *testing.T) {
	path := seedHistory(t)

	out, err := execute(t, "history", "sessions", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "eth0")
	assert.Contains(t, out, "final")
}

func TestHistoryTalkers(t *testing.T) {
	path := seedHistory(t)

	out, err := execute(t, "history", "talkers", "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "10.0.0.1")
	assert.Contains(t, out, "10.0.0.2")
	assert.Contains(t, out, "2.0 KB")
}

func TestHistoryInvalidSnapshotID(t *testing.T) {
	path := seedHistory(t)

	_, err := execute(t, "history", "talkers", "abc", "--db", path)
	assert.Error(t, err)
}
