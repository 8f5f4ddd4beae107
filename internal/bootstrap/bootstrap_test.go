package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfidattendance/internal/config"
)

func TestOpenInMemory(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "roster.json")
	require.NoError(t, os.WriteFile(seed, []byte(`{
		"teachers": [{"id": "T1", "name": "Asha Rao", "rfid_tag": "AA01"}],
		"assignments": [{"id": "a1", "section_id": "SEC", "teacher_id": "T1"}]
	}`), 0o600))

	cfg := config.App{StoreBackend: config.BackendMemory, LiveBackend: config.BackendMemory, RosterSeedFile: seed}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rt, err := Open(context.Background(), cfg, logger, prometheus.NewRegistry())
	require.NoError(t, err)
	defer rt.Close()

	sess, err := rt.Service.OpenSession(context.Background(), "T1", "a1")
	require.NoError(t, err)
	assert.True(t, sess.Open())
	assert.Empty(t, rt.Checks())
}

func TestOpenFailsOnMissingSeed(t *testing.T) {
	cfg := config.App{StoreBackend: config.BackendMemory, LiveBackend: config.BackendMemory, RosterSeedFile: "/nonexistent/roster.json"}
	_, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	assert.ErrorContains(t, err, "roster seed")
}

func TestChecksReportRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.App{StoreBackend: config.BackendMemory, LiveBackend: config.BackendRedis, RedisAddr: mr.Addr()}
	rt, err := Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	require.NoError(t, err)
	defer rt.Close()

	checks := rt.Checks()
	require.Contains(t, checks, "redis")
	assert.NotContains(t, checks, "db")
	assert.True(t, checks["redis"].Healthy(context.Background()))

	mr.Close()
	assert.False(t, checks["redis"].Healthy(context.Background()))
}
