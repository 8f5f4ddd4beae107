package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("loud"))
}

func TestNewFormatsByEnv(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{Env: "production", Service: "api"}).Info("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"service":"api"`)

	buf.Reset()
	New(&buf, Options{Env: "dev", Level: "warn"}).Info("hidden")
	assert.Empty(t, buf.String())
}

func TestRollbarHandlerForwardsErrors(t *testing.T) {
	type report struct {
		msg    string
		err    error
		extras map[string]any
	}
	var got []report
	var buf bytes.Buffer
	h := NewRollbarHandler(slog.NewTextHandler(&buf, nil), func(msg string, err error, extras map[string]any) {
		got = append(got, report{msg: msg, err: err, extras: extras})
	})
	logger := slog.New(h).With("session", "s1")

	logger.Info("routine")
	cause := errors.New("connection reset")
	logger.Error("sweep: failed to close session", "error", cause, "attempt", 2)

	require.Len(t, got, 1)
	assert.Equal(t, "sweep: failed to close session", got[0].msg)
	assert.Equal(t, cause, got[0].err)
	assert.Equal(t, "s1", got[0].extras["session"])
	assert.Equal(t, "2", got[0].extras["attempt"])
	assert.Contains(t, buf.String(), "routine", "records still reach the wrapped handler")
}
