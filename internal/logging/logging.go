package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/rollbar/rollbar-go"
)

// Options configures New.
type Options struct {
	Env          string
	Level        string
	RollbarToken string
	Service      string
}

// New builds the process logger: JSON in production, text elsewhere. With a Rollbar token,
// error records are also reported to Rollbar.
func New(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var h slog.Handler
	if isProd(opts.Env) {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	if opts.RollbarToken != "" {
		rollbar.SetToken(opts.RollbarToken)
		rollbar.SetEnvironment(opts.Env)
		rollbar.SetServerHost(opts.Service)
		h = NewRollbarHandler(h, reportToRollbar)
	}
	logger := slog.New(h)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	return logger
}

// Close flushes pending Rollbar reports.
func Close() {
	rollbar.Close()
}

// ParseLevel maps debug/info/warn/error to a level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func isProd(env string) bool {
	env = strings.ToLower(env)
	return env == "prod" || env == "production"
}

// ReportFunc receives error records forwarded by RollbarHandler.
type ReportFunc func(msg string, err error, extras map[string]any)

func reportToRollbar(msg string, err error, extras map[string]any) {
	if err != nil {
		extras["message"] = msg
		rollbar.ErrorWithExtras(rollbar.ERR, err, extras)
		return
	}
	rollbar.Error(msg, extras)
}

// RollbarHandler forwards error-level records to report and always delegates to next.
type RollbarHandler struct {
	next   slog.Handler
	report ReportFunc
	attrs  []slog.Attr
}

// NewRollbarHandler wraps next.
func NewRollbarHandler(next slog.Handler, report ReportFunc) *RollbarHandler {
	return &RollbarHandler{next: next, report: report}
}

func (h *RollbarHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RollbarHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		extras := make(map[string]any, len(h.attrs)+r.NumAttrs())
		var err error
		collect := func(a slog.Attr) bool {
			if e, ok := a.Value.Any().(error); ok && err == nil {
				err = e
				return true
			}
			extras[a.Key] = a.Value.String()
			return true
		}
		for _, a := range h.attrs {
			collect(a)
		}
		r.Attrs(collect)
		h.report(r.Message, err, extras)
	}
	return h.next.Handle(ctx, r)
}

func (h *RollbarHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &RollbarHandler{next: h.next.WithAttrs(attrs), report: h.report, attrs: merged}
}

func (h *RollbarHandler) WithGroup(name string) slog.Handler {
	return &RollbarHandler{next: h.next.WithGroup(name), report: h.report, attrs: h.attrs}
}
