package serac

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// seracHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
//
// grounded on the teacher's internal/app/log.go btHandler, with the
// teacher's timestamp-based operation ID replaced by a per-invocation
// UUID from NewRunID.
type seracHandler struct {
	w     io.Writer
	runID string
	attrs []slog.Attr
}

func (h *seracHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *seracHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	level := r.Level.String()

	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, level, h.runID, r.Message); err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *seracHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &seracHandler{
		w:     h.w,
		runID: h.runID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *seracHandler) WithGroup(string) slog.Handler { return h }

// NewRunID returns a fresh identifier for one archive/restore/ls
// invocation, used to correlate log lines from that invocation.
// Grounded on the teacher's opID (a timestamp string); serac uses
// google/uuid instead since multiple invocations can start within the
// same second against a shared log file.
func NewRunID() string {
	return uuid.NewString()
}

// NewLogger creates a structured logger that writes to both
// logDir/serac.log and stderr, mirroring the teacher's newLogger.
func NewLogger(logDir, runID string) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "serac.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	return slog.New(&seracHandler{w: w, runID: runID}), f, nil
}
