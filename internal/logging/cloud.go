package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// CloudHandler is a slog.Handler that writes one JSON object per line using
// the message/severity/timestamp field names Cloud Logging extracts from
// Cloud Run container stdout.
type CloudHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
	group string
}

// NewCloudHandler constructs a CloudHandler writing to w at the given level.
func NewCloudHandler(w io.Writer, level slog.Level) *CloudHandler {
	return &CloudHandler{
		mu:    &sync.Mutex{},
		w:     w,
		level: level,
	}
}

// Enabled reports whether the handler emits records at the given level.
func (h *CloudHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle writes the record as a Cloud Logging compatible JSON line.
func (h *CloudHandler) Handle(_ context.Context, record slog.Record) error {
	payload := map[string]any{
		"message":  h.message(record),
		"severity": severity(record.Level),
		"timestamp": map[string]int64{
			"seconds": record.Time.Unix(),
			"nanos":   int64(record.Time.Nanosecond()),
		},
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(append(line, '\n'))
	return err
}

// WithAttrs returns a handler that includes the given attributes in every message.
func (h *CloudHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup returns a handler that prefixes attribute keys with the group name.
func (h *CloudHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "."
	}
	clone.group += name
	return &clone
}

// message folds the record message and attributes into a single string, the
// way the original Cloud Run jobs logged a flat message field.
func (h *CloudHandler) message(record slog.Record) string {
	var b strings.Builder
	b.WriteString(record.Message)

	write := func(a slog.Attr) {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value)
	}

	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	return b.String()
}

// severity maps slog levels onto Cloud Logging severity names.
func severity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
