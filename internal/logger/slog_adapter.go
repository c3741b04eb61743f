package logger

import (
	"context"
	"log"
	"log/slog"
	"strings"
)

// NewStdLogger returns a *log.Logger that writes through l at the given
// level, for fields such as http.Server.ErrorLog. A nil l uses the global
// logger.
func NewStdLogger(l *Logger, level slog.Level) *log.Logger {
	if l == nil {
		l = Global()
	}
	return slog.NewLogLogger(&slogHandler{log: l}, level)
}

// slogHandler forwards records to a Logger, appending attributes as
// key=value pairs
type slogHandler struct {
	log   *Logger
	attrs []slog.Attr
	group string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return levelFromSlog(level) >= h.log.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	write := func(a slog.Attr) bool {
		if a.Equal(slog.Attr{}) {
			return true
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a.String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		return write(a)
	})

	h.log.log(levelFromSlog(record.Level), "%s", b.String())
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &slogHandler{log: h.log, group: h.group}
	next.attrs = append(append(next.attrs, h.attrs...), attrs...)
	if h.group != "" {
		for i := len(h.attrs); i < len(next.attrs); i++ {
			next.attrs[i].Key = h.group + "." + next.attrs[i].Key
		}
	}
	return next
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &slogHandler{log: h.log, attrs: h.attrs, group: group}
}

func levelFromSlog(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}
