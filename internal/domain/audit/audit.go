package audit

import (
	"context"
	"errors"
	"time"

	"golang.org/x/exp/slog"
)

// Entry is one audit trail line for an authenticated service call.
type Entry struct {
	Timestamp time.Time
	IP        string
	Action    string
	Success   bool
	Detail    map[string]any
}

// Logger persists audit entries.
type Logger interface {
	Log(ctx context.Context, e Entry) error
}

// Repository is the durable audit sink.
type Repository interface {
	Insert(ctx context.Context, e Entry) error
}

// SlogSink writes entries to the structured process log.
type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log.With(slog.String("component", "audit"))}
}

func (s *SlogSink) Log(ctx context.Context, e Entry) error {
	level := slog.LevelInfo
	if !e.Success {
		level = slog.LevelWarn
	}

	attrs := []any{
		slog.Time("timestamp", e.Timestamp),
		slog.String("ip", e.IP),
		slog.String("action", e.Action),
		slog.Bool("success", e.Success),
	}
	if len(e.Detail) > 0 {
		attrs = append(attrs, slog.Any("detail", e.Detail))
	}

	s.log.Log(ctx, level, "audit", attrs...)
	return nil
}

// StoreSink writes entries to a Repository.
type StoreSink struct {
	repo Repository
}

func NewStoreSink(repo Repository) *StoreSink {
	return &StoreSink{repo: repo}
}

func (s *StoreSink) Log(ctx context.Context, e Entry) error {
	return s.repo.Insert(ctx, e)
}

// Multi fans an entry out to every sink. All sinks are attempted.
type Multi []Logger

func (m Multi) Log(ctx context.Context, e Entry) error {
	var errs []error
	for _, l := range m {
		if err := l.Log(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
