package logger

import (
	"io"
	"os"

	"portalsync/internal/app/server/config"

	"golang.org/x/exp/slog"
)

// New returns the process logger for env: colored text locally, JSON elsewhere.
func New(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case config.EnvLocal, "":
		log = setupPrettySlog()
	case config.EnvDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: slog.LevelDebug},
	}

	return slog.New(opts.NewPrettyHandler(os.Stdout))
}

// Discard drops every record. The CLI uses it unless --debug is set.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Err wraps an error as a log attribute.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
