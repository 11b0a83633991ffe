package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"portalsync/internal/app/client/config"
	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/relay"
	"portalsync/internal/domain/sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// App is the CLI backend: it validates batches locally before pushing them
// and keeps pull checkpoints so a later pull resumes where the last stopped.
type App struct {
	config  *config.Config
	log     *slog.Logger
	http    *HTTPClient
	storage *SQLiteStorage
	codec   *sync.Codec
}

func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	codec, err := sync.NewCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}

	storage, err := NewSQLiteStorage(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}

	return &App{
		config:  cfg,
		log:     log,
		http:    NewHTTPClient(cfg, log),
		storage: storage,
		codec:   codec,
	}, nil
}

func (a *App) Close() error {
	return a.storage.Close()
}

func (a *App) Config() *config.Config {
	return a.config
}

// CheckConnection pings the server and returns its storage driver.
func (a *App) CheckConnection(ctx context.Context) (string, error) {
	return a.http.Health(ctx)
}

// Push decodes and validates a batch file, assigns a syncId when the file
// has none so a retried push is not applied twice, then sends it.
func (a *App) Push(ctx context.Context, r io.Reader, kind sync.BatchKind) (*sync.BatchResult, error) {
	b, err := a.codec.DecodeBatch(r, kind)
	if err != nil {
		return nil, err
	}
	if b.SyncID == "" {
		b.SyncID = uuid.NewString()
		a.log.Debug("assigned syncId", slog.String("sync_id", b.SyncID))
	}
	if b.Timestamp.IsZero() {
		b.Timestamp = time.Now().UTC()
	}
	return a.http.PushBatch(ctx, b, kind)
}

type PullOptions struct {
	Models []string
	Limit  int
	// Since restarts the pull from a point in time, ignoring the checkpoint.
	Since time.Time
	// MaxPages stops after that many pages; zero drains.
	MaxPages int
}

type PullReport struct {
	Pages   int
	Items   int
	Deleted int
	Cursor  string
	HasMore bool
}

// CheckpointName is the key a model filter is checkpointed under.
func CheckpointName(models []string) string {
	if len(models) == 0 {
		return "all"
	}
	sorted := append([]string(nil), models...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Pull fetches pages until the server reports no more changes, storing each
// page and its cursor before requesting the next one.
func (a *App) Pull(ctx context.Context, opts PullOptions) (*PullReport, error) {
	for _, m := range opts.Models {
		if _, err := entity.ParseModel(m); err != nil {
			return nil, err
		}
	}

	name := CheckpointName(opts.Models)
	cp, err := a.storage.Checkpoint(ctx, name)
	if err != nil {
		return nil, err
	}
	params := DeltaParams{Models: opts.Models, Limit: opts.Limit, Cursor: cp.Cursor}
	if !opts.Since.IsZero() {
		params.Cursor = ""
		params.Since = opts.Since
	}

	report := &PullReport{Cursor: params.Cursor}
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		resp, err := a.http.Delta(ctx, params)
		if err != nil {
			return report, err
		}
		if err := a.storage.ApplyItems(ctx, resp.Items); err != nil {
			return report, err
		}

		report.Pages++
		report.Items += len(resp.Items)
		for _, it := range resp.Items {
			if it.Deleted {
				report.Deleted++
			}
		}
		report.HasMore = resp.HasMore

		if resp.NextCursor != "" {
			params.Cursor = resp.NextCursor
			params.Since = time.Time{}
			report.Cursor = resp.NextCursor
			if err := a.storage.SaveCheckpoint(ctx, name, Checkpoint{Cursor: resp.NextCursor}); err != nil {
				return report, err
			}
		}

		if !resp.HasMore || (opts.MaxPages > 0 && report.Pages >= opts.MaxPages) {
			return report, nil
		}
	}
}

// ResetCheckpoint forgets the pull position of a model filter.
func (a *App) ResetCheckpoint(ctx context.Context, models []string) error {
	return a.storage.DeleteCheckpoint(ctx, CheckpointName(models))
}

func (a *App) Checkpoint(ctx context.Context, models []string) (Checkpoint, error) {
	return a.storage.Checkpoint(ctx, CheckpointName(models))
}

func (a *App) LocalCounts(ctx context.Context, model string) (live, deleted int, err error) {
	return a.storage.CountItems(ctx, model)
}

// Submit posts a form submission on behalf of a member.
func (a *App) Submit(ctx context.Context, formID string, req relay.SubmitRequest) (*relay.SubmitResult, error) {
	return a.http.Submit(ctx, formID, req)
}

func (a *App) Submissions(ctx context.Context, formID string, since time.Time) ([]relay.SubmissionView, error) {
	return a.http.Submissions(ctx, formID, since)
}

func (a *App) Ack(ctx context.Context, id string) (*relay.SubmissionView, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("submission id is required")
	}
	return a.http.Ack(ctx, id)
}

func (a *App) Retry(ctx context.Context, limit int) (*relay.RetryReport, error) {
	return a.http.Retry(ctx, limit)
}
