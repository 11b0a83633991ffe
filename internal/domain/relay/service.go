package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"portalsync/internal/domain/entity"
	"portalsync/internal/domain/lockout"
	"portalsync/internal/domain/sync"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Limiter is the lockout guard as seen by the relay.
type Limiter interface {
	Check(ctx context.Context, id string, t lockout.Type) (lockout.Status, error)
	Record(ctx context.Context, id string, t lockout.Type, success bool) error
}

// Servicer is the relay API used by the HTTP layer.
type Servicer interface {
	Submit(ctx context.Context, formID, clientID string, req SubmitRequest) (*SubmitResult, error)
	ListSubmissions(ctx context.Context, formID string, since time.Time) ([]SubmissionView, error)
	Acknowledge(ctx context.Context, id string) (*SubmissionView, error)
	RetryPending(ctx context.Context, limit int) (*RetryReport, error)
}

const (
	DefaultRetryLimit = 50
	MaxRetryLimit     = 500

	// DefaultStaleAfter is how long a submission may sit in CREATED or
	// ATTEMPTING before a retry run treats its relay as abandoned.
	DefaultStaleAfter = 2 * time.Minute
)

type Service struct {
	ledger     Repository
	records    RecordStore
	deliverer  Deliverer
	limiter    Limiter
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time
	newID      func() string
}

func NewService(ledger Repository, records RecordStore, deliverer Deliverer, limiter Limiter, log *slog.Logger) *Service {
	return &Service{
		ledger:     ledger,
		records:    records,
		deliverer:  deliverer,
		limiter:    limiter,
		staleAfter: DefaultStaleAfter,
		log:        log.With(slog.String("component", "relay")),
		now:        func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID:      func() string { return uuid.NewString() },
	}
}

// WithStaleAfter overrides DefaultStaleAfter. It should exceed the longest
// webhook delivery including retries. Non-positive values are ignored.
func (s *Service) WithStaleAfter(d time.Duration) *Service {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

// Submit validates the form and member, stores the submission and makes one
// synchronous relay attempt. A failed relay does not fail the submission.
func (s *Service) Submit(ctx context.Context, formID, clientID string, req SubmitRequest) (*SubmitResult, error) {
	memberID := strings.TrimSpace(req.MemberID)

	form, err := s.records.Get(ctx, entity.ModelFormDefinition, formID)
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			return nil, ErrFormNotFound
		}
		return nil, fmt.Errorf("load form: %w", err)
	}

	member, err := s.verifyMember(ctx, clientID, memberID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.checkForm(ctx, form, memberID, now); err != nil {
		return nil, err
	}

	sub := &Submission{
		ID:        s.newID(),
		FormID:    formID,
		MemberID:  memberID,
		Responses: req.Responses,
		State:     StateCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sub.Responses == nil {
		sub.Responses = map[string]any{}
	}
	if err := s.ledger.Create(ctx, sub, intField(form.Fields["max_entries"])); err != nil {
		if errors.Is(err, ErrAlreadySubmitted) || errors.Is(err, ErrMaxEntries) {
			return nil, err
		}
		return nil, fmt.Errorf("create submission: %w", err)
	}

	if err := s.records.Insert(ctx, &entity.Record{
		Model:  entity.ModelFormSubmission,
		ID:     sub.ID,
		Origin: entity.OriginPortal,
		Fields: map[string]any{
			"form_id":      formID,
			"member_id":    memberID,
			"responses":    sub.Responses,
			"submitted_at": now.Format(time.RFC3339Nano),
		},
	}); err != nil {
		s.log.Error("store submission record failed",
			slog.String("submission_id", sub.ID),
			slog.String("error", err.Error()),
		)
	}

	payload := s.payload(ctx, sub, form, member)
	synced, relayErr := s.relay(ctx, sub, payload)

	res := &SubmitResult{SubmissionID: sub.ID, WebhookSynced: synced}
	if relayErr != nil {
		res.WebhookError = relayErr.Error()
	}
	return res, nil
}

func (s *Service) verifyMember(ctx context.Context, clientID, memberID string) (*entity.Record, error) {
	if s.limiter != nil && clientID != "" {
		st, err := s.limiter.Check(ctx, clientID, lockout.TypeMemberVerification)
		if err != nil {
			s.log.Error("lockout check failed", slog.String("error", err.Error()))
		} else if !st.Allowed {
			return nil, &BlockedError{RetryAfter: st.ResetIn}
		}
	}

	if memberID == "" {
		s.recordVerification(ctx, clientID, false)
		return nil, ErrMemberNotFound
	}
	member, err := s.records.Get(ctx, entity.ModelMember, memberID)
	if err != nil {
		if errors.Is(err, sync.ErrNotFound) {
			s.recordVerification(ctx, clientID, false)
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("load member: %w", err)
	}

	s.recordVerification(ctx, clientID, true)
	return member, nil
}

func (s *Service) recordVerification(ctx context.Context, clientID string, success bool) {
	if s.limiter == nil || clientID == "" {
		return
	}
	if err := s.limiter.Record(ctx, clientID, lockout.TypeMemberVerification, success); err != nil {
		s.log.Error("lockout record failed", slog.String("error", err.Error()))
	}
}

// BlockedError is returned while the caller is locked out.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string { return ErrTooManyAttempts.Error() }
func (e *BlockedError) Unwrap() error { return ErrTooManyAttempts }

// RetryAfterSeconds rounds the remaining block up to whole seconds.
func (e *BlockedError) RetryAfterSeconds() int {
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

func (s *Service) checkForm(ctx context.Context, form *entity.Record, memberID string, now time.Time) error {
	if active, ok := form.Fields["active"].(bool); ok && !active {
		return ErrFormInactive
	}

	if raw := strings.TrimSpace(form.String("deadline")); raw != "" {
		deadline, err := parseDeadline(raw)
		if err != nil {
			s.log.Error("form has an unreadable deadline",
				slog.String("form_id", form.ID),
				slog.String("deadline", raw),
			)
			return ErrInvalidDeadline
		}
		if !now.Before(deadline) {
			return ErrDeadlinePassed
		}
	}

	// max_entries is enforced by ledger.Create.
	exists, err := s.ledger.Exists(ctx, form.ID, memberID)
	if err != nil {
		return fmt.Errorf("check duplicate: %w", err)
	}
	if exists {
		return ErrAlreadySubmitted
	}
	return nil
}

// parseDeadline reads an RFC 3339 timestamp or a date. A date closes at the
// end of that day in UTC.
func parseDeadline(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, strings.ToUpper(raw)); err == nil {
		return t, nil
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	return d.AddDate(0, 0, 1), nil
}

func intField(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// relay moves sub through ATTEMPTING to DELIVERED or FAILED.
func (s *Service) relay(ctx context.Context, sub *Submission, p Payload) (bool, error) {
	if err := s.ledger.MarkAttempting(ctx, sub.ID); err != nil {
		s.log.Error("mark attempting failed", slog.String("submission_id", sub.ID), slog.String("error", err.Error()))
	}
	return s.deliver(ctx, sub, p)
}

// deliver pushes a submission already in ATTEMPTING and records the outcome.
func (s *Service) deliver(ctx context.Context, sub *Submission, p Payload) (bool, error) {
	attempts, err := s.deliverer.Deliver(ctx, p)
	if attempts < 1 {
		attempts = 1
	}

	if err == nil {
		if merr := s.ledger.MarkDelivered(ctx, sub.ID, attempts, s.now()); merr != nil {
			s.log.Error("mark delivered failed", slog.String("submission_id", sub.ID), slog.String("error", merr.Error()))
		}
		s.log.Info("submission relayed", slog.String("submission_id", sub.ID), slog.Int("attempts", attempts))
		return true, nil
	}

	if merr := s.ledger.MarkFailed(ctx, sub.ID, attempts, err.Error()); merr != nil {
		s.log.Error("mark failed failed", slog.String("submission_id", sub.ID), slog.String("error", merr.Error()))
	}
	return false, err
}

func (s *Service) payload(ctx context.Context, sub *Submission, form, member *entity.Record) Payload {
	return Payload{
		SubmissionID: sub.ID,
		FormID:       sub.FormID,
		FormTitle:    form.String("title"),
		Submitter:    s.submitter(ctx, sub.MemberID, member),
		Responses:    sub.Responses,
		SubmittedAt:  sub.CreatedAt,
	}
}

// submitter resolves contact data from the member record and its profile,
// which shares the member's id. Profile values win over member values.
func (s *Service) submitter(ctx context.Context, memberID string, member *entity.Record) Submitter {
	sub := Submitter{MemberID: memberID}

	if member == nil {
		m, err := s.records.Get(ctx, entity.ModelMember, memberID)
		if err == nil {
			member = m
		}
	}
	if member != nil {
		sub.FirstName = member.String("first_name")
		sub.LastName = member.String("last_name")
		sub.TNumber = member.String("t_number")
		sub.Email = member.String("email")
		sub.Phone = member.String("phone")
	}

	if profile, err := s.records.Get(ctx, entity.ModelProfile, memberID); err == nil {
		if v := profile.String("email"); v != "" {
			sub.Email = v
		}
		if v := profile.String("phone"); v != "" {
			sub.Phone = v
		}
	}

	sub.Name = strings.TrimSpace(sub.FirstName + " " + sub.LastName)
	return sub
}

// ListSubmissions is the reconciliation pull.
func (s *Service) ListSubmissions(ctx context.Context, formID string, since time.Time) ([]SubmissionView, error) {
	subs, err := s.ledger.List(ctx, ListFilter{FormID: formID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	forms := map[string]*entity.Record{}
	views := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		form, ok := forms[sub.FormID]
		if !ok {
			form, err = s.records.Get(ctx, entity.ModelFormDefinition, sub.FormID)
			if err != nil {
				form = &entity.Record{ID: sub.FormID}
			}
			forms[sub.FormID] = form
		}
		views = append(views, s.view(ctx, sub, form))
	}
	return views, nil
}

func (s *Service) view(ctx context.Context, sub *Submission, form *entity.Record) SubmissionView {
	v := SubmissionView{
		Payload:      s.payload(ctx, sub, form, nil),
		State:        sub.State,
		SyncedToTCN:  sub.SyncedToTCN,
		SyncAttempts: sub.SyncAttempts,
		DeliveredAt:  sub.DeliveredAt,
	}
	if sub.LastSyncError != nil {
		v.LastSyncError = *sub.LastSyncError
	}
	return v
}

// Acknowledge records that the external system pulled the submission itself.
func (s *Service) Acknowledge(ctx context.Context, id string) (*SubmissionView, error) {
	sub, err := s.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !sub.SyncedToTCN {
		now := s.now()
		if err := s.ledger.MarkDelivered(ctx, id, 0, now); err != nil {
			return nil, fmt.Errorf("acknowledge: %w", err)
		}
		sub.SyncedToTCN = true
		sub.State = StateDelivered
		sub.DeliveredAt = &now
		s.log.Info("submission acknowledged", slog.String("submission_id", id))
	}

	form, err := s.records.Get(ctx, entity.ModelFormDefinition, sub.FormID)
	if err != nil {
		form = &entity.Record{ID: sub.FormID}
	}
	v := s.view(ctx, sub, form)
	return &v, nil
}

// RetryPending re-pushes up to limit submissions, oldest first: FAILED ones
// and those stuck in CREATED or ATTEMPTING for longer than the stale window.
// Concurrent runs never push the same submission.
func (s *Service) RetryPending(ctx context.Context, limit int) (*RetryReport, error) {
	if limit <= 0 {
		limit = DefaultRetryLimit
	}
	if limit > MaxRetryLimit {
		limit = MaxRetryLimit
	}

	subs, err := s.ledger.ClaimRetries(ctx, s.now().Add(-s.staleAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claim submissions for retry: %w", err)
	}

	report := &RetryReport{}
	for _, sub := range subs {
		form, err := s.records.Get(ctx, entity.ModelFormDefinition, sub.FormID)
		if err != nil {
			form = &entity.Record{ID: sub.FormID}
		}

		report.Attempted++
		if _, err := s.deliver(ctx, sub, s.payload(ctx, sub, form, nil)); err != nil {
			report.Failed++
			report.Errors = append(report.Errors, sub.ID+": "+err.Error())
			continue
		}
		report.Delivered++
	}

	s.log.Info("relay retry finished",
		slog.Int("attempted", report.Attempted),
		slog.Int("delivered", report.Delivered),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}
