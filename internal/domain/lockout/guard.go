package lockout

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"
)

// Type is an operation class with its own thresholds.
type Type string

const (
	TypeLogin              Type = "login"
	TypePasswordReset      Type = "password_reset"
	TypeRegistration       Type = "registration"
	TypeMemberVerification Type = "member_verification"
	TypeAPI                Type = "api"
)

// Policy blocks an identifier for Block once MaxAttempts failures land
// within Window of the first one.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
	Block       time.Duration
}

type Policies map[Type]Policy

func DefaultPolicies() Policies {
	return Policies{
		TypeLogin:              {MaxAttempts: 5, Window: 15 * time.Minute, Block: 15 * time.Minute},
		TypePasswordReset:      {MaxAttempts: 3, Window: time.Hour, Block: time.Hour},
		TypeRegistration:       {MaxAttempts: 5, Window: time.Hour, Block: time.Hour},
		TypeMemberVerification: {MaxAttempts: 5, Window: 15 * time.Minute, Block: 30 * time.Minute},
		TypeAPI:                {MaxAttempts: 10, Window: time.Minute, Block: 5 * time.Minute},
	}
}

// With returns a copy with t's thresholds replaced where the overrides are
// positive.
func (p Policies) With(t Type, maxAttempts int, block time.Duration) Policies {
	out := make(Policies, len(p))
	for k, v := range p {
		out[k] = v
	}
	cur := out[t]
	if maxAttempts > 0 {
		cur.MaxAttempts = maxAttempts
	}
	if block > 0 {
		cur.Block = block
	}
	out[t] = cur
	return out
}

// Status is the answer to Check.
type Status struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// Entry is the stored counter for one (type, identifier) pair.
type Entry struct {
	Attempts     int       `json:"attempts"`
	FirstAttempt time.Time `json:"first_attempt"`
	LastAttempt  time.Time `json:"last_attempt"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
}

// Store holds lockout entries. Update must apply fn atomically for the key;
// fn receives nil when nothing is stored and returns nil to delete.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Update(ctx context.Context, key string, ttl time.Duration, fn func(cur *Entry) *Entry) error
}

// Sweeper is implemented by stores that cannot expire entries on their own.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// SweepHorizon is how long an idle entry is kept.
const SweepHorizon = 24 * time.Hour

type Guard struct {
	store    Store
	policies Policies
	log      *slog.Logger
	now      func() time.Time
}

func NewGuard(store Store, policies Policies, log *slog.Logger) *Guard {
	return &Guard{
		store:    store,
		policies: policies,
		log:      log.With(slog.String("component", "lockout")),
		now:      time.Now,
	}
}

func key(t Type, id string) string {
	return "lockout:" + string(t) + ":" + id
}

func (g *Guard) policy(t Type) (Policy, error) {
	p, ok := g.policies[t]
	if !ok || p.MaxAttempts <= 0 {
		return Policy{}, fmt.Errorf("lockout: no policy for type %q", t)
	}
	return p, nil
}

// Check reports whether id may attempt an operation of type t.
func (g *Guard) Check(ctx context.Context, id string, t Type) (Status, error) {
	p, err := g.policy(t)
	if err != nil {
		return Status{}, err
	}

	e, err := g.store.Get(ctx, key(t, id))
	if err != nil {
		return Status{}, fmt.Errorf("lockout: get: %w", err)
	}

	now := g.now()
	e = current(e, p, now)
	if e == nil {
		return Status{Allowed: true, Remaining: p.MaxAttempts}, nil
	}
	if now.Before(e.BlockedUntil) {
		return Status{Allowed: false, Remaining: 0, ResetIn: e.BlockedUntil.Sub(now)}, nil
	}

	return Status{
		Allowed:   true,
		Remaining: p.MaxAttempts - e.Attempts,
		ResetIn:   e.FirstAttempt.Add(p.Window).Sub(now),
	}, nil
}

// Record clears the counter on success and counts a failure otherwise,
// blocking once the threshold is reached.
func (g *Guard) Record(ctx context.Context, id string, t Type, success bool) error {
	p, err := g.policy(t)
	if err != nil {
		return err
	}

	ttl := p.Window
	if p.Block > ttl {
		ttl = p.Block
	}

	now := g.now()
	var blocked bool
	err = g.store.Update(ctx, key(t, id), ttl, func(cur *Entry) *Entry {
		if success {
			return nil
		}
		e := current(cur, p, now)
		if e == nil {
			e = &Entry{FirstAttempt: now}
		}
		e.Attempts++
		e.LastAttempt = now
		if e.Attempts >= p.MaxAttempts && e.BlockedUntil.IsZero() {
			e.BlockedUntil = now.Add(p.Block)
			blocked = true
		}
		return e
	})
	if err != nil {
		return fmt.Errorf("lockout: record: %w", err)
	}

	if blocked {
		g.log.Warn("identifier blocked",
			slog.String("type", string(t)),
			slog.String("id", id),
			slog.Duration("block", p.Block),
		)
	}
	return nil
}

// current drops an entry whose block or window has run out.
func current(e *Entry, p Policy, now time.Time) *Entry {
	if e == nil {
		return nil
	}
	if !e.BlockedUntil.IsZero() {
		if now.Before(e.BlockedUntil) {
			c := *e
			return &c
		}
		return nil
	}
	if now.Sub(e.FirstAttempt) >= p.Window {
		return nil
	}
	c := *e
	return &c
}

// RunSweeper evicts idle entries every interval until ctx is done. Stores
// with native expiry are left alone.
func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	sw, ok := g.store.(Sweeper)
	if !ok || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.log.Debug("sweeper stopped")
			return
		case <-ticker.C:
			n, err := sw.Sweep(ctx, g.now().Add(-SweepHorizon))
			if err != nil {
				g.log.Error("sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				g.log.Debug("swept lockout entries", slog.Int("evicted", n))
			}
		}
	}
}
