package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestGuard() (*Guard, *MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.now = clock.Now
	g := NewGuard(store, DefaultPolicies(), slog.Default())
	g.now = clock.Now
	return g, store, clock
}

func TestGuard_BlocksAfterMaxAttempts(t *testing.T) {
	tests := []struct {
		typ   Type
		max   int
		block time.Duration
	}{
		{TypeLogin, 5, 15 * time.Minute},
		{TypePasswordReset, 3, time.Hour},
		{TypeRegistration, 5, time.Hour},
		{TypeMemberVerification, 5, 30 * time.Minute},
		{TypeAPI, 10, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			// Arrange
			g, _, clock := newTestGuard()
			ctx := context.Background()

			// Act
			for i := 0; i < tt.max-1; i++ {
				require.NoError(t, g.Record(ctx, "1.2.3.4", tt.typ, false))
			}
			st, err := g.Check(ctx, "1.2.3.4", tt.typ)
			require.NoError(t, err)
			assert.True(t, st.Allowed)
			assert.Equal(t, 1, st.Remaining)

			require.NoError(t, g.Record(ctx, "1.2.3.4", tt.typ, false))

			// Assert
			st, err = g.Check(ctx, "1.2.3.4", tt.typ)
			require.NoError(t, err)
			assert.False(t, st.Allowed)
			assert.Equal(t, 0, st.Remaining)
			assert.Equal(t, tt.block, st.ResetIn)

			clock.Advance(tt.block - time.Second)
			st, _ = g.Check(ctx, "1.2.3.4", tt.typ)
			assert.False(t, st.Allowed)

			clock.Advance(time.Second)
			st, _ = g.Check(ctx, "1.2.3.4", tt.typ)
			assert.True(t, st.Allowed)
			assert.Equal(t, tt.max, st.Remaining)
		})
	}
}

func TestGuard_SuccessResets(t *testing.T) {
	g, store, _ := newTestGuard()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, g.Record(ctx, "m1", TypeLogin, false))
	}
	require.NoError(t, g.Record(ctx, "m1", TypeLogin, true))

	st, err := g.Check(ctx, "m1", TypeLogin)
	require.NoError(t, err)
	assert.True(t, st.Allowed)
	assert.Equal(t, 5, st.Remaining)
	assert.Equal(t, 0, store.Len())
}

func TestGuard_WindowExpiryRestartsCount(t *testing.T) {
	g, _, clock := newTestGuard()
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, g.Record(ctx, "ip", TypeAPI, false))
	}
	clock.Advance(time.Minute)
	require.NoError(t, g.Record(ctx, "ip", TypeAPI, false))

	st, _ := g.Check(ctx, "ip", TypeAPI)
	assert.True(t, st.Allowed)
	assert.Equal(t, 9, st.Remaining)
}

func TestGuard_TypesAndIdentifiersAreIndependent(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, g.Record(ctx, "a", TypePasswordReset, false))
	}

	st, _ := g.Check(ctx, "a", TypePasswordReset)
	assert.False(t, st.Allowed)
	st, _ = g.Check(ctx, "b", TypePasswordReset)
	assert.True(t, st.Allowed)
	st, _ = g.Check(ctx, "a", TypeLogin)
	assert.True(t, st.Allowed)
}

func TestGuard_UnknownType(t *testing.T) {
	g, _, _ := newTestGuard()

	_, err := g.Check(context.Background(), "a", Type("sms"))
	assert.Error(t, err)
	assert.Error(t, g.Record(context.Background(), "a", Type("sms"), false))
}

func TestGuard_ConcurrentFailuresAreAllCounted(t *testing.T) {
	g, _, _ := newTestGuard()
	g.policies = g.policies.With(TypeAPI, 1000, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Record(ctx, "ip", TypeAPI, false)
		}()
	}
	wg.Wait()

	st, err := g.Check(ctx, "ip", TypeAPI)
	require.NoError(t, err)
	assert.Equal(t, 900, st.Remaining)
}

func TestPolicies_With(t *testing.T) {
	base := DefaultPolicies()

	p := base.With(TypeAPI, 3, time.Minute)

	assert.Equal(t, Policy{MaxAttempts: 3, Window: time.Minute, Block: time.Minute}, p[TypeAPI])
	assert.Equal(t, 10, base[TypeAPI].MaxAttempts)

	same := base.With(TypeLogin, 0, 0)
	assert.Equal(t, base[TypeLogin], same[TypeLogin])
}

func TestMemoryStore_Sweep(t *testing.T) {
	g, store, clock := newTestGuard()
	ctx := context.Background()

	require.NoError(t, g.Record(ctx, "old", TypeRegistration, false))
	clock.Advance(30 * time.Minute)
	require.NoError(t, g.Record(ctx, "new", TypeRegistration, false))

	n, err := store.Sweep(ctx, clock.Now().Add(-10*time.Minute))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())
}

func TestGuard_RunSweeperStopsOnCancel(t *testing.T) {
	g, _, _ := newTestGuard()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		g.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
