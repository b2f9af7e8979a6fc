package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-session-broker/internal/bridge"
	"github.com/openclaw/wa-session-broker/internal/driver/drivertest"
	"github.com/openclaw/wa-session-broker/internal/model"
)

type mockSweeper struct {
	mu       sync.Mutex
	sessions []model.Session
	expired  []string
	evicted  []string
	evictErr error
}

func (m *mockSweeper) Snapshot() []model.Session {
	return m.sessions
}

func (m *mockSweeper) Expire(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, id)
	return true, nil
}

func (m *mockSweeper) Evict(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evictErr != nil {
		return false, m.evictErr
	}
	m.evicted = append(m.evicted, id)
	return true, nil
}

type mockMediaCleaner struct {
	cutoff time.Time
	count  int64
}

func (m *mockMediaCleaner) DeleteFailedMediaBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.cutoff = cutoff
	return m.count, nil
}

func testJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval:             time.Hour,
		QRTTL:                5 * time.Minute,
		Retention:            7 * 24 * time.Hour,
		FailedMediaRetention: 30 * 24 * time.Hour,
	}
}

func ago(now time.Time, d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func TestJanitor_RunOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expires stale qr and evicts old terminal sessions only", func(t *testing.T) {
		sweeper := &mockSweeper{sessions: []model.Session{
			{ID: "connected", State: model.SessionStateConnected, CreatedAt: now.Add(-30 * 24 * time.Hour)},
			{ID: "disconnected", State: model.SessionStateDisconnected, CreatedAt: now.Add(-11 * 24 * time.Hour), EndedAt: ago(now, 10*24*time.Hour)},
			{ID: "awaiting", State: model.SessionStateAwaitingScan, CreatedAt: now.Add(-10 * time.Minute), QRIssuedAt: ago(now, 10*time.Minute)},
		}}
		media := &mockMediaCleaner{count: 4}
		j := NewJanitor(sweeper, media, testJanitorConfig())
		j.now = func() time.Time { return now }

		sum := j.RunOnce(context.Background())

		assert.Equal(t, Summary{ExpiredQR: 1, EvictedSessions: 1, FailedMedia: 4}, sum)
		assert.Equal(t, []string{"awaiting"}, sweeper.expired)
		assert.Equal(t, []string{"disconnected"}, sweeper.evicted)
		assert.Equal(t, now.Add(-30*24*time.Hour), media.cutoff)
	})

	t.Run("keeps fresh sessions", func(t *testing.T) {
		sweeper := &mockSweeper{sessions: []model.Session{
			{ID: "failed", State: model.SessionStateFailed, CreatedAt: now.Add(-2 * time.Hour), EndedAt: ago(now, time.Hour)},
			{ID: "awaiting", State: model.SessionStateAwaitingScan, CreatedAt: now.Add(-time.Minute), QRIssuedAt: ago(now, time.Minute)},
			{ID: "initializing", State: model.SessionStateInitializing, CreatedAt: now.Add(-time.Hour)},
		}}
		j := NewJanitor(sweeper, nil, testJanitorConfig())
		j.now = func() time.Time { return now }

		sum := j.RunOnce(context.Background())

		assert.Equal(t, Summary{}, sum)
		assert.Empty(t, sweeper.expired)
		assert.Empty(t, sweeper.evicted)
	})

	t.Run("continues past eviction errors", func(t *testing.T) {
		sweeper := &mockSweeper{
			sessions: []model.Session{
				{ID: "expired", State: model.SessionStateExpired, CreatedAt: now.Add(-9 * 24 * time.Hour), EndedAt: ago(now, 8*24*time.Hour)},
				{ID: "awaiting", State: model.SessionStateAwaitingScan, QRIssuedAt: ago(now, time.Hour)},
			},
			evictErr: errors.New("db down"),
		}
		j := NewJanitor(sweeper, nil, testJanitorConfig())
		j.now = func() time.Time { return now }

		sum := j.RunOnce(context.Background())

		assert.Equal(t, 0, sum.EvictedSessions)
		assert.Equal(t, 1, sum.ExpiredQR)
	})
}

func TestJanitor_AgainstBridge(t *testing.T) {
	ctx := context.Background()
	fake := drivertest.New()
	fake.OnInitialize = func(id string) {
		fake.EmitType(model.DriverEventQR, id, model.QRData{QR: "qr"})
	}
	b := bridge.New(bridge.Deps{Driver: fake}, bridge.Config{
		QRTimeout:       time.Second,
		ContactsTimeout: time.Second,
		ExtractTimeout:  time.Second,
		SendTimeout:     time.Second,
	})
	t.Cleanup(func() { b.Shutdown(ctx) })

	connected, err := b.Generate(ctx, "owner-1")
	require.NoError(t, err)
	fake.EmitType(model.DriverEventAuthenticated, connected.ID, nil)
	fake.EmitType(model.DriverEventReady, connected.ID, nil)
	require.Eventually(t, func() bool {
		s, _ := b.CheckStatus(connected.ID)
		return s.Connected()
	}, 2*time.Second, 5*time.Millisecond)

	disconnected, err := b.Generate(ctx, "owner-1")
	require.NoError(t, err)
	_, err = b.Terminate(ctx, disconnected.ID)
	require.NoError(t, err)

	awaiting, err := b.Generate(ctx, "owner-2")
	require.NoError(t, err)

	j := NewJanitor(b, nil, testJanitorConfig())
	j.now = func() time.Time { return time.Now().Add(10 * 24 * time.Hour) }

	sum := j.RunOnce(ctx)

	assert.Equal(t, 1, sum.ExpiredQR)
	assert.Equal(t, 1, sum.EvictedSessions)

	s, err := b.CheckStatus(connected.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateConnected, s.State)

	_, err = b.CheckStatus(disconnected.ID)
	assert.Error(t, err)

	s, err = b.CheckStatus(awaiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, s.State)
	assert.Nil(t, s.QRPayload)
}
