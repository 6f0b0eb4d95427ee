package tracker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"playtimetracker/internal/db"
	"playtimetracker/internal/errs"
)

var testEpoch = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

// testStore wraps the real repository so tests can count calls, inject
// failures and block recomputation.
type testStore struct {
	*db.Repository

	failCompute atomic.Bool
	failClose   atomic.Bool
	failOpen    atomic.Bool
	failCached  atomic.Bool
	computes    atomic.Int32

	mu         sync.Mutex
	gate       chan struct{}
	entered    chan struct{}
	afterClose func()
}

func (s *testStore) ComputeAndStoreTotal(ctx context.Context, id uuid.UUID, excluded db.ExclusionSet) (int64, error) {
	s.computes.Add(1)

	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	if s.failCompute.Load() {
		return 0, unavailable("compute total")
	}
	return s.Repository.ComputeAndStoreTotal(ctx, id, excluded)
}

func (s *testStore) CloseSession(ctx context.Context, sid int64) error {
	if s.failClose.Load() {
		return unavailable("close session")
	}
	if err := s.Repository.CloseSession(ctx, sid); err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.afterClose
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (s *testStore) setAfterClose(fn func()) {
	s.mu.Lock()
	s.afterClose = fn
	s.mu.Unlock()
}

func (s *testStore) OpenSession(ctx context.Context, id uuid.UUID, label string) (int64, error) {
	if s.failOpen.Load() {
		return 0, unavailable("open session")
	}
	return s.Repository.OpenSession(ctx, id, label)
}

func (s *testStore) GetCachedTotal(ctx context.Context, id uuid.UUID) (int64, error) {
	if s.failCached.Load() {
		return 0, unavailable("get cached total")
	}
	return s.Repository.GetCachedTotal(ctx, id)
}

// block makes every recomputation wait until the returned release is called.
func (s *testStore) block() (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.gate, s.entered = gate, ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			s.gate, s.entered = nil, nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func unavailable(op string) error {
	return fmt.Errorf("failed to %s: %w: injected", op, errs.ErrStoreUnavailable)
}

type fixture struct {
	store *testStore
	clock *quartz.Mock
	coord *Coordinator
}

// setupCoordinator creates a coordinator over a temporary SQLite database
// with "lobby" excluded and a one second cooldown.
func setupCoordinator(t *testing.T) *fixture {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "tracker_test_*.db")
	require.NoError(t, err)
	tmpFile.Close()

	database, err := db.NewDatabase(tmpFile.Name())
	require.NoError(t, err)
	require.NoError(t, database.Initialize())

	clk := quartz.NewMock(t)
	clk.Set(testEpoch)

	store := &testStore{Repository: db.NewRepository(database, clk)}
	opts := DefaultOptions()
	opts.Clock = clk
	opts.Excluded = db.NewExclusionSet("lobby")

	coord := New(store, nil, opts)

	t.Cleanup(func() {
		_ = coord.Shutdown(context.Background())
		database.Close()
		os.Remove(tmpFile.Name())
	})

	return &fixture{store: store, clock: clk, coord: coord}
}

func (f *fixture) join(t *testing.T, name, server string) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, f.coord.Connect(ctx, id, name))
	if server != "" {
		require.NoError(t, f.coord.ServerSwitch(ctx, id, server))
	}
	return id
}

func (f *fixture) openCount(t *testing.T, id uuid.UUID) int {
	t.Helper()
	n, err := f.store.CountOpenSessions(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (f *fixture) storedTotal(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	total, err := f.store.Repository.GetCachedTotal(context.Background(), id)
	require.NoError(t, err)
	return total
}
