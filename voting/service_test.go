// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package voting

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/danielhkuo/livepoll/broadcast"
	"github.com/danielhkuo/livepoll/hub"
	"github.com/danielhkuo/livepoll/ledger"
	"github.com/danielhkuo/livepoll/metrics"
	"github.com/danielhkuo/livepoll/models"
	"github.com/danielhkuo/livepoll/tally"
	"github.com/danielhkuo/livepoll/testutil"
)

type recorder struct {
	mu      sync.Mutex
	updates []models.TallyUpdate
	fail    error
}

func (r *recorder) Enqueue(u models.TallyUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.fail
}

func (r *recorder) all() []models.TallyUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TallyUpdate(nil), r.updates...)
}

type env struct {
	svc    *Service
	ledger ledger.Ledger
	store  tally.Store
	rec    *recorder
	pollID string
	// opts maps a short name to its option ID
	opts map[string]string
}

func (e env) tally(t *testing.T) map[string]int64 {
	t.Helper()
	snap, err := e.store.Snapshot(context.Background(), e.pollID)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	named := map[string]int64{}
	for name, id := range e.opts {
		named[name] = snap.Count(id)
	}
	return named
}

func memoryEnv(t *testing.T) env {
	l := ledger.NewMemoryLedger()
	l.AddPoll("p1", "A", "B", "C")
	return newEnv(l, tally.NewMemoryStore(), "p1", map[string]string{"A": "A", "B": "B", "C": "C"})
}

func sqlRedisEnv(t *testing.T) env {
	conn := testutil.SetupTestDB(t)
	_, client := testutil.SetupTestRedis(t)
	pollID, ids := testutil.CreateTestPoll(t, conn, "Favourite", "A", "B", "C")
	return newEnv(ledger.NewSQLLedger(conn), tally.NewRedisStore(client), pollID,
		map[string]string{"A": ids[0], "B": ids[1], "C": ids[2]})
}

func newEnv(l ledger.Ledger, store tally.Store, pollID string, opts map[string]string) env {
	rec := &recorder{}
	return env{
		svc: &Service{
			Ledger:    l,
			Tally:     store,
			Broadcast: rec,
			Backoff:   time.Millisecond,
		},
		ledger: l,
		store:  store,
		rec:    rec,
		pollID: pollID,
		opts:   opts,
	}
}

var envs = []struct {
	name string
	make func(t *testing.T) env
}{
	{"memory", memoryEnv},
	{"sql+redis", sqlRedisEnv},
}

func TestSubmitVoteScenario(t *testing.T) {
	steps := []struct {
		identity string
		option   string
		wantErr  error
		want     map[string]int64
	}{
		{"u1", "A", nil, map[string]int64{"A": 1, "B": 0, "C": 0}},
		{"u1", "B", nil, map[string]int64{"A": 0, "B": 1, "C": 0}},
		{"u2", "A", nil, map[string]int64{"A": 1, "B": 1, "C": 0}},
		{"u1", "B", models.ErrDuplicateVote, map[string]int64{"A": 1, "B": 1, "C": 0}},
	}

	for _, e := range envs {
		t.Run(e.name, func(t *testing.T) {
			env := e.make(t)
			ctx := context.Background()

			for i, step := range steps {
				_, err := env.svc.SubmitVote(ctx, step.identity, env.pollID, env.opts[step.option])
				if !errors.Is(err, step.wantErr) {
					t.Fatalf("Step %d: expected error %v, got %v", i, step.wantErr, err)
				}
				if got := env.tally(t); !maps.Equal(got, step.want) {
					t.Errorf("Step %d: expected tally %v, got %v", i, step.want, got)
				}
			}

			// One broadcast per accepted vote, none for the rejection
			updates := env.rec.all()
			if len(updates) != 3 {
				t.Fatalf("Expected 3 broadcasts, got %d", len(updates))
			}
			change := updates[1]
			if change.Counts[env.opts["A"]] != 0 || change.Counts[env.opts["B"]] != 1 || change.Total != 1 {
				t.Errorf("Change-vote broadcast should carry the poll's counts, got %v", change.Counts)
			}
			last := updates[2]
			if last.Counts[env.opts["A"]] != 1 || last.Counts[env.opts["B"]] != 1 || last.Total != 2 {
				t.Errorf("Broadcast should carry every option, got %v", last.Counts)
			}
			for i := 1; i < len(updates); i++ {
				if updates[i].Version <= updates[i-1].Version {
					t.Errorf("Broadcast %d at version %d, not after %d", i, updates[i].Version, updates[i-1].Version)
				}
			}
		})
	}
}

func TestSubmitVoteResult(t *testing.T) {
	env := memoryEnv(t)
	ctx := context.Background()

	first, err := env.svc.SubmitVote(ctx, "u1", "p1", "A")
	if err != nil {
		t.Fatalf("First vote failed: %v", err)
	}
	if first.Changed() || first.Vote.Version != 1 || first.Counts["A"] != 1 {
		t.Errorf("Unexpected first result: %+v", first)
	}

	second, err := env.svc.SubmitVote(ctx, "u1", "p1", "C")
	if err != nil {
		t.Fatalf("Change vote failed: %v", err)
	}
	if !second.Changed() || *second.Previous != "A" || second.Vote.Version != 2 {
		t.Errorf("Unexpected change result: %+v", second)
	}
}

func TestSubmitVoteRejections(t *testing.T) {
	env := memoryEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		identity string
		pollID   string
		option   string
		wantErr  error
	}{
		{"missing identity", "", "p1", "A", ErrMissingIdentity},
		{"unknown poll", "u1", "nope", "A", models.ErrNotFound},
		{"unknown option", "u1", "p1", "Z", models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.SubmitVote(ctx, tt.identity, tt.pollID, tt.option)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if got := env.tally(t); got["A"] != 0 {
		t.Errorf("Rejected votes must not touch the tally, got %v", got)
	}
	if n := len(env.rec.all()); n != 0 {
		t.Errorf("Rejected votes must not broadcast, got %d", n)
	}
}

func TestChangeVoteConservation(t *testing.T) {
	env := memoryEnv(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		env.svc.SubmitVote(ctx, fmt.Sprintf("other-%d", i), "p1", []string{"A", "B"}[i%2])
	}
	before := env.tally(t)

	env.svc.SubmitVote(ctx, "x", "p1", "A")
	if _, err := env.svc.SubmitVote(ctx, "x", "p1", "B"); err != nil {
		t.Fatalf("Change vote failed: %v", err)
	}

	after := env.tally(t)
	if after["A"] != before["A"] || after["B"] != before["B"]+1 {
		t.Errorf("Expected A unchanged and B+1 relative to %v, got %v", before, after)
	}
}

func TestConcurrentDistinctVoters(t *testing.T) {
	for _, e := range envs {
		t.Run(e.name, func(t *testing.T) {
			env := e.make(t)
			ctx := context.Background()
			const voters = 50

			var wg sync.WaitGroup
			errs := make(chan error, voters)
			for i := 0; i < voters; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := env.svc.SubmitVote(ctx, fmt.Sprintf("voter-%d", i), env.pollID, env.opts["A"])
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)

			for err := range errs {
				if err != nil {
					t.Errorf("Vote failed: %v", err)
				}
			}
			if got := env.tally(t)["A"]; got != voters {
				t.Errorf("Expected %d votes for A, got %d", voters, got)
			}
		})
	}
}

// Two concurrent changes by the same identity leave one ledger row and a
// tally that matches it.
func TestConcurrentChangesSameIdentity(t *testing.T) {
	for _, e := range envs {
		t.Run(e.name, func(t *testing.T) {
			env := e.make(t)
			env.svc.MaxAttempts = 10
			ctx := context.Background()

			if _, err := env.svc.SubmitVote(ctx, "u1", env.pollID, env.opts["A"]); err != nil {
				t.Fatalf("Initial vote failed: %v", err)
			}

			for round := 0; round < 10; round++ {
				var wg sync.WaitGroup
				for _, name := range []string{"B", "C"} {
					wg.Add(1)
					go func(option string) {
						defer wg.Done()
						_, err := env.svc.SubmitVote(ctx, "u1", env.pollID, option)
						if err != nil && !errors.Is(err, models.ErrDuplicateVote) && !errors.Is(err, models.ErrConflict) {
							t.Errorf("Unexpected error: %v", err)
						}
					}(env.opts[name])
				}
				wg.Wait()
			}

			vote, found, err := env.ledger.FindCurrentVote(ctx, "u1", env.pollID)
			if err != nil || !found {
				t.Fatalf("Expected a current vote, found=%v err=%v", found, err)
			}

			got := env.tally(t)
			var total int64
			for _, n := range got {
				total += n
			}
			if total != 1 {
				t.Errorf("Expected total 1, got %v", got)
			}
			snap, _ := env.store.Snapshot(ctx, env.pollID)
			if snap.Count(vote.OptionID) != 1 {
				t.Errorf("Tally %v does not reflect ledger vote for %s", got, vote.OptionID)
			}
		})
	}
}

// conflictLedger loses the first n races.
type conflictLedger struct {
	*ledger.MemoryLedger
	remaining atomic.Int32
	calls     atomic.Int32
}

func (l *conflictLedger) ReplaceVote(ctx context.Context, identity, pollID, optionID string) (ledger.Replacement, error) {
	l.calls.Add(1)
	if l.remaining.Add(-1) >= 0 {
		return ledger.Replacement{}, fmt.Errorf("simulated: %w", models.ErrConflict)
	}
	return l.MemoryLedger.ReplaceVote(ctx, identity, pollID, optionID)
}

func TestSubmitVoteRetriesConflicts(t *testing.T) {
	tests := []struct {
		name      string
		conflicts int32
		wantErr   error
		wantCalls int32
	}{
		{"recovers", 2, nil, 3},
		{"exhausted", 5, models.ErrConflict, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := ledger.NewMemoryLedger()
			mem.AddPoll("p1", "A")
			l := &conflictLedger{MemoryLedger: mem}
			l.remaining.Store(tt.conflicts)

			reg := prometheus.NewRegistry()
			env := newEnv(l, tally.NewMemoryStore(), "p1", map[string]string{"A": "A"})
			env.svc.Metrics = metrics.New(reg)

			_, err := env.svc.SubmitVote(context.Background(), "u1", "p1", "A")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected %v, got %v", tt.wantErr, err)
			}
			if got := l.calls.Load(); got != tt.wantCalls {
				t.Errorf("Expected %d attempts, got %d", tt.wantCalls, got)
			}
			if got := counterValue(t, reg, "livepoll_vote_retries_total"); got != 2 {
				t.Errorf("Expected 2 retries recorded, got %v", got)
			}
		})
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestSubmitVoteRetryHonoursContext(t *testing.T) {
	mem := ledger.NewMemoryLedger()
	mem.AddPoll("p1", "A")
	l := &conflictLedger{MemoryLedger: mem}
	l.remaining.Store(100)

	env := newEnv(l, tally.NewMemoryStore(), "p1", map[string]string{"A": "A"})
	env.svc.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := env.svc.SubmitVote(ctx, "u1", "p1", "A")
	if !errors.Is(err, models.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable after cancellation, got %v", err)
	}
}

// flakyStore fails the next Adjust calls, and every Reset when broken.
type flakyStore struct {
	*tally.MemoryStore
	failAdjust atomic.Int32
	broken     bool
}

func (s *flakyStore) Adjust(ctx context.Context, pollID, optionID string, delta int64) (int64, error) {
	if s.failAdjust.Add(-1) >= 0 {
		return 0, errors.New("store hiccup")
	}
	return s.MemoryStore.Adjust(ctx, pollID, optionID, delta)
}

func (s *flakyStore) Reset(ctx context.Context, pollID string, version int64, counts map[string]int64) (int64, error) {
	if s.broken {
		return 0, errors.New("store down")
	}
	return s.MemoryStore.Reset(ctx, pollID, version, counts)
}

func TestSubmitVoteRebuildsTallyOnFailure(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	l.AddPoll("p1", "A", "B")
	store := tally.NewMemoryStore()
	env := newEnv(l, store, "p1", map[string]string{"A": "A", "B": "B"})

	env.svc.SubmitVote(ctx, "u1", "p1", "A")
	env.svc.SubmitVote(ctx, "u2", "p1", "A")

	// The decrement of A succeeds, the increment of B fails
	env.svc.Tally = &halfFailStore{Store: store}
	res, err := env.svc.SubmitVote(ctx, "u1", "p1", "B")
	if err != nil {
		t.Fatalf("Expected rebuild to recover, got %v", err)
	}
	if res.Counts["A"] != 1 || res.Counts["B"] != 1 {
		t.Errorf("Expected rebuilt counts A:1 B:1, got %v", res.Counts)
	}
	if got := env.tally(t); got["A"] != 1 || got["B"] != 1 {
		t.Errorf("Expected tally A:1 B:1 after rebuild, got %v", got)
	}
	if n := len(env.rec.all()); n != 3 {
		t.Errorf("Expected 3 broadcasts, got %d", n)
	}
}

// halfFailStore fails every increment.
type halfFailStore struct {
	tally.Store
}

func (s *halfFailStore) Adjust(ctx context.Context, pollID, optionID string, delta int64) (int64, error) {
	if delta > 0 {
		return 0, errors.New("increment lost")
	}
	return s.Store.Adjust(ctx, pollID, optionID, delta)
}

func TestSubmitVoteTallyUnavailable(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	l.AddPoll("p1", "A")
	store := &flakyStore{MemoryStore: tally.NewMemoryStore(), broken: true}
	store.failAdjust.Store(1)
	env := newEnv(l, store, "p1", map[string]string{"A": "A"})

	res, err := env.svc.SubmitVote(ctx, "u1", "p1", "A")
	if !errors.Is(err, models.ErrUnavailable) {
		t.Fatalf("Expected ErrUnavailable, got %v", err)
	}
	// The vote itself is durable
	if res.Vote.OptionID != "A" {
		t.Errorf("Expected the committed vote in the result, got %+v", res.Vote)
	}
	if _, found, _ := l.FindCurrentVote(ctx, "u1", "p1"); !found {
		t.Error("Expected the ledger to keep the vote")
	}
	if n := len(env.rec.all()); n != 0 {
		t.Errorf("Expected no broadcast, got %d", n)
	}
}

func TestBroadcastFailureDoesNotFailVote(t *testing.T) {
	env := memoryEnv(t)
	env.rec.fail = errors.New("queue full")

	if _, err := env.svc.SubmitVote(context.Background(), "u1", "p1", "A"); err != nil {
		t.Errorf("Expected vote to succeed, got %v", err)
	}
	if got := env.tally(t)["A"]; got != 1 {
		t.Errorf("Expected A:1, got %d", got)
	}
}

// An observer joining after five votes sees them in its first message.
func TestLateSubscriberSeesSnapshot(t *testing.T) {
	env := memoryEnv(t)
	ctx := context.Background()
	h := hub.New(env.store)
	defer h.Close()

	for i, opt := range []string{"A", "A", "B", "C", "A"} {
		if _, err := env.svc.SubmitVote(ctx, fmt.Sprintf("u%d", i), "p1", opt); err != nil {
			t.Fatalf("Vote %d failed: %v", i, err)
		}
	}

	sub, err := h.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	msg := <-sub.Messages()
	if msg.Type != models.MessageSnapshot {
		t.Fatalf("Expected snapshot, got %q", msg.Type)
	}
	want := map[string]int64{"A": 3, "B": 1, "C": 1}
	if !maps.Equal(msg.Counts, want) || *msg.Total != 5 {
		t.Errorf("Expected %v total 5, got %v total %d", want, msg.Counts, *msg.Total)
	}
}

// pausingStore holds the first increment after it is applied until resumed.
type pausingStore struct {
	tally.Store
	held   atomic.Bool
	paused chan struct{}
	resume chan struct{}
}

func newPausingStore(store tally.Store) *pausingStore {
	return &pausingStore{Store: store, paused: make(chan struct{}), resume: make(chan struct{})}
}

func (s *pausingStore) Adjust(ctx context.Context, pollID, optionID string, delta int64) (int64, error) {
	n, err := s.Store.Adjust(ctx, pollID, optionID, delta)
	if err == nil && delta > 0 && s.held.CompareAndSwap(false, true) {
		close(s.paused)
		<-s.resume
	}
	return n, err
}

// countingSink forwards to the hub and counts what it delivered.
type countingSink struct {
	hub       *hub.Hub
	published atomic.Int32
}

func (s *countingSink) Publish(ctx context.Context, u models.TallyUpdate) error {
	err := s.hub.Publish(ctx, u)
	s.published.Add(1)
	return err
}

// The first voter's broadcast reaches the dispatcher after the second
// voter's; the observer must still end on the final count.
func TestObserverConvergesWhenBroadcastsReorder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := ledger.NewMemoryLedger()
	l.AddPoll("p1", "A", "B")
	store := newPausingStore(tally.NewMemoryStore())

	h := hub.New(store)
	defer h.Close()
	sink := &countingSink{hub: h}
	d := broadcast.NewDispatcher(sink, 16, nil, nil)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		d.Run(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	svc := &Service{Ledger: l, Tally: store, Broadcast: d}
	sub, err := h.Subscribe(ctx, "p1")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := svc.SubmitVote(ctx, "u1", "p1", "A")
		first <- err
	}()
	<-store.paused

	if _, err := svc.SubmitVote(ctx, "u2", "p1", "A"); err != nil {
		t.Fatalf("Second vote failed: %v", err)
	}
	close(store.resume)
	if err := <-first; err != nil {
		t.Fatalf("First vote failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for sink.published.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Dispatcher delivered %d of 2 updates", sink.published.Load())
		}
		time.Sleep(time.Millisecond)
	}

	var last models.StreamMessage
	var version int64 = -1
drain:
	for {
		select {
		case msg := <-sub.Messages():
			if msg.Version <= version {
				t.Errorf("Observer saw version %d after %d", msg.Version, version)
			}
			version = msg.Version
			last = msg
		default:
			break drain
		}
	}
	if last.Counts["A"] != 2 {
		t.Errorf("Observer ends on A=%d, true A=2", last.Counts["A"])
	}
}

// gatedLedger blocks CountVotes until released, so a rebuild can be held
// open while votes arrive.
type gatedLedger struct {
	*ledger.MemoryLedger
	counting chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (l *gatedLedger) CountVotes(ctx context.Context, pollID string) (map[string]int64, error) {
	l.once.Do(func() {
		close(l.counting)
		<-l.release
	})
	return l.MemoryLedger.CountVotes(ctx, pollID)
}

// A vote arriving during a rebuild waits for it, so the rebuilt tally and
// the vote's own adjustment never count it twice or lose it.
func TestRebuildExcludesVotes(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemoryLedger()
	mem.AddPoll("p1", "A", "B")
	l := &gatedLedger{MemoryLedger: mem, counting: make(chan struct{}), release: make(chan struct{})}
	env := newEnv(l, tally.NewMemoryStore(), "p1", map[string]string{"A": "A", "B": "B"})

	if _, err := env.svc.SubmitVote(ctx, "u1", "p1", "A"); err != nil {
		t.Fatalf("Vote failed: %v", err)
	}

	rebuilt := make(chan error, 1)
	go func() {
		_, err := env.svc.rebuild(ctx, "p1")
		rebuilt <- err
	}()
	<-l.counting

	voted := make(chan error, 1)
	go func() {
		_, err := env.svc.SubmitVote(ctx, "u2", "p1", "A")
		voted <- err
	}()

	select {
	case err := <-voted:
		t.Fatalf("Vote finished during rebuild: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(l.release)
	if err := <-rebuilt; err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if err := <-voted; err != nil {
		t.Fatalf("Vote failed: %v", err)
	}
	if got := env.tally(t); got["A"] != 2 {
		t.Errorf("Ledger holds 2 votes for A, tally shows %v", got)
	}
}
