package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mstgnz/donatepay/infra/conn"
	"github.com/mstgnz/donatepay/notify"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	results map[string]provider.Outcome
	errs    map[string]error
	calls   int
	before  func(txID string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{results: map[string]provider.Outcome{}, errs: map[string]error{}}
}

func (f *fakeSource) DetectProvider(ref provider.PaymentRef) (provider.ProviderType, bool) {
	if ref.Provider == "" {
		return "", false
	}
	return provider.ProviderType(ref.Provider), true
}

func (f *fakeSource) GetStatus(ctx context.Context, t provider.ProviderType, txID string) (*provider.PaymentStatusResult, error) {
	f.mu.Lock()
	f.calls++
	before := f.before
	err := f.errs[txID]
	outcome, ok := f.results[txID]
	f.mu.Unlock()

	if before != nil {
		before(txID)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		outcome = provider.OutcomePending
	}
	return &provider.PaymentStatusResult{
		Outcome:       outcome,
		TransactionID: txID,
		Raw:           map[string]any{"gatewayStatus": string(outcome)},
	}, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSink struct {
	mu      sync.Mutex
	changes []notify.OutcomeChange
}

func (r *recordingSink) Notify(_ context.Context, change notify.OutcomeChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingSink) all() []notify.OutcomeChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.OutcomeChange(nil), r.changes...)
}

type testEnv struct {
	store  *store.GormStore
	source *fakeSource
	sink   *recordingSink
	engine *Engine
	now    time.Time
	mu     sync.Mutex
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := conn.ConnectDatabase(context.Background(), conn.DriverSQLite, filepath.Join(t.TempDir(), "reconcile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.CloseDatabase() })

	st, err := store.NewGormStore(db)
	require.NoError(t, err)

	env := &testEnv{store: st, source: newFakeSource(), sink: &recordingSink{}, now: t0}
	env.engine = NewEngine(Config{Timeout: 15 * time.Minute, BatchSize: 50}, st, env.source, env.sink)
	env.engine.SetClock(env.clock)
	return env
}

func (e *testEnv) seed(t *testing.T, txID string, p provider.ProviderType, createdAt time.Time) *store.Payment {
	t.Helper()
	created, err := e.store.Create(context.Background(), &store.Payment{
		Amount:        decimal.RequireFromString("15"),
		Currency:      "KWD",
		TransactionID: txID,
		Provider:      string(p),
		CreatedAt:     createdAt,
		RawResponse:   store.EncodeRaw(map[string]any{"InvoiceId": txID}),
	})
	require.NoError(t, err)
	return created
}

func (e *testEnv) status(t *testing.T, id string) *store.Payment {
	t.Helper()
	p, err := e.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestRunOnce_ResolvesFromGateway(t *testing.T) {
	env := newTestEnv(t)
	paid := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-20*time.Minute))
	failed := env.seed(t, "1002", provider.MyFatoorah, t0.Add(-20*time.Minute))
	env.source.results["1001"] = provider.OutcomePaid
	env.source.results["1002"] = provider.OutcomeFailed

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 2, summary.FromStore)
	assert.Equal(t, 2, summary.Resolved)
	assert.Equal(t, provider.OutcomePaid, env.status(t, paid.ID).Status)
	assert.Equal(t, provider.OutcomeFailed, env.status(t, failed.ID).Status)

	changes := env.sink.all()
	require.Len(t, changes, 2)
	for _, c := range changes {
		assert.Equal(t, notify.SourceReconciliation, c.Source)
		assert.Equal(t, ReasonGatewayStatus, c.Reason)
		assert.Equal(t, provider.OutcomePending, c.PreviousStatus)
	}

	var raw map[string]any
	require.NoError(t, json.Unmarshal(env.status(t, paid.ID).RawResponse, &raw))
	assert.Equal(t, "paid", raw["gatewayStatus"])
	history, ok := raw["reconciliation"].([]any)
	require.True(t, ok)
	require.Len(t, history, 1)
	audit := history[0].(map[string]any)
	assert.Equal(t, ReasonGatewayStatus, audit["reason"])
	assert.Equal(t, RefCreatedAt, audit["referenceTime"])
}

func TestRunOnce_TimeoutForcesFailed(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-16*time.Minute))

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.ForcedFailed)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, ReasonTimeout, summary.Items[0].Reason)
	assert.Equal(t, ActionForcedFailed, summary.Items[0].Action)
	assert.InDelta(t, 16.0, summary.Items[0].MinutesElapsed, 0.01)
	assert.Equal(t, provider.OutcomeFailed, env.status(t, p.ID).Status)
}

func TestRunOnce_ProviderErrorAfterTimeout(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "pi_err", provider.Stripe, t0.Add(-30*time.Minute))
	env.source.errs["pi_err"] = errors.New("gateway unavailable")

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Items, 1)
	assert.Equal(t, ReasonProviderError, summary.Items[0].Reason)
	assert.Equal(t, "gateway unavailable", summary.Items[0].Error)
	assert.Equal(t, provider.OutcomeFailed, env.status(t, p.ID).Status)
}

func TestRunOnce_UnknownProviderAfterTimeout(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "mystery", "", t0.Add(-30*time.Minute))

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Items, 1)
	assert.Equal(t, ReasonUnknownProvider, summary.Items[0].Reason)
	assert.Equal(t, provider.OutcomeFailed, env.status(t, p.ID).Status)
	assert.Zero(t, env.source.callCount())
}

func TestRunOnce_IgnoresRecentPayments(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-5*time.Minute))

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Candidates)
	assert.Zero(t, env.source.callCount())
	assert.Equal(t, provider.OutcomePending, env.status(t, p.ID).Status)
}

func TestRunOnce_CacheCandidates(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1001", provider.MyFatoorah, t0)
	env.engine.Track(p)
	env.source.results["1001"] = provider.OutcomePaid

	// not elapsed yet
	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Candidates)

	env.advance(16 * time.Minute)
	summary, err = env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.FromCache)
	assert.Zero(t, summary.FromStore)
	assert.Equal(t, RefDiscoveredAt, summary.Items[0].ReferenceTime)
	assert.Equal(t, provider.OutcomePaid, env.status(t, p.ID).Status)
	assert.Zero(t, env.engine.Cache().Size())
}

func TestRunOnce_CacheEntryWithoutRowIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Track(&store.Payment{ID: "missing", TransactionID: "1001", Provider: string(provider.MyFatoorah), Status: provider.OutcomePending})
	env.advance(20 * time.Minute)

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Candidates)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, env.source.callCount())
}

type failingLookup struct {
	store.Store
	failID string
}

func (f failingLookup) FindByID(ctx context.Context, id string) (*store.Payment, error) {
	if id == f.failID {
		return nil, errors.New("database is locked")
	}
	return f.Store.FindByID(ctx, id)
}

func TestRunOnce_CachedLookupFailureKeepsRunGoing(t *testing.T) {
	env := newTestEnv(t)
	cached := env.seed(t, "1001", provider.MyFatoorah, t0)
	persisted := env.seed(t, "1002", provider.MyFatoorah, t0)
	env.source.results["1002"] = provider.OutcomePaid

	engine := NewEngine(Config{Timeout: 15 * time.Minute, BatchSize: 50}, failingLookup{Store: env.store, failID: cached.ID}, env.source, env.sink)
	engine.SetClock(env.clock)
	engine.Track(cached)
	env.advance(20 * time.Minute)

	summary, err := engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Candidates)
	assert.Equal(t, 1, summary.FromCache)
	assert.Equal(t, 1, summary.FromStore)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Resolved)

	var failedItem *ItemResult
	for i := range summary.Items {
		if summary.Items[i].PaymentID == cached.ID {
			failedItem = &summary.Items[i]
		}
	}
	require.NotNil(t, failedItem)
	assert.Equal(t, ActionError, failedItem.Action)
	assert.Contains(t, failedItem.Error, "database is locked")

	assert.Equal(t, provider.OutcomePaid, env.status(t, persisted.ID).Status)
	assert.Equal(t, provider.OutcomePending, env.status(t, cached.ID).Status)
	assert.Equal(t, 1, engine.Cache().Size(), "failed entry stays cached for the next run")
}

func TestRunOnce_WebhookResultIsNeverOverwritten(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-20*time.Minute))

	// the webhook lands while the gateway is being queried
	env.source.before = func(string) {
		changed, err := env.store.Transition(context.Background(), p.ID, provider.OutcomePaid, nil)
		require.NoError(t, err)
		require.True(t, changed)
	}

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.ForcedFailed)
	assert.Equal(t, provider.OutcomePaid, env.status(t, p.ID).Status)
	assert.Empty(t, env.sink.all())
}

func TestRunOnce_DropsResolvedCacheEntries(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1001", provider.MyFatoorah, t0)
	env.engine.Track(p)

	_, err := env.store.Transition(context.Background(), p.ID, provider.OutcomePaid, nil)
	require.NoError(t, err)
	env.advance(20 * time.Minute)

	summary, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, summary.Candidates)
	assert.Zero(t, env.engine.Cache().Size())
	assert.Equal(t, provider.OutcomePaid, env.status(t, p.ID).Status)
}

func TestRunOnce_RepeatIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1001", provider.MyFatoorah, t0.Add(-20*time.Minute))
	env.source.results["1001"] = provider.OutcomePaid

	first, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, first.Resolved)
	assert.Zero(t, second.Candidates)
	assert.Len(t, env.sink.all(), 1)
}

func TestRunOnce_RejectsOverlap(t *testing.T) {
	env := newTestEnv(t)
	p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-20*time.Minute))

	started := make(chan struct{})
	release := make(chan struct{})
	env.source.before = func(string) {
		close(started)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := env.engine.RunOnce(context.Background())
		done <- err
	}()
	<-started

	_, err := env.engine.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	_, err = env.engine.ReconcilePayment(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestRunOnce_StopsWhenContextDone(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1001", provider.MyFatoorah, t0.Add(-20*time.Minute))
	second := env.seed(t, "1002", provider.MyFatoorah, t0.Add(-19*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.source.before = func(string) { cancel() }

	summary, err := env.engine.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Candidates)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, env.source.callCount())
	assert.Equal(t, provider.OutcomePending, env.status(t, second.ID).Status)
}

func TestReconcilePayment(t *testing.T) {
	t.Run("resolves regardless of age", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-time.Minute))
		env.source.results["1001"] = provider.OutcomePaid

		item, err := env.engine.ReconcilePayment(context.Background(), p.ID)
		require.NoError(t, err)

		assert.Equal(t, ActionResolved, item.Action)
		assert.Equal(t, provider.OutcomePaid, item.NewStatus)
		assert.Equal(t, provider.MyFatoorah, item.Provider)
	})

	t.Run("pending before timeout is untouched", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-time.Minute))

		item, err := env.engine.ReconcilePayment(context.Background(), p.ID)
		require.NoError(t, err)

		assert.Equal(t, ActionUntouched, item.Action)
		assert.Equal(t, provider.OutcomePending, env.status(t, p.ID).Status)
	})

	t.Run("gateway error before timeout", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-time.Minute))
		env.source.errs["1001"] = errors.New("connection reset")

		item, err := env.engine.ReconcilePayment(context.Background(), p.ID)
		require.Error(t, err)

		assert.Equal(t, ActionError, item.Action)
		assert.Equal(t, provider.OutcomePending, env.status(t, p.ID).Status)
	})

	t.Run("terminal payment is skipped", func(t *testing.T) {
		env := newTestEnv(t)
		p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-time.Hour))
		_, err := env.store.Transition(context.Background(), p.ID, provider.OutcomePaid, nil)
		require.NoError(t, err)

		item, err := env.engine.ReconcilePayment(context.Background(), p.ID)
		require.NoError(t, err)

		assert.Equal(t, ActionSkipped, item.Action)
		assert.Zero(t, env.source.callCount())
	})

	t.Run("unknown payment", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.engine.ReconcilePayment(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestEngine_Stats(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "1001", provider.MyFatoorah, t0.Add(-40*time.Minute))
	env.seed(t, "1002", provider.MyFatoorah, t0.Add(-5*time.Minute))
	p := env.seed(t, "1003", provider.MyFatoorah, t0)
	env.engine.Track(p)

	stats, err := env.engine.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalPending)
	assert.Equal(t, int64(1), stats.PendingOverTimeout)
	assert.InDelta(t, 40.0, stats.OldestPendingMinutes, 0.01)
	assert.Equal(t, 1, stats.CacheSize)
	assert.False(t, stats.Running)
	assert.Nil(t, stats.LastRun)

	_, err = env.engine.RunOnce(context.Background())
	require.NoError(t, err)

	stats, err = env.engine.Stats(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stats.LastRun)
	assert.Equal(t, 1, stats.LastRun.Candidates)
	assert.Nil(t, stats.LastRun.Items)
}

func TestEngine_StartStop(t *testing.T) {
	env := newTestEnv(t)
	env.engine = NewEngine(Config{Timeout: 15 * time.Minute, Interval: 10 * time.Millisecond}, env.store, env.source, env.sink)
	env.engine.SetClock(env.clock)
	p := env.seed(t, "1001", provider.MyFatoorah, t0.Add(-20*time.Minute))
	env.source.results["1001"] = provider.OutcomePaid

	env.engine.Start()
	env.engine.Start()

	assert.Eventually(t, func() bool {
		got, err := env.store.FindByID(context.Background(), p.ID)
		return err == nil && got != nil && got.Status == provider.OutcomePaid
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, env.engine.Stop(ctx))
	require.NoError(t, env.engine.Stop(ctx))
}

func TestEngine_SweepUsesTwiceTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.engine.Track(&store.Payment{ID: "a", TransactionID: "1", Status: provider.OutcomePending})
	env.advance(20 * time.Minute)
	env.engine.Track(&store.Payment{ID: "b", TransactionID: "2", Status: provider.OutcomePending})
	env.advance(11 * time.Minute)

	assert.Equal(t, 1, env.engine.Sweep())
	assert.Equal(t, []string{"b"}, env.engine.Cache().IDs())
}
