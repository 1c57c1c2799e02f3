// Package reconcile drives pending payments to a terminal status. A scheduled
// run re-queries the gateway for payments pending longer than the timeout and
// forces failed once the timeout has elapsed without a terminal answer.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mstgnz/donatepay/infra/logger"
	"github.com/mstgnz/donatepay/notify"
	"github.com/mstgnz/donatepay/provider"
	"github.com/mstgnz/donatepay/store"
)

// ErrRunInProgress is returned when a run is requested while another is executing
var ErrRunInProgress = errors.New("reconciliation run already in progress")

// Reasons recorded in the audit trail
const (
	ReasonGatewayStatus   = "gateway reported terminal status"
	ReasonUnknownProvider = "cannot determine provider"
	ReasonProviderError   = "provider check error"
	ReasonTimeout         = "timeout exceeded"
)

// Reference times a candidate's age is measured from
const (
	RefDiscoveredAt = "discoveredAt"
	RefCreatedAt    = "createdAt"
)

// Action is what a reconciliation pass did with one payment
type Action string

const (
	ActionResolved     Action = "resolved"
	ActionForcedFailed Action = "forced_failed"
	ActionUntouched    Action = "untouched"
	ActionError        Action = "error"
	ActionSkipped      Action = "skipped"
)

// StatusSource resolves the issuing provider and queries it; *provider.Router satisfies it
type StatusSource interface {
	DetectProvider(ref provider.PaymentRef) (provider.ProviderType, bool)
	GetStatus(ctx context.Context, t provider.ProviderType, transactionID string) (*provider.PaymentStatusResult, error)
}

// Config holds the engine's timing and sizing
type Config struct {
	Timeout       time.Duration
	Interval      time.Duration
	SweepInterval time.Duration
	BatchSize     int
	CacheCapacity int
	ItemTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = 3 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 20 * time.Minute
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = 1000
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
}

// ItemResult reports the handling of one payment
type ItemResult struct {
	PaymentID      string                `json:"paymentId"`
	TransactionID  string                `json:"transactionId"`
	Provider       provider.ProviderType `json:"provider,omitempty"`
	PreviousStatus provider.Outcome      `json:"previousStatus"`
	NewStatus      provider.Outcome      `json:"newStatus"`
	Action         Action                `json:"action"`
	Reason         string                `json:"reason,omitempty"`
	ReferenceTime  string                `json:"referenceTime"`
	MinutesElapsed float64               `json:"minutesElapsed"`
	Error          string                `json:"error,omitempty"`
}

// RunSummary aggregates one reconciliation pass
type RunSummary struct {
	StartedAt    time.Time     `json:"startedAt"`
	Duration     time.Duration `json:"-"`
	DurationMs   int64         `json:"durationMs"`
	Candidates   int           `json:"candidates"`
	FromCache    int           `json:"fromCache"`
	FromStore    int           `json:"fromStore"`
	Resolved     int           `json:"resolved"`
	ForcedFailed int           `json:"forcedFailed"`
	Untouched    int           `json:"untouched"`
	Errors       int           `json:"errors"`
	Skipped      int           `json:"skipped"`
	Items        []ItemResult  `json:"items,omitempty"`
}

func (s *RunSummary) add(item ItemResult) {
	s.Items = append(s.Items, item)
	switch item.Action {
	case ActionResolved:
		s.Resolved++
	case ActionForcedFailed:
		s.ForcedFailed++
	case ActionUntouched:
		s.Untouched++
	case ActionError:
		s.Errors++
	case ActionSkipped:
		s.Skipped++
	}
}

// Stats is the operational view of pending work
type Stats struct {
	TotalPending         int64       `json:"totalPending"`
	PendingOverTimeout   int64       `json:"pendingOverTimeout"`
	OldestPendingMinutes float64     `json:"oldestPendingMinutes"`
	CacheSize            int         `json:"cacheSize"`
	Cache                CacheStats  `json:"cache"`
	Running              bool        `json:"running"`
	LastRun              *RunSummary `json:"lastRun,omitempty"`
}

type candidate struct {
	payment   store.Payment
	reference time.Time
	refName   string
	fromCache bool
}

// Engine owns the pending cache and the reconciliation schedule
type Engine struct {
	cfg    Config
	store  store.Store
	source StatusSource
	sink   notify.Sink
	cache  *PendingCache
	now    func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	lastRun *RunSummary
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine creates an engine; zero config values take the defaults
func NewEngine(cfg Config, st store.Store, source StatusSource, sink notify.Sink) *Engine {
	cfg.applyDefaults()
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Engine{
		cfg:    cfg,
		store:  st,
		source: source,
		sink:   sink,
		cache:  NewPendingCache(cfg.CacheCapacity),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the engine clock
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Cache exposes the pending cache
func (e *Engine) Cache() *PendingCache {
	return e.cache
}

// Config returns the effective configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Track registers a newly created payment for reconciliation
func (e *Engine) Track(p *store.Payment) {
	if p == nil || p.Status.IsTerminal() {
		return
	}
	e.cache.Add(TemporaryPayment{
		PaymentID:     p.ID,
		TransactionID: p.TransactionID,
		Provider:      provider.ProviderType(p.Provider),
		DiscoveredAt:  e.now(),
		Status:        provider.OutcomePending,
	})
}

// Forget drops a payment from the cache once it resolved elsewhere
func (e *Engine) Forget(paymentID string) {
	e.cache.Remove(paymentID)
}

// Start launches the reconciliation and sweep loops. Calling Start on a
// running engine does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(2)
	go e.loop(ctx, e.cfg.Interval, e.tick)
	go e.loop(ctx, e.cfg.SweepInterval, func(context.Context) { e.Sweep() })

	logger.Info("Reconciliation engine started", logger.LogContext{Fields: map[string]any{
		"timeout":       e.cfg.Timeout.String(),
		"interval":      e.cfg.Interval.String(),
		"sweepInterval": e.cfg.SweepInterval.String(),
		"batchSize":     e.cfg.BatchSize,
	}})
}

// Stop halts both loops and waits for an in-flight run to finish or ctx to end
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Reconciliation engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer e.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// tick runs one scheduled pass under a wall-clock budget of one interval
func (e *Engine) tick(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Interval)
	defer cancel()

	summary, err := e.RunOnce(runCtx)
	if errors.Is(err, ErrRunInProgress) {
		logger.Debug("Reconciliation tick skipped, previous run still active")
		return
	}
	if err != nil {
		logger.Error("Reconciliation run failed", err)
		return
	}
	if summary.Candidates == 0 {
		logger.Debug("Reconciliation run found no candidates")
		return
	}
	logger.Info("Reconciliation run finished", logger.LogContext{Fields: summaryFields(summary)})
}

// Sweep evicts cache entries older than twice the timeout or already resolved
func (e *Engine) Sweep() int {
	removed := e.cache.Sweep(e.now(), 2*e.cfg.Timeout)
	if removed > 0 {
		logger.Debug("Pending cache swept", logger.LogContext{Fields: map[string]any{
			"removed": removed,
			"size":    e.cache.Size(),
		}})
	}
	return removed
}

// RunOnce executes a single reconciliation pass. Item failures, including a
// failed lookup of one cached payment, are recorded in the summary; only the
// pending query failing aborts the run.
func (e *Engine) RunOnce(ctx context.Context) (RunSummary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer e.running.Store(false)

	now := e.now()
	summary := RunSummary{StartedAt: now}

	candidates, failed, skipped, err := e.collect(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.Skipped += skipped
	for _, item := range failed {
		summary.Candidates++
		summary.FromCache++
		summary.add(item)
	}

	for i, c := range candidates {
		if ctx.Err() != nil {
			// budget exhausted; the next run picks these up again
			summary.Skipped += len(candidates) - i
			break
		}
		summary.Candidates++
		if c.fromCache {
			summary.FromCache++
		} else {
			summary.FromStore++
		}
		summary.add(e.reconcile(ctx, c, now))
	}

	summary.Duration = e.now().Sub(now)
	summary.DurationMs = summary.Duration.Milliseconds()

	e.mu.Lock()
	last := summary
	e.lastRun = &last
	e.mu.Unlock()

	return summary, nil
}

// collect gathers elapsed cache entries, then store rows not in the cache.
// A cached entry whose row cannot be loaded comes back as an error item.
func (e *Engine) collect(ctx context.Context, now time.Time) ([]candidate, []ItemResult, int, error) {
	var (
		candidates []candidate
		failed     []ItemResult
		skipped    int
	)

	for _, entry := range e.cache.Snapshot() {
		elapsed := now.Sub(entry.DiscoveredAt)
		if entry.Status != provider.OutcomePending || elapsed < e.cfg.Timeout {
			continue
		}
		p, err := e.store.FindByID(ctx, entry.PaymentID)
		if err != nil {
			logger.WithPayment(string(entry.Provider), entry.PaymentID).
				Error("Failed to load cached payment, will retry next run", err)
			failed = append(failed, ItemResult{
				PaymentID:      entry.PaymentID,
				TransactionID:  entry.TransactionID,
				Provider:       entry.Provider,
				PreviousStatus: provider.OutcomePending,
				NewStatus:      provider.OutcomePending,
				Action:         ActionError,
				ReferenceTime:  RefDiscoveredAt,
				MinutesElapsed: roundMinutes(elapsed),
				Error:          err.Error(),
			})
			continue
		}
		if p == nil {
			// not committed yet, or deleted; the sweep ages it out
			skipped++
			continue
		}
		if p.Status.IsTerminal() {
			e.cache.Remove(p.ID)
			continue
		}
		candidates = append(candidates, candidate{
			payment:   *p,
			reference: entry.DiscoveredAt,
			refName:   RefDiscoveredAt,
			fromCache: true,
		})
	}

	persisted, err := e.store.FindPending(ctx, now.Add(-e.cfg.Timeout), e.cfg.BatchSize, e.cache.IDs()...)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to query pending payments: %w", err)
	}
	for _, p := range persisted {
		candidates = append(candidates, candidate{
			payment:   p,
			reference: p.CreatedAt,
			refName:   RefCreatedAt,
		})
	}

	return candidates, failed, skipped, nil
}

// ReconcilePayment runs a single payment through the same steps as a scheduled
// pass, regardless of its age. A gateway error before the timeout is returned.
func (e *Engine) ReconcilePayment(ctx context.Context, paymentID string) (*ItemResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer e.running.Store(false)

	p, err := e.store.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, store.ErrNotFound
	}

	c := candidate{payment: *p, reference: p.CreatedAt, refName: RefCreatedAt}
	if entry, ok := e.cache.Get(p.ID); ok {
		c.reference = entry.DiscoveredAt
		c.refName = RefDiscoveredAt
		c.fromCache = true
	}

	item := e.reconcile(ctx, c, e.now())
	if item.Action == ActionError {
		return &item, fmt.Errorf("reconciliation of %s failed: %s", paymentID, item.Error)
	}
	return &item, nil
}

// reconcile decides one candidate. Each step re-derives the outcome from the
// gateway, so repeating it before the payment resolves is safe.
func (e *Engine) reconcile(ctx context.Context, c candidate, now time.Time) ItemResult {
	p := c.payment
	elapsed := now.Sub(c.reference)
	timedOut := elapsed >= e.cfg.Timeout

	item := ItemResult{
		PaymentID:      p.ID,
		TransactionID:  p.TransactionID,
		PreviousStatus: p.Status,
		NewStatus:      p.Status,
		ReferenceTime:  c.refName,
		MinutesElapsed: roundMinutes(elapsed),
	}

	if p.Status.IsTerminal() {
		e.cache.Remove(p.ID)
		item.Action = ActionSkipped
		item.Reason = "already terminal"
		return item
	}

	t, ok := e.source.DetectProvider(provider.PaymentRef{
		Provider:      p.Provider,
		TransactionID: p.TransactionID,
		Raw:           p.Raw(),
	})
	if !ok {
		if timedOut {
			return e.transition(ctx, c, item, provider.OutcomeFailed, ReasonUnknownProvider, nil)
		}
		item.Action = ActionError
		item.Error = ReasonUnknownProvider
		return item
	}
	item.Provider = t

	itemCtx, cancel := context.WithTimeout(ctx, e.cfg.ItemTimeout)
	result, err := e.source.GetStatus(itemCtx, t, p.TransactionID)
	cancel()

	if err != nil {
		log := logger.WithPayment(string(t), p.ID).AddField("transactionId", p.TransactionID)
		if timedOut {
			log.Warn("Status check failed after timeout, forcing failed: " + err.Error())
			item.Error = err.Error()
			return e.transition(ctx, c, item, provider.OutcomeFailed, ReasonProviderError, nil)
		}
		log.Warn("Status check failed, will retry next run: " + err.Error())
		item.Action = ActionError
		item.Error = err.Error()
		return item
	}

	switch {
	case result.Outcome.IsTerminal():
		return e.transition(ctx, c, item, result.Outcome, ReasonGatewayStatus, result.Raw)
	case timedOut:
		return e.transition(ctx, c, item, provider.OutcomeFailed, ReasonTimeout, result.Raw)
	default:
		item.Action = ActionUntouched
		return item
	}
}

// transition persists a terminal status through the store's pending guard
func (e *Engine) transition(ctx context.Context, c candidate, item ItemResult, to provider.Outcome, reason string, latest map[string]any) ItemResult {
	p := c.payment
	item.Reason = reason

	raw, err := store.WithAudit(p.RawResponse, latest, store.AuditEntry{
		At:             e.now(),
		Source:         notify.SourceReconciliation,
		Reason:         reason,
		PreviousStatus: p.Status,
		NewStatus:      to,
		MinutesElapsed: item.MinutesElapsed,
		ReferenceTime:  c.refName,
	})
	if err != nil {
		item.Action = ActionError
		item.Error = err.Error()
		return item
	}

	changed, err := e.store.Transition(ctx, p.ID, to, raw)
	if err != nil {
		item.Action = ActionError
		item.Error = err.Error()
		return item
	}

	e.cache.Remove(p.ID)

	if !changed {
		// resolved concurrently, typically by a webhook
		item.Action = ActionSkipped
		item.Reason = "already resolved"
		return item
	}

	item.NewStatus = to
	item.Action = ActionResolved
	if reason != ReasonGatewayStatus {
		item.Action = ActionForcedFailed
	}

	e.sink.Notify(ctx, notify.OutcomeChange{
		PaymentID:      p.ID,
		TransactionID:  p.TransactionID,
		Provider:       string(item.Provider),
		PreviousStatus: p.Status,
		NewStatus:      to,
		Source:         notify.SourceReconciliation,
		Reason:         reason,
		Amount:         p.Amount,
		Currency:       p.Currency,
		At:             e.now(),
		Raw:            latest,
	})
	return item
}

// Stats reports pending totals from the store and the cache size
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	now := e.now()

	total, err := e.store.CountByStatus(ctx, provider.OutcomePending)
	if err != nil {
		return Stats{}, err
	}
	overTimeout, err := e.store.CountPendingOlderThan(ctx, now.Add(-e.cfg.Timeout))
	if err != nil {
		return Stats{}, err
	}
	oldest, err := e.store.OldestPending(ctx)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{
		TotalPending:       total,
		PendingOverTimeout: overTimeout,
		CacheSize:          e.cache.Size(),
		Cache:              e.cache.Stats(),
		Running:            e.running.Load(),
	}
	if oldest != nil {
		stats.OldestPendingMinutes = roundMinutes(now.Sub(oldest.CreatedAt))
	}

	e.mu.Lock()
	if e.lastRun != nil {
		last := *e.lastRun
		last.Items = nil
		stats.LastRun = &last
	}
	e.mu.Unlock()

	return stats, nil
}

func roundMinutes(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return float64(d.Round(time.Second)/time.Second) / 60
}

func summaryFields(s RunSummary) map[string]any {
	return map[string]any{
		"candidates":   s.Candidates,
		"fromCache":    s.FromCache,
		"fromStore":    s.FromStore,
		"resolved":     s.Resolved,
		"forcedFailed": s.ForcedFailed,
		"untouched":    s.Untouched,
		"errors":       s.Errors,
		"skipped":      s.Skipped,
		"durationMs":   s.DurationMs,
	}
}
