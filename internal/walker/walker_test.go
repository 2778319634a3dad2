package walker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"graphminer/internal/model"
)

type memSessions struct {
	mu   sync.Mutex
	byID map[int64]*model.Session
}

func (s *memSessions) FindByID(ctx context.Context, id int64) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) UpdateStatus(ctx context.Context, id int64, to model.SessionStatus, reason string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return nil, model.ErrSessionNotFound
	}
	sess.Status = to
	sess.StatusReason = reason
	cp := *sess
	return &cp, nil
}

func (s *memSessions) DebitDiscovery(ctx context.Context, id int64, costCents int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	if !ok {
		return model.ErrSessionNotFound
	}
	if sess.Discovery.UsedCents+costCents > sess.Discovery.TotalCents {
		return model.ErrBudgetExhausted
	}
	sess.Discovery.UsedCents += costCents
	return nil
}

func (s *memSessions) get(id int64) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.byID[id]
	return &cp
}

type memLedger struct {
	mu      sync.Mutex
	entries map[string]*model.ProgressEntry
}

func ledgerKey(userID int64, sourceType model.SourceType, date time.Time) string {
	return fmt.Sprintf("%d|%s|%s", userID, sourceType, date.Format("2006-01-02"))
}

func (l *memLedger) IsProcessed(ctx context.Context, userID int64, sourceType model.SourceType, date time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[ledgerKey(userID, sourceType, date)]
	return ok, nil
}

func (l *memLedger) MarkProcessed(ctx context.Context, entry *model.ProgressEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(entry.UserID, entry.SourceType, entry.ProcessedDate)
	if _, ok := l.entries[key]; ok {
		return nil
	}
	l.entries[key] = entry
	return nil
}

func (l *memLedger) get(userID int64, sourceType model.SourceType, date time.Time) *model.ProgressEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[ledgerKey(userID, sourceType, date)]
}

func (l *memLedger) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

type memSamples struct {
	mu      sync.Mutex
	samples []*model.Sample
	failErr error
}

func (m *memSamples) CreateBatch(ctx context.Context, samples []*model.Sample) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return 0, m.failErr
	}
	m.samples = append(m.samples, samples...)
	return len(samples), nil
}

func (m *memSamples) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

type memEscalator struct {
	mu         sync.Mutex
	lowConf    int
	procErrors int
}

func (e *memEscalator) EscalateLowConfidence(ctx context.Context, sess *model.Session, sample *model.Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lowConf++
}

func (e *memEscalator) EscalateProcessingError(ctx context.Context, sess *model.Session, item model.SourceItem, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.procErrors++
}

type memSource struct {
	mu       sync.Mutex
	items    map[string][]model.SourceItem
	failures int // fail this many calls before succeeding
	err      error
	calls    int
}

func sourceKey(sourceType model.SourceType, date time.Time) string {
	return fmt.Sprintf("%s|%s", sourceType, date.Format("2006-01-02"))
}

func (s *memSource) fetch(sourceType model.SourceType, date time.Time) ([]model.SourceItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return nil, s.err
	}
	return s.items[sourceKey(sourceType, date)], nil
}

func (s *memSource) FetchEmails(ctx context.Context, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error) {
	return s.fetch(model.SourceEmail, from)
}

func (s *memSource) FetchCalendarEvents(ctx context.Context, userID int64, from, to time.Time, limit int) ([]model.SourceItem, error) {
	return s.fetch(model.SourceCalendar, from)
}

type memExtractor struct {
	fn func(item model.SourceItem) (*model.ExtractionResult, error)
}

func (e *memExtractor) Extract(ctx context.Context, item model.SourceItem) (*model.ExtractionResult, error) {
	return e.fn(item)
}

func entityResult(costCents int64, confidence int) *model.ExtractionResult {
	return &model.ExtractionResult{
		Entities: []model.ExtractedEntity{
			{Text: "Acme Corp", Label: "organization", Confidence: confidence},
		},
		CostEstimateCents: costCents,
	}
}

type fixture struct {
	sessions  *memSessions
	ledger    *memLedger
	samples   *memSamples
	escalator *memEscalator
	source    *memSource
	extractor *memExtractor
	engine    *Engine
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		sessions:  &memSessions{byID: make(map[int64]*model.Session)},
		ledger:    &memLedger{entries: make(map[string]*model.ProgressEntry)},
		samples:   &memSamples{},
		escalator: &memEscalator{},
		source:    &memSource{items: make(map[string][]model.SourceItem)},
		extractor: &memExtractor{fn: func(item model.SourceItem) (*model.ExtractionResult, error) {
			return entityResult(100, 90), nil
		}},
	}
	f.engine = NewEngine(
		f.sessions, f.ledger, f.samples, f.escalator,
		f.source, f.extractor, NewRegistry(), cfg, zap.NewNop(),
	)
	return f
}

func (f *fixture) addSession(sess *model.Session) {
	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	f.sessions.byID[sess.ID] = sess
}

func (f *fixture) addItems(sourceType model.SourceType, daysAgo, n int) {
	date := model.Day(time.Now()).AddDate(0, 0, -daysAgo)
	items := make([]model.SourceItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, model.SourceItem{
			ID:         fmt.Sprintf("%s-%d-%d", sourceType, daysAgo, i),
			SourceType: sourceType,
			Title:      "quarterly sync",
			OccurredAt: date,
		})
	}
	f.source.mu.Lock()
	defer f.source.mu.Unlock()
	f.source.items[sourceKey(sourceType, date)] = items
}

// runSync drives the walk on the test goroutine for determinism.
func (f *fixture) runSync(t *testing.T, sessionID int64) {
	t.Helper()
	ctx, ok := f.engine.registry.acquire(sessionID)
	require.True(t, ok, "walker already registered for session")
	f.engine.run(ctx, sessionID)
}

func runningSession(id int64, discoveryTotal int64) *model.Session {
	return &model.Session{
		ID:     id,
		UserID: 7,
		Status: model.SessionRunning,
		Mode:   model.ModeCollectFeedback,
		Discovery: model.Budget{
			TotalCents: discoveryTotal,
		},
		Training: model.Budget{
			TotalCents: 500,
		},
	}
}

func TestWalkerProcessesHistoryAndCompletes(t *testing.T) {
	f := newFixture(Config{HistoryDays: 2, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60, FetchRetries: 0})
	f.addSession(runningSession(1, 10_000))
	for daysAgo := 0; daysAgo < 2; daysAgo++ {
		f.addItems(model.SourceEmail, daysAgo, 1)
		f.addItems(model.SourceCalendar, daysAgo, 1)
	}

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, "history exhausted", sess.StatusReason)

	// 2 days x 2 sources, one item each at 100 cents.
	assert.Equal(t, 4, f.ledger.size())
	assert.Equal(t, 4, f.samples.count())
	assert.Equal(t, int64(400), sess.Discovery.UsedCents)
}

func TestWalkerChargesOnlyForWorkPerformed(t *testing.T) {
	f := newFixture(Config{HistoryDays: 3, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))
	// Only the newest day has anything; the older days are empty and free.
	f.addItems(model.SourceEmail, 0, 2)

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, int64(200), sess.Discovery.UsedCents)
	// Empty days are still marked so they are never refetched.
	assert.Equal(t, 6, f.ledger.size())
}

func TestWalkerPartialDayOnBudgetExhaustion(t *testing.T) {
	f := newFixture(Config{HistoryDays: 5, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 800))
	f.addItems(model.SourceEmail, 0, 3)
	f.extractor.fn = func(item model.SourceItem) (*model.ExtractionResult, error) {
		return entityResult(300, 90), nil
	}

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionBudgetExhausted, sess.Status)
	assert.Equal(t, "discovery budget exhausted", sess.StatusReason)

	// The third item's price overran the remainder: the debit is clamped so
	// used never passes total.
	assert.Equal(t, int64(800), sess.Discovery.UsedCents)
	assert.Equal(t, 3, f.samples.count())

	// The partial day is persisted and marked; the second source of the day
	// was never reached.
	assert.Equal(t, 1, f.ledger.size())
	done, err := f.ledger.IsProcessed(context.Background(), sess.UserID, model.SourceEmail, model.Day(time.Now()))
	require.NoError(t, err)
	assert.True(t, done)
}

func TestWalkerStopsItemLoopWhenEstimateUnaffordable(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 250))
	f.addItems(model.SourceEmail, 0, 5)

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionBudgetExhausted, sess.Status)
	// Two items at 100 fit; the third pre-check fails at 50 remaining.
	assert.Equal(t, int64(200), sess.Discovery.UsedCents)
	assert.Equal(t, 2, f.samples.count())
}

func TestWalkerSkipsAlreadyProcessedDays(t *testing.T) {
	f := newFixture(Config{HistoryDays: 2, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	sess := runningSession(1, 10_000)
	f.addSession(sess)

	today := model.Day(time.Now())
	for daysAgo := 0; daysAgo < 2; daysAgo++ {
		for _, st := range model.SourceTypes {
			require.NoError(t, f.ledger.MarkProcessed(context.Background(), &model.ProgressEntry{
				UserID:        sess.UserID,
				SessionID:     sess.ID,
				SourceType:    st,
				ProcessedDate: today.AddDate(0, 0, -daysAgo),
			}))
		}
	}

	f.runSync(t, 1)

	got := f.sessions.get(1)
	assert.Equal(t, model.SessionComplete, got.Status)
	assert.Equal(t, int64(0), got.Discovery.UsedCents)
	assert.Equal(t, 0, f.samples.count())
	// Processed days are skipped before any fetch happens.
	assert.Equal(t, 0, f.source.calls)
}

func TestWalkerRerunAddsNothing(t *testing.T) {
	f := newFixture(Config{HistoryDays: 2, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))
	f.addItems(model.SourceEmail, 0, 2)

	f.runSync(t, 1)
	first := f.sessions.get(1)
	require.Equal(t, model.SessionComplete, first.Status)

	// Force the session back to running and walk again: the ledger makes the
	// second pass a no-op.
	_, err := f.sessions.UpdateStatus(context.Background(), 1, model.SessionRunning, "test rerun")
	require.NoError(t, err)
	f.runSync(t, 1)

	second := f.sessions.get(1)
	assert.Equal(t, model.SessionComplete, second.Status)
	assert.Equal(t, first.Discovery.UsedCents, second.Discovery.UsedCents)
	assert.Equal(t, 2, f.samples.count())
	assert.Equal(t, 4, f.ledger.size())
}

func TestWalkerCancelMidDayLeavesDayUnmarked(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))
	f.addItems(model.SourceEmail, 0, 3)

	extracted := 0
	f.extractor.fn = func(item model.SourceItem) (*model.ExtractionResult, error) {
		extracted++
		if extracted == 1 {
			// Pause arrives while the first item is in flight.
			f.engine.Cancel(1)
		}
		return entityResult(100, 90), nil
	}

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	// The walker stops without transitioning; the pause flow owns the status.
	assert.Equal(t, model.SessionRunning, sess.Status)
	assert.Equal(t, int64(0), sess.Discovery.UsedCents)
	assert.Equal(t, 0, f.ledger.size())
	assert.Equal(t, 0, f.samples.count())
	// The in-flight item finished, nothing further started.
	assert.Equal(t, 1, extracted)
}

func TestWalkerStopsWhenStatusFlipsBetweenDays(t *testing.T) {
	f := newFixture(Config{HistoryDays: 5, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))

	_, err := f.sessions.UpdateStatus(context.Background(), 1, model.SessionPaused, "paused by user")
	require.NoError(t, err)

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionPaused, sess.Status)
	assert.Equal(t, 0, f.source.calls)
}

func TestWalkerPausesWhenFetchKeepsFailing(t *testing.T) {
	f := newFixture(Config{HistoryDays: 3, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60, FetchRetries: 0})
	f.addSession(runningSession(1, 10_000))
	f.source.err = fmt.Errorf("source service 5xx: 503")
	f.source.failures = 100

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionPaused, sess.Status)
	assert.Contains(t, sess.StatusReason, "walker error")
	assert.Equal(t, 0, f.ledger.size())
	assert.Equal(t, int64(0), sess.Discovery.UsedCents)
}

func TestWalkerRetriesTransientFetchFailure(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60, FetchRetries: 1})
	f.addSession(runningSession(1, 10_000))
	f.addItems(model.SourceEmail, 0, 1)
	f.source.err = fmt.Errorf("source service 5xx: 502")
	f.source.failures = 1

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, 1, f.samples.count())
}

func TestWalkerExtractionFailureSkipsItemOnly(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))
	f.addItems(model.SourceEmail, 0, 2)

	calls := 0
	f.extractor.fn = func(item model.SourceItem) (*model.ExtractionResult, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("extraction service 5xx: 500")
		}
		return entityResult(100, 90), nil
	}

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionComplete, sess.Status)
	assert.Equal(t, 1, f.samples.count())
	assert.Equal(t, 1, f.escalator.procErrors)
	// Only the successful item was billed.
	assert.Equal(t, int64(100), sess.Discovery.UsedCents)
	// The failed item must not count toward the day's discovered items.
	entry := f.ledger.get(7, model.SourceEmail, model.Day(time.Now()))
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.ItemsFound)
}

func TestWalkerEscalatesLowConfidenceSamples(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))
	f.addItems(model.SourceEmail, 0, 1)
	f.extractor.fn = func(item model.SourceItem) (*model.ExtractionResult, error) {
		return entityResult(100, 30), nil
	}

	f.runSync(t, 1)

	assert.Equal(t, 1, f.escalator.lowConf)
	assert.Equal(t, 1, f.samples.count())
}

func TestWalkerPersistFailureLeavesDayUnmarked(t *testing.T) {
	f := newFixture(Config{HistoryDays: 2, PerDayItemCap: 50, ItemCostEstimateCents: 100, ConfidenceFloor: 60})
	f.addSession(runningSession(1, 10_000))
	f.addItems(model.SourceEmail, 0, 1)
	f.samples.failErr = fmt.Errorf("connection refused")

	f.runSync(t, 1)

	sess := f.sessions.get(1)
	assert.Equal(t, model.SessionPaused, sess.Status)
	assert.Equal(t, 0, f.ledger.size())
	assert.Equal(t, int64(0), sess.Discovery.UsedCents)
}

func TestLaunchRefusesSecondWalker(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1})
	sess := runningSession(1, 1000)
	f.addSession(sess)

	ctx, ok := f.engine.registry.acquire(1)
	require.True(t, ok)
	defer f.engine.registry.release(1)
	_ = ctx

	// A second launch for the same session is a no-op.
	f.engine.Launch(sess)
	assert.True(t, f.engine.Registry().Active(1))

	_, ok = f.engine.registry.acquire(1)
	assert.False(t, ok)
}

func TestLaunchSkipsNonRunningSession(t *testing.T) {
	f := newFixture(Config{HistoryDays: 1})
	sess := runningSession(1, 1000)
	sess.Status = model.SessionPaused
	f.addSession(sess)

	f.engine.Launch(sess)
	assert.False(t, f.engine.Registry().Active(1))
}
