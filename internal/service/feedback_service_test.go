package service

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
	"graphminer/internal/repository"
)

type memSampleStore struct {
	mu       sync.Mutex
	sessions *memSessionStore
	byID     map[string]*model.Sample
	conflict bool
}

func newMemSampleStore(sessions *memSessionStore) *memSampleStore {
	return &memSampleStore{sessions: sessions, byID: make(map[string]*model.Sample)}
}

func (m *memSampleStore) add(sample *model.Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[sample.ID] = sample
}

func (m *memSampleStore) FindByID(ctx context.Context, id string) (*model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sample, ok := m.byID[id]
	if !ok {
		return nil, model.ErrSampleNotFound
	}
	cp := *sample
	return &cp, nil
}

// SubmitFeedback mirrors the durable store's contract: exactly-once per
// sample, debit and counters atomic with the verdict.
func (m *memSampleStore) SubmitFeedback(ctx context.Context, sampleID string, isCorrect bool, correctedLabel, notes *string, reviewCostCents int64) (*model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sample, ok := m.byID[sampleID]
	if !ok {
		return nil, model.ErrSampleNotFound
	}
	if sample.Status != model.SamplePending {
		return nil, model.ErrAlreadyReviewed
	}

	m.sessions.mu.Lock()
	sess := m.sessions.byID[sample.SessionID]
	if sess.Training.UsedCents+reviewCostCents > sess.Training.TotalCents {
		m.sessions.mu.Unlock()
		return nil, model.ErrBudgetExhausted
	}
	sess.Training.UsedCents += reviewCostCents
	sess.FeedbackReceived++
	if isCorrect {
		sess.CorrectCount++
	}
	sess.Accuracy = float64(sess.CorrectCount) / float64(sess.FeedbackReceived) * 100
	m.sessions.mu.Unlock()

	sample.Status = model.SampleReviewed
	sample.Feedback = &model.SampleFeedback{
		IsCorrect:      isCorrect,
		CorrectedLabel: correctedLabel,
		Notes:          notes,
		FeedbackAt:     time.Now(),
	}
	cp := *sample
	return &cp, nil
}

func (m *memSampleStore) Skip(ctx context.Context, sampleID string) (*model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sample, ok := m.byID[sampleID]
	if !ok {
		return nil, model.ErrSampleNotFound
	}
	if sample.Status != model.SamplePending {
		return nil, model.ErrAlreadyReviewed
	}
	sample.Status = model.SampleSkipped
	cp := *sample
	return &cp, nil
}

func (m *memSampleStore) NextPending(ctx context.Context, sessionID int64) (*model.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest *model.Sample
	for _, s := range m.byID {
		if s.SessionID != sessionID || s.Status != model.SamplePending {
			continue
		}
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return nil, model.ErrSampleNotFound
	}
	cp := *oldest
	return &cp, nil
}

func (m *memSampleStore) List(ctx context.Context, sessionID int64, filter repository.SampleFilter) ([]*model.Sample, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Sample
	for _, s := range m.byID {
		if s.SessionID != sessionID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *memSampleStore) HasConflictingReview(ctx context.Context, sessionID int64, contentText, predictionLabel string, isCorrect bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conflict, nil
}

type memExceptionStore struct {
	mu      sync.Mutex
	nextID  int64
	created []*model.Exception
}

func (m *memExceptionStore) Create(ctx context.Context, exc *model.Exception) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	exc.ID = m.nextID
	m.created = append(m.created, exc)
	return nil
}

func (m *memExceptionStore) FindByID(ctx context.Context, id int64) (*model.Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, exc := range m.created {
		if exc.ID == id {
			return exc, nil
		}
	}
	return nil, model.ErrExceptionNotFound
}

func (m *memExceptionStore) List(ctx context.Context, sessionID int64, status model.ExceptionStatus) ([]*model.Exception, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Exception
	for _, exc := range m.created {
		if exc.SessionID == sessionID && (status == "" || exc.Status == status) {
			out = append(out, exc)
		}
	}
	return out, nil
}

func (m *memExceptionStore) UpdateStatus(ctx context.Context, id int64, status model.ExceptionStatus) (*model.Exception, error) {
	exc, err := m.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	exc.Status = status
	return exc, nil
}

type memPublisher struct {
	mu        sync.Mutex
	published []string
	failErr   error
}

func (p *memPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return p.failErr
	}
	p.published = append(p.published, routingKey)
	return nil
}

type feedbackFixture struct {
	sessions   *memSessionStore
	samples    *memSampleStore
	exceptions *memExceptionStore
	publisher  *memPublisher
	svc        *FeedbackService
}

func newFeedbackFixture(minFeedback int) *feedbackFixture {
	sessions := newMemSessionStore()
	samples := newMemSampleStore(sessions)
	exceptions := &memExceptionStore{}
	publisher := &memPublisher{}
	escalation := NewEscalationService(exceptions, 60, zap.NewNop())
	svc := NewFeedbackService(samples, sessions, escalation, publisher, 5, minFeedback, zap.NewNop())
	return &feedbackFixture{
		sessions:   sessions,
		samples:    samples,
		exceptions: exceptions,
		publisher:  publisher,
		svc:        svc,
	}
}

func (f *feedbackFixture) seedSession(mode model.SessionMode, trainingTotal int64) *model.Session {
	sess, _ := f.sessions.Create(context.Background(), 7, mode, 1000, trainingTotal)
	return sess
}

func (f *feedbackFixture) seedSamples(sessionID int64, n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("sample-%d", i)
		f.samples.add(&model.Sample{
			ID:        id,
			SessionID: sessionID,
			Type:      model.SampleEntity,
			Content:   model.SampleContent{Text: fmt.Sprintf("entity %d", i)},
			Prediction: model.SamplePrediction{
				Label:      "organization",
				Confidence: 85,
			},
			Status:    model.SamplePending,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
		ids = append(ids, id)
	}
	return ids
}

func TestSubmitRecordsVerdictAndAccuracy(t *testing.T) {
	f := newFeedbackFixture(50)
	sess := f.seedSession(model.ModeCollectFeedback, 1000)
	ids := f.seedSamples(sess.ID, 10)

	for i, id := range ids {
		_, err := f.svc.Submit(context.Background(), id, i < 7, nil, nil)
		require.NoError(t, err)
	}

	got, err := f.sessions.FindByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.FeedbackReceived)
	assert.Equal(t, 7, got.CorrectCount)
	assert.InDelta(t, 70.0, got.Accuracy, 0.001)
	// 10 reviews at 5 cents each.
	assert.Equal(t, int64(50), got.Training.UsedCents)
}

func TestSubmitTwiceChangesNothing(t *testing.T) {
	f := newFeedbackFixture(50)
	sess := f.seedSession(model.ModeCollectFeedback, 1000)
	ids := f.seedSamples(sess.ID, 1)

	_, err := f.svc.Submit(context.Background(), ids[0], true, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), ids[0], false, nil, nil)
	require.ErrorIs(t, err, model.ErrAlreadyReviewed)

	got, err := f.sessions.FindByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FeedbackReceived)
	assert.Equal(t, 1, got.CorrectCount)
	assert.Equal(t, int64(5), got.Training.UsedCents)
}

func TestSubmitBlockedByTrainingBudget(t *testing.T) {
	f := newFeedbackFixture(50)
	sess := f.seedSession(model.ModeCollectFeedback, 12) // room for two reviews
	ids := f.seedSamples(sess.ID, 3)

	_, err := f.svc.Submit(context.Background(), ids[0], true, nil, nil)
	require.NoError(t, err)
	_, err = f.svc.Submit(context.Background(), ids[1], true, nil, nil)
	require.NoError(t, err)

	_, err = f.svc.Submit(context.Background(), ids[2], true, nil, nil)
	require.ErrorIs(t, err, model.ErrBudgetExhausted)

	// The blocked sample stays pending for after the top-up.
	sample, err := f.samples.FindByID(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, model.SamplePending, sample.Status)
}

func TestAutoTrainGateFiresExactlyAtThreshold(t *testing.T) {
	f := newFeedbackFixture(3)
	sess := f.seedSession(model.ModeAutoTrain, 1000)
	ids := f.seedSamples(sess.ID, 5)

	for _, id := range ids {
		_, err := f.svc.Submit(context.Background(), id, true, nil, nil)
		require.NoError(t, err)
	}

	// Fired on the crossing submission only, not on every one after.
	assert.Equal(t, []string{"session.autotrain_ready"}, f.publisher.published)
}

func TestAutoTrainGateIgnoresCollectFeedbackMode(t *testing.T) {
	f := newFeedbackFixture(2)
	sess := f.seedSession(model.ModeCollectFeedback, 1000)
	ids := f.seedSamples(sess.ID, 3)

	for _, id := range ids {
		_, err := f.svc.Submit(context.Background(), id, true, nil, nil)
		require.NoError(t, err)
	}

	assert.Empty(t, f.publisher.published)
}

func TestPublishFailureDoesNotFailSubmit(t *testing.T) {
	f := newFeedbackFixture(1)
	sess := f.seedSession(model.ModeAutoTrain, 1000)
	ids := f.seedSamples(sess.ID, 1)
	f.publisher.failErr = fmt.Errorf("channel closed")

	_, err := f.svc.Submit(context.Background(), ids[0], true, nil, nil)
	require.NoError(t, err)

	got, err := f.sessions.FindByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.FeedbackReceived)
}

func TestSubmitConflictEscalates(t *testing.T) {
	f := newFeedbackFixture(50)
	sess := f.seedSession(model.ModeCollectFeedback, 1000)
	ids := f.seedSamples(sess.ID, 1)
	f.samples.conflict = true

	_, err := f.svc.Submit(context.Background(), ids[0], false, nil, nil)
	require.NoError(t, err)

	require.Len(t, f.exceptions.created, 1)
	exc := f.exceptions.created[0]
	assert.Equal(t, model.ExceptionConflictingLabels, exc.Type)
	assert.Equal(t, model.SeverityHigh, exc.Severity)
	require.NotNil(t, exc.SampleID)
	assert.Equal(t, ids[0], *exc.SampleID)
}

func TestSkipCostsNothing(t *testing.T) {
	f := newFeedbackFixture(2)
	sess := f.seedSession(model.ModeAutoTrain, 1000)
	ids := f.seedSamples(sess.ID, 2)

	sample, err := f.svc.Skip(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.SampleSkipped, sample.Status)

	got, err := f.sessions.FindByID(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FeedbackReceived)
	assert.Equal(t, int64(0), got.Training.UsedCents)

	// Skips never count toward the auto-train gate.
	_, err = f.svc.Submit(context.Background(), ids[1], true, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, f.publisher.published)
}

func TestNextPendingReturnsOldest(t *testing.T) {
	f := newFeedbackFixture(50)
	sess := f.seedSession(model.ModeCollectFeedback, 1000)
	ids := f.seedSamples(sess.ID, 3)

	next, err := f.svc.NextPending(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[0], next.ID)

	_, err = f.svc.Submit(context.Background(), ids[0], true, nil, nil)
	require.NoError(t, err)

	next, err = f.svc.NextPending(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ids[1], next.ID)
}

func TestEscalationLowConfidenceSeverity(t *testing.T) {
	exceptions := &memExceptionStore{}
	escalation := NewEscalationService(exceptions, 60, zap.NewNop())
	sess := &model.Session{ID: 1, UserID: 7}

	escalation.EscalateLowConfidence(context.Background(), sess, &model.Sample{
		ID:         "s1",
		Prediction: model.SamplePrediction{Label: "person", Confidence: 45},
	})
	escalation.EscalateLowConfidence(context.Background(), sess, &model.Sample{
		ID:         "s2",
		Prediction: model.SamplePrediction{Label: "person", Confidence: 12},
	})

	require.Len(t, exceptions.created, 2)
	assert.Equal(t, model.SeverityMedium, exceptions.created[0].Severity)
	assert.Equal(t, model.SeverityHigh, exceptions.created[1].Severity)
}
