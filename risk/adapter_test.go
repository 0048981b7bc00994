package risk

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"labcheck/db"
	"labcheck/labs"
	"labcheck/ml"
	"labcheck/monitoring"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string][]byte)}
}

func (s *memoryStore) PutModel(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries[key] = append([]byte(nil), payload...)
	return nil
}

func (s *memoryStore) GetModel(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, false, s.err
	}
	payload, ok := s.entries[key]
	return payload, ok, nil
}

func newTestAdapter(t *testing.T, store ModelStore) *Adapter {
	t.Helper()
	a, err := NewAdapter(store, Config{Seed: 1}, zaptest.NewLogger(t), monitoring.NewMetrics("test", false))
	require.NoError(t, err)
	return a
}

func samplePanel() map[string]float64 {
	v := labs.Values{}
	for name, x := range map[string]float64{
		labs.Amylase: 200, labs.Lipase: 200, labs.CRP: 20, labs.WBC: 12000,
	} {
		if err := v.Put(name, x); err != nil {
			panic(err)
		}
	}
	return labs.FeatureRow(v)
}

func trainDemo(t *testing.T, a *Adapter) *ml.Network {
	t.Helper()
	xs, ys, err := a.DemoTrainingSet()
	require.NoError(t, err)
	model := a.CreateModel()
	require.NoError(t, a.TrainModel(context.Background(), model, xs, ys, TrainConfig{Epochs: 20}))
	return model
}

func TestNewAdapterRequiresStore(t *testing.T) {
	_, err := NewAdapter(nil, Config{}, nil, nil)
	assert.Error(t, err)
}

func TestCreateModelMatchesPanel(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	model := a.CreateModel()
	assert.Equal(t, len(labs.FeatureKeys()), model.Topology().Inputs)
	assert.Equal(t, []int{16, 8}, model.Topology().Hidden)
	assert.Equal(t, labs.FeatureKeys(), a.FeatureKeys())
	assert.Equal(t, DefaultModelKey, a.ModelKey())
}

func TestNormalizeVectorRequiresEveryKey(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	vector, err := a.NormalizeVector(samplePanel())
	require.NoError(t, err)
	assert.Len(t, vector, len(labs.FeatureKeys()))

	_, err = a.NormalizeVector(map[string]float64{labs.Amylase: 1})
	assert.ErrorIs(t, err, ml.ErrMissingFeature)
}

func TestTrainModelRunsEveryEpoch(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	xs, ys, err := a.DemoTrainingSet()
	require.NoError(t, err)

	var seen []int
	model := a.CreateModel()
	err = a.TrainModel(context.Background(), model, xs, ys, TrainConfig{
		OnEpochEnd: func(epoch int, _ ml.EpochLogs) error {
			seen = append(seen, epoch)
			return nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, seen, DefaultEpochs)
	assert.Equal(t, uint64(DefaultEpochs), model.Revision())
}

func TestTrainModelHonoursCancelledContext(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := a.TrainModel(ctx, a.CreateModel(), [][]float64{{0}}, []int{0}, TrainConfig{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReentrantCallsAreRejected(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	xs, ys, err := a.DemoTrainingSet()
	require.NoError(t, err)
	model := a.CreateModel()

	var predictErr, saveErr, loadErr error
	err = a.TrainModel(context.Background(), model, xs, ys, TrainConfig{
		Epochs: 3,
		OnEpochEnd: func(epoch int, _ ml.EpochLogs) error {
			if epoch == 0 {
				_, predictErr = a.PredictProb(context.Background(), model, samplePanel())
				saveErr = a.SaveLocal(context.Background(), model)
				_, _, loadErr = a.LoadLocalIfAny(context.Background())
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.ErrorIs(t, predictErr, ErrBusy)
	assert.ErrorIs(t, saveErr, ErrBusy)
	assert.ErrorIs(t, loadErr, ErrBusy)

	// the guard is released once training returns
	_, err = a.PredictProb(context.Background(), model, samplePanel())
	assert.NoError(t, err)
}

func TestPredictProbIsCachedPerRevision(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	model := trainDemo(t, a)
	ctx := context.Background()

	p1, err := a.PredictProb(ctx, model, samplePanel())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p1, 0.0)
	assert.LessOrEqual(t, p1, 1.0)
	assert.Equal(t, 1, a.cache.Len())

	p2, err := a.PredictProb(ctx, model, samplePanel())
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, 1, a.cache.Len())

	xs, ys, err := a.DemoTrainingSet()
	require.NoError(t, err)
	require.NoError(t, a.TrainModel(ctx, model, xs, ys, TrainConfig{Epochs: 1}))
	_, err = a.PredictProb(ctx, model, samplePanel())
	require.NoError(t, err)
	assert.Equal(t, 2, a.cache.Len(), "a new revision must not reuse cached scores")
}

func TestLoadWithoutSaveIsExplicitAbsence(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	model, found, err := a.LoadLocalIfAny(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, model)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "risk.db"))
	require.NoError(t, err)
	defer store.Close()

	a := newTestAdapter(t, store)
	ctx := context.Background()
	model := trainDemo(t, a)
	require.NoError(t, a.SaveLocal(ctx, model))

	loaded, found, err := a.LoadLocalIfAny(ctx)
	require.NoError(t, err)
	require.True(t, found)

	want, err := a.PredictProb(ctx, model, samplePanel())
	require.NoError(t, err)
	got, err := a.PredictProb(ctx, loaded, samplePanel())
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func TestSaveOverwritesPreviousModel(t *testing.T) {
	store := newMemoryStore()
	a := newTestAdapter(t, store)
	ctx := context.Background()

	require.NoError(t, a.SaveLocal(ctx, a.CreateModel()))
	second := trainDemo(t, a)
	require.NoError(t, a.SaveLocal(ctx, second))
	assert.Len(t, store.entries, 1)

	loaded, found, err := a.LoadLocalIfAny(ctx)
	require.NoError(t, err)
	require.True(t, found)
	want, err := second.Predict(mustVector(t, a))
	require.NoError(t, err)
	got, err := loaded.Predict(mustVector(t, a))
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)
}

func mustVector(t *testing.T, a *Adapter) []float64 {
	vector, err := a.NormalizeVector(samplePanel())
	require.NoError(t, err)
	return vector
}

func TestStoreFailuresAreBackendUnavailable(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("disk full")
	a := newTestAdapter(t, store)
	ctx := context.Background()

	err := a.SaveLocal(ctx, a.CreateModel())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, store.err)

	_, _, err = a.LoadLocalIfAny(ctx)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestCorruptPayloadIsIncompatible(t *testing.T) {
	store := newMemoryStore()
	store.entries[DefaultModelKey] = []byte(`{"format":"something-else"}`)
	a := newTestAdapter(t, store)

	_, _, err := a.LoadLocalIfAny(context.Background())
	assert.ErrorIs(t, err, ml.ErrIncompatibleModel)
}

func TestFeatureRowOfFillsMissing(t *testing.T) {
	a := newTestAdapter(t, newMemoryStore())
	row := a.FeatureRowOf(labs.Values{})
	assert.Len(t, row, len(labs.FeatureKeys()))
	for _, v := range row {
		assert.Zero(t, v)
	}
}
