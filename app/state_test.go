package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"labcheck/db"
	"labcheck/labs"
	"labcheck/risk"
	"labcheck/rules"
)

type flakyStore struct {
	*db.Store
	mu      sync.Mutex
	failPut bool
}

func (s *flakyStore) PutModel(ctx context.Context, key string, payload []byte) error {
	s.mu.Lock()
	fail := s.failPut
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.Store.PutModel(ctx, key, payload)
}

type recordingProgress struct {
	mu     sync.Mutex
	epochs []int
	done   int
	failed int
}

func (p *recordingProgress) PublishEpoch(epoch int, _, _ float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.epochs = append(p.epochs, epoch)
	return nil
}

func (p *recordingProgress) PublishDone(int, float64, float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	return nil
}

func (p *recordingProgress) PublishFailed(error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	return nil
}

type fixture struct {
	state    *State
	store    *flakyStore
	adapter  *risk.Adapter
	progress *recordingProgress
}

func newFixture(t *testing.T, epochs int) *fixture {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	flaky := &flakyStore{Store: store}
	logger := zaptest.NewLogger(t)
	adapter, err := risk.NewAdapter(flaky, risk.Config{Seed: 7}, logger, nil)
	require.NoError(t, err)

	progress := &recordingProgress{}
	state := NewState(adapter, Options{
		Epochs:   epochs,
		History:  store,
		Progress: progress,
		Logger:   logger,
	})
	return &fixture{state: state, store: flaky, adapter: adapter, progress: progress}
}

func TestSetValueAndFields(t *testing.T) {
	f := newFixture(t, 5)
	require.NoError(t, f.state.SetValue("amylase", "150"))
	require.NoError(t, f.state.SetValue(labs.Calcium, "9"))
	assert.ErrorIs(t, f.state.SetValue("glucose", "1"), labs.ErrUnknownTest)
	assert.ErrorIs(t, f.state.SetValue(labs.Lipase, "abc"), labs.ErrInvalidValue)

	fields := f.state.Fields()
	require.Len(t, fields, len(labs.Tests()))

	byName := make(map[string]FieldView)
	for _, field := range fields {
		byName[field.Test.Name] = field
	}
	assert.Equal(t, "150", byName[labs.Amylase].Value)
	assert.Equal(t, labs.Above, byName[labs.Amylase].State)
	assert.Equal(t, "border-red-600", byName[labs.Amylase].BorderClass)
	assert.Equal(t, labs.Within, byName[labs.Calcium].State)
	assert.False(t, byName[labs.Lipase].Set)
	assert.Equal(t, labs.Unset, byName[labs.Lipase].State)

	require.NoError(t, f.state.SetValue("amylase", ""))
	_, ok := f.state.Values()[labs.Amylase]
	assert.False(t, ok, "empty input clears the value")
}

func TestRuleCheckStoresResult(t *testing.T) {
	f := newFixture(t, 5)
	assert.Nil(t, f.state.Snapshot().Result)

	for name, input := range map[string]string{
		labs.Amylase: "200", labs.Lipase: "200", labs.CRP: "20", labs.WBC: "12000",
	} {
		require.NoError(t, f.state.SetValue(name, input))
	}
	result := f.state.RuleCheck()
	assert.Equal(t, rules.VerdictPancreatitis, result.Verdict)

	snap := f.state.Snapshot()
	require.NotNil(t, snap.Result)
	assert.Equal(t, result, *snap.Result)
}

func TestPredictWithoutModel(t *testing.T) {
	f := newFixture(t, 5)
	_, err := f.state.Predict(context.Background())
	assert.ErrorIs(t, err, ErrNoModel)
	assert.Equal(t, StatusNoModel, f.state.Snapshot().Status)
	assert.Nil(t, f.state.Snapshot().Probability)
}

func TestTrainDemoStatusSequence(t *testing.T) {
	f := newFixture(t, 3)
	var statuses []string
	require.NoError(t, f.state.TrainDemo(context.Background(), func(s string) {
		statuses = append(statuses, s)
	}))

	require.Len(t, statuses, 8)
	assert.Equal(t, []string{StatusPreparing, StatusCreating, StatusTraining}, statuses[:3])
	assert.Regexp(t, `^Epoch 1 \| loss: \d+\.\d{4} \| acc: \d\.\d{3}$`, statuses[3])
	assert.Regexp(t, `^Epoch 3 \| `, statuses[5])
	assert.Equal(t, []string{StatusSaving, StatusTrained}, statuses[6:])

	snap := f.state.Snapshot()
	assert.True(t, snap.ModelLoaded)
	assert.False(t, snap.Training)
	assert.Equal(t, StatusTrained, snap.Status)

	assert.Equal(t, []int{1, 2, 3}, f.progress.epochs)
	assert.Equal(t, 1, f.progress.done)

	history, err := f.state.TrainingHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Epochs)
	assert.Equal(t, risk.DefaultModelKey, history[0].ModelName)
	assert.Equal(t, len(f.mustDemo(t)), history[0].DataPoints)
}

func (f *fixture) mustDemo(t *testing.T) [][]float64 {
	xs, _, err := f.adapter.DemoTrainingSet()
	require.NoError(t, err)
	return xs
}

func TestConcurrentTrainingIsRejected(t *testing.T) {
	f := newFixture(t, 3)
	var nested error
	first := true
	require.NoError(t, f.state.TrainDemo(context.Background(), func(s string) {
		if first && s == StatusTraining {
			first = false
			nested = f.state.TrainDemo(context.Background(), nil)
			assert.True(t, f.state.Snapshot().Training)
		}
	}))
	assert.ErrorIs(t, nested, ErrTrainingInProgress)
}

func TestPredictAfterTraining(t *testing.T) {
	f := newFixture(t, 30)
	require.NoError(t, f.state.TrainDemo(context.Background(), nil))
	require.NoError(t, f.state.SetValue(labs.Amylase, "300"))

	p, err := f.state.Predict(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, p, 0.0)
	assert.LessOrEqual(t, p, 1.0)

	snap := f.state.Snapshot()
	require.NotNil(t, snap.Probability)
	assert.Equal(t, p, *snap.Probability)

	predictions, err := f.store.LoadPredictions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, predictions, 1)
}

func TestSaveFailureKeepsPreviousModel(t *testing.T) {
	f := newFixture(t, 2)
	f.store.failPut = true

	err := f.state.TrainDemo(context.Background(), nil)
	assert.ErrorIs(t, err, risk.ErrBackendUnavailable)

	snap := f.state.Snapshot()
	assert.False(t, snap.ModelLoaded)
	assert.False(t, snap.Training)
	assert.Contains(t, snap.Status, "Training failed")
	assert.Equal(t, 1, f.progress.failed)

	// the flag was reset, so a retry is allowed
	f.store.failPut = false
	assert.NoError(t, f.state.TrainDemo(context.Background(), nil))
}

func TestRestore(t *testing.T) {
	f := newFixture(t, 2)
	found, err := f.state.Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, f.state.TrainDemo(context.Background(), nil))

	other := NewState(f.adapter, Options{})
	found, err = other.Restore(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, other.Snapshot().ModelLoaded)

	history, err := other.TrainingHistory(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStartTrainDemoRunsInBackground(t *testing.T) {
	f := newFixture(t, 3)
	release := make(chan struct{})
	done, err := f.state.StartTrainDemo(context.Background(), func(s string) {
		if s == StatusPreparing {
			<-release
		}
	})
	require.NoError(t, err)

	_, err = f.state.StartTrainDemo(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTrainingInProgress)
	assert.True(t, f.state.Snapshot().Training)

	close(release)
	require.NoError(t, <-done)
	assert.True(t, f.state.Snapshot().ModelLoaded)
}

func TestSetValuesIsAllOrNothing(t *testing.T) {
	f := newFixture(t, 3)
	require.NoError(t, f.state.SetValue(labs.Albumin, "4"))

	err := f.state.SetValues(map[string]string{
		labs.Amylase: "150",
		labs.Lipase:  "200",
		"CRP":        "20",
		"WBC":        "lots",
	})
	require.ErrorIs(t, err, labs.ErrInvalidValue)
	assert.Equal(t, labs.Values{labs.Albumin: 4}, f.state.Values())

	require.NoError(t, f.state.SetValues(map[string]string{
		labs.Amylase: "150",
		labs.Albumin: "",
		"crp":        "20",
	}))
	assert.Equal(t, labs.Values{labs.Amylase: 150, labs.CRP: 20}, f.state.Values())
}

func TestWaitDrainsBackgroundTraining(t *testing.T) {
	f := newFixture(t, 3)
	release := make(chan struct{})
	_, err := f.state.StartTrainDemo(context.Background(), func(s string) {
		if s == StatusPreparing {
			<-release
		}
	})
	require.NoError(t, err)

	waited := make(chan struct{})
	go func() {
		f.state.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while training was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(10 * time.Second):
		t.Fatal("Wait did not return after training finished")
	}
	snap := f.state.Snapshot()
	assert.False(t, snap.Training)
	assert.Equal(t, StatusTrained, snap.Status)
}
