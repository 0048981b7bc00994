package ml

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func separableSet() ([][]float64, []int) {
	xs := [][]float64{
		{-1.2, -0.8}, {-0.9, -1.1}, {-1.5, -0.4}, {-0.6, -1.3},
		{1.1, 0.9}, {0.8, 1.4}, {1.3, 0.5}, {0.7, 1.0},
	}
	ys := []int{0, 0, 0, 0, 1, 1, 1, 1}
	return xs, ys
}

func TestNewNetworkValidatesTopology(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	_, err := NewNetwork(Topology{Inputs: 0}, rnd)
	assert.Error(t, err)

	_, err = NewNetwork(Topology{Inputs: 3, Hidden: []int{4, 0}}, rnd)
	assert.Error(t, err)

	n, err := NewNetwork(Topology{Inputs: 3, Hidden: []int{4, 2}}, rnd)
	require.NoError(t, err)
	assert.Equal(t, Topology{Inputs: 3, Hidden: []int{4, 2}}, n.Topology())
}

func TestNetworkIDsAreUnique(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	a, err := NewNetwork(Topology{Inputs: 2}, rnd)
	require.NoError(t, err)
	b, err := NewNetwork(Topology{Inputs: 2}, rnd)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPredictIsProbability(t *testing.T) {
	n, err := NewNetwork(Topology{Inputs: 2, Hidden: []int{8}}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	for _, x := range [][]float64{{0, 0}, {100, -100}, {-1000, 1000}} {
		p, err := n.Predict(x)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}

	_, err = n.Predict([]float64{1})
	assert.Error(t, err)
}

func TestFitLearnsSeparableSet(t *testing.T) {
	xs, ys := separableSet()
	n, err := NewNetwork(Topology{Inputs: 2, Hidden: []int{8}}, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	var epochs []int
	var logs []EpochLogs
	err = n.Fit(xs, ys, 150, func(epoch int, l EpochLogs) error {
		epochs = append(epochs, epoch)
		logs = append(logs, l)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, epochs, 150)
	for i, e := range epochs {
		assert.Equal(t, i, e, "epochs must be reported in order")
	}
	assert.Less(t, logs[len(logs)-1].Loss, logs[0].Loss)
	assert.Equal(t, 1.0, logs[len(logs)-1].Accuracy)
	assert.Equal(t, uint64(150), n.Revision())

	report, err := Evaluate(n, xs, ys)
	require.NoError(t, err)
	assert.Equal(t, Report{Accuracy: 1, Precision: 1, Recall: 1}, report)
}

func TestFitCallbackErrorStopsTraining(t *testing.T) {
	xs, ys := separableSet()
	n, err := NewNetwork(Topology{Inputs: 2, Hidden: []int{4}}, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	stop := errors.New("stop")
	calls := 0
	err = n.Fit(xs, ys, 50, func(epoch int, _ EpochLogs) error {
		calls++
		if epoch == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint64(3), n.Revision(), "updates made before the failure are kept")
}

func TestFitRejectsBadInput(t *testing.T) {
	n, err := NewNetwork(Topology{Inputs: 2}, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	assert.Error(t, n.Fit(nil, nil, 10, nil))
	assert.Error(t, n.Fit([][]float64{{1, 2}}, []int{1, 0}, 10, nil))
	assert.Error(t, n.Fit([][]float64{{1, 2}}, []int{1}, 0, nil))
	assert.Error(t, n.Fit([][]float64{{1}}, []int{1}, 10, nil))
	assert.Error(t, n.Fit([][]float64{{1, 2}}, []int{2}, 10, nil))
}

func TestFitDemoCorpus(t *testing.T) {
	normalizer := DemoNormalizer()
	xs, ys, err := BuildTrainingSet(DemoSamples(), normalizer.Keys(), normalizer.Normalize)
	require.NoError(t, err)

	n, err := NewNetwork(Topology{Inputs: len(normalizer.Keys()), Hidden: []int{16, 8}}, rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	var first, last EpochLogs
	require.NoError(t, n.Fit(xs, ys, 60, func(epoch int, l EpochLogs) error {
		if epoch == 0 {
			first = l
		}
		last = l
		return nil
	}))
	assert.Less(t, last.Loss, first.Loss)
	assert.GreaterOrEqual(t, last.Accuracy, 0.9)
}

func TestEvaluateValidatesInput(t *testing.T) {
	n, err := NewNetwork(Topology{Inputs: 2}, rand.New(rand.NewSource(5)))
	require.NoError(t, err)

	_, err = Evaluate(n, nil, nil)
	assert.Error(t, err)
	_, err = Evaluate(n, [][]float64{{1, 2}}, []int{1, 0})
	assert.Error(t, err)
}
