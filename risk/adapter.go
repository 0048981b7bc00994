// Package risk adapts the ml classifier to the lab panel: it owns the feature
// transform, training, prediction and local persistence of the one model.
package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"labcheck/labs"
	"labcheck/ml"
	"labcheck/monitoring"
)

const (
	DefaultModelKey  = "labcheck-pancreatitis-model"
	DefaultEpochs    = 60
	DefaultCacheSize = 256
)

var (
	// ErrBusy is returned when another adapter call is still in flight.
	ErrBusy = errors.New("risk model busy")
	// ErrBackendUnavailable wraps failures of the model store.
	ErrBackendUnavailable = errors.New("model backend unavailable")
)

// ModelStore persists serialised models under a key.
type ModelStore interface {
	PutModel(ctx context.Context, key string, payload []byte) error
	GetModel(ctx context.Context, key string) ([]byte, bool, error)
}

type Config struct {
	ModelKey  string
	CacheSize int
	// Seed fixes weight initialisation; 0 seeds from the clock.
	Seed   int64
	Hidden []int
}

func (c Config) withDefaults() Config {
	if c.ModelKey == "" {
		c.ModelKey = DefaultModelKey
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	if len(c.Hidden) == 0 {
		c.Hidden = []int{16, 8}
	}
	return c
}

type TrainConfig struct {
	Epochs     int
	OnEpochEnd ml.EpochCallback
}

type Adapter struct {
	store      ModelStore
	normalizer *ml.Normalizer
	cfg        Config
	logger     *zap.Logger
	metrics    *monitoring.Metrics

	// one slot: train, predict, save and load never overlap
	guard chan struct{}
	cache *lru.Cache[string, float64]

	rndMu sync.Mutex
	rnd   *rand.Rand
}

// NewAdapter builds an adapter over store. logger and metrics may be nil.
func NewAdapter(store ModelStore, cfg Config, logger *zap.Logger, metrics *monitoring.Metrics) (*Adapter, error) {
	if store == nil {
		return nil, errors.New("model store required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	cache, err := lru.New[string, float64](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("prediction cache: %w", err)
	}
	return &Adapter{
		store:      store,
		normalizer: ml.DemoNormalizer(),
		cfg:        cfg,
		logger:     logger.Named("risk"),
		metrics:    metrics,
		guard:      make(chan struct{}, 1),
		cache:      cache,
		rnd:        rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (a *Adapter) acquire() error {
	select {
	case a.guard <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

func (a *Adapter) release() { <-a.guard }

// FeatureKeys is the fixed feature order of every vector the adapter builds.
func (a *Adapter) FeatureKeys() []string { return a.normalizer.Keys() }

// ModelKey is the store key the model is saved under.
func (a *Adapter) ModelKey() string { return a.cfg.ModelKey }

// CreateModel returns a fresh, untrained network sized for the lab panel.
func (a *Adapter) CreateModel() *ml.Network {
	a.rndMu.Lock()
	defer a.rndMu.Unlock()
	model, err := ml.NewNetwork(a.topology(), a.rnd)
	if err != nil {
		// topology is built from validated config
		panic(err)
	}
	return model
}

func (a *Adapter) topology() ml.Topology {
	return ml.Topology{Inputs: len(a.normalizer.Keys()), Hidden: a.cfg.Hidden}
}

// NormalizeVector maps a raw feature row to the model input vector.
func (a *Adapter) NormalizeVector(raw map[string]float64) ([]float64, error) {
	return a.normalizer.Normalize(raw)
}

// TrainModel fits model in place. OnEpochEnd runs after every epoch while the
// adapter is held, so calling back into the adapter from it fails with ErrBusy.
func (a *Adapter) TrainModel(ctx context.Context, model *ml.Network, xs [][]float64, ys []int, cfg TrainConfig) error {
	if model == nil {
		return errors.New("nil model")
	}
	if err := a.acquire(); err != nil {
		return err
	}
	defer a.release()
	if err := ctx.Err(); err != nil {
		return err
	}

	epochs := cfg.Epochs
	if epochs <= 0 {
		epochs = DefaultEpochs
	}
	start := time.Now()
	var last ml.EpochLogs
	err := model.Fit(xs, ys, epochs, func(epoch int, logs ml.EpochLogs) error {
		last = logs
		a.metrics.TrainingEpoch(logs.Loss)
		if cfg.OnEpochEnd != nil {
			return cfg.OnEpochEnd(epoch, logs)
		}
		return nil
	})
	if err != nil {
		a.metrics.TrainingRun("failed")
		a.logger.Warn("training failed", zap.Uint64("model", model.ID()), zap.Error(err))
		return err
	}
	a.metrics.TrainingRun("ok")
	a.logger.Info("training finished",
		zap.Uint64("model", model.ID()),
		zap.Int("epochs", epochs),
		zap.Int("samples", len(xs)),
		zap.Float64("loss", last.Loss),
		zap.Float64("accuracy", last.Accuracy),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// PredictProb normalises raw and returns the positive-class probability.
func (a *Adapter) PredictProb(ctx context.Context, model *ml.Network, raw map[string]float64) (float64, error) {
	if model == nil {
		return 0, errors.New("nil model")
	}
	if err := a.acquire(); err != nil {
		return 0, err
	}
	defer a.release()
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	vector, err := a.normalizer.Normalize(raw)
	if err != nil {
		return 0, err
	}
	key := cacheKey(model, vector)
	if p, ok := a.cache.Get(key); ok {
		a.metrics.Prediction(true)
		return p, nil
	}
	p, err := model.Predict(vector)
	if err != nil {
		return 0, err
	}
	a.cache.Add(key, p)
	a.metrics.Prediction(false)
	return p, nil
}

// cacheKey identifies a vector against one generation of one network.
func cacheKey(model *ml.Network, vector []float64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(model.ID(), 36))
	b.WriteByte('.')
	b.WriteString(strconv.FormatUint(model.Revision(), 36))
	for _, v := range vector {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(math.Float64bits(v), 36))
	}
	return b.String()
}

// SaveLocal serialises model under the configured key, replacing any previous
// entry.
func (a *Adapter) SaveLocal(ctx context.Context, model *ml.Network) error {
	if model == nil {
		return errors.New("nil model")
	}
	if err := a.acquire(); err != nil {
		return err
	}
	defer a.release()

	payload, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := a.store.PutModel(ctx, a.cfg.ModelKey, payload); err != nil {
		a.metrics.StoreError("save")
		return fmt.Errorf("%w: save %s: %w", ErrBackendUnavailable, a.cfg.ModelKey, err)
	}
	a.logger.Info("model saved", zap.String("key", a.cfg.ModelKey), zap.Int("bytes", len(payload)))
	return nil
}

// LoadLocalIfAny returns the saved model. found is false, with a nil error,
// when nothing was ever saved.
func (a *Adapter) LoadLocalIfAny(ctx context.Context) (model *ml.Network, found bool, err error) {
	if err := a.acquire(); err != nil {
		return nil, false, err
	}
	defer a.release()

	payload, found, err := a.store.GetModel(ctx, a.cfg.ModelKey)
	if err != nil {
		a.metrics.StoreError("load")
		return nil, false, fmt.Errorf("%w: load %s: %w", ErrBackendUnavailable, a.cfg.ModelKey, err)
	}
	if !found {
		return nil, false, nil
	}
	model, err = ml.UnmarshalNetwork(payload)
	if err != nil {
		return nil, false, err
	}
	if got := model.Topology().Inputs; got != len(a.normalizer.Keys()) {
		return nil, false, fmt.Errorf("%w: model expects %d features, panel has %d",
			ml.ErrIncompatibleModel, got, len(a.normalizer.Keys()))
	}
	a.logger.Info("model loaded", zap.String("key", a.cfg.ModelKey), zap.Uint64("model", model.ID()))
	return model, true, nil
}

// DemoTrainingSet builds the bundled demo corpus in adapter feature order.
// Values absent from a sample are treated as 0.
func (a *Adapter) DemoTrainingSet() ([][]float64, []int, error) {
	return ml.BuildTrainingSet(ml.DemoSamples(), a.normalizer.Keys(), a.normalizer.Normalize)
}

// FeatureRowOf is labs.FeatureRow restricted to the adapter's feature keys.
func (a *Adapter) FeatureRowOf(values labs.Values) map[string]float64 {
	row := labs.FeatureRow(values)
	out := make(map[string]float64, len(a.normalizer.Keys()))
	for _, key := range a.normalizer.Keys() {
		out[key] = row[key]
	}
	return out
}
