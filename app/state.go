// Package app holds the state of one lab-checker session and the actions the
// user can trigger on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"labcheck/db"
	"labcheck/labs"
	"labcheck/ml"
	"labcheck/monitoring"
	"labcheck/risk"
	"labcheck/rules"
)

const (
	StatusPreparing = "Preparing data..."
	StatusCreating  = "Creating model..."
	StatusTraining  = "Training..."
	StatusSaving    = "Saving model..."
	StatusTrained   = "✅ Trained & Saved locally."
	StatusNoModel   = "No model loaded. Train demo model first."
)

var (
	ErrNoModel            = errors.New("no model loaded")
	ErrTrainingInProgress = errors.New("training already in progress")
)

// EpochStatus formats the status line shown after each epoch. epoch is
// 1-based.
func EpochStatus(epoch int, logs ml.EpochLogs) string {
	return fmt.Sprintf("Epoch %d | loss: %.4f | acc: %.3f", epoch, logs.Loss, logs.Accuracy)
}

// HistoryStore records completed trainings and served predictions.
type HistoryStore interface {
	SaveTrainingLog(ctx context.Context, log db.TrainingLog) error
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
	SavePrediction(ctx context.Context, probability float64) error
}

// Progress receives training progress, typically the websocket hub.
type Progress interface {
	PublishEpoch(epoch int, loss, accuracy float64) error
	PublishDone(epochs int, loss, accuracy float64) error
	PublishFailed(cause error) error
}

type Options struct {
	Epochs    int
	ModelName string
	History   HistoryStore
	Progress  Progress
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics
}

type State struct {
	adapter *risk.Adapter
	opts    Options
	logger  *zap.Logger

	background sync.WaitGroup

	mu          sync.Mutex
	values      labs.Values
	model       *ml.Network
	training    bool
	status      string
	result      *rules.Result
	probability *float64
}

func NewState(adapter *risk.Adapter, opts Options) *State {
	if opts.Epochs <= 0 {
		opts.Epochs = risk.DefaultEpochs
	}
	if opts.ModelName == "" {
		opts.ModelName = adapter.ModelKey()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &State{
		adapter: adapter,
		opts:    opts,
		logger:  opts.Logger.Named("app"),
		values:  labs.Values{},
	}
}

// FieldView is one input of the form.
type FieldView struct {
	Test        labs.Test       `json:"test"`
	Value       string          `json:"value"`
	Set         bool            `json:"set"`
	State       labs.FieldState `json:"state"`
	Placeholder string          `json:"placeholder"`
	BorderClass string          `json:"border_class"`
}

type Snapshot struct {
	Fields      []FieldView   `json:"fields"`
	Status      string        `json:"status"`
	Training    bool          `json:"training"`
	ModelLoaded bool          `json:"model_loaded"`
	Result      *rules.Result `json:"result,omitempty"`
	Probability *float64      `json:"probability,omitempty"`
}

// SetValue records the raw input for a test. Empty input clears the value.
func (s *State) SetValue(name, input string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Set(name, input)
}

// SetValues applies several inputs at once. If any of them is rejected none
// is applied.
func (s *State) SetValues(inputs map[string]string) error {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.values.Clone()
	for _, name := range names {
		if err := staged.Set(name, inputs[name]); err != nil {
			return err
		}
	}
	s.values = staged
	return nil
}

// Values returns a copy of the entered values.
func (s *State) Values() labs.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Clone()
}

func (s *State) Fields() []FieldView {
	s.mu.Lock()
	values := s.values.Clone()
	s.mu.Unlock()
	return fieldViews(values)
}

func fieldViews(values labs.Values) []FieldView {
	tests := labs.Tests()
	views := make([]FieldView, len(tests))
	for i, t := range tests {
		state := labs.Classify(t, values)
		view := FieldView{
			Test:        t,
			State:       state,
			Placeholder: t.Placeholder(),
			BorderClass: state.BorderClass(),
		}
		if x, ok := values[t.Name]; ok {
			view.Value = strconv.FormatFloat(x, 'f', -1, 64)
			view.Set = true
		}
		views[i] = view
	}
	return views
}

// RuleCheck evaluates the current values and keeps the result for display.
func (s *State) RuleCheck() rules.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := rules.Evaluate(s.values)
	s.result = &result
	s.opts.Metrics.RuleCheck(result.Verdict.String())
	return result
}

func (s *State) setStatus(status string, onProgress func(string)) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	if onProgress != nil {
		onProgress(status)
	}
}

// TrainDemo trains a fresh model on the bundled demo corpus, saves it and
// installs it. onProgress, if set, sees every status line. Only one training
// runs at a time.
func (s *State) TrainDemo(ctx context.Context, onProgress func(status string)) error {
	if err := s.claimTraining(); err != nil {
		return err
	}
	return s.runTraining(ctx, onProgress)
}

// StartTrainDemo claims the training slot and runs TrainDemo in the
// background. The returned channel receives the outcome and is then closed.
func (s *State) StartTrainDemo(ctx context.Context, onProgress func(status string)) (<-chan error, error) {
	if err := s.claimTraining(); err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer close(done)
		done <- s.runTraining(ctx, onProgress)
	}()
	return done, nil
}

// Wait blocks until every training started by StartTrainDemo has finished.
func (s *State) Wait() {
	s.background.Wait()
}

func (s *State) claimTraining() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.training {
		return ErrTrainingInProgress
	}
	s.training = true
	return nil
}

func (s *State) runTraining(ctx context.Context, onProgress func(string)) error {
	defer func() {
		s.mu.Lock()
		s.training = false
		s.mu.Unlock()
	}()

	err := s.trainDemo(ctx, onProgress)
	if err != nil {
		s.setStatus("Training failed: "+err.Error(), onProgress)
		s.publish(func(p Progress) error { return p.PublishFailed(err) })
		s.logger.Error("demo training failed", zap.Error(err))
	}
	return err
}

func (s *State) trainDemo(ctx context.Context, onProgress func(string)) error {
	s.setStatus(StatusPreparing, onProgress)
	xs, ys, err := s.adapter.DemoTrainingSet()
	if err != nil {
		return fmt.Errorf("prepare data: %w", err)
	}

	s.setStatus(StatusCreating, onProgress)
	model := s.adapter.CreateModel()

	s.setStatus(StatusTraining, onProgress)
	var last ml.EpochLogs
	err = s.adapter.TrainModel(ctx, model, xs, ys, risk.TrainConfig{
		Epochs: s.opts.Epochs,
		OnEpochEnd: func(epoch int, logs ml.EpochLogs) error {
			last = logs
			s.setStatus(EpochStatus(epoch+1, logs), onProgress)
			s.publish(func(p Progress) error { return p.PublishEpoch(epoch+1, logs.Loss, logs.Accuracy) })
			return nil
		},
	})
	if err != nil {
		return err
	}

	s.setStatus(StatusSaving, onProgress)
	if err := s.adapter.SaveLocal(ctx, model); err != nil {
		return err
	}

	report, err := ml.Evaluate(model, xs, ys)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	s.mu.Lock()
	s.model = model
	s.probability = nil
	s.mu.Unlock()
	s.setStatus(StatusTrained, onProgress)
	s.publish(func(p Progress) error { return p.PublishDone(s.opts.Epochs, last.Loss, last.Accuracy) })

	if s.opts.History != nil {
		entry := db.TrainingLog{
			ModelName:  s.opts.ModelName,
			Epochs:     s.opts.Epochs,
			Loss:       last.Loss,
			Accuracy:   report.Accuracy,
			Precision:  report.Precision,
			Recall:     report.Recall,
			DataPoints: len(xs),
		}
		if err := s.opts.History.SaveTrainingLog(ctx, entry); err != nil {
			s.logger.Warn("failed to record training log", zap.Error(err))
		}
	}
	return nil
}

func (s *State) publish(send func(Progress) error) {
	if s.opts.Progress == nil {
		return
	}
	if err := send(s.opts.Progress); err != nil {
		s.logger.Warn("failed to publish training progress", zap.Error(err))
	}
}

// Predict scores the current values with the loaded model. Missing values are
// fed as 0.
func (s *State) Predict(ctx context.Context) (float64, error) {
	s.mu.Lock()
	model := s.model
	values := s.values.Clone()
	if model == nil {
		s.status = StatusNoModel
	}
	s.mu.Unlock()
	if model == nil {
		return 0, ErrNoModel
	}

	p, err := s.adapter.PredictProb(ctx, model, s.adapter.FeatureRowOf(values))
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.probability = &p
	s.mu.Unlock()

	if s.opts.History != nil {
		if err := s.opts.History.SavePrediction(ctx, p); err != nil {
			s.logger.Warn("failed to record prediction", zap.Error(err))
		}
	}
	return p, nil
}

// Restore installs a previously saved model, if one exists.
func (s *State) Restore(ctx context.Context) (bool, error) {
	model, found, err := s.adapter.LoadLocalIfAny(ctx)
	if err != nil || !found {
		return false, err
	}
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
	return true, nil
}

func (s *State) TrainingHistory(ctx context.Context, limit int) ([]db.TrainingLog, error) {
	if s.opts.History == nil {
		return []db.TrainingLog{}, nil
	}
	return s.opts.History.LoadTrainingLog(ctx, limit)
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Fields:      fieldViews(s.values),
		Status:      s.status,
		Training:    s.training,
		ModelLoaded: s.model != nil,
	}
	if s.result != nil {
		result := *s.result
		result.Findings = append([]string(nil), result.Findings...)
		snap.Result = &result
	}
	if s.probability != nil {
		p := *s.probability
		snap.Probability = &p
	}
	return snap
}
