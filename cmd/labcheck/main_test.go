package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"labcheck/app"
	"labcheck/rules"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf("database: {path: %q}\nlog: {level: error}\nml: {epochs: 3, seed: 11}\n",
		filepath.Join(dir, "data", "labcheck.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckCommand(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "check", "-c", cfg,
		"--value", "Amylase=200", "--value", "Lipase=200",
		"--value", "CRP=20", "--value", "WBC=12000")
	require.NoError(t, err)
	assert.Contains(t, out, "- Amylase High\n")
	assert.Contains(t, out, "- High WBC\n")
	assert.True(t, strings.HasSuffix(out, rules.VerdictPancreatitis.Message()+"\n"), out)

	out, err = run(t, "check", "-c", cfg, "-o", "json", "--value", "Amylase=111")
	require.NoError(t, err)
	var result rules.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, []string{"Amylase High"}, result.Findings)
	assert.Equal(t, rules.VerdictAbnormal, result.Verdict)
}

func TestCheckCommandRejectsBadInput(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "check", "-c", cfg, "--value", "Amylase")
	assert.Error(t, err)
	_, err = run(t, "check", "-c", cfg, "--value", "Glucose=5")
	assert.Error(t, err)
	_, err = run(t, "check", "-c", cfg, "--value", "Amylase=lots")
	assert.Error(t, err)
	_, err = run(t, "check", "-c", cfg, "-o", "xml")
	assert.Error(t, err)
	_, err = run(t, "check", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPredictWithoutModel(t *testing.T) {
	_, err := run(t, "predict", "-c", writeConfig(t), "--value", "Amylase=200")
	require.Error(t, err)
	assert.Equal(t, app.StatusNoModel, err.Error())
}

func TestTrainPredictHistory(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "history", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, "no training runs recorded\n", out)

	out, err = run(t, "train", "-c", cfg)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, app.StatusPreparing, lines[0])
	assert.Equal(t, app.StatusTrained, lines[len(lines)-1])
	assert.Contains(t, out, "Epoch 3 | loss: ")

	out, err = run(t, "predict", "-c", cfg,
		"--value", "Amylase=200", "--value", "Lipase=200")
	require.NoError(t, err)
	assert.Regexp(t, `^ML Risk Score: \d+\.\d%\n$`, out)

	out, err = run(t, "predict", "-c", cfg, "-o", "json")
	require.NoError(t, err)
	var pred map[string]float64
	require.NoError(t, json.Unmarshal([]byte(out), &pred))
	assert.GreaterOrEqual(t, pred["probability"], 0.0)
	assert.LessOrEqual(t, pred["probability"], 1.0)

	out, err = run(t, "history", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "TRAINED AT")
	assert.Contains(t, out, "labcheck-pancreatitis-model")

	out, err = run(t, "history", "-c", cfg, "-o", "json")
	require.NoError(t, err)
	var logs []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	require.Len(t, logs, 1)
}

func TestApplyLogLevel(t *testing.T) {
	rt, err := newRuntime(&rootOptions{configPath: writeConfig(t), output: "text"}, false)
	require.NoError(t, err)
	defer rt.Close()

	require.Equal(t, zapcore.ErrorLevel, rt.level.Level())
	applyLogLevel(rt, "debug")
	assert.Equal(t, zapcore.DebugLevel, rt.level.Level())
	applyLogLevel(rt, "shouting")
	assert.Equal(t, zapcore.DebugLevel, rt.level.Level())
}

func TestServeStopsOnCancel(t *testing.T) {
	rt, err := newRuntime(&rootOptions{configPath: writeConfig(t), output: "text"}, false)
	require.NoError(t, err)
	defer rt.Close()
	rt.cfg.Http.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, rt) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
