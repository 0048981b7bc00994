package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"labcheck/app"
	"labcheck/labs"
	"labcheck/ml"
	"labcheck/monitoring"
	"labcheck/risk"
)

type handlers struct {
	state      *app.State
	hub        *monitoring.Hub
	metrics    *monitoring.Metrics
	logger     *zap.Logger
	background context.Context
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handlePage)
	mux.HandleFunc("POST /form", h.handleForm)

	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/tests", handleTests)
	mux.HandleFunc("GET /api/values", h.handleValues)
	mux.HandleFunc("PUT /api/values/{name}", h.handleSetValue)
	mux.HandleFunc("POST /api/check", h.handleCheck)
	mux.HandleFunc("POST /api/train", h.handleTrain)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/training/history", h.handleTrainingHistory)

	if h.hub != nil {
		mux.Handle("GET /api/ws/training", h.hub)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleTests(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, labs.Tests())
}

func (h *handlers) handleValues(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state.Fields())
}

type setValueRequest struct {
	// Value is a JSON number, a numeric string, or null/"" to clear.
	Value json.RawMessage `json:"value"`
}

func (req setValueRequest) input() (string, error) {
	raw := strings.TrimSpace(string(req.Value))
	if raw == "" || raw == "null" {
		return "", nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(req.Value, &s); err != nil {
			return "", fmt.Errorf("%w: %v", labs.ErrInvalidValue, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(req.Value, &n); err != nil {
		return "", fmt.Errorf("%w: %v", labs.ErrInvalidValue, err)
	}
	return n.String(), nil
}

func (h *handlers) handleSetValue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req setValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input, err := req.input()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.state.SetValue(name, input); err != nil {
		h.writeError(w, r, err)
		return
	}

	canonical, _ := labs.Resolve(name)
	for _, field := range h.state.Fields() {
		if field.Test.Name == canonical {
			respondJSON(w, http.StatusOK, field)
			return
		}
	}
	writeJSONError(w, http.StatusInternalServerError, "field vanished")
}

func (h *handlers) handleCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state.RuleCheck())
}

func (h *handlers) handleTrain(w http.ResponseWriter, r *http.Request) {
	// 训练不跟随请求上下文，请求结束后继续进行
	if _, err := h.state.StartTrainDemo(h.background, nil); err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": app.StatusPreparing})
}

type predictResponse struct {
	Probability float64 `json:"probability"`
	Percent     string  `json:"percent"`
}

func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	p, err := h.state.Predict(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, predictResponse{Probability: p, Percent: formatPercent(p)})
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.state.Snapshot())
}

func (h *handlers) handleTrainingHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	logs, err := h.state.TrainingHistory(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %w", risk.ErrBackendUnavailable, err))
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// statusCode 错误到HTTP状态码的映射
func statusCode(err error) int {
	switch {
	case errors.Is(err, labs.ErrUnknownTest),
		errors.Is(err, labs.ErrInvalidValue),
		errors.Is(err, ml.ErrMissingFeature):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrTrainingInProgress),
		errors.Is(err, risk.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, app.ErrNoModel):
		return http.StatusPreconditionFailed
	case errors.Is(err, risk.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	msg := err.Error()
	if errors.Is(err, app.ErrNoModel) {
		msg = app.StatusNoModel
	}
	writeJSONError(w, code, msg)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p*100, 'f', 1, 64) + "%"
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
