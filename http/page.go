package http

import (
	"bytes"
	"errors"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"labcheck/app"
)

const (
	actionCheck   = "check"
	actionTrain   = "train"
	actionPredict = "predict"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"percent": formatPercent,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Pancreatitis Lab Checker + ML</title>
{{- if .Snapshot.Training}}
<meta http-equiv="refresh" content="1">
{{- end}}
<style>
body{font-family:sans-serif;background:#f3f4f6;margin:0;padding:24px}
.card{background:#fff;border-radius:12px;max-width:960px;margin:0 auto;padding:32px}
h1{color:#4338ca;text-align:center}
.grid{display:grid;grid-template-columns:1fr 1fr;gap:16px}
label{font-size:12px;display:block;margin-bottom:4px}
input{width:100%;padding:8px;border:2px solid;border-radius:6px;box-sizing:border-box}
.border-gray-300{border-color:#d1d5db}.border-amber-500{border-color:#f59e0b}
.border-red-600{border-color:#dc2626}.border-green-600{border-color:#16a34a}
.actions{display:grid;grid-template-columns:1fr 1fr 1fr;gap:12px;margin-top:24px}
button{padding:12px;border:0;border-radius:8px;color:#fff;font-weight:600}
.check{background:#4f46e5}.train{background:#059669}.predict{background:#c026d3}
.status{margin-top:16px;font-size:14px;color:#4b5563}
.result-bad{margin-top:16px;padding:16px;border-radius:8px;background:#fef2f2;color:#991b1b}
.result-good{margin-top:16px;padding:16px;border-radius:8px;background:#f0fdf4;color:#166534}
.score{margin-top:16px;padding:16px;border-radius:8px;background:#eff6ff;color:#1e40af;font-weight:600}
.error{margin-top:16px;color:#b91c1c}
.disclaimer{margin-top:24px;font-size:12px;color:#6b7280;text-align:center}
</style>
</head>
<body>
<div class="card">
<h1>🧪 Pancreatitis Lab Checker + ML</h1>
<form method="post" action="/form">
<div class="grid">
{{- range .Snapshot.Fields}}
<div>
<label title="{{.Test.Description}}">{{.Test.Name}} ℹ️</label>
<input class="{{.BorderClass}}" type="number" step="any" name="{{.Test.Name}}" value="{{.Value}}" placeholder="{{.Placeholder}}">
</div>
{{- end}}
</div>
<div class="actions">
<button class="check" name="action" value="check">Rule-based Check</button>
<button class="train" name="action" value="train"{{if .Snapshot.Training}} disabled{{end}}>{{if .Snapshot.Training}}Training...{{else}}Train Demo Model{{end}}</button>
<button class="predict" name="action" value="predict">Predict with ML</button>
</div>
</form>
{{- if .Error}}
<div class="error">{{.Error}}</div>
{{- end}}
{{- if .Snapshot.Status}}
<div class="status">{{.Snapshot.Status}}</div>
{{- end}}
{{- with .Snapshot.Result}}
<div class="{{if .Verdict.Alarming}}result-bad{{else}}result-good{{end}}">{{.Message}}</div>
{{- end}}
{{- with .Snapshot.Probability}}
<div class="score">ML Risk Score: {{percent .}}</div>
{{- end}}
<p class="disclaimer">Educational use only. Not a medical device. Always consult a clinician for diagnosis.</p>
</div>
</body>
</html>
`))

type pageData struct {
	Snapshot app.Snapshot
	Error    string
}

func (h *handlers) renderPage(w http.ResponseWriter, code int, errMsg string) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, pageData{Snapshot: h.state.Snapshot(), Error: errMsg}); err != nil {
		h.logger.Error("failed to render page", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func (h *handlers) handlePage(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, http.StatusOK, "")
}

// handleForm 保存表单中的所有值，然后执行 action
func (h *handlers) handleForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderPage(w, http.StatusBadRequest, "invalid form submission")
		return
	}
	inputs := make(map[string]string, len(r.PostForm))
	for name, values := range r.PostForm {
		if name == "action" || len(values) == 0 {
			continue
		}
		inputs[name] = values[0]
	}
	if err := h.state.SetValues(inputs); err != nil {
		h.renderPage(w, statusCode(err), err.Error())
		return
	}

	switch action := r.PostForm.Get("action"); action {
	case "":
	case actionCheck:
		h.state.RuleCheck()
	case actionTrain:
		if _, err := h.state.StartTrainDemo(h.background, nil); err != nil && !errors.Is(err, app.ErrTrainingInProgress) {
			h.renderPage(w, statusCode(err), err.Error())
			return
		}
	case actionPredict:
		// 无模型时状态行已更新
		if _, err := h.state.Predict(r.Context()); err != nil && !errors.Is(err, app.ErrNoModel) {
			h.renderPage(w, statusCode(err), err.Error())
			return
		}
	default:
		h.renderPage(w, http.StatusBadRequest, "unknown action "+action)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
