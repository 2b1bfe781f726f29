package report

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/abmarghoub/EduPathInsight/core/explanation"
)

// textData feeds the summary and recommendation templates.
type textData struct {
	StudentID  string
	ModuleID   int64
	Success    float64
	Dropout    float64
	Confidence float64
	Factors    []explanation.Factor
	Positive   []explanation.Factor
	Negative   []explanation.Factor
	Factor     explanation.Factor
}

var texts = template.Must(template.New("report").Funcs(template.FuncMap{
	"pct":   func(v float64) string { return fmt.Sprintf("%.1f", v*100) },
	"names": names,
	"top":   explanation.Top,
}).Parse(`
{{- define "summary_short" -}}
Success probability: {{pct .Success}}%.{{with top .Factors 3}} Key factors: {{names .}}.{{end}}
{{- end -}}

{{- define "summary_standard" -}}
Prediction analysis for student {{.StudentID}} in module {{.ModuleID}}. Success probability: {{pct .Success}}%, dropout probability: {{pct .Dropout}}%.
{{- with top .Positive 2}} Positive factors: {{names .}}.{{end}}
{{- with top .Negative 2}} Negative factors: {{names .}}.{{end}}
{{- end -}}

{{- define "summary_detailed" -}}
{{template "summary_standard" .}} Model confidence: {{pct .Confidence}}%. Analysis based on {{len .Factors}} identified factors.
{{- end -}}

{{- define "HIGH_DROPOUT_RISK" -}}
The dropout probability is high ({{pct .Dropout}}%). Immediate action is recommended.
{{- end -}}

{{- define "LOW_SUCCESS_PROBABILITY" -}}
Current factors suggest a low success probability ({{pct .Success}}%).
{{- end -}}

{{- define "NEGATIVE_FACTOR" -}}
This factor lowers the prediction (score: {{printf "%.3f" .Factor.ImportanceScore}}).
{{- end -}}

{{- define "POSITIVE_FACTOR" -}}
Some factors contribute positively to the prediction{{with top .Positive 2}} ({{names .}}){{end}}.
{{- end -}}
`))

func names(factors []explanation.Factor) string {
	out := make([]string, len(factors))
	for i, f := range factors {
		out[i] = f.FeatureName
	}
	return strings.Join(out, ", ")
}

func render(name string, data textData) (string, error) {
	var buf bytes.Buffer
	if err := texts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
