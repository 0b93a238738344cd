package notification

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	subjectEscalationFmt   = "Offer escalated for review (%s)"
	subjectStageFailureFmt = "Pipeline stage %s failed"
)

type baseAlertData struct {
	Title   string
	Heading string
}

type escalationAlertData struct {
	baseAlertData
	OfferID         string
	Reason          string
	Message         string
	AmountFormatted string
	Category        string
	OccurredAt      string
}

type stageFailureAlertData struct {
	baseAlertData
	OfferID    string
	Stage      string
	Error      string
	OccurredAt string
}

func renderAlertTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse alert template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "alert", data); err != nil {
		return "", fmt.Errorf("execute alert template %s: %w", name, err)
	}
	return buf.String(), nil
}

func formatCurrencyUSD(amount float64) string {
	return fmt.Sprintf("$%.2f", amount)
}
