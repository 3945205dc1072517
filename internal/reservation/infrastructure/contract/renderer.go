// Package contract renders rental contracts as plain-text documents.
package contract

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"rentlane/internal/reservation/domain"
)

const contentType = "text/plain; charset=utf-8"

var contractTemplate = template.Must(template.New("contract").Funcs(template.FuncMap{
	"date":  func(t time.Time) string { return t.Format(time.DateOnly) },
	"stamp": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(`VEHICLE RENTAL AGREEMENT{{ if ne .Watermark "ACTIVE" }} [{{ .Watermark }}]{{ end }}

Reservation: {{ .ReservationID }}
Vehicle:     {{ .VehicleID }}
Owner:       {{ .OwnerID }}
Tenant:      {{ .TenantID }}

Period:      {{ date .StartDate }} to {{ date .EndDate }} ({{ .Days }} days)
Daily rate:  {{ .DailyRate.StringFixed 2 }} {{ .Currency }}
Rental:      {{ .BaseAmount.StringFixed 2 }} {{ .Currency }}
Service fee: {{ .Commission.StringFixed 2 }} {{ .Currency }}
Total:       {{ .TenantTotal.StringFixed 2 }} {{ .Currency }}

Generated {{ stamp .GeneratedAt }}
`))

// Renderer implements domain.ContractRenderer.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) Generate(ctx context.Context, data domain.ContractData) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := contractTemplate.Execute(&buf, data); err != nil {
		return nil, "", fmt.Errorf("execute contract template: %w", err)
	}
	return buf.Bytes(), contentType, nil
}

var _ domain.ContractRenderer = (*Renderer)(nil)
