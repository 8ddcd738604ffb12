package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlens/backend/internal/api/response"
	"github.com/ledgerlens/backend/internal/gateway"
)

// ResourceHandler serves the gated reporting endpoints. The interesting work
// happens in the gateway middleware in front of these; the handlers read the
// admission decision from context and serve representative payloads.
type ResourceHandler struct{}

// NewResourceHandler creates a new resource handler
func NewResourceHandler() *ResourceHandler {
	return &ResourceHandler{}
}

// Report is a financial report summary
type Report struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Period    string    `json:"period"`
	CreatedAt time.Time `json:"created_at"`
}

var sampleReports = []Report{
	{ID: "rpt_q2_balance", Name: "Q2 Balance Sheet", Period: "2026-Q2"},
	{ID: "rpt_q2_income", Name: "Q2 Income Statement", Period: "2026-Q2"},
	{ID: "rpt_q2_cashflow", Name: "Q2 Cash Flow", Period: "2026-Q2"},
}

// ListReports handles GET /api/v1/reports
func (h *ResourceHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	reports := make([]Report, len(sampleReports))
	copy(reports, sampleReports)

	payload := map[string]interface{}{
		"reports": reports,
	}
	if d, ok := gateway.DecisionFromContext(r.Context()); ok {
		payload["tier"] = d.Tier
	}

	response.Success(w, payload)
}

// CreateReportRequest is the body for POST /api/v1/reports
type CreateReportRequest struct {
	Name   string `json:"name"`
	Period string `json:"period"`
}

// CreateReport handles POST /api/v1/reports
func (h *ResourceHandler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req CreateReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Name == "" {
		response.BadRequest(w, "Report name is required")
		return
	}

	report := Report{
		ID:        "rpt_" + uuid.New().String(),
		Name:      req.Name,
		Period:    req.Period,
		CreatedAt: time.Now().UTC(),
	}

	response.Created(w, report)
}

// ExportReports handles POST /api/v1/reports/export. Streams a CSV of the
// caller's reports.
func (h *ResourceHandler) ExportReports(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString("id,name,period\n")
	for _, rpt := range sampleReports {
		fmt.Fprintf(&b, "%s,%s,%s\n", rpt.ID, rpt.Name, rpt.Period)
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="reports.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(b.String()))
}

// Valuation is a portfolio valuation line
type Valuation struct {
	Portfolio string  `json:"portfolio"`
	Currency  string  `json:"currency"`
	Value     float64 `json:"value"`
	AsOf      string  `json:"as_of"`
}

// ListValuations handles GET /api/v1/valuations
func (h *ResourceHandler) ListValuations(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC().Format("2006-01-02")
	response.Success(w, []Valuation{
		{Portfolio: "growth", Currency: "USD", Value: 1284503.22, AsOf: asOf},
		{Portfolio: "income", Currency: "USD", Value: 410221.87, AsOf: asOf},
	})
}
