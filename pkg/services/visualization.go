package services

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// Chart types produced by the default renderer.
const (
	ChartBar  = "bar"
	ChartLine = "line"
	ChartPie  = "pie"
)

const defaultMaxChartPoints = 1000

// Renderer turns an execution outcome into something displayable. A failure
// here never fails a run; the orchestrator falls back to TabularFallback.
type Renderer interface {
	Render(ctx context.Context, outcome *models.ExecutionOutcome, question string) (*models.RenderedArtifact, error)
}

// VisualizationConfig controls chart selection.
type VisualizationConfig struct {
	DefaultChartType string
	MaxChartPoints   int
}

type chartRenderer struct {
	cfg    VisualizationConfig
	logger *zap.Logger
}

// NewChartRenderer creates the default renderer. It charts results with one
// label column followed by numeric columns and renders a table otherwise.
func NewChartRenderer(cfg VisualizationConfig, logger *zap.Logger) Renderer {
	if cfg.MaxChartPoints <= 0 {
		cfg.MaxChartPoints = defaultMaxChartPoints
	}
	switch cfg.DefaultChartType {
	case ChartBar, ChartLine, ChartPie:
	default:
		cfg.DefaultChartType = ChartBar
	}
	return &chartRenderer{cfg: cfg, logger: logger.Named("renderer")}
}

var _ Renderer = (*chartRenderer)(nil)

// chartSpec is the JSON markup for chart artifacts.
type chartSpec struct {
	Type   string           `json:"type"`
	Title  string           `json:"title,omitempty"`
	X      string           `json:"x"`
	Y      []string         `json:"y"`
	Points []map[string]any `json:"data"`
}

func (r *chartRenderer) Render(ctx context.Context, outcome *models.ExecutionOutcome, question string) (*models.RenderedArtifact, error) {
	if outcome == nil {
		return nil, fmt.Errorf("no outcome to render")
	}
	chartType, x, ys := r.chooseChart(outcome, question)
	if chartType == "" {
		return renderTable(outcome, false), nil
	}

	markup, err := json.Marshal(chartSpec{
		Type:   chartType,
		Title:  strings.TrimSpace(question),
		X:      x,
		Y:      ys,
		Points: outcome.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return &models.RenderedArtifact{
		Kind:      models.ArtifactChart,
		ChartType: chartType,
		Markup:    string(markup),
	}, nil
}

// chooseChart returns "" when the result is better shown as a table.
func (r *chartRenderer) chooseChart(outcome *models.ExecutionOutcome, question string) (chartType, x string, ys []string) {
	if len(outcome.Columns) < 2 || outcome.RowCount == 0 || outcome.RowCount > r.cfg.MaxChartPoints {
		return "", "", nil
	}
	label := outcome.Columns[0]
	for _, c := range outcome.Columns[1:] {
		if !isNumericColumn(c, outcome.Rows) {
			return "", "", nil
		}
		ys = append(ys, c.Name)
	}

	lowerQ := strings.ToLower(question)
	switch {
	case isTemporalColumn(label, outcome.Rows):
		chartType = ChartLine
	case isNumericColumn(label, outcome.Rows):
		return "", "", nil
	case len(ys) == 1 && (strings.Contains(lowerQ, "share") || strings.Contains(lowerQ, "breakdown") || strings.Contains(lowerQ, "proportion")):
		chartType = ChartPie
	case r.cfg.DefaultChartType == ChartLine:
		chartType = ChartBar
	default:
		chartType = r.cfg.DefaultChartType
	}
	return chartType, label.Name, ys
}

var numericTypeMarkers = []string{"INT", "NUMERIC", "DECIMAL", "FLOAT", "DOUBLE", "REAL", "MONEY", "HUGEINT"}
var temporalTypeMarkers = []string{"DATE", "TIME"}

func isNumericColumn(c models.ColumnInfo, rows []map[string]any) bool {
	if hasMarker(c.Type, numericTypeMarkers) {
		return true
	}
	if c.Type != "" {
		return false
	}
	return allValues(c.Name, rows, func(v any) bool {
		switch v.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
			return true
		}
		return false
	})
}

func isTemporalColumn(c models.ColumnInfo, rows []map[string]any) bool {
	if hasMarker(c.Type, temporalTypeMarkers) {
		return true
	}
	if c.Type != "" {
		return false
	}
	return allValues(c.Name, rows, func(v any) bool {
		_, ok := v.(time.Time)
		return ok
	})
}

func hasMarker(typeName string, markers []string) bool {
	upper := strings.ToUpper(typeName)
	for _, m := range markers {
		if strings.Contains(upper, m) {
			return true
		}
	}
	return false
}

func allValues(col string, rows []map[string]any, pred func(any) bool) bool {
	seen := false
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if !pred(v) {
			return false
		}
		seen = true
	}
	return seen
}

// TabularFallback renders outcome as an HTML table marked Degraded.
func TabularFallback(outcome *models.ExecutionOutcome) *models.RenderedArtifact {
	if outcome == nil {
		outcome = &models.ExecutionOutcome{}
	}
	return renderTable(outcome, true)
}

func renderTable(outcome *models.ExecutionOutcome, degraded bool) *models.RenderedArtifact {
	var sb strings.Builder
	sb.WriteString("<table>\n<thead><tr>")
	for _, c := range outcome.Columns {
		sb.WriteString("<th>" + html.EscapeString(c.Name) + "</th>")
	}
	sb.WriteString("</tr></thead>\n<tbody>\n")
	for _, row := range outcome.Rows {
		sb.WriteString("<tr>")
		for _, c := range outcome.Columns {
			sb.WriteString("<td>" + html.EscapeString(formatCell(row[c.Name])) + "</td>")
		}
		sb.WriteString("</tr>\n")
	}
	sb.WriteString("</tbody>\n</table>")
	return &models.RenderedArtifact{
		Kind:     models.ArtifactTable,
		Markup:   sb.String(),
		Degraded: degraded,
	}
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(time.RFC3339)
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
