// Package export renders a hub's topology as a workbook or a PDF report.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	topology "smarthub-telemetry/internal/topology/domain"
)

// Report is the topology of one hub at a point in time.
type Report struct {
	HubID       string
	GeneratedAt time.Time
	Sensors     []topology.Sensor
	Scenarios   []topology.Scenario
}

// Source reads hub topology.
type Source interface {
	topology.SensorLister
	topology.ScenarioReader
}

// Collect loads the report of hubID.
func Collect(ctx context.Context, src Source, hubID string, now time.Time) (Report, error) {
	if src == nil {
		return Report{}, errors.New("export: nil source")
	}
	if hubID == "" {
		return Report{}, errors.New("export: empty hub id")
	}
	sensors, err := src.ListSensors(ctx, hubID)
	if err != nil {
		return Report{}, fmt.Errorf("export: list sensors: %w", err)
	}
	scenarios, err := src.ListScenarios(ctx, hubID)
	if err != nil {
		return Report{}, fmt.Errorf("export: list scenarios: %w", err)
	}
	return Report{HubID: hubID, GeneratedAt: now.UTC(), Sensors: sensors, Scenarios: scenarios}, nil
}

// BuildXLSX renders the report with one sheet each for sensors, conditions
// and actions.
func BuildXLSX(report Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const (
		sensorsSheet    = "sensors"
		conditionsSheet = "conditions"
		actionsSheet    = "actions"
	)
	if err := f.SetSheetName("Sheet1", sensorsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(conditionsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(actionsSheet); err != nil {
		return nil, err
	}

	rows := map[string][][]any{
		sensorsSheet:    {{"Hub", "Sensor", "Device type"}},
		conditionsSheet: {{"Scenario", "Sensor", "Type", "Operation", "Value"}},
		actionsSheet:    {{"Scenario", "Sensor", "Type", "Value"}},
	}
	for _, s := range report.Sensors {
		rows[sensorsSheet] = append(rows[sensorsSheet], []any{s.HubID, s.ID, s.DeviceType})
	}
	for _, sc := range report.Scenarios {
		for _, c := range sc.Conditions {
			rows[conditionsSheet] = append(rows[conditionsSheet], []any{sc.Name, c.SensorID, string(c.Type), string(c.Operator), valueCell(c.Value)})
		}
		for _, a := range sc.Actions {
			rows[actionsSheet] = append(rows[actionsSheet], []any{sc.Name, a.SensorID, string(a.Type), a.ValueOrZero()})
		}
	}
	for sheet, sheetRows := range rows {
		for i, row := range sheetRows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildPDF renders the report as a printable summary.
func BuildPDF(report Report) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Hub Topology")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Hub: %s", report.HubID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", report.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Sensors: %d  Scenarios: %d", len(report.Sensors), len(report.Scenarios)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(60, 6, "Sensor", "1", 0, "C", false, 0, "")
	pdf.CellFormat(60, 6, "Device type", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, s := range report.Sensors {
		pdf.CellFormat(60, 6, s.ID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(60, 6, s.DeviceType, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	for _, sc := range report.Scenarios {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, fmt.Sprintf("Scenario %s", sc.Name))
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 10)
		if len(sc.Conditions) == 0 {
			pdf.Cell(0, 6, "no conditions, never fires")
			pdf.Ln(5)
		}
		for _, c := range sc.Conditions {
			pdf.Cell(0, 6, fmt.Sprintf("if %s %s %s %s", c.SensorID, c.Type, c.Operator, valueText(c.Value)))
			pdf.Ln(5)
		}
		for _, a := range sc.Actions {
			pdf.Cell(0, 6, fmt.Sprintf("then %s %s %d", a.SensorID, a.Type, a.ValueOrZero()))
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Build renders the report in format, "xlsx" or "pdf".
func Build(report Report, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "xlsx":
		return BuildXLSX(report)
	case "pdf":
		return BuildPDF(report)
	default:
		return nil, fmt.Errorf("export: unsupported format %q", format)
	}
}

func valueCell(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func valueText(v *int) string {
	if v == nil {
		return "(none)"
	}
	return strconv.Itoa(*v)
}
