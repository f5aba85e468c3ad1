package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"tenant-lifecycle/backend/pkg/models"
)

const auditSheet = "Audit Log"

// AuditExportHeader is the header row of the audit log workbook.
var AuditExportHeader = []string{
	"Created At",
	"Action",
	"Previous Status",
	"New Status",
	"Performed By",
	"Reason",
	"Scheduled At",
	"Metadata",
	"Entry ID",
}

var auditColumnWidths = []float64{22, 18, 16, 16, 28, 32, 22, 60, 38}

// GenerateAuditLogExport renders entries as an xlsx workbook, one row per
// entry in log order.
func GenerateAuditLogExport(tenant *models.Tenant, entries []*models.LifecycleAuditEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(auditSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range AuditExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(auditSheet, cell, header); err != nil {
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(auditSheet, cell, cell, headerStyle); err != nil {
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(auditSheet, name, name, auditColumnWidths[col]); err != nil {
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, e := range entries {
		metadata, err := models.EncodeMetadata(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata of entry %s: %w", e.ID, err)
		}
		row := []any{
			e.CreatedAt.UTC().Format(time.RFC3339),
			string(e.Action),
			statusCell(e.PreviousStatus),
			statusCell(e.NewStatus),
			e.PerformedBy,
			stringCell(e.Reason),
			timeCell(e.ScheduledAt),
			compactJSON(metadata),
			e.ID,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(auditSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(auditSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("failed to freeze header: %w", err)
	}
	if tenant != nil {
		if err := f.SetDocProps(&excelize.DocProperties{
			Title:   "Lifecycle audit log",
			Subject: tenant.ID,
		}); err != nil {
			return nil, fmt.Errorf("failed to set document properties: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func statusCell(s *models.TenantStatus) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

func stringCell(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeCell(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func compactJSON(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
