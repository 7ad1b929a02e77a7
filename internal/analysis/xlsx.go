package analysis

import (
	"fmt"
	"io"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	framesSheet  = "Frames"
	summarySheet = "Summary"
)

// timelineHeader 帧明细表头
var timelineHeader = []string{
	"#",
	"Frame",
	"Time",
	"Timestamp (s)",
	"Status",
	"Alert Level",
	"Humans",
	"Submerged",
	"Max Confidence",
	"Max Water Ratio",
	"Message",
	"Original",
	"YOLO Output",
	"U-Net Output",
}

var timelineColumnWidths = []float64{6, 10, 10, 14, 12, 12, 10, 12, 16, 16, 50, 40, 40, 40}

// WriteTimelineXLSX 导出时间轴为 Excel（Frames + Summary 两个工作表）
func WriteTimelineXLSX(w io.Writer, tl Timeline) error {
	f := excelize.NewFile()
	defer f.Close()

	// 默认工作表改名为帧明细
	if err := f.SetSheetName("Sheet1", framesSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	criticalStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#C00000"},
	})
	if err != nil {
		return fmt.Errorf("failed to create critical style: %w", err)
	}

	if err := f.SetSheetRow(framesSheet, "A1", &timelineHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(timelineHeader))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(framesSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	for i, width := range timelineColumnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(framesSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for i, e := range tl.Entries {
		row := i + 2 // 第 1 行为表头
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		values := []interface{}{
			e.Index + 1,
			e.FrameNumber,
			e.Label,
			e.TimestampSeconds,
			string(e.Status),
			string(e.AlertLevel),
			e.HumanCount,
			e.SubmergedCount,
			e.MaxConfidence,
			e.MaxWaterRatio,
			e.Message,
			e.OriginalURL,
			e.YoloURL,
			e.UnetURL,
		}
		if err := f.SetSheetRow(framesSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		if e.Status == models.StatusCritical {
			if err := f.SetCellStyle(framesSheet, fmt.Sprintf("E%d", row), fmt.Sprintf("F%d", row), criticalStyle); err != nil {
				return fmt.Errorf("failed to set row style: %w", err)
			}
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	s := tl.Summary
	summary := [][]interface{}{
		{"Video ID", s.VideoID},
		{"Overall Status", string(s.OverallStatus)},
		{"Overall Message", s.OverallMessage},
		{"Duration", s.DurationLabel},
		{"Frames Processed", s.FramesProcessed},
		{"Total Humans", s.TotalHumans},
		{"Total Submerged", s.TotalSubmerged},
		{"Safe Frames", s.StatusCounts[models.StatusSafe]},
		{"Warning Frames", s.StatusCounts[models.StatusWarning]},
		{"Critical Frames", s.StatusCounts[models.StatusCritical]},
		{"First Critical", s.FirstCriticalLabel},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	if err := f.SetColWidth(summarySheet, "A", "A", 20); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(summarySheet, "B", "B", 60); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
