package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"fleetwatch/internal/presence"
)

// sortedViews orders a presence snapshot by asset id for stable output.
func sortedViews(views []presence.RecordView) []presence.RecordView {
	out := append([]presence.RecordView(nil), views...)
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// BuildFleetStatusXLSX renders the presence snapshot as a workbook with
// a summary sheet and a per-asset sheet.
func BuildFleetStatusXLSX(views []presence.RecordView, generatedAt time.Time) ([]byte, error) {
	views = sortedViews(views)

	f := excelize.NewFile()
	summarySheet := "summary"
	assetsSheet := "assets"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(assetsSheet)

	online := 0
	delayed := 0
	for _, view := range views {
		if view.Status == presence.StatusOnline {
			online++
		}
		if view.HasDelayedReports {
			delayed++
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Fleet Presence Report")
	_ = f.SetCellValue(summarySheet, "A3", "Generated")
	_ = f.SetCellValue(summarySheet, "B3", generatedAt.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Assets Tracked")
	_ = f.SetCellValue(summarySheet, "B4", len(views))
	_ = f.SetCellValue(summarySheet, "A5", "Online")
	_ = f.SetCellValue(summarySheet, "B5", online)
	_ = f.SetCellValue(summarySheet, "A6", "Offline")
	_ = f.SetCellValue(summarySheet, "B6", len(views)-online)
	_ = f.SetCellValue(summarySheet, "A7", "With Delayed Reports")
	_ = f.SetCellValue(summarySheet, "B7", delayed)

	headers := []string{"Asset", "Status", "Last Seen", "Events", "Delayed Reports", "Latitude", "Longitude"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(assetsSheet, cell, header)
	}
	for i, view := range views {
		row := i + 2
		_ = f.SetCellValue(assetsSheet, fmt.Sprintf("A%d", row), view.AssetID)
		_ = f.SetCellValue(assetsSheet, fmt.Sprintf("B%d", row), string(view.Status))
		_ = f.SetCellValue(assetsSheet, fmt.Sprintf("C%d", row), view.LastSeen.Format(time.RFC3339))
		_ = f.SetCellValue(assetsSheet, fmt.Sprintf("D%d", row), view.EventCount)
		_ = f.SetCellValue(assetsSheet, fmt.Sprintf("E%d", row), view.HasDelayedReports)
		if view.LastKnownLocation != nil {
			_ = f.SetCellValue(assetsSheet, fmt.Sprintf("F%d", row), view.LastKnownLocation.Latitude)
			_ = f.SetCellValue(assetsSheet, fmt.Sprintf("G%d", row), view.LastKnownLocation.Longitude)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildFleetStatusPDF renders the presence snapshot as a PDF table.
func BuildFleetStatusPDF(views []presence.RecordView, generatedAt time.Time) ([]byte, error) {
	views = sortedViews(views)

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Fleet Presence Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Assets Tracked: %d", len(views)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Asset", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Last Seen", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Events", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Delayed", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, view := range views {
		delayed := "no"
		if view.HasDelayedReports {
			delayed = "yes"
		}
		pdf.CellFormat(50, 6, view.AssetID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, string(view.Status), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, view.LastSeen.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%d", view.EventCount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, delayed, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
