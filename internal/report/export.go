// Package report implements the report exporter (SPEC_FULL.md component N):
// it assembles a per-run summary from meta.json/free.json/mismatch records
// and renders it as text, CSV, or a styled XLSX workbook. Grounded on the
// teacher's excelize-based exporter (header styling, frozen panes, a
// metadata sheet) but rebuilt around this crawler's own run summary instead
// of the teacher's ad hoc SEO report catalog.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/blockcrawl/crawler/internal/state"
)

// Format selects the rendered output shape.
type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Document is the assembled run summary ready for rendering.
type Document struct {
	Host            string
	StartURL        string
	TotalDisplayed  int
	TotalActual     int
	FreePagesTotal  int
	FreeBlocksTotal int
	StartTime       time.Time
	EndTime         time.Time
	DurationMS      int64
	IsComplete      bool

	FreePages       []string
	FreeBlocksByURL map[string][]string
	Mismatches      []state.Mismatch
}

// Build assembles a Document from the persisted per-site state records.
func Build(host string, meta *state.SiteMeta, free *state.FreeRecord, mismatches *state.MismatchRecord) Document {
	doc := Document{
		Host:            host,
		StartURL:        meta.StartURL,
		TotalDisplayed:  meta.TotalDisplayed,
		TotalActual:     meta.TotalActual,
		FreePagesTotal:  meta.FreePagesTotal,
		FreeBlocksTotal: meta.FreeBlocksTotal,
		StartTime:       meta.StartTime,
		EndTime:         meta.EndTime,
		DurationMS:      meta.DurationMS,
		IsComplete:      meta.IsComplete,
	}
	if free != nil {
		doc.FreePages = free.Pages()
		doc.FreeBlocksByURL = free.BlocksByPage()
	}
	if mismatches != nil {
		doc.Mismatches = mismatches.Entries()
	}
	return doc
}

// Write renders doc to path in the given format.
func Write(doc Document, format Format, path string) error {
	switch format {
	case FormatText:
		return writeText(doc, path)
	case FormatCSV:
		return writeCSV(doc, path)
	case FormatXLSX:
		return writeXLSX(doc, path)
	default:
		return fmt.Errorf("report: unsupported format %q", format)
	}
}

func writeText(doc Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	fmt.Fprintf(f, "Crawl report for %s\n", doc.Host)
	fmt.Fprintf(f, "start url:       %s\n", doc.StartURL)
	fmt.Fprintf(f, "displayed links: %d\n", doc.TotalDisplayed)
	fmt.Fprintf(f, "actual blocks:   %d\n", doc.TotalActual)
	fmt.Fprintf(f, "free pages:      %d\n", doc.FreePagesTotal)
	fmt.Fprintf(f, "free blocks:     %d\n", doc.FreeBlocksTotal)
	fmt.Fprintf(f, "complete:        %t\n", doc.IsComplete)
	fmt.Fprintf(f, "duration:        %dms\n", doc.DurationMS)

	if len(doc.Mismatches) > 0 {
		fmt.Fprintf(f, "\nblock count mismatches:\n")
		for _, m := range doc.Mismatches {
			fmt.Fprintf(f, "  %s: expected %d, found %d\n", m.PagePath, m.Expected, m.Actual)
		}
	}
	if len(doc.FreePages) > 0 {
		fmt.Fprintf(f, "\nfree pages:\n")
		for _, p := range doc.FreePages {
			fmt.Fprintf(f, "  %s\n", p)
		}
	}
	return nil
}

func writeCSV(doc Document, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	_ = w.Write([]string{"host", "startUrl", "totalDisplayed", "totalActual", "freePages", "freeBlocks", "isComplete", "durationMs"})
	_ = w.Write([]string{
		doc.Host, doc.StartURL,
		fmt.Sprintf("%d", doc.TotalDisplayed), fmt.Sprintf("%d", doc.TotalActual),
		fmt.Sprintf("%d", doc.FreePagesTotal), fmt.Sprintf("%d", doc.FreeBlocksTotal),
		fmt.Sprintf("%t", doc.IsComplete), fmt.Sprintf("%d", doc.DurationMS),
	})

	if len(doc.Mismatches) > 0 {
		_ = w.Write(nil)
		_ = w.Write([]string{"page", "expected", "actual"})
		for _, m := range doc.Mismatches {
			_ = w.Write([]string{m.PagePath, fmt.Sprintf("%d", m.Expected), fmt.Sprintf("%d", m.Actual)})
		}
	}
	return nil
}

func writeXLSX(doc Document, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	f.SetSheetName("Sheet1", summarySheet)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"00C853"}},
	})

	summaryRows := [][]any{
		{"Host", doc.Host},
		{"Start URL", doc.StartURL},
		{"Total Displayed", doc.TotalDisplayed},
		{"Total Actual", doc.TotalActual},
		{"Free Pages", doc.FreePagesTotal},
		{"Free Blocks", doc.FreeBlocksTotal},
		{"Complete", doc.IsComplete},
		{"Duration (ms)", doc.DurationMS},
	}
	for i, row := range summaryRows {
		f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row[0])
		f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row[1])
	}
	f.SetCellStyle(summarySheet, "A1", "A8", headerStyle)
	f.SetColWidth(summarySheet, "A", "A", 20)
	f.SetColWidth(summarySheet, "B", "B", 50)

	if len(doc.Mismatches) > 0 {
		const sheet = "Mismatches"
		f.NewSheet(sheet)
		f.SetCellValue(sheet, "A1", "Page")
		f.SetCellValue(sheet, "B1", "Expected")
		f.SetCellValue(sheet, "C1", "Actual")
		f.SetCellStyle(sheet, "A1", "C1", headerStyle)
		for i, m := range doc.Mismatches {
			row := i + 2
			f.SetCellValue(sheet, fmt.Sprintf("A%d", row), m.PagePath)
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), m.Expected)
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), m.Actual)
		}
		f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}

	if len(doc.FreePages) > 0 {
		const sheet = "FreePages"
		f.NewSheet(sheet)
		f.SetCellValue(sheet, "A1", "Page")
		f.SetCellStyle(sheet, "A1", "A1", headerStyle)
		for i, p := range doc.FreePages {
			f.SetCellValue(sheet, fmt.Sprintf("A%d", i+2), p)
		}
	}

	f.SetActiveSheet(0)
	return f.SaveAs(path)
}
