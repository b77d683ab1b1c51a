package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// RegisterRow is one line of a template's certificate register
type RegisterRow struct {
	SerialNumber  string
	UniqueCode    string
	RecipientName string
	Institution   string
	TeamName      string
	Status        string
	IssuedAt      *time.Time
}

var registerColumns = []string{"No.", "Serial Number", "Unique Code", "Recipient", "Institution", "Team", "Status", "Issued At"}

// RegisterOptions configures register export
type RegisterOptions struct {
	SheetName    string
	FreezeHeader bool
	AutoFilter   bool
	HeaderFill   string
	HeaderFont   string
	DateFormat   string
}

// DefaultRegisterOptions returns default register options
func DefaultRegisterOptions() RegisterOptions {
	return RegisterOptions{
		SheetName:    "Register",
		FreezeHeader: true,
		AutoFilter:   true,
		HeaderFill:   "4472C4",
		HeaderFont:   "FFFFFF",
		DateFormat:   "yyyy-mm-dd hh:mm",
	}
}

// RegisterExporter writes certificate registers as XLSX workbooks
type RegisterExporter struct {
	options RegisterOptions
}

func NewRegisterExporter(options RegisterOptions) *RegisterExporter {
	defaults := DefaultRegisterOptions()
	if options.SheetName == "" {
		options.SheetName = defaults.SheetName
	}
	if options.HeaderFill == "" {
		options.HeaderFill = defaults.HeaderFill
	}
	if options.HeaderFont == "" {
		options.HeaderFont = defaults.HeaderFont
	}
	if options.DateFormat == "" {
		options.DateFormat = defaults.DateFormat
	}
	return &RegisterExporter{options: options}
}

// Write renders title and rows into a workbook and writes it to w
func (e *RegisterExporter) Write(w io.Writer, title string, rows []RegisterRow) error {
	file := excelize.NewFile()
	defer file.Close()

	sheet := e.options.SheetName
	if err := file.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if title != "" {
		if err := file.SetDocProps(&excelize.DocProperties{Title: title, Creator: "portal-backend"}); err != nil {
			return fmt.Errorf("failed to set document properties: %w", err)
		}
	}

	headerStyle, err := file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: e.options.HeaderFont},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{e.options.HeaderFill}},
		Alignment: &excelize.Alignment{Horizontal: "center"},
		Border:    borders(),
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	dataStyle, err := file.NewStyle(&excelize.Style{Border: borders()})
	if err != nil {
		return fmt.Errorf("failed to create data style: %w", err)
	}
	dateFormat := e.options.DateFormat
	dateStyle, err := file.NewStyle(&excelize.Style{Border: borders(), CustomNumFmt: &dateFormat})
	if err != nil {
		return fmt.Errorf("failed to create date style: %w", err)
	}

	for i, col := range registerColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := file.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(registerColumns), 1)
	if err := file.SetCellStyle(sheet, "A1", lastHeader, headerStyle); err != nil {
		return err
	}

	widths := make([]float64, len(registerColumns))
	for i, col := range registerColumns {
		widths[i] = estimateWidth(col)
	}

	for i, row := range rows {
		values := []interface{}{
			i + 1, row.SerialNumber, row.UniqueCode, row.RecipientName,
			row.Institution, row.TeamName, row.Status, "",
		}
		if row.IssuedAt != nil && !row.IssuedAt.IsZero() {
			values[7] = *row.IssuedAt
		}

		start, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := file.SetSheetRow(sheet, start, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
		end, _ := excelize.CoordinatesToCellName(len(registerColumns)-1, i+2)
		if err := file.SetCellStyle(sheet, start, end, dataStyle); err != nil {
			return err
		}
		dateCell, _ := excelize.CoordinatesToCellName(len(registerColumns), i+2)
		if err := file.SetCellStyle(sheet, dateCell, dateCell, dateStyle); err != nil {
			return err
		}

		for c, v := range values {
			if width := estimateWidth(v); width > widths[c] {
				widths[c] = width
			}
		}
	}

	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		// Min width 8, max width 50
		if width < 8 {
			width = 8
		}
		if width > 50 {
			width = 50
		}
		if err := file.SetColWidth(sheet, col, col, width); err != nil {
			return err
		}
	}

	if e.options.FreezeHeader {
		if err := file.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			return err
		}
	}
	if e.options.AutoFilter && len(rows) > 0 {
		if err := file.AutoFilter(sheet, "A1:"+lastHeader, nil); err != nil {
			return err
		}
	}

	return file.Write(w)
}

func borders() []excelize.Border {
	return []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
}

func estimateWidth(val interface{}) float64 {
	if t, ok := val.(time.Time); ok {
		return float64(len(t.Format("2006-01-02 15:04"))) * 1.2
	}
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
