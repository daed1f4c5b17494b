// Package excel implements spreadsheet filtering by TRU codes: a filtered
// workbook keeps the header block verbatim plus only the data rows that
// mention at least one target code.
package excel

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrNoMatch is returned by Filter when no data row matches any target
// code. It is distinct from an artifact that contains only header rows.
var ErrNoMatch = errors.New("no rows match target codes")

// OutputSheet is the sheet name of produced artifacts.
const OutputSheet = "Filtered"

// Filter builds a new workbook from the first sheet of src: rows 1..headerRows
// are copied unconditionally with cell styling, merged ranges confined to the
// header block, and column widths; data rows are copied (renumbered
// contiguously) only when at least one cell contains one of the target codes.
// A row matching several codes is copied once; source order is preserved.
// The caller owns the returned file and must Close it.
func Filter(src []byte, codes []string, headerRows int) (*excelize.File, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = wb.Close() }()

	sheet := wb.GetSheetName(0)
	rows, err := wb.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	out := excelize.NewFile()
	if err := out.SetSheetName(out.GetSheetName(0), OutputSheet); err != nil {
		_ = out.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	cp := &copier{src: wb, dst: out, sheet: sheet, cols: maxColumns(rows), styles: map[int]int{}}

	for r := 1; r <= headerRows && r <= len(rows); r++ {
		if err := cp.copyRow(r, r); err != nil {
			_ = out.Close()
			return nil, err
		}
	}
	if err := cp.copyHeaderMerges(headerRows); err != nil {
		_ = out.Close()
		return nil, err
	}
	if err := cp.copyColWidths(); err != nil {
		_ = out.Close()
		return nil, err
	}

	insert := headerRows + 1
	for r := headerRows + 1; r <= len(rows); r++ {
		if !rowMatches(rows[r-1], codes) {
			continue
		}
		if err := cp.copyRow(r, insert); err != nil {
			_ = out.Close()
			return nil, err
		}
		insert++
	}

	if insert == headerRows+1 {
		_ = out.Close()
		return nil, ErrNoMatch
	}
	return out, nil
}

// rowMatches reports whether any cell of the row contains any target code.
// Missing cells render as empty strings and never match.
func rowMatches(cells []string, codes []string) bool {
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		for _, code := range codes {
			if strings.Contains(cell, code) {
				return true
			}
		}
	}
	return false
}

func maxColumns(rows [][]string) int {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	return cols
}

// copier copies cells between two workbooks, translating style identifiers
// (style IDs are only meaningful within the file that defined them).
type copier struct {
	src    *excelize.File
	dst    *excelize.File
	sheet  string
	cols   int
	styles map[int]int
}

func (c *copier) copyRow(srcRow, dstRow int) error {
	for col := 1; col <= c.cols; col++ {
		if err := c.copyCell(col, srcRow, dstRow); err != nil {
			return err
		}
	}
	return nil
}

func (c *copier) copyCell(col, srcRow, dstRow int) error {
	from, err := excelize.CoordinatesToCellName(col, srcRow)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	to, err := excelize.CoordinatesToCellName(col, dstRow)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}

	raw, err := c.src.GetCellValue(c.sheet, from, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("read cell %s: %w", from, err)
	}
	if raw != "" {
		if err := c.setValue(from, to, raw); err != nil {
			return err
		}
	}

	styleID, err := c.src.GetCellStyle(c.sheet, from)
	if err != nil {
		return fmt.Errorf("read style %s: %w", from, err)
	}
	if styleID == 0 {
		return nil
	}
	dstStyle, err := c.translateStyle(styleID)
	if err != nil {
		return err
	}
	if err := c.dst.SetCellStyle(OutputSheet, to, to, dstStyle); err != nil {
		return fmt.Errorf("set style %s: %w", to, err)
	}
	return nil
}

// setValue writes a source cell value preserving numeric and boolean types;
// everything else is written as a string.
func (c *copier) setValue(from, to, raw string) error {
	typ, err := c.src.GetCellType(c.sheet, from)
	if err != nil {
		return fmt.Errorf("cell type %s: %w", from, err)
	}

	switch typ {
	case excelize.CellTypeBool:
		err = c.dst.SetCellBool(OutputSheet, to, raw == "1")
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		if f, perr := strconv.ParseFloat(raw, 64); perr == nil {
			err = c.dst.SetCellValue(OutputSheet, to, f)
		} else {
			err = c.dst.SetCellStr(OutputSheet, to, raw)
		}
	default:
		err = c.dst.SetCellStr(OutputSheet, to, raw)
	}
	if err != nil {
		return fmt.Errorf("set cell %s: %w", to, err)
	}
	return nil
}

func (c *copier) translateStyle(srcID int) (int, error) {
	if id, ok := c.styles[srcID]; ok {
		return id, nil
	}
	style, err := c.src.GetStyle(srcID)
	if err != nil {
		return 0, fmt.Errorf("get style %d: %w", srcID, err)
	}
	id, err := c.dst.NewStyle(style)
	if err != nil {
		return 0, fmt.Errorf("new style: %w", err)
	}
	c.styles[srcID] = id
	return id, nil
}

// copyHeaderMerges replicates merged ranges that lie entirely within the
// header block.
func (c *copier) copyHeaderMerges(headerRows int) error {
	merges, err := c.src.GetMergeCells(c.sheet)
	if err != nil {
		return fmt.Errorf("read merged cells: %w", err)
	}
	for _, m := range merges {
		_, endRow, err := excelize.CellNameToCoordinates(m.GetEndAxis())
		if err != nil {
			return fmt.Errorf("merge range: %w", err)
		}
		if endRow > headerRows {
			continue
		}
		if err := c.dst.MergeCell(OutputSheet, m.GetStartAxis(), m.GetEndAxis()); err != nil {
			return fmt.Errorf("merge cells: %w", err)
		}
	}
	return nil
}

func (c *copier) copyColWidths() error {
	for col := 1; col <= c.cols; col++ {
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		width, err := c.src.GetColWidth(c.sheet, name)
		if err != nil {
			return fmt.Errorf("column width %s: %w", name, err)
		}
		if err := c.dst.SetColWidth(OutputSheet, name, name, width); err != nil {
			return fmt.Errorf("set column width %s: %w", name, err)
		}
	}
	return nil
}
