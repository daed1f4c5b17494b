package excel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
)

const testCode = "801019.000.000010"

// buildWorkbook produces an xlsx fixture with headerRows filler header rows
// followed by the given data rows. The header carries a bold title in A1, a
// merged A1:C1 range and a widened B column so style preservation can be
// asserted on the filtered output.
func buildWorkbook(t *testing.T, headerRows int, data [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)

	title := []any{"План закупок товаров, работ и услуг", "", ""}
	if err := f.SetSheetRow(sheet, "A1", &title); err != nil {
		t.Fatalf("set title row: %v", err)
	}
	for r := 2; r <= headerRows; r++ {
		row := []any{fmt.Sprintf("шапка %d", r)}
		cell, _ := excelize.CoordinatesToCellName(1, r)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set header row %d: %v", r, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		t.Fatalf("new style: %v", err)
	}
	if err := f.SetCellStyle(sheet, "A1", "A1", bold); err != nil {
		t.Fatalf("set style: %v", err)
	}
	if err := f.MergeCell(sheet, "A1", "C1"); err != nil {
		t.Fatalf("merge cells: %v", err)
	}
	if err := f.SetColWidth(sheet, "B", "B", 42); err != nil {
		t.Fatalf("set col width: %v", err)
	}

	for i, row := range data {
		cell, _ := excelize.CoordinatesToCellName(1, headerRows+1+i)
		vals := row
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			t.Fatalf("set data row %d: %v", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func filteredRows(t *testing.T, f *excelize.File) [][]string {
	t.Helper()
	rows, err := f.GetRows(OutputSheet)
	if err != nil {
		t.Fatalf("read filtered rows: %v", err)
	}
	return rows
}

func TestFilterKeepsOnlyMatchingRows(t *testing.T) {
	// 10 header rows and 3 data rows; only source row 12 carries the code.
	src := buildWorkbook(t, 10, [][]any{
		{"1", "Канцелярские товары", "101010.000.000001"},
		{"2", "Услуги информационной безопасности", testCode},
		{"3", "Мебель офисная", "361111.000.000002"},
	})

	f, err := Filter(src, []string{testCode}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows := filteredRows(t, f)
	if len(rows) != 11 {
		t.Fatalf("row count = %d, want 11 (10 header + 1 data)", len(rows))
	}

	want := []string{"2", "Услуги информационной безопасности", testCode}
	if diff := cmp.Diff(want, rows[10]); diff != "" {
		t.Errorf("data row mismatch (-want +got):\n%s", diff)
	}
	if rows[0][0] != "План закупок товаров, работ и услуг" {
		t.Errorf("header title = %q", rows[0][0])
	}
}

func TestFilterNoMatch(t *testing.T) {
	src := buildWorkbook(t, 10, [][]any{
		{"1", "Канцелярские товары", "101010.000.000001"},
	})

	f, err := Filter(src, []string{testCode}, 10)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch", err)
	}
	if f != nil {
		t.Error("file should be nil when no rows match")
	}
}

func TestFilterHeaderOnlySheetNotProduced(t *testing.T) {
	// A sheet with no data rows at all is "not produced", same as no match.
	src := buildWorkbook(t, 10, nil)

	if _, err := Filter(src, []string{testCode}, 10); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("error = %v, want ErrNoMatch", err)
	}
}

func TestFilterRowMatchingTwoCodesCopiedOnce(t *testing.T) {
	second := "801020.000.000011"
	src := buildWorkbook(t, 10, [][]any{
		{"1", testCode, second},
	})

	f, err := Filter(src, []string{testCode, second}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = f.Close() }()

	if rows := filteredRows(t, f); len(rows) != 11 {
		t.Errorf("row count = %d, want 11", len(rows))
	}
}

func TestFilterPreservesHeaderStyling(t *testing.T) {
	src := buildWorkbook(t, 10, [][]any{
		{"1", "x", testCode},
	})

	f, err := Filter(src, []string{testCode}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = f.Close() }()

	styleID, err := f.GetCellStyle(OutputSheet, "A1")
	if err != nil {
		t.Fatalf("get cell style: %v", err)
	}
	style, err := f.GetStyle(styleID)
	if err != nil {
		t.Fatalf("get style: %v", err)
	}
	if style.Font == nil || !style.Font.Bold {
		t.Error("A1 bold font not preserved")
	}

	merges, err := f.GetMergeCells(OutputSheet)
	if err != nil {
		t.Fatalf("get merge cells: %v", err)
	}
	if len(merges) != 1 || merges[0].GetStartAxis() != "A1" || merges[0].GetEndAxis() != "C1" {
		t.Errorf("merged ranges = %v, want [A1:C1]", merges)
	}

	width, err := f.GetColWidth(OutputSheet, "B")
	if err != nil {
		t.Fatalf("get col width: %v", err)
	}
	if width != 42 {
		t.Errorf("column B width = %v, want 42", width)
	}
}

func TestFilterRenumbersContiguously(t *testing.T) {
	src := buildWorkbook(t, 10, [][]any{
		{"1", "no match"},
		{"2", testCode},
		{"3", "no match"},
		{"4", testCode},
	})

	f, err := Filter(src, []string{testCode}, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = f.Close() }()

	rows := filteredRows(t, f)
	if len(rows) != 12 {
		t.Fatalf("row count = %d, want 12", len(rows))
	}
	if rows[10][0] != "2" || rows[11][0] != "4" {
		t.Errorf("data rows = %v, %v; want source order preserved", rows[10], rows[11])
	}
}

func TestFilterIdempotent(t *testing.T) {
	src := buildWorkbook(t, 10, [][]any{
		{"1", "x", testCode},
		{"2", "y", "no match"},
		{"3", "z", testCode},
	})
	codes := []string{testCode}

	first, err := Filter(src, codes, 10)
	if err != nil {
		t.Fatalf("first filter: %v", err)
	}
	firstBuf, err := first.WriteToBuffer()
	if err != nil {
		t.Fatalf("encode first: %v", err)
	}
	_ = first.Close()

	// Filtering the already-filtered artifact changes nothing.
	second, err := Filter(firstBuf.Bytes(), codes, 10)
	if err != nil {
		t.Fatalf("second filter: %v", err)
	}
	secondBuf, err := second.WriteToBuffer()
	if err != nil {
		t.Fatalf("encode second: %v", err)
	}
	_ = second.Close()

	firstRows, err := ExtractRows(firstBuf.Bytes(), codes, 10)
	if err != nil {
		t.Fatalf("extract first: %v", err)
	}
	secondRows, err := ExtractRows(secondBuf.Bytes(), codes, 10)
	if err != nil {
		t.Fatalf("extract second: %v", err)
	}
	if diff := cmp.Diff(firstRows, secondRows); diff != "" {
		t.Errorf("matching-row sets differ (-first +second):\n%s", diff)
	}
}

func TestFilterMalformedWorkbook(t *testing.T) {
	if _, err := Filter([]byte("not a workbook"), []string{testCode}, 10); err == nil {
		t.Fatal("expected error, got nil")
	}
}
