package excel

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// rowSeparator joins cell values into a normalized row record.
const rowSeparator = " | "

// ExtractRows returns the normalized row records of src that match at least
// one target code, in source order. A row record is the row's cell values
// joined by " | " and trimmed; empty cells render as empty strings. Rows
// 1..headerRows are skipped.
func ExtractRows(src []byte, codes []string, headerRows int) ([]string, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = wb.Close() }()

	rows, err := wb.GetRows(wb.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	var records []string
	for i := headerRows; i < len(rows); i++ {
		record := strings.TrimSpace(strings.Join(rows[i], rowSeparator))
		for _, code := range codes {
			if strings.Contains(record, code) {
				records = append(records, record)
				break
			}
		}
	}
	return records, nil
}

// SafeFileName derives the deterministic artifact file name from plan fields.
// The customer name keeps only letters, digits, spaces, underscores and
// hyphens with spaces folded to underscores; the BIN keeps only letters and
// digits; label spaces fold to underscores.
func SafeFileName(customer, bin, duration, planType string) string {
	return fmt.Sprintf("%s_%s_%s_%s.xlsx",
		sanitizeName(customer),
		keepAlnum(bin),
		labelPart(duration),
		labelPart(planType),
	)
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

func keepAlnum(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func labelPart(s string) string {
	if s == "" {
		return "Unknown"
	}
	return strings.ReplaceAll(s, " ", "_")
}
