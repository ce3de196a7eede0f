package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query value to a format. Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatCSV, FormatTSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json; charset=utf-8"
	}
}

// Filename suggests an attachment name for the summary.
func Filename(s CourseSummary, f Format) string {
	return fmt.Sprintf("attendance_%s_%s.%s", s.Course.Code, s.GeneratedAt.Format("20060102"), f)
}

var summaryHeader = []string{"student_id", "name", "email", "sessions", "present", "late", "absent", "percentage"}

func summaryRow(st StudentSummary) []string {
	return []string{
		st.StudentID,
		st.Name,
		st.Email,
		strconv.Itoa(st.Sessions),
		strconv.Itoa(st.Present),
		strconv.Itoa(st.Late),
		strconv.Itoa(st.Absent),
		strconv.FormatFloat(st.Percentage, 'f', 1, 64),
	}
}

// WriteDelimited writes one row per student, separated by comma or tab.
func WriteDelimited(w io.Writer, s CourseSummary, f Format) error {
	cw := csv.NewWriter(w)
	if f == FormatTSV {
		cw.Comma = '\t'
	}
	if err := cw.Write(summaryHeader); err != nil {
		return err
	}
	for _, st := range s.Students {
		if err := cw.Write(summaryRow(st)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

const (
	summarySheet  = "Summary"
	sessionsSheet = "Sessions"
)

// WriteXLSX writes a workbook with a per-student sheet and a per-session sheet.
func WriteXLSX(w io.Writer, s CourseSummary) error {
	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(summarySheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(idx)
	if _, err := f.NewSheet(sessionsSheet); err != nil {
		return err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	title := fmt.Sprintf("%s %s (generated %s UTC)", s.Course.Code, s.Course.Title, s.GeneratedAt.Format("2006-01-02 15:04"))
	if err := f.SetCellValue(summarySheet, "A1", title); err != nil {
		return err
	}
	if err := writeRow(f, summarySheet, 2, toAny(summaryHeader)); err != nil {
		return err
	}
	for i, st := range s.Students {
		row := []any{st.StudentID, st.Name, st.Email, st.Sessions, st.Present, st.Late, st.Absent, st.Percentage}
		if err := writeRow(f, summarySheet, i+3, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(summarySheet, "A2", "H2", headerStyle); err != nil {
		return err
	}
	_ = f.SetColWidth(summarySheet, "A", "C", 24)

	sessionHeader := []any{"session_id", "date", "start", "end", "state", "present", "late", "absent"}
	if err := writeRow(f, sessionsSheet, 1, sessionHeader); err != nil {
		return err
	}
	for i, line := range s.Sessions {
		row := []any{line.SessionID, line.SessionDate, line.StartTime, line.EndTime, string(line.Lifecycle), line.Present, line.Late, line.Absent}
		if err := writeRow(f, sessionsSheet, i+2, row); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sessionsSheet, "A1", "H1", headerStyle); err != nil {
		return err
	}
	_ = f.SetColWidth(sessionsSheet, "A", "A", 38)

	return f.Write(w)
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
