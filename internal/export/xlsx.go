// Package export renders exam results as spreadsheets.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/victornm/examroom/internal/domain"
	"github.com/victornm/examroom/internal/query"
)

const (
	SheetSubmissions = "Submissions"
	SheetAnalysis    = "Analysis"

	// ContentType is the media type of the workbook returned by Results.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Results writes an XLSX workbook with one row per submission and the analysis of the exam.
func Results(e *domain.Exam, a *query.Analysis) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSubmissions); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	if err := writeSubmissions(f, e); err != nil {
		return nil, fmt.Errorf("write submissions: %w", err)
	}

	if _, err := f.NewSheet(SheetAnalysis); err != nil {
		return nil, fmt.Errorf("create analysis sheet: %w", err)
	}

	if err := writeAnalysis(f, a); err != nil {
		return nil, fmt.Errorf("write analysis: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	return buf.Bytes(), nil
}

// Filename suggests a download name for the exam's workbook.
func Filename(e *domain.Exam) string {
	return fmt.Sprintf("exam-%s-results.xlsx", e.ExamCode)
}

func writeSubmissions(f *excelize.File, e *domain.Exam) error {
	header := []any{"Student", "Submitted At", "Score", "Result"}
	for i := range e.Questions {
		header = append(header, fmt.Sprintf("Q%d", i+1))
	}

	rows := [][]any{header}
	for _, s := range e.Submissions {
		result := "Fail"
		if s.Score >= query.PassScore {
			result = "Pass"
		}

		row := []any{s.UserID, s.SubmittedAt.UTC().Format(time.DateTime), s.Score, result}
		for _, ans := range s.Answers {
			row = append(row, answerLabel(ans))
		}
		rows = append(rows, row)
	}

	return writeRows(f, SheetSubmissions, 1, rows)
}

func writeAnalysis(f *excelize.File, a *query.Analysis) error {
	rows := [][]any{
		{"Exam", a.Title},
		{"Participants", a.Participants},
		{"Passed", a.Passed},
		{"Average", a.Average.InexactFloat64()},
		{},
		{"Band", "Students", "Members"},
	}

	for _, b := range a.Bands {
		members := make([]string, 0, len(b.Students))
		for _, m := range b.Students {
			members = append(members, fmt.Sprintf("%s (%d)", m.UserID, m.Score))
		}
		rows = append(rows, []any{b.Label, len(b.Students), strings.Join(members, ", ")})
	}

	rows = append(rows, []any{}, []any{"Question", "Option", "Correct", "Picks"})
	for i, q := range a.Questions {
		for j, o := range q.Options {
			rows = append(rows, []any{questionLabel(i, j, q), o.Text, o.Correct, o.Picks})
		}
		rows = append(rows, []any{"", "(no answer)", false, q.NoAnswer})
	}

	return writeRows(f, SheetAnalysis, 1, rows)
}

func writeRows(f *excelize.File, sheet string, start int, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}

		cell, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return err
		}

		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}

	return nil
}

func questionLabel(i, option int, q query.QuestionStats) string {
	if option > 0 {
		return ""
	}

	return fmt.Sprintf("Q%d. %s", i+1, q.Description)
}

func answerLabel(ans int) string {
	if ans == domain.NoAnswer {
		return "-"
	}

	return strconv.Itoa(ans)
}
