package seriesplot

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// Tabular input is read in two steps: a StringReader splits the raw input
// into lines of fields, then a TableReader assembles those lines into a
// ResultTable (first line headers, the rest rows).

// When Read is called, return an array of strings which are the columns.
type StringReader interface {
	Read(context.Context) ([]string, error)
}

// TableReader yields a whole result table at once.
type TableReader interface {
	ReadTable(context.Context) (ResultTable, error)
}

// This implements a StringReader and reads an io.Reader using the Golang
// csv module. This means the input data must strictly conform to CSV data. If
// the input data is not exactly CSV (for example separated by one or more
// spaces), use the RelaxedStringReader.
type CsvStringReader struct {
	input     io.Reader
	csvReader *csv.Reader

	lineCount int
}

func NewCsvStringReader(input io.Reader) *CsvStringReader {
	csvReader := csv.NewReader(input)
	// Row width is checked against the header by the table reader, which
	// knows which table and row to blame.
	csvReader.FieldsPerRecord = -1

	return &CsvStringReader{
		input:     input,
		csvReader: csvReader,
		lineCount: 0,
	}
}

func (r *CsvStringReader) Read(ctx context.Context) ([]string, error) {
	line, err := r.csvReader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	r.lineCount++

	if err != nil {
		logger := logrus.WithFields(logrus.Fields{
			"tag":     "CsvString",
			"line":    line,
			"lineNum": r.lineCount,
		})

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			logger.WithError(err).Debug("unable to parse CSV")
			return nil, err
		}

		logger.WithError(err).Error("unable to read CSV")
		return nil, err
	}

	return line, nil
}

// This is a more relaxed reader that can split on spaces or commas. However,
// it does not follow strict CSV formatting, so cells cannot contain spaces.
type RelaxedStringReader struct {
	input   io.Reader
	scanner *bufio.Scanner

	lineCount int
}

func NewRelaxedStringReader(input io.Reader) *RelaxedStringReader {
	return &RelaxedStringReader{
		input:   input,
		scanner: bufio.NewScanner(input),

		lineCount: 0,
	}
}

// Split on either comma or any number of spaces or tabs
var relaxedSplitter = regexp.MustCompile("[ \t]+|,")

func (r *RelaxedStringReader) Read(ctx context.Context) ([]string, error) {
	stillHasData := r.scanner.Scan()
	if !stillHasData {
		if err := r.scanner.Err(); err != nil {
			logrus.WithField("tag", "RelaxedString").WithError(err).Error("unable to read line")
			return nil, err
		}
		return nil, io.EOF
	}

	r.lineCount++
	line := r.scanner.Text()

	splittedLine := Filter(relaxedSplitter.Split(line, -1), func(value string) bool {
		return len(value) > 0
	})

	// Blank lines carry no row.
	if len(splittedLine) == 0 {
		return nil, errIgnoreThisRow
	}

	return splittedLine, nil
}

// TextTableReader builds a table from line oriented text. The first line
// read is the header; every following line must be exactly as wide.
type TextTableReader struct {
	// The input reader object (either CsvStringReader or RelaxedStringReader)
	Input StringReader

	// Name given to the resulting table.
	Name string
}

func (r *TextTableReader) ReadTable(ctx context.Context) (ResultTable, error) {
	table := ResultTable{Name: r.Name}

	for {
		if err := ctx.Err(); err != nil {
			return ResultTable{}, err
		}

		line, err := r.Input.Read(ctx)
		if err == errIgnoreThisRow {
			continue
		} else if err == io.EOF {
			break
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			row := len(table.Rows)
			if table.Headers == nil {
				row = -1
			}
			return ResultTable{}, &MalformedTableError{Table: r.Name, Row: row, Reason: parseErr.Error()}
		} else if err != nil {
			return ResultTable{}, err
		}

		if table.Headers == nil {
			table.Headers = trimFields(line)
			continue
		}

		row := make([]Cell, len(line))
		for i, value := range line {
			row[i] = Cell(strings.TrimSpace(value))
		}
		table.Rows = append(table.Rows, row)
	}

	if table.Headers == nil {
		return ResultTable{}, &MalformedTableError{Table: r.Name, Row: -1, Reason: "input has no header line"}
	}

	if err := table.Validate(); err != nil {
		return ResultTable{}, err
	}

	return table, nil
}

// XlsxTableReader reads a table from a worksheet. The first row of the sheet
// is the header.
type XlsxTableReader struct {
	Input io.Reader

	// Worksheet to read. Empty means the first sheet of the workbook.
	Sheet string

	Name string
}

func (r *XlsxTableReader) ReadTable(ctx context.Context) (ResultTable, error) {
	f, err := excelize.OpenReader(r.Input)
	if err != nil {
		return ResultTable{}, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheet := r.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return ResultTable{}, &MalformedTableError{Table: r.Name, Row: -1, Reason: "workbook has no sheets"}
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return ResultTable{}, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"tag":   "XlsxTable",
		"sheet": sheet,
	})

	// Leading blank rows are not part of the table.
	for len(rows) > 0 && len(rows[0]) == 0 {
		rows = rows[1:]
	}

	if len(rows) == 0 {
		return ResultTable{}, &MalformedTableError{Table: r.Name, Row: -1, Reason: fmt.Sprintf("sheet %q is empty", sheet)}
	}

	table := ResultTable{
		Name:    r.Name,
		Headers: trimFields(rows[0]),
	}

	for _, line := range rows[1:] {
		if len(line) == 0 {
			logger.Debug("skipping blank row")
			continue
		}

		// excelize drops trailing empty cells, so short rows are padded back to
		// the header width. The padding parses as gaps.
		width := Max(len(line), len(table.Headers))
		row := make([]Cell, width)
		for i, value := range line {
			row[i] = Cell(strings.TrimSpace(value))
		}
		table.Rows = append(table.Rows, row)
	}

	if err := table.Validate(); err != nil {
		return ResultTable{}, err
	}

	logger.WithField("rows", len(table.Rows)).Debug("read table from sheet")
	return table, nil
}

func trimFields(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.TrimSpace(f)
	}
	return out
}
