// Package ingest imports uploaded bank statement files into the
// transaction ledger, skipping lines that duplicate already-imported
// transactions.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"
)

// StatementLine is one parsed row of an uploaded statement CSV.
type StatementLine struct {
	Date        time.Time
	Description string
	Amount      *big.Rat
	Category    string
	Notes       string
	LineNo      int
}

// AmountFloat returns the line amount as a float64.
func (l StatementLine) AmountFloat() float64 {
	f, _ := l.Amount.Float64()
	return f
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "01/02/2006", "02 Jan 2006"}

// ParseCSV reads a statement export with a header row. Required columns are
// date, description and amount; category and notes are optional. Column
// order is taken from the header, case-insensitively. Rows that cannot be
// parsed abort the import: a statement is either imported whole or not at
// all.
func ParseCSV(r io.Reader) ([]StatementLine, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("ParseCSV: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("ParseCSV: reading header: %w", err)
	}

	columns := map[string]int{}
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"date", "description", "amount"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("ParseCSV: missing required column %q", required)
		}
	}

	var lines []StatementLine
	lineNo := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ParseCSV: reading line %d: %w", lineNo+1, err)
		}
		lineNo++

		line, err := parseLine(record, columns, lineNo)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	if len(lines) == 0 {
		return nil, fmt.Errorf("ParseCSV: no transaction rows found")
	}
	return lines, nil
}

func parseLine(record []string, columns map[string]int, lineNo int) (StatementLine, error) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	date, err := parseDate(field("date"))
	if err != nil {
		return StatementLine{}, fmt.Errorf("ParseCSV: line %d: %w", lineNo, err)
	}

	description := field("description")
	if description == "" {
		return StatementLine{}, fmt.Errorf("ParseCSV: line %d: empty description", lineNo)
	}

	amount, err := parseAmount(field("amount"))
	if err != nil {
		return StatementLine{}, fmt.Errorf("ParseCSV: line %d: %w", lineNo, err)
	}

	return StatementLine{
		Date:        date,
		Description: description,
		Amount:      amount,
		Category:    field("category"),
		Notes:       field("notes"),
		LineNo:      lineNo,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseAmount(s string) (*big.Rat, error) {
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	cleaned := strings.NewReplacer(",", "", "£", "", "$", "", "€", "").Replace(s)
	r, ok := new(big.Rat).SetString(cleaned)
	if !ok {
		return nil, fmt.Errorf("unparseable amount %q", s)
	}
	return r, nil
}
