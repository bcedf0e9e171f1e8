package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ReadCSV parses normalized rows from r. The header must name summary, amount
// and timestamp columns; category and ai_enabled are optional. Rows without an
// ai_enabled value use defaultAI.
func ReadCSV(r io.Reader, defaultAI bool) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"summary", "amount", "timestamp"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing %q column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		amount, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimPrefix(field(record, "amount"), "$"), ",", ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid amount %q", line, field(record, "amount"))
		}

		ts, err := parseTimestamp(field(record, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ai := defaultAI
		if raw := field(record, "ai_enabled"); raw != "" {
			if ai, err = strconv.ParseBool(raw); err != nil {
				return nil, fmt.Errorf("line %d: invalid ai_enabled %q", line, raw)
			}
		}

		rows = append(rows, Row{
			Summary:   field(record, "summary"),
			Amount:    amount,
			Timestamp: ts,
			Category:  field(record, "category"),
			AIEnabled: ai,
		})
	}
	return rows, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
