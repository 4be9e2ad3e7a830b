// Package history loads the daily resource series the forecasting pipeline trains on.
package history

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

// RequiredColumns must all be present in the CSV header, in any order.
var RequiredColumns = []string{"date", "beds", "icu", "oxygen", "er_visits", "occupancy_rate", "temp", "humidity", "holiday"}

// CSVFile reads the canonical historical dataset from disk on every Load so a retrain
// always sees the current file.
type CSVFile struct {
	Path string
}

func (f CSVFile) Load(ctx context.Context) ([]forecast.Record, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", forecast.ErrDataUnavailable, f.Path)
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer file.Close()
	return ReadCSV(ctx, file)
}

// ReadCSV parses a history table and returns its rows sorted by date. An empty table
// is ErrDataUnavailable; duplicate dates are rejected.
func ReadCSV(ctx context.Context, r io.Reader) ([]forecast.Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty history file", forecast.ErrDataUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	var missing []string
	for _, c := range RequiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("history file missing columns: %s", strings.Join(missing, ", "))
	}

	var records []forecast.Record
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: history file has no rows", forecast.ErrDataUnavailable)
	}
	return SortAndCheck(records)
}

// SortAndCheck orders records by date and rejects duplicate days.
func SortAndCheck(records []forecast.Record) ([]forecast.Record, error) {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })
	for i := 1; i < len(records); i++ {
		if records[i].Date.Equal(records[i-1].Date) {
			return nil, fmt.Errorf("duplicate date %s", records[i].Date.Format("2006-01-02"))
		}
	}
	return records, nil
}

func parseRow(row []string, idx map[string]int) (forecast.Record, error) {
	get := func(col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	num := func(col string) (float64, error) {
		v, err := strconv.ParseFloat(get(col), 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", col, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("column %s: non-finite value %q", col, get(col))
		}
		return v, nil
	}

	var rec forecast.Record
	date, err := parseDate(get("date"))
	if err != nil {
		return rec, err
	}
	rec.Date = date

	targets := []struct {
		col string
		dst *float64
	}{
		{"beds", &rec.Beds},
		{"icu", &rec.ICU},
		{"oxygen", &rec.Oxygen},
		{"er_visits", &rec.ERVisits},
		{"occupancy_rate", &rec.OccupancyRate},
		{"temp", &rec.Temp},
		{"humidity", &rec.Humidity},
	}
	for _, t := range targets {
		if *t.dst, err = num(t.col); err != nil {
			return rec, err
		}
	}
	if rec.Holiday, err = ParseHoliday(get("holiday")); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return forecast.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("column date: cannot parse %q", s)
}

// ParseHoliday accepts 0/1, true/false and yes/no.
func ParseHoliday(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "1.0", "true", "yes", "y":
		return true, nil
	case "0", "0.0", "false", "no", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("column holiday: cannot parse %q", s)
}
