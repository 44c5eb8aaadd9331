package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-changepoint/internal/models"
	"github.com/miradorstack/mirador-changepoint/internal/utils"
)

// seriesCSV reads a price table with a header row. Rows whose value cannot be parsed
// are dropped; thousands separators in the value column are accepted.
type seriesCSV struct {
	DateColumn  string
	ValueColumn string
}

// readFile opens path ("-" for stdin) and reads it with Read.
func (s seriesCSV) readFile(path string) (models.TimeSeries, int, error) {
	if path == "" || path == "-" {
		return s.Read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return models.TimeSeries{}, 0, fmt.Errorf("open series: %w", err)
	}
	defer f.Close()
	return s.Read(f)
}

// Read returns the parsed series sorted by date and the number of dropped rows.
func (s seriesCSV) Read(r io.Reader) (models.TimeSeries, int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return models.TimeSeries{}, 0, fmt.Errorf("series file is empty")
		}
		return models.TimeSeries{}, 0, fmt.Errorf("read header: %w", err)
	}
	dateIdx, valueIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case strings.EqualFold(name, s.DateColumn):
			dateIdx = i
		case strings.EqualFold(name, s.ValueColumn):
			valueIdx = i
		}
	}
	if dateIdx < 0 || valueIdx < 0 {
		return models.TimeSeries{}, 0, fmt.Errorf("header must contain %q and %q columns", s.DateColumn, s.ValueColumn)
	}

	var (
		obs     []models.Observation
		dropped int
		line    = 1
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return models.TimeSeries{}, 0, fmt.Errorf("read line %d: %w", line, err)
		}
		if dateIdx >= len(record) || valueIdx >= len(record) {
			dropped++
			continue
		}
		ts, err := utils.ParseTimestamp(record[dateIdx])
		if err != nil {
			return models.TimeSeries{}, 0, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(record[valueIdx]), ",", ""), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			dropped++
			continue
		}
		obs = append(obs, models.Observation{Timestamp: ts, Value: value})
	}

	sort.SliceStable(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })
	series := models.TimeSeries{Observations: obs}
	if err := series.Validate(); err != nil {
		return models.TimeSeries{}, dropped, err
	}
	return series, dropped, nil
}
